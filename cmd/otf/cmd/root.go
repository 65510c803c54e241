package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/layout"
)

var (
	// Global flags
	layoutFile string
	verbose    bool
	speedHz    int
	useSWD     bool
)

var rootCmd = &cobra.Command{
	Use:   "otf",
	Short: "FTDI MPSSE JTAG/SWD adapter tool",
	Long: `Drive FTDI MPSSE based debug adapters: named GPIO signals, JTAG
register scans and SWD transactions, configured by an adapter layout script.

Examples:
  otf --layout olimex.cfg list-devs            # Enumerate matching adapters
  otf --layout olimex.cfg idcode               # Reset the chain, read IDCODEs
  otf --layout olimex.cfg signal set nSRST 0   # Drive a layout signal
  otf layout check olimex.cfg                  # Validate a layout script`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&layoutFile, "layout", "l", "",
		"adapter layout script")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().IntVarP(&speedHz, "speed", "s", 1_000_000,
		"TCK/SWCLK frequency in Hz")
	rootCmd.PersistentFlags().BoolVar(&useSWD, "swd", false,
		"use the SWD wire protocol instead of JTAG")
}

// loadLayout parses the script named by --layout.
func loadLayout() (*layout.Layout, error) {
	if layoutFile == "" {
		return nil, fmt.Errorf("no adapter layout: use --layout <file>")
	}
	p, err := layout.NewParser()
	if err != nil {
		return nil, err
	}
	return p.ParseFile(layoutFile)
}

// buildConfig turns the layout plus global flags into an adapter config.
func buildConfig() (ftdi.Config, error) {
	l, err := loadLayout()
	if err != nil {
		return ftdi.Config{}, err
	}
	cfg := ftdi.Config{SpeedHz: speedHz, SWD: useSWD}
	if err := l.Apply(&cfg); err != nil {
		return ftdi.Config{}, err
	}
	return cfg, nil
}

// openSession opens the adapter described by the layout and flags.
func openSession() (*ftdi.Driver, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	return ftdi.Open(cfg)
}
