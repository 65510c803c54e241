package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/layout"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Work with adapter layout scripts",
}

var layoutCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Parse a layout script and dump what it configures",
	Args:  cobra.ExactArgs(1),
	RunE:  runLayoutCheck,
}

func init() {
	rootCmd.AddCommand(layoutCmd)
	layoutCmd.AddCommand(layoutCheckCmd)
}

func runLayoutCheck(cmd *cobra.Command, args []string) error {
	p, err := layout.NewParser()
	if err != nil {
		return err
	}
	l, err := p.ParseFile(args[0])
	if err != nil {
		return err
	}

	// Flattening the signal list surfaces alias errors here rather than
	// at open time.
	var cfg ftdi.Config
	if err := l.Apply(&cfg); err != nil {
		return err
	}

	fmt.Printf("description:  %q\n", l.Description)
	if l.Serial != "" {
		fmt.Printf("serial:       %q\n", l.Serial)
	}
	fmt.Printf("channel:      %d\n", l.Channel)
	for _, vp := range l.VIDPIDs {
		fmt.Printf("vid/pid:      %04x:%04x\n", vp[0], vp[1])
	}
	fmt.Printf("gpio init:    output %#06x direction %#06x\n",
		l.OutputInit, l.DirectionInit)
	edge := "rising"
	if l.SampleEdge == ftdi.FallingEdge {
		edge = "falling"
	}
	fmt.Printf("sample edge:  %s\n", edge)
	if l.SWDEnable != "" {
		fmt.Printf("swd enable:   %s\n", l.SWDEnable)
	}
	for _, s := range cfg.Signals {
		fmt.Printf("signal:       %-12s data %#06x input %#06x oe %#06x\n",
			s.Name, s.DataMask, s.InputMask, s.OEMask)
	}
	return nil
}
