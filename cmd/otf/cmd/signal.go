package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/ftdi"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Drive, read or list the layout's named signals",
}

var signalSetCmd = &cobra.Command{
	Use:   "set <name> <0|1|z>",
	Short: "Drive a signal to a level",
	Args:  cobra.ExactArgs(2),
	RunE:  runSignalSet,
}

var signalGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Read a signal's input bits",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignalGet,
}

var signalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the signals the layout defines",
	RunE:  runSignalList,
}

func init() {
	rootCmd.AddCommand(signalCmd)
	signalCmd.AddCommand(signalSetCmd, signalGetCmd, signalListCmd)
}

func runSignalSet(cmd *cobra.Command, args []string) error {
	level, err := ftdi.ParseLevel(args[1])
	if err != nil {
		return err
	}
	d, err := openSession()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.SetSignal(args[0], level); err != nil {
		return err
	}
	return d.Flush()
}

func runSignalGet(cmd *cobra.Command, args []string) error {
	d, err := openSession()
	if err != nil {
		return err
	}
	defer d.Close()

	v, err := d.GetSignal(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s = %#06x\n", args[0], v)
	return nil
}

func runSignalList(cmd *cobra.Command, args []string) error {
	l, err := loadLayout()
	if err != nil {
		return err
	}
	for _, s := range l.Signals {
		if s.Alias != "" {
			fmt.Printf("%-12s alias of %s (invert %v)\n", s.Name, s.Alias, s.AliasInvert)
			continue
		}
		fmt.Printf("%-12s data %#06x input %#06x oe %#06x\n",
			s.Name, s.DataMask, s.InputMask, s.OEMask)
	}
	return nil
}
