package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/mpsse"
)

var listDevsCmd = &cobra.Command{
	Use:   "list-devs",
	Short: "Enumerate attached adapters matching the layout",
	RunE:  runListDevs,
}

func init() {
	rootCmd.AddCommand(listDevsCmd)
}

// Stock FTDI identifiers, used when no layout narrows the search.
var defaultVIDPIDs = [][2]uint16{
	{0x0403, 0x6010}, // FT2232
	{0x0403, 0x6011}, // FT4232
	{0x0403, 0x6014}, // FT232H
}

func runListDevs(cmd *cobra.Command, args []string) error {
	vidpids := defaultVIDPIDs
	if layoutFile != "" {
		l, err := loadLayout()
		if err != nil {
			return err
		}
		if len(l.VIDPIDs) > 0 {
			vidpids = l.VIDPIDs
		}
	}

	devs, err := mpsse.ListDevices(mpsse.OpenConfig{VIDPIDs: vidpids})
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Println("no matching devices")
		return nil
	}
	for _, d := range devs {
		fmt.Println(d)
	}
	return nil
}
