package cmd

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/tap"
)

var idcodeMaxDevices int

var idcodeCmd = &cobra.Command{
	Use:   "idcode",
	Short: "Reset the scan chain and read device IDCODEs",
	Long: `Force the TAP into Test-Logic-Reset, which loads the IDCODE
instruction on compliant devices, then shift the data register and decode
one 32-bit IDCODE per device until the chain runs out.`,
	RunE: runIDCode,
}

func init() {
	rootCmd.AddCommand(idcodeCmd)
	idcodeCmd.Flags().IntVar(&idcodeMaxDevices, "max-devices", 8,
		"upper bound on chain length")
}

func runIDCode(cmd *cobra.Command, args []string) error {
	d, err := openSession()
	if err != nil {
		return err
	}
	defer d.Close()

	in := make([]byte, 4*idcodeMaxDevices)
	err = d.Execute(
		ftdi.StateMove{EndState: tap.StateTestLogicReset},
		ftdi.Scan{
			Fields:   []ftdi.ScanField{{In: in, Bits: 8 * len(in)}},
			EndState: tap.StateRunTestIdle,
		},
	)
	if err != nil {
		return err
	}

	found := 0
	for i := 0; i < idcodeMaxDevices; i++ {
		id := idcode.Parse(binary.LittleEndian.Uint32(in[4*i:]))
		if !id.Valid() {
			break
		}
		fmt.Printf("TAP %d: %s\n", i, id)
		found++
	}
	if found == 0 {
		fmt.Println("no devices found")
	}
	return nil
}
