package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/bitbuf"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/ftdi"
	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/tap"
)

var scanIRCmd = &cobra.Command{
	Use:   "scan-ir <hexbits> <nbits>",
	Short: "Shift the instruction register",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(true, args)
	},
}

var scanDRCmd = &cobra.Command{
	Use:   "scan-dr <hexbits> <nbits>",
	Short: "Shift the data register",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(false, args)
	},
}

func init() {
	rootCmd.AddCommand(scanIRCmd, scanDRCmd)
}

// parseScanArgs decodes "<hexbits> <nbits>" into an LSB-first out buffer.
// The hex string is big-endian in the usual reading order; the lowest bit
// of its last byte shifts out first.
func parseScanArgs(args []string) ([]byte, int, error) {
	raw, err := hex.DecodeString(args[0])
	if err != nil {
		return nil, 0, fmt.Errorf("bad hex pattern %q: %w", args[0], err)
	}
	bits, err := strconv.Atoi(args[1])
	if err != nil || bits <= 0 {
		return nil, 0, fmt.Errorf("bad bit count %q", args[1])
	}
	if bits > 8*len(raw) {
		return nil, 0, fmt.Errorf("%d bits exceeds the %d-byte pattern", bits, len(raw))
	}
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[len(raw)-1-i] = b
	}
	return out, bits, nil
}

func runScan(ir bool, args []string) error {
	out, bits, err := parseScanArgs(args)
	if err != nil {
		return err
	}
	d, err := openSession()
	if err != nil {
		return err
	}
	defer d.Close()

	in := make([]byte, bitbuf.Bytes(bits))
	err = d.Execute(ftdi.Scan{
		IR:       ir,
		Fields:   []ftdi.ScanField{{Out: out, In: in, Bits: bits}},
		EndState: tap.StateRunTestIdle,
	})
	if err != nil {
		return err
	}

	// Print captured bits MSB-first, mirroring the input convention.
	display := make([]byte, len(in))
	for i, b := range in {
		display[len(in)-1-i] = b
	}
	fmt.Printf("%x\n", display)
	return nil
}
