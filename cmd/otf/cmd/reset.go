package cmd

import (
	"github.com/spf13/cobra"
)

var (
	resetTRST int
	resetSRST int
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drive the adapter's reset lines",
	Long: `Drive the nTRST/nSRST layout signals. Each line takes 1 to assert,
0 to deassert or -1 to leave it untouched.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().IntVar(&resetTRST, "trst", -1, "TAP reset line")
	resetCmd.Flags().IntVar(&resetSRST, "srst", -1, "system reset line")
}

func runReset(cmd *cobra.Command, args []string) error {
	d, err := openSession()
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Reset(resetTRST, resetSRST)
}
