package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wikilift/sle-suite-pro/pkg/card"
)

var protectionCmd = &cobra.Command{
	Use:   "protection",
	Short: "Show the write protected addresses",
	Args:  cobra.NoArgs,
	RunE:  runProtection,
}

func init() {
	rootCmd.AddCommand(protectionCmd)
}

func runProtection(cmd *cobra.Command, args []string) error {
	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	bitmap, err := s.Driver.ProtectionBitmap()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Protection bits: %d covered, %d protected, %d free\n", len(bitmap), bitmap.Count(), bitmap.Free())
	for _, run := range card.Coalesce(bitmap.Addresses()) {
		if run.Len == 1 {
			fmt.Fprintf(out, "  %04X\n", run.Start)
			continue
		}
		fmt.Fprintf(out, "  %04X-%04X (%d bytes)\n", run.Start, run.End()-1, run.Len)
	}
	return nil
}
