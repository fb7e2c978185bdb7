package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Identify the card family",
	Long: `Identify the card family from the ATR, probing the card when the ATR
is not conclusive. Unknown cards are reported with the fallback family.`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	source := "detected"
	if !s.Detected {
		source = "forced or fallback"
	}

	f := s.Family()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ATR:      %s\n", apdu.FormatHex(s.ATR))
	fmt.Fprintf(out, "Family:   %s (%s)\n", f, source)
	fmt.Fprintf(out, "Protocol: %s\n", f.Wire())
	fmt.Fprintf(out, "Memory:   %d bytes\n", f.MemorySize())
	fmt.Fprintf(out, "PIN:      %d bytes\n", f.PINLength())
	return nil
}
