package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wikilift/sle-suite-pro/pkg/chipdata"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Decode the chip data block and the security memory",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	mem, err := s.Driver.ReadAll()
	if err != nil {
		return err
	}
	meta, err := chipdata.Decode(mem)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, meta.Describe())

	sm, err := s.Driver.ReadSecurityMemory()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== SECURITY MEMORY ===")
	fmt.Fprintf(out, "    - Error counter: %02X (%d attempts left)\n", sm.Counter, sm.RemainingAttempts())
	if sm.PINVisible() {
		fmt.Fprintf(out, "    - PSC: % X\n", sm.PIN)
	} else {
		fmt.Fprintln(out, "    - PSC: hidden")
	}
	return nil
}
