package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wikilift/sle-suite-pro/pkg/pcsc"
)

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List PC/SC readers",
	Args:  cobra.NoArgs,
	RunE:  runReaders,
}

func init() {
	rootCmd.AddCommand(readersCmd)
}

func runReaders(cmd *cobra.Command, args []string) error {
	readers, err := pcsc.Readers()
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		return pcsc.ErrNoReaders
	}

	preferred, _ := pcsc.SelectReader(readers, pcsc.Selector{})
	out := cmd.OutOrStdout()
	for i, r := range readers {
		mark := " "
		if r == preferred {
			mark = "*"
		}
		fmt.Fprintf(out, "%s [%d] %s\n", mark, i, r)
	}
	return nil
}
