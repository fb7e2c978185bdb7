package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var newPINHex string

var changePINCmd = &cobra.Command{
	Use:   "change-pin",
	Short: "Replace the card PIN",
	Long: `Authenticate with the current PIN (--pin or prompt), then write the new
PIN given with --new.`,
	Args: cobra.NoArgs,
	RunE: runChangePIN,
}

func init() {
	rootCmd.AddCommand(changePINCmd)
	changePINCmd.Flags().StringVar(&newPINHex, "new", "", "new PIN in hex")
	changePINCmd.MarkFlagRequired("new")
}

func runChangePIN(cmd *cobra.Command, args []string) error {
	newPIN, err := parseHex(newPINHex)
	if err != nil {
		return err
	}

	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	if err := authenticate(cmd, s); err != nil {
		return err
	}
	if err := s.Driver.ChangePIN(newPIN); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PIN changed to % X\n", newPIN)
	return nil
}
