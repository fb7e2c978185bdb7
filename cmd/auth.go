package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Present the PIN and check it",
	Long: `Present the PIN to the card. A wrong PIN burns one attempt of the
error counter: SLE4442 cards lock after 3 failures, SLE4428 cards after 8.`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	if err := authenticate(cmd, s); err != nil {
		return err
	}

	sm, err := s.Driver.ReadSecurityMemory()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PIN accepted (%d attempts left)\n", sm.RemainingAttempts())
	return nil
}
