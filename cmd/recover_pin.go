package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/pin"
)

var recoverVerify bool

var recoverPINCmd = &cobra.Command{
	Use:   "recover-pin",
	Short: "Recover the card PIN",
	Long: `Recover the PIN without knowing it.

SLE4442/5542: the PIN is read back from the security memory.
SLE4428/5528: the PIN is brute forced, one byte at a time (at most 511
presentations). Ctrl-C stops the search between two presentations.`,
	Args: cobra.NoArgs,
	RunE: runRecoverPIN,
}

func init() {
	rootCmd.AddCommand(recoverPINCmd)
	recoverPINCmd.Flags().BoolVar(&recoverVerify, "verify", false, "authenticate with the recovered PIN")
}

func runRecoverPIN(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	engine := pin.NewEngine(s.log)
	engine.Progress = func(probe int, code []byte, sw apdu.StatusWord) {
		if probe%32 == 0 {
			s.log.Info("brute force progress", "probes", probe, "pin", apdu.FormatHex(code))
		}
	}

	found, err := engine.Recover(ctx, s.Driver)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PIN: % X\n", found)

	if recoverVerify {
		if err := s.Driver.Authenticate(found); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "PIN verified")
	}
	return nil
}
