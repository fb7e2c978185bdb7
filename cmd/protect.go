package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var protectAddrs []string

var protectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Write protect bytes (irreversible)",
	Long: `Burn the protection bit of every address given with --addr. The
current content of each byte is compared by the card. On a 2-wire card a
single address must still be erased (FF); give several addresses to protect
written bytes. Protection cannot be undone.

Examples:
  slesuite protect --addr 0 --addr 1 --addr 2 --pin FFFFFF
  slesuite protect --addr 0x10,0x11`,
	Args: cobra.NoArgs,
	RunE: runProtect,
}

func init() {
	rootCmd.AddCommand(protectCmd)
	protectCmd.Flags().StringSliceVar(&protectAddrs, "addr", nil, "address to protect (repeatable)")
	protectCmd.MarkFlagRequired("addr")
}

func runProtect(cmd *cobra.Command, args []string) error {
	addrs := make([]int, 0, len(protectAddrs))
	for _, a := range protectAddrs {
		v, err := parseAddr(a)
		if err != nil {
			return err
		}
		addrs = append(addrs, v)
	}

	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	if err := authenticate(cmd, s); err != nil {
		return err
	}

	if len(addrs) == 1 {
		err = s.Driver.ProtectByte(addrs[0])
	} else {
		err = s.Driver.SetProtectionBits(addrs)
	}
	if err != nil {
		return err
	}

	bitmap, err := s.Driver.ProtectionBitmap()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d addresses protected\n", bitmap.Count())
	return nil
}
