package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	writeAddr    string
	writeHex     string
	writeFile    string
	writeProtect bool
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write bytes to the card memory",
	Long: `Authenticate, then write the bytes given with --hex or read from --file
at --addr. With --protect the written bytes are also write protected.

Examples:
  slesuite write --addr 0x40 --hex "48 45 4C 4C 4F" --pin FFFFFF
  slesuite write --addr 32 --file payload.bin`,
	Args: cobra.NoArgs,
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	writeCmd.Flags().StringVar(&writeAddr, "addr", "", "start address (decimal or 0x hex)")
	writeCmd.Flags().StringVar(&writeHex, "hex", "", "data to write, in hex")
	writeCmd.Flags().StringVar(&writeFile, "file", "", "file holding the data to write")
	writeCmd.Flags().BoolVar(&writeProtect, "protect", false, "protect the written bytes")
	writeCmd.MarkFlagRequired("addr")
	writeCmd.MarkFlagsMutuallyExclusive("hex", "file")
	writeCmd.MarkFlagsOneRequired("hex", "file")
}

// writeProtector is implemented by drivers that write and protect in one cycle.
type writeProtector interface {
	WriteAndProtect(addr int, data []byte) error
}

func runWrite(cmd *cobra.Command, args []string) error {
	addr, err := parseAddr(writeAddr)
	if err != nil {
		return err
	}

	var data []byte
	if writeFile != "" {
		data, err = os.ReadFile(writeFile)
	} else {
		data, err = parseHex(writeHex)
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("nothing to write")
	}

	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	if err := authenticate(cmd, s); err != nil {
		return err
	}

	if wp, ok := s.Driver.(writeProtector); ok && writeProtect {
		err = wp.WriteAndProtect(addr, data)
	} else {
		err = s.Driver.WriteBytes(addr, data)
		if err == nil && writeProtect {
			err = s.Driver.SetProtectionBits(span(addr, len(data)))
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d bytes written at %04X\n", len(data), addr)
	return nil
}

func span(addr, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = addr + i
	}
	return out
}
