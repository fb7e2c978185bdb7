package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

var readOutput string

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Dump the card memory",
	Long: `Read the whole main memory. Without --output the memory is printed as
a hex dump; with it, the raw image is written to the file.`,
	Args: cobra.NoArgs,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().StringVarP(&readOutput, "output", "o", "", "write the raw image to this file")
}

func runRead(cmd *cobra.Command, args []string) error {
	s, err := openCard(cmd)
	if err != nil {
		return err
	}
	defer finish(cmd, s)

	mem, err := s.Driver.ReadAll()
	if err != nil {
		return err
	}

	if readOutput == "" {
		hexDump(cmd.OutOrStdout(), mem)
		return nil
	}

	f, err := os.Create(readOutput)
	if err != nil {
		return err
	}
	if err := s.Driver.ExportImage(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d bytes written to %s\n", len(mem), readOutput)
	return nil
}

// hexDump prints 16 bytes per line: address, hex bytes, printable ASCII.
func hexDump(w io.Writer, mem []byte) {
	for addr := 0; addr < len(mem); addr += 16 {
		line := mem[addr:min(addr+16, len(mem))]
		fmt.Fprintf(w, "%04X  % X  |%s|\n", addr, line, tlv.MakeSafeASCII(line))
	}
}
