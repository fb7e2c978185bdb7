package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

// resetFlags restores every flag of the command tree to its default so runs
// do not leak into each other.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "none.yaml")))

	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsE2E(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "detect 2-wire",
			args:        []string{"detect", "--reader", "sim:sle4442"},
			wantContain: []string{"ATR:      3B 04 A2 13 10 91", "Family:   SLE4442 (detected)", "Memory:   256 bytes"},
		},
		{
			name:        "detect 3-wire",
			args:        []string{"detect", "--reader", "sim:sle4428"},
			wantContain: []string{"Family:   SLE4428 (detected)", "Protocol: 3-wire", "PIN:      2 bytes"},
		},
		{
			name:        "detect forced",
			args:        []string{"detect", "--reader", "sim:sle4442", "--family", "sle5542"},
			wantContain: []string{"Family:   SLE5542 (forced or fallback)"},
		},
		{
			name:        "read dump",
			args:        []string{"read", "--reader", "sim:sle4442"},
			wantContain: []string{"0000  FF FF FF FF", "00F0  FF FF"},
		},
		{
			name:        "auth",
			args:        []string{"auth", "--reader", "sim:sle4442", "--pin", "FFFFFF"},
			wantContain: []string{"PIN accepted (3 attempts left)"},
		},
		{
			name:    "auth wrong PIN",
			args:    []string{"auth", "--reader", "sim:sle4442", "--pin", "000000"},
			wantErr: true,
		},
		{
			name:        "auth 3-wire",
			args:        []string{"auth", "--reader", "sim:sle4428", "--sim-pin", "1234", "--pin", "1234"},
			wantContain: []string{"PIN accepted (8 attempts left)"},
		},
		{
			name:        "write",
			args:        []string{"write", "--reader", "sim:sle4442", "--addr", "0x40", "--hex", "DE AD", "--pin", "FFFFFF"},
			wantContain: []string{"2 bytes written at 0040"},
		},
		{
			name:        "write and protect 3-wire",
			args:        []string{"write", "--reader", "sim:sle4428", "--addr", "0x300", "--hex", "01 02", "--protect", "--pin", "FFFF"},
			wantContain: []string{"2 bytes written at 0300"},
		},
		{
			name:    "write not authenticated",
			args:    []string{"write", "--reader", "sim:sle4442", "--addr", "0", "--hex", "00", "--pin", "123456"},
			wantErr: true,
		},
		{
			name:        "protect",
			args:        []string{"protect", "--reader", "sim:sle4442", "--addr", "1,2,3", "--pin", "FFFFFF"},
			wantContain: []string{"3 addresses protected"},
		},
		{
			name:        "protect single erased byte",
			args:        []string{"protect", "--reader", "sim:sle4442", "--addr", "7", "--pin", "FFFFFF"},
			wantContain: []string{"1 addresses protected"},
		},
		{
			name:        "protect 3-wire",
			args:        []string{"protect", "--reader", "sim:sle4428", "--addr", "0x10,0x11", "--pin", "FFFF"},
			wantContain: []string{"2 addresses protected"},
		},
		{
			name:        "protection",
			args:        []string{"protection", "--reader", "sim:sle4442"},
			wantContain: []string{"Protection bits: 32 covered, 0 protected, 32 free"},
		},
		{
			name:        "change PIN",
			args:        []string{"change-pin", "--reader", "sim:sle4428", "--pin", "FFFF", "--new", "4321"},
			wantContain: []string{"PIN changed to 43 21"},
		},
		{
			name:        "recover 3-wire",
			args:        []string{"recover-pin", "--reader", "sim:sle4428", "--sim-pin", "5AA5", "--verify"},
			wantContain: []string{"PIN: 5A A5", "PIN verified"},
		},
		{
			name:    "recover 2-wire hidden",
			args:    []string{"recover-pin", "--reader", "sim:sle4442"},
			wantErr: true,
		},
		{
			name:    "unknown simulator",
			args:    []string{"detect", "--reader", "sim:sle9999"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := run(t, tt.args...)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none\nOutput: %s", output)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v\nOutput: %s", err, output)
			}

			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

func TestReadToFileAndInfo(t *testing.T) {
	tmp := t.TempDir()

	image := bytes.Repeat([]byte{0xFF}, 256)
	copy(image, tlv.Hex("A2 13 10 91 46 0B 81 10 01 02 03 04 05 11 22 33 44 61 0B 4F 06 D27600000400 53 01 FF"))
	imagePath := filepath.Join(tmp, "in.bin")
	if err := os.WriteFile(imagePath, image, 0o644); err != nil {
		t.Fatal(err)
	}

	dumpPath := filepath.Join(tmp, "out.bin")
	output, err := run(t, "read", "--reader", "sim:sle4442", "--sim-image", imagePath, "-o", dumpPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(output, "256 bytes written") {
		t.Errorf("read output: %s", output)
	}
	dump, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dump, image) {
		t.Error("dump differs from the simulated card")
	}

	output, err = run(t, "info", "--reader", "sim:sle4442", "--sim-image", imagePath)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"=== CHIP DATA ===", "=== SECURITY MEMORY ===", "PSC: hidden"} {
		if !strings.Contains(output, want) {
			t.Errorf("info output missing %q\nGot:\n%s", want, output)
		}
	}
}

func TestParseHelpers(t *testing.T) {
	if got, err := parseHex("0x12 34"); err != nil || !bytes.Equal(got, []byte{0x12, 0x34}) {
		t.Errorf("parseHex = % X, %v", got, err)
	}
	if _, err := parseHex("zz"); err == nil {
		t.Error("parseHex must reject non-hex input")
	}
	for in, want := range map[string]int{"32": 32, "0x20": 32, " 0X3FD ": 1021} {
		if got, err := parseAddr(in); err != nil || got != want {
			t.Errorf("parseAddr(%q) = %d, %v", in, got, err)
		}
	}
	if _, err := parseAddr("forty"); err == nil {
		t.Error("parseAddr must reject words")
	}
}
