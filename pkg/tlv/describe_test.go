package tlv

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/moov-io/bertlv"
)

type mockDirectory struct {
	AID        []byte `tlv:"4F"`
	Label      []byte `tlv:"50" fmt:"ascii"`
	Units      []byte `tlv:"02" fmt:"int"`
	Access     []byte `tlv:"53" fmt:"bits"`
	RawData    []byte // No tag
	EmptyField []byte `tlv:"99"`
	Unknown    []bertlv.TLV
}

func TestWriteStructFields(t *testing.T) {
	mock := mockDirectory{
		AID:     []byte{0xD2, 0x76, 0x00, 0x00, 0x04, 0x00},
		Label:   []byte{'P', 'A', 'Y', 0xFF},
		Units:   []byte{0x01, 0x00},
		Access:  []byte{0x05},
		RawData: []byte{0xCA, 0xFE},
		Unknown: []bertlv.TLV{
			{Tag: "DF01", Value: []byte{0x12, 0x34}},
		},
	}

	lines := func(prefix string) []string {
		return []string{
			"    - " + prefix + ".AID (4F): D27600000400",
			`    - ` + prefix + `.Label (50): 504159FF ("PAY.")`,
			"    - " + prefix + ".Units (02): 0100 (Dec: 256)",
			"    - " + prefix + ".Access (53): 05 (00000101)",
			"    - " + prefix + ".RawData: CAFE",
			"    - " + prefix + ".Unknown Tag DF01: 1234",
		}
	}

	tests := []struct {
		name          string
		prefix        string
		input         interface{}
		expectedLines []string
	}{
		{name: "Struct Pointer Input", prefix: "Dir", input: &mock, expectedLines: lines("Dir")},
		{name: "Struct Value Input", prefix: "Val", input: mock, expectedLines: lines("Val")},
		{name: "Nil Pointer", prefix: "Nil", input: (*mockDirectory)(nil), expectedLines: []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			WriteStructFields(&sb, tt.prefix, tt.input)
			actualLines := strings.Split(sb.String(), "\n")

			if diff := cmp.Diff(tt.expectedLines, actualLines); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteStructFields_Separator(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("=== HEADER ===")
	WriteStructFields(&sb, "Dir", mockDirectory{RawData: []byte{0x01}})

	want := "=== HEADER ===\n    - Dir.RawData: 01"
	if sb.String() != want {
		t.Errorf("got %q, want %q", sb.String(), want)
	}
}

func TestMakeSafeASCII(t *testing.T) {
	input := []byte{0x41, 0x42, 0x00, 0xFF, 0x7F, 0x43}
	want := "AB...C"

	if got := MakeSafeASCII(input); got != want {
		t.Errorf("MakeSafeASCII() = %q, want %q", got, want)
	}
}
