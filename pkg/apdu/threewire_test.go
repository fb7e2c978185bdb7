package apdu

import (
	"bytes"
	"testing"

	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

func TestThreeWire_Encoding(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *Command
		expected []byte
	}{
		{
			name:     "Read 8 bits at 0 (detection probe)",
			cmd:      Read8(0),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "0E 00 00", "00"),
		},
		{
			name:     "Read 9 bits at 0x1F",
			cmd:      Read9(0x1F),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "0C 1F 00", "00"),
		},
		{
			name:     "Read 9 bits at 0x2A5 (A9 A8 = 10)",
			cmd:      Read9(0x2A5),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "8C A5 00", "00"),
		},
		{
			name:     "Verify PSC1",
			cmd:      CompareVerify(AddrPSC1, 0x12),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "CD FE 12", "00"),
		},
		{
			name:     "Verify PSC2",
			cmd:      CompareVerify(AddrPSC2, 0x34),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "CD FF 34", "00"),
		},
		{
			name:     "Write with protect",
			cmd:      Write3W(0x10, 0xAB, true),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "31 10 AB", "00"),
		},
		{
			name:     "Write without protect",
			cmd:      Write3W(0x10, 0xAB, false),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "33 10 AB", "00"),
		},
		{
			name:     "Compare and protect",
			cmd:      CompareAndProtect(0x105, 0x55),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "70 05 55", "00"),
		},
		{
			name:     "Write error counter",
			cmd:      WriteErrorCounter(0xFE),
			expected: tlv.Hex("FF 70 07 6B 07 A6 05 A1 03", "F2 FD FE", "00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Bytes()
			if err != nil {
				t.Fatalf("Encoding failed: %v", err)
			}
			if len(got) != 13 {
				t.Errorf("Envelope length = %d, want 13", len(got))
			}
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Mismatch\nExpected: %X\nGot:      %X", tt.expected, got)
			}
		})
	}
}

func TestThreeWirePayload(t *testing.T) {
	got, err := ThreeWirePayload(tlv.Hex("A1 02 5A 00"), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, []byte{0x5A, 0x00}) {
		t.Errorf("payload = %X, want 5A00", got)
	}

	if _, err := ThreeWirePayload(tlv.Hex("A1 02 5A"), 2); err == nil {
		t.Error("Expected error for short reply")
	}
}
