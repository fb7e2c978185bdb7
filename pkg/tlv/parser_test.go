package tlv

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/moov-io/bertlv"
)

type customType struct {
	Val string
}

func (c *customType) UnmarshalTLV(data []byte) error {
	c.Val = "custom:" + hex.EncodeToString(data)
	return nil
}

type discretionary struct {
	Personalisation []byte `tlv:"53"`
}

type appTemplate struct {
	AID     []byte        `tlv:"4F"`
	Label   string        `tlv:"50"`
	Version byte          `tlv:"87"`
	Details discretionary `tlv:"73"`
	Custom  customType    `tlv:"9F02"`
	Other   []bertlv.TLV  `tlv:",unknown"`
}

func TestUnmarshal(t *testing.T) {
	rawData := Hex(
		"4F 06 D27600000400", // AID
		"50 03 414243",       // Label "ABC"
		"87 01 02",           // Version
		"73 03 5301FF",       // Nested discretionary data
		"9F02 01 AA",         // Custom type
		"DF01 01 BB",         // Unknown tag
	)

	var result appTemplate
	if err := Unmarshal(rawData, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !bytes.Equal(result.AID, Hex("D27600000400")) {
		t.Errorf("Expected AID D27600000400, got %X", result.AID)
	}
	if result.Label != "414243" {
		t.Errorf("Expected Label 414243, got %s", result.Label)
	}
	if result.Version != 0x02 {
		t.Errorf("Expected Version 02, got %02X", result.Version)
	}
	if !bytes.Equal(result.Details.Personalisation, []byte{0xFF}) {
		t.Errorf("Expected nested 53 = FF, got %X", result.Details.Personalisation)
	}
	if result.Custom.Val != "custom:aa" {
		t.Errorf("Expected custom:aa, got %s", result.Custom.Val)
	}
	if len(result.Other) != 1 || strings.ToUpper(result.Other[0].Tag) != "DF01" {
		t.Errorf("Unknown tag DF01 not captured correctly: %+v", result.Other)
	}
}

func TestUnmarshal_Padding(t *testing.T) {
	rawData := Hex("4F 02 1122", "FF FF FF FF 00 00")

	var result appTemplate
	if err := Unmarshal(rawData, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !bytes.Equal(result.AID, Hex("1122")) {
		t.Errorf("AID = %X", result.AID)
	}
	if len(result.Other) != 0 {
		t.Errorf("padding must not produce unknown tags: %+v", result.Other)
	}
}

func TestTrimPadding(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{Hex("4F 01 11 FF FF"), Hex("4F 01 11")},
		{Hex("FF FF 00"), Hex("")},
		{Hex("4F 01 FF"), Hex("4F 01")}, // trailing FF is ambiguous and always trimmed
		{nil, nil},
	}
	for _, tt := range tests {
		if got := TrimPadding(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("TrimPadding(%X) = %X, want %X", tt.in, got, tt.want)
		}
	}
}

func TestUnmarshalErrors(t *testing.T) {
	t.Run("Non-pointer target", func(t *testing.T) {
		err := Unmarshal(Hex("4F 01 11"), appTemplate{})
		if err == nil || !strings.Contains(err.Error(), "pointer") {
			t.Errorf("Expected pointer error, got %v", err)
		}
	})

	t.Run("Erased area", func(t *testing.T) {
		var result appTemplate
		if err := Unmarshal(Hex("FF FF FF FF"), &result); err == nil {
			t.Error("Expected error for erased data")
		}
	})
}
