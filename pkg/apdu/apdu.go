/*
Package apdu implements the pseudo-APDU layer used to drive synchronous memory
cards (SLE4442/5542, SLE4428/5528) through a PC/SC reader.

Memory cards do not speak ISO/IEC 7816-4. The reader firmware exposes their
native 2-wire and 3-wire protocols through proprietary commands with the class
byte 0xFF, which the reader intercepts instead of forwarding to the card. The
framing is still the short APDU of ISO/IEC 7816-3, so the same encoding rules
apply.

# Fundamentals

The communication is strictly synchronous:
 1. The host sends a Command (CLA=FF, INS, P1, P2, optional Lc+Data, optional Le).
 2. The reader runs the card protocol and returns a Response (optional data + SW1 SW2).

# Status Words

Only SW1 is meaningful for most reader firmwares:
  - 0x90XX: Success.
  - 0x63XX: Verification failed (SW2 may carry the remaining attempts).
  - 0x69XX / 0x6AXX: Command refused by the reader or the card protocol.

# Command families

Two builders sets are provided:

  - 2-wire (SLE4432/4442/5542): READ BINARY 'B0', READ SECURITY 'B1',
    READ PROTECTION 'B2', VERIFY '20', WRITE BINARY 'D0', WRITE PROTECTION 'D1',
    CHANGE CODE 'D2', SELECT CARD TYPE 'A4'.
  - 3-wire (SLE4418/4428/5528): a fixed 13-byte envelope 'FF 70 07 6B 07 A6 05 A1 03'
    carrying the native 3-byte command (control, address, data) of the chip.

# Usage Example

	client := apdu.NewClient(conn, logger)

	resp, err := client.Send(apdu.ReadBinary(0x00, 0x20))
	if err != nil {
	    log.Fatal(err)
	}

	if !resp.Status.IsSuccess() {
	    log.Fatalf("read failed: %s", resp.Status.Verbose())
	}

	fmt.Printf("% X\n", resp.Data)
*/
package apdu

import (
	"bytes"
	"fmt"
)

// APDU limits. Pseudo-APDUs always use the short length mode.
const (
	// ClassProprietary is the CLA byte the reader intercepts.
	ClassProprietary = 0xFF

	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode (1 byte).
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in Short Length mode.
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256
)

// Command represents a command sent to the reader (C-APDU).
type Command struct {
	Class       byte
	Instruction InsCode
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)
}

// NewCommand creates a proprietary class command.
func NewCommand(ins InsCode, p1, p2 byte, data []byte, ne int) *Command {
	return &Command{
		Class:       ClassProprietary,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Bytes encodes the Command into its byte representation.
//
// ENCODING CASES (ISO 7816-3):
// - Case 1: No Data, No Response (Header only).
// - Case 2: No Data, Response Expected (Header + Le).
// - Case 3: Data Present, No Response (Header + Lc + Data).
// - Case 4: Data Present, Response Expected (Header + Lc + Data + Le).
func (c *Command) Bytes() ([]byte, error) {
	nc := len(c.Data)
	ne := c.Ne

	if nc > MaxShortLc {
		return nil, fmt.Errorf("data length %d exceeds short APDU limit %d", nc, MaxShortLc)
	}
	if ne < 0 || ne > MaxShortLe {
		return nil, fmt.Errorf("expected length %d outside short APDU range", ne)
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(c.Class)
	buf.WriteByte(byte(c.Instruction))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	if nc > 0 {
		buf.WriteByte(byte(nc))
		buf.Write(c.Data)
	}

	if ne > 0 {
		// 0x00 represents 256
		buf.WriteByte(byte(ne))
	}

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
func (c *Command) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// Response represents the reply from the reader (R-APDU).
type Response struct {
	Data   []byte
	Status StatusWord
}

// ParseResponse parses raw bytes received from the reader into a Response.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2

	return &Response{
		Data:   raw[:indexSW1],
		Status: NewStatusWord(raw[indexSW1], raw[indexSW1+1]),
	}, nil
}

// String returns a readable representation of the response.
func (r *Response) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
