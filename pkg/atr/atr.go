/*
Package atr identifies the memory card family behind a reader.

Memory cards do not follow ISO 7816-3, and the answer to reset the reader
synthesises for them varies between reader firmwares. Detection therefore runs
in three steps:

 1. Match the ATR against the known prefixes (2-wire signatures first).
 2. Look at the byte 5 positions from the end: A2 marks a 2-wire chip, 28 a
    3-wire chip.
 3. Probe the card with one command of each protocol and classify by which
    one the reader accepts.

Detection never fails: the worst case is card.Unknown, and the caller applies
its own fallback.
*/
package atr

import (
	"bytes"
	"log/slog"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/card"
)

// Signature is a known ATR prefix.
type Signature struct {
	Prefix []byte
	Family card.Family
}

// Signatures lists the known prefixes in matching order.
var Signatures = []Signature{
	{[]byte{0x3B, 0x65, 0x00, 0x00}, card.SLE4442},
	{[]byte{0x3B, 0x05, 0xA2}, card.SLE4442},
	{[]byte{0x3B, 0x04, 0xA2}, card.SLE4442},
	{[]byte{0x3B, 0x25, 0x00, 0x00}, card.SLE4442},
	{[]byte{0x3B, 0xE6, 0x00, 0x00}, card.SLE4428},
	{[]byte{0x3B, 0x05, 0x28}, card.SLE4428},
	{[]byte{0x3B, 0x04, 0x28}, card.SLE4428},
	{[]byte{0x3B, 0x46, 0x28}, card.SLE4428},
}

// Historical byte values used by the heuristic.
const (
	historicalTwoWire   = 0xA2
	historicalThreeWire = 0x28
)

// Classify is the passive part of the detection: prefix table, then the
// historical byte heuristic. It never talks to the card.
func Classify(atr []byte) card.Family {
	if len(atr) == 0 {
		return card.Unknown
	}

	for _, sig := range Signatures {
		if bytes.HasPrefix(atr, sig.Prefix) {
			return sig.Family
		}
	}

	if len(atr) >= 6 {
		switch atr[len(atr)-5] {
		case historicalTwoWire:
			return card.SLE4442
		case historicalThreeWire:
			return card.SLE4428
		}
	}

	return card.Unknown
}

// Detector runs the full detection against a reader connection.
type Detector struct {
	client *apdu.Client
	log    *slog.Logger
}

// NewDetector binds a detector to a connection. A nil logger discards output.
func NewDetector(t apdu.Transmitter, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{client: apdu.NewClient(t, logger), log: logger}
}

// Detect classifies the card from its ATR and, when the ATR is not
// conclusive, from active probes.
func Detect(atr []byte, t apdu.Transmitter, logger *slog.Logger) card.Family {
	return NewDetector(t, logger).Detect(atr)
}

// Detect classifies the card from its ATR and, when the ATR is not
// conclusive, from active probes.
func (d *Detector) Detect(atr []byte) card.Family {
	d.log.Info("ATR received", "atr", apdu.FormatHex(atr))

	if f := Classify(atr); f != card.Unknown {
		d.log.Info("family detected from ATR", "family", f.String())
		return f
	}

	d.log.Info("ATR not conclusive, probing the card")

	twoWire := d.probe(apdu.Verify([]byte{0xFF, 0xFF, 0xFF}), 0x90, 0x63, 0x69)
	threeWire := d.probe(apdu.Read8(0), 0x90, 0x63, 0x6A)

	switch {
	case twoWire && !threeWire:
		d.log.Info("probe answered as 2-wire", "family", card.SLE4442.String())
		return card.SLE4442
	case threeWire && !twoWire:
		d.log.Info("probe answered as 3-wire", "family", card.SLE4428.String())
		return card.SLE4428
	case twoWire && threeWire:
		// Both protocols answered: tell the 55xx variants apart with a zero PIN.
		if d.probe(apdu.Verify([]byte{0x00, 0x00, 0x00}), 0x90, 0x63, 0x69) {
			d.log.Info("hybrid probe answered as 2-wire", "family", card.SLE5542.String())
			return card.SLE5542
		}
		d.log.Info("hybrid probe answered as 3-wire", "family", card.SLE5528.String())
		return card.SLE5528
	}

	d.log.Warn("card family not detected")
	return card.Unknown
}

// probe reports whether the reply's SW1 is one of accepted. Transport
// failures count as a refusal.
func (d *Detector) probe(cmd *apdu.Command, accepted ...byte) bool {
	resp, err := d.client.Send(cmd)
	if err != nil {
		d.log.Debug("probe failed", "ins", cmd.Instruction.String(), "err", err)
		return false
	}
	return bytes.IndexByte(accepted, resp.Status.SW1()) >= 0
}
