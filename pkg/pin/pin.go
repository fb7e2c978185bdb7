/*
Package pin recovers the programmable security code (PSC) of a memory card.

Two unrelated methods exist, chosen by the chip's wire protocol:

  - 2-wire (SLE4442/5542): the PSC is read back from the security memory.
    Nothing is presented to the card and no attempt is burned.
  - 3-wire (SLE4428/5528): the 2-byte PSC is searched with PRESENT CODE. The
    reader reports a match on the first byte when the second byte is 00, so
    both bytes are searched independently: at most 256 + 255 probes instead
    of 65536.
*/
package pin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/card"
)

// SecurityReader reads the security memory of a card.
type SecurityReader interface {
	ReadSecurityMemory() (card.SecurityMemory, error)
}

// PresentCoder presents a 2-byte code and returns the raw status word.
type PresentCoder interface {
	PresentCode(pin []byte) (apdu.StatusWord, error)
}

// ProgressFunc is called after every brute force probe.
type ProgressFunc func(probe int, pin []byte, sw apdu.StatusWord)

// Engine runs PIN recovery against a driver.
type Engine struct {
	// Progress, when set, observes brute force probes.
	Progress ProgressFunc

	log *slog.Logger
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{log: logger}
}

// Recover picks the method matching the driver's family.
func (e *Engine) Recover(ctx context.Context, d card.Driver) ([]byte, error) {
	switch d.Family().Wire() {
	case card.TwoWire:
		return e.Visible(d)
	case card.ThreeWire:
		pc, ok := d.(PresentCoder)
		if !ok {
			return nil, fmt.Errorf("recover PIN: %s driver cannot present codes: %w", d.Family(), card.ErrNotSupported)
		}
		return e.BruteForce(ctx, pc)
	default:
		return nil, fmt.Errorf("recover PIN for %s: %w", d.Family(), card.ErrNotSupported)
	}
}

// Visible returns the PSC stored in the security memory. It never
// authenticates.
func (e *Engine) Visible(r SecurityReader) ([]byte, error) {
	sm, err := r.ReadSecurityMemory()
	if err != nil {
		return nil, err
	}
	e.log.Debug("security memory read", "counter", fmt.Sprintf("%02X", sm.Counter), "attempts", sm.RemainingAttempts())

	if sm.IsLocked() {
		return nil, card.ErrCardLocked
	}
	if !sm.PINVisible() {
		return nil, card.ErrPinUnreadable
	}

	e.log.Info("PIN read from security memory")
	return append([]byte(nil), sm.PIN...), nil
}

// BruteForce searches the 2-byte PSC. The first byte is found with the
// second fixed at 00; the second byte is then searched from 01 and falls
// back to 00, which the first phase already accepted. The context is checked
// between probes.
func (e *Engine) BruteForce(ctx context.Context, pc PresentCoder) ([]byte, error) {
	probes := 0
	present := func(p1, p2 byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		pin := []byte{p1, p2}
		sw, err := pc.PresentCode(pin)
		if err != nil {
			return false, err
		}
		probes++
		if e.Progress != nil {
			e.Progress(probes, pin, sw)
		}
		return sw.SW1() == 0x90, nil
	}

	e.log.Info("brute force started")

	first := -1
	for p1 := 0; p1 <= 0xFF; p1++ {
		ok, err := present(byte(p1), 0x00)
		if err != nil {
			return nil, err
		}
		if ok {
			first = p1
			break
		}
	}
	if first < 0 {
		e.log.Info("brute force exhausted", "probes", probes)
		return nil, card.ErrPinNotFound
	}
	e.log.Info("first PIN byte found", "p1", fmt.Sprintf("%02X", first), "probes", probes)

	for p2 := 1; p2 <= 0xFF; p2++ {
		ok, err := present(byte(first), byte(p2))
		if err != nil {
			return nil, err
		}
		if ok {
			e.log.Info("PIN found", "probes", probes)
			return []byte{byte(first), byte(p2)}, nil
		}
	}

	e.log.Info("PIN found", "probes", probes)
	return []byte{byte(first), 0x00}, nil
}
