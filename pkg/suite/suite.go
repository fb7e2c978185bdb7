// Package suite binds a reader connection to the right card driver: it reads
// the ATR, detects the family (or takes a forced one), applies the fallback
// policy for unknown cards and builds the driver once.
package suite

import (
	"fmt"
	"log/slog"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/atr"
	"github.com/wikilift/sle-suite-pro/pkg/card"
	"github.com/wikilift/sle-suite-pro/pkg/sle4428"
	"github.com/wikilift/sle-suite-pro/pkg/sle4442"
)

// DefaultFallback is used when detection returns card.Unknown.
const DefaultFallback = card.SLE4442

// Options control how a connection is opened.
type Options struct {
	// Family skips detection when set.
	Family card.Family
	// Fallback replaces card.Unknown. Zero means DefaultFallback.
	Fallback card.Family
	// Trace records every exchange in Connection.Trace.
	Trace bool
}

// Connection is a card opened through Open.
type Connection struct {
	Driver card.Driver
	ATR    []byte
	// Detected is false when the family was forced or came from the fallback.
	Detected bool
	Trace    *apdu.Trace
}

// Family returns the family the driver was built for.
func (c *Connection) Family() card.Family { return c.Driver.Family() }

// Open identifies the card behind t and returns its driver. A nil logger
// discards output.
func Open(t card.Transport, opts Options, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	answer, err := t.ATR()
	if err != nil {
		return nil, &apdu.TransportError{Err: fmt.Errorf("read ATR: %w", err)}
	}

	conn := &Connection{ATR: answer}

	family := opts.Family
	if family == card.Unknown {
		family = atr.Detect(answer, t, logger)
		conn.Detected = family != card.Unknown
	} else {
		logger.Info("card family forced", "family", family.String())
	}

	if family == card.Unknown {
		family = opts.Fallback
		if family == card.Unknown {
			family = DefaultFallback
		}
		logger.Warn("card family unknown, using fallback", "family", family.String())
	}

	client := apdu.NewClient(t, logger)
	if opts.Trace {
		conn.Trace = &apdu.Trace{}
		client.Recorder = conn.Trace
	}

	conn.Driver, err = NewDriver(client, family, logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewDriver builds the driver for family.
func NewDriver(client *apdu.Client, family card.Family, logger *slog.Logger) (card.Driver, error) {
	switch family.Wire() {
	case card.TwoWire:
		d, err := sle4442.New(client, family, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case card.ThreeWire:
		d, err := sle4428.New(client, family, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("no driver for %s: %w", family, card.ErrNotSupported)
	}
}
