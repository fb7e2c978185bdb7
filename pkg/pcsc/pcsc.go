// Package pcsc connects to a memory card through the system PC/SC service.
//
// A Reader satisfies card.Transport: Transmit forwards raw pseudo-APDUs and
// ATR returns the answer to reset reported by the reader driver.
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ebfe/scard"
)

var (
	ErrNoReaders      = errors.New("no smart card reader found")
	ErrReaderNotFound = errors.New("reader not found")
	ErrNoCard         = errors.New("no card in reader")
)

// Selector chooses a reader. Name has priority and matches a substring,
// case-insensitively. Without either field the first ACS/ACR reader wins,
// then the first reader listed.
type Selector struct {
	Index *int
	Name  string
}

// SelectReader applies sel to the reader names.
func SelectReader(readers []string, sel Selector) (string, error) {
	if len(readers) == 0 {
		return "", ErrNoReaders
	}

	if sel.Name != "" {
		want := strings.ToUpper(sel.Name)
		for _, r := range readers {
			if strings.Contains(strings.ToUpper(r), want) {
				return r, nil
			}
		}
		return "", fmt.Errorf("%w: no reader name contains %q", ErrReaderNotFound, sel.Name)
	}

	if sel.Index != nil {
		if *sel.Index < 0 || *sel.Index >= len(readers) {
			return "", fmt.Errorf("%w: index %d outside 0..%d", ErrReaderNotFound, *sel.Index, len(readers)-1)
		}
		return readers[*sel.Index], nil
	}

	for _, r := range readers {
		name := strings.ToUpper(r)
		if strings.Contains(name, "ACS") || strings.Contains(name, "ACR") {
			return r, nil
		}
	}
	return readers[0], nil
}

// Readers lists the reader names known to the PC/SC service.
func Readers() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	return readers, nil
}

// Reader is an open connection to the card in one reader.
type Reader struct {
	Name string

	ctx  *scard.Context
	card *scard.Card
	log  *slog.Logger
}

// Open establishes a PC/SC context and picks a reader without connecting to
// the card yet. A nil logger discards output.
func Open(sel Selector, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("list readers: %w", err)
	}

	name, err := SelectReader(readers, sel)
	if err != nil {
		ctx.Release()
		return nil, err
	}

	logger.Info("using reader", "reader", name)
	return &Reader{Name: name, ctx: ctx, log: logger.With("reader", name)}, nil
}

// WaitForCard blocks until a card is present in the reader or ctx is done.
func (r *Reader) WaitForCard(ctx context.Context) error {
	states := []scard.ReaderState{{Reader: r.Name, CurrentState: scard.StateUnaware}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.ctx.GetStatusChange(states, time.Second); err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			return fmt.Errorf("reader status: %w", err)
		}
		if states[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		r.log.Debug("waiting for card")
		states[0].CurrentState = states[0].EventState
	}
}

// Connect opens the card connection.
func (r *Reader) Connect() error {
	// Memory cards only answer on a shared T=0/T=1 connection.
	card, err := r.ctx.Connect(r.Name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		if errors.Is(err, scard.ErrNoSmartcard) || errors.Is(err, scard.ErrRemovedCard) {
			return fmt.Errorf("%w: %s", ErrNoCard, r.Name)
		}
		return fmt.Errorf("connect to %s: %w", r.Name, err)
	}
	r.card = card
	r.log.Info("card connected")
	return nil
}

// Transmit sends one pseudo-APDU and returns data + SW1 SW2.
func (r *Reader) Transmit(cmd []byte) ([]byte, error) {
	if r.card == nil {
		return nil, ErrNoCard
	}
	return r.card.Transmit(cmd)
}

// ATR returns the answer to reset of the connected card.
func (r *Reader) ATR() ([]byte, error) {
	if r.card == nil {
		return nil, ErrNoCard
	}
	st, err := r.card.Status()
	if err != nil {
		return nil, fmt.Errorf("card status: %w", err)
	}
	return st.Atr, nil
}

// Close disconnects the card and releases the PC/SC context.
func (r *Reader) Close() error {
	var errs []error
	if r.card != nil {
		if err := r.card.Disconnect(scard.LeaveCard); err != nil {
			errs = append(errs, fmt.Errorf("disconnect card: %w", err))
		}
		r.card = nil
	}
	if r.ctx != nil {
		if err := r.ctx.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release context: %w", err))
		}
		r.ctx = nil
	}
	return errors.Join(errs...)
}
