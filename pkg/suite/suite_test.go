package suite

import (
	"errors"
	"testing"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/card"
	"github.com/wikilift/sle-suite-pro/pkg/simcard"
	"github.com/wikilift/sle-suite-pro/pkg/sle4428"
	"github.com/wikilift/sle-suite-pro/pkg/sle4442"
	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name         string
		sim          func() *simcard.Card
		opts         Options
		wantFamily   card.Family
		wantDetected bool
	}{
		{
			name:         "SLE4442 By ATR",
			sim:          func() *simcard.Card { return simcard.NewSLE4442([]byte{1, 2, 3}) },
			wantFamily:   card.SLE4442,
			wantDetected: true,
		},
		{
			name:         "SLE4428 By ATR",
			sim:          func() *simcard.Card { return simcard.NewSLE4428([]byte{1, 2}) },
			wantFamily:   card.SLE4428,
			wantDetected: true,
		},
		{
			name: "SLE4428 By Probe",
			sim: func() *simcard.Card {
				c := simcard.NewSLE4428([]byte{1, 2})
				c.SetATR(tlv.Hex("3B 00"))
				return c
			},
			wantFamily:   card.SLE4428,
			wantDetected: true,
		},
		{
			name:       "Forced",
			sim:        func() *simcard.Card { return simcard.NewSLE4442([]byte{1, 2, 3}) },
			opts:       Options{Family: card.SLE5542},
			wantFamily: card.SLE5542,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := Open(tt.sim(), tt.opts, nil)
			if err != nil {
				t.Fatal(err)
			}
			if conn.Family() != tt.wantFamily || conn.Detected != tt.wantDetected {
				t.Errorf("family=%s detected=%v, want %s %v", conn.Family(), conn.Detected, tt.wantFamily, tt.wantDetected)
			}
		})
	}
}

// silentCard refuses every command and reports an unknown ATR.
type silentCard struct{ sent int }

func (s *silentCard) Transmit([]byte) ([]byte, error) {
	s.sent++
	return tlv.Hex("6E 00"), nil
}

func (s *silentCard) ATR() ([]byte, error) { return tlv.Hex("3B 00"), nil }

func TestOpen_Fallback(t *testing.T) {
	conn, err := Open(&silentCard{}, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if conn.Family() != DefaultFallback || conn.Detected {
		t.Errorf("family=%s detected=%v", conn.Family(), conn.Detected)
	}
	if _, ok := conn.Driver.(*sle4442.Card); !ok {
		t.Errorf("driver is %T", conn.Driver)
	}

	conn, err = Open(&silentCard{}, Options{Fallback: card.SLE5528}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := conn.Driver.(*sle4428.Card); !ok || conn.Family() != card.SLE5528 {
		t.Errorf("driver is %T for %s", conn.Driver, conn.Family())
	}
}

func TestOpen_Trace(t *testing.T) {
	sim := simcard.NewSLE4442([]byte{1, 2, 3})
	conn, err := Open(sim, Options{Trace: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Driver.ReadSecurityMemory(); err != nil {
		t.Fatal(err)
	}
	if conn.Trace == nil || len(*conn.Trace) != 1 || !conn.Trace.IsSuccess() {
		t.Errorf("trace = %+v", conn.Trace)
	}
}

func TestOpen_RemovedCard(t *testing.T) {
	sim := simcard.NewSLE4442([]byte{1, 2, 3})
	sim.Removed = true

	_, err := Open(sim, Options{}, nil)
	var te *apdu.TransportError
	if !errors.As(err, &te) || !errors.Is(err, simcard.ErrRemoved) {
		t.Errorf("expected a transport error wrapping ErrRemoved, got %v", err)
	}
}

func TestNewDriver_Unknown(t *testing.T) {
	if _, err := NewDriver(apdu.NewClient(&silentCard{}, nil), card.Unknown, nil); !errors.Is(err, card.ErrNotSupported) {
		t.Errorf("expected ErrNotSupported, got %v", err)
	}
}
