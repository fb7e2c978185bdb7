package card

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/simcard"
	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

// fakeReader answers each command through handle and records it.
type fakeReader struct {
	handle func(cmd []byte) []byte
	sent   [][]byte
}

func (f *fakeReader) Transmit(cmd []byte) ([]byte, error) {
	f.sent = append(f.sent, cmd)
	return f.handle(cmd), nil
}

// memoryReader serves READ MEMORY from mem, returning at most limit bytes per call.
func memoryReader(mem []byte, limit int) *fakeReader {
	return &fakeReader{handle: func(cmd []byte) []byte {
		if cmd[1] != byte(apdu.INS_READ_BINARY) {
			return []byte{0x6D, 0x00}
		}
		addr := int(cmd[2])<<8 | int(cmd[3])
		n := int(cmd[4])
		if n == 0 {
			n = 256
		}
		n = min(n, limit, len(mem)-addr)
		return append(append([]byte(nil), mem[addr:addr+n]...), 0x90, 0x00)
	}}
}

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + i/256)
	}
	return out
}

func TestReadRange_RoundTrip(t *testing.T) {
	mem := pattern(1024)

	for _, limit := range []int{MaxReadChunk, 100, 16} {
		for _, length := range []int{1, 15, 16, 239, 240, 241, 480} {
			reader := memoryReader(mem, limit)
			s := NewSession(apdu.NewClient(reader, nil), SLE4428, nil)

			got, err := s.ReadRange(17, length)
			if err != nil {
				t.Fatalf("limit %d length %d: %v", limit, length, err)
			}
			if !bytes.Equal(got, mem[17:17+length]) {
				t.Errorf("limit %d length %d: data mismatch", limit, length)
			}

			chunk := min(limit, MaxReadChunk)
			if want := (length + chunk - 1) / chunk; len(reader.sent) != want {
				t.Errorf("limit %d length %d: %d commands, want %d", limit, length, len(reader.sent), want)
			}
		}
	}
}

func TestReadRange_Encoding(t *testing.T) {
	reader := memoryReader(pattern(1024), MaxReadChunk)
	s := NewSession(apdu.NewClient(reader, nil), SLE4428, nil)

	if _, err := s.ReadRange(0x100, 241); err != nil {
		t.Fatal(err)
	}

	want := [][]byte{tlv.Hex("FF B0 01 00 F0"), tlv.Hex("FF B0 01 F0 01")}
	if diff := cmp.Diff(want, reader.sent); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRange_Errors(t *testing.T) {
	t.Run("Empty Chunk", func(t *testing.T) {
		reader := &fakeReader{handle: func([]byte) []byte { return []byte{0x90, 0x00} }}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)

		if _, err := s.ReadRange(0, 32); !errors.Is(err, ErrCardRead) {
			t.Errorf("expected ErrCardRead, got %v", err)
		}
	})

	t.Run("Refused", func(t *testing.T) {
		reader := &fakeReader{handle: func([]byte) []byte { return []byte{0x6A, 0x86} }}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)

		_, err := s.ReadRange(0, 32)
		var perr *ProtocolError
		if !errors.As(err, &perr) || perr.Status != apdu.SW_ERR_INCORRECT_PARAMS_P1P2 {
			t.Errorf("expected ProtocolError 6A86, got %v", err)
		}
	})

	t.Run("Out Of Range", func(t *testing.T) {
		reader := memoryReader(pattern(256), MaxReadChunk)
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)

		if _, err := s.ReadRange(250, 10); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress, got %v", err)
		}
		if len(reader.sent) != 0 {
			t.Errorf("sent %d commands for an invalid range", len(reader.sent))
		}
	})

	t.Run("Transport", func(t *testing.T) {
		sim := simcard.NewSLE4442([]byte{1, 2, 3})
		sim.Removed = true
		s := NewSession(apdu.NewClient(sim, nil), SLE4442, nil)

		_, err := s.ReadAll()
		var terr *TransportError
		if !errors.As(err, &terr) || !errors.Is(err, simcard.ErrRemoved) {
			t.Errorf("expected TransportError wrapping ErrRemoved, got %v", err)
		}
	})
}

func TestReadAll(t *testing.T) {
	sim := simcard.NewSLE4442([]byte{1, 2, 3})
	sim.Load(0, tlv.Hex("A2 13 10 91"))
	s := NewSession(apdu.NewClient(sim, nil), SLE4442, nil)

	data, err := s.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 256 || !bytes.Equal(data[:4], tlv.Hex("A2 13 10 91")) {
		t.Errorf("ReadAll = % X...", data[:8])
	}

	data[0] = 0x00
	if s.Memory()[0] != 0xA2 {
		t.Error("Memory must return a copy")
	}

	unknown := NewSession(apdu.NewClient(sim, nil), Unknown, nil)
	if _, err := unknown.ReadAll(); !errors.Is(err, ErrCardRead) {
		t.Errorf("ReadAll without a size: expected ErrCardRead, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	pin := []byte{0x12, 0x34, 0x56}

	t.Run("Readback Matches", func(t *testing.T) {
		reader := &fakeReader{handle: func(cmd []byte) []byte {
			switch apdu.InsCode(cmd[1]) {
			case apdu.INS_READ_SECURITY:
				return tlv.Hex("07 12 34 56 90 00")
			case apdu.INS_VERIFY:
				return tlv.Hex("90 00")
			}
			return tlv.Hex("6D 00")
		}}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)

		if err := s.Authenticate(pin); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if !s.IsAuthenticated() {
			t.Error("session must be authenticated")
		}

		want := [][]byte{
			tlv.Hex("FF B1 00 00 04"),
			tlv.Hex("FF 20 00 00 03 12 34 56"),
			tlv.Hex("FF B1 00 00 04"),
		}
		if diff := cmp.Diff(want, reader.sent); diff != "" {
			t.Errorf("commands mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Readback Mismatch", func(t *testing.T) {
		reader := &fakeReader{handle: func(cmd []byte) []byte {
			if apdu.InsCode(cmd[1]) == apdu.INS_READ_SECURITY {
				return tlv.Hex("03 00 00 00 90 00")
			}
			return tlv.Hex("90 00")
		}}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)
		s.SetAuthenticated(true)

		err := s.Authenticate(pin)
		var aerr *AuthenticationError
		if !errors.As(err, &aerr) {
			t.Fatalf("expected AuthenticationError, got %v", err)
		}
		if aerr.Remaining != 2 {
			t.Errorf("Remaining = %d, want 2", aerr.Remaining)
		}
		if s.IsAuthenticated() {
			t.Error("a readback mismatch must clear the authentication flag")
		}
	})

	t.Run("Verify Rejected", func(t *testing.T) {
		reader := &fakeReader{handle: func(cmd []byte) []byte {
			if apdu.InsCode(cmd[1]) == apdu.INS_VERIFY {
				return tlv.Hex("63 00")
			}
			return tlv.Hex("07 00 00 00 90 00")
		}}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)

		err := s.Authenticate(pin)
		var aerr *AuthenticationError
		if !errors.As(err, &aerr) || aerr.Status != apdu.SW_WARN_VERIFY_FAILED {
			t.Fatalf("expected AuthenticationError 6300, got %v", err)
		}
		if len(reader.sent) != 2 {
			t.Errorf("sent %d commands, want 2 (no readback after a rejected verify)", len(reader.sent))
		}
	})

	t.Run("Locked Counter Still Presents", func(t *testing.T) {
		sim := simcard.NewSLE4442(pin)
		sim.SetCounter(0x00)
		s := NewSession(apdu.NewClient(sim, nil), SLE4442, nil)

		err := s.Authenticate(pin)
		var aerr *AuthenticationError
		if !errors.As(err, &aerr) {
			t.Fatalf("expected AuthenticationError, got %v", err)
		}
		if len(sim.Sent) != 3 {
			t.Errorf("sent %d commands, want 3", len(sim.Sent))
		}
	})

	t.Run("Invalid Length", func(t *testing.T) {
		reader := &fakeReader{handle: func([]byte) []byte { return tlv.Hex("90 00") }}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)

		if err := s.Authenticate([]byte{1, 2}); !errors.Is(err, ErrInvalidPinLength) {
			t.Errorf("expected ErrInvalidPinLength, got %v", err)
		}
		if len(reader.sent) != 0 {
			t.Errorf("sent %d commands for an invalid PIN", len(reader.sent))
		}
	})

	t.Run("Simulated Card", func(t *testing.T) {
		sim := simcard.NewSLE4442(pin)
		s := NewSession(apdu.NewClient(sim, nil), SLE4442, nil)

		err := s.Authenticate([]byte{0x12, 0x34, 0x57})
		var aerr *AuthenticationError
		if !errors.As(err, &aerr) || aerr.Remaining != 2 {
			t.Fatalf("wrong PIN: expected AuthenticationError with 2 attempts left, got %v", err)
		}

		if err := s.Authenticate(pin); err != nil {
			t.Fatalf("right PIN: %v", err)
		}
		if sm, ok := s.CachedSecurityMemory(); !ok || sm.RemainingAttempts() != 3 {
			t.Errorf("counter not reset after a good presentation: %v", sm)
		}
	})
}

func TestWriteBytes(t *testing.T) {
	t.Run("Blocked Without Authentication", func(t *testing.T) {
		reader := &fakeReader{handle: func([]byte) []byte { return tlv.Hex("90 00") }}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)

		if err := s.WriteBytes(0x40, []byte{1, 2, 3}); !errors.Is(err, ErrWriteBlocked) {
			t.Errorf("expected ErrWriteBlocked, got %v", err)
		}
		if len(reader.sent) != 0 {
			t.Errorf("sent %d commands, want 0", len(reader.sent))
		}
	})

	t.Run("Chunked", func(t *testing.T) {
		reader := &fakeReader{handle: func([]byte) []byte { return tlv.Hex("90 00") }}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)
		s.SetAuthenticated(true)

		data := pattern(40)
		if err := s.WriteBytes(0x40, data); err != nil {
			t.Fatal(err)
		}

		if len(reader.sent) != 3 {
			t.Fatalf("sent %d commands, want 3", len(reader.sent))
		}
		headers := [][]byte{reader.sent[0][:5], reader.sent[1][:5], reader.sent[2][:5]}
		want := [][]byte{tlv.Hex("FF D0 00 40 10"), tlv.Hex("FF D0 00 50 10"), tlv.Hex("FF D0 00 60 08")}
		if diff := cmp.Diff(want, headers); diff != "" {
			t.Errorf("headers mismatch (-want +got):\n%s", diff)
		}
		if !bytes.Equal(s.Memory()[0x40:0x68], data) {
			t.Error("image not updated")
		}
	})

	t.Run("Stops At First Refused Chunk", func(t *testing.T) {
		calls := 0
		reader := &fakeReader{handle: func([]byte) []byte {
			calls++
			if calls == 2 {
				return tlv.Hex("65 81")
			}
			return tlv.Hex("90 00")
		}}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)
		s.SetAuthenticated(true)

		err := s.WriteBytes(0, pattern(48))
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ProtocolError, got %v", err)
		}
		if calls != 2 {
			t.Errorf("sent %d chunks, want 2", calls)
		}
		mem := s.Memory()
		if !bytes.Equal(mem[:16], pattern(16)) || mem[16] != 0xFF {
			t.Error("only the accepted chunk may reach the image")
		}
	})

	t.Run("Out Of Range", func(t *testing.T) {
		reader := &fakeReader{handle: func([]byte) []byte { return tlv.Hex("90 00") }}
		s := NewSession(apdu.NewClient(reader, nil), SLE4442, nil)
		s.SetAuthenticated(true)

		if err := s.WriteBytes(250, make([]byte, 7)); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress, got %v", err)
		}
	})
}

func TestProtectByte_NotSupported(t *testing.T) {
	s := NewSession(apdu.NewClient(&fakeReader{}, nil), SLE4442, nil)
	if err := s.ProtectByte(3); !errors.Is(err, ErrNotSupported) {
		t.Errorf("expected ErrNotSupported, got %v", err)
	}
}

func TestChangePIN(t *testing.T) {
	sim := simcard.NewSLE4442([]byte{0xFF, 0xFF, 0xFF})
	s := NewSession(apdu.NewClient(sim, nil), SLE4442, nil)

	if err := s.ChangePIN([]byte{1, 2, 3}); !errors.Is(err, ErrWriteBlocked) {
		t.Fatalf("expected ErrWriteBlocked, got %v", err)
	}

	if err := s.Authenticate([]byte{0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatal(err)
	}
	if err := s.ChangePIN([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sim.Sent[len(sim.Sent)-1], tlv.Hex("FF D2 00 01 03 01 02 03")) {
		t.Errorf("last command % X", sim.Sent[len(sim.Sent)-1])
	}

	sm, err := s.ReadSecurityMemory()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sm.PIN, []byte{1, 2, 3}) {
		t.Errorf("PIN after change = % X", sm.PIN)
	}
}

func TestReset(t *testing.T) {
	sim := simcard.NewSLE4442([]byte{1, 2, 3})
	sim.Load(0, []byte{0xAA})
	s := NewSession(apdu.NewClient(sim, nil), SLE4442, nil)

	if _, err := s.ReadAll(); err != nil {
		t.Fatal(err)
	}
	if err := s.Authenticate([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	s.Reset()

	if s.IsAuthenticated() {
		t.Error("Reset must clear authentication")
	}
	if s.Memory()[0] != 0xFF {
		t.Error("Reset must drop the memory image")
	}
	if _, ok := s.CachedSecurityMemory(); ok {
		t.Error("Reset must drop the security memory")
	}
}
