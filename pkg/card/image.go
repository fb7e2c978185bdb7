package card

import (
	"errors"
	"fmt"
	"io"
)

// A memory dump is the raw image, byte for byte, without header.

// ReadImage reads a dump of exactly size bytes from r.
func ReadImage(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("image shorter than %d bytes", size)
		}
		return nil, fmt.Errorf("read image: %w", err)
	}

	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("image longer than %d bytes", size)
	}
	return buf, nil
}

// ImportImage loads a dump into the memory image. The card is not written.
func (s *Session) ImportImage(r io.Reader) error {
	data, err := ReadImage(r, len(s.memory))
	if err != nil {
		return err
	}
	copy(s.memory, data)
	s.log.Info("image imported", "bytes", len(data))
	return nil
}

// ExportImage writes the memory image as a raw dump.
func (s *Session) ExportImage(w io.Writer) error {
	if _, err := w.Write(s.memory); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
