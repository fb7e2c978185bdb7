package apdu

import (
	"fmt"
	"log/slog"
	"strings"
)

// CLIENT LOGIC:
// The Client is a thin synchronous driver over the reader connection. Unlike
// ISO 7816-4 cards, memory card pseudo-APDUs never answer '61XX' or '6CXX', and
// a repeated command may have side effects on the card (a second VERIFY burns
// another attempt), so the client never re-sends anything on its own.
//
// Every exchange can be appended to a Trace for later inspection.

// Transmitter abstracts the physical card connection.
// The returned slice holds the response data followed by SW1 SW2.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// TransportError reports a failure of the reader connection itself
// (no card present, reader unplugged, malformed reply).
type TransportError struct {
	Command *Command
	Err     error
}

func (e *TransportError) Error() string {
	if e.Command == nil {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Command.Instruction, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client manages the communication with the reader.
type Client struct {
	Card Transmitter

	// Recorder, when non-nil, receives every completed transaction.
	Recorder *Trace

	log *slog.Logger
}

// NewClient creates a new Client instance. A nil logger discards output.
func NewClient(card Transmitter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{Card: card, log: logger}
}

// Send transmits a command and parses the reader's reply.
// A non-success status word is not an error at this level.
func (c *Client) Send(cmd *Command) (*Response, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	c.log.Debug("apdu send", "ins", cmd.Instruction.String(), "cmd", FormatHex(rawCmd))

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, &TransportError{Command: cmd, Err: err}
	}

	resp, err := ParseResponse(rawResp)
	if err != nil {
		return nil, &TransportError{Command: cmd, Err: err}
	}

	c.log.Debug("apdu recv",
		"sw", fmt.Sprintf("%04X", uint16(resp.Status)),
		"data", FormatHex(resp.Data),
	)

	if c.Recorder != nil {
		*c.Recorder = append(*c.Recorder, Transaction{Command: cmd, Response: resp})
	}

	return resp, nil
}

// FormatHex renders bytes as space separated upper-case hex ("FF B0 00").
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
