package apdu

import (
	"fmt"
	"strings"
)

// TRANSACTION:
// A Transaction is one pseudo-APDU sent to the reader followed by the reply.
//
// TRACE:
// A Trace is a chronological sequence of Transactions. A single logical
// operation on a memory card usually spans many of them: a full SLE4428 dump
// is 1024 READ 9 BITS exchanges, a 2-wire authentication is a security memory
// read, a VERIFY and a second security memory read.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *Command
	Response *Response
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess checks if every transaction in the trace succeeded.
func (t Trace) IsSuccess() bool {
	if len(t) == 0 {
		return false
	}
	for i := range t {
		if !t[i].IsSuccess() {
			return false
		}
	}
	return true
}

// Describe renders one line per exchange:
//
//	[0001] FF B0 00 00 F0 -> 9000 (240 bytes)
func (t Trace) Describe() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("=== APDU TRACE (%d exchanges) ===\n", len(t)))

	for i, tx := range t {
		raw, err := tx.Command.Bytes()
		cmdHex := FormatHex(raw)
		if err != nil {
			cmdHex = "<invalid: " + err.Error() + ">"
		}

		if tx.Response == nil {
			sb.WriteString(fmt.Sprintf("[%04d] %s -> (no response)\n", i+1, cmdHex))
			continue
		}

		mark := "[OK]"
		if !tx.Response.Status.IsSuccess() {
			mark = "[!!]"
		}

		sb.WriteString(fmt.Sprintf("[%04d] %s -> %04X %s (%d bytes)\n",
			i+1, cmdHex, uint16(tx.Response.Status), mark, len(tx.Response.Data)))
	}

	return strings.TrimRight(sb.String(), "\n")
}
