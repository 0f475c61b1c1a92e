package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed indicates input with the wrong shape: bad segment count,
	// bad separators, truncated bytes, or a negative serial.
	ErrMalformed = errors.New("entity: malformed identifier")

	// ErrNotANumber indicates a segment that is not an unsigned integer.
	ErrNotANumber = errors.New("entity: segment is not a number")

	// ErrChecksumMismatch is matched by every *ChecksumMismatchError.
	ErrChecksumMismatch = errors.New("entity: checksum mismatch")
)

// ParseError reports why a textual or binary identifier could not be decoded.
// It always wraps ErrMalformed or ErrNotANumber.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %q", e.Err, e.Input)
	}
	return fmt.Sprintf("%v: %q: %s", e.Err, e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func malformed(input, reason string) error {
	return &ParseError{Input: input, Reason: reason, Err: ErrMalformed}
}

func notANumber(input, segment string) error {
	return &ParseError{Input: input, Reason: fmt.Sprintf("segment %q", segment), Err: ErrNotANumber}
}

// ChecksumMismatchError is advisory: callers decide whether a mismatch
// blocks submission.
type ChecksumMismatchError struct {
	ID       ID
	Ledger   LedgerID
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("entity: checksum mismatch for %s on %s: expected %q, got %q",
		e.ID, e.Ledger, e.Expected, e.Actual)
}

// Is matches ErrChecksumMismatch.
func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}
