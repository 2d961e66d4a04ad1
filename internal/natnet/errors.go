package natnet

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated means the buffer ended before a required field.
	ErrTruncated = errors.New("truncated datagram")

	// ErrMalformed means a field was present but semantically invalid:
	// a negative or out-of-range count, a rigid body without a matching
	// marker-set name, or an orientation with a zero or non-finite norm.
	ErrMalformed = errors.New("malformed datagram")
)

// DecodeError reports where decoding stopped and why.
type DecodeError struct {
	Field  string // wire field being read
	Offset int    // byte offset of the field within the datagram
	Detail string // optional context, e.g. the offending value
	Err    error  // ErrTruncated or ErrMalformed
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("natnet: %s at offset %d: %v", e.Field, e.Offset, e.Err)
	}
	return fmt.Sprintf("natnet: %s at offset %d: %v: %s", e.Field, e.Offset, e.Err, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func truncated(field string, offset int, need int64, have int) error {
	return &DecodeError{
		Field:  field,
		Offset: offset,
		Detail: fmt.Sprintf("need %d bytes, have %d", need, have),
		Err:    ErrTruncated,
	}
}

func malformed(field string, offset int, format string, args ...interface{}) error {
	return &DecodeError{
		Field:  field,
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
		Err:    ErrMalformed,
	}
}
