package logview

import (
	"errors"
	"fmt"
)

// ErrBadMagic indicates the input does not start with the logview container
// marker and is not a logview file at all.
var ErrBadMagic = errors.New("invalid logview magic")

// DecodeError reports a structurally invalid record. Offset is the position
// of the record's type tag within the decompressed record stream, so it is
// stable regardless of container compression.
type DecodeError struct {
	Offset int64
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record at offset %d: %s", e.Offset, e.Reason)
}

func decodeErrorf(offset int64, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
