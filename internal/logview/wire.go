package logview

import (
	"encoding/binary"
)

// MaxRecordSize caps the declared payload length of a single record. A length
// above this is treated as corruption rather than waiting for more input.
const MaxRecordSize = 16 << 20

// RawRecord is one self-delimited binary unit cut from the record stream.
// It lives only between framing and payload decoding.
type RawRecord struct {
	Tag     byte
	Payload []byte
	// Offset of the tag byte within the decompressed record stream.
	Offset int64
}

// Framer reconstructs record boundaries from a stream of byte blocks.
// Records may straddle block boundaries; the framer buffers the partial tail
// of a block and prepends it to the next one. Framing only inspects the tag
// byte and the declared length, so it never needs to understand payloads.
type Framer struct {
	pending []byte
	// offset of pending[0] within the overall stream
	base int64
}

// NewFramer returns a framer positioned at the start of the record stream.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends one block and returns every complete record it can cut.
// Each call assembles a fresh backing buffer, so returned payload slices stay
// valid after later pushes and may be decoded concurrently.
func (f *Framer) Push(block []byte) ([]RawRecord, error) {
	buf := make([]byte, 0, len(f.pending)+len(block))
	buf = append(buf, f.pending...)
	buf = append(buf, block...)
	f.pending = buf

	var recs []RawRecord
	for {
		rec, n, err := f.cutOne()
		if err != nil {
			return recs, err
		}
		if n == 0 {
			break
		}
		recs = append(recs, rec)
		f.pending = f.pending[n:]
		f.base += int64(n)
	}
	return recs, nil
}

// cutOne tries to cut a single record off the front of the pending buffer.
// Returns n=0 when more input is needed.
func (f *Framer) cutOne() (RawRecord, int, error) {
	if len(f.pending) < 2 {
		return RawRecord{}, 0, nil
	}
	length, lenSize := binary.Uvarint(f.pending[1:])
	if lenSize <= 0 {
		if lenSize < 0 || len(f.pending) > 1+binary.MaxVarintLen64 {
			return RawRecord{}, 0, decodeErrorf(f.base, "invalid payload length varint")
		}
		return RawRecord{}, 0, nil
	}
	if length > MaxRecordSize {
		return RawRecord{}, 0, decodeErrorf(f.base, "declared payload length %d exceeds limit %d", length, MaxRecordSize)
	}
	total := 1 + lenSize + int(length)
	if len(f.pending) < total {
		return RawRecord{}, 0, nil
	}
	rec := RawRecord{
		Tag:     f.pending[0],
		Payload: f.pending[1+lenSize : total],
		Offset:  f.base,
	}
	return rec, total, nil
}

// Close signals end of input. A non-empty pending buffer means the stream
// ended inside a record: either the declared length ran past the remaining
// bytes or the record header itself was cut short. Both are fatal.
func (f *Framer) Close() error {
	if len(f.pending) == 0 {
		return nil
	}
	return decodeErrorf(f.base, "truncated record at end of input (%d trailing bytes)", len(f.pending))
}

// Buffered reports how many bytes are held back waiting for the next block.
func (f *Framer) Buffered() int {
	return len(f.pending)
}
