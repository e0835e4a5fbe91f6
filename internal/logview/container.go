package logview

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
)

// Magic is the big-endian int32 marker at the start of every logview file.
const Magic int32 = -1

// OpenStream validates the container magic and returns a reader over the
// decompressed record stream. The body after the magic is a snappy framed
// stream; offsets reported by the framer are relative to this decompressed
// stream, not to file positions.
func OpenStream(r io.Reader) (io.Reader, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read logview magic: %w", err)
	}
	if int32(binary.BigEndian.Uint32(head[:])) != Magic {
		return nil, ErrBadMagic
	}
	return snappy.NewReader(r), nil
}
