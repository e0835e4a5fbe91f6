package logview

import (
	"encoding/binary"
)

// DecodeRecord decodes a framed record into its typed Event form.
// Unknown type tags return ok=false with no error: a single unsupported
// record must not lose the rest of the file, so callers count and move on.
// A payload that does not match its tag's layout is fatal.
func DecodeRecord(rec RawRecord) (ev Event, ok bool, err error) {
	c := cursor{buf: rec.Payload, recOffset: rec.Offset}

	switch rec.Tag {
	case TagTransactionStart:
		ev.Kind = KindTransactionStart
		if ev.TimestampMs, err = c.uvarint("timestamp"); err != nil {
			return Event{}, false, err
		}
		if ev.Ty, err = c.varstring("ty"); err != nil {
			return Event{}, false, err
		}
		if ev.Name, err = c.varstring("name"); err != nil {
			return Event{}, false, err
		}

	case TagTransactionEnd:
		ev.Kind = KindTransactionEnd
		if ev.Status, err = c.varstring("status"); err != nil {
			return Event{}, false, err
		}
		if ev.DurationMs, err = c.uvarint("duration"); err != nil {
			return Event{}, false, err
		}

	case TagMetric:
		ev.Kind = KindMetric
		if ev.TimestampMs, err = c.uvarint("timestamp"); err != nil {
			return Event{}, false, err
		}
		if ev.Ty, err = c.varstring("ty"); err != nil {
			return Event{}, false, err
		}
		if ev.Name, err = c.varstring("name"); err != nil {
			return Event{}, false, err
		}
		if ev.Status, err = c.varstring("status"); err != nil {
			return Event{}, false, err
		}

	default:
		return Event{}, false, nil
	}

	if c.pos != len(c.buf) {
		return Event{}, false, decodeErrorf(rec.Offset, "%d trailing bytes after %q payload", len(c.buf)-c.pos, rec.Tag)
	}
	return ev, true, nil
}

// cursor walks a record payload. Errors carry the record offset so
// diagnostics point at the record, not at a position inside it.
type cursor struct {
	buf       []byte
	pos       int
	recOffset int64
}

func (c *cursor) uvarint(field string) (uint64, error) {
	v, n := binary.Uvarint(c.buf[c.pos:])
	if n <= 0 {
		return 0, decodeErrorf(c.recOffset, "invalid %s varint", field)
	}
	c.pos += n
	return v, nil
}

func (c *cursor) varstring(field string) (string, error) {
	length, err := c.uvarint(field + " length")
	if err != nil {
		return "", err
	}
	if length > uint64(len(c.buf)-c.pos) {
		return "", decodeErrorf(c.recOffset, "%s length %d exceeds payload", field, length)
	}
	raw := c.buf[c.pos : c.pos+int(length)]
	c.pos += int(length)
	// Non-UTF-8 bytes are kept as-is; the source system emits them on
	// occasion and Go strings carry them through unchanged.
	return string(raw), nil
}
