// Package logviewtest builds logview byte streams for tests. The tool itself
// never writes logview files; this encoder exists so tests do not depend on
// captured sample dumps.
package logviewtest

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/snappy"

	"github.com/gfreezy/dump-cat/internal/logview"
)

// Builder accumulates a raw record stream.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder returns an empty record stream builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// StartTransaction appends a transaction-start record.
func (b *Builder) StartTransaction(ts uint64, ty, name string) *Builder {
	var p payload
	p.uvarint(ts)
	p.varstring(ty)
	p.varstring(name)
	return b.Record(logview.TagTransactionStart, p.bytes())
}

// EndTransaction appends a transaction-end record.
func (b *Builder) EndTransaction(status string, durationMs uint64) *Builder {
	var p payload
	p.varstring(status)
	p.uvarint(durationMs)
	return b.Record(logview.TagTransactionEnd, p.bytes())
}

// Metric appends a metric record.
func (b *Builder) Metric(ts uint64, ty, name, status string) *Builder {
	var p payload
	p.uvarint(ts)
	p.varstring(ty)
	p.varstring(name)
	p.varstring(status)
	return b.Record(logview.TagMetric, p.bytes())
}

// Record appends an arbitrary record with the given tag and payload.
func (b *Builder) Record(tag byte, payload []byte) *Builder {
	b.buf.WriteByte(tag)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	b.buf.Write(lenBuf[:n])
	b.buf.Write(payload)
	return b
}

// RawBytes appends arbitrary bytes without framing, for corrupt-input tests.
func (b *Builder) RawBytes(raw []byte) *Builder {
	b.buf.Write(raw)
	return b
}

// Stream returns the accumulated uncompressed record stream.
func (b *Builder) Stream() []byte {
	return b.buf.Bytes()
}

// Container wraps the record stream in the logview container: big-endian
// magic followed by a snappy framed body.
func (b *Builder) Container() []byte {
	var out bytes.Buffer
	var head [4]byte
	magic := logview.Magic
	binary.BigEndian.PutUint32(head[:], uint32(magic))
	out.Write(head[:])

	w := snappy.NewBufferedWriter(&out)
	if _, err := w.Write(b.buf.Bytes()); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return out.Bytes()
}

// payload builds a record payload field by field.
type payload struct {
	buf bytes.Buffer
}

func (p *payload) uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	p.buf.Write(tmp[:n])
}

func (p *payload) varstring(s string) {
	p.uvarint(uint64(len(s)))
	p.buf.WriteString(s)
}

func (p *payload) bytes() []byte {
	return p.buf.Bytes()
}
