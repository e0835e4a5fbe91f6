package tree

import (
	"github.com/gfreezy/dump-cat/internal/logview"
)

// Builder assembles the flat event stream back into span trees. It is
// inherently order-dependent, so exactly one goroutine feeds it.
//
// Reconstruction keeps an explicit stack of open transaction spans:
//   - a start event pushes a new open span;
//   - an end event pops the top span, assigns duration and status, and
//     attaches it to the new top (or reports it as a completed root when the
//     stack emptied);
//   - a metric becomes a leaf child of the top span, or a standalone root
//     when nothing is open.
//
// Unbalanced end events (pop on an empty stack) are counted and dropped,
// never fatal.
type Builder struct {
	stack      []*Span
	unbalanced uint64
	discarded  uint64
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Feed consumes one event and returns a completed root span when the event
// closed one, nil otherwise.
func (b *Builder) Feed(ev logview.Event) *Span {
	switch ev.Kind {
	case logview.KindTransactionStart:
		b.stack = append(b.stack, &Span{
			Kind:        SpanTransaction,
			Ty:          ev.Ty,
			Name:        ev.Name,
			TimestampMs: ev.TimestampMs,
		})
		return nil

	case logview.KindTransactionEnd:
		if len(b.stack) == 0 {
			b.unbalanced++
			return nil
		}
		top := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		top.Status = ev.Status
		top.DurationMs = ev.DurationMs
		top.HasDuration = true
		if len(b.stack) == 0 {
			return top
		}
		b.stack[len(b.stack)-1].AddChild(top)
		return nil

	case logview.KindMetric:
		leaf := &Span{
			Kind:        SpanMetric,
			Ty:          ev.Ty,
			Name:        ev.Name,
			Status:      ev.Status,
			TimestampMs: ev.TimestampMs,
		}
		if len(b.stack) == 0 {
			return leaf
		}
		b.stack[len(b.stack)-1].AddChild(leaf)
		return nil

	default:
		return nil
	}
}

// Flush handles end of input with spans still open. With emitIncomplete set,
// every remaining open span is returned as its own root, innermost first,
// marked Incomplete with the children it accumulated. Otherwise the open
// spans are counted as discarded and dropped. Either way the result is
// deterministic for a given input.
func (b *Builder) Flush(emitIncomplete bool) []*Span {
	if len(b.stack) == 0 {
		return nil
	}
	defer func() { b.stack = b.stack[:0] }()

	if !emitIncomplete {
		b.discarded += uint64(len(b.stack))
		return nil
	}

	roots := make([]*Span, 0, len(b.stack))
	for i := len(b.stack) - 1; i >= 0; i-- {
		s := b.stack[i]
		s.Incomplete = true
		roots = append(roots, s)
	}
	return roots
}

// OpenDepth reports how many spans are currently open.
func (b *Builder) OpenDepth() int {
	return len(b.stack)
}

// UnbalancedEnds reports how many end events arrived with no open span.
func (b *Builder) UnbalancedEnds() uint64 {
	return b.unbalanced
}

// DiscardedIncomplete reports how many open spans Flush dropped.
func (b *Builder) DiscardedIncomplete() uint64 {
	return b.discarded
}
