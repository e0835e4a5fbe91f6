// Package pipeline wires the concurrent decode-filter pipeline: block
// reading, record decoding, tree assembly, query filtering and output,
// connected by bounded channels. The channels are the only synchronization
// primitive: a full channel blocks its producer and an empty one blocks its
// consumer, which is the sole backpressure mechanism.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/gfreezy/dump-cat/internal/logview"
	"github.com/gfreezy/dump-cat/internal/tree"
)

// rawBatch is a run of framed records handed to one decode worker. Seq is
// the assignment order used to restore source order after parallel decode.
type rawBatch struct {
	seq  int
	recs []logview.RawRecord
}

// eventBatch is the decoded form of one rawBatch.
type eventBatch struct {
	seq    int
	events []logview.Event
}

// Match is one span that satisfied the query, together with the names of
// its ancestors so the sink can render its position in the tree.
type Match struct {
	Span      *tree.Span
	Ancestors []string
}

// Summary reports what a completed run processed, including the
// recoverable conditions that were counted instead of failing the run.
type Summary struct {
	Matches             uint64
	RecordsDecoded      uint64
	RecordsSkipped      uint64
	SpansBuilt          uint64
	UnbalancedEnds      uint64
	IncompleteEmitted   uint64
	IncompleteDiscarded uint64
}

// runState accumulates the summary across stages. Fields written by worker
// pools are atomics; the rest have a single writing goroutine.
type runState struct {
	matches             atomic.Uint64
	recordsDecoded      atomic.Uint64
	recordsSkipped      atomic.Uint64
	spansBuilt          atomic.Uint64
	unbalancedEnds      atomic.Uint64
	incompleteEmitted   atomic.Uint64
	incompleteDiscarded atomic.Uint64
}

func (st *runState) summary() Summary {
	return Summary{
		Matches:             st.matches.Load(),
		RecordsDecoded:      st.recordsDecoded.Load(),
		RecordsSkipped:      st.recordsSkipped.Load(),
		SpansBuilt:          st.spansBuilt.Load(),
		UnbalancedEnds:      st.unbalancedEnds.Load(),
		IncompleteEmitted:   st.incompleteEmitted.Load(),
		IncompleteDiscarded: st.incompleteDiscarded.Load(),
	}
}

// Pipeline executes the decode-filter pipeline for one input.
type Pipeline struct {
	cfg     Config
	metrics *Metrics
	logger  log.Logger
}

// New validates the configuration and returns a runnable pipeline.
func New(cfg Config, metrics *Metrics, logger log.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Pipeline{cfg: cfg, metrics: metrics, logger: logger}, nil
}

// Run decodes src, filters the reconstructed spans and writes results to
// out. It returns when the input is exhausted, the result limit is reached,
// or the first fatal error occurs; that error is the one reported. Stage
// goroutines treat context cancellation as normal shutdown, so a run
// cancelled by the result limit still returns nil.
func (p *Pipeline) Run(ctx context.Context, src io.Reader, out io.Writer) (Summary, error) {
	body, err := logview.OpenStream(src)
	if err != nil {
		if errors.Is(err, logview.ErrBadMagic) {
			return Summary{}, err
		}
		return Summary{}, &ReadError{Err: err}
	}

	level.Debug(p.logger).Log("msg", "starting pipeline",
		"decoding_threads", p.cfg.DecodingThreads,
		"filter_threads", p.cfg.FilterThreads,
		"block_buffer", p.cfg.BlockChannelBufferSize,
		"tree_buffer", p.cfg.TreeChannelBufferSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	blocks := make(chan []byte, p.cfg.BlockChannelBufferSize)
	batches := make(chan rawBatch, p.cfg.DecodingThreads)
	decoded := make(chan eventBatch, p.cfg.DecodingThreads)
	events := make(chan logview.Event, p.cfg.TreeChannelBufferSize)
	spans := make(chan *tree.Span, p.cfg.TreeChannelBufferSize)
	matches := make(chan Match, p.cfg.TreeChannelBufferSize)

	st := &runState{}

	g.Go(func() error { return p.readBlocks(gctx, body, blocks) })
	g.Go(func() error { return p.frameBlocks(gctx, blocks, batches) })

	var decodeWG sync.WaitGroup
	for i := 0; i < p.cfg.DecodingThreads; i++ {
		decodeWG.Add(1)
		g.Go(func() error {
			defer decodeWG.Done()
			return p.decodeRecords(gctx, st, batches, decoded)
		})
	}
	g.Go(func() error {
		decodeWG.Wait()
		close(decoded)
		return nil
	})

	g.Go(func() error { return p.mergeDecoded(gctx, decoded, events) })
	g.Go(func() error { return p.buildTrees(gctx, st, events, spans) })

	var filterWG sync.WaitGroup
	for i := 0; i < p.cfg.FilterThreads; i++ {
		filterWG.Add(1)
		g.Go(func() error {
			defer filterWG.Done()
			return p.filterSpans(gctx, spans, matches)
		})
	}
	g.Go(func() error {
		filterWG.Wait()
		close(matches)
		return nil
	})

	g.Go(func() error { return p.drainSink(gctx, st, matches, out, cancel) })

	err = g.Wait()
	summary := st.summary()
	if err != nil {
		return summary, err
	}

	level.Debug(p.logger).Log("msg", "pipeline finished",
		"matches", summary.Matches,
		"records", summary.RecordsDecoded,
		"skipped", summary.RecordsSkipped)
	return summary, nil
}

// readBlocks cuts the decompressed record stream into fixed-size blocks.
// Only the final block may be short.
func (p *Pipeline) readBlocks(ctx context.Context, body io.Reader, blocks chan<- []byte) error {
	for {
		buf := make([]byte, p.cfg.BlockSize)
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			p.metrics.BlocksRead.Inc()
			p.metrics.BytesRead.Add(float64(n))
			select {
			case blocks <- buf[:n]:
			case <-ctx.Done():
				return nil
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			// Closing the channel means "stream ended cleanly" to the framer.
			close(blocks)
			return nil
		default:
			// Leave the channel open: cancellation unblocks the framer, and a
			// close here would let it misread the failure as truncation.
			return &ReadError{Err: err}
		}
	}
}

// frameBlocks reconstructs record boundaries across blocks and deals
// contiguous record batches to the decode workers. Batches carry sequence
// numbers so the merge step can restore source order; the framer owns all
// boundary state, so workers always see whole records.
func (p *Pipeline) frameBlocks(ctx context.Context, blocks <-chan []byte, batches chan<- rawBatch) error {
	defer close(batches)

	framer := logview.NewFramer()
	seq := 0
	for {
		var blk []byte
		var ok bool
		select {
		case blk, ok = <-blocks:
		case <-ctx.Done():
			return nil
		}
		if !ok {
			if ctx.Err() != nil {
				// Cancelled mid-stream; leftover buffered bytes are not a
				// truncated record, so the reader's error stands alone.
				return nil
			}
			return framer.Close()
		}

		recs, err := framer.Push(blk)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			continue
		}
		select {
		case batches <- rawBatch{seq: seq, recs: recs}:
			seq++
		case <-ctx.Done():
			return nil
		}
	}
}

// decodeRecords turns raw records into typed events. Unknown record tags
// are counted and skipped so one unsupported record cannot lose the rest of
// the file; structurally invalid records fail the run.
func (p *Pipeline) decodeRecords(ctx context.Context, st *runState, batches <-chan rawBatch, decoded chan<- eventBatch) error {
	for {
		var batch rawBatch
		var ok bool
		select {
		case batch, ok = <-batches:
		case <-ctx.Done():
			return nil
		}
		if !ok {
			return nil
		}

		events := make([]logview.Event, 0, len(batch.recs))
		for _, rec := range batch.recs {
			ev, known, err := logview.DecodeRecord(rec)
			if err != nil {
				return err
			}
			if !known {
				st.recordsSkipped.Add(1)
				p.metrics.RecordsSkipped.Inc()
				continue
			}
			st.recordsDecoded.Add(1)
			p.metrics.RecordsDecoded.Inc()
			events = append(events, ev)
		}

		select {
		case decoded <- eventBatch{seq: batch.seq, events: events}:
		case <-ctx.Done():
			return nil
		}
	}
}

// mergeDecoded restores source order. Workers finish batches in any order;
// the merger releases events strictly by assignment sequence so the tree
// builder sees them exactly as they appeared in the source bytes.
func (p *Pipeline) mergeDecoded(ctx context.Context, decoded <-chan eventBatch, events chan<- logview.Event) error {
	defer close(events)

	pending := make(map[int]eventBatch, p.cfg.DecodingThreads)
	next := 0
	for {
		var batch eventBatch
		var ok bool
		select {
		case batch, ok = <-decoded:
		case <-ctx.Done():
			return nil
		}
		if !ok {
			return nil
		}

		pending[batch.seq] = batch
		for {
			ready, exists := pending[next]
			if !exists {
				break
			}
			delete(pending, next)
			for _, ev := range ready.events {
				select {
				case events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
			next++
		}
	}
}

// buildTrees runs the single-threaded tree assembly and applies the
// end-of-input policy for spans that never closed.
func (p *Pipeline) buildTrees(ctx context.Context, st *runState, events <-chan logview.Event, spans chan<- *tree.Span) error {
	defer close(spans)

	builder := tree.NewBuilder()
	// Recorded on every exit path so a cancelled run still reports the
	// unbalanced ends it saw.
	defer func() {
		if n := builder.UnbalancedEnds(); n > 0 {
			st.unbalancedEnds.Store(n)
			p.metrics.UnbalancedEnds.Add(float64(n))
		}
	}()
	emit := func(root *tree.Span) bool {
		st.spansBuilt.Add(1)
		p.metrics.SpansBuilt.Inc()
		select {
		case spans <- root:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var ev logview.Event
		var ok bool
		select {
		case ev, ok = <-events:
		case <-ctx.Done():
			return nil
		}
		if !ok {
			break
		}
		if root := builder.Feed(ev); root != nil {
			if !emit(root) {
				return nil
			}
		}
	}

	flushed := builder.Flush(p.cfg.EmitIncomplete)
	for _, root := range flushed {
		st.incompleteEmitted.Add(1)
		p.metrics.IncompleteSpans.WithLabelValues("emitted").Inc()
		if !emit(root) {
			return nil
		}
	}
	if n := builder.DiscardedIncomplete(); n > 0 {
		st.incompleteDiscarded.Add(n)
		p.metrics.IncompleteSpans.WithLabelValues("discarded").Add(float64(n))
		level.Debug(p.logger).Log("msg", "discarded incomplete spans", "count", n)
	}
	return nil
}

// filterSpans walks every root's subtree depth-first and forwards each
// matching node independently: children are not pruned by a non-matching
// ancestor, and a matching ancestor does not pull in its descendants.
func (p *Pipeline) filterSpans(ctx context.Context, spans <-chan *tree.Span, matches chan<- Match) error {
	q := p.cfg.Query

	var walk func(s *tree.Span, ancestors []string) bool
	walk = func(s *tree.Span, ancestors []string) bool {
		if q.Matches(s) {
			chain := make([]string, len(ancestors))
			copy(chain, ancestors)
			select {
			case matches <- Match{Span: s, Ancestors: chain}:
			case <-ctx.Done():
				return false
			}
		}
		ancestors = append(ancestors, s.Name)
		for _, c := range s.Children {
			if !walk(c, ancestors) {
				return false
			}
		}
		return true
	}

	for {
		var root *tree.Span
		var ok bool
		select {
		case root, ok = <-spans:
		case <-ctx.Done():
			return nil
		}
		if !ok {
			return nil
		}
		if !walk(root, nil) {
			return nil
		}
	}
}
