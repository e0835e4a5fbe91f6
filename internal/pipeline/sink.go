package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

// renderer formats one match into the sink's buffered writer.
type renderer interface {
	render(w *bufio.Writer, m Match) error
}

// drainSink is the single consumer of the match channel. It renders and
// counts results, and when the configured limit is reached it cancels the
// run's context so the upstream stages stop instead of decoding the rest of
// the file. Matches are always consumed until the channel closes, so a
// cancelled upstream never blocks on a full channel.
func (p *Pipeline) drainSink(ctx context.Context, st *runState, matches <-chan Match, out io.Writer, cancel context.CancelFunc) error {
	w := bufio.NewWriter(out)

	var r renderer
	switch {
	case p.cfg.Quiet:
	case p.cfg.JSON:
		r = &jsonRenderer{}
	default:
		r = textRenderer{}
	}

	limited := false
	for {
		var m Match
		var ok bool
		select {
		case m, ok = <-matches:
		case <-ctx.Done():
			return w.Flush()
		}
		if !ok {
			return w.Flush()
		}
		if limited {
			// Drain leftovers already buffered by the filter workers.
			continue
		}

		st.matches.Add(1)
		p.metrics.MatchesEmitted.Inc()
		if r != nil {
			if err := r.render(w, m); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
		}
		if p.cfg.Limit > 0 && st.matches.Load() >= uint64(p.cfg.Limit) {
			limited = true
			cancel()
		}
	}
}

// textRenderer writes one tab-separated line per match: status, type, name,
// timestamp, duration and the ancestor path. Absent fields render as "-".
type textRenderer struct{}

func (textRenderer) render(w *bufio.Writer, m Match) error {
	s := m.Span

	duration := "-"
	if d, ok := s.GetDurationMs(); ok {
		duration = strconv.FormatUint(d, 10)
	}
	path := "-"
	if len(m.Ancestors) > 0 {
		path = strings.Join(m.Ancestors, " > ")
	}

	_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
		s.Status, s.Ty, s.Name, s.TimestampMs, duration, path)
	return err
}

// jsonRenderer writes one JSON object per line. The arena is reused across
// matches; the sink is single-goroutine so no locking is needed.
type jsonRenderer struct {
	arena fastjson.Arena
}

func (r *jsonRenderer) render(w *bufio.Writer, m Match) error {
	a := &r.arena
	defer a.Reset()

	s := m.Span
	obj := a.NewObject()
	obj.Set("kind", a.NewString(s.Kind.String()))
	obj.Set("status", a.NewString(s.Status))
	obj.Set("ty", a.NewString(s.Ty))
	obj.Set("name", a.NewString(s.Name))
	obj.Set("timestamp_in_ms", a.NewNumberString(strconv.FormatUint(s.TimestampMs, 10)))
	if d, ok := s.GetDurationMs(); ok {
		obj.Set("duration_in_ms", a.NewNumberString(strconv.FormatUint(d, 10)))
	}
	if s.Incomplete {
		obj.Set("incomplete", a.NewTrue())
	}

	anc := a.NewArray()
	for i, name := range m.Ancestors {
		anc.SetArrayItem(i, a.NewString(name))
	}
	obj.Set("path", anc)

	if _, err := w.Write(obj.MarshalTo(nil)); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
