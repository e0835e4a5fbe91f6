package tree

// SpanKind distinguishes transaction spans from metric leaves.
type SpanKind uint8

const (
	SpanTransaction SpanKind = iota
	SpanMetric
)

func (k SpanKind) String() string {
	if k == SpanMetric {
		return "metric"
	}
	return "transaction"
}

// Span is one node of a reconstructed trace tree. Children are kept in
// insertion order, which equals temporal order in the source stream.
// A transaction span is well-formed only once its end event closed it;
// HasDuration reports that. Incomplete marks a span that was still open at
// end of input and flushed under the emit-incomplete policy.
type Span struct {
	Kind        SpanKind
	Ty          string
	Name        string
	Status      string
	TimestampMs uint64
	DurationMs  uint64
	HasDuration bool
	Incomplete  bool
	Children    []*Span
}

// AddChild appends a child span.
func (s *Span) AddChild(child *Span) {
	s.Children = append(s.Children, child)
}

// NodeCount returns the number of nodes in the subtree rooted at s.
func (s *Span) NodeCount() int {
	n := 1
	for _, c := range s.Children {
		n += c.NodeCount()
	}
	return n
}

// Accessors in the shape the query evaluator consumes.

func (s *Span) GetStatus() string      { return s.Status }
func (s *Span) GetTy() string          { return s.Ty }
func (s *Span) GetName() string        { return s.Name }
func (s *Span) GetTimestampMs() uint64 { return s.TimestampMs }

// GetDurationMs returns the transaction duration and whether one is present.
// Metric leaves and unclosed transactions have none.
func (s *Span) GetDurationMs() (uint64, bool) {
	if s.Kind != SpanTransaction || !s.HasDuration {
		return 0, false
	}
	return s.DurationMs, true
}
