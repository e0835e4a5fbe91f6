package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	BlocksRead      prometheus.Counter
	BytesRead       prometheus.Counter
	RecordsDecoded  prometheus.Counter
	RecordsSkipped  prometheus.Counter
	SpansBuilt      prometheus.Counter
	UnbalancedEnds  prometheus.Counter
	IncompleteSpans *prometheus.CounterVec
	MatchesEmitted  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	blocksRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dumpcat_blocks_read_total",
		Help: "Total blocks read from the input source",
	})

	bytesRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dumpcat_bytes_read_total",
		Help: "Total decompressed bytes read from the input source",
	})

	recordsDecoded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dumpcat_records_decoded_total",
		Help: "Total binary records decoded into events",
	})

	recordsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dumpcat_records_skipped_total",
		Help: "Total records skipped because of an unknown type tag",
	})

	spansBuilt := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dumpcat_spans_built_total",
		Help: "Total root spans assembled by the tree builder",
	})

	unbalancedEnds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dumpcat_unbalanced_ends_total",
		Help: "Total transaction-end events that arrived with no open span",
	})

	incompleteSpans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dumpcat_incomplete_spans_total",
		Help: "Spans still open at end of input, by policy outcome",
	}, []string{"outcome"})

	matchesEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dumpcat_matches_emitted_total",
		Help: "Total matching spans emitted to the output sink",
	})

	reg.MustRegister(blocksRead, bytesRead, recordsDecoded, recordsSkipped,
		spansBuilt, unbalancedEnds, incompleteSpans, matchesEmitted)

	return &Metrics{
		BlocksRead:      blocksRead,
		BytesRead:       bytesRead,
		RecordsDecoded:  recordsDecoded,
		RecordsSkipped:  recordsSkipped,
		SpansBuilt:      spansBuilt,
		UnbalancedEnds:  unbalancedEnds,
		IncompleteSpans: incompleteSpans,
		MatchesEmitted:  matchesEmitted,
	}
}
