package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"github.com/gfreezy/dump-cat/internal/logview"
	"github.com/gfreezy/dump-cat/internal/logview/logviewtest"
	"github.com/gfreezy/dump-cat/internal/query"
)

// sampleTrace is one root transaction with a nested transaction and a
// metric leaf.
func sampleTrace() *logviewtest.Builder {
	return logviewtest.NewBuilder().
		StartTransaction(100, "URL", "/api/orders").
		StartTransaction(110, "SQL", "select").
		EndTransaction("0", 20).
		Metric(130, "Cache", "get", "0").
		EndTransaction("0", 50)
}

func runPipeline(t *testing.T, cfg Config, input []byte) (string, Summary, error) {
	t.Helper()

	metrics := NewMetrics(prometheus.NewRegistry())
	p, err := New(cfg, metrics, log.NewNopLogger())
	require.NoError(t, err)

	var out bytes.Buffer
	summary, err := p.Run(context.Background(), bytes.NewReader(input), &out)
	return out.String(), summary, err
}

func TestRunPlainDump(t *testing.T) {
	out, summary, err := runPipeline(t, DefaultConfig(), sampleTrace().Container())
	require.NoError(t, err)

	want := "0\tURL\t/api/orders\t100\t50\t-\n" +
		"0\tSQL\tselect\t110\t20\t/api/orders\n" +
		"0\tCache\tget\t130\t-\t/api/orders\n"
	require.Equal(t, want, out)

	require.Equal(t, uint64(3), summary.Matches)
	require.Equal(t, uint64(5), summary.RecordsDecoded)
	require.Equal(t, uint64(1), summary.SpansBuilt)
	require.Zero(t, summary.RecordsSkipped)
	require.Zero(t, summary.UnbalancedEnds)
}

func TestRunParallelDecodeKeepsOrder(t *testing.T) {
	b := logviewtest.NewBuilder()
	for i := 0; i < 200; i++ {
		name := "/api/orders/" + strings.Repeat("x", i%17)
		b.StartTransaction(uint64(i), "URL", name).
			StartTransaction(uint64(i)+1, "SQL", "select").
			EndTransaction("0", 3).
			EndTransaction("0", 9)
	}
	input := b.Container()

	reference, _, err := runPipeline(t, DefaultConfig(), input)
	require.NoError(t, err)

	// Tiny blocks force records to straddle block boundaries; a single
	// filter thread keeps output order comparable.
	cfg := DefaultConfig()
	cfg.DecodingThreads = 4
	cfg.BlockSize = 64
	got, _, err := runPipeline(t, cfg, input)
	require.NoError(t, err)
	require.Equal(t, reference, got)
}

func TestRunLimitStopsEarly(t *testing.T) {
	b := logviewtest.NewBuilder()
	for i := 0; i < 100; i++ {
		b.StartTransaction(uint64(i), "URL", "/ping").EndTransaction("0", 1)
	}

	cfg := DefaultConfig()
	cfg.Limit = 2
	out, summary, err := runPipeline(t, cfg, b.Container())
	require.NoError(t, err)
	require.Equal(t, uint64(2), summary.Matches)
	require.Len(t, strings.Split(strings.TrimRight(out, "\n"), "\n"), 2)
}

func TestRunQueryFilter(t *testing.T) {
	q, err := query.Compile("ty=SQL AND transaction.duration_in_ms>=20")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Query = q
	out, summary, err := runPipeline(t, cfg, sampleTrace().Container())
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Matches)
	require.Equal(t, "0\tSQL\tselect\t110\t20\t/api/orders\n", out)
}

func TestRunQueryNoMatches(t *testing.T) {
	q, err := query.Compile("status=500")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Query = q
	out, summary, err := runPipeline(t, cfg, sampleTrace().Container())
	require.NoError(t, err)
	require.Zero(t, summary.Matches)
	require.Empty(t, out)
}

func TestRunUnknownTagSkipped(t *testing.T) {
	b := logviewtest.NewBuilder().
		StartTransaction(100, "URL", "/ping").
		Record('H', []byte("heartbeat")).
		EndTransaction("0", 5)

	out, summary, err := runPipeline(t, DefaultConfig(), b.Container())
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.RecordsSkipped)
	require.Equal(t, uint64(2), summary.RecordsDecoded)
	require.Equal(t, "0\tURL\t/ping\t100\t5\t-\n", out)
}

func TestRunUnbalancedEndCounted(t *testing.T) {
	b := logviewtest.NewBuilder().
		EndTransaction("0", 7).
		StartTransaction(100, "URL", "/ping").
		EndTransaction("0", 5)

	out, summary, err := runPipeline(t, DefaultConfig(), b.Container())
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.UnbalancedEnds)
	require.Equal(t, "0\tURL\t/ping\t100\t5\t-\n", out)
}

func TestRunIncompleteDiscardedByDefault(t *testing.T) {
	b := logviewtest.NewBuilder().
		StartTransaction(100, "URL", "/done").
		EndTransaction("0", 5).
		StartTransaction(200, "URL", "/hung")

	out, summary, err := runPipeline(t, DefaultConfig(), b.Container())
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.IncompleteDiscarded)
	require.Zero(t, summary.IncompleteEmitted)
	require.NotContains(t, out, "/hung")
}

func TestRunEmitIncomplete(t *testing.T) {
	b := logviewtest.NewBuilder().
		StartTransaction(200, "URL", "/hung")

	cfg := DefaultConfig()
	cfg.EmitIncomplete = true
	out, summary, err := runPipeline(t, cfg, b.Container())
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.IncompleteEmitted)
	require.Zero(t, summary.IncompleteDiscarded)
	// No end event ever arrived, so the duration column is absent.
	require.Equal(t, "\tURL\t/hung\t200\t-\t-\n", out)
}

func TestRunQuiet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quiet = true
	out, summary, err := runPipeline(t, cfg, sampleTrace().Container())
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, uint64(3), summary.Matches)
}

func TestRunJSONOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JSON = true
	out, _, err := runPipeline(t, cfg, sampleTrace().Container())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)

	var parser fastjson.Parser
	root, err := parser.Parse(lines[0])
	require.NoError(t, err)
	require.Equal(t, "transaction", string(root.GetStringBytes("kind")))
	require.Equal(t, "/api/orders", string(root.GetStringBytes("name")))
	require.Equal(t, uint64(50), root.GetUint64("duration_in_ms"))
	require.Equal(t, 0, len(root.GetArray("path")))

	metric, err := parser.Parse(lines[2])
	require.NoError(t, err)
	require.Equal(t, "metric", string(metric.GetStringBytes("kind")))
	require.False(t, metric.Exists("duration_in_ms"))
	path := metric.GetArray("path")
	require.Len(t, path, 1)
	require.Equal(t, "/api/orders", string(path[0].GetStringBytes()))
}

// failingReader serves its wrapped reader's bytes, then reports err where a
// healthy stream would report EOF.
type failingReader struct {
	r   io.Reader
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, f.err
	}
	return n, err
}

func TestRunMidStreamReadFailure(t *testing.T) {
	b := logviewtest.NewBuilder()
	for i := 0; i < 500; i++ {
		b.StartTransaction(uint64(i), "URL", "/ping").EndTransaction("0", 1)
	}
	data := b.Container()

	// The source dies partway through the compressed body. The run must
	// surface the I/O failure itself, not a truncation diagnosis of the
	// bytes that happened to arrive first.
	errDeviceGone := errors.New("device gone")
	src := &failingReader{r: bytes.NewReader(data[:len(data)-8]), err: errDeviceGone}

	metrics := NewMetrics(prometheus.NewRegistry())
	p, err := New(DefaultConfig(), metrics, log.NewNopLogger())
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = p.Run(context.Background(), src, &out)
	var rerr *ReadError
	require.ErrorAs(t, err, &rerr)
	require.ErrorIs(t, err, errDeviceGone)
}

func TestRunLimitKeepsUnbalancedCount(t *testing.T) {
	// The unbalanced end precedes every root, so the builder has consumed it
	// before the limit can cancel the run.
	b := logviewtest.NewBuilder().EndTransaction("9", 1)
	for i := 0; i < 50; i++ {
		b.StartTransaction(uint64(i), "URL", "/ping").EndTransaction("0", 1)
	}

	cfg := DefaultConfig()
	cfg.Limit = 1
	_, summary, err := runPipeline(t, cfg, b.Container())
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Matches)
	require.Equal(t, uint64(1), summary.UnbalancedEnds)
}

func TestRunBadMagic(t *testing.T) {
	_, _, err := runPipeline(t, DefaultConfig(), []byte{0x00, 0x00, 0x00, 0x01, 0xff})
	require.ErrorIs(t, err, logview.ErrBadMagic)
}

func TestRunCorruptRecordReportsOffset(t *testing.T) {
	good := logviewtest.NewBuilder().
		StartTransaction(100, "URL", "/ping").
		EndTransaction("0", 5)
	goodLen := len(good.Stream())

	// A start record with an empty payload is structurally invalid.
	b := good.Record(logview.TagTransactionStart, nil)

	_, _, err := runPipeline(t, DefaultConfig(), b.Container())
	var derr *logview.DecodeError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, int64(goodLen), derr.Offset)
}

func TestRunTruncatedRecord(t *testing.T) {
	b := logviewtest.NewBuilder().
		StartTransaction(100, "URL", "/ping").
		EndTransaction("0", 5).
		RawBytes([]byte{logview.TagMetric, 200, 1}) // declares 200 payload bytes, delivers none

	_, _, err := runPipeline(t, DefaultConfig(), b.Container())
	var derr *logview.DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestRunEmptyBody(t *testing.T) {
	out, summary, err := runPipeline(t, DefaultConfig(), logviewtest.NewBuilder().Container())
	require.NoError(t, err)
	require.Empty(t, out)
	require.Zero(t, summary.Matches)
}

func TestRunMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	p, err := New(DefaultConfig(), metrics, log.NewNopLogger())
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = p.Run(context.Background(), bytes.NewReader(sampleTrace().Container()), &out)
	require.NoError(t, err)

	require.Equal(t, float64(5), testutil.ToFloat64(metrics.RecordsDecoded))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.SpansBuilt))
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.MatchesEmitted))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.DecodingThreads = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.BlockSize = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Limit = -1
	require.Error(t, bad.Validate())
}
