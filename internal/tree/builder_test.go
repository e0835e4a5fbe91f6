package tree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gfreezy/dump-cat/internal/logview"
	"github.com/gfreezy/dump-cat/internal/tree"
)

func start(ts uint64, ty, name string) logview.Event {
	return logview.Event{Kind: logview.KindTransactionStart, TimestampMs: ts, Ty: ty, Name: name}
}

func end(status string, dur uint64) logview.Event {
	return logview.Event{Kind: logview.KindTransactionEnd, Status: status, DurationMs: dur}
}

func metric(ts uint64, ty, name, status string) logview.Event {
	return logview.Event{Kind: logview.KindMetric, TimestampMs: ts, Ty: ty, Name: name, Status: status}
}

func feedAll(b *tree.Builder, events ...logview.Event) []*tree.Span {
	var roots []*tree.Span
	for _, ev := range events {
		if root := b.Feed(ev); root != nil {
			roots = append(roots, root)
		}
	}
	return roots
}

func TestBuilderNestedTransactions(t *testing.T) {
	b := tree.NewBuilder()
	roots := feedAll(b,
		start(100, "URL", "/checkout"),
		start(101, "Service", "inventory"),
		metric(102, "SQL", "select-stock", "0"),
		end("0", 20),
		end("0", 50),
	)

	require.Len(t, roots, 1)
	root := roots[0]
	require.Equal(t, "/checkout", root.Name)
	require.Equal(t, "0", root.Status)
	require.Equal(t, uint64(50), root.DurationMs)
	require.True(t, root.HasDuration)

	require.Len(t, root.Children, 1)
	inner := root.Children[0]
	require.Equal(t, "inventory", inner.Name)
	require.Equal(t, uint64(20), inner.DurationMs)

	require.Len(t, inner.Children, 1)
	leaf := inner.Children[0]
	require.Equal(t, tree.SpanMetric, leaf.Kind)
	require.Equal(t, "select-stock", leaf.Name)
	_, hasDur := leaf.GetDurationMs()
	require.False(t, hasDur)
}

func TestBuilderChildOrderIsTemporal(t *testing.T) {
	b := tree.NewBuilder()
	roots := feedAll(b,
		start(1, "URL", "/a"),
		metric(2, "Cache", "m1", "0"),
		start(3, "Service", "child"),
		end("0", 1),
		metric(4, "Cache", "m2", "0"),
		end("0", 9),
	)

	require.Len(t, roots, 1)
	names := make([]string, 0, 3)
	for _, c := range roots[0].Children {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"m1", "child", "m2"}, names)
}

func TestBuilderStandaloneMetricRoot(t *testing.T) {
	b := tree.NewBuilder()
	roots := feedAll(b, metric(5, "Heartbeat", "status", "0"))
	require.Len(t, roots, 1)
	require.Equal(t, tree.SpanMetric, roots[0].Kind)
	require.Equal(t, 0, b.OpenDepth())
}

func TestBuilderSequentialRoots(t *testing.T) {
	b := tree.NewBuilder()
	roots := feedAll(b,
		start(1, "URL", "/a"), end("0", 1),
		start(2, "URL", "/b"), end("0", 2),
	)
	require.Len(t, roots, 2)
	require.Equal(t, "/a", roots[0].Name)
	require.Equal(t, "/b", roots[1].Name)
}

func TestBuilderUnbalancedEndIgnored(t *testing.T) {
	b := tree.NewBuilder()
	roots := feedAll(b,
		end("0", 10),
		start(1, "URL", "/a"),
		end("0", 3),
	)
	require.Len(t, roots, 1)
	require.Equal(t, "/a", roots[0].Name)
	require.Equal(t, uint64(1), b.UnbalancedEnds())
}

func TestBuilderFlushDiscardPolicy(t *testing.T) {
	b := tree.NewBuilder()
	roots := feedAll(b,
		start(1, "URL", "/a"),
		start(2, "Service", "inner"),
	)
	require.Empty(t, roots)

	flushed := b.Flush(false)
	require.Empty(t, flushed)
	require.Equal(t, uint64(2), b.DiscardedIncomplete())
	require.Equal(t, 0, b.OpenDepth())
}

func TestBuilderFlushEmitIncomplete(t *testing.T) {
	b := tree.NewBuilder()
	feedAll(b,
		start(1, "URL", "/a"),
		start(2, "Service", "inner"),
		metric(3, "SQL", "q", "0"),
	)

	flushed := b.Flush(true)
	require.Len(t, flushed, 2)

	// Innermost first, each marked incomplete with its children intact.
	require.Equal(t, "inner", flushed[0].Name)
	require.True(t, flushed[0].Incomplete)
	require.False(t, flushed[0].HasDuration)
	require.Len(t, flushed[0].Children, 1)

	require.Equal(t, "/a", flushed[1].Name)
	require.True(t, flushed[1].Incomplete)
	require.Equal(t, uint64(0), b.DiscardedIncomplete())
}

func TestBuilderChildDurationsWithinParent(t *testing.T) {
	b := tree.NewBuilder()
	roots := feedAll(b,
		start(100, "URL", "/a"),
		start(110, "Service", "s1"), end("0", 30),
		start(150, "Service", "s2"), end("0", 40),
		end("0", 100),
	)
	require.Len(t, roots, 1)

	root := roots[0]
	var childSum uint64
	for _, c := range root.Children {
		d, ok := c.GetDurationMs()
		require.True(t, ok)
		childSum += d
	}
	require.LessOrEqual(t, childSum, root.DurationMs)
}
