// Command dumpcat decodes a logview trace dump, rebuilds the span trees and
// prints the spans matching a query expression.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gfreezy/dump-cat/internal/pipeline"
	"github.com/gfreezy/dump-cat/internal/query"
)

// usageError marks errors caused by how the tool was invoked rather than by
// the input data; they exit with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

type options struct {
	number          int
	queryExpr       string
	jsonOut         bool
	quiet           bool
	emitIncomplete  bool
	decodingThreads int
	filterThreads   int
	blockBufferSize int
	treeBufferSize  int
	logLevel        string
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "dumpcat <dump-file>",
		Short: "Decode and filter logview trace dumps",
		Long: `dumpcat reads a logview binary trace dump, reassembles the nested
transaction trees and prints every span matching the query expression.

Query fields: status, ty, name (string), timestamp_in_ms and
transaction.duration_in_ms (numeric). Comparisons =, !=, >, >=, <, <=
combine with AND, OR, NOT and parentheses, e.g.

  dumpcat dump.lv -q 'ty=URL AND transaction.duration_in_ms>=100'`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &usageError{err: fmt.Errorf("expected exactly one dump file, got %d arguments", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.number, "number", "n", 0, "stop after this many results (0 = unlimited)")
	cmd.Flags().StringVarP(&opts.queryExpr, "query", "q", "", "filter expression; empty matches everything")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "render one JSON object per result")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "count matches without rendering them")
	cmd.Flags().BoolVar(&opts.emitIncomplete, "emit-incomplete", false, "flush spans still open at end of input instead of discarding them")
	cmd.Flags().IntVar(&opts.decodingThreads, "decoding-threads", 1, "record decoder workers")
	cmd.Flags().IntVar(&opts.filterThreads, "filter-threads", 1, "query filter workers")
	cmd.Flags().IntVar(&opts.blockBufferSize, "block-reader-channel-buffer-size", pipeline.DefaultChannelBufferSize, "block channel capacity")
	cmd.Flags().IntVar(&opts.treeBufferSize, "tree-decoder-channel-buffer-size", pipeline.DefaultChannelBufferSize, "event and span channel capacity")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log verbosity: debug, info, warn, error")

	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	return cmd
}

func run(cmd *cobra.Command, path string, opts options) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return &usageError{err: err}
	}

	q, err := query.Compile(opts.queryExpr)
	if err != nil {
		return &usageError{err: err}
	}

	cfg := pipeline.DefaultConfig()
	cfg.DecodingThreads = opts.decodingThreads
	cfg.FilterThreads = opts.filterThreads
	cfg.BlockChannelBufferSize = opts.blockBufferSize
	cfg.TreeChannelBufferSize = opts.treeBufferSize
	cfg.Limit = opts.number
	cfg.JSON = opts.jsonOut
	cfg.Quiet = opts.quiet
	cfg.EmitIncomplete = opts.emitIncomplete
	cfg.Query = q

	metrics := pipeline.NewMetrics(prometheus.NewRegistry())
	p, err := pipeline.New(cfg, metrics, logger)
	if err != nil {
		return &usageError{err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dump file: %w", err)
	}
	defer f.Close()

	summary, err := p.Run(cmd.Context(), f, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if summary.RecordsSkipped > 0 {
		level.Warn(logger).Log("msg", "skipped records with unknown tags", "count", summary.RecordsSkipped)
	}
	if summary.UnbalancedEnds > 0 {
		level.Warn(logger).Log("msg", "ignored unbalanced end events", "count", summary.UnbalancedEnds)
	}
	if summary.IncompleteDiscarded > 0 {
		level.Warn(logger).Log("msg", "discarded spans still open at end of input", "count", summary.IncompleteDiscarded,
			"hint", "rerun with --emit-incomplete to keep them")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "count: %d\n", summary.Matches)
	return nil
}

func newLogger(lvl string) (log.Logger, error) {
	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, opt)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dumpcat: %v\n", err)
		var uerr *usageError
		if errors.As(err, &uerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
