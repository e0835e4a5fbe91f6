package pipeline

import (
	"fmt"

	"github.com/gfreezy/dump-cat/internal/query"
)

// Defaults for the tunable knobs. Buffer sizes match the CLI defaults.
const (
	DefaultChannelBufferSize = 10
	DefaultBlockSize         = 256 << 10
)

// Config is the value object describing the pipeline topology: channel
// capacities, worker-pool sizes, the compiled query, and output behavior.
// It is immutable after Validate and shared read-only by every stage.
type Config struct {
	// DecodingThreads is the record-decoder pool size.
	DecodingThreads int
	// FilterThreads is the query-filter pool size.
	FilterThreads int

	// BlockChannelBufferSize bounds the block reader's output channel.
	BlockChannelBufferSize int
	// TreeChannelBufferSize bounds the event and span channels feeding and
	// draining the tree builder.
	TreeChannelBufferSize int

	// BlockSize is the fixed block size the reader cuts the input into.
	BlockSize int

	// Limit caps the number of emitted results; 0 means unlimited.
	Limit int

	// JSON renders one JSON object per result instead of flat text.
	JSON bool
	// Quiet suppresses rendering while still consuming and counting, so
	// pipeline throughput can be measured without output cost.
	Quiet bool
	// EmitIncomplete flushes spans still open at end of input as roots
	// marked incomplete instead of discarding them.
	EmitIncomplete bool

	// Query is the compiled filter predicate; nil matches everything.
	Query *query.Query
}

// DefaultConfig returns a single-threaded configuration with default
// buffer sizes.
func DefaultConfig() Config {
	return Config{
		DecodingThreads:        1,
		FilterThreads:          1,
		BlockChannelBufferSize: DefaultChannelBufferSize,
		TreeChannelBufferSize:  DefaultChannelBufferSize,
		BlockSize:              DefaultBlockSize,
	}
}

// Validate checks the topology parameters.
func (c *Config) Validate() error {
	if c.DecodingThreads < 1 {
		return fmt.Errorf("decoding threads must be positive, got %d", c.DecodingThreads)
	}
	if c.FilterThreads < 1 {
		return fmt.Errorf("filter threads must be positive, got %d", c.FilterThreads)
	}
	if c.BlockChannelBufferSize < 1 {
		return fmt.Errorf("block channel buffer size must be positive, got %d", c.BlockChannelBufferSize)
	}
	if c.TreeChannelBufferSize < 1 {
		return fmt.Errorf("tree channel buffer size must be positive, got %d", c.TreeChannelBufferSize)
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	if c.Limit < 0 {
		return fmt.Errorf("result limit must not be negative, got %d", c.Limit)
	}
	return nil
}
