package logview

// Record type tags as they appear on the wire.
const (
	TagTransactionStart = 't'
	TagTransactionEnd   = 'T'
	TagMetric           = 'M'
)

// EventKind identifies the decoded form of a record.
type EventKind uint8

const (
	KindTransactionStart EventKind = iota
	KindTransactionEnd
	KindMetric
)

func (k EventKind) String() string {
	switch k {
	case KindTransactionStart:
		return "transaction_start"
	case KindTransactionEnd:
		return "transaction_end"
	case KindMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// Event is the decoded, typed form of one binary record. Which fields are
// populated depends on Kind:
//   - KindTransactionStart: Ty, Name, TimestampMs
//   - KindTransactionEnd:   Status, DurationMs
//   - KindMetric:           Ty, Name, Status, TimestampMs
//
// Events are immutable once decoded.
type Event struct {
	Kind        EventKind
	Ty          string
	Name        string
	Status      string
	TimestampMs uint64
	DurationMs  uint64
}
