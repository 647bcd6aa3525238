package pipeline

import (
	"strconv"
	"time"
)

// SourceKind identifies which ingestion source an event arrived from.
type SourceKind string

const (
	KindQueue  SourceKind = "queue"
	KindStream SourceKind = "stream"
)

// Event is a raw payload plus the metadata describing where it came from.
// Events are never mutated after a source produces them.
type Event struct {
	Payload []byte
	Kind    SourceKind

	// Handle is the delete token for queue messages and
	// "<partition>/<sequence>" for stream records.
	Handle    string
	Partition string
	Sequence  uint64

	ArrivedAt    time.Time
	ReceiveCount int
}

// Batch is the ordered set of events drawn from one source in one poll.
type Batch struct {
	Kind      SourceKind
	Partition string
	Events    []Event
}

func (b Batch) Len() int {
	return len(b.Events)
}

// StreamHandle builds the arrival handle of a stream record.
func StreamHandle(partition string, seq uint64) string {
	return partition + "/" + strconv.FormatUint(seq, 10)
}

// Outcome is the router-visible result of one invocation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result decides the post-invocation action. Err is nil only on success.
type Result struct {
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}
