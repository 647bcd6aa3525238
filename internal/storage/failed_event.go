package storage

import "time"

// FailedEvent is an event the processor gave up on after exhausting its
// attempt budget.
type FailedEvent struct {
	Key      string    `json:"key"`
	Body     string    `json:"body"`
	Attempts int64     `json:"attempts"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

const ReasonMaxAttempts = "max_attempts_exceeded"
