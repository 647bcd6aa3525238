package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/metrics"
)

// Metrics keeps per-router counters. Every update is mirrored to the
// Prometheus collectors labelled with the router's source kind.
type Metrics struct {
	source string

	received   uint64
	processed  uint64
	failed     uint64
	timeouts   uint64
	pollErrors uint64

	totalLatencyMS uint64
	startTime      time.Time
}

func NewMetrics(source SourceKind) *Metrics {
	return &Metrics{source: string(source), startTime: time.Now()}
}

func (m *Metrics) IncReceived() {
	atomic.AddUint64(&m.received, 1)
	metrics.EventsReceived.WithLabelValues(m.source).Inc()
}

func (m *Metrics) IncProcessed() {
	atomic.AddUint64(&m.processed, 1)
	metrics.Invocations.WithLabelValues(m.source, OutcomeSuccess.String()).Inc()
}

func (m *Metrics) IncFailed() {
	atomic.AddUint64(&m.failed, 1)
	metrics.Invocations.WithLabelValues(m.source, OutcomeFailure.String()).Inc()
}

func (m *Metrics) IncTimeout() {
	atomic.AddUint64(&m.timeouts, 1)
	metrics.Invocations.WithLabelValues(m.source, OutcomeTimeout.String()).Inc()
}

func (m *Metrics) IncPollError() {
	atomic.AddUint64(&m.pollErrors, 1)
	metrics.PollErrors.WithLabelValues(m.source).Inc()
}

func (m *Metrics) AddLatency(d time.Duration) {
	atomic.AddUint64(&m.totalLatencyMS, uint64(d.Milliseconds()))
	metrics.InvocationDuration.WithLabelValues(m.source).Observe(d.Seconds())
}

// Observe records the outcome of one invocation.
func (m *Metrics) Observe(res Result) {
	switch res.Outcome {
	case OutcomeSuccess:
		m.AddLatency(res.Duration)
		m.IncProcessed()
	case OutcomeTimeout:
		m.IncTimeout()
	default:
		m.IncFailed()
	}
}

func (m *Metrics) GetReceived() uint64 {
	return atomic.LoadUint64(&m.received)
}

func (m *Metrics) GetProcessed() uint64 {
	return atomic.LoadUint64(&m.processed)
}

func (m *Metrics) GetFailed() uint64 {
	return atomic.LoadUint64(&m.failed)
}

func (m *Metrics) GetTimeouts() uint64 {
	return atomic.LoadUint64(&m.timeouts)
}

func (m *Metrics) GetPollErrors() uint64 {
	return atomic.LoadUint64(&m.pollErrors)
}

func (m *Metrics) AvgLatencyMS() float64 {
	processed := atomic.LoadUint64(&m.processed)
	if processed == 0 {
		return 0
	}
	total := atomic.LoadUint64(&m.totalLatencyMS)
	return float64(total) / float64(processed)
}

func (m *Metrics) EPS() float64 {
	secs := time.Since(m.startTime).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(m.GetProcessed()) / secs
}

func (m *Metrics) StartTime() time.Time {
	return m.startTime
}

// Snapshot is the JSON view served on /stats.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"source":                     m.source,
		"events_received":            m.GetReceived(),
		"events_processed":           m.GetProcessed(),
		"events_failed":              m.GetFailed(),
		"invocation_timeouts":        m.GetTimeouts(),
		"poll_errors":                m.GetPollErrors(),
		"average_processing_latency": m.AvgLatencyMS(),
		"uptime_seconds":             int(time.Since(m.startTime).Seconds()),
		"events_per_second":          m.EPS(),
	}
}
