// Package processor is the stateful event processor behind both routers.
// It may see any event more than once, so every side effect goes through
// a single atomic set-if-absent on the event's idempotency key.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/metrics"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/storage"
	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

var (
	ErrMalformedEvent   = errors.New("malformed event")
	ErrCacheUnavailable = errors.New("dedup cache unavailable")
)

// Cache is the subset of the shared cache the processor may use. All
// operations are single-key and atomic.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

type Validator interface {
	Validate(ctx context.Context, ev Event) error
}

// FailureSink receives events whose attempt budget ran out.
type FailureSink interface {
	Write(ctx context.Context, ev storage.FailedEvent) error
}

// Outcome describes what one call did to the cache.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeExhausted Outcome = "exhausted"
)

type Options struct {
	// DedupWindows maps event types (case-insensitive) to how long their
	// idempotency marker lives. Types without a window are accepted
	// without touching the cache.
	DedupWindows map[string]time.Duration

	// MaxAttempts > 0 bounds deliveries of one payload; 0 redelivers
	// forever.
	MaxAttempts   int
	AttemptWindow time.Duration

	// CachePolicy is config.CachePolicyFail or config.CachePolicyDegrade.
	CachePolicy string
}

// OptionsFrom converts the processor section of the service config.
func OptionsFrom(cfg config.ProcessorConfig) Options {
	windows := make(map[string]time.Duration, len(cfg.DedupWindows))
	for eventType, secs := range cfg.DedupWindows {
		windows[eventType] = time.Duration(secs) * time.Second
	}
	return Options{
		DedupWindows:  windows,
		MaxAttempts:   cfg.MaxAttempts,
		AttemptWindow: cfg.AttemptWindow,
		CachePolicy:   cfg.CacheFailurePolicy,
	}
}

type Processor struct {
	cache     Cache
	validator Validator
	sink      FailureSink
	opts      Options
	windows   map[string]time.Duration
}

// New builds a processor. validator and sink may be nil; a nil sink logs
// exhausted events.
func New(cache Cache, validator Validator, sink FailureSink, opts Options) *Processor {
	if sink == nil {
		sink = storage.LogSink{}
	}
	if opts.CachePolicy == "" {
		opts.CachePolicy = config.CachePolicyFail
	}
	windows := make(map[string]time.Duration, len(opts.DedupWindows))
	for eventType, d := range opts.DedupWindows {
		windows[strings.ToLower(eventType)] = d
	}
	return &Processor{
		cache:     cache,
		validator: validator,
		sink:      sink,
		opts:      opts,
		windows:   windows,
	}
}

// Handle is the invocation entry point used by the routers.
func (p *Processor) Handle(ctx context.Context, msg pipeline.TransformedMessage) error {
	_, err := p.Process(ctx, msg.Body)
	return err
}

// Process runs one delivery of body and reports what it did. With an
// attempt budget, the counter only accumulates failed deliveries: any
// successful outcome, including handing the event to the failure sink,
// clears it.
func (p *Processor) Process(ctx context.Context, body string) (Outcome, error) {
	outcome, err := p.process(ctx, body)
	if err == nil && p.opts.MaxAttempts > 0 && outcome != OutcomeDegraded {
		if derr := p.cache.Delete(ctx, AttemptKey(body)); derr != nil {
			logger.Get().Warnw("failed to reset attempt counter", "component", "processor", "error", derr)
		}
	}
	return outcome, err
}

func (p *Processor) process(ctx context.Context, body string) (Outcome, error) {
	log := logger.Get().With("component", "processor")

	if p.opts.MaxAttempts > 0 {
		attempts, err := p.cache.Increment(ctx, AttemptKey(body), p.opts.AttemptWindow)
		if err != nil {
			return p.cacheFailure(err)
		}
		if attempts > int64(p.opts.MaxAttempts) {
			return p.exhaust(ctx, body, attempts)
		}
	}

	ev, message, err := DecodeEvent(body)
	if err != nil {
		log.Warnw("rejecting malformed event", "error", err)
		metrics.ProcessorEvents.WithLabelValues("malformed").Inc()
		return "", err
	}
	log = log.With("event_type", ev.EventType, "event_id", ev.EventID)

	window, ok := p.window(ev.EventType)
	if !ok {
		log.Debugw("no dedup window for event type, skipping")
		metrics.ProcessorEvents.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}

	if p.validator != nil {
		if err := p.validator.Validate(ctx, ev); err != nil {
			log.Warnw("validation failed", "error", err)
			metrics.ProcessorEvents.WithLabelValues("malformed").Inc()
			return "", fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
	}

	inserted, err := p.cache.SetIfAbsent(ctx, DedupKey(ev.EventID), []byte(message), window)
	if err != nil {
		return p.cacheFailure(err)
	}
	if !inserted {
		log.Infow("event already exists in cache")
		metrics.ProcessorEvents.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}

	log.Infow("inserted event in cache", "ttl", window)
	metrics.ProcessorEvents.WithLabelValues(string(OutcomeInserted)).Inc()
	return OutcomeInserted, nil
}

func (p *Processor) window(eventType string) (time.Duration, bool) {
	if eventType == "" {
		return 0, false
	}
	d, ok := p.windows[strings.ToLower(eventType)]
	return d, ok
}

// cacheFailure applies the cache failure policy: fail returns an error so
// the event is redelivered; degrade accepts the event unmarked.
func (p *Processor) cacheFailure(err error) (Outcome, error) {
	metrics.CacheErrors.Inc()
	if p.opts.CachePolicy == config.CachePolicyDegrade {
		logger.Get().Warnw("cache unavailable, accepting event without dedup marker",
			"component", "processor",
			"error", err,
		)
		metrics.ProcessorEvents.WithLabelValues(string(OutcomeDegraded)).Inc()
		return OutcomeDegraded, nil
	}
	return "", fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
}

func (p *Processor) exhaust(ctx context.Context, body string, attempts int64) (Outcome, error) {
	failed := storage.FailedEvent{
		Key:      AttemptKey(body),
		Body:     body,
		Attempts: attempts,
		Reason:   storage.ReasonMaxAttempts,
		FailedAt: time.Now().UTC(),
	}
	if err := p.sink.Write(ctx, failed); err != nil {
		return "", fmt.Errorf("write to failure sink: %w", err)
	}
	metrics.ProcessorEvents.WithLabelValues(string(OutcomeExhausted)).Inc()
	return OutcomeExhausted, nil
}

// AttemptKey identifies a payload for attempt counting. It hashes the
// raw body so it works even when the body cannot be decoded.
func AttemptKey(body string) string {
	sum := sha256.Sum256([]byte(body))
	return "attempts:" + hex.EncodeToString(sum[:])
}
