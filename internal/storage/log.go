package storage

import (
	"context"

	"github.com/hariohmprasath/events-streamlined-with-dedups/pkg/logger"
)

// LogSink records failed events in the service log only.
type LogSink struct{}

func (LogSink) Write(_ context.Context, ev FailedEvent) error {
	logger.Get().Errorw("event exhausted its attempt budget",
		"component", "failure_sink",
		"key", ev.Key,
		"attempts", ev.Attempts,
		"reason", ev.Reason,
		"body", ev.Body,
	)
	return nil
}
