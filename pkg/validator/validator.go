package validator

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/processor"
)

// BasicValidator checks the fields the processor keys its cache entries on.
type BasicValidator struct {
	// RequireUUID rejects event IDs that are not UUIDs.
	RequireUUID bool
}

func (v *BasicValidator) Validate(ctx context.Context, e processor.Event) error {
	// Check required fields
	if e.EventType == "" {
		return errors.New("missing eventType")
	}
	if e.EventID == "" {
		return errors.New("missing eventId")
	}

	if v.RequireUUID {
		if _, err := uuid.Parse(e.EventID); err != nil {
			return errors.New("invalid UUID format")
		}
	}

	return nil
}
