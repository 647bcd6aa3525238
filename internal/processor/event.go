package processor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Event is the business payload producers put in the body.
type Event struct {
	ID        string `json:"id"`
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	CreatedAt int64  `json:"createdAt"`
	Body      string `json:"body"`
}

// DecodeEvent parses a body as JSON, falling back to URL-decoding it
// first for producers that form-encode their payloads. It returns the
// event and the JSON text it was parsed from.
func DecodeEvent(body string) (Event, string, error) {
	var ev Event
	trimmed := strings.TrimSpace(body)
	if err := json.Unmarshal([]byte(trimmed), &ev); err == nil {
		return ev, trimmed, nil
	}

	decoded, err := url.QueryUnescape(trimmed)
	if err != nil {
		return Event{}, "", fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := json.Unmarshal([]byte(decoded), &ev); err != nil {
		return Event{}, "", fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return ev, decoded, nil
}

// DedupKey is the idempotency key of an event.
func DedupKey(eventID string) string {
	return "dedup:" + eventID
}
