package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultMaxPayloadBytes bounds the payload a transform accepts.
const DefaultMaxPayloadBytes = 256 * 1024

// TransformedMessage is the only thing the processor sees of an event.
// Origin metadata is dropped here so queue and stream events look the same.
type TransformedMessage struct {
	Body string `json:"body"`
}

// Transform wraps the raw payload of ev into a TransformedMessage.
// maxBytes <= 0 means DefaultMaxPayloadBytes.
func Transform(ev Event, maxBytes int) (TransformedMessage, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	if len(ev.Payload) > maxBytes {
		return TransformedMessage{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(ev.Payload), maxBytes)
	}
	return TransformedMessage{Body: string(ev.Payload)}, nil
}

// Marshal encodes the message as the wire envelope {"body":"..."}.
// HTML escaping is off so the body round-trips byte for byte.
func (m TransformedMessage) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
