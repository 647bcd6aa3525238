package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_WrapsPayloadVerbatim(t *testing.T) {
	for _, kind := range []SourceKind{KindQueue, KindStream} {
		t.Run(string(kind), func(t *testing.T) {
			ev := Event{
				Payload:   []byte(`{"temp":72}`),
				Kind:      kind,
				Handle:    StreamHandle("shard-0000", 7),
				Partition: "shard-0000",
				Sequence:  7,
			}

			msg, err := Transform(ev, 0)
			require.NoError(t, err)

			wire, err := msg.Marshal()
			require.NoError(t, err)
			assert.Equal(t, `{"body":"{\"temp\":72}"}`, string(wire))
		})
	}
}

func TestTransform_DoesNotEscapeHTML(t *testing.T) {
	msg, err := Transform(Event{Payload: []byte(`a<b>&c`)}, 0)
	require.NoError(t, err)

	wire, err := msg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"body":"a<b>&c"}`, string(wire))
}

func TestTransform_EmptyPayload(t *testing.T) {
	msg, err := Transform(Event{}, 0)
	require.NoError(t, err)

	wire, err := msg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"body":""}`, string(wire))
}

func TestTransform_PayloadTooLarge(t *testing.T) {
	ev := Event{Payload: []byte(strings.Repeat("x", 11))}

	_, err := Transform(ev, 10)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Transform(Event{Payload: []byte(strings.Repeat("x", 10))}, 10)
	assert.NoError(t, err)
}

func TestTransform_DefaultLimit(t *testing.T) {
	_, err := Transform(Event{Payload: make([]byte, DefaultMaxPayloadBytes)}, 0)
	assert.NoError(t, err)

	_, err = Transform(Event{Payload: make([]byte, DefaultMaxPayloadBytes+1)}, 0)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
