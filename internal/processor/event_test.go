package processor

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	raw := `{"id":"1","eventType":"Temp","eventId":"e-1","createdAt":1700000000,"body":"a+b c"}`

	t.Run("plain json", func(t *testing.T) {
		ev, text, err := DecodeEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, "Temp", ev.EventType)
		assert.Equal(t, "e-1", ev.EventID)
		assert.Equal(t, int64(1700000000), ev.CreatedAt)
		assert.Equal(t, "a+b c", ev.Body)
		assert.Equal(t, raw, text)
	})

	t.Run("url encoded", func(t *testing.T) {
		ev, text, err := DecodeEvent(url.QueryEscape(raw))
		require.NoError(t, err)
		assert.Equal(t, "e-1", ev.EventID)
		assert.Equal(t, "a+b c", ev.Body)
		assert.Equal(t, raw, text)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := DecodeEvent("%zz")
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestAttemptKeyIsStable(t *testing.T) {
	assert.Equal(t, AttemptKey("x"), AttemptKey("x"))
	assert.NotEqual(t, AttemptKey("x"), AttemptKey("y"))
	assert.Equal(t, "dedup:e-1", DedupKey("e-1"))
}
