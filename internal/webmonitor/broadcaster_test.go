package webmonitor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/wefit/rep-counter/internal/metrics"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

func TestFrameBroadcasterDropsForSlowClients(t *testing.T) {
	m := metrics.New()
	fb := NewFrameBroadcaster(m)

	id, ch := fb.Subscribe()
	assert.Equal(t, uint64(1), m.StreamClients.Load())

	for range 5 {
		fb.Publish([]byte{1})
	}
	assert.Len(t, ch, 2)
	assert.Equal(t, uint64(3), m.FramesDropped.Load())

	fb.Unsubscribe(id)
	_, open := <-ch
	for open {
		_, open = <-ch
	}
	assert.Zero(t, m.StreamClients.Load())
	assert.Equal(t, 0, fb.Publish([]byte{2}))
}

func TestFrameBroadcasterClose(t *testing.T) {
	fb := NewFrameBroadcaster(nil)
	_, ch := fb.Subscribe()
	fb.Close()
	fb.Close()

	_, open := <-ch
	assert.False(t, open)

	_, late := fb.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestStatusBroadcasterReplaysLatest(t *testing.T) {
	sb := NewStatusBroadcaster(nil)
	assert.Nil(t, sb.Latest())

	first := &SerializedEvent{JSONData: []byte(`{"reps":1}`)}
	sb.Publish(first)

	id, ch := sb.Subscribe()
	defer sb.Unsubscribe(id)
	assert.Same(t, first, <-ch)

	second := &SerializedEvent{JSONData: []byte(`{"reps":2}`)}
	sb.Publish(second)
	assert.Same(t, second, <-ch)
	assert.Same(t, second, sb.Latest())

	sb.Close()
	_, open := <-ch
	assert.False(t, open)
}

func TestEncodeStatus(t *testing.T) {
	sess := session.New(session.DefaultConfig(), time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC))
	now := time.Date(2026, 3, 4, 9, 30, 15, 0, time.UTC)

	event, err := EncodeStatus(sess.View(), now)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(event.JSONData, &payload))
	assert.Equal(t, "09:30:15", payload["time"])
	assert.Equal(t, "2026-03-04T09:00:00Z", payload["started_at"])
	assert.Equal(t, 40.0, payload["threshold"])
	assert.Equal(t, "below", payload["direction"])
	assert.NotEmpty(t, event.ProtobufData)
}
