package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/wefit/rep-counter/internal/metrics"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

type memSink struct {
	mu   sync.Mutex
	rows []session.Record
	err  error
}

func (m *memSink) Append(_ context.Context, rec session.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, rec)
	return nil
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func TestCapture(t *testing.T) {
	sess := session.New(session.DefaultConfig(), time.Now())
	sink := &memSink{}
	m := metrics.New()

	s, err := New(sess, sink, DefaultInterval, m)
	require.NoError(t, err)

	at := time.Date(2026, 3, 4, 9, 20, 0, 0, time.UTC)
	require.NoError(t, s.Capture(context.Background(), at))
	require.Len(t, sink.rows, 1)
	assert.Equal(t, at, sink.rows[0].Timestamp)
	assert.Equal(t, sess.ID().String(), sink.rows[0].SessionID)
	assert.Equal(t, uint64(1), m.SnapshotsWritten.Load())
}

func TestCaptureFailureIsCounted(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	m := metrics.New()
	s, err := New(session.New(session.DefaultConfig(), time.Now()), sink, time.Minute, m)
	require.NoError(t, err)

	assert.Error(t, s.Capture(context.Background(), time.Now()))
	assert.Equal(t, uint64(1), m.SnapshotErrors.Load())
	assert.Zero(t, m.SnapshotsWritten.Load())
}

func TestCaptureCanceled(t *testing.T) {
	sink := &memSink{}
	s, err := New(session.New(session.DefaultConfig(), time.Now()), sink, time.Minute, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Capture(ctx, time.Now()), context.Canceled)
	assert.Zero(t, sink.len())
}

func TestSchedulerRuns(t *testing.T) {
	sink := &memSink{}
	s, err := New(session.New(session.DefaultConfig(), time.Now()), sink, 20*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.len() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Shutdown())
}

func TestNewRejectsBadInterval(t *testing.T) {
	_, err := New(session.New(session.DefaultConfig(), time.Now()), &memSink{}, 0, nil)
	assert.Error(t, err)
}
