package webmonitor

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/wefit/rep-counter/internal/pose"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

type fakeHistory struct {
	gotSession string
	gotLimit   int
	records    []session.Record
	err        error
}

func (f *fakeHistory) List(_ context.Context, sessionID string, limit int) ([]session.Record, error) {
	f.gotSession = sessionID
	f.gotLimit = limit
	return f.records, f.err
}

type fakeStopper struct{ calls int }

func (f *fakeStopper) Stop() { f.calls++ }

type fakeOffer struct {
	answer []byte
	err    error
}

func (f fakeOffer) HandleOffer([]byte) ([]byte, error) { return f.answer, f.err }

func newTestServer(t *testing.T, deps Deps) (*Server, *session.Session) {
	t.Helper()
	sess := session.New(session.DefaultConfig(), time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC))
	deps.Status = sess
	cfg := DefaultConfig()
	cfg.Keepalive = 50 * time.Millisecond
	cfg.StreamIdle = 50 * time.Millisecond
	srv := NewServer(cfg, deps)
	srv.now = func() time.Time { return time.Date(2026, 3, 4, 9, 20, 0, 0, time.UTC) }
	return srv, sess
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestIndex(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	for _, label := range []string{"Reps", "Date", "Time", "Level", "Squat Angle", "Interrupt Script"} {
		assert.Contains(t, rec.Body.String(), label)
	}

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/assets/app.js", nil).Code)
}

func TestStatus(t *testing.T) {
	srv, sess := newTestServer(t, Deps{})
	h := srv.Handler()

	payload := decodeJSON(t, do(t, h, http.MethodGet, "/api/status", nil))
	assert.Equal(t, sess.ID().String(), payload["session_id"])
	assert.Equal(t, 0.0, payload["reps"])
	assert.Nil(t, payload["derived_angle"])
	assert.Equal(t, "relaxed", payload["phase"])
	assert.Equal(t, "Easy", payload["level"])
	assert.Equal(t, "04/03/2026", payload["date"])
	assert.Equal(t, "09:20:00", payload["time"])

	// straight leg on the reference joint: derived 180
	_, ok, err := sess.Process(pose.Landmarks{
		pose.LeftHip:   {X: 0.5, Y: 0.3},
		pose.LeftKnee:  {X: 0.5, Y: 0.5},
		pose.LeftAnkle: {X: 0.5, Y: 0.7},
	})
	require.NoError(t, err)
	require.True(t, ok)

	payload = decodeJSON(t, do(t, h, http.MethodGet, "/api/status", nil))
	assert.Equal(t, 180.0, payload["derived_angle"])
	frames := payload["frames"].(map[string]any)
	assert.Equal(t, 1.0, frames["observed"])

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/status", nil).Code)
}

func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func TestStatusStream(t *testing.T) {
	events := NewStatusBroadcaster(nil)
	srv, sess := newTestServer(t, Deps{Events: events})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	event, err := EncodeStatus(sess.View(), srv.now())
	require.NoError(t, err)
	events.Publish(event)

	t.Run("json", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/status/stream", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(readSSEData(t, bufio.NewReader(resp.Body))), &payload))
		assert.Equal(t, sess.ID().String(), payload["session_id"])
	})

	t.Run("protobuf", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/status/stream", nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "application/protobuf")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))

		raw, err := base64.StdEncoding.DecodeString(readSSEData(t, bufio.NewReader(resp.Body)))
		require.NoError(t, err)
		var st structpb.Struct
		require.NoError(t, proto.Unmarshal(raw, &st))
		assert.Equal(t, "Easy", st.Fields["level"].GetStringValue())
		assert.Equal(t, 0.0, st.Fields["reps"].GetNumberValue())
		_, isNull := st.Fields["derived_angle"].GetKind().(*structpb.Value_NullValue)
		assert.True(t, isNull)
	})

	t.Run("keepalive", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/status/stream", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		r := bufio.NewReader(resp.Body)
		readSSEData(t, r)
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, ": keepalive") {
				return
			}
		}
	})
}

func TestStreamMJPEG(t *testing.T) {
	frames := NewFrameBroadcaster(nil)
	srv, _ := newTestServer(t, Deps{Frames: frames})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/x-mixed-replace", mediaType)

	require.Eventually(t, func() bool { return frames.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	frame := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	require.Equal(t, 1, frames.Publish(frame))

	// the blank card comes first and repeats while idle
	mr := multipart.NewReader(resp.Body, params["boundary"])
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	blank, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, blank[:2])

	found := false
	for range 5 {
		part, err = mr.NextPart()
		require.NoError(t, err)
		got, err := io.ReadAll(part)
		require.NoError(t, err)
		if assert.ObjectsAreEqual(frame, got) {
			found = true
			break
		}
		assert.Equal(t, blank, got)
	}
	assert.True(t, found, "published frame was streamed")

	cancel()
	require.Eventually(t, func() bool { return frames.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHistory(t *testing.T) {
	at := time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC)
	store := &fakeHistory{records: []session.Record{
		{SessionID: "s1", Count: 4, Timestamp: at, Level: "Easy", Threshold: 40, DerivedAngle: 12},
	}}
	srv, sess := newTestServer(t, Deps{History: store})
	h := srv.Handler()

	payload := decodeJSON(t, do(t, h, http.MethodGet, "/api/history", nil))
	assert.Equal(t, sess.ID().String(), store.gotSession)
	assert.Equal(t, DefaultConfig().HistoryLimit, store.gotLimit)
	rows := payload["rows"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, 4.0, row["reps"])
	assert.Equal(t, "04/03/2026", row["date"])
	assert.Equal(t, "09:05:00", row["time"])
	assert.Equal(t, 12.0, row["angle"])

	do(t, h, http.MethodGet, "/api/history?session=all&limit=5", nil)
	assert.Equal(t, "", store.gotSession)
	assert.Equal(t, 5, store.gotLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/history?limit=zero", nil).Code)

	store.err = errors.New("db locked")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/api/history", nil).Code)

	bare, _ := newTestServer(t, Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, bare.Handler(), http.MethodGet, "/api/history", nil).Code)
}

func TestStop(t *testing.T) {
	stopper := &fakeStopper{}
	srv, _ := newTestServer(t, Deps{Stopper: stopper})
	h := srv.Handler()

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/session/stop", nil).Code)

	payload := decodeJSON(t, do(t, h, http.MethodPost, "/api/session/stop", nil))
	assert.Equal(t, "stopping", payload["status"])
	assert.Equal(t, 1, stopper.calls)

	bare, _ := newTestServer(t, Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, bare.Handler(), http.MethodPost, "/api/session/stop", nil).Code)
}

func TestWebRTCOffer(t *testing.T) {
	offer := `{"type":"offer","sdp":"v=0"}`

	bare, _ := newTestServer(t, Deps{})
	assert.Equal(t, http.StatusServiceUnavailable,
		do(t, bare.Handler(), http.MethodPost, "/api/webrtc/offer", strings.NewReader(offer)).Code)

	srv, _ := newTestServer(t, Deps{WebRTC: fakeOffer{answer: []byte(`{"type":"answer","sdp":"v=0"}`)}})
	h := srv.Handler()

	for _, body := range []string{"not json", `{"type":"offer"}`, `{"sdp":"v=0"}`} {
		rec := do(t, h, http.MethodPost, "/api/webrtc/offer", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	payload := decodeJSON(t, do(t, h, http.MethodPost, "/api/webrtc/offer", strings.NewReader(offer)))
	assert.Equal(t, "answer", payload["type"])

	full, _ := newTestServer(t, Deps{WebRTC: fakeOffer{err: fmt.Errorf("%w (2)", ErrTooManyClients)}})
	assert.Equal(t, http.StatusServiceUnavailable,
		do(t, full.Handler(), http.MethodPost, "/api/webrtc/offer", strings.NewReader(offer)).Code)

	broken, _ := newTestServer(t, Deps{WebRTC: fakeOffer{err: errors.New("bad sdp")}})
	assert.Equal(t, http.StatusInternalServerError,
		do(t, broken.Handler(), http.MethodPost, "/api/webrtc/offer", strings.NewReader(offer)).Code)
}

func TestHealth(t *testing.T) {
	srv, sess := newTestServer(t, Deps{})
	payload := decodeJSON(t, do(t, srv.Handler(), http.MethodGet, "/health", nil))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, sess.ID().String(), payload["session_id"])
	assert.Equal(t, 0.0, payload["stream_clients"])
}
