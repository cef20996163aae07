// Package webmonitor serves the counter page, live stream and status API.
package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

// StatusSource exposes the running session.
type StatusSource interface {
	View() session.View
}

// HistoryStore lists persisted snapshot rows.
type HistoryStore interface {
	List(ctx context.Context, sessionID string, limit int) ([]session.Record, error)
}

// Stopper ends the counting loop.
type Stopper interface {
	Stop()
}

// OfferHandler answers WebRTC SDP offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
}

// ErrTooManyClients is matched by handlers that refuse new peers.
var ErrTooManyClients = errors.New("maximum clients reached")

// Deps are the collaborators behind the HTTP surface. Only Status is required.
type Deps struct {
	Status  StatusSource
	Frames  *FrameBroadcaster
	Events  *StatusBroadcaster
	History HistoryStore
	Stopper Stopper
	WebRTC  OfferHandler
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg     Config
	deps    Deps
	started time.Time
	now     func() time.Time
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.StreamIdle <= 0 {
		cfg.StreamIdle = def.StreamIdle
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = def.Keepalive
	}
	if deps.Frames == nil {
		deps.Frames = NewFrameBroadcaster(nil)
	}
	if deps.Events == nil {
		deps.Events = NewStatusBroadcaster(nil)
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
		now:     time.Now,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("POST /api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.deps.Frames.Subscribe()
	defer s.deps.Frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.cfg.StreamIdle)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatusPayload(s.deps.Status.View(), s.now()))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(r.Context(), w, eventCh, useProtobuf, s.cfg.Keepalive)
}

// historyRow is one /api/history entry, laid out like the CSV log.
type historyRow struct {
	SessionID string    `json:"session_id"`
	Reps      int       `json:"reps"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Level     string    `json:"level"`
	Angle     float64   `json:"angle"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONWithStatus(w, map[string]any{"error": "history store is not configured"}, http.StatusServiceUnavailable)
		return
	}

	limit := s.cfg.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	// default to the running session; "all" lists every session
	sessionID := r.URL.Query().Get("session")
	switch sessionID {
	case "":
		sessionID = s.deps.Status.View().SessionID
	case "all":
		sessionID = ""
	}

	records, err := s.deps.History.List(r.Context(), sessionID, limit)
	if err != nil {
		logger.Warn("WebMonitor", "History query failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	rows := make([]historyRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, historyRow{
			SessionID: rec.SessionID,
			Reps:      rec.Count,
			Date:      rec.Date(),
			Time:      rec.Clock(),
			Level:     rec.Level,
			Angle:     rec.DerivedAngle,
			Threshold: rec.Threshold,
			Timestamp: rec.Timestamp,
		})
	}
	writeJSON(w, map[string]any{
		"session_id": sessionID,
		"rows":       rows,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stopper == nil {
		writeJSONWithStatus(w, map[string]any{"error": "loop control is not configured"}, http.StatusServiceUnavailable)
		return
	}
	s.deps.Stopper.Stop()
	logger.Info("WebMonitor", "Session stop requested from %s", r.RemoteAddr)

	v := s.deps.Status.View()
	writeJSON(w, map[string]any{
		"status":     "stopping",
		"session_id": v.SessionID,
		"reps":       v.Count,
		"stopped_at": float64(s.now().Unix()),
	})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not enabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		logger.Warn("WebMonitor", "WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"session_id":     s.deps.Status.View().SessionID,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"stream_clients": s.deps.Frames.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
