// Package session owns the repetition state of one exercise session.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/wefit/rep-counter/internal/geometry"
	"github.com/dj-oyu/wefit/rep-counter/internal/pose"
	"github.com/dj-oyu/wefit/rep-counter/internal/reps"
)

// DefaultLevel is the level label used when none is configured.
const DefaultLevel = "Easy"

// Config is read once when the session starts.
type Config struct {
	Threshold float64
	Direction reps.Direction
	Level     string
	Joint     pose.Joint
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		Threshold: reps.DefaultThreshold,
		Direction: reps.CountBelow,
		Level:     DefaultLevel,
		Joint:     pose.ReferenceJoint,
	}
}

// Session holds one detector state. Sessions never share state. The mutex
// only serves concurrent readers (web handlers, snapshot scheduler); Process
// is expected to be called from a single loop.
type Session struct {
	id        uuid.UUID
	cfg       Config
	startedAt time.Time

	mu         sync.RWMutex
	state      reps.State
	lastAngle  float64
	hasAngle   bool
	frames     uint64
	observed   uint64
	missing    uint64
	degenerate uint64
}

// New starts a session at startedAt.
func New(cfg Config, startedAt time.Time) *Session {
	if cfg.Level == "" {
		cfg.Level = DefaultLevel
	}
	return &Session{
		id:        uuid.New(),
		cfg:       cfg,
		startedAt: startedAt,
		state:     reps.NewState(cfg.Threshold, cfg.Direction),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Process consumes one frame's landmarks. It reports false when the frame had
// no usable landmarks, and returns a *geometry.DegenerateTriangleError when
// the joint angle is undefined. In both cases the state is unchanged.
func (s *Session) Process(lm pose.Landmarks) (reps.Observation, bool, error) {
	a, vertex, c, err := lm.Points(s.cfg.Joint)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++

	if errors.Is(err, pose.ErrMissingLandmarks) {
		s.missing++
		return reps.Observation{}, false, nil
	}

	raw, err := geometry.JointAngle(a, vertex, c)
	if err != nil {
		s.degenerate++
		return reps.Observation{}, false, err
	}

	next, obs := s.state.Observe(raw)
	s.state = next
	s.lastAngle = obs.DerivedAngle
	s.hasAngle = true
	s.observed++
	return obs, true, nil
}

// View is the read-only state shown by the presentation layer.
type View struct {
	SessionID    string     `json:"session_id"`
	Count        int        `json:"count"`
	DerivedAngle float64    `json:"derived_angle"`
	HasAngle     bool       `json:"has_angle"`
	Phase        reps.Phase `json:"phase"`
	Level        string     `json:"level"`
	Threshold    float64    `json:"threshold"`
	Direction    string     `json:"direction"`
	Joint        string     `json:"joint"`
	StartedAt    time.Time  `json:"started_at"`
	Frames       uint64     `json:"frames"`
	Observed     uint64     `json:"observed"`
	Missing      uint64     `json:"missing"`
	Degenerate   uint64     `json:"degenerate"`
}

// View returns the current state.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		SessionID:    s.id.String(),
		Count:        s.state.Count,
		DerivedAngle: s.lastAngle,
		HasAngle:     s.hasAngle,
		Phase:        s.state.Phase(),
		Level:        s.cfg.Level,
		Threshold:    s.cfg.Threshold,
		Direction:    s.cfg.Direction.String(),
		Joint:        s.cfg.Joint.String(),
		StartedAt:    s.startedAt,
		Frames:       s.frames,
		Observed:     s.observed,
		Missing:      s.missing,
		Degenerate:   s.degenerate,
	}
}

// Snapshot returns the loggable record for time now. It does not read the clock.
func (s *Session) Snapshot(now time.Time) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Record{
		SessionID:    s.id.String(),
		Count:        s.state.Count,
		Timestamp:    now,
		Level:        s.cfg.Level,
		Threshold:    s.cfg.Threshold,
		DerivedAngle: s.lastAngle,
	}
}
