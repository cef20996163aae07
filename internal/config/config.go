// Package config holds the counter's runtime settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/internal/pose"
	"github.com/dj-oyu/wefit/rep-counter/internal/reps"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
	"github.com/dj-oyu/wefit/rep-counter/internal/snapshot"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WEFIT_"

// Frame sources
const (
	SourcePattern = "pattern"
	SourceMJPEG   = "mjpeg"
	SourceSHM     = "shm"
)

// Pose estimators
const (
	EstimatorHTTP   = "http"
	EstimatorReplay = "replay"
)

// Config is the full runtime configuration.
type Config struct {
	// Counting
	Threshold float64
	Direction string
	Level     string
	Joint     string

	// Frame source
	Source    string
	SourceURL string
	SHMName   string
	Width     int
	Height    int
	FPS       int

	// Pose estimation
	Estimator        string
	EstimatorURL     string
	EstimatorTimeout time.Duration
	ReplayFile       string

	// Overlay
	Overlay     bool
	FontSize    float64
	JPEGQuality int

	// Training log
	SnapshotInterval time.Duration
	CSVDir           string
	DBPath           string

	// Serving
	HTTPAddr    string
	MetricsAddr string
	AssetsDir   string
	WebRTC      bool
	ICEServers  string
	MaxClients  int

	// Logging
	LogLevel string
	LogFile  string
	LogColor bool
}

// DefaultConfig returns the stock settings: threshold 40, level "Easy",
// one snapshot every 300 seconds.
func DefaultConfig() Config {
	return Config{
		Threshold: reps.DefaultThreshold,
		Direction: reps.CountBelow.String(),
		Level:     session.DefaultLevel,
		Joint:     "reference",

		Source:  SourcePattern,
		SHMName: "/pet_camera_mjpeg_frame",
		Width:   640,
		Height:  480,
		FPS:     15,

		Estimator:        EstimatorHTTP,
		EstimatorURL:     "http://localhost:8500",
		EstimatorTimeout: 2 * time.Second,

		Overlay:     true,
		FontSize:    18,
		JPEGQuality: 80,

		SnapshotInterval: snapshot.DefaultInterval,
		CSVDir:           ".",

		HTTPAddr:   ":8080",
		ICEServers: "stun:stun.l.google.com:19302",
		MaxClients: 4,

		LogLevel: "info",
		LogColor: true,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 || c.Threshold > 180 {
		errs = append(errs, fmt.Errorf("threshold %v out of range [0, 180]", c.Threshold))
	}
	if _, err := reps.ParseDirection(c.Direction); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Level) == "" {
		errs = append(errs, errors.New("level must not be empty"))
	}
	if _, err := pose.ParseJoint(c.Joint); err != nil {
		errs = append(errs, err)
	}

	switch c.Source {
	case SourcePattern:
		if c.Width <= 0 || c.Height <= 0 {
			errs = append(errs, fmt.Errorf("pattern size %dx%d must be positive", c.Width, c.Height))
		}
	case SourceMJPEG:
		if c.SourceURL == "" {
			errs = append(errs, errors.New("mjpeg source needs a source URL"))
		}
	case SourceSHM:
		if c.SHMName == "" {
			errs = append(errs, errors.New("shm source needs a shared memory name"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}

	switch c.Estimator {
	case EstimatorHTTP:
		if c.EstimatorURL == "" {
			errs = append(errs, errors.New("http estimator needs an estimator URL"))
		}
	case EstimatorReplay:
		if c.ReplayFile == "" {
			errs = append(errs, errors.New("replay estimator needs a replay file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown estimator %q", c.Estimator))
	}

	if c.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Errorf("snapshot interval %v must be positive", c.SnapshotInterval))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality %d out of range [1, 100]", c.JPEGQuality))
	}
	if c.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("max clients %d must not be negative", c.MaxClients))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Session converts the counting fields.
func (c Config) Session() (session.Config, error) {
	dir, err := reps.ParseDirection(c.Direction)
	if err != nil {
		return session.Config{}, err
	}
	joint, err := pose.ParseJoint(c.Joint)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Threshold: c.Threshold,
		Direction: dir,
		Level:     c.Level,
		Joint:     joint,
	}, nil
}

// ICEServerList splits the comma separated ICE server setting.
func (c Config) ICEServerList() []string {
	var out []string
	for _, s := range strings.Split(c.ICEServers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type envVar struct {
	key string
	set func(string) error
}

func stringVar(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func intVar(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func floatVar(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p = f
		return nil
	}
}

func boolVar(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func durationVar(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			// bare numbers are seconds
			secs, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return err
			}
			d = time.Duration(secs * float64(time.Second))
		}
		*p = d
		return nil
	}
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{"THRESHOLD", floatVar(&c.Threshold)},
		{"DIRECTION", stringVar(&c.Direction)},
		{"LEVEL", stringVar(&c.Level)},
		{"JOINT", stringVar(&c.Joint)},

		{"SOURCE", stringVar(&c.Source)},
		{"SOURCE_URL", stringVar(&c.SourceURL)},
		{"SHM_NAME", stringVar(&c.SHMName)},
		{"WIDTH", intVar(&c.Width)},
		{"HEIGHT", intVar(&c.Height)},
		{"FPS", intVar(&c.FPS)},

		{"ESTIMATOR", stringVar(&c.Estimator)},
		{"ESTIMATOR_URL", stringVar(&c.EstimatorURL)},
		{"ESTIMATOR_TIMEOUT", durationVar(&c.EstimatorTimeout)},
		{"REPLAY_FILE", stringVar(&c.ReplayFile)},

		{"OVERLAY", boolVar(&c.Overlay)},
		{"FONT_SIZE", floatVar(&c.FontSize)},
		{"JPEG_QUALITY", intVar(&c.JPEGQuality)},

		{"SNAPSHOT_INTERVAL", durationVar(&c.SnapshotInterval)},
		{"CSV_DIR", stringVar(&c.CSVDir)},
		{"DB_PATH", stringVar(&c.DBPath)},

		{"HTTP_ADDR", stringVar(&c.HTTPAddr)},
		{"METRICS_ADDR", stringVar(&c.MetricsAddr)},
		{"ASSETS_DIR", stringVar(&c.AssetsDir)},
		{"WEBRTC", boolVar(&c.WebRTC)},
		{"ICE_SERVERS", stringVar(&c.ICEServers)},
		{"MAX_CLIENTS", intVar(&c.MaxClients)},

		{"LOG_LEVEL", stringVar(&c.LogLevel)},
		{"LOG_FILE", stringVar(&c.LogFile)},
		{"LOG_COLOR", boolVar(&c.LogColor)},
	}
}

// ApplyEnv overrides fields from WEFIT_* variables found by lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, v := range c.envVars() {
		key := EnvPrefix + v.key
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		if err := v.set(strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", key, raw, err))
		}
	}
	return errors.Join(errs...)
}
