package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/wefit/rep-counter/internal/camera"
	"github.com/dj-oyu/wefit/rep-counter/internal/config"
	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/internal/metrics"
	"github.com/dj-oyu/wefit/rep-counter/internal/overlay"
	"github.com/dj-oyu/wefit/rep-counter/internal/pipeline"
	"github.com/dj-oyu/wefit/rep-counter/internal/pose"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
	"github.com/dj-oyu/wefit/rep-counter/internal/snapshot"
	"github.com/dj-oyu/wefit/rep-counter/internal/trainlog"
	"github.com/dj-oyu/wefit/rep-counter/internal/webmonitor"
	"github.com/dj-oyu/wefit/rep-counter/internal/webrtc"
)

// App wires one counting session to its collaborators.
type App struct {
	cfg       config.Config
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	metrics   *metrics.Metrics
	session   *session.Session
	source    camera.Source
	estimator pose.Estimator
	runner    *pipeline.Runner
	frames    *webmonitor.FrameBroadcaster
	events    *webmonitor.StatusBroadcaster
	webrtc    *webrtc.Server
	csv       *trainlog.CSVWriter
	store     *trainlog.Store
	scheduler *snapshot.Scheduler

	httpServer *http.Server
}

func main() {
	envFile := os.Getenv(config.EnvPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	var pprofAddr string

	flag.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Derived angle threshold in degrees")
	flag.StringVar(&cfg.Direction, "direction", cfg.Direction, "Count when the derived angle is below or above the threshold")
	flag.StringVar(&cfg.Level, "level", cfg.Level, "Level label shown and logged")
	flag.StringVar(&cfg.Joint, "joint", cfg.Joint, "Tracked joint (reference, knee, or A,VERTEX,C landmark names)")

	flag.StringVar(&cfg.Source, "source", cfg.Source, "Frame source (pattern, mjpeg, shm)")
	flag.StringVar(&cfg.SourceURL, "source-url", cfg.SourceURL, "MJPEG stream URL")
	flag.StringVar(&cfg.SHMName, "shm", cfg.SHMName, "Shared memory name")
	flag.IntVar(&cfg.Width, "width", cfg.Width, "Pattern frame width")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "Pattern frame height")
	flag.IntVar(&cfg.FPS, "fps", cfg.FPS, "Pattern frame rate")

	flag.StringVar(&cfg.Estimator, "estimator", cfg.Estimator, "Pose estimator (http, replay)")
	flag.StringVar(&cfg.EstimatorURL, "estimator-url", cfg.EstimatorURL, "Pose sidecar base URL")
	flag.DurationVar(&cfg.EstimatorTimeout, "estimator-timeout", cfg.EstimatorTimeout, "Pose sidecar request timeout")
	flag.StringVar(&cfg.ReplayFile, "replay", cfg.ReplayFile, "Landmark replay file (JSON Lines)")

	flag.BoolVar(&cfg.Overlay, "overlay", cfg.Overlay, "Draw joint and counter overlay on streamed frames")
	flag.Float64Var(&cfg.FontSize, "font-size", cfg.FontSize, "Overlay font size in points (0 for bitmap font)")
	flag.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "Overlay JPEG quality")

	flag.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "Training log snapshot interval")
	flag.StringVar(&cfg.CSVDir, "csv-dir", cfg.CSVDir, "Training CSV directory (empty disables)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Training SQLite database (empty disables)")

	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty disables)")
	flag.StringVar(&pprofAddr, "pprof", "", "pprof server address (empty disables)")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Extra web assets directory")
	flag.BoolVar(&cfg.WebRTC, "webrtc", cfg.WebRTC, "Enable the WebRTC status data channel")
	flag.StringVar(&cfg.ICEServers, "stun", cfg.ICEServers, "STUN server URLs (comma-separated)")
	flag.IntVar(&cfg.MaxClients, "max-clients", cfg.MaxClients, "Maximum WebRTC clients")

	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this rotated file")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	var output io.Writer = os.Stderr
	var logFile io.WriteCloser
	if cfg.LogFile != "" {
		logFile = logger.OpenFile(logger.FileOptions{Path: cfg.LogFile, MaxBackups: 5, MaxAgeDays: 30})
		output = io.MultiWriter(os.Stderr, logFile)
	}
	logger.Init(level, output, cfg.LogColor && cfg.LogFile == "")

	logger.Info("Main", "Rep counter starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	// Wait for a shutdown signal or the loop ending (Interrupt Script)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Main", "Received %s, shutting down...", sig)
	case <-app.runner.Done():
		logger.Info("Main", "Counting loop ended, shutting down...")
	}

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
	if logFile != nil {
		_ = logFile.Close()
	}
}

// NewApp builds every component from cfg.
func NewApp(cfg config.Config) (*App, error) {
	sessCfg, err := cfg.Session()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.New(),
		session: session.New(sessCfg, time.Now()),
	}
	app.frames = webmonitor.NewFrameBroadcaster(app.metrics)
	app.events = webmonitor.NewStatusBroadcaster(app.metrics)

	if err := app.openSource(); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.openEstimator(); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.openTrainLog(); err != nil {
		app.closeAll()
		return nil, err
	}

	var renderer *overlay.Renderer
	if cfg.Overlay {
		renderer, err = overlay.NewRenderer(cfg.FontSize, cfg.JPEGQuality)
		if err != nil {
			app.closeAll()
			return nil, err
		}
	}

	app.runner = pipeline.New(app.source, app.estimator, app.session, pipeline.Options{
		Renderer: renderer,
		Frames:   app.frames,
		Events:   app.events,
		Metrics:  app.metrics,
	})

	deps := webmonitor.Deps{
		Status:  app.session,
		Frames:  app.frames,
		Events:  app.events,
		Stopper: app.runner,
	}
	if app.store != nil {
		deps.History = app.store
	}
	if cfg.WebRTC {
		app.webrtc = webrtc.NewServer(cfg.ICEServerList(), cfg.MaxClients, app.metrics)
		deps.WebRTC = app.webrtc
	}

	webCfg := webmonitor.DefaultConfig()
	webCfg.Addr = cfg.HTTPAddr
	webCfg.AssetsDir = cfg.AssetsDir
	app.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: webmonitor.NewServer(webCfg, deps).Handler(),
	}
	return app, nil
}

func (a *App) openSource() error {
	switch a.cfg.Source {
	case config.SourceMJPEG:
		a.source = camera.NewMJPEGSource(a.cfg.SourceURL)
	case config.SourceSHM:
		src, err := camera.NewSHMSource(a.cfg.SHMName)
		if err != nil {
			return fmt.Errorf("failed to open shared memory source: %w", err)
		}
		a.source = src
	default:
		src, err := camera.NewPatternSource(a.cfg.Width, a.cfg.Height, a.cfg.FPS)
		if err != nil {
			return fmt.Errorf("failed to create pattern source: %w", err)
		}
		a.source = src
	}
	return nil
}

func (a *App) openEstimator() error {
	switch a.cfg.Estimator {
	case config.EstimatorReplay:
		est, err := pose.OpenReplayEstimator(a.cfg.ReplayFile)
		if err != nil {
			return err
		}
		logger.Info("Main", "Replaying %d landmark frames from %s", est.Len(), a.cfg.ReplayFile)
		a.estimator = est
	default:
		a.estimator = pose.NewHTTPEstimator(a.cfg.EstimatorURL, a.cfg.EstimatorTimeout)
	}
	return nil
}

func (a *App) openTrainLog() error {
	var sinks trainlog.MultiSink

	if a.cfg.CSVDir != "" {
		if err := os.MkdirAll(a.cfg.CSVDir, 0755); err != nil {
			return fmt.Errorf("failed to create CSV directory: %w", err)
		}
		a.csv = trainlog.NewCSVWriter(a.cfg.CSVDir)
		if err := a.csv.Start(time.Now()); err != nil {
			return err
		}
		logger.Info("Main", "Training CSV: %s", a.csv.Path())
		sinks = append(sinks, a.csv)
	}
	if a.cfg.DBPath != "" {
		store, err := trainlog.OpenStore(a.cfg.DBPath)
		if err != nil {
			return err
		}
		a.store = store
		logger.Info("Main", "Training database: %s", a.cfg.DBPath)
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		logger.Warn("Main", "No training log configured; snapshots are disabled")
		return nil
	}

	scheduler, err := snapshot.New(a.session, sinks, a.cfg.SnapshotInterval, a.metrics)
	if err != nil {
		return err
	}
	a.scheduler = scheduler
	return nil
}

// Start launches the servers, the scheduler and the counting loop.
func (a *App) Start() error {
	logger.Info("Main", "Session: %s", a.session.ID())
	logger.Info("Main", "  Source: %s  Estimator: %s", a.cfg.Source, a.cfg.Estimator)
	logger.Info("Main", "  Threshold: %.0f (%s)  Level: %s  Joint: %s",
		a.cfg.Threshold, a.cfg.Direction, a.cfg.Level, a.cfg.Joint)
	logger.Info("Main", "  HTTP server: %s", a.cfg.HTTPAddr)

	if a.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.cfg.MetricsAddr)
			if err := a.metrics.StartServer(a.cfg.MetricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", a.cfg.HTTPAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if a.scheduler != nil {
		if err := a.scheduler.Start(a.ctx); err != nil {
			return err
		}
	}

	if a.webrtc != nil {
		id, ch := a.events.Subscribe()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.events.Unsubscribe(id)
			a.webrtc.Relay(ch)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.runner.Run(a.ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		default:
			logger.Error("Main", "Counting loop stopped: %v", err)
		}
	}()

	logger.Info("Main", "Started")
	return nil
}

// Shutdown stops the loop, writes a final snapshot and closes everything.
func (a *App) Shutdown() error {
	a.runner.Stop()
	<-a.runner.Done()

	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		// final row so short sessions are never lost
		if err := a.scheduler.Capture(context.Background(), time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}

	a.cancel()
	a.frames.Close()
	a.events.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	a.wg.Wait()
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	if a.webrtc != nil {
		errs = append(errs, a.webrtc.Close())
	}
	if a.source != nil {
		errs = append(errs, a.source.Close())
	}
	if a.estimator != nil {
		errs = append(errs, a.estimator.Close())
	}
	if a.csv != nil {
		errs = append(errs, a.csv.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
