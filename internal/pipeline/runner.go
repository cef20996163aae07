// Package pipeline runs the per-frame counting loop: read a frame, estimate
// the pose, update the session, then publish the frame and status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/wefit/rep-counter/internal/camera"
	"github.com/dj-oyu/wefit/rep-counter/internal/geometry"
	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/internal/metrics"
	"github.com/dj-oyu/wefit/rep-counter/internal/overlay"
	"github.com/dj-oyu/wefit/rep-counter/internal/pose"
	"github.com/dj-oyu/wefit/rep-counter/internal/reps"
	"github.com/dj-oyu/wefit/rep-counter/internal/session"
	"github.com/dj-oyu/wefit/rep-counter/internal/webmonitor"
	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

// FramePublisher receives rendered JPEG frames.
type FramePublisher interface {
	Publish(data []byte) int
	ClientCount() int
}

// StatusPublisher receives serialized status events.
type StatusPublisher interface {
	Publish(event *webmonitor.SerializedEvent)
}

// Options are the optional collaborators of a Runner.
type Options struct {
	Renderer *overlay.Renderer // nil publishes frames untouched
	Frames   FramePublisher
	Events   StatusPublisher
	Metrics  *metrics.Metrics

	// Source retry backoff
	RetryMin time.Duration
	RetryMax time.Duration

	Now func() time.Time
}

// Runner owns the counting loop for one session.
type Runner struct {
	source    camera.Source
	estimator pose.Estimator
	session   *session.Session
	opts      Options

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	estimatorFailures uint64
}

// New wires a runner. Run must be called at most once.
func New(source camera.Source, estimator pose.Estimator, sess *session.Session, opts Options) *Runner {
	if opts.RetryMin <= 0 {
		opts.RetryMin = 100 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Runner{
		source:    source,
		estimator: estimator,
		session:   sess,
		opts:      opts,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Stop asks the loop to finish after the current frame.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Run processes frames until Stop, ctx cancellation, or the source closing.
// It returns nil after Stop, ctx.Err() on cancellation and a wrapped
// camera.ErrClosed when the source ends.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("Pipeline", "Session %s started (joint=%s threshold=%.0f direction=%s)",
		r.session.ID(), r.session.Config().Joint, r.session.Config().Threshold, r.session.Config().Direction)

	backoff := r.opts.RetryMin
	for {
		if r.stopped() {
			return r.finish(nil)
		}

		frame, err := r.source.Next(ctx)
		if err != nil {
			switch {
			case r.stopped():
				return r.finish(nil)
			case ctx.Err() != nil:
				return r.finish(ctx.Err())
			case errors.Is(err, camera.ErrClosed):
				return r.finish(fmt.Errorf("frame source ended: %w", err))
			}

			r.opts.Metrics.SourceErrors.Add(1)
			logger.Warn("Pipeline", "Frame source error (retry in %v): %v", backoff, err)
			if !r.sleep(ctx, backoff) {
				if r.stopped() {
					return r.finish(nil)
				}
				return r.finish(ctx.Err())
			}
			backoff = min(backoff*2, r.opts.RetryMax)
			continue
		}
		backoff = r.opts.RetryMin

		r.processFrame(ctx, frame)
	}
}

func (r *Runner) finish(err error) error {
	v := r.session.View()
	logger.Info("Pipeline", "Session %s finished: %d reps over %d frames", v.SessionID, v.Count, v.Frames)
	return err
}

func (r *Runner) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Runner) processFrame(ctx context.Context, frame *types.Frame) {
	m := r.opts.Metrics
	m.FramesRead.Add(1)
	start := time.Now()

	lm, err := r.estimator.Estimate(ctx, frame)
	m.UpdateEstimateLatency(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.EstimatorErrors.Add(1)
		r.estimatorFailures++
		if r.estimatorFailures == 1 || r.estimatorFailures%100 == 0 {
			logger.Warn("Pipeline", "Pose estimation failed (%d so far): %v", r.estimatorFailures, err)
		}
	} else {
		r.observe(frame, lm)
	}

	now := r.opts.Now()
	view := r.session.View()
	r.publishFrame(frame, lm, view, now)
	r.publishStatus(view, now)
	m.UpdateProcessLatency(time.Since(start))
}

func (r *Runner) observe(frame *types.Frame, lm pose.Landmarks) {
	m := r.opts.Metrics
	obs, ok, err := r.session.Process(lm)

	var degenerate *geometry.DegenerateTriangleError
	switch {
	case errors.As(err, &degenerate):
		m.FramesDegenerate.Add(1)
		logger.Debug("Pipeline", "Frame #%d skipped: %v", frame.FrameNum, err)
		return
	case err != nil:
		logger.Warn("Pipeline", "Frame #%d: %v", frame.FrameNum, err)
		return
	case !ok:
		m.FramesNoLandmarks.Add(1)
		return
	}

	m.FramesProcessed.Add(1)
	m.Repetitions.Store(uint64(obs.Count))
	m.SetDerivedAngle(obs.DerivedAngle)
	if obs.Phase == reps.Contracted {
		m.Contracted.Store(1)
	} else {
		m.Contracted.Store(0)
	}
	if obs.Counted {
		logger.Info("Pipeline", "Repetition %d (angle %.0f)", obs.Count, obs.DerivedAngle)
	}
}

func (r *Runner) publishFrame(frame *types.Frame, lm pose.Landmarks, view session.View, now time.Time) {
	if r.opts.Frames == nil || r.opts.Frames.ClientCount() == 0 || frame.Format != types.FormatJPEG {
		return
	}

	data := frame.Data
	if r.opts.Renderer != nil {
		panel := overlay.Panel{
			Reps:     view.Count,
			Date:     now.Format("02/01/2006"),
			Clock:    now.Format("15:04:05"),
			Level:    view.Level,
			Angle:    view.DerivedAngle,
			HasAngle: view.HasAngle,
		}
		out, err := r.opts.Renderer.Render(frame, lm, r.session.Config().Joint, panel)
		if err != nil {
			r.opts.Metrics.OverlayErrors.Add(1)
			logger.Debug("Pipeline", "Overlay failed for frame #%d: %v", frame.FrameNum, err)
		} else {
			data = out.Data
		}
	}
	r.opts.Frames.Publish(data)
}

func (r *Runner) publishStatus(view session.View, now time.Time) {
	if r.opts.Events == nil {
		return
	}
	event, err := webmonitor.EncodeStatus(view, now)
	if err != nil {
		logger.Error("Pipeline", "Status encode failed: %v", err)
		return
	}
	r.opts.Events.Publish(event)
}
