// Package camera provides frame sources for the counting loop.
package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("camera source closed")

// Source yields camera frames. Next blocks until a frame is available or ctx
// is done.
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
	Close() error
}

// ColorBarsJPEG renders a width x height color-bar test card.
func ColorBarsJPEG(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := max(width/len(colors), 1)
	for y := range height {
		for x := range width {
			barIndex := min(x/barWidth, len(colors)-1)
			img.Set(x, y, colors[barIndex])
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PatternSource produces color-bar frames at a fixed rate. It stands in for a
// camera when landmarks come from a replay.
type PatternSource struct {
	data     []byte
	width    int
	height   int
	interval time.Duration
	frameNum atomic.Uint64
	last     time.Time
	closed   atomic.Bool
}

// NewPatternSource returns a source pacing frames at fps (unpaced if fps <= 0).
func NewPatternSource(width, height, fps int) (*PatternSource, error) {
	data, err := ColorBarsJPEG(width, height)
	if err != nil {
		return nil, err
	}
	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}
	return &PatternSource{
		data:     data,
		width:    width,
		height:   height,
		interval: interval,
	}, nil
}

// Next implements Source.
func (s *PatternSource) Next(ctx context.Context) (*types.Frame, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.interval > 0 && !s.last.IsZero() {
		wait := time.Until(s.last.Add(s.interval))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.last = time.Now()

	return &types.Frame{
		Data:      s.data,
		Format:    types.FormatJPEG,
		Timestamp: s.last,
		FrameNum:  s.frameNum.Add(1),
		Width:     s.width,
		Height:    s.height,
	}, nil
}

// Close implements Source.
func (s *PatternSource) Close() error {
	s.closed.Store(true)
	return nil
}
