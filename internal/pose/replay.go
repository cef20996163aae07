package pose

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

// ReplayEstimator returns prerecorded landmark sets in order, one per call,
// wrapping around at the end. Each input line is a JSON result object or null.
type ReplayEstimator struct {
	mu     sync.Mutex
	frames []Landmarks
	next   int
}

// NewReplayEstimator builds a replay estimator from JSON Lines.
func NewReplayEstimator(r io.Reader) (*ReplayEstimator, error) {
	var frames []Landmarks
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 || data[0] == '#' {
			continue
		}
		lm, err := decodeResult(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, lm)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("replay contains no frames")
	}
	return &ReplayEstimator{frames: frames}, nil
}

// OpenReplayEstimator loads a replay file from disk.
func OpenReplayEstimator(path string) (*ReplayEstimator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay: %w", err)
	}
	defer f.Close()
	return NewReplayEstimator(f)
}

// WriteReplayLine appends one landmark set in replay format.
func WriteReplayLine(w io.Writer, lm Landmarks) error {
	data, err := encodeResult(lm)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Len returns the number of recorded frames.
func (e *ReplayEstimator) Len() int {
	return len(e.frames)
}

// Estimate implements Estimator. The frame content is ignored.
func (e *ReplayEstimator) Estimate(ctx context.Context, _ *types.Frame) (Landmarks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	lm := e.frames[e.next]
	e.next = (e.next + 1) % len(e.frames)
	return lm, nil
}

// Close implements Estimator.
func (e *ReplayEstimator) Close() error {
	return nil
}
