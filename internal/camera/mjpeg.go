package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

// maxPartSize bounds a single JPEG part.
const maxPartSize = 8 << 20

// MJPEGSource reads a multipart/x-mixed-replace JPEG stream over HTTP, such as
// an IP camera or another monitor's /stream endpoint. A broken stream is
// reopened on the next call to Next.
type MJPEGSource struct {
	url    string
	client *http.Client

	mu         sync.Mutex
	body       io.ReadCloser
	parts      *multipart.Reader
	connCancel context.CancelFunc
	frameNum   uint64
	closed     bool
}

// NewMJPEGSource returns a source for url. The stream is opened lazily.
func NewMJPEGSource(url string) *MJPEGSource {
	return &MJPEGSource{
		url: url,
		// No overall timeout: the response body is an endless stream.
		client: &http.Client{},
	}
}

// open connects with a context owned by the connection, so the stream can
// outlive the ctx of the Next call that opened it.
func (s *MJPEGSource) open() error {
	connCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("stream returned %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("not a multipart stream: %q", resp.Header.Get("Content-Type"))
	}

	s.connCancel = cancel
	s.body = resp.Body
	s.parts = multipart.NewReader(resp.Body, params["boundary"])
	logger.Info("Camera", "Opened MJPEG stream %s", s.url)
	return nil
}

func (s *MJPEGSource) resetLocked() {
	if s.connCancel != nil {
		s.connCancel()
	}
	if s.body != nil {
		s.body.Close()
	}
	s.connCancel = nil
	s.body = nil
	s.parts = nil
}

// Next implements Source.
func (s *MJPEGSource) Next(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.parts == nil {
		if err := s.open(); err != nil {
			return nil, err
		}
	}

	// A cancelled caller tears the connection down to unblock the read.
	stop := context.AfterFunc(ctx, s.connCancel)
	defer stop()

	for {
		part, err := s.parts.NextPart()
		if err != nil {
			s.resetLocked()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("stream interrupted: %w", err)
		}

		if ct := part.Header.Get("Content-Type"); ct != "" && ct != "image/jpeg" {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, maxPartSize))
		part.Close()
		if err != nil {
			s.resetLocked()
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			logger.Debug("Camera", "Skipping undecodable part: %v", err)
			continue
		}

		s.frameNum++
		return &types.Frame{
			Data:      data,
			Format:    types.FormatJPEG,
			Timestamp: time.Now(),
			FrameNum:  s.frameNum,
			Width:     cfg.Width,
			Height:    cfg.Height,
		}, nil
	}
}

// Close implements Source. Callers must not hold a pending Next; cancel its
// ctx first.
func (s *MJPEGSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.resetLocked()
	return nil
}
