package pose

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

// HTTPEstimator delegates estimation to an inference sidecar. Each frame is
// POSTed as image/jpeg and the response is a JSON landmark list.
type HTTPEstimator struct {
	url    string
	client *http.Client
}

// NewHTTPEstimator returns an estimator posting to baseURL + "/estimate".
func NewHTTPEstimator(baseURL string, timeout time.Duration) *HTTPEstimator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPEstimator{
		url:    strings.TrimRight(baseURL, "/") + "/estimate",
		client: &http.Client{Timeout: timeout},
	}
}

// Estimate implements Estimator.
func (e *HTTPEstimator) Estimate(ctx context.Context, frame *types.Frame) (Landmarks, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, nil
	}
	if frame.Format != types.FormatJPEG {
		return nil, fmt.Errorf("unsupported frame format %s", frame.Format)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("estimator unavailable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read estimator response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeResult(body)
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("estimator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// Close implements Estimator.
func (e *HTTPEstimator) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
