package pose

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/wefit/rep-counter/internal/geometry"
	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

func TestParseLandmarkID(t *testing.T) {
	id, err := ParseLandmarkID("left_knee")
	require.NoError(t, err)
	assert.Equal(t, LeftKnee, id)
	assert.Equal(t, "LEFT_KNEE", id.String())

	_, err = ParseLandmarkID("LEFT_ELBOW_TYPO")
	assert.Error(t, err)
}

func TestParseJoint(t *testing.T) {
	j, err := ParseJoint("")
	require.NoError(t, err)
	assert.Equal(t, ReferenceJoint, j)

	j, err = ParseJoint("knee")
	require.NoError(t, err)
	assert.Equal(t, LeftKnee, j.Vertex)

	j, err = ParseJoint("RIGHT_HIP, RIGHT_KNEE, RIGHT_ANKLE")
	require.NoError(t, err)
	assert.Equal(t, Joint{A: RightHip, Vertex: RightKnee, C: RightAnkle}, j)

	_, err = ParseJoint("LEFT_HIP,LEFT_KNEE")
	assert.Error(t, err)
}

func TestLandmarksPoints(t *testing.T) {
	lm := Landmarks{
		LeftHip:   {X: 0.5, Y: 0.4},
		LeftKnee:  {X: 0.52, Y: 0.6},
		LeftAnkle: {X: 0.5, Y: 0.8},
	}
	a, v, c, err := lm.Points(ReferenceJoint)
	require.NoError(t, err)
	assert.Equal(t, geometry.Point2D{X: 0.52, Y: 0.6}, a)
	assert.Equal(t, geometry.Point2D{X: 0.5, Y: 0.4}, v)
	assert.Equal(t, geometry.Point2D{X: 0.5, Y: 0.8}, c)

	delete(lm, LeftAnkle)
	_, _, _, err = lm.Points(ReferenceJoint)
	assert.True(t, errors.Is(err, ErrMissingLandmarks))

	var none Landmarks
	_, _, _, err = none.Points(KneeJoint)
	assert.True(t, errors.Is(err, ErrMissingLandmarks))
}

func TestDecodeResult(t *testing.T) {
	lm, err := decodeResult([]byte(`{"landmarks":[
		{"name":"LEFT_HIP","x":0.1,"y":0.2,"visibility":0.9},
		{"id":25,"x":0.3,"y":0.4},
		{"name":"LEFT_PINKY","id":17,"x":0.5,"y":0.6}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, Landmark{X: 0.1, Y: 0.2, Visibility: 0.9}, lm[LeftHip])
	assert.Equal(t, Landmark{X: 0.3, Y: 0.4}, lm[LeftKnee])
	assert.Equal(t, Landmark{X: 0.5, Y: 0.6}, lm[LandmarkID(17)])

	lm, err = decodeResult([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, lm)

	lm, err = decodeResult([]byte(`{"landmarks":[]}`))
	require.NoError(t, err)
	assert.Nil(t, lm)

	_, err = decodeResult([]byte(`{"landmarks":[{"x":1,"y":1}]}`))
	assert.Error(t, err)

	_, err = decodeResult([]byte(`{"landmarks":[{"id":99,"x":1,"y":1}]}`))
	assert.Error(t, err)
}

func TestReplayEstimator(t *testing.T) {
	var buf bytes.Buffer
	first := Landmarks{LeftHip: {X: 0.5, Y: 0.4}, LeftKnee: {X: 0.5, Y: 0.6}, LeftAnkle: {X: 0.5, Y: 0.8}}
	require.NoError(t, WriteReplayLine(&buf, first))
	require.NoError(t, WriteReplayLine(&buf, nil))
	buf.WriteString("# comment\n\nnull\n")

	est, err := NewReplayEstimator(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, est.Len())

	ctx := context.Background()
	got, err := est.Estimate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = est.Estimate(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, _ = est.Estimate(ctx, nil)
	got, err = est.Estimate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, first, got, "replay wraps around")
}

func TestReplayEstimatorEmpty(t *testing.T) {
	_, err := NewReplayEstimator(strings.NewReader("\n# nothing\n"))
	assert.Error(t, err)

	_, err = NewReplayEstimator(strings.NewReader("{broken\n"))
	assert.Error(t, err)
}

func TestHTTPEstimator(t *testing.T) {
	var gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/estimate", r.URL.Path)
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		switch string(gotBody) {
		case "empty":
			w.WriteHeader(http.StatusNoContent)
		case "broken":
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"landmarks":[{"name":"LEFT_KNEE","x":0.4,"y":0.6}]}`))
		}
	}))
	defer srv.Close()

	est := NewHTTPEstimator(srv.URL+"/", time.Second)
	defer est.Close()
	ctx := context.Background()

	lm, err := est.Estimate(ctx, &types.Frame{Data: []byte("jpeg"), Format: types.FormatJPEG})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, "jpeg", string(gotBody))
	assert.Equal(t, Landmark{X: 0.4, Y: 0.6}, lm[LeftKnee])

	lm, err = est.Estimate(ctx, &types.Frame{Data: []byte("empty"), Format: types.FormatJPEG})
	require.NoError(t, err)
	assert.Nil(t, lm)

	_, err = est.Estimate(ctx, &types.Frame{Data: []byte("broken"), Format: types.FormatJPEG})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = est.Estimate(ctx, &types.Frame{Data: []byte{1}, Format: types.FormatNV12})
	assert.Error(t, err)

	lm, err = est.Estimate(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, lm)
}
