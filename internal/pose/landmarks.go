// Package pose defines the boundary with the external pose-estimation model.
package pose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dj-oyu/wefit/rep-counter/internal/geometry"
	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

// LandmarkID is a body landmark index following the MediaPipe Pose convention.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
type LandmarkID int

const (
	Nose          LandmarkID = 0
	LeftShoulder  LandmarkID = 11
	RightShoulder LandmarkID = 12
	LeftHip       LandmarkID = 23
	RightHip      LandmarkID = 24
	LeftKnee      LandmarkID = 25
	RightKnee     LandmarkID = 26
	LeftAnkle     LandmarkID = 27
	RightAnkle    LandmarkID = 28
	NumLandmarks  = 33
)

var landmarkNames = map[LandmarkID]string{
	Nose:          "NOSE",
	LeftShoulder:  "LEFT_SHOULDER",
	RightShoulder: "RIGHT_SHOULDER",
	LeftHip:       "LEFT_HIP",
	RightHip:      "RIGHT_HIP",
	LeftKnee:      "LEFT_KNEE",
	RightKnee:     "RIGHT_KNEE",
	LeftAnkle:     "LEFT_ANKLE",
	RightAnkle:    "RIGHT_ANKLE",
}

func (id LandmarkID) String() string {
	if name, ok := landmarkNames[id]; ok {
		return name
	}
	return fmt.Sprintf("LANDMARK_%d", int(id))
}

// ParseLandmarkID parses a MediaPipe landmark name such as "LEFT_KNEE".
func ParseLandmarkID(s string) (LandmarkID, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for id, n := range landmarkNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown landmark: %s", s)
}

// Landmark is one located body point. X and Y are normalized to [0, 1].
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility"`
}

// Point returns the landmark's 2D position.
func (l Landmark) Point() geometry.Point2D {
	return geometry.Point2D{X: l.X, Y: l.Y}
}

// Landmarks is the set of landmarks found in one frame.
// A nil set means no person was found.
type Landmarks map[LandmarkID]Landmark

// ErrMissingLandmarks is returned when a frame has no usable landmark set.
var ErrMissingLandmarks = errors.New("missing landmarks")

// Joint names the three landmarks whose angle is measured, Vertex in the middle.
type Joint struct {
	A      LandmarkID
	Vertex LandmarkID
	C      LandmarkID
}

var (
	// ReferenceJoint feeds knee, hip and ankle in that order, measuring at the hip.
	ReferenceJoint = Joint{A: LeftKnee, Vertex: LeftHip, C: LeftAnkle}
	// KneeJoint measures the left knee flexion.
	KneeJoint = Joint{A: LeftHip, Vertex: LeftKnee, C: LeftAnkle}
)

// ParseJoint accepts "reference", "knee" or three comma separated landmark names.
func ParseJoint(s string) (Joint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reference":
		return ReferenceJoint, nil
	case "knee":
		return KneeJoint, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Joint{}, fmt.Errorf("invalid joint %q: want reference, knee or A,VERTEX,C", s)
	}
	ids := make([]LandmarkID, 3)
	for i, p := range parts {
		id, err := ParseLandmarkID(p)
		if err != nil {
			return Joint{}, fmt.Errorf("invalid joint %q: %w", s, err)
		}
		ids[i] = id
	}
	return Joint{A: ids[0], Vertex: ids[1], C: ids[2]}, nil
}

func (j Joint) String() string {
	return fmt.Sprintf("%s,%s,%s", j.A, j.Vertex, j.C)
}

// Points returns the joint's three points, or ErrMissingLandmarks when the
// set is empty or lacks any of them.
func (lm Landmarks) Points(j Joint) (a, vertex, c geometry.Point2D, err error) {
	la, okA := lm[j.A]
	lv, okV := lm[j.Vertex]
	lc, okC := lm[j.C]
	if !okA || !okV || !okC {
		return a, vertex, c, ErrMissingLandmarks
	}
	return la.Point(), lv.Point(), lc.Point(), nil
}

// Estimator locates body landmarks in a frame. It returns a nil set and no
// error when nobody is in view.
type Estimator interface {
	Estimate(ctx context.Context, frame *types.Frame) (Landmarks, error)
	Close() error
}
