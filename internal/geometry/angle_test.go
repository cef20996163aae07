package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-9

func TestJointAngleEquilateral(t *testing.T) {
	h := math.Sqrt(3) / 2
	cases := []struct {
		name         string
		a, vertex, c Point2D
	}{
		{"unit", Point2D{0, 0}, Point2D{1, 0}, Point2D{0.5, h}},
		{"scaled", Point2D{0, 0}, Point2D{0.1, 0}, Point2D{0.05, 0.1 * h}},
		{"offset", Point2D{0.3, 0.3}, Point2D{0.5, 0.3}, Point2D{0.4, 0.3 + 0.2*h}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			angle, err := JointAngle(tc.a, tc.vertex, tc.c)
			require.NoError(t, err)
			assert.InDelta(t, 60.0, angle, 1e-6)
		})
	}
}

func TestJointAngleRight(t *testing.T) {
	angle, err := JointAngle(Point2D{0, 0}, Point2D{0, 1}, Point2D{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 90.0, angle, epsilon)
}

func TestJointAngleCollinear(t *testing.T) {
	cases := []struct {
		name         string
		a, vertex, c Point2D
	}{
		{"horizontal", Point2D{0, 0.5}, Point2D{0.5, 0.5}, Point2D{1, 0.5}},
		{"vertical", Point2D{0.42, 0.1}, Point2D{0.42, 0.55}, Point2D{0.42, 0.9}},
		// 0.1 and 0.2 are not exactly representable; the cosine lands just
		// outside [-1, 1] without clamping.
		{"diagonal", Point2D{0.1, 0.1}, Point2D{0.2, 0.2}, Point2D{0.3, 0.3}},
		{"uneven", Point2D{0.1, 0.7}, Point2D{0.13, 0.61}, Point2D{0.3, 0.1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			angle, err := JointAngle(tc.a, tc.vertex, tc.c)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(angle))
			assert.InDelta(t, 180.0, angle, 1e-5)
		})
	}
}

func TestJointAngleFolded(t *testing.T) {
	// a and c on the same ray from the vertex.
	angle, err := JointAngle(Point2D{1, 0}, Point2D{0, 0}, Point2D{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, angle, epsilon)
}

func TestJointAngleRange(t *testing.T) {
	points := []Point2D{{0, 0}, {0.2, 0.9}, {0.7, 0.3}, {1, 1}, {0.5, 0.01}, {0.33, 0.66}}
	for _, a := range points {
		for _, v := range points {
			for _, c := range points {
				if a == v || c == v {
					continue
				}
				angle, err := JointAngle(a, v, c)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, angle, 0.0)
				assert.LessOrEqual(t, angle, 180.0)
			}
		}
	}
}

func TestJointAngleDegenerate(t *testing.T) {
	p := Point2D{0.4, 0.4}
	q := Point2D{0.8, 0.1}

	_, err := JointAngle(p, p, q)
	var degenerate *DegenerateTriangleError
	require.True(t, errors.As(err, &degenerate), "A == vertex: got %v", err)
	assert.Equal(t, p, degenerate.Vertex)

	_, err = JointAngle(q, p, p)
	require.True(t, errors.As(err, &degenerate), "C == vertex: got %v", err)

	_, err = JointAngle(p, p, p)
	require.Error(t, err)
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance(Point2D{0, 0}, Point2D{3, 4}), epsilon)
	assert.Equal(t, 0.0, Distance(Point2D{0.2, 0.2}, Point2D{0.2, 0.2}))
}
