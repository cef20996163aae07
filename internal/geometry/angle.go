// Package geometry computes joint angles from 2D pose landmarks.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point2D is a landmark position in normalized camera-frame coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point2D) vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// Distance returns the Euclidean distance between two points.
func Distance(p, q Point2D) float64 {
	return r2.Norm(r2.Sub(p.vec(), q.vec()))
}

// DegenerateTriangleError is returned when the vertex coincides with one of
// the other two points and the angle is undefined.
type DegenerateTriangleError struct {
	A, Vertex, C Point2D
}

func (e *DegenerateTriangleError) Error() string {
	return fmt.Sprintf("degenerate triangle: vertex (%.4f, %.4f) coincides with a neighbour (a=(%.4f, %.4f) c=(%.4f, %.4f))",
		e.Vertex.X, e.Vertex.Y, e.A.X, e.A.Y, e.C.X, e.C.Y)
}

// JointAngle returns the included angle at vertex, in degrees within [0, 180],
// using the law of cosines over the triangle (a, vertex, c).
func JointAngle(a, vertex, c Point2D) (float64, error) {
	sideA := Distance(vertex, c)
	sideB := Distance(a, vertex)
	sideC := Distance(a, c)

	if sideA == 0 || sideB == 0 {
		return 0, &DegenerateTriangleError{A: a, Vertex: vertex, C: c}
	}

	cos := (sideA*sideA + sideB*sideB - sideC*sideC) / (2 * sideA * sideB)
	// Nearly collinear points can push the ratio just past ±1.
	cos = math.Max(-1, math.Min(1, cos))

	return math.Acos(cos) * 180 / math.Pi, nil
}
