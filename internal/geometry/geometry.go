// Package geometry holds the pure bounding-box and polygon helpers used by
// lane assignment and frame-to-frame association.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// BBox is an axis-aligned box in pixel coordinates: x1, y1, x2, y2.
// Inverted or zero-size boxes are valid values with zero area.
type BBox [4]float64

// Point is a 2D image-space point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered ring of vertices. The closing edge from the last
// vertex back to the first is implied.
type Polygon []Point

func (b BBox) X1() float64 { return b[0] }
func (b BBox) Y1() float64 { return b[1] }
func (b BBox) X2() float64 { return b[2] }
func (b BBox) Y2() float64 { return b[3] }

// Width is clamped at zero for inverted boxes.
func (b BBox) Width() float64 { return math.Max(0, b[2]-b[0]) }

// Height is clamped at zero for inverted boxes.
func (b BBox) Height() float64 { return math.Max(0, b[3]-b[1]) }

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// BottomCenter approximates the ground-contact point of a vehicle.
func (b BBox) BottomCenter() Point {
	return Point{X: (b[0] + b[2]) / 2, Y: b[3]}
}

// IOU returns intersection over union in [0, 1]. Non-overlapping boxes and
// boxes whose union has no area yield 0.
func IOU(a, b BBox) float64 {
	x1 := math.Max(a[0], b[0])
	y1 := math.Max(a[1], b[1])
	x2 := math.Min(a[2], b[2])
	y2 := math.Min(a[3], b[3])

	intersection := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.Area() + b.Area() - intersection

	if union <= 0 || intersection <= 0 {
		return 0
	}
	return math.Min(1, intersection/union)
}

// PointInPolygon reports whether p lies inside poly. Points on the boundary
// are inside. Polygons with fewer than three vertices or zero area contain
// nothing.
func PointInPolygon(p Point, poly Polygon) bool {
	if len(poly) < 3 {
		return false
	}
	ring := poly.Ring()
	if planar.Area(ring) == 0 {
		return false
	}
	return planar.RingContains(ring, orb.Point{p.X, p.Y})
}

// Ring converts the polygon to an orb ring.
func (poly Polygon) Ring() orb.Ring {
	ring := make(orb.Ring, len(poly))
	for i, p := range poly {
		ring[i] = orb.Point{p.X, p.Y}
	}
	return ring
}

// Centroid is the vertex mean. Used for labelling, not for membership.
func (poly Polygon) Centroid() Point {
	if len(poly) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range poly {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(poly))
	return Point{X: c.X / n, Y: c.Y / n}
}
