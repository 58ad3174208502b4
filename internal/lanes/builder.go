// Package lanes derives lane polygons for a camera frame and maps vehicle
// boxes onto them.
package lanes

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/your-org/lanewatch/internal/geometry"
)

const (
	DefaultCount    = 3
	DefaultMinSlope = 0.3
)

// Method selects how lane polygons are derived.
type Method string

const (
	MethodAuto   Method = "auto"
	MethodManual Method = "manual"
)

// ParseMethod maps a config or request string onto a Method. Unknown values
// resolve to MethodAuto, which itself falls back to manual when it must.
func ParseMethod(s string) Method {
	if Method(s) == MethodManual {
		return MethodManual
	}
	return MethodAuto
}

// Reasons an automatic build falls back to the manual partition.
var (
	ErrNoSegments      = errors.New("no line segments")
	ErrEmptyLeftGroup  = errors.New("no left lane line")
	ErrEmptyRightGroup = errors.New("no right lane line")
	ErrDegenerateLine  = errors.New("degenerate lane lines")
)

// Segment is a straight line segment extracted from a frame.
type Segment struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Slope is dy/dx. Vertical segments report ok=false.
func (s Segment) Slope() (float64, bool) {
	if s.X2 == s.X1 {
		return 0, false
	}
	return (s.Y2 - s.Y1) / (s.X2 - s.X1), true
}

// Result is the outcome of a build. Method is the method that produced
// Lanes; FallbackReason is set when an automatic build fell back.
type Result struct {
	Lanes          []geometry.Polygon `json:"lanes"`
	Method         Method             `json:"method"`
	Requested      Method             `json:"requested"`
	FallbackReason string             `json:"fallback_reason,omitempty"`

	err error
}

// FallbackCause returns a short, fixed label for the fallback reason, or ""
// when the build did not fall back.
func (r Result) FallbackCause() string {
	switch {
	case r.err == nil:
		return ""
	case errors.Is(r.err, ErrNoSegments):
		return "no_segments"
	case errors.Is(r.err, ErrEmptyLeftGroup):
		return "no_left_line"
	case errors.Is(r.err, ErrEmptyRightGroup):
		return "no_right_line"
	case errors.Is(r.err, ErrDegenerateLine):
		return "degenerate"
	default:
		return "other"
	}
}

// Fallback reports whether an automatic request ended in the manual partition.
func (r Result) Fallback() bool {
	return r.Requested == MethodAuto && r.Method == MethodManual
}

// Builder produces and stores the lane set for one stream.
type Builder struct {
	count    int
	minSlope float64
	lanes    []geometry.Polygon
}

// NewBuilder returns a builder for count lanes. Non-positive arguments take
// the defaults.
func NewBuilder(count int, minSlope float64) *Builder {
	if count <= 0 {
		count = DefaultCount
	}
	if minSlope <= 0 {
		minSlope = DefaultMinSlope
	}
	return &Builder{count: count, minSlope: minSlope}
}

// Count returns the number of lanes each build produces.
func (b *Builder) Count() int { return b.count }

// Lanes returns the lane set of the most recent build.
func (b *Builder) Lanes() []geometry.Polygon { return b.lanes }

// Build derives a lane set for a width x height frame and replaces the stored
// set. segments is only consulted for MethodAuto. It always yields count
// polygons.
func (b *Builder) Build(width, height int, segments []Segment, method Method) Result {
	res := Result{Requested: method, Method: MethodManual}

	if method == MethodAuto {
		polys, err := Automatic(width, height, b.count, b.minSlope, segments)
		if err == nil {
			res.Method = MethodAuto
			res.Lanes = polys
		} else {
			res.FallbackReason = err.Error()
			res.err = err
			slog.Warn("automatic lane derivation failed, using manual lanes",
				"reason", err,
				"segments", len(segments),
				"width", width,
				"height", height,
			)
		}
	}

	if res.Lanes == nil {
		res.Lanes = Manual(width, height, b.count)
	}

	b.lanes = res.Lanes
	return res
}

// Manual splits the frame into count equal vertical strips. The last strip
// absorbs the integer-division remainder so the strips cover [0, width].
func Manual(width, height, count int) []geometry.Polygon {
	if count <= 0 {
		count = DefaultCount
	}
	w := float64(width)
	h := float64(height)
	laneWidth := float64(width / count)

	polys := make([]geometry.Polygon, count)
	for i := 0; i < count; i++ {
		left := float64(i) * laneWidth
		right := float64(i+1) * laneWidth
		if i == count-1 {
			right = w
		}
		polys[i] = geometry.Polygon{
			{X: left, Y: h},
			{X: right, Y: h},
			{X: right, Y: 0},
			{X: left, Y: 0},
		}
	}
	return polys
}

// Automatic fits one left and one right boundary line from segments and
// divides the band between them into count lanes.
func Automatic(width, height, count int, minSlope float64, segments []Segment) ([]geometry.Polygon, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	if count <= 0 {
		count = DefaultCount
	}

	var left, right []Segment
	for _, s := range segments {
		slope, ok := s.Slope()
		if !ok || math.Abs(slope) < minSlope {
			continue
		}
		if slope < 0 {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 {
		return nil, ErrEmptyLeftGroup
	}
	if len(right) == 0 {
		return nil, ErrEmptyRightGroup
	}

	h := float64(height)
	l := averageSegment(left)
	r := averageSegment(right)

	lBottom, lTop, ok := extrapolate(l, h)
	if !ok {
		return nil, fmt.Errorf("%w: left line is horizontal", ErrDegenerateLine)
	}
	rBottom, rTop, ok := extrapolate(r, h)
	if !ok {
		return nil, fmt.Errorf("%w: right line is horizontal", ErrDegenerateLine)
	}
	if rBottom <= lBottom {
		return nil, fmt.Errorf("%w: band has no width at the bottom edge", ErrDegenerateLine)
	}

	// Boundary lines that converge inside the frame are cut at their crossing
	// row so the lanes do not self-intersect.
	top := 0.0
	if rTop < lTop {
		top, lTop = crossing(l, r)
		rTop = lTop
	}

	bottomStep := (rBottom - lBottom) / float64(count)
	topStep := (rTop - lTop) / float64(count)

	polys := make([]geometry.Polygon, count)
	for i := 0; i < count; i++ {
		bl := lBottom + float64(i)*bottomStep
		br := lBottom + float64(i+1)*bottomStep
		tl := lTop + float64(i)*topStep
		tr := lTop + float64(i+1)*topStep
		if i == count-1 {
			br, tr = rBottom, rTop
		}
		polys[i] = geometry.Polygon{
			{X: bl, Y: h},
			{X: br, Y: h},
			{X: tr, Y: top},
			{X: tl, Y: top},
		}
	}
	return polys, nil
}

func averageSegment(segs []Segment) Segment {
	x1 := make([]float64, len(segs))
	y1 := make([]float64, len(segs))
	x2 := make([]float64, len(segs))
	y2 := make([]float64, len(segs))
	for i, s := range segs {
		x1[i], y1[i], x2[i], y2[i] = s.X1, s.Y1, s.X2, s.Y2
	}
	return Segment{
		X1: stat.Mean(x1, nil),
		Y1: stat.Mean(y1, nil),
		X2: stat.Mean(x2, nil),
		Y2: stat.Mean(y2, nil),
	}
}

// extrapolate returns the x positions of the line at y=h and y=0.
func extrapolate(s Segment, h float64) (bottom, top float64, ok bool) {
	if s.Y1 == s.Y2 {
		return 0, 0, false
	}
	inv := (s.X2 - s.X1) / (s.Y2 - s.Y1)
	return s.X1 + inv*(h-s.Y1), s.X1 + inv*(0-s.Y1), true
}

// crossing returns the y and x where two non-parallel lines meet.
func crossing(a, b Segment) (y, x float64) {
	ia := (a.X2 - a.X1) / (a.Y2 - a.Y1)
	ib := (b.X2 - b.X1) / (b.Y2 - b.Y1)
	// x = a.X1 + ia*(y - a.Y1) = b.X1 + ib*(y - b.Y1)
	y = (b.X1 - a.X1 + ia*a.Y1 - ib*b.Y1) / (ia - ib)
	x = a.X1 + ia*(y-a.Y1)
	return y, x
}
