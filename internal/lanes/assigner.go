package lanes

import "github.com/your-org/lanewatch/internal/geometry"

// None is the lane index of a vehicle outside every lane polygon.
const None = -1

// Assign returns the index of the first lane containing the bottom-center of
// box, or None. Overlapping lanes resolve to the lowest index.
func Assign(box geometry.BBox, lanes []geometry.Polygon) int {
	p := box.BottomCenter()
	for i, lane := range lanes {
		if geometry.PointInPolygon(p, lane) {
			return i
		}
	}
	return None
}

// Assigner binds Assign to a fixed lane set.
type Assigner struct {
	lanes []geometry.Polygon
}

func NewAssigner(lanes []geometry.Polygon) *Assigner {
	return &Assigner{lanes: lanes}
}

func (a *Assigner) Assign(box geometry.BBox) int {
	return Assign(box, a.lanes)
}

// Lanes returns the lane set the assigner was built with.
func (a *Assigner) Lanes() []geometry.Polygon { return a.lanes }
