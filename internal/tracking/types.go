package tracking

import (
	"time"

	"github.com/your-org/lanewatch/internal/geometry"
)

// Detection is one vehicle box from the detector. Confidence and ClassID are
// carried through untouched.
type Detection struct {
	BBox       geometry.BBox `json:"bbox"`
	Confidence float32       `json:"confidence"`
	ClassID    int           `json:"class_id"`
}

// TrackedDetection is a Detection annotated with its track id and lane.
type TrackedDetection struct {
	Detection
	ID   int `json:"id"`
	Lane int `json:"lane"`
}

// Observation is one recorded sighting of a track.
type Observation struct {
	Seq       int           `json:"seq"` // 1-based, counts every observation ever recorded
	Timestamp time.Time     `json:"timestamp"`
	BBox      geometry.BBox `json:"bbox"`
	Lane      int           `json:"lane"`
}

// VehicleTrack is the identity and observation history of one vehicle.
type VehicleTrack struct {
	ID      int
	History []Observation
	seq     int
}

func (v *VehicleTrack) record(ts time.Time, box geometry.BBox, lane, maxHistory int) {
	v.seq++
	v.History = append(v.History, Observation{Seq: v.seq, Timestamp: ts, BBox: box, Lane: lane})
	if maxHistory > 0 && len(v.History) > maxHistory {
		v.History = append(v.History[:0], v.History[len(v.History)-maxHistory:]...)
	}
}

// Latest returns the most recent observation.
func (v *VehicleTrack) Latest() (Observation, bool) {
	if len(v.History) == 0 {
		return Observation{}, false
	}
	return v.History[len(v.History)-1], true
}

// IntrusionEvent records a vehicle moving from one lane to another between
// two consecutive observations.
type IntrusionEvent struct {
	VehicleID int           `json:"vehicle_id"`
	Timestamp time.Time     `json:"timestamp"`
	FromLane  int           `json:"from_lane"`
	ToLane    int           `json:"to_lane"`
	BBox      geometry.BBox `json:"vehicle_bbox"`
}
