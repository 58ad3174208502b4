// Package tracking keeps vehicle identities stable across frames and derives
// lane-intrusion events from their lane history.
//
// A Tracker, IntrusionDetector or Session belongs to exactly one video stream
// and is not safe for concurrent use. Frames must be submitted in
// non-decreasing timestamp order; the tracker does not check.
package tracking

import (
	"slices"
	"time"

	"github.com/your-org/lanewatch/internal/geometry"
)

const DefaultIOUThreshold = 0.3

// LaneAssigner maps a vehicle box to a lane index or -1.
type LaneAssigner interface {
	Assign(box geometry.BBox) int
}

// Config tunes a Tracker. Zero values take the defaults.
type Config struct {
	IOUThreshold float64
	// MaxHistory caps observations kept per track; 0 keeps everything.
	// Values below 2 are raised to 2 so lane changes stay visible.
	MaxHistory int
	Matcher    Matcher
}

type trackSummary struct {
	id   int
	bbox geometry.BBox
}

// Tracker assigns ids to vehicle detections by greedy IOU association with
// the previous frame. There is no occlusion memory: a vehicle missing for a
// frame comes back with a new id.
type Tracker struct {
	cfg    Config
	prev   []trackSummary
	tracks map[int]*VehicleTrack
	nextID int
}

// NewTracker creates a tracker for one stream.
func NewTracker(cfg Config) *Tracker {
	if cfg.IOUThreshold <= 0 {
		cfg.IOUThreshold = DefaultIOUThreshold
	}
	if cfg.MaxHistory > 0 && cfg.MaxHistory < 2 {
		cfg.MaxHistory = 2
	}
	if cfg.Matcher == nil {
		cfg.Matcher = GreedyMatcher{}
	}
	return &Tracker{
		cfg:    cfg,
		tracks: make(map[int]*VehicleTrack),
		nextID: 1,
	}
}

// Update associates dets with the previous frame, records one observation per
// detection and returns the detections annotated with id and lane, in input
// order. An empty dets is valid and leaves no previous frame behind.
func (t *Tracker) Update(dets []Detection, ts time.Time, lanes LaneAssigner) []TrackedDetection {
	out := make([]TrackedDetection, len(dets))

	var assignment []int
	if len(t.prev) > 0 && len(dets) > 0 {
		prevBoxes := make([]geometry.BBox, len(t.prev))
		for i, p := range t.prev {
			prevBoxes[i] = p.bbox
		}
		curBoxes := make([]geometry.BBox, len(dets))
		for i, d := range dets {
			curBoxes[i] = d.BBox
		}
		assignment = t.cfg.Matcher.Match(prevBoxes, curBoxes, t.cfg.IOUThreshold)
	}

	next := make([]trackSummary, len(dets))
	for i, det := range dets {
		lane := lanes.Assign(det.BBox)

		var track *VehicleTrack
		if assignment != nil && assignment[i] >= 0 {
			track = t.tracks[t.prev[assignment[i]].id]
		}
		if track == nil {
			track = t.newTrack()
		}
		track.record(ts, det.BBox, lane, t.cfg.MaxHistory)

		out[i] = TrackedDetection{Detection: det, ID: track.ID, Lane: lane}
		next[i] = trackSummary{id: track.ID, bbox: det.BBox}
	}

	t.prev = next
	return out
}

func (t *Tracker) newTrack() *VehicleTrack {
	tr := &VehicleTrack{ID: t.nextID}
	t.nextID++
	t.tracks[tr.ID] = tr
	return tr
}

// Reset forgets the previous frame so the next Update starts every detection
// as a new track. Histories and the id counter are kept.
func (t *Tracker) Reset() {
	t.prev = nil
}

// History returns a copy of the observations recorded for id, oldest first.
func (t *Tracker) History(id int) []Observation {
	tr, ok := t.tracks[id]
	if !ok {
		return nil
	}
	return slices.Clone(tr.History)
}

// Track returns the live track with the given id. Its History is rewritten in
// place by later updates once MaxHistory trims it.
func (t *Tracker) Track(id int) (*VehicleTrack, bool) {
	tr, ok := t.tracks[id]
	return tr, ok
}

// TrackCount returns the number of tracks created in this session.
func (t *Tracker) TrackCount() int {
	return len(t.tracks)
}

// NextID returns the id the next new track will get.
func (t *Tracker) NextID() int {
	return t.nextID
}

// ResumeFrom makes new tracks start at next unless the counter is already
// past it. A stream that outlives its tracker keeps its ids unique this way.
func (t *Tracker) ResumeFrom(next int) {
	if next > t.nextID {
		t.nextID = next
	}
}

// ActiveCount returns the number of tracks seen in the last frame.
func (t *Tracker) ActiveCount() int {
	return len(t.prev)
}
