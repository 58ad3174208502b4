package tracking

import "github.com/your-org/lanewatch/internal/lanes"

// HistorySource looks up the observation history of a track.
type HistorySource interface {
	History(id int) []Observation
}

// IntrusionDetector turns lane changes in track histories into events and
// keeps an append-only log of everything it has emitted.
type IntrusionDetector struct {
	tracks HistorySource
	log    []IntrusionEvent
	logged map[int]int // vehicle id -> Seq of the last logged observation
}

func NewIntrusionDetector(tracks HistorySource) *IntrusionDetector {
	return &IntrusionDetector{
		tracks: tracks,
		logged: make(map[int]int),
	}
}

// Evaluate returns one event per detection whose track moved between two
// real lanes in its last two observations, in input order. Evaluating the
// same detections again returns the same events without logging them twice.
func (d *IntrusionDetector) Evaluate(dets []TrackedDetection) []IntrusionEvent {
	var events []IntrusionEvent

	for _, det := range dets {
		history := d.tracks.History(det.ID)
		if len(history) < 2 {
			continue
		}
		prev := history[len(history)-2]
		last := history[len(history)-1]

		if prev.Lane == last.Lane || prev.Lane == lanes.None || last.Lane == lanes.None {
			continue
		}

		ev := IntrusionEvent{
			VehicleID: det.ID,
			Timestamp: last.Timestamp,
			FromLane:  prev.Lane,
			ToLane:    last.Lane,
			BBox:      last.BBox,
		}
		events = append(events, ev)

		if d.logged[det.ID] < last.Seq {
			d.logged[det.ID] = last.Seq
			d.log = append(d.log, ev)
		}
	}

	return events
}

// Log returns a copy of every event emitted so far, oldest first.
func (d *IntrusionDetector) Log() []IntrusionEvent {
	out := make([]IntrusionEvent, len(d.log))
	copy(out, d.log)
	return out
}
