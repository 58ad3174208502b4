package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/tracking"
)

// Intrusion is a persisted lane-change event.
type Intrusion struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	StreamID  uuid.UUID     `json:"stream_id" db:"stream_id"`
	FrameID   uuid.UUID     `json:"frame_id" db:"frame_id"`
	VehicleID int           `json:"vehicle_id" db:"vehicle_id"`
	Timestamp time.Time     `json:"timestamp" db:"timestamp"`
	FromLane  int           `json:"from_lane" db:"from_lane"`
	ToLane    int           `json:"to_lane" db:"to_lane"`
	BBox      geometry.BBox `json:"vehicle_bbox" db:"bbox"`
	FrameKey  string        `json:"frame_key" db:"frame_key"` // MinIO key of the full frame
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// NewIntrusion binds an event from the tracker to the frame it was seen in.
// The id is assigned here so redelivered messages insert only once.
func NewIntrusion(task FrameTask, ev tracking.IntrusionEvent) Intrusion {
	return Intrusion{
		ID:        uuid.New(),
		StreamID:  task.StreamID,
		FrameID:   task.FrameID,
		VehicleID: ev.VehicleID,
		Timestamp: ev.Timestamp,
		FromLane:  ev.FromLane,
		ToLane:    ev.ToLane,
		BBox:      ev.BBox,
		FrameKey:  task.FrameRef,
	}
}

// FrameTask is the message published to NATS for worker processing.
type FrameTask struct {
	StreamID  uuid.UUID `json:"stream_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Seq       int64     `json:"seq"` // per-stream, increasing
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	// Detections, when non-nil, come from an external detector and the worker
	// skips inference. An empty list is an empty frame and is sent as [];
	// null means the worker detects itself.
	Detections []tracking.Detection `json:"detections"`
}

// NeedsInference reports whether the worker has to run its own detector.
func (t FrameTask) NeedsInference() bool {
	return t.Detections == nil
}

// RebuildCommand asks the worker to re-derive lanes for a stream on its next
// frame.
type RebuildCommand struct {
	StreamID uuid.UUID `json:"stream_id"`
	Method   string    `json:"method"`
}
