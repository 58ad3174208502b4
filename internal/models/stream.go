package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/lanes"
)

type StreamType string

const (
	StreamTypeRTSP StreamType = "rtsp"
	StreamTypeHTTP StreamType = "http"
	StreamTypeFile StreamType = "file"
)

type StreamStatus string

const (
	StreamStatusStopped  StreamStatus = "stopped"
	StreamStatusStarting StreamStatus = "starting"
	StreamStatusRunning  StreamStatus = "running"
	StreamStatusError    StreamStatus = "error"
)

type Stream struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	URL          string       `json:"url" db:"url"`
	StreamType   StreamType   `json:"stream_type" db:"stream_type"`
	FPS          int          `json:"fps" db:"fps"`
	LaneMethod   lanes.Method `json:"lane_method" db:"lane_method"`
	Status       StreamStatus `json:"status" db:"status"`
	ErrorMessage string       `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// StreamLanes is the lane set most recently built for a stream.
type StreamLanes struct {
	StreamID       uuid.UUID          `json:"stream_id" db:"stream_id"`
	Method         lanes.Method       `json:"method" db:"method"`
	Requested      lanes.Method       `json:"requested" db:"requested"`
	FallbackReason string             `json:"fallback_reason,omitempty" db:"fallback_reason"`
	Width          int                `json:"width" db:"width"`
	Height         int                `json:"height" db:"height"`
	Lanes          []geometry.Polygon `json:"lanes" db:"lanes"`
	BuiltAt        time.Time          `json:"built_at" db:"built_at"`
}

// NewStreamLanes captures a build result for persistence.
func NewStreamLanes(streamID uuid.UUID, width, height int, res lanes.Result, at time.Time) StreamLanes {
	return StreamLanes{
		StreamID:       streamID,
		Method:         res.Method,
		Requested:      res.Requested,
		FallbackReason: res.FallbackReason,
		Width:          width,
		Height:         height,
		Lanes:          res.Lanes,
		BuiltAt:        at,
	}
}

const (
	StreamActionStart = "start"
	StreamActionStop  = "stop"
)

// StreamCommand is a start/stop command from the API to the ingestor.
type StreamCommand struct {
	Action   string     `json:"action"` // start, stop
	StreamID string     `json:"stream_id"`
	URL      string     `json:"url,omitempty"`
	Type     StreamType `json:"type,omitempty"`
	FPS      int        `json:"fps,omitempty"`
}
