package dto

import "github.com/google/uuid"

type IntrusionResponse struct {
	ID          uuid.UUID  `json:"id"`
	StreamID    uuid.UUID  `json:"stream_id"`
	FrameID     uuid.UUID  `json:"frame_id"`
	VehicleID   int        `json:"vehicle_id"`
	Timestamp   string     `json:"timestamp"`
	FromLane    int        `json:"from_lane"`
	ToLane      int        `json:"to_lane"`
	VehicleBBox [4]float64 `json:"vehicle_bbox"` // x1, y1, x2, y2
	FrameURL    string     `json:"frame_url,omitempty"`
	CreatedAt   string     `json:"created_at"`
}

type IntrusionListResponse struct {
	Intrusions []IntrusionResponse `json:"intrusions"`
	Total      int                 `json:"total"`
}

type IntrusionQuery struct {
	From      string `form:"from"`
	To        string `form:"to"`
	VehicleID *int   `form:"vehicle_id"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// WSEvent is a WebSocket message for real-time event delivery.
type WSEvent struct {
	Type     string             `json:"type"` // lane_intrusion, stream_status
	StreamID uuid.UUID          `json:"stream_id"`
	Data     *IntrusionResponse `json:"data,omitempty"`
	Status   string             `json:"status,omitempty"`
}

const (
	WSTypeIntrusion    = "lane_intrusion"
	WSTypeStreamStatus = "stream_status"
)
