package dto

import (
	"github.com/google/uuid"
)

type CreateStreamRequest struct {
	Name       string `json:"name"`
	URL        string `json:"url" binding:"required"`
	StreamType string `json:"stream_type" binding:"required,oneof=rtsp http file"`
	FPS        int    `json:"fps" binding:"omitempty,min=1,max=60"`
	LaneMethod string `json:"lane_method" binding:"omitempty,oneof=auto manual"`
}

type StreamResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	StreamType   string    `json:"stream_type"`
	FPS          int       `json:"fps"`
	LaneMethod   string    `json:"lane_method"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}

type StreamListResponse struct {
	Streams []StreamResponse `json:"streams"`
	Total   int              `json:"total"`
}

// Point is one polygon vertex in frame pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type LaneResponse struct {
	Index   int     `json:"index"`
	Polygon []Point `json:"polygon"`
}

type LanesResponse struct {
	StreamID       uuid.UUID      `json:"stream_id"`
	Method         string         `json:"method"`
	Requested      string         `json:"requested"`
	Fallback       bool           `json:"fallback"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Lanes          []LaneResponse `json:"lanes"`
	BuiltAt        string         `json:"built_at"`
}

type RebuildLanesRequest struct {
	Method string `json:"method" binding:"omitempty,oneof=auto manual"`
}
