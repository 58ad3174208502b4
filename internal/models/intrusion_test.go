package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/tracking"
)

func TestFrameTask_DetectionsOnTheWire(t *testing.T) {
	tests := []struct {
		name      string
		dets      []tracking.Detection
		wantWire  string
		inference bool
	}{
		{"worker detects", nil, `"detections":null`, true},
		{"empty frame from external detector", []tracking.Detection{}, `"detections":[]`, false},
		{"external detections", []tracking.Detection{{BBox: geometry.BBox{1, 2, 3, 4}, Confidence: 0.9, ClassID: 2}}, `"detections":[{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := FrameTask{
				StreamID:   uuid.New(),
				FrameID:    uuid.New(),
				Seq:        7,
				Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
				FrameRef:   "frames/a.jpg",
				Detections: tt.dets,
			}
			data, err := json.Marshal(task)
			require.NoError(t, err)
			assert.Contains(t, string(data), tt.wantWire)

			var got FrameTask
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.inference, got.NeedsInference())
			assert.Len(t, got.Detections, len(tt.dets))
		})
	}
}

func TestFrameTask_MissingDetectionsNeedInference(t *testing.T) {
	var got FrameTask
	require.NoError(t, json.Unmarshal([]byte(`{"seq":1,"frame_ref":"frames/b.jpg"}`), &got))
	assert.True(t, got.NeedsInference())
}

func TestNewIntrusion(t *testing.T) {
	task := FrameTask{StreamID: uuid.New(), FrameID: uuid.New(), FrameRef: "frames/c.jpg"}
	ev := tracking.IntrusionEvent{VehicleID: 3, FromLane: 0, ToLane: 1, Timestamp: task.Timestamp}

	a := NewIntrusion(task, ev)
	b := NewIntrusion(task, ev)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, task.StreamID, a.StreamID)
	assert.Equal(t, "frames/c.jpg", a.FrameKey)
	assert.Equal(t, 3, a.VehicleID)
}
