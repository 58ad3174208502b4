package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/your-org/lanewatch/internal/api/handlers"
	"github.com/your-org/lanewatch/internal/models"
	"github.com/your-org/lanewatch/pkg/dto"
)

type IntrusionWriter interface {
	CreateIntrusion(ctx context.Context, in *models.Intrusion) (bool, error)
}

type Broadcaster interface {
	BroadcastEvent(event *dto.WSEvent)
}

// IntrusionSink persists intrusion events from the bus and pushes new ones to
// WebSocket clients.
type IntrusionSink struct {
	DB  IntrusionWriter
	Hub Broadcaster
}

// Handle stores one event. Redelivered events are acknowledged without being
// broadcast a second time. A store error is returned so the message is
// redelivered.
func (s *IntrusionSink) Handle(ctx context.Context, data []byte) error {
	var in models.Intrusion
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Error("unmarshal intrusion", "error", err)
		return nil // Don't retry on unmarshal errors
	}

	inserted, err := s.DB.CreateIntrusion(ctx, &in)
	if err != nil {
		return fmt.Errorf("store intrusion %s: %w", in.ID, err)
	}
	if !inserted {
		slog.Debug("duplicate intrusion ignored", "id", in.ID)
		return nil
	}

	resp := handlers.IntrusionToResponse(&in)
	s.Hub.BroadcastEvent(&dto.WSEvent{
		Type:     dto.WSTypeIntrusion,
		StreamID: in.StreamID,
		Data:     &resp,
	})
	return nil
}
