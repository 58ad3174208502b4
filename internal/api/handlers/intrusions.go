package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/lanewatch/internal/models"
	"github.com/your-org/lanewatch/internal/storage"
	"github.com/your-org/lanewatch/pkg/dto"
)

type IntrusionStore interface {
	QueryIntrusions(ctx context.Context, streamID uuid.UUID, f storage.IntrusionFilter) ([]models.Intrusion, int, error)
	GetIntrusion(ctx context.Context, id uuid.UUID) (*models.Intrusion, error)
}

type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type IntrusionHandler struct {
	db    IntrusionStore
	minio ObjectStore
}

func NewIntrusionHandler(db IntrusionStore, minio ObjectStore) *IntrusionHandler {
	return &IntrusionHandler{db: db, minio: minio}
}

// List returns a stream's intrusions, newest first.
func (h *IntrusionHandler) List(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	var q dto.IntrusionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f := storage.IntrusionFilter{VehicleID: q.VehicleID, Limit: q.Limit, Offset: q.Offset}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.From, err = parseTime(q.From); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid from: %v", err)})
		return
	}
	if f.To, err = parseTime(q.To); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid to: %v", err)})
		return
	}

	intrusions, total, err := h.db.QueryIntrusions(c.Request.Context(), streamID, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.IntrusionResponse, 0, len(intrusions))
	for i := range intrusions {
		resp = append(resp, IntrusionToResponse(&intrusions[i]))
	}

	c.JSON(http.StatusOK, dto.IntrusionListResponse{Intrusions: resp, Total: total})
}

func (h *IntrusionHandler) Get(c *gin.Context) {
	in := h.lookup(c)
	if in == nil {
		return
	}
	c.JSON(http.StatusOK, IntrusionToResponse(in))
}

// Frame serves the full JPEG frame the intrusion was detected in.
func (h *IntrusionHandler) Frame(c *gin.Context) {
	in := h.lookup(c)
	if in == nil {
		return
	}
	if in.FrameKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame stored"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), in.FrameKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *IntrusionHandler) lookup(c *gin.Context) *models.Intrusion {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid intrusion id"})
		return nil
	}

	in, err := h.db.GetIntrusion(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "intrusion not found"})
			return nil
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}
	return in
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IntrusionToResponse converts a stored intrusion for the REST and WebSocket
// APIs.
func IntrusionToResponse(in *models.Intrusion) dto.IntrusionResponse {
	r := dto.IntrusionResponse{
		ID:          in.ID,
		StreamID:    in.StreamID,
		FrameID:     in.FrameID,
		VehicleID:   in.VehicleID,
		Timestamp:   in.Timestamp.UTC().Format(time.RFC3339Nano),
		FromLane:    in.FromLane,
		ToLane:      in.ToLane,
		VehicleBBox: in.BBox,
		CreatedAt:   in.CreatedAt.UTC().Format(time.RFC3339),
	}
	if in.FrameKey != "" {
		r.FrameURL = "/v1/intrusions/" + in.ID.String() + "/frame"
	}
	return r
}
