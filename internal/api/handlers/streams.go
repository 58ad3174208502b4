package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/lanewatch/internal/lanes"
	"github.com/your-org/lanewatch/internal/models"
	"github.com/your-org/lanewatch/internal/storage"
	"github.com/your-org/lanewatch/pkg/dto"
)

type StreamStore interface {
	CreateStream(ctx context.Context, st *models.Stream) error
	GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	ListStreams(ctx context.Context) ([]models.Stream, error)
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error
	UpdateStreamLaneMethod(ctx context.Context, id uuid.UUID, method string) error
	DeleteStream(ctx context.Context, id uuid.UUID) error
	GetLanes(ctx context.Context, streamID uuid.UUID) (*models.StreamLanes, error)
}

type ControlPublisher interface {
	PublishControl(cmd interface{}) error
	PublishRebuild(cmd interface{}) error
}

type StreamHandler struct {
	db         StreamStore
	producer   ControlPublisher
	defaultFPS int
}

func NewStreamHandler(db StreamStore, producer ControlPublisher, defaultFPS int) *StreamHandler {
	if defaultFPS <= 0 {
		defaultFPS = 2
	}
	return &StreamHandler{db: db, producer: producer, defaultFPS: defaultFPS}
}

func (h *StreamHandler) Create(c *gin.Context) {
	var req dto.CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fps := req.FPS
	if fps <= 0 {
		fps = h.defaultFPS
	}

	st := &models.Stream{
		Name:       req.Name,
		URL:        req.URL,
		StreamType: models.StreamType(req.StreamType),
		FPS:        fps,
		LaneMethod: lanes.ParseMethod(req.LaneMethod),
	}

	if err := h.db.CreateStream(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, streamToResponse(st))
}

// lookup parses :id and loads the stream, writing the error response itself
// when it returns nil.
func (h *StreamHandler) lookup(c *gin.Context) *models.Stream {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return nil
	}

	st, err := h.db.GetStream(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return nil
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil
	}
	return st
}

func (h *StreamHandler) Get(c *gin.Context) {
	st := h.lookup(c)
	if st == nil {
		return
	}
	c.JSON(http.StatusOK, streamToResponse(st))
}

func (h *StreamHandler) List(c *gin.Context) {
	streams, err := h.db.ListStreams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StreamResponse, 0, len(streams))
	for _, st := range streams {
		resp = append(resp, streamToResponse(&st))
	}

	c.JSON(http.StatusOK, dto.StreamListResponse{Streams: resp, Total: len(resp)})
}

func (h *StreamHandler) Start(c *gin.Context) {
	st := h.lookup(c)
	if st == nil {
		return
	}

	if st.Status == models.StreamStatusRunning || st.Status == models.StreamStatusStarting {
		c.JSON(http.StatusConflict, gin.H{"error": "stream already running"})
		return
	}

	if err := h.db.UpdateStreamStatus(c.Request.Context(), st.ID, models.StreamStatusStarting, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cmd := models.StreamCommand{
		Action:   models.StreamActionStart,
		StreamID: st.ID.String(),
		URL:      st.URL,
		Type:     st.StreamType,
		FPS:      st.FPS,
	}
	if err := h.producer.PublishControl(cmd); err != nil {
		_ = h.db.UpdateStreamStatus(c.Request.Context(), st.ID, models.StreamStatusError, "failed to publish start command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send start command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": models.StreamStatusStarting, "stream_id": st.ID})
}

func (h *StreamHandler) Stop(c *gin.Context) {
	st := h.lookup(c)
	if st == nil {
		return
	}

	_ = h.producer.PublishControl(models.StreamCommand{Action: models.StreamActionStop, StreamID: st.ID.String()})

	if err := h.db.UpdateStreamStatus(c.Request.Context(), st.ID, models.StreamStatusStopped, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": models.StreamStatusStopped, "stream_id": st.ID})
}

func (h *StreamHandler) Delete(c *gin.Context) {
	st := h.lookup(c)
	if st == nil {
		return
	}

	if st.Status == models.StreamStatusRunning || st.Status == models.StreamStatusStarting {
		_ = h.producer.PublishControl(models.StreamCommand{Action: models.StreamActionStop, StreamID: st.ID.String()})
	}

	if err := h.db.DeleteStream(c.Request.Context(), st.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Lanes returns the stream's most recently built lane polygons.
func (h *StreamHandler) Lanes(c *gin.Context) {
	st := h.lookup(c)
	if st == nil {
		return
	}

	l, err := h.db.GetLanes(c.Request.Context(), st.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "lanes not built yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, lanesToResponse(l))
}

// RebuildLanes stores the requested lane method and asks the workers to
// rebuild the stream's lanes on its next frame.
func (h *StreamHandler) RebuildLanes(c *gin.Context) {
	st := h.lookup(c)
	if st == nil {
		return
	}

	var req dto.RebuildLanesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	method := string(st.LaneMethod)
	if req.Method != "" {
		method = req.Method
	}
	method = string(lanes.ParseMethod(method))

	if err := h.db.UpdateStreamLaneMethod(c.Request.Context(), st.ID, method); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.producer.PublishRebuild(models.RebuildCommand{StreamID: st.ID, Method: method}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send rebuild command"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "rebuild requested", "stream_id": st.ID, "method": method})
}

func streamToResponse(st *models.Stream) dto.StreamResponse {
	return dto.StreamResponse{
		ID:           st.ID,
		Name:         st.Name,
		URL:          st.URL,
		StreamType:   string(st.StreamType),
		FPS:          st.FPS,
		LaneMethod:   string(st.LaneMethod),
		Status:       string(st.Status),
		ErrorMessage: st.ErrorMessage,
		CreatedAt:    st.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    st.UpdatedAt.Format(time.RFC3339),
	}
}

func lanesToResponse(l *models.StreamLanes) dto.LanesResponse {
	resp := dto.LanesResponse{
		StreamID:       l.StreamID,
		Method:         string(l.Method),
		Requested:      string(l.Requested),
		Fallback:       l.Requested == lanes.MethodAuto && l.Method == lanes.MethodManual,
		FallbackReason: l.FallbackReason,
		Width:          l.Width,
		Height:         l.Height,
		Lanes:          make([]dto.LaneResponse, 0, len(l.Lanes)),
		BuiltAt:        l.BuiltAt.Format(time.RFC3339),
	}
	for i, poly := range l.Lanes {
		pts := make([]dto.Point, len(poly))
		for j, p := range poly {
			pts[j] = dto.Point{X: p.X, Y: p.Y}
		}
		resp.Lanes = append(resp.Lanes, dto.LaneResponse{Index: i, Polygon: pts})
	}
	return resp
}
