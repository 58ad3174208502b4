package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lanewatch/internal/models"
	"github.com/your-org/lanewatch/internal/observability"
	"github.com/your-org/lanewatch/internal/storage"
)

type FramePublisher interface {
	PublishFrame(ctx context.Context, streamID, frameID string, task interface{}) error
}

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type StatusStore interface {
	UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error
}

type ManagerConfig struct {
	DefaultFPS int
	MaxRetries int
	// Backoff returns the wait before retry attempt n (1-based). Defaults to
	// 2s, 4s, 8s, ...
	Backoff func(attempt int) time.Duration
}

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

type activeStream struct {
	cancel context.CancelFunc
}

// Manager manages video stream ingestion lifecycle.
type Manager struct {
	producer  FramePublisher
	minio     ObjectStore
	db        StatusStore
	newSource SourceFactory
	cfg       ManagerConfig

	wg      sync.WaitGroup
	mu      sync.RWMutex
	streams map[string]*activeStream
}

func NewManager(producer FramePublisher, minio ObjectStore, db StatusStore, newSource SourceFactory, cfg ManagerConfig) *Manager {
	if cfg.DefaultFPS <= 0 {
		cfg.DefaultFPS = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == nil {
		cfg.Backoff = defaultBackoff
	}
	return &Manager{
		producer:  producer,
		minio:     minio,
		db:        db,
		newSource: newSource,
		cfg:       cfg,
		streams:   make(map[string]*activeStream),
	}
}

// HandleCommand processes a stream control command.
func (m *Manager) HandleCommand(ctx context.Context, cmd models.StreamCommand) error {
	switch cmd.Action {
	case models.StreamActionStart:
		return m.startStream(ctx, cmd)
	case models.StreamActionStop:
		return m.stopStream(cmd.StreamID)
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

func (m *Manager) startStream(ctx context.Context, cmd models.StreamCommand) error {
	streamID, err := uuid.Parse(cmd.StreamID)
	if err != nil {
		return fmt.Errorf("invalid stream id %q: %w", cmd.StreamID, err)
	}

	fps := cmd.FPS
	if fps <= 0 {
		fps = m.cfg.DefaultFPS
	}

	streamCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if _, exists := m.streams[cmd.StreamID]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("stream %s already running", cmd.StreamID)
	}
	m.streams[cmd.StreamID] = &activeStream{cancel: cancel}
	m.mu.Unlock()

	observability.ActiveStreams.Inc()
	m.updateStatus(streamID, models.StreamStatusRunning, "")

	slog.Info("starting stream ingestion", "stream_id", cmd.StreamID, "url", cmd.URL, "fps", fps)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.streams, cmd.StreamID)
			m.mu.Unlock()
			cancel()
			observability.ActiveStreams.Dec()
			slog.Info("stream ingestion stopped", "stream_id", cmd.StreamID)
		}()

		m.run(streamCtx, streamID, cmd.URL, fps)
	}()

	return nil
}

// run captures with retries until the stream ends, is stopped or fails
// MaxRetries times in a row.
func (m *Manager) run(ctx context.Context, streamID uuid.UUID, url string, fps int) {
	sid := streamID.String()
	var lastSeq int64

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.cfg.Backoff(attempt)
			slog.Warn("retrying stream capture",
				"stream_id", sid,
				"attempt", attempt,
				"delay", delay,
			)
			select {
			case <-ctx.Done():
				m.updateStatus(streamID, models.StreamStatusStopped, "")
				return
			case <-time.After(delay):
			}
		}

		delivered := 0
		err := m.newSource().Run(ctx, url, fps, func(f Frame) error {
			seq := f.Captured.UnixMicro()
			if seq <= lastSeq {
				seq = lastSeq + 1
			}
			if err := m.publish(ctx, streamID, seq, f); err != nil {
				return err
			}
			lastSeq = seq
			delivered++
			return nil
		})

		if err == nil || ctx.Err() != nil {
			// Clean end of stream or stopped by the user.
			m.updateStatus(streamID, models.StreamStatusStopped, "")
			return
		}

		slog.Error("stream capture failed",
			"stream_id", sid,
			"attempt", attempt,
			"frames", delivered,
			"error", err,
		)
		if delivered > 0 {
			attempt = 0 // it was healthy for a while; start the backoff over
		}
	}

	m.updateStatus(streamID, models.StreamStatusError, "stream failed after retries")
}

// publish uploads one frame and queues its task. Seq increases across
// reconnects and restarts so workers never see a stream go backwards.
func (m *Manager) publish(ctx context.Context, streamID uuid.UUID, seq int64, f Frame) error {
	sid := streamID.String()
	frameID := uuid.New()
	key := storage.FrameKey(sid, frameID.String())

	if err := m.minio.PutObject(ctx, key, f.Data, "image/jpeg"); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}

	task := models.FrameTask{
		StreamID:  streamID,
		FrameID:   frameID,
		Seq:       seq,
		Timestamp: f.Captured,
		FrameRef:  key,
		Width:     f.Width,
		Height:    f.Height,
	}
	if err := m.producer.PublishFrame(ctx, sid, frameID.String(), task); err != nil {
		return fmt.Errorf("publish frame task: %w", err)
	}

	observability.FramesIngested.WithLabelValues(sid).Inc()
	return nil
}

func (m *Manager) stopStream(streamID string) error {
	m.mu.RLock()
	as, exists := m.streams[streamID]
	m.mu.RUnlock()

	if !exists {
		return nil // Already stopped
	}

	as.cancel()

	slog.Info("stop command sent", "stream_id", streamID)
	return nil
}

func (m *Manager) updateStatus(id uuid.UUID, status models.StreamStatus, errMsg string) {
	if err := m.db.UpdateStreamStatus(context.Background(), id, status, errMsg); err != nil {
		slog.Error("update stream status", "stream_id", id, "error", err)
	}
}

// ActiveCount returns the number of currently running streams.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// StopAll stops all running streams and waits for their captures to exit.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.stopStream(id)
	}
	m.wg.Wait()
}

// Wait blocks until every started capture has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// ParseCommand parses a NATS message into a StreamCommand.
func ParseCommand(data []byte) (models.StreamCommand, error) {
	var cmd models.StreamCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("parse command: %w", err)
	}
	return cmd, nil
}
