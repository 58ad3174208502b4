// Package streams runs one tracking session per video stream and fans its
// results out to storage, the message bus and metrics.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lanewatch/internal/lanes"
	"github.com/your-org/lanewatch/internal/models"
	"github.com/your-org/lanewatch/internal/observability"
	"github.com/your-org/lanewatch/internal/tracking"
)

// ErrStaleFrame is returned for a frame older than one already processed for
// the same stream. Sessions require frames in capture order.
var ErrStaleFrame = errors.New("stale frame")

type Publisher interface {
	PublishIntrusion(ctx context.Context, streamID, eventID string, ev interface{}) error
}

type LaneStore interface {
	GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	SaveLanes(ctx context.Context, l models.StreamLanes) error
}

// SessionFactory builds the session for a stream given its lane method
// ("" for the default).
type SessionFactory func(method string) *tracking.Session

// Input is one decoded frame ready for tracking.
type Input struct {
	Task       models.FrameTask
	Width      int
	Height     int
	Detections []tracking.Detection
	// Segments is called only when the stream's lanes are being built
	// automatically. An error makes the build fall back to manual lanes.
	Segments func() ([]lanes.Segment, error)
}

type state struct {
	mu       sync.Mutex
	session  *tracking.Session
	lastSeq  int64
	lastTS   time.Time
	lastSeen time.Time
	// intrusions not yet accepted by the bus, oldest first
	pending []models.Intrusion
}

// Processor owns the per-stream sessions of a worker process.
type Processor struct {
	newSession SessionFactory
	store      LaneStore
	pub        Publisher
	now        func() time.Time

	mu     sync.Mutex
	states map[uuid.UUID]*state
	// next vehicle id of evicted streams
	resume map[uuid.UUID]int
}

func NewProcessor(newSession SessionFactory, store LaneStore, pub Publisher) *Processor {
	return &Processor{
		newSession: newSession,
		store:      store,
		pub:        pub,
		now:        time.Now,
		states:     make(map[uuid.UUID]*state),
		resume:     make(map[uuid.UUID]int),
	}
}

func (p *Processor) state(ctx context.Context, streamID uuid.UUID) *state {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st, ok := p.states[streamID]; ok {
		return st
	}

	method := ""
	if s, err := p.store.GetStream(ctx, streamID); err != nil {
		slog.Warn("lookup stream lane method, using default", "stream_id", streamID, "error", err)
	} else {
		method = string(s.LaneMethod)
	}

	st := &state{session: p.newSession(method)}
	if next, ok := p.resume[streamID]; ok {
		st.session.Tracker().ResumeFrom(next)
		delete(p.resume, streamID)
	}
	p.states[streamID] = st
	return st
}

// NeedsLanes reports whether the next frame of the stream will build lanes.
func (p *Processor) NeedsLanes(ctx context.Context, streamID uuid.UUID) bool {
	st := p.state(ctx, streamID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.NeedsLanes()
}

// Process runs one frame through its stream's session, persists a rebuilt
// lane set and publishes every intrusion event. If the bus refuses an event
// the error is returned together with the result and the event is retried,
// before anything newer, on the stream's next Process call.
func (p *Processor) Process(ctx context.Context, in Input) (tracking.FrameResult, error) {
	streamID := in.Task.StreamID
	sid := streamID.String()
	st := p.state(ctx, streamID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.lastSeq > 0 && in.Task.Seq <= st.lastSeq || in.Task.Timestamp.Before(st.lastTS) {
		// retry intrusions a redelivered frame left unpublished
		if err := p.flush(ctx, sid, st); err != nil {
			return tracking.FrameResult{}, err
		}
		observability.FramesDropped.WithLabelValues("stale").Inc()
		return tracking.FrameResult{}, fmt.Errorf("%w: stream %s seq %d after %d", ErrStaleFrame, sid, in.Task.Seq, st.lastSeq)
	}

	frame := tracking.Frame{
		Timestamp:  in.Task.Timestamp,
		Width:      in.Width,
		Height:     in.Height,
		Detections: in.Detections,
	}
	if st.session.NeedsLanes() && st.session.Method() == lanes.MethodAuto && in.Segments != nil {
		start := time.Now()
		segs, err := in.Segments()
		observability.InferenceDuration.WithLabelValues("segments").Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Warn("extract lane segments", "stream_id", sid, "error", err)
		}
		frame.Segments = segs
	}

	start := time.Now()
	res := st.session.Process(frame)
	observability.InferenceDuration.WithLabelValues("track").Observe(time.Since(start).Seconds())

	st.lastSeq = in.Task.Seq
	st.lastTS = in.Task.Timestamp
	st.lastSeen = p.now()

	observability.FramesProcessed.WithLabelValues(sid).Inc()
	observability.VehiclesDetected.WithLabelValues(sid).Add(float64(len(in.Detections)))
	observability.ActiveTracks.WithLabelValues(sid).Set(float64(len(res.Tracked)))

	if res.Lanes != nil {
		p.recordLanes(ctx, streamID, in, *res.Lanes)
	}

	for _, ev := range res.Intrusions {
		intrusion := models.NewIntrusion(in.Task, ev)
		observability.Intrusions.WithLabelValues(sid).Inc()
		slog.Info("lane intrusion",
			"stream_id", sid,
			"vehicle_id", ev.VehicleID,
			"from_lane", ev.FromLane,
			"to_lane", ev.ToLane,
			"timestamp", ev.Timestamp,
		)
		st.pending = append(st.pending, intrusion)
	}

	if err := p.flush(ctx, sid, st); err != nil {
		slog.Error("publish intrusions", "stream_id", sid, "pending", len(st.pending), "error", err)
		return res, err
	}
	return res, nil
}

// flush publishes pending intrusions in order and stops at the first
// failure. Ids are fixed when an intrusion is queued, so a retry is
// deduplicated downstream.
func (p *Processor) flush(ctx context.Context, sid string, st *state) error {
	for len(st.pending) > 0 {
		in := st.pending[0]
		if err := p.pub.PublishIntrusion(ctx, sid, in.ID.String(), in); err != nil {
			return fmt.Errorf("publish intrusion %s: %w", in.ID, err)
		}
		st.pending = st.pending[1:]
	}
	st.pending = nil
	return nil
}

func (p *Processor) recordLanes(ctx context.Context, streamID uuid.UUID, in Input, res lanes.Result) {
	observability.LaneBuilds.WithLabelValues(string(res.Method)).Inc()
	if cause := res.FallbackCause(); cause != "" {
		observability.LaneFallbacks.WithLabelValues(cause).Inc()
	}

	l := models.NewStreamLanes(streamID, in.Width, in.Height, res, p.now())
	if err := p.store.SaveLanes(ctx, l); err != nil {
		slog.Error("save lanes", "stream_id", streamID, "error", err)
		return
	}
	slog.Info("lanes built",
		"stream_id", streamID,
		"method", res.Method,
		"requested", res.Requested,
		"lanes", len(res.Lanes),
	)
}

// RequestRebuild makes the stream's next frame rebuild its lanes. Streams
// without a session yet build lanes on their first frame anyway.
func (p *Processor) RequestRebuild(cmd models.RebuildCommand) {
	p.mu.Lock()
	st, ok := p.states[cmd.StreamID]
	p.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	st.session.RequestRebuild(lanes.ParseMethod(cmd.Method))
	st.mu.Unlock()
	slog.Info("lane rebuild requested", "stream_id", cmd.StreamID, "method", cmd.Method)
}

// Evict drops sessions that have not seen a frame for idle. A stream that
// resumes afterwards rebuilds its lanes and tracks from scratch, but its
// vehicle ids continue where the evicted session stopped. Sessions still
// holding unpublished intrusions are kept.
func (p *Processor) Evict(idle time.Duration) int {
	cutoff := p.now().Add(-idle)

	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, st := range p.states {
		st.mu.Lock()
		stale := !st.lastSeen.IsZero() && st.lastSeen.Before(cutoff) && len(st.pending) == 0
		next := st.session.Tracker().NextID()
		st.mu.Unlock()
		if stale {
			delete(p.states, id)
			p.resume[id] = next
			observability.ActiveTracks.DeleteLabelValues(id.String())
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}
