package streams

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/lanes"
	"github.com/your-org/lanewatch/internal/models"
	"github.com/your-org/lanewatch/internal/tracking"
)

type fakeStore struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*models.Stream
	saved   []models.StreamLanes
}

func (f *fakeStore) GetStream(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[id]; ok {
		return s, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) SaveLanes(_ context.Context, l models.StreamLanes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, l)
	return nil
}

type published struct {
	streamID, eventID string
	ev                models.Intrusion
}

type fakePublisher struct {
	mu   sync.Mutex
	out  []published
	fail bool
}

func (f *fakePublisher) PublishIntrusion(_ context.Context, streamID, eventID string, ev interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("nats: timeout")
	}
	f.out = append(f.out, published{streamID, eventID, ev.(models.Intrusion)})
	return nil
}

func (f *fakePublisher) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProcessor(streams ...*models.Stream) (*Processor, *fakeStore, *fakePublisher) {
	store := &fakeStore{streams: map[uuid.UUID]*models.Stream{}}
	for _, s := range streams {
		store.streams[s.ID] = s
	}
	pub := &fakePublisher{}
	factory := func(method string) *tracking.Session {
		return tracking.NewSession(tracking.SessionConfig{LaneMethod: lanes.ParseMethod(method)})
	}
	return NewProcessor(factory, store, pub), store, pub
}

func input(streamID uuid.UUID, seq int64, boxes ...geometry.BBox) Input {
	dets := make([]tracking.Detection, len(boxes))
	for i, b := range boxes {
		dets[i] = tracking.Detection{BBox: b, Confidence: 0.8, ClassID: 2}
	}
	return Input{
		Task: models.FrameTask{
			StreamID:  streamID,
			FrameID:   uuid.New(),
			Seq:       seq,
			Timestamp: t0.Add(time.Duration(seq) * 500 * time.Millisecond),
			FrameRef:  "frames/x.jpg",
		},
		Width:      480,
		Height:     360,
		Detections: dets,
	}
}

func TestProcessor_PublishesIntrusions(t *testing.T) {
	stream := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	p, store, pub := newTestProcessor(stream)
	ctx := context.Background()

	res, err := p.Process(ctx, input(stream.ID, 1, geometry.BBox{100, 200, 160, 260}))
	require.NoError(t, err)
	require.NotNil(t, res.Lanes)
	assert.Empty(t, pub.out)

	require.Len(t, store.saved, 1)
	assert.Equal(t, lanes.MethodManual, store.saved[0].Method)
	assert.Equal(t, 480, store.saved[0].Width)
	assert.Len(t, store.saved[0].Lanes, 3)

	in := input(stream.ID, 2, geometry.BBox{131, 200, 191, 260})
	res, err = p.Process(ctx, in)
	require.NoError(t, err)
	require.Len(t, res.Intrusions, 1)

	require.Len(t, pub.out, 1)
	got := pub.out[0]
	assert.Equal(t, stream.ID.String(), got.streamID)
	assert.Equal(t, got.ev.ID.String(), got.eventID)
	assert.Equal(t, 1, got.ev.VehicleID)
	assert.Equal(t, 0, got.ev.FromLane)
	assert.Equal(t, 1, got.ev.ToLane)
	assert.Equal(t, in.Task.FrameID, got.ev.FrameID)
	assert.Equal(t, in.Task.FrameRef, got.ev.FrameKey)
	assert.Equal(t, in.Task.Timestamp, got.ev.Timestamp)

	assert.Len(t, store.saved, 1, "lanes are only saved when built")
}

func TestProcessor_DropsStaleFrames(t *testing.T) {
	stream := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	p, _, _ := newTestProcessor(stream)
	ctx := context.Background()

	_, err := p.Process(ctx, input(stream.ID, 5))
	require.NoError(t, err)

	_, err = p.Process(ctx, input(stream.ID, 5))
	assert.ErrorIs(t, err, ErrStaleFrame)
	_, err = p.Process(ctx, input(stream.ID, 3))
	assert.ErrorIs(t, err, ErrStaleFrame)

	_, err = p.Process(ctx, input(stream.ID, 6))
	assert.NoError(t, err)
}

func TestProcessor_StreamsAreIndependent(t *testing.T) {
	a := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	b := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	p, _, _ := newTestProcessor(a, b)
	ctx := context.Background()

	ra, err := p.Process(ctx, input(a.ID, 1, geometry.BBox{10, 10, 50, 50}))
	require.NoError(t, err)
	rb, err := p.Process(ctx, input(b.ID, 1, geometry.BBox{10, 10, 50, 50}))
	require.NoError(t, err)

	assert.Equal(t, 1, ra.Tracked[0].ID)
	assert.Equal(t, 1, rb.Tracked[0].ID)
	assert.Equal(t, 2, p.Len())
}

func TestProcessor_SegmentsOnlyWhenBuildingAutoLanes(t *testing.T) {
	auto := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodAuto}
	p, store, _ := newTestProcessor(auto)
	ctx := context.Background()

	calls := 0
	segments := func() ([]lanes.Segment, error) {
		calls++
		return []lanes.Segment{
			{X1: 100, Y1: 400, X2: 200, Y2: 100},
			{X1: 400, Y1: 100, X2: 500, Y2: 400},
		}, nil
	}

	assert.True(t, p.NeedsLanes(ctx, auto.ID))
	in := input(auto.ID, 1)
	in.Width, in.Height = 600, 400
	in.Segments = segments
	res, err := p.Process(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, res.Lanes)
	assert.Equal(t, lanes.MethodAuto, res.Lanes.Method)
	assert.Equal(t, 1, calls)

	in = input(auto.ID, 2)
	in.Segments = segments
	_, err = p.Process(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, p.NeedsLanes(ctx, auto.ID))
	require.Len(t, store.saved, 1)
}

func TestProcessor_SegmentErrorFallsBack(t *testing.T) {
	p, store, _ := newTestProcessor()
	id := uuid.New() // unknown stream: default (auto) session

	in := input(id, 1)
	in.Segments = func() ([]lanes.Segment, error) { return nil, errors.New("decode failed") }
	res, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res.Lanes)
	assert.True(t, res.Lanes.Fallback())
	require.Len(t, store.saved, 1)
	assert.Equal(t, lanes.ErrNoSegments.Error(), store.saved[0].FallbackReason)
}

func TestProcessor_RequestRebuild(t *testing.T) {
	stream := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	p, store, _ := newTestProcessor(stream)
	ctx := context.Background()

	// Unknown streams are ignored.
	p.RequestRebuild(models.RebuildCommand{StreamID: uuid.New(), Method: "manual"})
	assert.Equal(t, 0, p.Len())

	_, err := p.Process(ctx, input(stream.ID, 1, geometry.BBox{10, 10, 50, 50}))
	require.NoError(t, err)

	p.RequestRebuild(models.RebuildCommand{StreamID: stream.ID, Method: "manual"})
	assert.True(t, p.NeedsLanes(ctx, stream.ID))

	res, err := p.Process(ctx, input(stream.ID, 2, geometry.BBox{10, 10, 50, 50}))
	require.NoError(t, err)
	require.NotNil(t, res.Lanes)
	assert.Equal(t, 1, res.Tracked[0].ID, "rebuild keeps vehicle identities")
	assert.Len(t, store.saved, 2)
}

func TestProcessor_Evict(t *testing.T) {
	stream := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	p, _, _ := newTestProcessor(stream)

	now := t0
	p.now = func() time.Time { return now }

	_, err := p.Process(context.Background(), input(stream.ID, 1))
	require.NoError(t, err)

	now = t0.Add(time.Minute)
	assert.Equal(t, 0, p.Evict(5*time.Minute))
	assert.Equal(t, 1, p.Len())

	now = t0.Add(10 * time.Minute)
	assert.Equal(t, 1, p.Evict(5*time.Minute))
	assert.Equal(t, 0, p.Len())
}

func TestProcessor_RetriesRefusedIntrusions(t *testing.T) {
	stream := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	p, _, pub := newTestProcessor(stream)
	p.now = func() time.Time { return t0 }
	ctx := context.Background()

	_, err := p.Process(ctx, input(stream.ID, 1, geometry.BBox{100, 200, 160, 260}))
	require.NoError(t, err)

	pub.setFail(true)
	res, err := p.Process(ctx, input(stream.ID, 2, geometry.BBox{131, 200, 191, 260}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStaleFrame)
	require.Len(t, res.Intrusions, 1, "tracking state still advances")
	assert.Empty(t, pub.out)

	// Redelivery of the same frame while the bus is still down keeps failing.
	_, err = p.Process(ctx, input(stream.ID, 2, geometry.BBox{131, 200, 191, 260}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStaleFrame)

	p.now = func() time.Time { return t0.Add(time.Hour) }
	assert.Equal(t, 0, p.Evict(time.Minute), "unpublished intrusions pin the session")

	pub.setFail(false)
	_, err = p.Process(ctx, input(stream.ID, 2, geometry.BBox{131, 200, 191, 260}))
	assert.ErrorIs(t, err, ErrStaleFrame)
	require.Len(t, pub.out, 1)
	first := pub.out[0]
	assert.Equal(t, 0, first.ev.FromLane)
	assert.Equal(t, 1, first.ev.ToLane)
	assert.Equal(t, first.ev.ID.String(), first.eventID)

	// Nothing left to send: the next frame publishes only its own events.
	_, err = p.Process(ctx, input(stream.ID, 3, geometry.BBox{131, 200, 191, 260}))
	require.NoError(t, err)
	assert.Len(t, pub.out, 1)
}

func TestProcessor_VehicleIDsSurviveEviction(t *testing.T) {
	stream := &models.Stream{ID: uuid.New(), LaneMethod: lanes.MethodManual}
	p, _, _ := newTestProcessor(stream)
	ctx := context.Background()

	now := t0
	p.now = func() time.Time { return now }

	res, err := p.Process(ctx, input(stream.ID, 1, geometry.BBox{10, 10, 50, 50}, geometry.BBox{300, 10, 340, 50}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracked[0].ID)
	assert.Equal(t, 2, res.Tracked[1].ID)

	now = t0.Add(time.Hour)
	require.Equal(t, 1, p.Evict(time.Minute))

	res, err = p.Process(ctx, input(stream.ID, 2, geometry.BBox{10, 10, 50, 50}))
	require.NoError(t, err)
	require.NotNil(t, res.Lanes, "a resumed stream rebuilds its lanes")
	assert.Equal(t, 3, res.Tracked[0].ID)

	other := uuid.New()
	res, err = p.Process(ctx, input(other, 1, geometry.BBox{10, 10, 50, 50}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracked[0].ID)
}
