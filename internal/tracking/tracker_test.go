package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/lanes"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func frameAt(i int) time.Time { return t0.Add(time.Duration(i) * 200 * time.Millisecond) }

// manual480 is the 3-lane manual partition of a 480x360 frame: lane
// boundaries at x=160 and x=320.
func manual480() *lanes.Assigner {
	return lanes.NewAssigner(lanes.Manual(480, 360, 3))
}

func det(x1, y1, x2, y2 float64) Detection {
	return Detection{BBox: geometry.BBox{x1, y1, x2, y2}, Confidence: 0.9, ClassID: 2}
}

// laneFunc adapts a function to LaneAssigner.
type laneFunc func(geometry.BBox) int

func (f laneFunc) Assign(b geometry.BBox) int { return f(b) }

func TestTracker_FirstFrameAssignsFreshIDs(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	out := tr.Update([]Detection{det(10, 10, 50, 50), det(200, 10, 250, 50), det(400, 10, 450, 50)}, frameAt(0), manual480())

	require.Len(t, out, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, []int{0, 1, 2}, []int{out[0].Lane, out[1].Lane, out[2].Lane})
	assert.Equal(t, 3, tr.TrackCount())
	for _, o := range out {
		require.Len(t, tr.History(o.ID), 1)
	}
}

func TestTracker_PassesMetadataThrough(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	in := Detection{BBox: geometry.BBox{10, 10, 50, 50}, Confidence: 0.42, ClassID: 7}
	out := tr.Update([]Detection{in}, frameAt(0), manual480())

	require.Len(t, out, 1)
	assert.Equal(t, in, out[0].Detection)
}

func TestTracker_MatchesAcrossFrames(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	lanesA := manual480()

	first := tr.Update([]Detection{det(100, 200, 160, 260)}, frameAt(0), lanesA)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].ID)
	assert.Equal(t, 0, first[0].Lane)

	second := tr.Update([]Detection{det(110, 200, 170, 260)}, frameAt(1), lanesA)
	require.Len(t, second, 1)
	assert.Equal(t, 1, second[0].ID)

	hist := tr.History(1)
	require.Len(t, hist, 2)
	assert.Equal(t, frameAt(0), hist[0].Timestamp)
	assert.Equal(t, frameAt(1), hist[1].Timestamp)
	assert.Equal(t, geometry.BBox{110, 200, 170, 260}, hist[1].BBox)
	assert.Equal(t, 2, hist[1].Seq)
}

func TestTracker_BelowThresholdIsNewVehicle(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	tr.Update([]Detection{det(0, 0, 100, 100)}, frameAt(0), manual480())
	// IOU = 2000 / 18000 ≈ 0.11
	out := tr.Update([]Detection{det(80, 0, 180, 100)}, frameAt(1), manual480())

	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].ID)
	assert.Len(t, tr.History(1), 1)
}

func TestTracker_ThresholdIsStrict(t *testing.T) {
	t.Parallel()

	// IOU of these boxes is exactly 0.5.
	a := det(0, 0, 30, 10)
	b := det(10, 0, 40, 10)
	require.InDelta(t, 0.5, geometry.IOU(a.BBox, b.BBox), 1e-12)

	tr := NewTracker(Config{IOUThreshold: 0.5})
	tr.Update([]Detection{a}, frameAt(0), manual480())
	out := tr.Update([]Detection{b}, frameAt(1), manual480())
	assert.Equal(t, 2, out[0].ID)
}

func TestTracker_PreviousTrackConsumedOnce(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	tr.Update([]Detection{det(0, 0, 100, 100)}, frameAt(0), manual480())

	// Both overlap the single previous box; only the first may take it.
	out := tr.Update([]Detection{det(5, 0, 105, 100), det(0, 5, 100, 105)}, frameAt(1), manual480())
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].ID)
	assert.Equal(t, 2, out[1].ID)
}

func TestTracker_GreedyIsOrderSensitive(t *testing.T) {
	t.Parallel()

	prev := []Detection{det(0, 0, 100, 100), det(60, 0, 160, 100)}
	// c1 overlaps both previous boxes, more so the second; c2 only fits the second.
	c1 := det(40, 0, 140, 100)
	c2 := det(70, 0, 170, 100)

	forward := NewTracker(Config{})
	forward.Update(prev, frameAt(0), manual480())
	outF := forward.Update([]Detection{c1, c2}, frameAt(1), manual480())
	// c1 grabs track 2 (IOU 0.67 > 0.43), leaving c2 without a match.
	assert.Equal(t, 2, outF[0].ID)
	assert.Equal(t, 3, outF[1].ID)

	reversed := NewTracker(Config{})
	reversed.Update(prev, frameAt(0), manual480())
	outR := reversed.Update([]Detection{c2, c1}, frameAt(1), manual480())
	// c2 takes track 2 first; c1 then falls back to track 1.
	assert.Equal(t, 2, outR[0].ID)
	assert.Equal(t, 1, outR[1].ID)
}

func TestTracker_HungarianMaximisesTotalOverlap(t *testing.T) {
	t.Parallel()

	prev := []Detection{det(0, 0, 100, 100), det(60, 0, 160, 100)}
	c1 := det(40, 0, 140, 100)
	c2 := det(70, 0, 170, 100)

	tr := NewTracker(Config{Matcher: NewMatcher(MatcherHungarian)})
	tr.Update(prev, frameAt(0), manual480())
	out := tr.Update([]Detection{c1, c2}, frameAt(1), manual480())

	assert.Equal(t, 1, out[0].ID)
	assert.Equal(t, 2, out[1].ID)
}

func TestTracker_EmptyFrameClearsPrevious(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	tr.Update([]Detection{det(0, 0, 100, 100)}, frameAt(0), manual480())

	out := tr.Update(nil, frameAt(1), manual480())
	assert.Empty(t, out)
	assert.Equal(t, 0, tr.ActiveCount())

	again := tr.Update([]Detection{det(0, 0, 100, 100)}, frameAt(2), manual480())
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].ID, "vehicle absent for a frame gets a new id")
}

func TestTracker_ResetKeepsIDCounter(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	tr.Update([]Detection{det(0, 0, 100, 100)}, frameAt(0), manual480())
	tr.Reset()

	out := tr.Update([]Detection{det(0, 0, 100, 100)}, frameAt(1), manual480())
	assert.Equal(t, 2, out[0].ID)
	assert.Len(t, tr.History(1), 1)
}

func TestTracker_IDsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	seen := map[int]bool{}
	maxID := 0

	// Boxes jump around so most frames create tracks and some match.
	for f := 0; f < 50; f++ {
		var dets []Detection
		for k := 0; k < f%4+1; k++ {
			x := float64((f*37 + k*90) % 400)
			dets = append(dets, det(x, 50, x+60, 110))
		}
		out := tr.Update(dets, frameAt(f), manual480())

		frameIDs := map[int]bool{}
		for _, o := range out {
			assert.False(t, frameIDs[o.ID], "id %d reused within frame %d", o.ID, f)
			frameIDs[o.ID] = true
			if !seen[o.ID] {
				assert.Greater(t, o.ID, maxID, "new id must exceed all earlier ids")
				maxID = o.ID
				seen[o.ID] = true
			}
			assert.GreaterOrEqual(t, o.Lane, -1)
			assert.Less(t, o.Lane, 3)
		}
	}
	assert.Equal(t, maxID, tr.TrackCount())
}

func TestTracker_MaxHistory(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{MaxHistory: 3})
	for f := 0; f < 10; f++ {
		tr.Update([]Detection{det(100, 100, 150, 150)}, frameAt(f), manual480())
	}

	hist := tr.History(1)
	require.Len(t, hist, 3)
	assert.Equal(t, 8, hist[0].Seq)
	assert.Equal(t, 10, hist[2].Seq)
	assert.Equal(t, frameAt(9), hist[2].Timestamp)

	low := NewTracker(Config{MaxHistory: 1})
	for f := 0; f < 4; f++ {
		low.Update([]Detection{det(100, 100, 150, 150)}, frameAt(f), manual480())
	}
	assert.Len(t, low.History(1), 2)
}

func TestTracker_UnassignedLane(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	none := laneFunc(func(geometry.BBox) int { return lanes.None })
	out := tr.Update([]Detection{det(0, 0, 10, 10)}, frameAt(0), none)
	assert.Equal(t, lanes.None, out[0].Lane)
	assert.Equal(t, lanes.None, tr.History(1)[0].Lane)
}

func TestGreedyMatcher_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, GreedyMatcher{}.Match(nil, nil, 0.3))
	assert.Equal(t, []int{-1}, GreedyMatcher{}.Match(nil, []geometry.BBox{{0, 0, 1, 1}}, 0.3))
	assert.Equal(t, []int{-1}, HungarianMatcher{}.Match(nil, []geometry.BBox{{0, 0, 1, 1}}, 0.3))
}

func TestHungarianMatcher_RejectsLowOverlap(t *testing.T) {
	t.Parallel()

	prev := []geometry.BBox{{0, 0, 100, 100}, {500, 0, 600, 100}}
	cur := []geometry.BBox{{80, 0, 180, 100}, {505, 0, 605, 100}, {300, 300, 310, 310}}
	got := HungarianMatcher{}.Match(prev, cur, 0.3)
	assert.Equal(t, []int{-1, 1, -1}, got)
}

func TestTracker_HistoryIsACopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{MaxHistory: 2})
	tr.Update([]Detection{det(100, 100, 150, 150)}, frameAt(0), manual480())
	tr.Update([]Detection{det(100, 100, 150, 150)}, frameAt(1), manual480())

	held := tr.History(1)
	require.Len(t, held, 2)
	assert.Equal(t, 1, held[0].Seq)

	tr.Update([]Detection{det(100, 100, 150, 150)}, frameAt(2), manual480())
	assert.Equal(t, 1, held[0].Seq, "trimming must not rewrite a returned history")
	assert.Equal(t, 2, held[1].Seq)

	held[0].Lane = 99
	assert.Equal(t, 2, tr.History(1)[0].Seq)
	assert.NotEqual(t, 99, tr.History(1)[0].Lane)
}

func TestTracker_ResumeFrom(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	assert.Equal(t, 1, tr.NextID())

	tr.ResumeFrom(7)
	out := tr.Update([]Detection{det(10, 10, 50, 50)}, frameAt(0), manual480())
	assert.Equal(t, 7, out[0].ID)
	assert.Equal(t, 8, tr.NextID())

	tr.ResumeFrom(3)
	assert.Equal(t, 8, tr.NextID(), "the counter never moves backwards")
}
