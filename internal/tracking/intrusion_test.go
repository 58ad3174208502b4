package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/lanes"
)

// scriptedLanes returns lanes from a fixed script, one per Assign call.
type scriptedLanes struct {
	script []int
	next   int
}

func (s *scriptedLanes) Assign(geometry.BBox) int {
	l := s.script[s.next]
	s.next++
	return l
}

func runScript(t *testing.T, script []int) (*Tracker, *IntrusionDetector, [][]IntrusionEvent) {
	t.Helper()

	tr := NewTracker(Config{})
	d := NewIntrusionDetector(tr)
	assign := &scriptedLanes{script: script}

	var perFrame [][]IntrusionEvent
	for f := range script {
		out := tr.Update([]Detection{det(100, 100, 150, 150)}, frameAt(f), assign)
		require.Equal(t, 1, out[0].ID, "stationary vehicle keeps its id")
		perFrame = append(perFrame, d.Evaluate(out))
	}
	return tr, d, perFrame
}

func TestIntrusion_StationaryVehicleNoEvents(t *testing.T) {
	t.Parallel()

	_, d, perFrame := runScript(t, []int{1, 1, 1, 1, 1})
	for i, evs := range perFrame {
		assert.Empty(t, evs, "frame %d", i)
	}
	assert.Empty(t, d.Log())
}

func TestIntrusion_LaneChangeEmitsOnce(t *testing.T) {
	t.Parallel()

	_, d, perFrame := runScript(t, []int{0, 1, 1})

	assert.Empty(t, perFrame[0])
	require.Len(t, perFrame[1], 1)
	assert.Empty(t, perFrame[2])

	ev := perFrame[1][0]
	assert.Equal(t, 1, ev.VehicleID)
	assert.Equal(t, 0, ev.FromLane)
	assert.Equal(t, 1, ev.ToLane)
	assert.Equal(t, frameAt(1), ev.Timestamp)
	assert.Equal(t, geometry.BBox{100, 100, 150, 150}, ev.BBox)

	assert.Equal(t, perFrame[1], d.Log())
}

func TestIntrusion_SentinelEndpointsIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script []int
		want   int
	}{
		{"enters road", []int{lanes.None, 1}, 0},
		{"leaves road", []int{2, lanes.None}, 0},
		{"leaves and re-enters elsewhere", []int{0, lanes.None, 2}, 0},
		{"two changes", []int{0, 1, 2}, 2},
		{"back and forth", []int{0, 1, 0, 1}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, d, _ := runScript(t, tt.script)
			assert.Len(t, d.Log(), tt.want)
		})
	}
}

func TestIntrusion_EvaluateIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	d := NewIntrusionDetector(tr)
	assign := &scriptedLanes{script: []int{0, 2}}

	tr.Update([]Detection{det(100, 100, 150, 150)}, frameAt(0), assign)
	out := tr.Update([]Detection{det(100, 100, 150, 150)}, frameAt(1), assign)

	first := d.Evaluate(out)
	second := d.Evaluate(out)
	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Len(t, d.Log(), 1, "re-evaluation does not duplicate log entries")
}

func TestIntrusion_UnknownTrack(t *testing.T) {
	t.Parallel()

	d := NewIntrusionDetector(NewTracker(Config{}))
	evs := d.Evaluate([]TrackedDetection{{ID: 99, Lane: 1}})
	assert.Empty(t, evs)
}

func TestIntrusion_LogIsCopy(t *testing.T) {
	t.Parallel()

	_, d, _ := runScript(t, []int{0, 1})
	log := d.Log()
	require.Len(t, log, 1)
	log[0].VehicleID = 42
	assert.Equal(t, 1, d.Log()[0].VehicleID)
}

func TestIntrusion_OrderFollowsInput(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Config{})
	d := NewIntrusionDetector(tr)
	a := det(100, 100, 150, 150)
	b := det(330, 100, 380, 150)

	tr.Update([]Detection{a, b}, frameAt(0), manual480())
	// Both drift toward the middle and are placed in lane 1.
	a2 := det(115, 100, 165, 150)
	b2 := det(315, 100, 365, 150)
	middle := laneFunc(func(geometry.BBox) int { return 1 })
	out := tr.Update([]Detection{b2, a2}, frameAt(1), middle)
	require.Equal(t, 2, out[0].ID)
	require.Equal(t, 1, out[1].ID)

	evs := d.Evaluate(out)
	require.Len(t, evs, 2)
	assert.Equal(t, 2, evs[0].VehicleID)
	assert.Equal(t, 2, evs[0].FromLane)
	assert.Equal(t, 1, evs[1].VehicleID)
	assert.Equal(t, 0, evs[1].FromLane)
}
