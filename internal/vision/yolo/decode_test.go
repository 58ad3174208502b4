package yolo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/tracking"
)

// output builds a channel-major tensor with 4 classes over n anchors.
type output struct {
	n    int
	data []float32
}

func newOutput(n int) *output {
	return &output{n: n, data: make([]float32, (4+4)*n)}
}

func (o *output) set(anchor int, cx, cy, w, h float32, class int, score float32) {
	o.data[anchor] = cx
	o.data[o.n+anchor] = cy
	o.data[2*o.n+anchor] = w
	o.data[3*o.n+anchor] = h
	o.data[(4+class)*o.n+anchor] = score
}

func TestDecode_ScalesAndFilters(t *testing.T) {
	out := newOutput(4)
	out.set(0, 320, 320, 64, 32, 2, 0.9)  // kept
	out.set(1, 100, 100, 20, 20, 0, 0.95) // class 0 not allowed
	out.set(2, 500, 500, 40, 40, 3, 0.2)  // below threshold
	out.set(3, 10, 10, 40, 40, 3, 0.7)    // kept, clamped at the origin

	dets := Decode(out.data, 4, Frame{Width: 1280, Height: 720}, NewParams(0.5, 0.45, []int{2, 3}))
	require.Len(t, dets, 2)

	assert.Equal(t, 2, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	want := geometry.BBox{(320 - 32) * 2, (320 - 16) * 1.125, (320 + 32) * 2, (320 + 16) * 1.125}
	for i := range want {
		assert.InDelta(t, want[i], dets[0].BBox[i], 1e-9)
	}

	assert.Equal(t, 3, dets[1].ClassID)
	assert.Equal(t, 0.0, dets[1].BBox.X1())
	assert.Equal(t, 0.0, dets[1].BBox.Y1())
}

func TestDecode_BadShape(t *testing.T) {
	assert.Nil(t, Decode(make([]float32, 3), 1, Frame{Width: 640, Height: 640}, NewParams(0.5, 0.45, []int{2})))
	assert.Nil(t, Decode(nil, 0, Frame{Width: 640, Height: 640}, NewParams(0.5, 0.45, []int{2})))
}

func TestNMS(t *testing.T) {
	dets := []tracking.Detection{
		{BBox: geometry.BBox{0, 0, 100, 100}, Confidence: 0.6, ClassID: 7},
		{BBox: geometry.BBox{5, 5, 105, 105}, Confidence: 0.9, ClassID: 2},
		{BBox: geometry.BBox{300, 0, 400, 100}, Confidence: 0.7, ClassID: 2},
	}
	got := NMS(dets, 0.45)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-6)
	assert.Equal(t, 2, got[0].ClassID, "overlapping truck box is suppressed by the car box")
	assert.InDelta(t, 0.7, got[1].Confidence, 1e-6)

	assert.Empty(t, NMS(nil, 0.45))
}
