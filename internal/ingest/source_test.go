package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameStride(t *testing.T) {
	tests := []struct {
		name   string
		source float64
		target int
		want   int
	}{
		{"30 to 2", 30, 2, 15},
		{"25 to 2 rounds", 25, 2, 13},
		{"29.97 to 3", 29.97, 3, 10},
		{"target above source", 5, 10, 1},
		{"unknown source rate", 0, 2, 1},
		{"nan source rate", math.NaN(), 2, 1},
		{"zero target", 30, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FrameStride(tt.source, tt.target))
		})
	}
}

func TestScaledSize(t *testing.T) {
	w, h := ScaledSize(1920, 1080, 640)
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	w, h = ScaledSize(480, 360, 640)
	assert.Equal(t, 480, w, "never upscaled")
	assert.Equal(t, 360, h)

	w, h = ScaledSize(1280, 720, 0)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}
