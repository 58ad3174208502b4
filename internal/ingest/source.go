package ingest

import (
	"context"
	"math"
	"time"
)

// Frame is one sampled, resized and JPEG-encoded video frame.
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Captured time.Time
}

// FrameCallback is called for each sampled frame. Returning an error stops
// the source.
type FrameCallback func(f Frame) error

// Source reads a video stream and delivers frames at roughly fps. Run blocks
// until ctx is done, the stream ends (nil error) or it fails.
type Source interface {
	Run(ctx context.Context, url string, fps int, callback FrameCallback) error
}

// SourceFactory opens a fresh Source for each (re)connect attempt.
type SourceFactory func() Source

// FrameStride returns how many source frames to advance per sampled frame so
// that a sourceFPS stream is sampled at about targetFPS. Unknown source rates
// (0 or NaN, common for RTSP) sample every frame.
func FrameStride(sourceFPS float64, targetFPS int) int {
	if targetFPS <= 0 || sourceFPS <= 0 || math.IsNaN(sourceFPS) || math.IsInf(sourceFPS, 0) {
		return 1
	}
	stride := int(math.Round(sourceFPS / float64(targetFPS)))
	if stride < 1 {
		return 1
	}
	return stride
}

// ScaledSize returns the frame size after resizing to width, keeping the
// aspect ratio. Frames narrower than width, or width <= 0, keep their size.
func ScaledSize(w, h, width int) (int, int) {
	if width <= 0 || w <= width || w <= 0 {
		return w, h
	}
	nh := int(math.Round(float64(h) * float64(width) / float64(w)))
	if nh < 1 {
		nh = 1
	}
	return width, nh
}
