package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/your-org/lanewatch/internal/config"
	"github.com/your-org/lanewatch/internal/lanes"
)

// SegmentExtractor finds straight line segments for automatic lane
// derivation: grayscale, 5x5 Gaussian blur, Canny edges, probabilistic Hough.
type SegmentExtractor struct {
	cfg config.LanesConfig
}

func NewSegmentExtractor(cfg config.LanesConfig) *SegmentExtractor {
	return &SegmentExtractor{cfg: cfg}
}

// Extract returns the segments found in a BGR frame.
func (e *SegmentExtractor) Extract(frame gocv.Mat) ([]lanes.Segment, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, e.cfg.CannyLow, e.cfg.CannyHigh)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180,
		e.cfg.HoughThreshold, e.cfg.HoughMinLength, e.cfg.HoughMaxGap)

	segments := make([]lanes.Segment, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		if len(v) < 4 {
			continue
		}
		segments = append(segments, lanes.Segment{
			X1: float64(v[0]), Y1: float64(v[1]),
			X2: float64(v[2]), Y2: float64(v[3]),
		})
	}
	return segments, nil
}
