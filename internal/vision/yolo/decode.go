// Package yolo decodes raw YOLOv8 detection output into vehicle boxes.
package yolo

import (
	"sort"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/tracking"
)

const (
	InputSize  = 640
	Anchors    = 8400 // 80*80 + 40*40 + 20*20 for a 640 input
	NumClasses = 80
)

// Params controls how raw output becomes detections.
type Params struct {
	Threshold float32
	NMS       float64
	classes   map[int]bool
}

func NewParams(threshold, nmsThreshold float64, classes []int) Params {
	allowed := make(map[int]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}
	return Params{Threshold: float32(threshold), NMS: nmsThreshold, classes: allowed}
}

// Frame maps model input coordinates back onto the source frame.
type Frame struct {
	Width, Height int
}

func (f Frame) scale() (float64, float64) {
	return float64(f.Width) / InputSize, float64(f.Height) / InputSize
}

// Decode reads a channel-major [4+classes, anchors] output and applies NMS.
// Each anchor yields at most one detection: its best class, if that class is
// allowed and scores at least the threshold.
func Decode(out []float32, anchors int, frame Frame, p Params) []tracking.Detection {
	if anchors <= 0 || len(out) < 5*anchors {
		return nil
	}
	numClasses := len(out)/anchors - 4
	scaleX, scaleY := frame.scale()
	w, h := float64(frame.Width), float64(frame.Height)

	var dets []tracking.Detection
	for i := 0; i < anchors; i++ {
		best := -1
		var bestScore float32
		for c := 0; c < numClasses; c++ {
			if s := out[(4+c)*anchors+i]; s > bestScore {
				bestScore = s
				best = c
			}
		}
		if best < 0 || bestScore < p.Threshold || !p.classes[best] {
			continue
		}

		cx := float64(out[i])
		cy := float64(out[anchors+i])
		bw := float64(out[2*anchors+i])
		bh := float64(out[3*anchors+i])

		box := geometry.BBox{
			clamp((cx-bw/2)*scaleX, 0, w),
			clamp((cy-bh/2)*scaleY, 0, h),
			clamp((cx+bw/2)*scaleX, 0, w),
			clamp((cy+bh/2)*scaleY, 0, h),
		}
		if box.Area() <= 0 {
			continue
		}
		dets = append(dets, tracking.Detection{BBox: box, Confidence: bestScore, ClassID: best})
	}
	return NMS(dets, p.NMS)
}

// NMS performs class-agnostic Non-Maximum Suppression, so a vehicle scored as
// both car and truck is reported once.
func NMS(detections []tracking.Detection, iouThreshold float64) []tracking.Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && geometry.IOU(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []tracking.Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
