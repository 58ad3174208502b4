// Package replay runs recorded detections through a tracking session without
// any of the video, queue or storage infrastructure.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/lanes"
	"github.com/your-org/lanewatch/internal/tracking"
)

// maxLine bounds one JSON frame; frames with many detections and segments
// are well below it.
const maxLine = 4 << 20

// Frame is one input line.
type Frame struct {
	Timestamp  time.Time            `json:"timestamp"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Segments   []lanes.Segment      `json:"segments,omitempty"`
	Detections []tracking.Detection `json:"detections"`
}

// Options controls what Run prints.
type Options struct {
	// Verbose prints every tracked detection, not only intrusions.
	Verbose bool
}

type lanesLine struct {
	Type      string             `json:"type"`
	Frame     int                `json:"frame"`
	Method    lanes.Method       `json:"method"`
	Requested lanes.Method       `json:"requested"`
	Fallback  string             `json:"fallback,omitempty"`
	Lanes     []geometry.Polygon `json:"lanes"`
}

type vehicleLine struct {
	Type  string `json:"type"`
	Frame int    `json:"frame"`
	tracking.TrackedDetection
}

type intrusionLine struct {
	Type  string `json:"type"`
	Frame int    `json:"frame"`
	tracking.IntrusionEvent
}

// Summary totals one replay.
type Summary struct {
	Type       string       `json:"type"`
	Frames     int          `json:"frames"`
	Vehicles   int          `json:"vehicles"`
	Intrusions int          `json:"intrusions"`
	LaneMethod lanes.Method `json:"lane_method"`
	Lanes      int          `json:"lanes"`
}

// Run reads JSON-lines frames from r in order, processes them with sess and
// writes JSON-lines results to w, ending with the summary line. Blank lines
// are skipped; a malformed line aborts the replay.
func Run(r io.Reader, w io.Writer, sess *tracking.Session, opts Options) (Summary, error) {
	sum := Summary{Type: "summary"}
	enc := json.NewEncoder(w)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
		sum.Frames++
		idx := sum.Frames

		res := sess.Process(tracking.Frame{
			Timestamp:  f.Timestamp,
			Width:      f.Width,
			Height:     f.Height,
			Detections: f.Detections,
			Segments:   f.Segments,
		})

		if res.Lanes != nil {
			if err := enc.Encode(lanesLine{
				Type:      "lanes",
				Frame:     idx,
				Method:    res.Lanes.Method,
				Requested: res.Lanes.Requested,
				Fallback:  res.Lanes.FallbackCause(),
				Lanes:     res.Lanes.Lanes,
			}); err != nil {
				return sum, err
			}
		}
		if opts.Verbose {
			for _, td := range res.Tracked {
				if err := enc.Encode(vehicleLine{Type: "vehicle", Frame: idx, TrackedDetection: td}); err != nil {
					return sum, err
				}
			}
		}
		for _, ev := range res.Intrusions {
			sum.Intrusions++
			if err := enc.Encode(intrusionLine{Type: "intrusion", Frame: idx, IntrusionEvent: ev}); err != nil {
				return sum, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("read frames: %w", err)
	}

	built := sess.Lanes()
	sum.Vehicles = sess.Tracker().TrackCount()
	sum.LaneMethod = built.Method
	sum.Lanes = len(built.Lanes)
	return sum, enc.Encode(sum)
}
