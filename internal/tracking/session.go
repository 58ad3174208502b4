package tracking

import (
	"time"

	"github.com/your-org/lanewatch/internal/lanes"
)

// Frame is everything the session needs to process one video frame.
type Frame struct {
	Timestamp  time.Time
	Width      int
	Height     int
	Detections []Detection
	// Segments feeds automatic lane derivation; only read when lanes are
	// being (re)built.
	Segments []lanes.Segment
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Tracked    []TrackedDetection
	Intrusions []IntrusionEvent
	// Lanes is set when this frame (re)built the lane set.
	Lanes *lanes.Result
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Tracker    Config
	LaneCount  int
	MinSlope   float64
	LaneMethod lanes.Method
}

// Session runs lane building, tracking and intrusion detection for a single
// stream.
type Session struct {
	method     lanes.Method
	builder    *lanes.Builder
	assigner   *lanes.Assigner
	tracker    *Tracker
	intrusions *IntrusionDetector
	rebuild    bool
	built      lanes.Result
}

func NewSession(cfg SessionConfig) *Session {
	tracker := NewTracker(cfg.Tracker)
	method := cfg.LaneMethod
	if method == "" {
		method = lanes.MethodAuto
	}
	return &Session{
		method:     method,
		builder:    lanes.NewBuilder(cfg.LaneCount, cfg.MinSlope),
		tracker:    tracker,
		intrusions: NewIntrusionDetector(tracker),
		rebuild:    true,
	}
}

// NeedsLanes reports whether the next Process call will build lanes, and so
// whether it will read Frame.Segments.
func (s *Session) NeedsLanes() bool {
	return s.rebuild
}

// Method returns the lane method the next build will use.
func (s *Session) Method() lanes.Method {
	return s.method
}

// RequestRebuild makes the next frame rebuild lanes with method. Existing
// track ids are unaffected.
func (s *Session) RequestRebuild(method lanes.Method) {
	s.method = method
	s.rebuild = true
}

// Process builds lanes if needed, updates the tracker and evaluates
// intrusions for one frame.
func (s *Session) Process(f Frame) FrameResult {
	var res FrameResult

	if s.rebuild {
		built := s.builder.Build(f.Width, f.Height, f.Segments, s.method)
		s.assigner = lanes.NewAssigner(built.Lanes)
		s.built = built
		s.rebuild = false
		res.Lanes = &built
	}

	res.Tracked = s.tracker.Update(f.Detections, f.Timestamp, s.assigner)
	res.Intrusions = s.intrusions.Evaluate(res.Tracked)
	return res
}

// Lanes returns the result of the most recent lane build. It is empty until
// the first frame has been processed.
func (s *Session) Lanes() lanes.Result {
	return s.built
}

// Tracker exposes the session's tracker.
func (s *Session) Tracker() *Tracker { return s.tracker }

// IntrusionLog returns every intrusion emitted in this session.
func (s *Session) IntrusionLog() []IntrusionEvent { return s.intrusions.Log() }
