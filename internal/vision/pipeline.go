package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/your-org/lanewatch/internal/config"
	"github.com/your-org/lanewatch/internal/lanes"
	"github.com/your-org/lanewatch/internal/models"
	"github.com/your-org/lanewatch/internal/observability"
	"github.com/your-org/lanewatch/internal/storage"
	"github.com/your-org/lanewatch/internal/streams"
)

// Pipeline orchestrates the full vision processing:
// load frame → detect vehicles → (segments) → track → emit intrusions.
type Pipeline struct {
	detector *Detector
	segments *SegmentExtractor
	minio    *storage.MinIOStore
	proc     *streams.Processor
}

// NewPipeline loads the detector model and returns a ready pipeline.
func NewPipeline(cfg *config.Config, minio *storage.MinIOStore, proc *streams.Processor) (*Pipeline, error) {
	detPath := filepath.Join(cfg.Vision.ModelsDir, cfg.Vision.ModelFile)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, cfg.Vision.DetectionThreshold, cfg.Vision.NMSThreshold, cfg.Vision.VehicleClasses, nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("vision pipeline ready", "classes", cfg.Vision.VehicleClasses)

	return &Pipeline{
		detector: det,
		segments: NewSegmentExtractor(cfg.Lanes),
		minio:    minio,
		proc:     proc,
	}, nil
}

// ProcessFrame handles one frame task. The frame image is only fetched when
// detections or lane segments have to be computed from it.
func (p *Pipeline) ProcessFrame(ctx context.Context, task models.FrameTask) error {
	var (
		frame   gocv.Mat
		loaded  bool
		loadErr error
		once    sync.Once
	)
	load := func() (gocv.Mat, error) {
		once.Do(func() {
			frame, loadErr = p.loadFrame(ctx, task.FrameRef)
			loaded = loadErr == nil
		})
		return frame, loadErr
	}
	defer func() {
		if loaded {
			frame.Close()
		}
	}()

	in := streams.Input{
		Task:       task,
		Width:      task.Width,
		Height:     task.Height,
		Detections: task.Detections,
	}

	if task.NeedsInference() || in.Width == 0 || in.Height == 0 {
		img, err := load()
		if err != nil {
			return err
		}
		in.Width, in.Height = img.Cols(), img.Rows()

		if task.NeedsInference() {
			start := time.Now()
			dets, err := p.detector.Detect(img)
			if err != nil {
				return fmt.Errorf("detect: %w", err)
			}
			observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
			in.Detections = dets
		}
	}

	in.Segments = func() ([]lanes.Segment, error) {
		img, err := load()
		if err != nil {
			return nil, err
		}
		return p.segments.Extract(img)
	}

	res, err := p.proc.Process(ctx, in)
	if err != nil {
		if errors.Is(err, streams.ErrStaleFrame) {
			slog.Warn("dropping out-of-order frame", "stream_id", task.StreamID, "frame_id", task.FrameID, "seq", task.Seq)
			return nil
		}
		return err
	}

	slog.Debug("frame processed",
		"stream_id", task.StreamID,
		"seq", task.Seq,
		"vehicles", len(res.Tracked),
		"intrusions", len(res.Intrusions),
	)
	return nil
}

func (p *Pipeline) loadFrame(ctx context.Context, key string) (gocv.Mat, error) {
	data, err := p.minio.GetObject(ctx, key)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("load frame: %w", err)
	}

	start := time.Now()
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode frame %s: %w", key, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("decode frame %s: empty image", key)
	}
	observability.InferenceDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	return img, nil
}

// HandleRebuild forwards a lane rebuild request to the stream's session.
func (p *Pipeline) HandleRebuild(cmd models.RebuildCommand) {
	p.proc.RequestRebuild(cmd)
}

// Close releases the ONNX session.
func (p *Pipeline) Close() {
	if p.detector != nil {
		p.detector.Close()
	}
}
