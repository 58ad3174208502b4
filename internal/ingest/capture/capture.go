// Package capture reads video streams with OpenCV's VideoCapture.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/your-org/lanewatch/internal/ingest"
)

// maxEmptyReads is how many consecutive failed reads end a live stream.
const maxEmptyReads = 50

// VideoCapture is an ingest.Source backed by gocv. It handles rtsp:// and
// http(s):// URLs through the FFmpeg backend and local file paths.
type VideoCapture struct {
	Width       int // resize target, 0 keeps the source width
	JPEGQuality int
}

var _ ingest.Source = (*VideoCapture)(nil)

// Factory returns an ingest.SourceFactory producing captures with the given
// resize width and JPEG quality.
func Factory(width, quality int) ingest.SourceFactory {
	return func() ingest.Source {
		return &VideoCapture{Width: width, JPEGQuality: quality}
	}
}

func (v *VideoCapture) Run(ctx context.Context, url string, fps int, callback ingest.FrameCallback) error {
	vc, err := gocv.OpenVideoCaptureWithAPI(url, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", url, err)
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return fmt.Errorf("open capture %s: not opened", url)
	}

	sourceFPS := vc.Get(gocv.VideoCaptureFPS)
	stride := ingest.FrameStride(sourceFPS, fps)
	slog.Debug("capture opened", "url", url, "source_fps", sourceFPS, "stride", stride)

	quality := v.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	params := []int{gocv.IMWriteJpegQuality, quality}

	img := gocv.NewMat()
	defer img.Close()
	resized := gocv.NewMat()
	defer resized.Close()

	var (
		n     int
		empty int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if ok := vc.Read(&img); !ok || img.Empty() {
			empty++
			if empty >= maxEmptyReads {
				return errors.New("stream ended or stopped delivering frames")
			}
			if !ok && isFile(url) {
				return nil // end of file
			}
			continue
		}
		empty = 0

		n++
		if (n-1)%stride != 0 {
			continue
		}

		out := img
		w, h := ingest.ScaledSize(img.Cols(), img.Rows(), v.Width)
		if w != img.Cols() {
			gocv.Resize(img, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
			out = resized
		}

		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, out, params)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		if err := callback(ingest.Frame{Data: data, Width: w, Height: h, Captured: time.Now()}); err != nil {
			return err
		}
	}
}

func isFile(url string) bool {
	for _, p := range []string{"rtsp://", "rtsps://", "http://", "https://"} {
		if strings.HasPrefix(url, p) {
			return false
		}
	}
	return true
}
