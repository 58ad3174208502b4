// Command replay runs recorded per-frame detections through the lane and
// intrusion tracker and prints the results as JSON lines.
//
//	replay [-config configs/config.yaml] [-lanes manual] [-v] frames.jsonl
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/your-org/lanewatch/internal/config"
	"github.com/your-org/lanewatch/internal/observability"
	"github.com/your-org/lanewatch/internal/replay"
	"github.com/your-org/lanewatch/internal/tracking"
)

func main() {
	configPath := flag.String("config", "", "optional config file for lane and tracking settings")
	laneMethod := flag.String("lanes", "", "lane method: auto or manual (default from config)")
	matcher := flag.String("matcher", "", "detection matcher: greedy or hungarian")
	iou := flag.Float64("iou", 0, "IOU threshold for matching (default from config)")
	verbose := flag.Bool("v", false, "print every tracked vehicle, not only intrusions")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Results go to stdout; logs stay on stderr.
	slog.SetDefault(observability.NewLogger(os.Stderr, cfg.Logging.Level, "text"))

	if *matcher != "" {
		cfg.Tracking.Matcher = *matcher
	}
	if *iou > 0 {
		cfg.Tracking.IOUThreshold = *iou
	}

	var in io.Reader = os.Stdin
	if path := flag.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open frames: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	sess := tracking.NewSession(cfg.SessionConfig(*laneMethod))
	sum, err := replay.Run(in, os.Stdout, sess, replay.Options{Verbose: *verbose})
	if err != nil {
		slog.Error("replay failed", "frames", sum.Frames, "error", err)
		os.Exit(1)
	}
	slog.Info("replay finished",
		"frames", sum.Frames,
		"vehicles", sum.Vehicles,
		"intrusions", sum.Intrusions,
		"lane_method", sum.LaneMethod,
	)
}
