package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lanewatch/internal/models"
)

type RetentionStore interface {
	ListStreams(ctx context.Context) ([]models.Stream, error)
	IntrusionFrameKeys(ctx context.Context, streamID uuid.UUID) (map[string]struct{}, error)
}

type FrameStore interface {
	ListObjectsBefore(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

// Retention deletes sampled frames older than MaxAge. Frames referenced by an
// intrusion are kept so their evidence stays downloadable.
type Retention struct {
	DB     RetentionStore
	Frames FrameStore
	MaxAge time.Duration
}

// Sweep runs one cleanup pass and returns the number of deleted frames.
func (r *Retention) Sweep(ctx context.Context, now time.Time) (int, error) {
	streams, err := r.DB.ListStreams(ctx)
	if err != nil {
		return 0, fmt.Errorf("list streams: %w", err)
	}

	cutoff := now.Add(-r.MaxAge)
	deleted := 0
	for _, s := range streams {
		prefix := fmt.Sprintf("frames/%s/", s.ID.String())
		keys, err := r.Frames.ListObjectsBefore(ctx, prefix, cutoff)
		if err != nil {
			slog.Warn("cleanup: list objects", "prefix", prefix, "error", err)
			continue
		}
		if len(keys) == 0 {
			continue
		}

		keep, err := r.DB.IntrusionFrameKeys(ctx, s.ID)
		if err != nil {
			slog.Warn("cleanup: intrusion frames", "stream_id", s.ID, "error", err)
			continue
		}

		toDelete := keys[:0]
		for _, k := range keys {
			if _, ok := keep[k]; !ok {
				toDelete = append(toDelete, k)
			}
		}
		if len(toDelete) == 0 {
			continue
		}
		if err := r.Frames.DeleteObjects(ctx, toDelete); err != nil {
			slog.Warn("cleanup: delete objects", "prefix", prefix, "error", err)
			continue
		}
		deleted += len(toDelete)
		slog.Info("cleanup: deleted old frames", "stream_id", s.ID, "deleted", len(toDelete), "kept", len(keys)-len(toDelete))
	}
	return deleted, nil
}

// Run sweeps every interval until ctx is done.
func (r *Retention) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, time.Now()); err != nil {
				slog.Warn("frame cleanup", "error", err)
			}
		}
	}
}
