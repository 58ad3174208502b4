package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/lanewatch/internal/config"
	"github.com/your-org/lanewatch/internal/geometry"
	"github.com/your-org/lanewatch/internal/models"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Streams ---

const streamColumns = `id, name, url, stream_type, fps, lane_method, status, error_message, created_at, updated_at`

func scanStream(row pgx.Row, st *models.Stream) error {
	return row.Scan(&st.ID, &st.Name, &st.URL, &st.StreamType, &st.FPS, &st.LaneMethod,
		&st.Status, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt)
}

func (s *PostgresStore) CreateStream(ctx context.Context, st *models.Stream) error {
	st.ID = uuid.New()
	st.Status = models.StreamStatusStopped
	return s.pool.QueryRow(ctx,
		`INSERT INTO streams (id, name, url, stream_type, fps, lane_method, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		st.ID, st.Name, st.URL, st.StreamType, st.FPS, st.LaneMethod, st.Status,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
}

func (s *PostgresStore) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	st := &models.Stream{}
	err := scanStream(s.pool.QueryRow(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1`, id), st)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+streamColumns+` FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		var st models.Stream
		if err := scanStream(rows, &st); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

func (s *PostgresStore) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update stream status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStreamLaneMethod(ctx context.Context, id uuid.UUID, method string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streams SET lane_method = $1, updated_at = now() WHERE id = $2`, method, id)
	if err != nil {
		return fmt.Errorf("update lane method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteStream(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Lanes ---

// SaveLanes stores the lane set for a stream, replacing any earlier build.
func (s *PostgresStore) SaveLanes(ctx context.Context, l models.StreamLanes) error {
	polys, err := json.Marshal(l.Lanes)
	if err != nil {
		return fmt.Errorf("marshal lanes: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO stream_lanes (stream_id, method, requested, fallback_reason, width, height, lanes, built_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (stream_id) DO UPDATE SET
		   method = EXCLUDED.method, requested = EXCLUDED.requested,
		   fallback_reason = EXCLUDED.fallback_reason, width = EXCLUDED.width,
		   height = EXCLUDED.height, lanes = EXCLUDED.lanes, built_at = EXCLUDED.built_at`,
		l.StreamID, l.Method, l.Requested, l.FallbackReason, l.Width, l.Height, polys, l.BuiltAt)
	if err != nil {
		return fmt.Errorf("save lanes: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLanes(ctx context.Context, streamID uuid.UUID) (*models.StreamLanes, error) {
	var (
		l     models.StreamLanes
		polys []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT stream_id, method, requested, fallback_reason, width, height, lanes, built_at
		 FROM stream_lanes WHERE stream_id = $1`, streamID,
	).Scan(&l.StreamID, &l.Method, &l.Requested, &l.FallbackReason, &l.Width, &l.Height, &polys, &l.BuiltAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lanes: %w", err)
	}
	if err := json.Unmarshal(polys, &l.Lanes); err != nil {
		return nil, fmt.Errorf("decode lanes: %w", err)
	}
	return &l, nil
}

// --- Intrusions ---

const intrusionColumns = `id, stream_id, frame_id, vehicle_id, timestamp, from_lane, to_lane, bbox, frame_key, created_at`

func scanIntrusion(row pgx.Row, in *models.Intrusion) error {
	var bbox []float64
	if err := row.Scan(&in.ID, &in.StreamID, &in.FrameID, &in.VehicleID, &in.Timestamp,
		&in.FromLane, &in.ToLane, &bbox, &in.FrameKey, &in.CreatedAt); err != nil {
		return err
	}
	if len(bbox) == 4 {
		in.BBox = geometry.BBox{bbox[0], bbox[1], bbox[2], bbox[3]}
	}
	return nil
}

// CreateIntrusion inserts one event. Redelivered events with an id that is
// already stored are ignored; inserted reports whether a row was written.
func (s *PostgresStore) CreateIntrusion(ctx context.Context, in *models.Intrusion) (inserted bool, err error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO intrusions (id, stream_id, frame_id, vehicle_id, timestamp, from_lane, to_lane, bbox, frame_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		in.ID, in.StreamID, in.FrameID, in.VehicleID, in.Timestamp,
		in.FromLane, in.ToLane, in.BBox[:], in.FrameKey, in.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create intrusion: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IntrusionFilter narrows QueryIntrusions. Nil fields are not applied.
type IntrusionFilter struct {
	From      *time.Time
	To        *time.Time
	VehicleID *int
	Limit     int
	Offset    int
}

func (s *PostgresStore) QueryIntrusions(ctx context.Context, streamID uuid.UUID, f IntrusionFilter) ([]models.Intrusion, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE stream_id = $1"
	args := []interface{}{streamID}
	argIdx := 2

	if f.From != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}
	if f.VehicleID != nil {
		baseWhere += fmt.Sprintf(" AND vehicle_id = $%d", argIdx)
		args = append(args, *f.VehicleID)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM intrusions "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count intrusions: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM intrusions %s ORDER BY timestamp DESC, vehicle_id LIMIT $%d OFFSET $%d`,
		intrusionColumns, baseWhere, argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query intrusions: %w", err)
	}
	defer rows.Close()

	var out []models.Intrusion
	for rows.Next() {
		var in models.Intrusion
		if err := scanIntrusion(rows, &in); err != nil {
			return nil, 0, fmt.Errorf("scan intrusion: %w", err)
		}
		out = append(out, in)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) GetIntrusion(ctx context.Context, id uuid.UUID) (*models.Intrusion, error) {
	var in models.Intrusion
	err := scanIntrusion(s.pool.QueryRow(ctx,
		`SELECT `+intrusionColumns+` FROM intrusions WHERE id = $1`, id), &in)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get intrusion: %w", err)
	}
	return &in, nil
}

// IntrusionFrameKeys returns the frame keys referenced by a stream's
// intrusions, so frame cleanup can keep them.
func (s *PostgresStore) IntrusionFrameKeys(ctx context.Context, streamID uuid.UUID) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT frame_key FROM intrusions WHERE stream_id = $1`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list intrusion frames: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan frame key: %w", err)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}
