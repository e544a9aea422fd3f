package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id              UUID PRIMARY KEY,
	kind            TEXT NOT NULL,
	request_id      TEXT NOT NULL DEFAULT '',
	client          TEXT NOT NULL DEFAULT '',
	message_count   INTEGER NOT NULL,
	detection_count INTEGER NOT NULL,
	threshold       DOUBLE PRECISION NOT NULL,
	layers          TEXT[] NOT NULL,
	result          JSONB NOT NULL,
	processing_ms   DOUBLE PRECISION NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS analysis_runs_created_at_idx ON analysis_runs (created_at DESC);
`

// AnalysisStore persists analysis runs in Postgres.
type AnalysisStore struct {
	db *pgxpool.Pool
}

func NewAnalysisStore(db *pgxpool.Pool) *AnalysisStore {
	return &AnalysisStore{db: db}
}

// Migrate creates the analysis_runs table if it does not exist.
func (s *AnalysisStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate analysis_runs: %w", err)
	}
	return nil
}

func (s *AnalysisStore) Create(ctx context.Context, run *domain.AnalysisRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO analysis_runs (id, kind, request_id, client, message_count, detection_count, threshold, layers, result, processing_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		run.ID, string(run.Kind), run.RequestID, run.Client, run.MessageCount, run.DetectionCount,
		run.Threshold, run.Layers, []byte(run.Result), run.ProcessingMS,
	).Scan(&run.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *AnalysisStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisRun, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, kind, request_id, client, message_count, detection_count, threshold, layers, result, processing_ms, created_at
		 FROM analysis_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *AnalysisStore) ListRecent(ctx context.Context, limit int) ([]domain.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, kind, request_id, client, message_count, detection_count, threshold, layers, result, processing_ms, created_at
		 FROM analysis_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteOlderThan removes runs created before cutoff.
func (s *AnalysisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM analysis_runs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete analysis runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (*domain.AnalysisRun, error) {
	var (
		run    domain.AnalysisRun
		kind   string
		result []byte
	)
	err := row.Scan(&run.ID, &kind, &run.RequestID, &run.Client, &run.MessageCount, &run.DetectionCount,
		&run.Threshold, &run.Layers, &result, &run.ProcessingMS, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Kind = domain.AnalysisKind(kind)
	run.Result = result
	return &run, nil
}
