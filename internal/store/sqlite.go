package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	request_id      TEXT NOT NULL DEFAULT '',
	client          TEXT NOT NULL DEFAULT '',
	message_count   INTEGER NOT NULL,
	detection_count INTEGER NOT NULL,
	threshold       REAL NOT NULL,
	layers          TEXT NOT NULL,
	result          TEXT NOT NULL,
	processing_ms   REAL NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_runs_created_at_idx ON analysis_runs (created_at DESC);
`

// SQLiteAnalysisStore persists analysis runs in a local SQLite file. It is
// used when no Postgres database is configured.
type SQLiteAnalysisStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteAnalysisStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc serializes writers per connection; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteAnalysisStore{db: db}, nil
}

func (s *SQLiteAnalysisStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteAnalysisStore) Create(ctx context.Context, run *domain.AnalysisRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	layers, err := json.Marshal(run.Layers)
	if err != nil {
		return err
	}
	result := run.Result
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, kind, request_id, client, message_count, detection_count, threshold, layers, result, processing_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), string(run.Kind), run.RequestID, run.Client, run.MessageCount, run.DetectionCount,
		run.Threshold, string(layers), string(result), run.ProcessingMS, run.CreatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *SQLiteAnalysisStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, request_id, client, message_count, detection_count, threshold, layers, result, processing_ms, created_at
		 FROM analysis_runs WHERE id = ?`, id.String())
	run, err := scanSQLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *SQLiteAnalysisStore) ListRecent(ctx context.Context, limit int) ([]domain.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, request_id, client, message_count, detection_count, threshold, layers, result, processing_ms, created_at
		 FROM analysis_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.AnalysisRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteAnalysisStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete analysis runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*domain.AnalysisRun, error) {
	var (
		run                domain.AnalysisRun
		id, kind           string
		layers, result     string
		createdAtUnixNanos int64
	)
	err := row.Scan(&id, &kind, &run.RequestID, &run.Client, &run.MessageCount, &run.DetectionCount,
		&run.Threshold, &layers, &result, &run.ProcessingMS, &createdAtUnixNanos)
	if err != nil {
		return nil, err
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("analysis run id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(layers), &run.Layers); err != nil {
		return nil, fmt.Errorf("analysis run %s layers: %w", id, err)
	}
	run.Kind = domain.AnalysisKind(kind)
	run.Result = json.RawMessage(result)
	run.CreatedAt = time.Unix(0, createdAtUnixNanos).UTC()
	return &run, nil
}
