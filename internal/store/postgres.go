package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const runColumns = `run_id, name, submitter, config,
	status, error,
	processed, selected, output_dir,
	created_at, started_at, completed_at, updated_at`

func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO analysis_runs (name, submitter, config, status)
		VALUES ($1, $2, $3, $4)
		RETURNING run_id, created_at, updated_at`,
		run.Name, run.Submitter, run.Config, run.Status,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	r := &Run{}
	var submitter, runError, outputDir sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM analysis_runs WHERE run_id = $1`, id,
	).Scan(
		&r.ID, &r.Name, &submitter, &r.Config,
		&r.Status, &runError,
		&r.Processed, &r.Selected, &outputDir,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if submitter.Valid {
		r.Submitter = submitter.String
	}
	if runError.Valid {
		r.Error = runError.String
	}
	if outputDir.Valid {
		r.OutputDir = outputDir.String
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.Submitter != "" {
		n++
		query += fmt.Sprintf(" AND submitter = $%d", n)
		args = append(args, filter.Submitter)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (s *PostgresStore) GetQueuedRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM analysis_runs WHERE status = 'queued'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *Run) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_runs SET
			name = $2, submitter = $3, config = $4,
			status = $5, error = $6,
			processed = $7, selected = $8, output_dir = $9,
			started_at = $10, completed_at = $11,
			updated_at = now()
		WHERE run_id = $1`,
		run.ID, run.Name, run.Submitter, run.Config,
		run.Status, run.Error,
		run.Processed, run.Selected, run.OutputDir,
		run.StartedAt, run.CompletedAt,
	)
	return err
}

func (s *PostgresStore) CreateRunChunks(ctx context.Context, chunks []*RunChunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO run_chunks (run_id, dataset, sample, chunk_index, start_event, stop_event, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at`,
			c.RunID, c.Dataset, c.Sample, c.Index, c.Start, c.Stop, c.Status)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, c := range chunks {
		if err := results.QueryRow().Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) UpdateRunChunk(ctx context.Context, chunk *RunChunk) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE run_chunks SET
			status = $2, attempts = $3, error = $4,
			processed = $5, selected = $6,
			updated_at = now()
		WHERE id = $1`,
		chunk.ID, chunk.Status, chunk.Attempts, chunk.Error,
		chunk.Processed, chunk.Selected,
	)
	return err
}

func (s *PostgresStore) GetRunChunks(ctx context.Context, runID uuid.UUID) ([]*RunChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, dataset, sample, chunk_index, start_event, stop_event,
			status, attempts, error, processed, selected, created_at, updated_at
		FROM run_chunks WHERE run_id = $1
		ORDER BY dataset ASC, chunk_index ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*RunChunk
	for rows.Next() {
		c := &RunChunk{}
		var chunkError sql.NullString
		if err := rows.Scan(
			&c.ID, &c.RunID, &c.Dataset, &c.Sample, &c.Index, &c.Start, &c.Stop,
			&c.Status, &c.Attempts, &chunkError, &c.Processed, &c.Selected,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if chunkError.Valid {
			c.Error = chunkError.String
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) GetStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('resolving','running') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000) FILTER (WHERE status = 'completed' AND completed_at IS NOT NULL AND started_at IS NOT NULL), 0)
		FROM analysis_runs`,
	).Scan(&stats.TotalQueued, &stats.TotalRunning, &stats.TotalCompleted, &stats.TotalFailed, &stats.AvgRunMs)
	return stats, err
}

func scanRuns(rows pgx.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var submitter, runError, outputDir sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Name, &submitter, &r.Config,
			&r.Status, &runError,
			&r.Processed, &r.Selected, &outputDir,
			&r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if submitter.Valid {
			r.Submitter = submitter.String
		}
		if runError.Valid {
			r.Error = runError.String
		}
		if outputDir.Valid {
			r.OutputDir = outputDir.String
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
