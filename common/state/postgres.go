package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// PostgresRepository persists execution records in a single table with the
// full document as jsonb and the filterable columns lifted out.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// Schema is the DDL the repository expects. Applied by EnsureSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS executions (
	id         TEXT PRIMARY KEY,
	diagram_id TEXT,
	status     TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ,
	document   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_started_at_idx ON executions (started_at DESC);
`

// NewPostgresRepository connects a pool.
func NewPostgresRepository(ctx context.Context, url string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("state: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("state: ping postgres: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// EnsureSchema applies the executions table DDL.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("state: apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Ping verifies the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Create(ctx context.Context, s *execution.State) error {
	return r.Save(ctx, s)
}

func (r *PostgresRepository) Get(ctx context.Context, id ids.ExecutionID) (*execution.State, error) {
	var document []byte
	err := r.pool.QueryRow(ctx,
		`SELECT document FROM executions WHERE id = $1`, string(id),
	).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: get execution: %w", err)
	}

	var s execution.State
	if err := json.Unmarshal(document, &s); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", id, err)
	}
	return &s, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter execution.Filter) ([]*execution.State, error) {
	query := `SELECT document FROM executions WHERE 1=1`
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.DiagramID != "" {
		args = append(args, string(filter.DiagramID))
		query += fmt.Sprintf(" AND diagram_id = $%d", len(args))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: list executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.State
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("state: scan execution: %w", err)
		}
		var s execution.State
		if err := json.Unmarshal(document, &s); err != nil {
			return nil, fmt.Errorf("state: decode execution: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Save(ctx context.Context, s *execution.State) error {
	document, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", s.ID, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO executions (id, diagram_id, status, started_at, ended_at, document)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET diagram_id = $2, status = $3, started_at = $4, ended_at = $5, document = $6
	`, string(s.ID), string(s.DiagramID), string(s.Status), s.StartedAt, s.EndedAt, document)
	if err != nil {
		return fmt.Errorf("state: save %s: %w", s.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id ids.ExecutionID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM executions WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("state: delete %s: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM executions
		WHERE ended_at IS NOT NULL AND ended_at < $1
		AND status IN ('COMPLETED', 'FAILED', 'ABORTED', 'MAXITER_REACHED')
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("state: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
