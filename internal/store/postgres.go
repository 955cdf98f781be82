package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/form-detector/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock's pool
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	total      INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_items (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	url             TEXT NOT NULL,
	filename        TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'idle',
	is_fillable     BOOLEAN,
	field_count     INTEGER CHECK (field_count >= 0),
	summary         TEXT,
	error_message   TEXT,
	content_type    TEXT NOT NULL DEFAULT '',
	size_bytes      BIGINT NOT NULL DEFAULT 0,
	acroform_fields INTEGER,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id, position);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, status, total, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Status), len(run.Items), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}

	for i, it := range run.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO run_items (id, run_id, position, url, filename, status, is_fillable, field_count, summary, error_message, content_type, size_bytes, acroform_fields, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			it.ID, run.ID, i, it.URL, it.Filename, string(it.Status),
			it.IsFillable, it.FieldCount, it.Summary, it.ErrorMessage,
			it.ContentType, it.SizeBytes, it.AcroFormFields, it.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert item %s", it.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit run")
}

func (s *PostgresStore) SaveItem(ctx context.Context, runID string, it model.AnalysisItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_items SET filename = $1, status = $2, is_fillable = $3, field_count = $4, summary = $5,
		 error_message = $6, content_type = $7, size_bytes = $8, acroform_fields = $9, updated_at = $10
		 WHERE id = $11 AND run_id = $12`,
		it.Filename, string(it.Status), it.IsFillable, it.FieldCount, it.Summary,
		it.ErrorMessage, it.ContentType, it.SizeBytes, it.AcroFormFields, it.UpdatedAt,
		it.ID, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save item %s", it.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "item %s", it.ID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(model.RunStatusComplete), time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

const postgresRunColumns = `r.id, r.status, r.total,
	(SELECT COUNT(*) FROM run_items i WHERE i.run_id = r.id AND i.status IN ('completed', 'error'))::int,
	r.created_at, r.updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs r WHERE r.id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, url, filename, status, is_fillable, field_count, summary, error_message,
		 content_type, size_bytes, acroform_fields, updated_at
		 FROM run_items WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items %s", runID)
	}
	defer rows.Close()

	r.Items = []model.AnalysisItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		r.Items = append(r.Items, *it)
	}
	return r, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs r WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND r.status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY r.created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row scannable) (*model.Run, error) {
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}
