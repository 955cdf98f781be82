package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/form-detector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	total      INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_items (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	position        INTEGER NOT NULL,
	url             TEXT NOT NULL,
	filename        TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'idle',
	is_fillable     INTEGER,
	field_count     INTEGER,
	summary         TEXT,
	error_message   TEXT,
	content_type    TEXT NOT NULL DEFAULT '',
	size_bytes      INTEGER NOT NULL DEFAULT 0,
	acroform_fields INTEGER,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id, position);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, status, total, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), len(run.Items), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	for i, it := range run.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_items (id, run_id, position, url, filename, status, is_fillable, field_count, summary, error_message, content_type, size_bytes, acroform_fields, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, run.ID, i, it.URL, it.Filename, string(it.Status),
			it.IsFillable, it.FieldCount, it.Summary, it.ErrorMessage,
			it.ContentType, it.SizeBytes, it.AcroFormFields, it.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert item %s", it.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit run")
}

func (s *SQLiteStore) SaveItem(ctx context.Context, runID string, it model.AnalysisItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_items SET filename = ?, status = ?, is_fillable = ?, field_count = ?, summary = ?,
		 error_message = ?, content_type = ?, size_bytes = ?, acroform_fields = ?, updated_at = ?
		 WHERE id = ? AND run_id = ?`,
		it.Filename, string(it.Status), it.IsFillable, it.FieldCount, it.Summary,
		it.ErrorMessage, it.ContentType, it.SizeBytes, it.AcroFormFields, it.UpdatedAt,
		it.ID, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save item %s", it.ID)
	}
	return checkRowsAffected(res, "item", it.ID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

const sqliteRunColumns = `r.id, r.status, r.total,
	(SELECT COUNT(*) FROM run_items i WHERE i.run_id = r.id AND i.status IN ('completed', 'error')),
	r.created_at, r.updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs r WHERE r.id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, filename, status, is_fillable, field_count, summary, error_message,
		 content_type, size_bytes, acroform_fields, updated_at
		 FROM run_items WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items %s", runID)
	}
	defer rows.Close()

	r.Items = []model.AnalysisItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		r.Items = append(r.Items, *it)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs r WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND r.status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY r.created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	err := row.Scan(&r.ID, &status, &r.Progress.Total, &r.Progress.Current, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

func scanItem(row scannable) (*model.AnalysisItem, error) {
	var it model.AnalysisItem
	var status string
	err := row.Scan(&it.ID, &it.URL, &it.Filename, &status,
		&it.IsFillable, &it.FieldCount, &it.Summary, &it.ErrorMessage,
		&it.ContentType, &it.SizeBytes, &it.AcroFormFields, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Status = model.Status(status)
	return &it, nil
}
