// Package catalog is the durable record of jobs and downloaded items.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"downloader/internal/core/job"
	"downloader/internal/logger"
)

var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict is returned when an item with the same (job_id, id) already exists.
	ErrConflict = errors.New("catalog: item already exists")
)

// Store persists jobs and items in a local SQLite database.
// Jobs are upserted as whole records, items are append-only.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (and if needed creates) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Serializes writers from the pool workers and the facade.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, log: logger.New("Catalog")}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('video','playlist')),
		source_url TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('queued','running','succeeded','failed','cancelled')),
		progress TEXT NOT NULL DEFAULT '{}',
		error TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER,
		seq INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at, seq);
	CREATE TABLE IF NOT EXISTS items (
		id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		source_url TEXT,
		title TEXT,
		duration_seconds INTEGER,
		file_path TEXT,
		size_bytes INTEGER,
		sequence_index INTEGER,
		created_at INTEGER NOT NULL,
		rowid_order INTEGER,
		PRIMARY KEY (job_id, id),
		FOREIGN KEY (job_id) REFERENCES jobs (id)
	);
	CREATE INDEX IF NOT EXISTS idx_items_job_id ON items(job_id, sequence_index);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// PutJob inserts or replaces the full record for j.ID. The whole record is
// written in one statement so readers never observe a partial update.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	progress, err := json.Marshal(j.Progress)
	if err != nil {
		return fmt.Errorf("catalog: encode progress: %w", err)
	}
	var jobErr sql.NullString
	if j.Error != nil {
		b, err := json.Marshal(j.Error)
		if err != nil {
			return fmt.Errorf("catalog: encode error: %w", err)
		}
		jobErr = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, source_url, output_dir, status, progress, error, created_at, started_at, finished_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT seq FROM jobs WHERE id = ?), (SELECT COALESCE(MAX(seq), 0) + 1 FROM jobs)))
		 ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			source_url = excluded.source_url,
			output_dir = excluded.output_dir,
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			created_at = excluded.created_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		j.ID, j.Kind, j.SourceURL, j.OutputDir, j.Status, string(progress), jobErr,
		j.CreatedAt.UnixMilli(), nullMilli(j.StartedAt), nullMilli(j.FinishedAt), j.ID)
	if err != nil {
		return fmt.Errorf("catalog: put job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob returns the job with the given id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, source_url, output_dir, status, progress, error, created_at, started_at, finished_at
		 FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListJobs returns all jobs ordered by creation time ascending. Ties on the
// timestamp fall back to insertion order, so the listing is stable.
func (s *Store) ListJobs(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, source_url, output_dir, status, progress, error, created_at, started_at, finished_at
		 FROM jobs ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// PutItem appends a downloaded item. A duplicate (job_id, id) pair yields
// ErrConflict; the caller decides whether that is fatal.
func (s *Store) PutItem(ctx context.Context, it *job.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, job_id, source_url, title, duration_seconds, file_path, size_bytes, sequence_index, created_at, rowid_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(rowid_order), 0) + 1 FROM items WHERE job_id = ?))`,
		it.ID, it.JobID, it.SourceURL, it.Title, it.DurationSeconds, it.FilePath, it.SizeBytes,
		nullInt(it.SequenceIndex), it.CreatedAt.UnixMilli(), it.JobID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("catalog: put item %s/%s: %w", it.JobID, it.ID, err)
	}
	return nil
}

// ListItems returns a job's items ordered by sequence index, then by the
// order they were written.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]*job.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, source_url, title, duration_seconds, file_path, size_bytes, sequence_index, created_at
		 FROM items WHERE job_id = ?
		 ORDER BY sequence_index IS NULL, sequence_index ASC, rowid_order ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list items %s: %w", jobID, err)
	}
	defer rows.Close()

	var items []*job.Item
	for rows.Next() {
		var it job.Item
		var seq sql.NullInt64
		var created int64
		if err := rows.Scan(&it.ID, &it.JobID, &it.SourceURL, &it.Title, &it.DurationSeconds,
			&it.FilePath, &it.SizeBytes, &seq, &created); err != nil {
			return nil, err
		}
		if seq.Valid {
			v := int(seq.Int64)
			it.SequenceIndex = &v
		}
		it.CreatedAt = time.UnixMilli(created)
		items = append(items, &it)
	}
	return items, rows.Err()
}

// FindItemByURL returns the most recent item downloaded from url across all
// jobs, or ErrNotFound. Used by metadata probes to report already-downloaded
// files.
func (s *Store) FindItemByURL(ctx context.Context, url string) (*job.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, source_url, title, duration_seconds, file_path, size_bytes, sequence_index, created_at
		 FROM items WHERE source_url = ?
		 ORDER BY created_at DESC LIMIT 1`, url)
	var it job.Item
	var seq sql.NullInt64
	var created int64
	err := row.Scan(&it.ID, &it.JobID, &it.SourceURL, &it.Title, &it.DurationSeconds,
		&it.FilePath, &it.SizeBytes, &seq, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if seq.Valid {
		v := int(seq.Int64)
		it.SequenceIndex = &v
	}
	it.CreatedAt = time.UnixMilli(created)
	return &it, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var progress string
	var jobErr sql.NullString
	var created int64
	var started, finished sql.NullInt64
	if err := row.Scan(&j.ID, &j.Kind, &j.SourceURL, &j.OutputDir, &j.Status,
		&progress, &jobErr, &created, &started, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(progress), &j.Progress); err != nil {
		return nil, fmt.Errorf("catalog: decode progress for %s: %w", j.ID, err)
	}
	if jobErr.Valid {
		var e job.Error
		if err := json.Unmarshal([]byte(jobErr.String), &e); err != nil {
			return nil, fmt.Errorf("catalog: decode error for %s: %w", j.ID, err)
		}
		j.Error = &e
	}
	j.CreatedAt = time.UnixMilli(created)
	if started.Valid {
		t := time.UnixMilli(started.Int64)
		j.StartedAt = &t
	}
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		j.FinishedAt = &t
	}
	return &j, nil
}

func nullMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
