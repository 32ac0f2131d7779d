package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clipshelf/clipshelf/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid status %q", job.Status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, status, source_kind, platform, original_url, bucket, object_key, size, content_type, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Status),
		string(job.Source.Kind),
		job.Source.Platform,
		job.Source.OriginalURL,
		job.Source.Bucket,
		job.Source.Key,
		job.Source.Size,
		job.Source.ContentType,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	for _, entry := range job.Log {
		if err = appendLogTx(ctx, tx, job.ID, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, source_kind, platform, original_url, bucket, object_key, size, content_type, error, result_json, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		id,
	)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, jobs.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadLog(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter jobs.ListFilter) ([]*jobs.Job, error) {
	query := `SELECT id, status, source_kind, platform, original_url, bucket, object_key, size, content_type, error, result_json, created_at, updated_at
		 FROM jobs`
	args := make([]any, 0, 2)
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, job := range ret {
		if err := s.loadLog(ctx, job); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[jobs.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[jobs.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		ret[jobs.Status(status)] = count
	}
	return ret, rows.Err()
}

// TransitionStatus applies a compare-and-swap status move and appends the
// matching log entry in one transaction, so the current status always equals
// the most recent log append.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, t jobs.Transition) (*jobs.Job, error) {
	if !t.To.Valid() {
		return nil, fmt.Errorf("invalid target status %q", t.To)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`
	args := []any{string(t.To), t.Error, now, id}
	if len(t.From) > 0 {
		placeholders := make([]string, 0, len(t.From))
		for _, from := range t.From {
			placeholders = append(placeholders, "?")
			args = append(args, string(from))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	} else {
		// Unguarded transitions still never move a terminal job.
		query += ` AND status NOT IN (?, ?)`
		args = append(args, string(jobs.StatusCompleted), string(jobs.StatusFailed))
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists int
		if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
			return nil, err
		}
		_ = tx.Rollback()
		err = jobs.ErrStatusConflict
		if exists == 0 {
			err = jobs.ErrNotFound
		}
		return nil, err
	}

	entry := jobs.LogEntry{
		Timestamp: now,
		Status:    t.To,
		Message:   t.Message,
		Details:   t.Details,
	}
	if err = appendLogTx(ctx, tx, id, entry); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// SetResult records the job's result payload exactly once.
func (s *SQLiteStore) SetResult(ctx context.Context, id string, result *jobs.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET result_json = ?, updated_at = ? WHERE id = ? AND result_json IS NULL`,
		string(payload),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return jobs.ErrNotFound
		}
		return jobs.ErrResultExists
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return jobs.ErrNotFound
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM storefronts WHERE job_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// PutStorefront records the generated storefront document for a job. Replays
// of the same job overwrite rather than duplicate.
func (s *SQLiteStore) PutStorefront(ctx context.Context, jobID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO storefronts (job_id, payload_json, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET payload_json=excluded.payload_json`,
		jobID,
		string(body),
		time.Now().UTC(),
	)
	return err
}

// GetStorefront loads the storefront document for a job, reporting whether
// one exists.
func (s *SQLiteStore) GetStorefront(ctx context.Context, jobID string, out any) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload_json FROM storefronts WHERE job_id = ?`, jobID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal([]byte(payload), out)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var item jobs.Job
	var status, kind string
	var resultJSON sql.NullString
	if err := row.Scan(
		&item.ID,
		&status,
		&kind,
		&item.Source.Platform,
		&item.Source.OriginalURL,
		&item.Source.Bucket,
		&item.Source.Key,
		&item.Source.Size,
		&item.Source.ContentType,
		&item.Error,
		&resultJSON,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	item.Status = jobs.Status(status)
	item.Source.Kind = jobs.SourceKind(kind)
	if resultJSON.Valid && resultJSON.String != "" {
		var result jobs.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, err
		}
		item.Result = &result
	}
	return &item, nil
}

func (s *SQLiteStore) loadLog(ctx context.Context, job *jobs.Job) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT ts, status, message, details_json FROM job_logs WHERE job_id = ? ORDER BY seq ASC`,
		job.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	log := make([]jobs.LogEntry, 0)
	for rows.Next() {
		var entry jobs.LogEntry
		var status string
		var detailsJSON sql.NullString
		if err := rows.Scan(&entry.Timestamp, &status, &entry.Message, &detailsJSON); err != nil {
			return err
		}
		entry.Status = jobs.Status(status)
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &entry.Details); err != nil {
				return err
			}
		}
		log = append(log, entry)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	job.Log = log
	return nil
}

func appendLogTx(ctx context.Context, tx *sql.Tx, jobID string, entry jobs.LogEntry) error {
	var detailsJSON any
	if len(entry.Details) > 0 {
		payload, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		detailsJSON = string(payload)
	}
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO job_logs (job_id, ts, status, message, details_json) VALUES (?, ?, ?, ?, ?)`,
		jobID,
		entry.Timestamp,
		string(entry.Status),
		entry.Message,
		detailsJSON,
	)
	return err
}
