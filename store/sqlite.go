// Package store keeps a history of completed analyses in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"epic-repos/analysis"
	"epic-repos/metrics"
)

// ErrNotFound is returned when no stored run matches.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	epic_key       TEXT    NOT NULL,
	run_at         TEXT    NOT NULL,
	timestamp      TEXT    NOT NULL,
	issue_count    INTEGER NOT NULL,
	tracker_errors INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_epic_key ON runs (epic_key, id);
CREATE TABLE IF NOT EXISTS run_issues (
	run_id    INTEGER NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	issue_key TEXT    NOT NULL,
	PRIMARY KEY (run_id, position)
);
CREATE TABLE IF NOT EXISTS run_repos (
	run_id    INTEGER NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	issue_key TEXT    NOT NULL,
	position  INTEGER NOT NULL,
	repo      TEXT    NOT NULL,
	PRIMARY KEY (run_id, issue_key, position)
);
`

// Run is a stored analysis header.
type Run struct {
	ID            int64     `json:"id"`
	EpicKey       string    `json:"epic_key"`
	RunAt         time.Time `json:"run_at"`
	Timestamp     string    `json:"timestamp"`
	IssueCount    int       `json:"issue_count"`
	TrackerErrors int       `json:"tracker_errors"`
}

type Store struct {
	db *sql.DB
}

// buildDSN creates a read-write DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens (creating if necessary) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("store path is empty")
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save records res and returns the new run id.
func (s *Store) Save(ctx context.Context, res *analysis.Result) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	r, err := tx.ExecContext(ctx,
		`INSERT INTO runs (epic_key, run_at, timestamp, issue_count, tracker_errors) VALUES (?, ?, ?, ?, ?)`,
		res.EpicKey, res.RunAt.UTC().Format(time.RFC3339Nano), res.Timestamp, res.Mapping.Len(), res.TrackerErrors)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for i, key := range res.Mapping.Keys() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_issues (run_id, position, issue_key) VALUES (?, ?, ?)`, id, i, key); err != nil {
			return 0, fmt.Errorf("insert issue %s: %w", key, err)
		}
		for j, repo := range res.Mapping.Repos(key) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_repos (run_id, issue_key, position, repo) VALUES (?, ?, ?, ?)`, id, key, j, repo); err != nil {
				return 0, fmt.Errorf("insert repo %s for %s: %w", repo, key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// List returns up to limit runs, newest first. An empty epicKey matches all
// epics.
func (s *Store) List(ctx context.Context, epicKey string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, epic_key, run_at, timestamp, issue_count, tracker_errors
		FROM runs
		WHERE ? = '' OR epic_key = ?
		ORDER BY id DESC
		LIMIT ?
	`, epicKey, epicKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Latest returns the newest run for epicKey together with its mapping.
func (s *Store) Latest(ctx context.Context, epicKey string) (Run, metrics.IssueRepoMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, epic_key, run_at, timestamp, issue_count, tracker_errors
		FROM runs
		WHERE epic_key = ?
		ORDER BY id DESC
		LIMIT 1
	`, epicKey)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, metrics.IssueRepoMapping{}, fmt.Errorf("%w: epic %s", ErrNotFound, epicKey)
	}
	if err != nil {
		return Run{}, metrics.IssueRepoMapping{}, err
	}

	mapping, err := s.Mapping(ctx, run.ID)
	if err != nil {
		return Run{}, metrics.IssueRepoMapping{}, err
	}
	return run, mapping, nil
}

// Mapping rebuilds the issue to repositories mapping of a stored run, in the
// original issue and repository order.
func (s *Store) Mapping(ctx context.Context, runID int64) (metrics.IssueRepoMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.issue_key, r.repo
		FROM run_issues i
		LEFT JOIN run_repos r ON r.run_id = i.run_id AND r.issue_key = i.issue_key
		WHERE i.run_id = ?
		ORDER BY i.position, r.position
	`, runID)
	if err != nil {
		return metrics.IssueRepoMapping{}, fmt.Errorf("query mapping: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var mapping metrics.IssueRepoMapping
	for rows.Next() {
		var key string
		var repo sql.NullString
		if err := rows.Scan(&key, &repo); err != nil {
			return metrics.IssueRepoMapping{}, fmt.Errorf("scan mapping row: %w", err)
		}
		repos, _ := mapping.Get(key)
		if repos == nil {
			repos = []string{}
		}
		if repo.Valid {
			repos = append(repos, repo.String)
		}
		mapping.Set(key, repos)
	}
	return mapping, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var runAt string
	if err := row.Scan(&run.ID, &run.EpicKey, &runAt, &run.Timestamp, &run.IssueCount, &run.TrackerErrors); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, runAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse run_at %q: %w", runAt, err)
	}
	run.RunAt = t
	return run, nil
}
