// Package store persists sessions and their actions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sentinelqa/errcode"
	"sentinelqa/runner"
	"sentinelqa/trajectory"
)

const DefaultListLimit = 20

var ErrRunNotFound = errors.New("run not found")

// Run is the stored record of one session.
type Run struct {
	ID                  string
	Kind                string
	URL                 string
	Instruction         string
	Status              runner.Status
	StartedAt           time.Time
	CompletedAt         time.Time
	DurationMS          int64
	Summary             string
	BugSummary          string
	VerificationsPassed int
	VerificationsTotal  int
}

type SQLiteStore struct {
	db *sql.DB
}

var _ runner.Store = (*SQLiteStore)(nil)

// Open creates the database file if needed and applies the schema. The path
// ":memory:" keeps everything in memory.
func Open(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errcode.New(errcode.ConfigInvalid, "store path cannot be empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, errcode.Wrap(err, errcode.StorageWrite, "failed to create database directory")
			}
		}
	}
	dsn := path
	if path != ":memory:" {
		// pragmas in the dsn apply to every pooled connection
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "failed to open database")
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errcode.Wrap(err, errcode.StorageWrite, fmt.Sprintf("failed to apply %q", pragma))
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		instruction TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		bug_summary TEXT NOT NULL DEFAULT '',
		verifications_passed INTEGER NOT NULL DEFAULT 0,
		verifications_total INTEGER NOT NULL DEFAULT 0,
		state TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(run_id, seq)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to initialize schema")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, id string, kind string, url string, instruction string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, url, instruction, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, kind, url, instruction, string(runner.StatusInitializing), time.Now().UTC())
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to create run").WithContext("run_id", id)
	}
	return nil
}

func (s *SQLiteStore) AppendAction(ctx context.Context, id string, action trajectory.Action) error {
	data, err := trajectory.MarshalAction(action)
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to encode action").WithContext("run_id", id)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to begin transaction")
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM actions WHERE run_id = ?`, id).Scan(&seq); err != nil {
		return errcode.Wrap(err, errcode.StorageRead, "failed to read action sequence").WithContext("run_id", id)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO actions (run_id, seq, kind, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, seq+1, string(action.Kind()), string(data), time.Now().UTC()); err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to append action").WithContext("run_id", id)
	}
	if err := tx.Commit(); err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to commit action").WithContext("run_id", id)
	}
	return nil
}

// SaveState stores the full session state together with its summary
// columns. Saving a session that was never created inserts it.
func (s *SQLiteStore) SaveState(ctx context.Context, state *runner.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to encode session state").WithContext("run_id", state.ID)
	}
	summary := runner.Summarize(state)
	var completedAt any
	if state.CurrentStatus().Terminal() {
		completedAt = state.StartedAt.Add(state.Duration()).UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, url, instruction, status, started_at, completed_at, duration_ms,
			summary, bug_summary, verifications_passed, verifications_total, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			summary = excluded.summary,
			bug_summary = excluded.bug_summary,
			verifications_passed = excluded.verifications_passed,
			verifications_total = excluded.verifications_total,
			state = excluded.state`,
		state.ID, runner.SessionKindRun, state.StartURL, state.Instruction, string(summary.Status),
		state.StartedAt.UTC(), completedAt, summary.DurationMS,
		summary.Summary, summary.BugSummary, summary.VerificationsPassed, summary.VerificationsTotal,
		string(data))
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "failed to save session state").WithContext("run_id", state.ID)
	}
	return nil
}

// ReadSession returns the last saved state of a run.
func (s *SQLiteStore) ReadSession(ctx context.Context, id string) (*runner.SessionState, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT state FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcode.Wrap(ErrRunNotFound, errcode.StorageRead, id)
	} else if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "failed to read run").WithContext("run_id", id)
	}
	if !data.Valid {
		return nil, errcode.Newf(errcode.StorageRead, "run %s has no saved state yet", id)
	}
	var state runner.SessionState
	if err := json.Unmarshal([]byte(data.String), &state); err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "failed to decode session state").WithContext("run_id", id)
	}
	return &state, nil
}

// Actions returns the actions of a run in the order they were taken.
func (s *SQLiteStore) Actions(ctx context.Context, id string) ([]trajectory.Action, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM actions WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "failed to read actions").WithContext("run_id", id)
	}
	defer rows.Close()

	var actions []trajectory.Action
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errcode.Wrap(err, errcode.StorageRead, "failed to scan action")
		}
		action, err := trajectory.UnmarshalAction([]byte(data))
		if err != nil {
			return nil, errcode.Wrap(err, errcode.StorageRead, "failed to decode action").WithContext("run_id", id)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "failed to read actions")
	}
	return actions, nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, url, instruction, status, started_at, completed_at, duration_ms,
			summary, bug_summary, verifications_passed, verifications_total
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.Kind, &run.URL, &run.Instruction, &status, &run.StartedAt, &completedAt,
			&run.DurationMS, &run.Summary, &run.BugSummary, &run.VerificationsPassed, &run.VerificationsTotal); err != nil {
			return nil, errcode.Wrap(err, errcode.StorageRead, "failed to scan run")
		}
		run.Status = runner.Status(status)
		if completedAt.Valid {
			run.CompletedAt = completedAt.Time
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "failed to list runs")
	}
	return runs, nil
}
