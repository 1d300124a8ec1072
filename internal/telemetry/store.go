package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forPelevin/reelplan/internal/types"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// FileName is the run history database kept under the projects root.
const FileName = "telemetry.db"

// Summary is one finished pipeline run.
type Summary struct {
	RunID            string             `json:"runId"`
	ProjectID        string             `json:"projectId"`
	Flow             string             `json:"flow"`
	Outcome          string             `json:"outcome"`
	StartedAt        time.Time          `json:"startedAt"`
	FinishedAt       time.Time          `json:"finishedAt"`
	StageDurationsMs map[string]int64   `json:"stageDurationsMs"`
	RetryEvents      []types.RetryEvent `json:"retryEvents"`
	Error            string             `json:"error,omitempty"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	flow TEXT NOT NULL,
	outcome TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	stage_durations TEXT NOT NULL,
	retry_events TEXT NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, finished_at);
`

// Store persists run summaries in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, sum Summary) error {
	stages, err := json.Marshal(nonNilStages(sum.StageDurationsMs))
	if err != nil {
		return fmt.Errorf("encode stage durations: %w", err)
	}
	events := sum.RetryEvents
	if events == nil {
		events = []types.RetryEvent{}
	}
	retries, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode retry events: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, project_id, flow, outcome, started_at, finished_at, stage_durations, retry_events, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.ProjectID, sum.Flow, sum.Outcome,
		sum.StartedAt.UTC().Format(time.RFC3339Nano), sum.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(stages), string(retries), nullableString(sum.Error),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", sum.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs for a project, newest first.
func (s *Store) Recent(ctx context.Context, projectID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, project_id, flow, outcome, started_at, finished_at, stage_durations, retry_events, error_message
		 FROM runs WHERE project_id = ? ORDER BY finished_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanSummary(scanner interface{ Scan(dest ...any) error }) (Summary, error) {
	var (
		sum                 Summary
		started, finished   string
		stages, retryEvents string
		errMsg              sql.NullString
	)
	if err := scanner.Scan(&sum.RunID, &sum.ProjectID, &sum.Flow, &sum.Outcome, &started, &finished, &stages, &retryEvents, &errMsg); err != nil {
		return Summary{}, fmt.Errorf("scan run: %w", err)
	}
	var err error
	if sum.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Summary{}, fmt.Errorf("parse started_at: %w", err)
	}
	if sum.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Summary{}, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &sum.StageDurationsMs); err != nil {
		return Summary{}, fmt.Errorf("decode stage durations: %w", err)
	}
	if err := json.Unmarshal([]byte(retryEvents), &sum.RetryEvents); err != nil {
		return Summary{}, fmt.Errorf("decode retry events: %w", err)
	}
	sum.Error = errMsg.String
	return sum, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nonNilStages(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
