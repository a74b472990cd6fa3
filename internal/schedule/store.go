// Package schedule runs cron-timed prompts into chats.
//
// store.go - Schedule persistence

package schedule

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCron      = errors.New("invalid cron expression")
)

// Store handles schedule persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store with SQLite backend. dataDir
// ":memory:" opens an in-memory database for tests.
func NewStore(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath := filepath.Join(dataDir, "schedules.db")
		// Enable WAL mode and busy timeout for better concurrent access
		dsn = dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		prompt TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		engine TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		overlap_behavior TEXT NOT NULL DEFAULT 'skip',
		session_behavior TEXT NOT NULL DEFAULT 'resume',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME,
		next_run_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_at);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		session_id TEXT,
		executed_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER,
		FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_executions_schedule ON executions(schedule_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Create validates and inserts a schedule, computing its first run time
func (s *Store) Create(sched *Schedule) error {
	if err := ValidateCron(sched.CronExpr); err != nil {
		return err
	}
	if sched.ChatID == "" {
		return errors.New("schedule requires a chat_id")
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.OverlapBehavior == "" {
		sched.OverlapBehavior = OverlapSkip
	}
	if sched.SessionBehavior == "" {
		sched.SessionBehavior = SessionResume
	}

	now := time.Now().UTC()
	next, err := NextRun(sched.CronExpr, now)
	if err != nil {
		return err
	}
	sched.CreatedAt = now
	sched.UpdatedAt = now
	sched.NextRunAt = &next

	_, err = s.db.Exec(`INSERT INTO schedules
		(id, name, cron_expr, prompt, chat_id, engine, enabled, overlap_behavior, session_behavior,
		 created_at, updated_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.Name, sched.CronExpr, sched.Prompt, sched.ChatID, sched.Engine,
		sched.Enabled, string(sched.OverlapBehavior), string(sched.SessionBehavior),
		sched.CreatedAt, sched.UpdatedAt, sched.NextRunAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// Get returns one schedule by id
func (s *Store) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT id, name, cron_expr, prompt, chat_id, engine, enabled,
		overlap_behavior, session_behavior, created_at, updated_at, last_run_at, next_run_at
		FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return sched, err
}

// List returns all schedules
func (s *Store) List() ([]*Schedule, error) {
	rows, err := s.db.Query(`SELECT id, name, cron_expr, prompt, chat_id, engine, enabled,
		overlap_behavior, session_behavior, created_at, updated_at, last_run_at, next_run_at
		FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListDue returns enabled schedules whose next run time has passed
func (s *Store) ListDue(now time.Time) ([]*Schedule, error) {
	rows, err := s.db.Query(`SELECT id, name, cron_expr, prompt, chat_id, engine, enabled,
		overlap_behavior, session_behavior, created_at, updated_at, last_run_at, next_run_at
		FROM schedules WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// SetEnabled pauses or resumes a schedule
func (s *Store) SetEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE schedules SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, id)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes a schedule and its execution history
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	_, _ = s.db.Exec(`DELETE FROM executions WHERE schedule_id = ?`, id)
	return nil
}

// UpdateRunTimes records a completed run and its computed next run
func (s *Store) UpdateRunTimes(id string, lastRun, nextRun time.Time) error {
	_, err := s.db.Exec(`UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, lastRun.UTC(), nextRun.UTC(), id)
	if err != nil {
		return fmt.Errorf("update run times: %w", err)
	}
	return nil
}

// RecordExecution appends one execution record
func (s *Store) RecordExecution(exec *Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO executions (id, schedule_id, session_id, executed_at, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ScheduleID, exec.SessionID, exec.ExecutedAt, string(exec.Status), exec.Error, exec.DurationMs)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// Executions lists a schedule's run history, newest first
func (s *Store) Executions(scheduleID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, schedule_id, session_id, executed_at, status, error, duration_ms
		FROM executions WHERE schedule_id = ? ORDER BY executed_at DESC LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var e Execution
		var sessionID, errMsg sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ScheduleID, &sessionID, &e.ExecutedAt, &e.Status, &errMsg, &duration); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.SessionID = sessionID.String
		e.Error = errMsg.String
		e.DurationMs = duration.Int64
		out = append(out, &e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var overlap, session string
	var lastRun, nextRun sql.NullTime
	err := row.Scan(&sched.ID, &sched.Name, &sched.CronExpr, &sched.Prompt, &sched.ChatID,
		&sched.Engine, &sched.Enabled, &overlap, &session,
		&sched.CreatedAt, &sched.UpdatedAt, &lastRun, &nextRun)
	if err != nil {
		return nil, err
	}
	sched.OverlapBehavior = OverlapBehavior(overlap)
	sched.SessionBehavior = SessionBehavior(session)
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	return &sched, nil
}

func collectSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}
