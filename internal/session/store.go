// Package session persists per-chat resume tokens and preferences.
//
// store.go - SQLite-backed session store
//
// This file contains:
// - Resume-token persistence keyed by (chat_id, owner_id, engine)
// - Startup cwd reconciliation that clears stale cross-repo sessions
// - Per-chat engine and permission-mode preferences
//
// Resuming a session recorded against a different working directory
// would reattach the agent to the wrong repository, so all sessions are
// dropped whenever the process cwd changes.

package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/logger"
)

// ErrNoSession means no resume token is stored for the key
var ErrNoSession = errors.New("no stored session")

// Store handles session persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a session store with SQLite backend. dataDir
// ":memory:" opens an in-memory database for tests.
func NewStore(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath := filepath.Join(dataDir, "sessions.db")
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
	CREATE TABLE IF NOT EXISTS sessions (
		chat_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		engine TEXT NOT NULL,
		resume_value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat_id, owner_id, engine)
	);

	CREATE TABLE IF NOT EXISTS chat_prefs (
		chat_id TEXT PRIMARY KEY,
		engine TEXT NOT NULL DEFAULT '',
		permission_mode TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// SyncStartupCwd records the process working directory and clears every
// stored session when it changed since the last run. Returns whether
// sessions were cleared.
func (s *Store) SyncStartupCwd(cwd string) (bool, error) {
	var previous string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'cwd'`).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read stored cwd: %w", err)
	}

	cleared := false
	if previous != "" && previous != cwd {
		if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
			return false, fmt.Errorf("clear sessions: %w", err)
		}
		cleared = true
		logger.Info("Working directory changed (%s -> %s): stored sessions cleared", previous, cwd)
	}

	_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('cwd', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, cwd)
	if err != nil {
		return cleared, fmt.Errorf("store cwd: %w", err)
	}
	return cleared, nil
}

// SaveResume upserts the resume token for a chat/owner/engine key
func (s *Store) SaveResume(chatID, ownerID string, token *agent.ResumeToken) error {
	_, err := s.db.Exec(`INSERT INTO sessions (chat_id, owner_id, engine, resume_value, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(chat_id, owner_id, engine)
		DO UPDATE SET resume_value = excluded.resume_value, updated_at = CURRENT_TIMESTAMP`,
		chatID, ownerID, token.Engine, token.Value)
	if err != nil {
		return fmt.Errorf("save resume token: %w", err)
	}
	return nil
}

// Resume returns the stored token for a key, or ErrNoSession
func (s *Store) Resume(chatID, ownerID, engine string) (*agent.ResumeToken, error) {
	var value string
	err := s.db.QueryRow(`SELECT resume_value FROM sessions
		WHERE chat_id = ? AND owner_id = ? AND engine = ?`,
		chatID, ownerID, engine).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load resume token: %w", err)
	}
	return &agent.ResumeToken{Engine: engine, Value: value}, nil
}

// ClearResume drops the stored token for a key. Idempotent.
func (s *Store) ClearResume(chatID, ownerID, engine string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE chat_id = ? AND owner_id = ? AND engine = ?`,
		chatID, ownerID, engine)
	if err != nil {
		return fmt.Errorf("clear resume token: %w", err)
	}
	return nil
}

// Prefs are the per-chat overrides
type Prefs struct {
	Engine         string
	PermissionMode string
}

// SetPrefs upserts a chat's engine and permission-mode overrides
func (s *Store) SetPrefs(chatID string, prefs Prefs) error {
	_, err := s.db.Exec(`INSERT INTO chat_prefs (chat_id, engine, permission_mode, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(chat_id)
		DO UPDATE SET engine = excluded.engine, permission_mode = excluded.permission_mode,
			updated_at = CURRENT_TIMESTAMP`,
		chatID, prefs.Engine, prefs.PermissionMode)
	if err != nil {
		return fmt.Errorf("save chat prefs: %w", err)
	}
	return nil
}

// GetPrefs returns a chat's overrides; zero values when none are stored
func (s *Store) GetPrefs(chatID string) (Prefs, error) {
	var prefs Prefs
	err := s.db.QueryRow(`SELECT engine, permission_mode FROM chat_prefs WHERE chat_id = ?`,
		chatID).Scan(&prefs.Engine, &prefs.PermissionMode)
	if errors.Is(err, sql.ErrNoRows) {
		return Prefs{}, nil
	}
	if err != nil {
		return Prefs{}, fmt.Errorf("load chat prefs: %w", err)
	}
	return prefs, nil
}
