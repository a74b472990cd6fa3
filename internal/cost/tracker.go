// Package cost enforces per-run and per-day USD budgets.
//
// tracker.go - Budget tracking with a persistent daily ledger
//
// This file contains:
// - Ledger, the SQLite day/total cost table
// - Tracker folding reported run costs into budget decisions
//
// Costs arrive from agent usage payloads. The tracker warns once per
// run when a budget crosses its warn threshold and can request
// cancellation when a hard budget is exceeded.

package cost

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/metrics"
)

// DefaultWarnAtPct is the warn threshold as a percentage of a budget
const DefaultWarnAtPct = 70

// Budget holds the configured limits; zero values disable a limit
type Budget struct {
	MaxPerRun  float64
	MaxPerDay  float64
	WarnAtPct  int
	AutoCancel bool
}

// Decision is the tracker's verdict after recording a cost
type Decision struct {
	// Warn is set at most once per run when a threshold is crossed
	Warn        bool
	WarnMessage string

	// Cancel requests run cancellation (budget exceeded, auto-cancel on)
	Cancel bool
}

// Ledger persists accumulated cost per calendar day
type Ledger struct {
	db *sql.DB
}

// NewLedger opens the cost ledger. dataDir ":memory:" is for tests.
func NewLedger(dataDir string) (*Ledger, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "costs.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS daily_costs (
		day TEXT PRIMARY KEY,
		usd REAL NOT NULL DEFAULT 0
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Add accumulates usd onto a day's total
func (l *Ledger) Add(day string, usd float64) error {
	_, err := l.db.Exec(`INSERT INTO daily_costs (day, usd) VALUES (?, ?)
		ON CONFLICT(day) DO UPDATE SET usd = usd + excluded.usd`, day, usd)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// Total returns a day's accumulated cost
func (l *Ledger) Total(day string) (float64, error) {
	var usd float64
	err := l.db.QueryRow(`SELECT usd FROM daily_costs WHERE day = ?`, day).Scan(&usd)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cost: %w", err)
	}
	return usd, nil
}

// Tracker applies budgets to reported costs
type Tracker struct {
	budget Budget
	ledger *Ledger

	mu     sync.Mutex
	warned map[string]bool
	now    func() time.Time
}

// NewTracker creates a tracker; a nil ledger disables daily budgets
func NewTracker(budget Budget, ledger *Ledger) *Tracker {
	if budget.WarnAtPct <= 0 {
		budget.WarnAtPct = DefaultWarnAtPct
	}
	return &Tracker{
		budget: budget,
		ledger: ledger,
		warned: make(map[string]bool),
		now:    time.Now,
	}
}

// Record folds a run's reported cost-so-far into the budgets and
// returns what the caller should do about it. runCost is the run's
// cumulative cost, not a delta; deltas go to the daily ledger.
func (t *Tracker) Record(sessionID string, runCost, delta float64) Decision {
	metrics.RecordCost(delta)

	var dayTotal float64
	day := t.now().UTC().Format("2006-01-02")
	if t.ledger != nil && delta > 0 {
		if err := t.ledger.Add(day, delta); err != nil {
			logger.Error("Cost ledger write failed: %v", err)
		}
	}
	if t.ledger != nil {
		total, err := t.ledger.Total(day)
		if err != nil {
			logger.Error("Cost ledger read failed: %v", err)
		}
		dayTotal = total
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var d Decision
	warnFrac := float64(t.budget.WarnAtPct) / 100

	if t.budget.MaxPerRun > 0 {
		if runCost >= t.budget.MaxPerRun {
			d.Cancel = t.budget.AutoCancel
			d.Warn = !t.warned[sessionID]
			d.WarnMessage = fmt.Sprintf("💸 Run budget exceeded: $%.2f of $%.2f", runCost, t.budget.MaxPerRun)
		} else if runCost >= t.budget.MaxPerRun*warnFrac && !t.warned[sessionID] {
			d.Warn = true
			d.WarnMessage = fmt.Sprintf("💸 Run cost at $%.2f (%d%% of the $%.2f budget)",
				runCost, int(runCost/t.budget.MaxPerRun*100), t.budget.MaxPerRun)
		}
	}

	if t.budget.MaxPerDay > 0 && d.WarnMessage == "" {
		if dayTotal >= t.budget.MaxPerDay {
			d.Cancel = d.Cancel || t.budget.AutoCancel
			d.Warn = !t.warned[sessionID]
			d.WarnMessage = fmt.Sprintf("💸 Daily budget exceeded: $%.2f of $%.2f", dayTotal, t.budget.MaxPerDay)
		} else if dayTotal >= t.budget.MaxPerDay*warnFrac && !t.warned[sessionID] {
			d.Warn = true
			d.WarnMessage = fmt.Sprintf("💸 Daily cost at $%.2f (%d%% of the $%.2f budget)",
				dayTotal, int(dayTotal/t.budget.MaxPerDay*100), t.budget.MaxPerDay)
		}
	}

	if d.Warn {
		t.warned[sessionID] = true
	}
	return d
}

// EndRun clears the per-run warn flag
func (t *Tracker) EndRun(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.warned, sessionID)
}
