// Package journal keeps a SQLite history of screening and monitoring runs.
// The journal is write-mostly; a nil *Journal is a valid, disabled journal.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/monitor"
	"github.com/eddiefleurent/putspread_sentinel/internal/strategy"
)

const schema = `
CREATE TABLE IF NOT EXISTS screen_runs (
    id              TEXT PRIMARY KEY,
    run_date        TEXT    NOT NULL,
    recorded_at     TEXT    NOT NULL,
    symbol          TEXT    NOT NULL,
    status          TEXT    NOT NULL,
    technicals      TEXT    NOT NULL DEFAULT '',
    volatility      TEXT    NOT NULL DEFAULT '',
    expirations     INTEGER NOT NULL DEFAULT 0,
    fetch_failures  INTEGER NOT NULL DEFAULT 0,
    candidates      INTEGER NOT NULL DEFAULT 0,
    best            TEXT,
    alert_delivered INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS screen_candidates (
    run_id       TEXT    NOT NULL REFERENCES screen_runs(id),
    rank         INTEGER NOT NULL,
    expiration   TEXT    NOT NULL,
    short_strike REAL    NOT NULL,
    long_strike  REAL    NOT NULL,
    credit       REAL    NOT NULL,
    short_delta  REAL    NOT NULL,
    dte          INTEGER NOT NULL,
    PRIMARY KEY (run_id, rank)
);

CREATE TABLE IF NOT EXISTS monitor_runs (
    id          TEXT PRIMARY KEY,
    run_date    TEXT    NOT NULL,
    recorded_at TEXT    NOT NULL,
    status      TEXT    NOT NULL,
    evaluated   INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    alerts_sent INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS position_evaluations (
    run_id        TEXT    NOT NULL REFERENCES monitor_runs(id),
    symbol        TEXT    NOT NULL,
    expiration    TEXT    NOT NULL,
    short_strike  REAL    NOT NULL,
    long_strike   REAL    NOT NULL,
    entry_price   REAL    NOT NULL,
    current_value REAL    NOT NULL,
    pnl_percent   REAL    NOT NULL,
    short_delta   REAL,
    dte           INTEGER NOT NULL,
    alert         TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_screen_runs_at  ON screen_runs(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_monitor_runs_at ON monitor_runs(recorded_at DESC);
`

// ScreenRun is the stored summary of one screening run.
type ScreenRun struct {
	ID             string                  `json:"id"`
	Date           string                  `json:"date"`
	RecordedAt     time.Time               `json:"recorded_at"`
	Symbol         string                  `json:"symbol"`
	Status         strategy.ScreenStatus   `json:"status"`
	Technicals     string                  `json:"technicals"`
	Volatility     string                  `json:"volatility,omitempty"`
	Expirations    int                     `json:"expirations"`
	FetchFailures  int                     `json:"fetch_failures"`
	Candidates     int                     `json:"candidates"`
	Best           *models.SpreadCandidate `json:"best,omitempty"`
	AlertDelivered bool                    `json:"alert_delivered"`
}

// Journal records runs in a SQLite database.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dsn and applies the schema.
// An empty dsn returns a nil Journal, which records nothing.
func Open(dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Enabled reports whether runs are being recorded.
func (j *Journal) Enabled() bool { return j != nil }

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// RecordScreen stores a screening run and its ranked candidates and returns
// the generated run ID.
func (j *Journal) RecordScreen(ctx context.Context, res strategy.ScreenResult) (string, error) {
	if j == nil {
		return "", nil
	}
	id := uuid.New().String()

	var best sql.NullString
	if res.Best != nil {
		b, err := json.Marshal(res.Best)
		if err != nil {
			return "", fmt.Errorf("journal: encode best candidate: %w", err)
		}
		best = sql.NullString{String: string(b), Valid: true}
	}
	var vol string
	if res.Volatility != nil {
		vol = res.Volatility.Reason
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("journal: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO screen_runs (id, run_date, recorded_at, symbol, status, technicals, volatility,
		    expirations, fetch_failures, candidates, best, alert_delivered)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.Date, j.now().Format(time.RFC3339Nano), res.Symbol, string(res.Status),
		res.Technicals.Reason, vol, len(res.Expirations), res.FetchFailures,
		len(res.Candidates), best, res.AlertDelivered,
	); err != nil {
		return "", fmt.Errorf("journal: insert screen run: %w", err)
	}

	for i, c := range res.Candidates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO screen_candidates (run_id, rank, expiration, short_strike, long_strike, credit, short_delta, dte)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i+1, c.ExpirationDate, c.ShortStrike, c.LongStrike, c.Credit, c.ShortDelta, c.DTE,
		); err != nil {
			return "", fmt.Errorf("journal: insert candidate %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("journal: commit screen run: %w", err)
	}
	return id, nil
}

// RecordMonitor stores a monitor run and its evaluations and returns the
// generated run ID.
func (j *Journal) RecordMonitor(ctx context.Context, res monitor.Result) (string, error) {
	if j == nil {
		return "", nil
	}
	id := uuid.New().String()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("journal: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO monitor_runs (id, run_date, recorded_at, status, evaluated, skipped, alerts_sent)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, res.Date, j.now().Format(time.RFC3339Nano), string(res.Status),
		len(res.Evaluations), res.Skipped, res.AlertsSent,
	); err != nil {
		return "", fmt.Errorf("journal: insert monitor run: %w", err)
	}

	for _, e := range res.Evaluations {
		var delta sql.NullFloat64
		if e.CurrentDelta != nil {
			delta = sql.NullFloat64{Float64: *e.CurrentDelta, Valid: true}
		}
		p := e.Position
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO position_evaluations (run_id, symbol, expiration, short_strike, long_strike,
			    entry_price, current_value, pnl_percent, short_delta, dte, alert)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, p.Symbol, p.Expiration, p.ShortStrike, p.LongStrike,
			p.EntryPrice, e.CurrentValue, e.PnLPercent, delta, e.DTE, string(e.Alert),
		); err != nil {
			return "", fmt.Errorf("journal: insert evaluation %s: %w", p.Label(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("journal: commit monitor run: %w", err)
	}
	return id, nil
}

// RecentScreens returns up to limit screening runs, newest first.
func (j *Journal) RecentScreens(ctx context.Context, limit int) ([]ScreenRun, error) {
	if j == nil {
		return []ScreenRun{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_date, recorded_at, symbol, status, technicals, volatility,
		        expirations, fetch_failures, candidates, best, alert_delivered
		 FROM screen_runs ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query screen runs: %w", err)
	}
	defer rows.Close()

	runs := []ScreenRun{}
	for rows.Next() {
		var (
			r          ScreenRun
			status     string
			recordedAt string
			best       sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Date, &recordedAt, &r.Symbol, &status, &r.Technicals, &r.Volatility,
			&r.Expirations, &r.FetchFailures, &r.Candidates, &best, &r.AlertDelivered); err != nil {
			return nil, fmt.Errorf("journal: scan screen run: %w", err)
		}
		r.Status = strategy.ScreenStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			r.RecordedAt = t
		}
		if best.Valid {
			var c models.SpreadCandidate
			if err := json.Unmarshal([]byte(best.String), &c); err != nil {
				return nil, fmt.Errorf("journal: decode best candidate of %s: %w", r.ID, err)
			}
			r.Best = &c
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate screen runs: %w", err)
	}
	return runs, nil
}

// CandidatesFor returns the ranked candidates stored for a screening run.
func (j *Journal) CandidatesFor(ctx context.Context, runID string) ([]models.SpreadCandidate, error) {
	if j == nil {
		return []models.SpreadCandidate{}, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT c.expiration, c.short_strike, c.long_strike, c.credit, c.short_delta, c.dte, r.symbol
		 FROM screen_candidates c JOIN screen_runs r ON r.id = c.run_id
		 WHERE c.run_id = ? ORDER BY c.rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: query candidates: %w", err)
	}
	defer rows.Close()

	out := []models.SpreadCandidate{}
	for rows.Next() {
		var c models.SpreadCandidate
		if err := rows.Scan(&c.ExpirationDate, &c.ShortStrike, &c.LongStrike, &c.Credit, &c.ShortDelta, &c.DTE, &c.Symbol); err != nil {
			return nil, fmt.Errorf("journal: scan candidate: %w", err)
		}
		c.Width = c.ShortStrike - c.LongStrike
		out = append(out, c)
	}
	return out, rows.Err()
}
