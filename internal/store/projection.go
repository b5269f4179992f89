package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"dealdesk/internal/types"
)

// Projection is the optional SQLite read model: rubric rows, evidence rows,
// run summaries, and an event index for querying. It is rebuildable from the
// event log; nothing in pipeline correctness depends on it.
type Projection struct {
	db  *sql.DB
	log *zap.Logger
}

// NewProjection opens (or creates) the SQLite read model at path.
func NewProjection(path string, logger *zap.Logger) (*Projection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create projection directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open projection database: %w", err)
	}
	// Single writer; WAL + NORMAL for crash-safe fast writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	p := &Projection{db: db, log: logger}
	if err := p.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Projection) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			deal_id     TEXT NOT NULL,
			run_id      TEXT NOT NULL,
			seq         INTEGER NOT NULL,
			status      TEXT NOT NULL,
			started_at  DATETIME NOT NULL,
			finished_at DATETIME,
			PRIMARY KEY (deal_id, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rubric_scores (
			deal_id   TEXT NOT NULL,
			run_id    TEXT NOT NULL,
			dimension TEXT NOT NULL,
			score     INTEGER NOT NULL,
			reasons   TEXT,
			PRIMARY KEY (deal_id, run_id, dimension)
		)`,
		`CREATE TABLE IF NOT EXISTS evidence (
			deal_id      TEXT NOT NULL,
			id           TEXT NOT NULL,
			title        TEXT,
			url          TEXT,
			snippet      TEXT,
			source       TEXT,
			retrieved_at DATETIME,
			PRIMARY KEY (deal_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS events_index (
			rowid_seq INTEGER PRIMARY KEY AUTOINCREMENT,
			deal_id   TEXT NOT NULL,
			run_id    TEXT,
			ts        DATETIME NOT NULL,
			type      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_deal ON events_index(deal_id, ts)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize projection schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (p *Projection) Close() error {
	return p.db.Close()
}

// ProjectRun upserts a run summary row.
func (p *Projection) ProjectRun(run types.Run) error {
	_, err := p.db.Exec(`
		INSERT INTO runs (deal_id, run_id, seq, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(deal_id, run_id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at`,
		run.DealID, run.ID, run.Seq, string(run.Status), run.StartedAt, run.FinishedAt)
	return err
}

// ProjectEvent indexes one event and mirrors its state-bearing content into
// the query tables.
func (p *Projection) ProjectEvent(ev types.Event) error {
	if _, err := p.db.Exec(
		`INSERT INTO events_index (deal_id, run_id, ts, type) VALUES (?, ?, ?, ?)`,
		ev.DealID, ev.RunID, ev.TS, string(ev.Type)); err != nil {
		return err
	}

	switch ev.Type {
	case types.EventEvidenceAdded:
		var payload types.EvidencePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		return p.upsertEvidence(ev.DealID, payload.Items)

	case types.EventStatePatch:
		var payload types.StatePatchPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
		return p.upsertRubric(ev.DealID, ev.RunID, payload.Rubric)
	}
	return nil
}

func (p *Projection) upsertEvidence(dealID string, items []types.EvidenceItem) error {
	for _, item := range items {
		_, err := p.db.Exec(`
			INSERT INTO evidence (deal_id, id, title, url, snippet, source, retrieved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(deal_id, id) DO UPDATE SET
				title = excluded.title,
				url = excluded.url,
				snippet = excluded.snippet,
				source = excluded.source,
				retrieved_at = excluded.retrieved_at`,
			dealID, item.ID, item.Title, item.URL, item.Snippet, item.Source, item.RetrievedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Projection) upsertRubric(dealID, runID string, rubric map[string]types.RubricScore) error {
	for dim, sc := range rubric {
		reasons, err := json.Marshal(sc.Reasons)
		if err != nil {
			return err
		}
		_, err = p.db.Exec(`
			INSERT INTO rubric_scores (deal_id, run_id, dimension, score, reasons)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(deal_id, run_id, dimension) DO UPDATE SET
				score = excluded.score,
				reasons = excluded.reasons`,
			dealID, runID, dim, sc.Score, string(reasons))
		if err != nil {
			return err
		}
	}
	return nil
}

// Rebuild drops the deal's projected rows and regenerates them from the
// event log, proving the index is derivable from ground truth.
func (p *Projection) Rebuild(dealID string, runs []types.Run, events []types.Event) error {
	for _, table := range []string{"rubric_scores", "evidence", "events_index", "runs"} {
		if _, err := p.db.Exec(`DELETE FROM `+table+` WHERE deal_id = ?`, dealID); err != nil {
			return err
		}
	}
	for _, run := range runs {
		if err := p.ProjectRun(run); err != nil {
			return err
		}
	}
	for _, ev := range events {
		if err := p.ProjectEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// RubricRows returns the projected scores for one run, keyed by dimension.
func (p *Projection) RubricRows(dealID, runID string) (map[string]types.RubricScore, error) {
	rows, err := p.db.Query(
		`SELECT dimension, score, reasons FROM rubric_scores WHERE deal_id = ? AND run_id = ?`,
		dealID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]types.RubricScore)
	for rows.Next() {
		var dim, reasons string
		var score int
		if err := rows.Scan(&dim, &score, &reasons); err != nil {
			return nil, err
		}
		sc := types.RubricScore{Score: score}
		if reasons != "" {
			if err := json.Unmarshal([]byte(reasons), &sc.Reasons); err != nil {
				return nil, err
			}
		}
		out[dim] = sc
	}
	return out, rows.Err()
}

// EventCount returns how many events are indexed for a deal.
func (p *Projection) EventCount(dealID string) (int, error) {
	var n int
	err := p.db.QueryRow(
		`SELECT COUNT(*) FROM events_index WHERE deal_id = ?`, dealID).Scan(&n)
	return n, err
}
