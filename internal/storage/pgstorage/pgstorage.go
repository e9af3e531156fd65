// Package pgstorage implements the Postgres-backed ports.StorageSink /
// ports.DecisionSink pair: Trade Outcomes and Trade Decisions land as JSONB
// rows instead of fsstorage's one-file-per-record tree, and rollup blobs
// (provider performance, regime performance) get the same semantics behind
// a single upsert, since a committed Postgres row is already atomic without
// fsstorage's temp-file-plus-rename dance.
package pgstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
	"github.com/quantloop/tradecore/internal/db"
	"github.com/quantloop/tradecore/internal/memory"
)

// pool is the subset of *pgxpool.Pool's interface pgstorage needs; a
// pgxmock pool satisfies it too, so Sink's tests run without a live
// database the same way internal/risk's Calculator tests do.
type pool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Sink is a ports.StorageSink/ports.DecisionSink backed by three tables:
// trade_outcomes, trade_decisions, storage_rollups. Schema() returns the
// DDL a deployment runs once via internal/db's migrator.
type Sink struct {
	pool     pool
	semantic *memory.SemanticMemory
}

// New wires an existing connection pool into a Sink. semantic may be nil;
// when present, every Append also extracts a KnowledgeItem summarizing the
// outcome (win/loss, regime, provider) so FindSimilar can later surface
// comparable past trades to the Ensemble Aggregator's prompt context.
func New(p pool, semantic *memory.SemanticMemory) *Sink {
	return &Sink{pool: p, semantic: semantic}
}

// NewFromDB wires a pgstorage.Sink directly from an internal/db.DB
// connection and its pgvector-backed semantic memory, avoiding a second
// pool for the same database.
func NewFromDB(database *db.DB) *Sink {
	return New(database.Pool(), memory.NewSemanticMemoryFromDB(database))
}

// Schema is the DDL pgstorage needs; run once by the deployment's migrator
// (see internal/db/migrate.go) alongside the reference platform's existing
// tables.
const Schema = `
CREATE TABLE IF NOT EXISTS trade_outcomes (
	decision_id TEXT PRIMARY KEY,
	instrument  TEXT NOT NULL,
	exit_timestamp TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_outcomes_exit_idx ON trade_outcomes (exit_timestamp);

CREATE TABLE IF NOT EXISTS trade_decisions (
	decision_id TEXT PRIMARY KEY,
	instrument  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS storage_rollups (
	name TEXT PRIMARY KEY,
	data BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *Sink) Persist(ctx context.Context, decision model.TradeDecision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("pgstorage: marshal decision: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trade_decisions (decision_id, instrument, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (decision_id) DO UPDATE SET payload = EXCLUDED.payload
	`, decision.DecisionID, decision.Instrument, payload)
	if err != nil {
		return fmt.Errorf("pgstorage: persist decision %s: %w", decision.DecisionID, err)
	}
	return nil
}

func (s *Sink) Append(ctx context.Context, outcome model.TradeOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("pgstorage: marshal outcome: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trade_outcomes (decision_id, instrument, exit_timestamp, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (decision_id) DO UPDATE SET payload = EXCLUDED.payload
	`, outcome.DecisionID, outcome.Instrument, outcome.ExitTimestamp, payload)
	if err != nil {
		return fmt.Errorf("pgstorage: append outcome %s: %w", outcome.DecisionID, err)
	}

	if s.semantic != nil {
		if err := s.recordKnowledge(ctx, outcome); err != nil {
			return fmt.Errorf("pgstorage: record knowledge for %s: %w", outcome.DecisionID, err)
		}
	}
	return nil
}

func (s *Sink) recordKnowledge(ctx context.Context, outcome model.TradeOutcome) error {
	result := "loss"
	if outcome.RealizedPnL > 0 {
		result = "win"
	}
	item := &memory.KnowledgeItem{
		Type:       memory.KnowledgeExperience,
		Content:    fmt.Sprintf("%s on %s exited %s via %s, realized PnL %.2f (%.2f%%)", outcome.Side, outcome.Instrument, outcome.ExitReason, outcome.AIProvider, outcome.RealizedPnL, outcome.RealizedPnLPct),
		Confidence: outcome.DecisionConfidence,
		Importance: 0.5,
		Source:     "trade_outcome",
		AgentName:  outcome.AIProvider,
		Symbol:     &outcome.Instrument,
	}
	if result == "win" {
		item.SuccessCount = 1
	} else {
		item.FailureCount = 1
	}
	item.ValidationCount = 1
	return s.semantic.Store(ctx, item)
}

func (s *Sink) List(ctx context.Context) ([]model.TradeOutcome, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM trade_outcomes ORDER BY exit_timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("pgstorage: list outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.TradeOutcome
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("pgstorage: scan outcome: %w", err)
		}
		var outcome model.TradeOutcome
		if err := json.Unmarshal(payload, &outcome); err != nil {
			continue // a row that fails to parse is skipped, not fatal to the scan
		}
		out = append(out, outcome)
	}
	return out, rows.Err()
}

// AtomicRename moves a rollup row from a staging name to its final name
// within one transaction, the Postgres analogue of fsstorage's
// temp-file-plus-os.Rename commit for callers that stage a rollup under a
// temporary name before committing it.
func (s *Sink) AtomicRename(tmp, dst string) error {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `
		UPDATE storage_rollups SET name = $2, updated_at = now() WHERE name = $1
	`, tmp, dst)
	if err != nil {
		return fmt.Errorf("pgstorage: rename rollup %s -> %s: %w", tmp, dst, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstorage: rename rollup %s -> %s: no staged row", tmp, dst)
	}
	return nil
}

func (s *Sink) SaveRollup(ctx context.Context, name string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO storage_rollups (name, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, name, data)
	if err != nil {
		return fmt.Errorf("pgstorage: save rollup %s: %w", name, err)
	}
	return nil
}

func (s *Sink) LoadRollup(ctx context.Context, name string) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM storage_rollups WHERE name = $1`, name).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("pgstorage: load rollup %s: %w", name, err)
	}
	return data, true, nil
}

var (
	_ ports.StorageSink  = (*Sink)(nil)
	_ ports.DecisionSink = (*Sink)(nil)
)
