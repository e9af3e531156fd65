// Package ports defines the core's contracts with the outside world.
// Concrete adapters (brokers, LLM clients, databases, clocks) live outside
// internal/core and are injected at construction; the core never imports a
// concrete adapter package.
package ports

import (
	"context"
	"time"

	"github.com/quantloop/tradecore/internal/core/model"
)

// PerceptionPort fetches the immutable per-cycle market snapshot for one
// instrument. May fail with errs.TransientExternal (retried by the Agent
// Loop) or a fatal-for-instrument error (the instrument is skipped this
// cycle).
type PerceptionPort interface {
	FetchFrame(ctx context.Context, instrument string, timeframes []model.Timeframe) (model.MarketFrame, error)
}

// ReasoningPort is one reasoning provider. Exception, timeout, and invalid
// response (per model.ProviderDecision validation) are all failures from
// the Ensemble Aggregator's point of view.
type ReasoningPort interface {
	ID() string
	IsLocal() bool
	Query(ctx context.Context, prompt string) (model.ProviderDecision, error)
}

// Ack is the ExecutionPort's confirmation of a submitted order.
type Ack struct {
	OrderID   string
	Accepted  bool
	Timestamp time.Time
}

// Order is the normalized instruction submitted to an execution back-end.
type Order struct {
	Instrument string
	Side       model.Side
	Size       float64
	Type       string // "market", "limit", ...
	LimitPrice *float64
}

// AccountInfo is the normalized account snapshot used for signal-only
// determination and risk sizing.
type AccountInfo struct {
	Balance           float64
	MaxLeverage       float64
	MaintenanceMargin float64
}

// ExecutionPort submits orders and reports broker-side state. Every call is
// wrapped in a per-dependency Circuit Breaker by the caller, not by the
// adapter itself. ListPositions always returns a slice regardless of the
// adapter's native shape — normalization happens at the port boundary, not
// in core callers.
type ExecutionPort interface {
	Submit(ctx context.Context, order Order) (Ack, error)
	ListPositions(ctx context.Context) ([]model.Position, error)
	AccountInfo(ctx context.Context) (AccountInfo, error)
}

// StorageSink persists Trade Outcomes. AtomicRename is required: a partial
// write must never be visible to a concurrent List — the adapter writes to
// a temporary path and renames into place, discarding anything left behind
// from an interrupted write on load.
type StorageSink interface {
	Append(ctx context.Context, outcome model.TradeOutcome) error
	List(ctx context.Context) ([]model.TradeOutcome, error)
	AtomicRename(tmp, dst string) error

	// SaveRollup and LoadRollup persist the named rollup blob (provider
	// performance, regime performance; see §6's persisted-state layout) via
	// the same atomic-commit discipline as Append. LoadRollup's found=false
	// return (no error) means "no rollup on disk yet" or "format mismatch",
	// both of which the caller treats identically: rebuild from outcomes.
	SaveRollup(ctx context.Context, name string, data []byte) error
	LoadRollup(ctx context.Context, name string) (data []byte, found bool, err error)
}

// DecisionSink persists Trade Decisions on creation (§3 lifecycle: "Trade
// Decisions are persisted on creation"), independent of Trade Outcomes,
// which StorageSink owns once a decision's position eventually closes.
type DecisionSink interface {
	Persist(ctx context.Context, decision model.TradeDecision) error
}

// ClockMode discriminates live operation from historical replay. Carried
// on each Risk Gatekeeper call rather than baked into the gatekeeper's
// construction, so the replay check can never be accidentally inverted.
type ClockMode int

const (
	Live ClockMode = iota
	Replay
)

// Clock is injectable so tests and replay harnesses can drive the Agent
// Loop without real wall-clock waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	NextBoundary(period time.Duration) time.Time
}
