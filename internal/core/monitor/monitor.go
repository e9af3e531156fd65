// Package monitor implements the Live Trade Monitor: a recurring detector
// that discovers broker-side positions and a bounded pool of per-position
// trackers that poll each to close, compute realized metrics, and forward
// Trade Outcomes downstream.
//
// The pool's admission gate follows the reference platform's
// timeoutSem chan struct{} counting-semaphore shape (orchestrator's
// ConsensusManager, there bounding concurrent RPC timeout handlers, here
// bounding concurrent tracker goroutines), and shutdown follows
// BaseAgent.Shutdown's sync.WaitGroup + done-channel-raced-against-ctx.Done
// idiom.
package monitor

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
)

// Config controls detection cadence, poll cadence, and pool sizing (§6).
type Config struct {
	DetectionInterval     time.Duration // default 30s
	PollInterval          time.Duration // default 30s
	MaxConcurrentTrackers int           // default 2
	ShutdownGrace         time.Duration // default 10s
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		DetectionInterval:     30 * time.Second,
		PollInterval:          30 * time.Second,
		MaxConcurrentTrackers: 2,
		ShutdownGrace:         10 * time.Second,
	}
}

// tracked is the monitor's bookkeeping for one position under observation.
type tracked struct {
	position model.Position
	peakPnL  float64
	minPnL   float64
}

// Monitor runs the detector loop and the bounded tracker pool. Construct
// with New, call Run in its own goroutine, and consume Outcomes() for
// closed-trade events. Stop via the context passed to Run.
type Monitor struct {
	execution ports.ExecutionPort
	clock     ports.Clock
	cfg       Config
	log       zerolog.Logger

	mu      sync.RWMutex
	tracked map[string]*tracked // positionID -> tracked snapshot

	sem     chan struct{}
	pending *list.List
	pendMu  sync.Mutex

	outcomes chan model.TradeOutcome
	wg       sync.WaitGroup
}

// New constructs a Monitor. execution is used both by the detector (to list
// open positions) and implicitly by each tracker (to re-list and read the
// current mark price on every poll).
func New(execution ports.ExecutionPort, clock ports.Clock, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{
		execution: execution,
		clock:     clock,
		cfg:       cfg,
		log:       log,
		tracked:   make(map[string]*tracked),
		sem:       make(chan struct{}, cfg.MaxConcurrentTrackers),
		pending:   list.New(),
		outcomes:  make(chan model.TradeOutcome, 32),
	}
}

// Outcomes returns the outbound closed-trade channel. Per the core's
// message-passing convention, the Agent Loop drains this in its LEARNING
// phase; the Monitor holds no back-reference to its consumer.
func (m *Monitor) Outcomes() <-chan model.TradeOutcome {
	return m.outcomes
}

// TrackedCount reports how many positions are currently tracked (open or
// pending admission), for status reporting.
func (m *Monitor) TrackedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracked)
}

// Register immediately admits a position for tracking, bypassing the
// detector — used by POSITION_RECOVERY at startup, which already knows the
// broker's open set and must not wait for the next detection tick.
func (m *Monitor) Register(ctx context.Context, pos model.Position) {
	m.admit(ctx, pos)
}

// Run drives the detector loop until ctx is cancelled, then shuts down
// within cfg.ShutdownGrace or force-returns.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.DetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-ticker.C:
			m.detect(ctx)
		}
	}
}

// detect fetches the platform's current open set and schedules trackers for
// any position not already tracked. Idempotent: a position observed twice
// (race with a concurrent Register) is a no-op on the second insertion.
func (m *Monitor) detect(ctx context.Context) {
	positions, err := m.execution.ListPositions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("trade monitor: detection poll failed, retrying next interval")
		return
	}
	for _, p := range positions {
		m.admit(ctx, p)
	}
}

// admit inserts p into the tracked set (no-op if already present) and
// either starts a tracker immediately (a pool slot is free) or enqueues it
// in the pending FIFO.
func (m *Monitor) admit(ctx context.Context, p model.Position) {
	m.mu.Lock()
	if _, exists := m.tracked[p.PositionID]; exists {
		m.mu.Unlock()
		return
	}
	m.tracked[p.PositionID] = &tracked{position: p, peakPnL: 0, minPnL: 0}
	m.mu.Unlock()

	select {
	case m.sem <- struct{}{}:
		m.wg.Add(1)
		go m.track(ctx, p.PositionID)
	default:
		m.pendMu.Lock()
		m.pending.PushBack(p.PositionID)
		m.pendMu.Unlock()
	}
}

// admitNext pulls the oldest pending position, if any, and starts tracking
// it in the just-released pool slot.
func (m *Monitor) admitNext(ctx context.Context) {
	m.pendMu.Lock()
	front := m.pending.Front()
	var nextID string
	if front != nil {
		nextID = front.Value.(string)
		m.pending.Remove(front)
	}
	m.pendMu.Unlock()

	if nextID == "" {
		<-m.sem // no pending work; release the slot outright
		return
	}
	m.wg.Add(1)
	go m.track(ctx, nextID) // reuses the slot held by the caller; do not re-acquire
}

// track is the per-position tracker lifecycle: start, poll until exit
// detection, finalize. It owns exactly one pool slot for its lifetime and
// hands that slot to the next pending position (or releases it) on exit.
func (m *Monitor) track(ctx context.Context, positionID string) {
	defer m.wg.Done()

	m.mu.RLock()
	t, ok := m.tracked[positionID]
	m.mu.RUnlock()
	if !ok {
		m.admitNext(ctx)
		return
	}

	entry := m.snapshotAtStart(ctx, positionID, t)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.finalize(entry, t, entry.CurrentPrice, model.ExitShutdown)
			m.admitNext(ctx)
			return
		case <-ticker.C:
			current, exited, exitReason, ok := m.poll(ctx, positionID)
			if !ok {
				// transient list failure; try again next tick
				continue
			}
			if exited {
				m.finalize(entry, t, current, exitReason)
				m.admitNext(ctx)
				return
			}
		}
	}
}

// snapshotAtStart re-fetches the live position before the first poll. A
// position admitted straight from detection and one promoted from the
// pending queue both go through this same start step, so a queued
// position's entry snapshot reflects the price at promotion, not the
// (possibly stale) price observed when it first appeared in the pending
// queue (§8 S6).
func (m *Monitor) snapshotAtStart(ctx context.Context, positionID string, t *tracked) model.Position {
	positions, err := m.execution.ListPositions(ctx)
	if err != nil {
		return t.position
	}
	for _, p := range positions {
		if p.PositionID == positionID {
			m.mu.Lock()
			t.position = p
			m.mu.Unlock()
			return p
		}
	}
	return t.position
}

// poll fetches the current open set, updates peak/drawdown for positionID,
// and reports whether the position has exited (vanished from the set).
func (m *Monitor) poll(ctx context.Context, positionID string) (currentPrice float64, exited bool, reason model.ExitReason, ok bool) {
	positions, err := m.execution.ListPositions(ctx)
	if err != nil {
		return 0, false, "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, tracked := m.tracked[positionID]
	if !tracked {
		return 0, true, model.ExitManual, true
	}

	for _, p := range positions {
		if p.PositionID == positionID {
			pnl := p.UnrealizedPnL(p.CurrentPrice)
			if pnl > t.peakPnL {
				t.peakPnL = pnl
			}
			if pnl < t.minPnL {
				t.minPnL = pnl
			}
			t.position = p
			return p.CurrentPrice, false, "", true
		}
	}

	// Position vanished from the broker's view: closed. Classify against
	// the last known stop/take-profit boundaries; default to manual.
	last := t.position
	exitReason := model.ExitManual
	switch {
	case last.LiquidationPrice != nil && adverseCross(last.CurrentPrice, *last.LiquidationPrice, last.Side):
		exitReason = model.ExitLiquidation
	case last.StopLossPrice != nil && adverseCross(last.CurrentPrice, *last.StopLossPrice, last.Side):
		exitReason = model.ExitStopLoss
	case last.TakeProfitPrice != nil && favorableCross(last.CurrentPrice, *last.TakeProfitPrice, last.Side):
		exitReason = model.ExitTakeProfit
	}
	return last.CurrentPrice, true, exitReason, true
}

// adverseCross reports whether price has reached or passed boundary in the
// direction that hurts an open position of the given side (a stop-loss or
// liquidation trigger): falling through boundary for a long, rising through
// it for a short.
func adverseCross(price, boundary float64, side model.Side) bool {
	if side == model.SideShort {
		return price >= boundary
	}
	return price <= boundary
}

// favorableCross is adverseCross's mirror: the direction that realizes a
// take-profit.
func favorableCross(price, boundary float64, side model.Side) bool {
	if side == model.SideShort {
		return price <= boundary
	}
	return price >= boundary
}

// finalize builds the Trade Outcome, removes positionID from the tracked
// set, and publishes it on the outcomes channel.
func (m *Monitor) finalize(entry model.Position, t *tracked, exitPrice float64, reason model.ExitReason) {
	now := m.clock.Now()
	holdingHours := now.Sub(entry.EntryTimestamp).Hours()

	realized := entry.UnrealizedPnL(exitPrice)
	notional := entry.EntryPrice * entry.Size
	var realizedPct float64
	if notional != 0 {
		realizedPct = realized / notional
	}

	outcome := model.TradeOutcome{
		DecisionID:     entry.PositionID,
		Instrument:     entry.Instrument,
		Side:           entry.Side,
		EntryPrice:     entry.EntryPrice,
		EntryTimestamp: entry.EntryTimestamp,
		ExitPrice:      exitPrice,
		ExitTimestamp:  now,
		HoldingHours:   holdingHours,
		RealizedPnL:    realized,
		RealizedPnLPct: realizedPct,
		HitStopLoss:    reason == model.ExitStopLoss,
		HitTakeProfit:  reason == model.ExitTakeProfit,
		PeakPnL:        t.peakPnL,
		MaxDrawdown:    t.minPnL,
		ExitReason:     reason,
	}

	m.mu.Lock()
	delete(m.tracked, entry.PositionID)
	m.mu.Unlock()

	select {
	case m.outcomes <- outcome:
	default:
		m.log.Warn().Str("position_id", entry.PositionID).Msg("trade monitor: outcomes channel full, dropping oldest consumer backpressure")
		<-m.outcomes
		m.outcomes <- outcome
	}
}

// shutdown waits for every in-flight tracker to finalize within
// cfg.ShutdownGrace, then returns regardless.
func (m *Monitor) shutdown() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info().Msg("trade monitor: shutdown complete")
	case <-time.After(m.cfg.ShutdownGrace):
		m.log.Warn().Msg("trade monitor: shutdown grace period exceeded, force-returning")
	}
}
