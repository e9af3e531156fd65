// Package agentloop implements the Agent Loop: the OODA state machine that
// owns cycle cadence and drives every other core component.
//
// The outer scheduling shape — ticker/select over an external and an
// internal context — follows the reference platform's orchestrator
// Run(ctx) and BaseAgent.Run; Status()/Pause/Resume/IsPaused follow the
// same files' health-check and pause/resume mutex idiom; per-asset retry
// with exponential backoff generalizes internal/exchange/retry.go's
// WithRetry into an injectable-Clock-driven version so POSITION_RECOVERY
// and REASONING are deterministically testable.
package agentloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quantloop/tradecore/internal/core/breaker"
	"github.com/quantloop/tradecore/internal/core/ensemble"
	"github.com/quantloop/tradecore/internal/core/memory"
	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/monitor"
	"github.com/quantloop/tradecore/internal/core/ports"
	"github.com/quantloop/tradecore/internal/core/risk"
)

// State names one node of the OODA state machine.
type State string

const (
	StateStartup          State = "STARTUP"
	StatePositionRecovery State = "POSITION_RECOVERY"
	StateIdle             State = "IDLE"
	StateLearning         State = "LEARNING"
	StatePerception       State = "PERCEPTION"
	StateReasoning        State = "REASONING"
	StateRiskCheck        State = "RISK_CHECK"
	StateExecution        State = "EXECUTION"
	StateHalt             State = "HALT"
)

// Config holds the loop's cadence, retry, and kill-switch parameters (§6).
type Config struct {
	Instruments  []string
	Timeframes   []model.Timeframe
	AssetClassOf func(instrument string) model.AssetClass // defaults to AssetClassCrypto if nil

	Mode ports.ClockMode // Live for normal operation; Replay for backtests

	AnalysisFrequency time.Duration // default 300s

	MaxDecisionRetries          int           // default 3
	ReasoningInitialBackoff     time.Duration // default 500ms
	ReasoningBackoffFactor      float64       // default 2.0

	PositionRecoveryMaxAttempts    int           // default 3
	PositionRecoveryInitialBackoff time.Duration // default 1s
	PositionRecoveryBackoffFactor  float64       // default 2.0

	DecisionThrottle time.Duration // default 60s; at most one submit per window

	KillSwitchLoss float64 // cumulative realized PnL floor; crossing it halts
	KillSwitchGain float64 // cumulative realized PnL ceiling; crossing it halts

	FailureDecayFactor float64 // default 0.5; per-cycle multiplicative decay
	FailureThreshold   float64 // default 3.0; counter crossing this skips the instrument

	EquityCurveCap int // max equity points retained in memory, default 500
}

// DefaultConfig returns the spec's defaults for every tunable.
func DefaultConfig() Config {
	return Config{
		AnalysisFrequency:              300 * time.Second,
		MaxDecisionRetries:             3,
		ReasoningInitialBackoff:        500 * time.Millisecond,
		ReasoningBackoffFactor:         2.0,
		PositionRecoveryMaxAttempts:    3,
		PositionRecoveryInitialBackoff: time.Second,
		PositionRecoveryBackoffFactor:  2.0,
		DecisionThrottle:               60 * time.Second,
		KillSwitchLoss:                 -1e18, // effectively disabled unless configured
		KillSwitchGain:                 1e18,
		FailureDecayFactor:             0.5,
		FailureThreshold:               3.0,
		EquityCurveCap:                 500,
	}
}

// Status is the per-cycle snapshot exposed to operators and Prometheus.
type Status struct {
	CycleID              string
	Phase                State
	InstrumentsProcessed []string
	InstrumentsSkipped   []string
	DecisionsGenerated   int
	DecisionsExecuted    int
	DecisionsRejected    int
	OpenTrackers         int
	HaltReason           string
	Paused               bool
	Timestamp            time.Time
}

// Loop is the Agent Loop. Construct with New, then call Run in its own
// goroutine; cancel the context to shut down.
type Loop struct {
	cfg Config

	perception ports.PerceptionPort
	execution  ports.ExecutionPort
	decisions  ports.DecisionSink
	providers  []ensemble.ProviderSpec

	aggregator *ensemble.Aggregator
	gatekeeper *risk.Gatekeeper
	monitor    *monitor.Monitor
	mem        *memory.Memory
	breakers   *breaker.Manager
	clock      ports.Clock
	log        zerolog.Logger

	limiter *rate.Limiter

	mu                    sync.Mutex
	paused                bool
	halted                bool
	haltReason            string
	dailyTradeCount       int
	lastResetDate         string
	cumulativeRealizedPnL float64
	failureCounters       map[string]float64
	equityCurve           []risk.EquityPoint
	recentReturns         []float64
	lastStatus            Status
}

// New constructs a Loop. providers is the reasoning roster handed to the
// Ensemble Aggregator on every REASONING call.
func New(
	cfg Config,
	perception ports.PerceptionPort,
	execution ports.ExecutionPort,
	decisions ports.DecisionSink,
	providers []ensemble.ProviderSpec,
	aggregator *ensemble.Aggregator,
	gatekeeper *risk.Gatekeeper,
	mon *monitor.Monitor,
	mem *memory.Memory,
	breakers *breaker.Manager,
	clock ports.Clock,
	log zerolog.Logger,
) *Loop {
	return &Loop{
		cfg:             cfg,
		perception:      perception,
		execution:       execution,
		decisions:       decisions,
		providers:       providers,
		aggregator:      aggregator,
		gatekeeper:      gatekeeper,
		monitor:         mon,
		mem:             mem,
		breakers:        breakers,
		clock:           clock,
		log:             log,
		limiter:         rate.NewLimiter(rate.Every(cfg.DecisionThrottle), 1),
		failureCounters: make(map[string]float64),
	}
}

// Pause stops REASONING/EXECUTION from running; the clock keeps advancing
// and status keeps being emitted.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

// Resume clears Pause.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
}

// IsPaused reports the current pause state.
func (l *Loop) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Status returns the most recently published cycle snapshot.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastStatus
}

// Run drives STARTUP → POSITION_RECOVERY → IDLE → [cycle]* | HALT until ctx
// is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Msg("agent loop: starting")

	recovered := l.positionRecovery(ctx)
	skipIdle := recovered // §4.6: the initial IDLE wait is skipped only after a successful recovery

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("agent loop: stopped by context")
			return ctx.Err()
		default:
		}

		if l.isHalted() {
			l.publishHaltStatus()
			<-ctx.Done()
			return ctx.Err()
		}

		if !skipIdle {
			if err := l.clock.Sleep(ctx, l.cfg.AnalysisFrequency); err != nil {
				return ctx.Err()
			}
		}
		skipIdle = false

		l.runCycle(ctx)
	}
}

// runCycle executes exactly one LEARNING → PERCEPTION → REASONING →
// RISK_CHECK → EXECUTION pass; per-loop guarantee: it always completes and
// publishes a status, regardless of how many instruments/providers failed.
func (l *Loop) runCycle(ctx context.Context) {
	status := Status{CycleID: uuid.NewString(), Timestamp: l.clock.Now(), Paused: l.IsPaused()}

	status.Phase = StateLearning
	l.learning(ctx)

	status.Phase = StatePerception
	frames := l.perceptionPhase(ctx, &status)
	if l.isHalted() {
		status.Phase = StateHalt
		status.HaltReason = l.haltReasonSnapshot()
		l.publishStatus(status)
		return
	}
	if status.Paused {
		status.OpenTrackers = l.monitor.TrackedCount()
		l.publishStatus(status)
		return
	}

	for _, inst := range l.cfg.Instruments {
		frame, ok := frames[inst]
		if !ok {
			continue // already recorded as skipped in perceptionPhase
		}

		status.Phase = StateReasoning
		decision, ok := l.reasoning(ctx, inst, frame, &status)
		if !ok {
			continue
		}
		status.DecisionsGenerated++
		status.InstrumentsProcessed = append(status.InstrumentsProcessed, inst)

		status.Phase = StateRiskCheck
		if !l.riskCheck(ctx, decision) {
			status.DecisionsRejected++
			continue
		}
		if decision.SignalOnly {
			continue // nothing to size or submit; the decision itself is the output
		}

		status.Phase = StateExecution
		if l.executionPhase(ctx, decision) {
			status.DecisionsExecuted++
		}
	}

	status.OpenTrackers = l.monitor.TrackedCount()
	l.publishStatus(status)
}

// positionRecovery queries the broker for pre-existing open positions with
// bounded retry, synthesizing a null-lineage Trade Decision for each and
// registering it with the Trade Monitor. Reports whether recovery succeeded
// (used to decide whether the first IDLE wait is skipped).
func (l *Loop) positionRecovery(ctx context.Context) bool {
	backoff := l.cfg.PositionRecoveryInitialBackoff
	var positions []model.Position
	var err error

	for attempt := 0; attempt < l.cfg.PositionRecoveryMaxAttempts; attempt++ {
		positions, err = l.execution.ListPositions(ctx)
		if err == nil {
			break
		}
		l.log.Warn().Err(err).Int("attempt", attempt+1).Msg("agent loop: position recovery attempt failed")
		if attempt == l.cfg.PositionRecoveryMaxAttempts-1 {
			break
		}
		if sleepErr := l.clock.Sleep(ctx, backoff); sleepErr != nil {
			return false
		}
		backoff = time.Duration(float64(backoff) * l.cfg.PositionRecoveryBackoffFactor)
	}

	if err != nil {
		l.log.Error().Err(err).Msg("agent loop: position recovery exhausted, proceeding with empty tracked set")
		return false
	}

	for _, pos := range positions {
		decision := model.TradeDecision{
			EnsembleDecision: model.EnsembleDecision{Action: positionSideToAction(pos.Side)},
			DecisionID:       uuid.NewString(),
			Instrument:       pos.Instrument,
			EntryPriceReference: pos.EntryPrice,
			SignalOnly:       false,
			RiskParameters:   &model.RiskParameters{RecommendedSize: pos.Size},
		}
		if err := l.decisions.Persist(ctx, decision); err != nil {
			l.log.Warn().Err(err).Str("instrument", pos.Instrument).Msg("agent loop: failed to persist recovered decision")
		}
		l.monitor.Register(ctx, pos)
	}

	return true
}

// referencePrice picks the close of the most recent candle across every
// timeframe in frame, used as the decision's entry-price reference when no
// fill price is known yet.
func referencePrice(frame model.MarketFrame) float64 {
	var latest time.Time
	var price float64
	for _, candles := range frame.OHLCV {
		if len(candles) == 0 {
			continue
		}
		last := candles[len(candles)-1]
		if last.Timestamp.After(latest) {
			latest = last.Timestamp
			price = last.Close
		}
	}
	return price
}

func positionSideToAction(side model.Side) model.Action {
	if side == model.SideShort {
		return model.ActionSell
	}
	return model.ActionBuy
}

// learning drains the Trade Monitor's closed-trade channel without
// blocking: every outcome currently buffered is recorded, and the phase
// ends the instant the channel has nothing more to offer.
func (l *Loop) learning(ctx context.Context) {
	for {
		select {
		case outcome, ok := <-l.monitor.Outcomes():
			if !ok {
				return
			}
			if err := l.mem.Record(ctx, outcome); err != nil {
				l.log.Warn().Err(err).Str("decision_id", outcome.DecisionID).Msg("agent loop: failed to record outcome")
			}
			l.mu.Lock()
			l.cumulativeRealizedPnL += outcome.RealizedPnL
			l.mu.Unlock()
		default:
			return
		}
	}
}

// perceptionPhase enforces kill-switches, rolls the daily trade counter at
// local midnight, and fetches one Market Frame per watched instrument.
func (l *Loop) perceptionPhase(ctx context.Context, status *Status) map[string]model.MarketFrame {
	l.mu.Lock()
	pnl := l.cumulativeRealizedPnL
	today := l.clock.Now().Format("2006-01-02")
	if today != l.lastResetDate {
		l.dailyTradeCount = 0
		l.lastResetDate = today
	}
	l.recordEquityPointLocked(pnl)
	l.mu.Unlock()

	if pnl <= l.cfg.KillSwitchLoss {
		l.halt("kill_switch_loss")
		return nil
	}
	if pnl >= l.cfg.KillSwitchGain {
		l.halt("kill_switch_gain")
		return nil
	}

	status.Paused = l.IsPaused()

	frames := make(map[string]model.MarketFrame, len(l.cfg.Instruments))
	for _, inst := range l.cfg.Instruments {
		frame, err := l.perception.FetchFrame(ctx, inst, l.cfg.Timeframes)
		if err != nil {
			l.log.Warn().Err(err).Str("instrument", inst).Msg("agent loop: perception fetch failed, skipping instrument this cycle")
			status.InstrumentsSkipped = append(status.InstrumentsSkipped, inst)
			continue
		}
		frames[inst] = frame
	}
	return frames
}

// recordEquityPointLocked appends an equity sample and a derived return,
// capped to EquityCurveCap entries. Callers must hold l.mu.
func (l *Loop) recordEquityPointLocked(cumulativePnL float64) {
	point := risk.EquityPoint{Timestamp: l.clock.Now(), Equity: cumulativePnL}
	l.equityCurve = append(l.equityCurve, point)
	if n := len(l.equityCurve); n >= 2 {
		prev := l.equityCurve[n-2].Equity
		if prev != 0 {
			l.recentReturns = append(l.recentReturns, (point.Equity-prev)/prev)
		}
	}
	if limit := l.cfg.EquityCurveCap; limit > 0 && len(l.equityCurve) > limit {
		drop := len(l.equityCurve) - limit
		l.equityCurve = l.equityCurve[drop:]
		if len(l.recentReturns) > limit {
			l.recentReturns = l.recentReturns[len(l.recentReturns)-limit:]
		}
	}
}

// reasoning calls the Ensemble Aggregator with retry-on-total-failure; a
// per-instrument failure counter decays every cycle and, once it crosses
// the configured threshold, skips the instrument outright without even
// attempting a call.
func (l *Loop) reasoning(ctx context.Context, instrument string, frame model.MarketFrame, status *Status) (model.TradeDecision, bool) {
	l.mu.Lock()
	l.failureCounters[instrument] *= l.cfg.FailureDecayFactor
	skip := l.failureCounters[instrument] >= l.cfg.FailureThreshold
	l.mu.Unlock()

	if skip {
		status.InstrumentsSkipped = append(status.InstrumentsSkipped, instrument)
		return model.TradeDecision{}, false
	}

	prompt := fmt.Sprintf("instrument=%s timeframe_count=%d", instrument, len(frame.OHLCV))
	backoff := l.cfg.ReasoningInitialBackoff

	for attempt := 0; attempt <= l.cfg.MaxDecisionRetries; attempt++ {
		ed := l.aggregator.Aggregate(ctx, prompt, l.providers)
		if !ed.Metadata.AllProvidersFailed {
			return l.buildTradeDecision(ctx, instrument, ed, referencePrice(frame)), true
		}
		if attempt == l.cfg.MaxDecisionRetries {
			break
		}
		if err := l.clock.Sleep(ctx, backoff); err != nil {
			return model.TradeDecision{}, false
		}
		backoff = time.Duration(float64(backoff) * l.cfg.ReasoningBackoffFactor)
	}

	l.mu.Lock()
	l.failureCounters[instrument]++
	l.mu.Unlock()
	status.InstrumentsSkipped = append(status.InstrumentsSkipped, instrument)
	return model.TradeDecision{}, false
}

// buildTradeDecision determines signal-only mode from the account's
// balance (§8 S3: an empty/zero balance means "no portfolio to size
// against") and persists the decision immediately, per the core's
// persist-on-creation lifecycle guarantee.
func (l *Loop) buildTradeDecision(ctx context.Context, instrument string, ed model.EnsembleDecision, price float64) model.TradeDecision {
	decision := model.TradeDecision{
		EnsembleDecision:    ed,
		DecisionID:          uuid.NewString(),
		Instrument:          instrument,
		EntryPriceReference: price,
	}

	account, err := l.execution.AccountInfo(ctx)
	if err != nil || account.Balance == 0 {
		decision.SignalOnly = true
	} else if ed.Action != model.ActionHold {
		// RecommendedSize is a fraction of account equity, matching the Risk
		// Gatekeeper's CurrentHoldings/concentration semantics; the concrete
		// ExecutionPort adapter converts it to instrument units at submit time.
		const maxAllocation = 0.1
		decision.RiskParameters = &model.RiskParameters{
			StopLossFraction: 0.02,
			RiskFraction:     0.01,
			RecommendedSize:  maxAllocation * (ed.Confidence / 100),
		}
	} else {
		decision.SignalOnly = true
	}

	if err := l.decisions.Persist(ctx, decision); err != nil {
		l.log.Warn().Err(err).Str("instrument", instrument).Msg("agent loop: failed to persist decision")
	}
	return decision
}

// riskCheck submits decision to the Risk Gatekeeper with the current
// portfolio snapshot; a signal-only decision always passes (nothing to
// size), matching §8 S3 (execution is skipped regardless of the verdict).
func (l *Loop) riskCheck(ctx context.Context, decision model.TradeDecision) bool {
	if decision.SignalOnly {
		return true
	}

	l.mu.Lock()
	riskCtx := risk.Context{
		RecentPerformance: append([]float64(nil), l.recentReturns...),
		CurrentHoldings:   map[string]float64{},
		EquityCurve:       append([]risk.EquityPoint(nil), l.equityCurve...),
		Timestamp:         l.clock.Now().Format(time.RFC3339),
		AssetClass:        l.assetClassFor(decision.Instrument),
	}
	if len(riskCtx.EquityCurve) > 0 {
		riskCtx.InitialBalance = riskCtx.EquityCurve[0].Equity
	}
	l.mu.Unlock()

	approved, reason, err := l.gatekeeper.Validate(decision, riskCtx, l.cfg.Mode)
	if err != nil {
		l.log.Error().Err(err).Str("instrument", decision.Instrument).Msg("agent loop: risk gatekeeper error, rejecting")
		return false
	}
	if !approved {
		l.log.Info().Str("instrument", decision.Instrument).Str("reason", reason).Msg("agent loop: risk gatekeeper rejected decision")
	}
	return approved
}

// assetClassFor resolves the configured classifier, defaulting to crypto
// when none is supplied (this core is crypto-first per its domain).
func (l *Loop) assetClassFor(instrument string) model.AssetClass {
	if l.cfg.AssetClassOf != nil {
		return l.cfg.AssetClassOf(instrument)
	}
	return model.AssetClassCrypto
}

// executionPhase wraps the ExecutionPort submit in the execution Circuit
// Breaker and the per-cycle throttle, registering the resulting position
// with the Trade Monitor on success.
func (l *Loop) executionPhase(ctx context.Context, decision model.TradeDecision) bool {
	if !l.limiter.Allow() {
		l.log.Info().Str("instrument", decision.Instrument).Msg("agent loop: execution throttled, skipping this cycle")
		return false
	}

	order := ports.Order{
		Instrument: decision.Instrument,
		Side:       actionToSide(decision.Action),
		Size:       decision.RiskParameters.RecommendedSize,
		Type:       "market",
	}

	cb := l.breakers.For("execution")
	result, err := cb.Call(ctx, func(ctx context.Context) (any, error) {
		return l.execution.Submit(ctx, order)
	})
	if err != nil {
		l.log.Warn().Err(err).Str("instrument", decision.Instrument).Msg("agent loop: execution failed")
		return false
	}
	ack := result.(ports.Ack)
	if !ack.Accepted {
		l.log.Warn().Str("instrument", decision.Instrument).Msg("agent loop: execution not accepted")
		return false
	}

	pos := model.Position{
		PositionID:     ack.OrderID,
		Instrument:     decision.Instrument,
		Side:           actionToSide(decision.Action),
		Size:           decision.RiskParameters.RecommendedSize,
		EntryPrice:     decision.EntryPriceReference,
		EntryTimestamp: ack.Timestamp,
	}
	l.monitor.Register(ctx, pos)

	l.mu.Lock()
	l.dailyTradeCount++
	l.mu.Unlock()
	return true
}

func actionToSide(a model.Action) model.Side {
	if a == model.ActionSell {
		return model.SideShort
	}
	return model.SideLong
}

func (l *Loop) halt(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.halted {
		l.log.Error().Str("reason", reason).Msg("agent loop: kill-switch triggered, transitioning to HALT")
	}
	l.halted = true
	l.haltReason = reason
}

func (l *Loop) isHalted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

func (l *Loop) haltReasonSnapshot() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.haltReason
}

func (l *Loop) publishStatus(status Status) {
	l.mu.Lock()
	l.lastStatus = status
	l.mu.Unlock()
	l.log.Info().
		Str("cycle_id", status.CycleID).
		Str("phase", string(status.Phase)).
		Int("decisions_generated", status.DecisionsGenerated).
		Int("decisions_executed", status.DecisionsExecuted).
		Int("decisions_rejected", status.DecisionsRejected).
		Int("open_trackers", status.OpenTrackers).
		Msg("agent loop: cycle complete")
}

func (l *Loop) publishHaltStatus() {
	status := Status{Phase: StateHalt, HaltReason: l.haltReasonSnapshot(), Timestamp: l.clock.Now()}
	l.publishStatus(status)
}
