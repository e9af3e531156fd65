// Package risk implements the stateless pre-execution Risk Gatekeeper: a
// pure function of a proposed decision and the current portfolio context,
// running seven ordered checks that each may reject with a distinct reason
// code. It does not size positions — only approves or denies a pre-sized
// decision.
//
// The quantitative checks (drawdown, VaR, correlation) follow the same
// historical-simulation and peak/trough conventions as the reference
// platform's risk service.
package risk

import (
	"math"
	"sort"
	"time"

	"github.com/quantloop/tradecore/internal/core/errs"
	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
)

// Config holds the gatekeeper's thresholds (§6 config keys).
type Config struct {
	MaxDrawdown             float64 // default 0.05
	MaxPositionConcentration float64 // default 0.25
	MaxCorrelatedPositions  int     // default 2
	CorrelationCap          float64 // default 0.7
	ConfidenceThreshold     float64 // default 60 (0..100 scale)
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		MaxDrawdown:              0.05,
		MaxPositionConcentration: 0.25,
		MaxCorrelatedPositions:   2,
		CorrelationCap:           0.7,
		ConfidenceThreshold:      60,
	}
}

// EquityPoint is one sample of the account's equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// OpenPositionSnapshot is the subset of an open position the gatekeeper
// needs: its current share of equity and its historical return series
// (used for pairwise correlation against the candidate instrument).
type OpenPositionSnapshot struct {
	Instrument      string
	EquityShare     float64
	DailyReturns    []float64
}

// Context is everything the gatekeeper needs about current portfolio state
// to evaluate one decision (§4.2).
type Context struct {
	RecentPerformance []float64 // recent daily returns, most recent last
	CurrentHoldings   map[string]float64 // instrument -> equity share
	OpenPositions     []OpenPositionSnapshot
	EquityCurve       []EquityPoint
	InitialBalance    float64
	Timestamp         string // raw, parsed per ClockMode
	AssetClass        model.AssetClass
	CandidateReturns  []float64 // candidate instrument's historical daily returns, for correlation
}

// Reason codes returned alongside approved=false.
const (
	ReasonMarketClosed        = "market_hours_closed"
	ReasonReplayTimestamp     = "replay_timestamp_unparseable"
	ReasonMaxDrawdown         = "max_drawdown_exceeded"
	ReasonDailyVaR            = "daily_var_exceeded"
	ReasonConcentration       = "position_concentration_exceeded"
	ReasonCorrelation         = "correlation_limit_exceeded"
	ReasonConfidenceFloor     = "confidence_below_threshold"
	ReasonAssetClassEscaped   = "asset_class_not_canonical"
)

// Gatekeeper runs the seven ordered checks. It is stateless: every field is
// configuration, never mutated after construction, so one instance is safe
// to share across concurrent Validate calls.
type Gatekeeper struct {
	cfg Config
}

// New constructs a Gatekeeper with cfg; zero-value fields fall back to
// DefaultConfig's values field-by-field is deliberately NOT done — callers
// must supply a complete Config, matching the core's "config is an
// immutable value built once at construction" convention (SPEC_FULL §9).
func New(cfg Config) *Gatekeeper {
	return &Gatekeeper{cfg: cfg}
}

// Validate runs the seven checks in order, short-circuiting on the first
// failure. mode discriminates live vs. replay clock handling for check 1.
func (g *Gatekeeper) Validate(decision model.TradeDecision, ctx Context, mode ports.ClockMode) (approved bool, reason string, err error) {
	if ok, reason := g.checkMarketHours(ctx, mode); !ok {
		if reason == ReasonReplayTimestamp {
			return false, reason, &errs.ReplayTimestampError{Raw: ctx.Timestamp}
		}
		return false, reason, nil
	}

	if ok, reason := g.checkMaxDrawdown(ctx); !ok {
		return false, reason, nil
	}

	if ok, reason := g.checkDailyVaR(ctx); !ok {
		return false, reason, nil
	}

	if ok, reason := g.checkConcentration(decision, ctx); !ok {
		return false, reason, nil
	}

	if ok, reason := g.checkCorrelation(ctx); !ok {
		return false, reason, nil
	}

	if ok, reason := g.checkConfidenceFloor(decision); !ok {
		return false, reason, nil
	}

	if ok, reason := g.checkAssetClassSanity(ctx); !ok {
		return false, reason, nil
	}

	return true, "", nil
}

// checkMarketHours implements check 1. Equities/forex sessions are parsed
// from ctx.Timestamp; crypto trades continuously and always passes. In
// Replay mode an unparseable timestamp is a hard error (no wall-clock
// fallback is ever consulted); in Live mode it degrades to "assume open"
// with the caller expected to log the degradation.
func (g *Gatekeeper) checkMarketHours(ctx Context, mode ports.ClockMode) (bool, string) {
	if ctx.AssetClass == model.AssetClassCrypto {
		return true, ""
	}

	ts, err := time.Parse(time.RFC3339, ctx.Timestamp)
	if err != nil {
		if mode == ports.Replay {
			return false, ReasonReplayTimestamp
		}
		// Live mode: degrade to "assume open". The caller logs this.
		return true, ""
	}

	if !withinSession(ts, ctx.AssetClass) {
		return false, ReasonMarketClosed
	}
	return true, ""
}

// withinSession is a simplified session check: equities/forex trade
// Monday-Friday. A real adapter would consult an exchange calendar; the
// core only needs the discriminated-mode behavior above to be correct.
func withinSession(ts time.Time, class model.AssetClass) bool {
	weekday := ts.UTC().Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}

// checkMaxDrawdown implements check 2: running peak vs. current drawdown.
func (g *Gatekeeper) checkMaxDrawdown(ctx Context) (bool, string) {
	if len(ctx.EquityCurve) == 0 {
		return true, ""
	}
	peak := ctx.EquityCurve[0].Equity
	for _, p := range ctx.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
	}
	if peak <= 0 {
		return true, ""
	}
	current := ctx.EquityCurve[len(ctx.EquityCurve)-1].Equity
	drawdown := (peak - current) / peak
	if drawdown >= g.cfg.MaxDrawdown {
		return false, ReasonMaxDrawdown
	}
	return true, ""
}

// checkDailyVaR implements check 3: historical-simulation 95% one-day VaR
// against initial balance, following the reference platform's
// CalculateVaR convention (sorted historical returns, 5th percentile loss).
func (g *Gatekeeper) checkDailyVaR(ctx Context) (bool, string) {
	if len(ctx.RecentPerformance) < 2 || ctx.InitialBalance <= 0 {
		return true, ""
	}
	returns := append([]float64(nil), ctx.RecentPerformance...)
	sort.Float64s(returns)

	idx := int(math.Floor(0.05 * float64(len(returns))))
	if idx >= len(returns) {
		idx = len(returns) - 1
	}
	worstReturn := returns[idx]
	if worstReturn >= 0 {
		return true, "" // no historical loss tail to speak of
	}
	estimatedLossFraction := -worstReturn
	if estimatedLossFraction > g.cfg.MaxDrawdown*3 { // conservative VaR cap, independent of drawdown cap
		return false, ReasonDailyVaR
	}
	return true, ""
}

// checkConcentration implements check 4: would the proposed position push
// this instrument above the configured share of equity.
func (g *Gatekeeper) checkConcentration(decision model.TradeDecision, ctx Context) (bool, string) {
	if decision.RiskParameters == nil {
		return true, "" // signal-only: nothing to concentrate
	}
	existing := ctx.CurrentHoldings[decision.Instrument]
	projected := existing + decision.RiskParameters.RecommendedSize
	if projected > g.cfg.MaxPositionConcentration {
		return false, ReasonConcentration
	}
	return true, ""
}

// checkCorrelation implements check 5: pairwise correlation of the
// candidate against each already-open instrument's return series.
func (g *Gatekeeper) checkCorrelation(ctx Context) (bool, string) {
	if len(ctx.CandidateReturns) == 0 {
		return true, ""
	}
	correlated := 0
	for _, open := range ctx.OpenPositions {
		corr := pearsonCorrelation(ctx.CandidateReturns, open.DailyReturns)
		if math.Abs(corr) >= g.cfg.CorrelationCap {
			correlated++
		}
	}
	if correlated > g.cfg.MaxCorrelatedPositions {
		return false, ReasonCorrelation
	}
	return true, ""
}

// checkConfidenceFloor implements check 6.
func (g *Gatekeeper) checkConfidenceFloor(decision model.TradeDecision) (bool, string) {
	if decision.Confidence < g.cfg.ConfidenceThreshold {
		return false, ReasonConfidenceFloor
	}
	return true, ""
}

// checkAssetClassSanity implements check 7.
func (g *Gatekeeper) checkAssetClassSanity(ctx Context) (bool, string) {
	if !model.IsCanonicalAssetClass(ctx.AssetClass) {
		return false, ReasonAssetClassEscaped
	}
	return true, ""
}

// pearsonCorrelation computes Pearson's r over the overlapping prefix of a
// and b. Returns 0 for degenerate inputs (too short or zero variance),
// matching the reference platform's risk service convention of treating an
// indeterminate correlation as "no evidence of correlation" rather than an
// error.
func pearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[:n], b[:n]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
