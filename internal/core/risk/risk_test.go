package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/quantloop/tradecore/internal/core/errs"
	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
)

func baseDecision() model.TradeDecision {
	return model.TradeDecision{
		EnsembleDecision: model.EnsembleDecision{Action: model.ActionBuy, Confidence: 80},
		Instrument:       "BTCUSD",
		RiskParameters:   &model.RiskParameters{RecommendedSize: 0.1},
	}
}

func baseContext() Context {
	return Context{
		RecentPerformance: []float64{0.01, -0.01, 0.02},
		CurrentHoldings:   map[string]float64{},
		EquityCurve: []EquityPoint{
			{Timestamp: time.Now().Add(-2 * time.Hour), Equity: 1000},
			{Timestamp: time.Now().Add(-time.Hour), Equity: 1010},
			{Timestamp: time.Now(), Equity: 1005},
		},
		InitialBalance: 1000,
		Timestamp:      time.Now().Format(time.RFC3339),
		AssetClass:     model.AssetClassCrypto,
	}
}

func TestValidateApprovesCleanDecision(t *testing.T) {
	g := New(DefaultConfig())
	approved, reason, err := g.Validate(baseDecision(), baseContext(), ports.Live)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approved {
		t.Fatalf("expected approval, got rejection with reason %q", reason)
	}
}

func TestMaxDrawdownRejects(t *testing.T) {
	g := New(DefaultConfig())
	ctx := baseContext()
	ctx.EquityCurve = []EquityPoint{
		{Equity: 1000},
		{Equity: 940}, // 6% drawdown > 5% cap
	}
	approved, reason, _ := g.Validate(baseDecision(), ctx, ports.Live)
	if approved || reason != ReasonMaxDrawdown {
		t.Fatalf("expected max_drawdown rejection, got approved=%v reason=%q", approved, reason)
	}
}

func TestConcentrationRejects(t *testing.T) {
	g := New(DefaultConfig())
	ctx := baseContext()
	ctx.CurrentHoldings["BTCUSD"] = 0.2
	decision := baseDecision()
	decision.RiskParameters.RecommendedSize = 0.1 // 0.2 + 0.1 > 0.25 cap
	approved, reason, _ := g.Validate(decision, ctx, ports.Live)
	if approved || reason != ReasonConcentration {
		t.Fatalf("expected concentration rejection, got approved=%v reason=%q", approved, reason)
	}
}

func TestCorrelationRejectsWhenTooManyCorrelatedPositions(t *testing.T) {
	g := New(DefaultConfig())
	ctx := baseContext()
	ctx.CandidateReturns = []float64{1, 2, 3, 4, 5}
	correlatedSeries := []float64{1, 2, 3, 4, 5} // perfectly correlated
	ctx.OpenPositions = []OpenPositionSnapshot{
		{Instrument: "A", DailyReturns: correlatedSeries},
		{Instrument: "B", DailyReturns: correlatedSeries},
		{Instrument: "C", DailyReturns: correlatedSeries},
	}
	approved, reason, _ := g.Validate(baseDecision(), ctx, ports.Live)
	if approved || reason != ReasonCorrelation {
		t.Fatalf("expected correlation rejection, got approved=%v reason=%q", approved, reason)
	}
}

func TestConfidenceFloorRejects(t *testing.T) {
	g := New(DefaultConfig())
	decision := baseDecision()
	decision.Confidence = 40
	approved, reason, _ := g.Validate(decision, baseContext(), ports.Live)
	if approved || reason != ReasonConfidenceFloor {
		t.Fatalf("expected confidence_below_threshold rejection, got approved=%v reason=%q", approved, reason)
	}
}

func TestAssetClassSanityRejectsEscapedClass(t *testing.T) {
	g := New(DefaultConfig())
	ctx := baseContext()
	ctx.AssetClass = model.AssetClass("nonsense") // simulates an escaped, non-canonicalized value
	approved, reason, _ := g.Validate(baseDecision(), ctx, ports.Live)
	if approved || reason != ReasonAssetClassEscaped {
		t.Fatalf("expected asset_class_not_canonical rejection, got approved=%v reason=%q", approved, reason)
	}
}

func TestReplayModeUnparseableTimestampIsHardError(t *testing.T) {
	g := New(DefaultConfig())
	ctx := baseContext()
	ctx.AssetClass = model.AssetClassForex
	ctx.Timestamp = "not-a-timestamp"

	approved, _, err := g.Validate(baseDecision(), ctx, ports.Replay)
	if approved {
		t.Fatal("expected rejection for unparseable replay timestamp")
	}
	var replayErr *errs.ReplayTimestampError
	if !errors.As(err, &replayErr) {
		t.Fatalf("expected ReplayTimestampError, got %v", err)
	}
}

func TestLiveModeUnparseableTimestampDegrades(t *testing.T) {
	g := New(DefaultConfig())
	ctx := baseContext()
	ctx.AssetClass = model.AssetClassForex
	ctx.Timestamp = "not-a-timestamp"

	approved, reason, err := g.Validate(baseDecision(), ctx, ports.Live)
	if err != nil {
		t.Fatalf("live mode must never error on unparseable timestamp, got %v", err)
	}
	if !approved {
		t.Fatalf("live mode should degrade to assume-open, got rejection %q", reason)
	}
}

func TestPearsonCorrelationDegenerateInputsReturnZero(t *testing.T) {
	if got := pearsonCorrelation(nil, []float64{1, 2}); got != 0 {
		t.Fatalf("expected 0 for short input, got %v", got)
	}
	if got := pearsonCorrelation([]float64{1, 1, 1}, []float64{2, 2, 2}); got != 0 {
		t.Fatalf("expected 0 for zero-variance input, got %v", got)
	}
}
