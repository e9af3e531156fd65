package model

import "time"

// Action is the closed set of trading actions a provider or ensemble may
// return.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ValidAction reports whether a is one of the three recognized actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	default:
		return false
	}
}

// PositionType mirrors Action but for an opened position's directionality;
// nil (no value) means the decision carries no position (e.g. HOLD).
type PositionType string

const (
	PositionLong  PositionType = "LONG"
	PositionShort PositionType = "SHORT"
)

// ProviderDecision is one reasoning provider's raw response to a prompt.
type ProviderDecision struct {
	Action       Action
	Confidence   float64 // 0..100
	Reasoning    string
	SuggestedAmount *float64
	ProviderID   string
	LatencyMs    int64
}

// FailureReason enumerates why a provider's call was excluded from the
// active set A.
type FailureReason string

const (
	FailureTimeout          FailureReason = "timeout"
	FailureException        FailureReason = "exception"
	FailureInvalidResponse  FailureReason = "invalid_response"
	FailureCircuitOpen      FailureReason = "circuit_open"
)

// EnsembleMetadata records everything about how an EnsembleDecision was
// produced, for audit, testing, and prompt-context purposes.
type EnsembleMetadata struct {
	ProvidersQueried       []string
	ProvidersSucceeded     []string
	ProvidersFailed        map[string]FailureReason
	OriginalWeights        map[string]float64
	RenormalizedWeights    map[string]float64
	FallbackTier           FallbackTier
	AgreementScore         float64
	ConfidenceVariance     float64
	QuorumSatisfied        bool
	AllProvidersFailed     bool
	Timestamp              time.Time
	PerProviderDecisions   []ProviderDecision
}

// FallbackTier names which progressive-fallback tier produced the result.
type FallbackTier string

const (
	TierStrategyPrimary FallbackTier = "strategy_primary"
	TierMajority        FallbackTier = "majority"
	TierSimpleAverage   FallbackTier = "simple_average"
	TierSingleProvider  FallbackTier = "single_provider"
	TierRuleBased       FallbackTier = "rule_based"
)

// EnsembleDecision is the aggregator's output: one action with calibrated
// confidence and full provenance in Metadata.
type EnsembleDecision struct {
	Action          Action
	Confidence      float64
	Reasoning       string
	SuggestedAmount *float64
	Metadata        EnsembleMetadata
}

// RiskParameters are populated only when the decision is sized (signal_only
// is false).
type RiskParameters struct {
	StopLossFraction float64
	RiskFraction     float64
	RecommendedSize  float64
}

// TradeDecision augments an EnsembleDecision with execution-relevant fields.
type TradeDecision struct {
	EnsembleDecision

	DecisionID          string // UUID
	Instrument          string
	EntryPriceReference float64
	PositionType        *PositionType
	SignalOnly          bool
	RiskParameters      *RiskParameters
}

// Validate checks the signal_only <=> nil-risk-fields invariant (§3).
func (d TradeDecision) Validate() error {
	if d.SignalOnly && d.RiskParameters != nil {
		return errInvariant("signal_only decision carries non-nil risk parameters")
	}
	if !d.SignalOnly && d.RiskParameters == nil {
		return errInvariant("sized decision is missing risk parameters")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
