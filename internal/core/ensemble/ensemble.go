// Package ensemble implements the Ensemble Decision Aggregator: parallel
// fan-out to N reasoning providers, dynamic weight renormalization over the
// providers that actually succeeded, a 4-tier progressive fallback, and
// confidence calibration.
//
// The weighted-voting core generalizes the reference platform's
// orchestrator calculateDecision (vote-score accumulation keyed by action,
// consensus-ratio confidence) from its fixed per-agent-type weight table
// into renormalization over an arbitrary configured weight map and success
// set.
package ensemble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
)

// Strategy selects which tier-1 method is applied when |A| >= 1.
type Strategy string

const (
	StrategyWeighted Strategy = "weighted"
	StrategyMajority Strategy = "majority"
	StrategyStacking Strategy = "stacking"
)

// ProviderSpec is one entry in the configured reasoner roster (§6
// ensemble.providers).
type ProviderSpec struct {
	Port   ports.ReasoningPort
	Weight float64
}

// Config controls aggregation behavior beyond the roster itself.
type Config struct {
	Strategy           Strategy
	PerProviderTimeout time.Duration // default 30s
	MinLocalProviders  int           // quorum threshold for the local-only penalty
	ConservativeFloor  float64       // HOLD confidence when all providers fail (e.g. 50)
	FallbackSentinels  []string      // reasoning text substrings that mark a response invalid
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategyWeighted,
		PerProviderTimeout: 30 * time.Second,
		MinLocalProviders:  0,
		ConservativeFloor:  50,
	}
}

// Aggregator runs aggregate() calls against a fixed Config; the provider
// roster and weights are supplied per call so the same Aggregator can be
// reused across cycles even as the configured weight map evolves between
// calls (see DESIGN.md open question 1).
type Aggregator struct {
	cfg Config
}

// New constructs an Aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

type providerOutcome struct {
	spec     ProviderSpec
	decision model.ProviderDecision
	err      error
	reason   model.FailureReason
}

// Aggregate queries every provider in parallel, renormalizes weights over
// the successful set, and applies the progressive fallback tiers to
// produce one EnsembleDecision.
func (a *Aggregator) Aggregate(ctx context.Context, prompt string, providers []ProviderSpec) model.EnsembleDecision {
	sorted := append([]ProviderSpec(nil), providers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Port.ID() < sorted[j].Port.ID() })

	outcomes := a.queryAll(ctx, prompt, sorted)

	originalWeights := make(map[string]float64, len(sorted))
	for _, p := range sorted {
		originalWeights[p.Port.ID()] = p.Weight
	}

	succeeded := make([]providerOutcome, 0, len(outcomes))
	failed := make(map[string]model.FailureReason)
	var queriedIDs, succeededIDs []string
	for _, o := range outcomes {
		queriedIDs = append(queriedIDs, o.spec.Port.ID())
		if o.err != nil {
			failed[o.spec.Port.ID()] = o.reason
			continue
		}
		succeeded = append(succeeded, o)
		succeededIDs = append(succeededIDs, o.spec.Port.ID())
	}

	renormalized := renormalize(sorted, succeeded)

	decision, tier := a.applyFallbackTiers(succeeded, renormalized)

	localSucceeded := 0
	for _, o := range succeeded {
		if o.spec.Port.IsLocal() {
			localSucceeded++
		}
	}
	quorumSatisfied := localSucceeded >= a.cfg.MinLocalProviders

	// The all-providers-failed conservative floor is already the final word;
	// calibration only makes sense when at least one real decision feeds it.
	if len(succeeded) > 0 {
		decision.Confidence = calibrateConfidence(decision.Confidence, len(succeeded), len(sorted), quorumSatisfied)
	}

	agreement := agreementScore(succeeded, decision.Action)

	decision.Metadata = model.EnsembleMetadata{
		ProvidersQueried:     queriedIDs,
		ProvidersSucceeded:   succeededIDs,
		ProvidersFailed:      failed,
		OriginalWeights:      originalWeights,
		RenormalizedWeights:  renormalized,
		FallbackTier:         tier,
		AgreementScore:       agreement,
		ConfidenceVariance:   confidenceVariance(succeeded),
		QuorumSatisfied:      quorumSatisfied,
		AllProvidersFailed:   len(succeeded) == 0,
		Timestamp:            time.Now(),
		PerProviderDecisions: rawDecisions(succeeded),
	}

	return decision
}

// queryAll fans out to every provider concurrently via errgroup, each with
// its own per-provider timeout derived from the parent context. Results are
// written into a preallocated, provider-id-ordered slice so aggregation
// never depends on completion order.
func (a *Aggregator) queryAll(ctx context.Context, prompt string, sorted []ProviderSpec) []providerOutcome {
	results := make([]providerOutcome, len(sorted))
	g, gctx := errgroup.WithContext(ctx)

	for i, spec := range sorted {
		i, spec := i, spec
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, a.cfg.PerProviderTimeout)
			defer cancel()

			decision, err := spec.Port.Query(callCtx, prompt)
			results[i] = a.classify(spec, decision, err, callCtx)
			return nil // provider failures never abort the group; they become metadata
		})
	}
	_ = g.Wait() // errors are never returned by the goroutines above; this only joins them

	return results
}

func (a *Aggregator) classify(spec ProviderSpec, decision model.ProviderDecision, err error, callCtx context.Context) providerOutcome {
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return providerOutcome{spec: spec, err: err, reason: model.FailureTimeout}
		}
		return providerOutcome{spec: spec, err: err, reason: model.FailureException}
	}

	if !model.ValidAction(decision.Action) || decision.Confidence < 0 || decision.Confidence > 100 {
		return providerOutcome{spec: spec, err: fmt.Errorf("invalid provider response"), reason: model.FailureInvalidResponse}
	}
	for _, sentinel := range a.cfg.FallbackSentinels {
		if sentinel != "" && strings.Contains(decision.Reasoning, sentinel) {
			return providerOutcome{spec: spec, err: fmt.Errorf("fallback sentinel in reasoning"), reason: model.FailureInvalidResponse}
		}
	}
	return providerOutcome{spec: spec, decision: decision}
}

// renormalize computes W'(p) over the successful set A, per §4.3. Returns
// zero for every provider not in A. If the configured weights of A sum to
// zero, falls back to equal weighting across A.
func renormalize(all []ProviderSpec, succeeded []providerOutcome) map[string]float64 {
	out := make(map[string]float64, len(all))
	for _, p := range all {
		out[p.Port.ID()] = 0
	}
	if len(succeeded) == 0 {
		return out
	}

	var sum float64
	for _, o := range succeeded {
		sum += o.spec.Weight
	}

	if sum == 0 {
		equal := 1.0 / float64(len(succeeded))
		for _, o := range succeeded {
			out[o.spec.Port.ID()] = equal
		}
		return out
	}

	for _, o := range succeeded {
		out[o.spec.Port.ID()] = o.spec.Weight / sum
	}
	return out
}

// applyFallbackTiers walks the progressive fallback table (§4.3) and
// returns the produced decision along with which tier was reached.
func (a *Aggregator) applyFallbackTiers(succeeded []providerOutcome, weights map[string]float64) (model.EnsembleDecision, model.FallbackTier) {
	n := len(succeeded)

	switch {
	case n == 0:
		return model.EnsembleDecision{
			Action:     model.ActionHold,
			Confidence: a.cfg.ConservativeFloor,
			Reasoning:  "all providers failed; defaulting to HOLD",
		}, model.TierRuleBased

	case n == 1:
		o := succeeded[0]
		return model.EnsembleDecision{
			Action:          o.decision.Action,
			Confidence:      o.decision.Confidence,
			Reasoning:       o.decision.Reasoning,
			SuggestedAmount: o.decision.SuggestedAmount,
		}, model.TierSingleProvider

	default:
		if a.cfg.Strategy != "" {
			switch a.cfg.Strategy {
			case StrategyMajority:
				return a.majorityVote(succeeded, weights), model.TierStrategyPrimary
			default: // weighted, stacking (no distinct meta-model specified; falls back to weighted voting)
				return a.weightedVote(succeeded, weights), model.TierStrategyPrimary
			}
		}
		return a.majorityVote(succeeded, weights), model.TierMajority
	}
}

// weightedVote implements tier 1 for strategy=weighted and is also reused
// as tier 3's "simple average" method, which is the same per-action
// weighted sum with argmax — the spec's tier 3 is tier-1-weighted without a
// configured strategy gate.
func (a *Aggregator) weightedVote(succeeded []providerOutcome, weights map[string]float64) model.EnsembleDecision {
	scores := map[model.Action]float64{}
	for _, o := range succeeded {
		scores[o.decision.Action] += weights[o.spec.Port.ID()]
	}

	winner := argmaxAction(scores)

	var confSum, confWeight float64
	var reasonParts []string
	for _, o := range succeeded {
		if o.decision.Action == winner {
			confSum += o.decision.Confidence
			confWeight++
			reasonParts = append(reasonParts, fmt.Sprintf("[%s] %s", o.spec.Port.ID(), o.decision.Reasoning))
		}
	}
	confidence := 0.0
	if confWeight > 0 {
		confidence = confSum / confWeight
	}

	return model.EnsembleDecision{
		Action:     winner,
		Confidence: confidence,
		Reasoning:  strings.Join(reasonParts, " | "),
	}
}

// majorityVote implements tier 2: mode of actions, ties broken by highest
// summed renormalized weight.
func (a *Aggregator) majorityVote(succeeded []providerOutcome, weights map[string]float64) model.EnsembleDecision {
	counts := map[model.Action]int{}
	weightSums := map[model.Action]float64{}
	for _, o := range succeeded {
		counts[o.decision.Action]++
		weightSums[o.decision.Action] += weights[o.spec.Port.ID()]
	}

	var winner model.Action
	bestCount := -1
	bestWeight := -1.0
	for action, count := range counts {
		if count > bestCount || (count == bestCount && weightSums[action] > bestWeight) {
			winner = action
			bestCount = count
			bestWeight = weightSums[action]
		}
	}

	var confSum, confWeight float64
	for _, o := range succeeded {
		if o.decision.Action == winner {
			confSum += o.decision.Confidence
			confWeight++
		}
	}
	confidence := 0.0
	if confWeight > 0 {
		confidence = confSum / confWeight
	}

	return model.EnsembleDecision{Action: winner, Confidence: confidence}
}

func argmaxAction(scores map[model.Action]float64) model.Action {
	// Deterministic tie-break: iterate in a fixed action order rather than
	// map iteration order.
	order := []model.Action{model.ActionBuy, model.ActionSell, model.ActionHold}
	best := model.ActionHold
	bestScore := -1.0
	for _, action := range order {
		if s, ok := scores[action]; ok && s > bestScore {
			best = action
			bestScore = s
		}
	}
	return best
}

// calibrateConfidence applies factor = 0.7 + 0.3*(|A|/|providers|), with a
// further 0.7x penalty when the local-quorum policy is unsatisfied.
func calibrateConfidence(raw float64, succeededCount, totalCount int, quorumSatisfied bool) float64 {
	if totalCount == 0 {
		return raw
	}
	factor := 0.7 + 0.3*(float64(succeededCount)/float64(totalCount))
	calibrated := raw * factor
	if !quorumSatisfied {
		calibrated *= 0.7
	}
	return calibrated
}

// agreementScore is |winners|/|A|.
func agreementScore(succeeded []providerOutcome, winningAction model.Action) float64 {
	if len(succeeded) == 0 {
		return 0
	}
	winners := 0
	for _, o := range succeeded {
		if o.decision.Action == winningAction {
			winners++
		}
	}
	return float64(winners) / float64(len(succeeded))
}

func confidenceVariance(succeeded []providerOutcome) float64 {
	n := len(succeeded)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, o := range succeeded {
		sum += o.decision.Confidence
	}
	mean := sum / float64(n)

	var variance float64
	for _, o := range succeeded {
		d := o.decision.Confidence - mean
		variance += d * d
	}
	return variance / float64(n)
}

func rawDecisions(succeeded []providerOutcome) []model.ProviderDecision {
	out := make([]model.ProviderDecision, 0, len(succeeded))
	for _, o := range succeeded {
		out = append(out, o.decision)
	}
	return out
}
