package orchestrator

import (
	"context"
	"fmt"

	"github.com/quantloop/tradecore/internal/core/ensemble"
	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
)

// signalProvider adapts one already-received AgentSignal into a
// ports.ReasoningPort: Query never actually calls out anywhere, it just
// hands back the signal the agent already pushed over NATS. This lets the
// orchestrator's push-based signal buffer reuse the Ensemble Decision
// Aggregator's renormalization and progressive-fallback logic instead of a
// second, separately-maintained voting implementation.
type signalProvider struct {
	signal *AgentSignal
}

func (p *signalProvider) ID() string    { return p.signal.AgentName }
func (p *signalProvider) IsLocal() bool { return true } // NATS-connected agents are all local to this deployment

func (p *signalProvider) Query(ctx context.Context, prompt string) (model.ProviderDecision, error) {
	action := model.Action(p.signal.Signal)
	if !model.ValidAction(action) {
		return model.ProviderDecision{}, fmt.Errorf("orchestrator: agent %s sent unrecognized signal %q", p.signal.AgentName, p.signal.Signal)
	}
	return model.ProviderDecision{
		Action:     action,
		Confidence: p.signal.Confidence * 100, // AgentSignal is 0..1, model.ProviderDecision is 0..100
		Reasoning:  p.signal.Reasoning,
		ProviderID: p.signal.AgentName,
	}, nil
}

// buildProviders turns ctx.Signals into the Ensemble Aggregator's roster,
// one entry per signal whose originating agent is still enabled, weighted
// by that agent's configured voting weight.
func (o *Orchestrator) buildProviders(signals []*AgentSignal) []ensemble.ProviderSpec {
	o.agentsMutex.RLock()
	defer o.agentsMutex.RUnlock()

	specs := make([]ensemble.ProviderSpec, 0, len(signals))
	for _, signal := range signals {
		session, exists := o.agents[signal.AgentName]
		if !exists || !session.Enabled {
			continue
		}
		specs = append(specs, ensemble.ProviderSpec{Port: &signalProvider{signal: signal}, Weight: session.Weight})
	}
	return specs
}

var _ ports.ReasoningPort = (*signalProvider)(nil)
