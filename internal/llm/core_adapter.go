package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
)

// decisionResponse is the JSON shape every agent-type prompt asks its model
// to reply with; ParseJSONResponse handles the markdown-fence/prose
// stripping the raw completion may still be wrapped in.
type decisionResponse struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// CoreReasoningPort adapts one LLMClient (Client or FallbackClient) into the
// Agent Loop's ports.ReasoningPort: Query wraps the caller's prompt in the
// agent type's system prompt and parses the model's JSON reply back into a
// model.ProviderDecision.
type CoreReasoningPort struct {
	client    LLMClient
	id        string
	local     bool
	agentType AgentType
}

// NewCoreReasoningPort wires an LLMClient into a ports.ReasoningPort. local
// marks whether this provider counts toward the Ensemble Aggregator's
// local-quorum policy (see risk.DefaultConfig's MinLocalProviders).
func NewCoreReasoningPort(client LLMClient, id string, local bool, agentType AgentType) *CoreReasoningPort {
	return &CoreReasoningPort{client: client, id: id, local: local, agentType: agentType}
}

func (p *CoreReasoningPort) ID() string    { return p.id }
func (p *CoreReasoningPort) IsLocal() bool { return p.local }

func (p *CoreReasoningPort) Query(ctx context.Context, prompt string) (model.ProviderDecision, error) {
	pb := NewPromptBuilder(p.agentType)
	content, err := p.client.CompleteWithSystem(ctx, pb.GetSystemPrompt(), prompt)
	if err != nil {
		return model.ProviderDecision{}, fmt.Errorf("llm: provider %s: %w", p.id, err)
	}

	var resp decisionResponse
	if err := p.client.ParseJSONResponse(content, &resp); err != nil {
		return model.ProviderDecision{}, fmt.Errorf("llm: provider %s: parse response: %w", p.id, err)
	}

	action := model.Action(strings.ToUpper(strings.TrimSpace(resp.Action)))
	if !model.ValidAction(action) {
		return model.ProviderDecision{}, fmt.Errorf("llm: provider %s returned unrecognized action %q", p.id, resp.Action)
	}

	return model.ProviderDecision{
		Action:     action,
		Confidence: resp.Confidence,
		Reasoning:  resp.Reasoning,
		ProviderID: p.id,
	}, nil
}

var _ ports.ReasoningPort = (*CoreReasoningPort)(nil)
