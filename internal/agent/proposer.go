package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentops/relay/internal/domain/deploy"
)

// FixProposer asks the delegate for a remediation plan when a deployment is
// unhealthy. It satisfies the monitor stage's Proposer interface.
type FixProposer struct {
	delegate *Delegate
}

// NewFixProposer wraps a delegate as a remediation proposer.
func NewFixProposer(d *Delegate) *FixProposer {
	return &FixProposer{delegate: d}
}

// Propose serializes the run context into the task and expects a
// {"proposal": {"summary", "steps"}} delta back.
func (p *FixProposer) Propose(ctx context.Context, c deploy.Context) (map[string]any, error) {
	snapshot, err := json.Marshal(map[string]any(c))
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	task := "Given the context (dependency notes, test failures, outputs), propose a concise remediation plan. " +
		`Return JSON {"proposal": {"summary": string, "steps": [string]}}. Keep it minimal.` +
		"\n\nContext: " + string(snapshot)

	return p.delegate.Invoke(ctx, task, nil)
}
