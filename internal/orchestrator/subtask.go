package orchestrator

import (
	"context"
	"fmt"

	"deepagent/internal/delegate"
	"deepagent/internal/session"
)

var _ delegate.Runner = (*Orchestrator)(nil)

// RunChild drives a delegated session with the child agent's own catalogue,
// prompt and model. It shares the gate, so a child is asked about anything its
// read-only view of the parent's approvals does not cover.
func (o *Orchestrator) RunChild(ctx context.Context, child *session.State, agent delegate.Agent) error {
	if agent.Tools == nil {
		return fmt.Errorf("subagent %s has no tool registry", agent.Spec.Name)
	}
	_, err := o.run(ctx, child, agent, outputFrom(ctx))
	return err
}
