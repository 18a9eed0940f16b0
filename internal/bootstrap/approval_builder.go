package bootstrap

import (
	"time"

	"go.uber.org/zap"

	"deepagent/internal/approval"
	"deepagent/internal/config"
	"deepagent/internal/tools"
)

// buildGate 构建审批闸门
// buildGate wires the approval gate. With approval.interactive off, or without
// a prompter (no terminal), every gated action is rejected. Risky execute calls
// are asked about every time regardless of the cache.
func buildGate(
	cfg config.Config,
	root string,
	prompter approval.Prompter,
	journal approval.Journal,
	all *tools.Registry,
	log *zap.Logger,
) *approval.Gate {
	if !cfg.Approval.Interactive {
		prompter = nil
	}
	return approval.NewGate(approval.Options{
		GatedKinds: cfg.Approval.GatedTools,
		Root:       root,
		Prompter:   prompter,
		Timeout:    time.Duration(cfg.Approval.PromptTimeoutMS) * time.Millisecond,
		Journal:    journal,
		Logger:     log,
		Risk: func(a approval.Action) string {
			return all.Risk(a.Kind, a.Args)
		},
	})
}
