package delegate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deepagent/internal/session"
	"deepagent/internal/toolerr"
)

// Runner drives a child session until it produces a final answer.
type Runner interface {
	RunChild(ctx context.Context, child *session.State, agent Agent) error
}

type Engine struct {
	registry *Registry
	runner   Runner
	timeout  time.Duration
	log      *zap.Logger
}

type EngineOptions struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

func NewEngine(registry *Registry, runner Runner, opts EngineOptions) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{registry: registry, runner: runner, timeout: opts.Timeout, log: log}
}

// Delegate runs description as an isolated child session of parent and returns
// the child's final message. Only the paths the child changed are merged back.
// A failed or timed-out child leaves parent untouched.
func (e *Engine) Delegate(ctx context.Context, parent *session.State, description, agentType string) (string, error) {
	agentType = strings.TrimSpace(agentType)
	agent, ok := e.registry.Lookup(agentType)
	if !ok {
		return "", &toolerr.Error{
			Kind: toolerr.KindUnknownAgentType,
			Op:   "task",
			Msg: fmt.Sprintf("invoked agent of type %s, the only allowed types are [%s]",
				agentType, strings.Join(e.registry.Names(), ", ")),
		}
	}
	if strings.TrimSpace(description) == "" {
		return "", toolerr.New(toolerr.KindInvalidArgument, "task", "description is required")
	}
	if e.runner == nil {
		return "", errors.New("delegate: runner unavailable")
	}

	child := parent.Fork("sub_"+uuid.NewString(), agent.Spec.Name, description)
	log := e.log.With(
		zap.String("parent", parent.ID),
		zap.String("child", child.ID),
		zap.String("agent", agent.Spec.Name),
	)
	log.Info("delegate start")

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.runner.RunChild(runCtx, child, agent); err != nil {
		child.Discard()
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("delegate timed out", zap.Duration("timeout", e.timeout))
			return "", &toolerr.Error{Kind: toolerr.KindTimeout, Op: "task", Msg: fmt.Sprintf("subagent %s timed out", agent.Spec.Name), Err: err}
		}
		log.Warn("delegate failed", zap.Error(err))
		return "", fmt.Errorf("subagent %s: %w", agent.Spec.Name, err)
	}

	merged := parent.MergeChild(child)
	log.Info("delegate merged", zap.Strings("paths", merged))

	final := child.LastAssistant()
	if strings.TrimSpace(final) == "" {
		final = "subagent finished with no text output"
	}
	return final, nil
}
