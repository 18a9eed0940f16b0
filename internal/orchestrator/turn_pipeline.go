package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deepagent/internal/approval"
	"deepagent/internal/chat"
	"deepagent/internal/delegate"
	"deepagent/internal/session"
	"deepagent/internal/toolerr"
	"deepagent/internal/tools"
)

// executeToolCalls gates one batch of proposed calls, runs the approved ones in
// proposal order and appends one tool message per call. Runs of consecutive
// task calls are delegated concurrently.
func (o *Orchestrator) executeToolCalls(
	ctx context.Context,
	st *session.State,
	ag delegate.Agent,
	calls []chat.ToolCall,
	out io.Writer,
) error {
	results := make([]string, len(calls))
	actions := make([]approval.Action, 0, len(calls))
	for i, call := range calls {
		name := call.Function.Name
		o.toolStarted(out, st, ag, name, formatToolStart(name, call.Function.Arguments))
		if !ag.Tools.Has(name) {
			err := toolerr.Newf(toolerr.KindInvalidArgument, name, "tool %s is not available to agent %s", name, ag.Spec.Name)
			results[i] = tools.ErrorResult(err)
			o.toolFailed(out, st, ag, name, err)
			continue
		}
		actions = append(actions, approval.Action{
			ID:   strconv.Itoa(i),
			Kind: name,
			Args: rawArgs(call.Function.Arguments),
		})
	}

	outcome, err := o.review(ctx, st, ag, actions)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !toolerr.Recoverable(err) {
			return fmt.Errorf("approval review: %w", err)
		}
		// 审批超时：整批按失败返回，缓存不变
		for _, a := range actions {
			results[actionIndex(a)] = tools.ErrorResult(err)
			o.toolFailed(out, st, ag, a.Kind, err)
		}
		outcome = approval.Outcome{}
	}

	for _, a := range outcome.Rejected {
		err := toolerr.Newf(toolerr.KindRejected, a.Kind, "%s was rejected by the user", a.Kind)
		results[actionIndex(a)] = tools.ErrorResult(err)
		o.toolBlocked(out, st, ag, a.Kind)
	}

	approved := outcome.Approved
	for j := 0; j < len(approved); {
		if approved[j].Kind != tools.TaskToolName {
			res, err := o.runAction(ctx, st, ag, approved[j], out)
			if err != nil {
				return err
			}
			results[actionIndex(approved[j])] = res
			j++
			continue
		}
		k := j
		for k < len(approved) && approved[k].Kind == tools.TaskToolName {
			k++
		}
		if err := o.runConcurrent(ctx, st, ag, approved[j:k], results, out); err != nil {
			return err
		}
		j = k
	}

	msgs := make([]chat.Message, 0, len(calls))
	for i, call := range calls {
		msgs = append(msgs, chat.Message{
			Role:       chat.RoleTool,
			Name:       call.Function.Name,
			ToolCallID: call.ID,
			Content:    results[i],
		})
	}
	st.Append(msgs...)
	return nil
}

func (o *Orchestrator) review(ctx context.Context, st *session.State, ag delegate.Agent, actions []approval.Action) (approval.Outcome, error) {
	if len(actions) == 0 {
		return approval.Outcome{}, nil
	}
	if o.gate == nil {
		return approval.Outcome{Approved: actions}, nil
	}
	return o.gate.Review(ctx, st.Approvals, actions)
}

func (o *Orchestrator) runConcurrent(
	ctx context.Context,
	st *session.State,
	ag delegate.Agent,
	batch []approval.Action,
	results []string,
	out io.Writer,
) error {
	if len(batch) == 1 {
		res, err := o.runAction(ctx, st, ag, batch[0], out)
		if err != nil {
			return err
		}
		results[actionIndex(batch[0])] = res
		return nil
	}
	o.log.Debug("delegating concurrently", zap.String("session", st.ID), zap.Int("tasks", len(batch)))
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range batch {
		g.Go(func() error {
			res, err := o.runAction(gctx, st, ag, a, out)
			if err != nil {
				return err
			}
			results[actionIndex(a)] = res
			return nil
		})
	}
	return g.Wait()
}

// runAction executes one approved call. Classified failures become error
// results; anything else aborts the step. A failed delegation never aborts the
// parent, since the child's changes were already dropped.
func (o *Orchestrator) runAction(ctx context.Context, st *session.State, ag delegate.Agent, a approval.Action, out io.Writer) (string, error) {
	result, err := ag.Tools.Execute(ctx, a.Kind, a.Args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !toolerr.Recoverable(err) && a.Kind != tools.TaskToolName {
			return "", fmt.Errorf("%s: %w", a.Kind, err)
		}
		if toolerr.Is(err, toolerr.KindTimeout) {
			o.log.Warn("tool timed out", zap.String("session", st.ID), zap.String("tool", a.Kind), zap.Error(err))
		}
		o.toolFailed(out, st, ag, a.Kind, err)
		return tools.ErrorResult(err), nil
	}
	if o.toolResultTokenLimit > 0 {
		if cut, truncated := o.tokenizer.Truncate(result, o.toolResultTokenLimit); truncated {
			o.log.Debug("tool result truncated", zap.String("tool", a.Kind), zap.Int("limit", o.toolResultTokenLimit))
			result = cut
		}
	}
	o.toolFinished(out, st, ag, a.Kind, summarizeToolResult(a.Kind, result))
	if a.Kind == tools.TodoToolName && st.Depth == 0 && o.onTodoUpdate != nil {
		if items := todoItemsFromResult(result); items != nil {
			o.onTodoUpdate(items)
		}
	}
	return result, nil
}

func actionIndex(a approval.Action) int {
	i, _ := strconv.Atoi(a.ID)
	return i
}

// rawArgs hands the model's argument string to the gate and the tool as is;
// an empty string becomes an empty object.
func rawArgs(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

func (o *Orchestrator) toolStarted(out io.Writer, st *session.State, ag delegate.Agent, name, summary string) {
	if out != nil {
		renderToolStart(out, agentLabel(st, ag)+summary)
	}
	o.emitToolEvent(ag.Spec.Name, name, summary, false)
}

func (o *Orchestrator) toolFinished(out io.Writer, st *session.State, ag delegate.Agent, name, summary string) {
	if out != nil {
		renderToolResult(out, agentLabel(st, ag)+summary)
	}
	o.emitToolEvent(ag.Spec.Name, name, summary, true)
}

func (o *Orchestrator) toolFailed(out io.Writer, st *session.State, ag delegate.Agent, name string, err error) {
	msg := summarizeForLog(err.Error())
	if out != nil {
		renderToolError(out, agentLabel(st, ag)+msg)
	}
	o.emitToolEvent(ag.Spec.Name, name, msg, true)
}

func (o *Orchestrator) toolBlocked(out io.Writer, st *session.State, ag delegate.Agent, name string) {
	if out != nil {
		renderToolBlocked(out, agentLabel(st, ag)+name+" rejected")
	}
	o.emitToolEvent(ag.Spec.Name, name, "rejected", true)
}

// emitToolEvent serialises callbacks; concurrent children share them.
func (o *Orchestrator) emitToolEvent(agent, name, summary string, done bool) {
	if o.onToolEvent == nil {
		return
	}
	o.eventMu.Lock()
	defer o.eventMu.Unlock()
	o.onToolEvent(agent, name, summary, done)
}

func agentLabel(st *session.State, ag delegate.Agent) string {
	if st.Depth == 0 {
		return ""
	}
	return "[" + ag.Spec.Name + "] "
}
