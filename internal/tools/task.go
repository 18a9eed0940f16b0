package tools

import (
	"context"
	"encoding/json"
	"strings"

	"deepagent/internal/chat"
	"deepagent/internal/session"
	"deepagent/internal/toolerr"
)

const (
	TaskToolName = "task"
	TodoToolName = "write_todos"
)

// Delegator runs a sub-agent on behalf of the active session.
type Delegator interface {
	Delegate(ctx context.Context, parent *session.State, description, agentType string) (string, error)
}

type TaskTool struct {
	delegator Delegator
	catalogue string
}

func NewTaskTool(d Delegator) *TaskTool {
	return &TaskTool{delegator: d}
}

// SetDelegator wires the engine after construction; the engine's registry is
// built from the same tools this one lives in.
func (t *TaskTool) SetDelegator(d Delegator) {
	t.delegator = d
}

// SetCatalogue sets the "- name: description" list of available agents shown
// to the model.
func (t *TaskTool) SetCatalogue(c string) {
	t.catalogue = c
}

func (t *TaskTool) Name() string {
	return TaskToolName
}

func (t *TaskTool) Definition() chat.ToolDef {
	desc := "Launch a sub-agent to handle a complex, multi-step task in isolation and return its final answer. " +
		"The sub-agent sees only the description you give it, so make it self-contained. " +
		"Several task calls in one response run in parallel."
	if t.catalogue != "" {
		desc += "\n\nAvailable agent types:\n" + t.catalogue
	}
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: desc,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description":   map[string]any{"type": "string"},
					"subagent_type": map[string]any{"type": "string"},
				},
				"required": []string{"description", "subagent_type"},
			},
		},
	}
}

func (t *TaskTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if t.delegator == nil {
		return "", toolerr.New(toolerr.KindInternal, t.Name(), "task runner unavailable")
	}
	var in struct {
		Description  string `json:"description"`
		SubagentType string `json:"subagent_type"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Description) == "" {
		return "", toolerr.New(toolerr.KindInvalidArgument, t.Name(), "description is required")
	}
	st, err := activeSession(ctx, t.Name())
	if err != nil {
		return "", err
	}
	final, err := t.delegator.Delegate(ctx, st, in.Description, in.SubagentType)
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":            true,
		"subagent_type": in.SubagentType,
		"result":        final,
	}), nil
}
