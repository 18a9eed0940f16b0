package tools

import (
	"context"
	"encoding/json"

	"deepagent/internal/chat"
)

type ListTool struct{}

func NewListTool() *ListTool {
	return &ListTool{}
}

func (t *ListTool) Name() string {
	return "ls"
}

func (t *ListTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "List the entries directly under a directory. Directories end with '/'. Defaults to the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
			},
		},
	}
}

func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	st, err := activeSession(ctx, t.Name())
	if err != nil {
		return "", err
	}
	entries, err := st.Store.List(in.Path)
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":      true,
		"path":    in.Path,
		"entries": entries,
	}), nil
}
