package tools

import (
	"context"
	"encoding/json"

	"deepagent/internal/chat"
	"deepagent/internal/todo"
)

type TodoWriteTool struct{}

func NewTodoWriteTool() *TodoWriteTool {
	return &TodoWriteTool{}
}

func (t *TodoWriteTool) Name() string {
	return TodoToolName
}

func (t *TodoWriteTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name: t.Name(),
			Description: "Replace the whole todo list. Use it to plan multi-step work and mark items completed as soon as they are done. " +
				"Send every item each time; the previous list is discarded.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"todos": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"content": map[string]any{"type": "string"},
								"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
							},
							"required": []string{"content", "status"},
						},
					},
				},
				"required": []string{"todos"},
			},
		},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Todos []todo.Item `json:"todos"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	st, err := activeSession(ctx, t.Name())
	if err != nil {
		return "", err
	}
	msg, err := st.Todos.Replace(in.Todos)
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":      true,
		"count":   len(in.Todos),
		"items":   st.Todos.Items(),
		"message": msg,
	}), nil
}
