package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deepagent/internal/chat"
	"deepagent/internal/toolerr"
)

type WriteTool struct{}

func NewWriteTool() *WriteTool {
	return &WriteTool{}
}

func (t *WriteTool) Name() string {
	return "write_file"
}

func (t *WriteTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Write full content to a file, replacing anything already there. Parent directories are created. Prefer edit_file for small changes.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{"type": "string"},
					"content":   map[string]any{"type": "string"},
				},
				"required": []string{"file_path", "content"},
			},
		},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return "", toolerr.New(toolerr.KindInvalidArgument, t.Name(), "file_path is required")
	}
	st, err := activeSession(ctx, t.Name())
	if err != nil {
		return "", err
	}
	if err := st.Store.Write(in.FilePath, in.Content); err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":        true,
		"file_path": in.FilePath,
		"size":      len(in.Content),
		"message":   fmt.Sprintf("Updated file %s", in.FilePath),
	}), nil
}
