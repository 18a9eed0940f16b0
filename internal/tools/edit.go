package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deepagent/internal/chat"
	"deepagent/internal/toolerr"
)

// EditTool replaces an exact substring. Without replace_all the target must be
// unique, so the model has to quote enough surrounding context.
type EditTool struct{}

func NewEditTool() *EditTool {
	return &EditTool{}
}

func (t *EditTool) Name() string {
	return "edit_file"
}

func (t *EditTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name: t.Name(),
			Description: "Replace old_string with new_string in a file. old_string must match exactly and, unless replace_all is true, " +
				"occur exactly once. Read the file first.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path":   map[string]any{"type": "string"},
					"old_string":  map[string]any{"type": "string"},
					"new_string":  map[string]any{"type": "string"},
					"replace_all": map[string]any{"type": "boolean"},
				},
				"required": []string{"file_path", "old_string", "new_string"},
			},
		},
	}
}

func (t *EditTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
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
	n, err := st.Store.Edit(in.FilePath, in.OldString, in.NewString, in.ReplaceAll)
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Successfully replaced string in '%s'", in.FilePath)
	if in.ReplaceAll {
		msg = fmt.Sprintf("Successfully replaced %d instance(s) of the string in '%s'", n, in.FilePath)
	}
	return mustJSON(map[string]any{
		"ok":           true,
		"file_path":    in.FilePath,
		"replacements": n,
		"message":      msg,
	}), nil
}
