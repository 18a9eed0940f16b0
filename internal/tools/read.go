package tools

import (
	"context"
	"encoding/json"
	"strings"

	"deepagent/internal/chat"
	"deepagent/internal/fsstore"
	"deepagent/internal/toolerr"
)

type ReadTool struct{}

func NewReadTool() *ReadTool {
	return &ReadTool{}
}

func (t *ReadTool) Name() string {
	return "read_file"
}

func (t *ReadTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name: t.Name(),
			Description: "Read a file. Output is numbered like cat -n. offset is the number of lines to skip; " +
				"limit defaults to 2000 lines and lines longer than 2000 characters are cut.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{"type": "string"},
					"offset": map[string]any{
						"type":        "integer",
						"description": "Lines to skip before reading (0-based). Defaults to 0.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Max number of lines to read. Defaults to 2000.",
					},
				},
				"required": []string{"file_path"},
			},
		},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return "", toolerr.New(toolerr.KindInvalidArgument, t.Name(), "file_path is required")
	}
	if in.Limit <= 0 {
		in.Limit = fsstore.DefaultReadLimit
	}
	st, err := activeSession(ctx, t.Name())
	if err != nil {
		return "", err
	}
	content, err := st.Store.Read(in.FilePath, in.Offset, in.Limit)
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":        true,
		"file_path": in.FilePath,
		"offset":    in.Offset,
		"limit":     in.Limit,
		"content":   content,
	}), nil
}
