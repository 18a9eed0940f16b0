package tools

import (
	"context"
	"encoding/json"
	"strings"

	"deepagent/internal/chat"
	"deepagent/internal/fsstore"
	"deepagent/internal/pattern"
	"deepagent/internal/toolerr"
)

type GrepTool struct{}

func NewGrepTool() *GrepTool {
	return &GrepTool{}
}

func (t *GrepTool) Name() string {
	return "grep"
}

func (t *GrepTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name: t.Name(),
			Description: "Search file contents. Literal and case-insensitive by default; set regex for regular expressions. " +
				"Search either explicit files or every file under path whose name matches file_pattern.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{"type": "string"},
					"files": map[string]any{
						"description": "A file path or list of file paths to search.",
						"anyOf": []any{
							map[string]any{"type": "string"},
							map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
					},
					"path":           map[string]any{"type": "string"},
					"file_pattern":   map[string]any{"type": "string", "description": "Filename wildcard. Defaults to '*'."},
					"max_results":    map[string]any{"type": "integer", "description": "Defaults to 50."},
					"case_sensitive": map[string]any{"type": "boolean"},
					"context_lines":  map[string]any{"type": "integer"},
					"regex":          map[string]any{"type": "boolean"},
					"recursive":      map[string]any{"type": "boolean", "description": "Defaults to true."},
				},
				"required": []string{"pattern"},
			},
		},
	}
}

// fileList accepts either a single path or a list of paths.
type fileList []string

func (f *fileList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) != "" {
			*f = fileList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*f = many
	return nil
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Pattern       string   `json:"pattern"`
		Files         fileList `json:"files"`
		Path          string   `json:"path"`
		FilePattern   string   `json:"file_pattern"`
		MaxResults    int      `json:"max_results"`
		CaseSensitive bool     `json:"case_sensitive"`
		ContextLines  int      `json:"context_lines"`
		Regex         bool     `json:"regex"`
		Recursive     *bool    `json:"recursive"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if in.Pattern == "" {
		return "", toolerr.New(toolerr.KindInvalidArgument, t.Name(), "grep pattern is empty")
	}
	st, err := activeSession(ctx, t.Name())
	if err != nil {
		return "", err
	}
	res, err := st.Store.Grep(fsstore.GrepRequest{
		GrepOptions: pattern.GrepOptions{
			Pattern:       in.Pattern,
			CaseSensitive: in.CaseSensitive,
			ContextLines:  in.ContextLines,
			Regex:         in.Regex,
			MaxResults:    in.MaxResults,
		},
		Files:     in.Files,
		Path:      in.Path,
		Include:   in.FilePattern,
		Recursive: in.Recursive == nil || *in.Recursive,
	})
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":        true,
		"status":    res.Status,
		"total":     res.Total,
		"truncated": res.Truncated,
		"skipped":   res.Skipped,
		"result":    res.String(),
	}), nil
}
