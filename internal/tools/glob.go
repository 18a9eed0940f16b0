package tools

import (
	"context"
	"encoding/json"
	"strings"

	"deepagent/internal/chat"
	"deepagent/internal/pattern"
	"deepagent/internal/toolerr"
)

type GlobTool struct{}

func NewGlobTool() *GlobTool {
	return &GlobTool{}
}

func (t *GlobTool) Name() string {
	return "glob"
}

func (t *GlobTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name: t.Name(),
			Description: "Find files with shell wildcards (*, ?, [seq], [!seq]). The pattern is matched against the path relative to 'path'; " +
				"in a recursive search a bare filename pattern like '*.py' also matches nested files.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern":      map[string]any{"type": "string"},
					"path":         map[string]any{"type": "string", "description": "Directory to search. Defaults to the workspace root."},
					"max_results":  map[string]any{"type": "integer", "description": "Defaults to 100."},
					"include_dirs": map[string]any{"type": "boolean"},
					"recursive":    map[string]any{"type": "boolean", "description": "Defaults to true."},
				},
				"required": []string{"pattern"},
			},
		},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Pattern     string `json:"pattern"`
		Path        string `json:"path"`
		MaxResults  int    `json:"max_results"`
		IncludeDirs bool   `json:"include_dirs"`
		Recursive   *bool  `json:"recursive"`
	}
	if err := decodeArgs(t.Name(), args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Pattern) == "" {
		return "", toolerr.New(toolerr.KindInvalidArgument, t.Name(), "glob pattern is empty")
	}
	st, err := activeSession(ctx, t.Name())
	if err != nil {
		return "", err
	}
	res, err := st.Store.Glob(pattern.GlobOptions{
		Pattern:     in.Pattern,
		Root:        in.Path,
		MaxResults:  in.MaxResults,
		IncludeDirs: in.IncludeDirs,
		Recursive:   in.Recursive == nil || *in.Recursive,
	})
	if err != nil {
		return "", err
	}
	return mustJSON(map[string]any{
		"ok":        true,
		"status":    res.Status,
		"matches":   res.Matches,
		"truncated": res.Truncated,
		"result":    res.String(),
	}), nil
}
