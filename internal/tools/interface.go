package tools

import (
	"context"
	"encoding/json"

	"deepagent/internal/chat"
)

// Tool is one operation the reasoning engine can call. Handlers are stateless;
// the session they act on travels in ctx.
type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// RiskAware tools can flag individual calls that need a human every time.
type RiskAware interface {
	Risk(args json.RawMessage) string
}
