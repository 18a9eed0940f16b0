package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"deepagent/internal/session"
	"deepagent/internal/toolerr"
)

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":"marshal result: %s"}`, err.Error())
	}
	return string(data)
}

// ErrorResult renders a failed call as the tool message the model sees.
func ErrorResult(err error) string {
	kind := toolerr.KindOf(err)
	if kind == "" {
		kind = toolerr.KindInternal
	}
	return mustJSON(map[string]any{
		"ok":    false,
		"kind":  kind,
		"error": err.Error(),
	})
}

func decodeArgs(op string, args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &toolerr.Error{Kind: toolerr.KindInvalidArgument, Op: op, Msg: "invalid arguments", Err: err}
	}
	return nil
}

func activeSession(ctx context.Context, op string) (*session.State, error) {
	st, ok := session.FromContext(ctx)
	if !ok {
		return nil, toolerr.New(toolerr.KindInternal, op, "no active session")
	}
	return st, nil
}
