package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

func isContextCancellationErr(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx != nil && ctx.Err() != nil
}

func contextErrOr(ctx context.Context, fallback error) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fallback
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{}`
	}
	return string(data)
}

func summarizeForLog(s string) string {
	normalized := strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
	if normalized == "" {
		return "-"
	}
	const maxRunes = 220
	runes := []rune(normalized)
	if len(runes) <= maxRunes {
		return normalized
	}
	return string(runes[:maxRunes]) + "...(truncated)"
}

func formatToolStart(name string, rawArgs string) string {
	args := parseJSONObject(rawArgs)
	switch name {
	case "read_file":
		path := getString(args, "file_path", "")
		offset := getInt(args, "offset", 0)
		limit := getInt(args, "limit", 0)
		// 仅当调用方显式传入 offset/limit 时展示行区间
		if limit > 0 {
			return fmt.Sprintf("* Read %s[%d-%d]", quoteOrDash(path), offset, offset+limit-1)
		}
		return fmt.Sprintf("* Read %s", quoteOrDash(path))
	case "ls":
		return fmt.Sprintf("* List %s", quoteOrDash(getString(args, "path", ".")))
	case "glob":
		return fmt.Sprintf("* Glob %s in %s", quoteOrDash(getString(args, "pattern", "")), quoteOrDash(getString(args, "path", ".")))
	case "grep":
		return fmt.Sprintf("* Grep %s in %s", quoteOrDash(getString(args, "pattern", "")), quoteOrDash(getString(args, "path", ".")))
	case "write_file":
		content := getString(args, "content", "")
		return fmt.Sprintf("* Write %s (%d bytes)", quoteOrDash(getString(args, "file_path", "")), len(content))
	case "edit_file":
		return fmt.Sprintf("* Edit %s", quoteOrDash(getString(args, "file_path", "")))
	case "write_todos":
		return fmt.Sprintf("* Update todo list (%d items)", len(getArray(args, "todos")))
	case "task":
		agent := getString(args, "subagent_type", "")
		return fmt.Sprintf("* Task %s: %s", quoteOrDash(agent), quoteOrDash(short(getString(args, "description", ""), 80)))
	case "execute":
		return fmt.Sprintf("* Execute %s", quoteOrDash(getString(args, "command", "")))
	default:
		return fmt.Sprintf("* %s args=%s", title(name), summarizeForLog(rawArgs))
	}
}

func summarizeToolResult(name string, rawResult string) string {
	result := parseJSONObject(rawResult)
	if len(result) == 0 {
		return summarizeForLog(rawResult)
	}
	switch name {
	case "read_file":
		content := getString(result, "content", "")
		return fmt.Sprintf("read %d bytes from %s", len(content), quoteOrDash(getString(result, "file_path", "")))
	case "ls":
		return fmt.Sprintf("%d entries in %s", len(getArray(result, "entries")), quoteOrDash(getString(result, "path", "")))
	case "glob":
		return fmt.Sprintf("%d matches", len(getArray(result, "matches")))
	case "grep":
		return fmt.Sprintf("%d matches", getInt(result, "total", 0))
	case "write_file", "edit_file":
		return getString(result, "message", "done")
	case "write_todos":
		return formatTodoSummary(result, "todo updated")
	case "task":
		return "subagent " + quoteOrDash(getString(result, "subagent_type", "")) + ": " + summarizeForLog(firstLine(getString(result, "result", "")))
	case "execute":
		exitCode := getInt(result, "exit_code", -1)
		duration := getInt(result, "duration_ms", 0)
		stdout := strings.TrimSpace(getString(result, "stdout", ""))
		stderr := strings.TrimSpace(getString(result, "stderr", ""))
		if exitCode == 0 {
			if stdout != "" {
				return fmt.Sprintf("exit=0 in %dms, stdout=%s", duration, summarizeForLog(firstLine(stdout)))
			}
			return fmt.Sprintf("exit=0 in %dms", duration)
		}
		if stderr != "" {
			return fmt.Sprintf("exit=%d in %dms, stderr=%s", exitCode, duration, summarizeForLog(firstLine(stderr)))
		}
		return fmt.Sprintf("exit=%d in %dms", exitCode, duration)
	default:
		if errText := getString(result, "error", ""); errText != "" {
			return summarizeForLog(errText)
		}
		return summarizeForLog(rawResult)
	}
}

// todoItemsFromResult 从 write_todos 的 JSON result 解析出展示用 []string
// todoItemsFromResult parses a write_todos result into display lines.
func todoItemsFromResult(rawResult string) []string {
	items := getArray(parseJSONObject(rawResult), "items")
	if items == nil {
		return nil
	}
	out := []string{}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		content := strings.TrimSpace(getString(item, "content", ""))
		if content == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s", todoStatusMarker(getString(item, "status", "")), content))
	}
	return out
}

func formatTodoSummary(result map[string]any, label string) string {
	headline := fmt.Sprintf("%s items=%d", label, getInt(result, "count", len(getArray(result, "items"))))
	lines := todoItemsFromResult(mustJSON(result))
	if len(lines) == 0 {
		return headline
	}
	return headline + "\n" + strings.Join(lines, "\n")
}

func parseJSONObject(s string) map[string]any {
	var out map[string]any
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func getString(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	val, ok := m[key].(string)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getArray(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	out, _ := m[key].([]any)
	return out
}

func getInt(m map[string]any, key string, fallback int) int {
	if m == nil {
		return fallback
	}
	switch val := m[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

func firstLine(s string) string {
	for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return ""
}

func quoteOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return strconv.Quote(summarizeForLog(s))
}

func title(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Tool"
	}
	runes := []rune(s)
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}

func short(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}

func todoStatusMarker(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return "[x]"
	case "in_progress":
		return "[~]"
	default:
		return "[ ]"
	}
}
