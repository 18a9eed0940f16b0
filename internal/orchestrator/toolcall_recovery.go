package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"deepagent/internal/chat"
)

var (
	toolCallBlockPattern = regexp.MustCompile(`(?is)<tool_call>\s*(.*?)\s*</tool_call>`)
	functionCallPattern  = regexp.MustCompile(`(?is)<function=([a-zA-Z0-9_\-]+)>\s*(.*?)\s*</function>`)
	parameterPattern     = regexp.MustCompile(`(?is)<parameter=([a-zA-Z0-9_\-]+)>\s*(.*?)\s*</parameter>`)
)

// recoverToolCalls 把模型以文本形式输出的工具调用恢复为结构化调用
// recoverToolCalls turns tool calls a model wrote into its text back into
// structured calls. Two shapes are understood:
//
//	<tool_call>{"name":"read_file","arguments":{"file_path":"a.go"}}</tool_call>
//	<tool_call><function=ls><parameter=path>src</parameter></function></tool_call>
//
// Only names present in defs are accepted. Blocks that do not parse stay in the
// returned text.
func recoverToolCalls(content string, defs []chat.ToolDef) ([]chat.ToolCall, string) {
	if strings.TrimSpace(content) == "" || len(defs) == 0 {
		return nil, content
	}
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Function.Name] = true
	}
	blocks := toolCallBlockPattern.FindAllStringSubmatchIndex(content, -1)
	if len(blocks) == 0 {
		return nil, content
	}

	var calls []chat.ToolCall
	var rest strings.Builder
	last := 0
	for _, m := range blocks {
		rest.WriteString(content[last:m[0]])
		last = m[1]
		name, args, ok := parseToolCallBlock(strings.TrimSpace(content[m[2]:m[3]]))
		if !ok || !known[name] {
			rest.WriteString(content[m[0]:m[1]])
			continue
		}
		calls = append(calls, chat.ToolCall{
			ID:   fmt.Sprintf("recovered_call_%d", len(calls)+1),
			Type: "function",
			Function: chat.ToolCallFunction{
				Name:      name,
				Arguments: args,
			},
		})
	}
	rest.WriteString(content[last:])
	return calls, strings.TrimSpace(rest.String())
}

func parseToolCallBlock(inner string) (name, args string, ok bool) {
	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(inner), &payload); err == nil {
		name = strings.TrimSpace(payload.Name)
		if name == "" {
			return "", "", false
		}
		if len(payload.Arguments) == 0 {
			return name, "{}", true
		}
		var obj map[string]any
		if err := json.Unmarshal(payload.Arguments, &obj); err != nil || obj == nil {
			return "", "", false
		}
		return name, mustJSON(obj), true
	}

	fm := functionCallPattern.FindStringSubmatch(inner)
	if len(fm) != 3 {
		return "", "", false
	}
	params := map[string]any{}
	for _, pm := range parameterPattern.FindAllStringSubmatch(fm[2], -1) {
		if key := strings.TrimSpace(pm[1]); key != "" {
			params[key] = strings.TrimSpace(pm[2])
		}
	}
	if len(params) == 0 {
		return "", "", false
	}
	return strings.TrimSpace(fm[1]), mustJSON(params), true
}
