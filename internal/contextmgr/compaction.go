package contextmgr

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"deepagent/internal/chat"
)

const summaryMarker = "[COMPACTION_SUMMARY]\n"

// CompactionStrategy 上下文压缩策略接口
// CompactionStrategy summarizes the older part of a message history.
type CompactionStrategy interface {
	Summarize(ctx context.Context, messages []chat.Message) (string, error)
}

// LLMSummarizer asks the reasoning engine for a summary.
type LLMSummarizer func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// LLMCompaction 使用 LLM 生成摘要的策略
type LLMCompaction struct {
	summarize LLMSummarizer
}

func NewLLMCompaction(summarize LLMSummarizer) *LLMCompaction {
	return &LLMCompaction{summarize: summarize}
}

const summarySystemPrompt = `You summarize the history of an autonomous agent session.
Preserve:
1. The current objective
2. Files listed, read, written or edited (with paths)
3. Sub-agents delegated to and what they returned
4. Todo list state
5. Next actionable steps

Be concise but complete. Output plain text.`

func (c *LLMCompaction) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	if c.summarize == nil {
		return "", fmt.Errorf("LLM summarizer not configured")
	}
	input := buildSummaryInput(messages)
	summary, err := c.summarize(ctx, summarySystemPrompt, input)
	if err != nil {
		return "", fmt.Errorf("LLM summarize: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// RegexCompaction extracts objective, paths and errors without a model call.
type RegexCompaction struct{}

func (RegexCompaction) Summarize(_ context.Context, messages []chat.Message) (string, error) {
	return summarizeMessages(messages), nil
}

// Compact replaces all but the newest keepRecent messages with one summary
// message. The split never separates a tool result from the assistant message
// that requested it. A failing strategy falls back to RegexCompaction.
func Compact(ctx context.Context, messages []chat.Message, keepRecent int, strategy CompactionStrategy) ([]chat.Message, string, bool) {
	if keepRecent < 4 {
		keepRecent = 4
	}
	if len(messages) <= keepRecent+2 {
		return messages, "", false
	}
	split := len(messages) - keepRecent
	for split > 1 && messages[split].Role == chat.RoleTool {
		split--
	}
	if split <= 1 {
		return messages, "", false
	}
	head := messages[:split]
	tail := messages[split:]

	var summary string
	if strategy != nil {
		if s, err := strategy.Summarize(ctx, head); err == nil {
			summary = strings.TrimSpace(s)
		}
	}
	if summary == "" {
		summary = summarizeMessages(head)
	}

	compacted := make([]chat.Message, 0, len(tail)+1)
	compacted = append(compacted, chat.Message{Role: chat.RoleUser, Content: summaryMarker + summary})
	compacted = append(compacted, tail...)
	return compacted, summary, true
}

func buildSummaryInput(messages []chat.Message) string {
	var b strings.Builder
	b.WriteString("Session to summarize:\n\n")
	for _, m := range messages {
		switch m.Role {
		case chat.RoleUser:
			fmt.Fprintf(&b, "User: %s\n\n", short(m.Content, 500))
		case chat.RoleAssistant:
			if c := strings.TrimSpace(m.Content); c != "" {
				fmt.Fprintf(&b, "Assistant: %s\n\n", short(c, 300))
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "Tool call: %s(%s)\n", tc.Function.Name, short(tc.Function.Arguments, 100))
			}
		case chat.RoleTool:
			fmt.Fprintf(&b, "Tool result [%s]: %s\n\n", m.Name, short(m.Content, 200))
		}
	}
	return b.String()
}

var pathPattern = regexp.MustCompile(`([A-Za-z0-9_./-]+\.[A-Za-z0-9_]+)`)

func summarizeMessages(msgs []chat.Message) string {
	objective := ""
	files := map[string]struct{}{}
	risks := map[string]struct{}{}
	var steps []string

	for _, m := range msgs {
		switch m.Role {
		case chat.RoleUser:
			content := strings.TrimPrefix(m.Content, summaryMarker)
			if objective == "" {
				objective = short(content, 300)
			}
			steps = append(steps, short(content, 140))
		case chat.RoleAssistant:
			for _, tc := range m.ToolCalls {
				for _, hit := range pathPattern.FindAllString(tc.Function.Arguments, -1) {
					files[hit] = struct{}{}
				}
			}
		case chat.RoleTool:
			if strings.Contains(m.Content, `"ok":false`) {
				risks[short(m.Content, 120)] = struct{}{}
			}
		}
	}
	if objective == "" {
		objective = "continue current task"
	}

	var b strings.Builder
	b.WriteString("- current objective: " + objective + "\n")
	b.WriteString("- files touched: " + joinOr(mapKeys(files, 8), ", ", "(none captured)") + "\n")
	b.WriteString("- failed operations: " + joinOr(mapKeys(risks, 5), " | ", "(none captured)") + "\n")
	b.WriteString("- requests so far: " + joinOr(uniqueStrings(steps, 4), " -> ", "continue from latest user request"))
	return b.String()
}

func joinOr(items []string, sep, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, sep)
}

func mapKeys(m map[string]struct{}, limit int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func uniqueStrings(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func short(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
