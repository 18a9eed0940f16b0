package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepagent/internal/chat"
)

func TestHeuristicCounts(t *testing.T) {
	tok := NewHeuristicTokenizer()
	assert.False(t, tok.IsPrecise())
	assert.Equal(t, 0, tok.CountText(""))
	assert.Positive(t, tok.CountText("Hello world"))
	assert.Positive(t, tok.CountText("你好世界"))

	n := tok.Count([]chat.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", ToolCalls: []chat.ToolCall{{Function: chat.ToolCallFunction{Name: "ls", Arguments: "{}"}}}},
	})
	assert.Greater(t, n, 16)
}

func TestTruncateHeuristic(t *testing.T) {
	tok := NewHeuristicTokenizer()
	text := strings.Repeat("abcd", 400) // ~400 tokens

	out, cut := tok.Truncate(text, 1000)
	assert.False(t, cut)
	assert.Equal(t, text, out)

	out, cut = tok.Truncate(text, 100)
	require.True(t, cut)
	assert.Contains(t, out, "...[truncated 300 tokens]")
	assert.Less(t, len(out), len(text))
}

func TestModelToEncoding(t *testing.T) {
	cases := map[string]string{
		"":            "cl100k_base",
		"gpt-4o-mini": "o200k_base",
		"o3-mini":     "o200k_base",
		"gpt-4-turbo": "cl100k_base",
		"qwen2.5":     "cl100k_base",
	}
	for model, want := range cases {
		assert.Equal(t, want, modelToEncoding(model), model)
	}
}

func TestStaticMessages(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectRulesFile), []byte("use tabs\n"), 0o644))

	a := New("You are an agent.", root)
	msgs := a.StaticMessages("")
	require.Len(t, msgs, 2)
	assert.Equal(t, "You are an agent.", msgs[0].Content)
	assert.Equal(t, "[PROJECT_RULES]\nuse tabs", msgs[1].Content)

	msgs = a.StaticMessages("You review code.")
	require.Len(t, msgs, 1)
	assert.Equal(t, "You review code.", msgs[0].Content)
}

func history(n int) []chat.Message {
	msgs := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		msgs = append(msgs, chat.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	return msgs
}

func TestCompactTooFewMessages(t *testing.T) {
	msgs := history(3)
	out, _, changed := Compact(context.Background(), msgs, 4, nil)
	assert.False(t, changed)
	assert.Equal(t, msgs, out)
}

func TestCompactKeepsToolResultsWithTheirCall(t *testing.T) {
	msgs := history(6)
	msgs = append(msgs,
		chat.Message{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{{ID: "c1", Function: chat.ToolCallFunction{Name: "write_file", Arguments: `{"file_path":"src/a.go"}`}}}},
		chat.Message{Role: chat.RoleTool, ToolCallID: "c1", Content: "Updated file src/a.go"},
		chat.Message{Role: chat.RoleTool, ToolCallID: "c2", Content: `{"ok":false,"kind":"not_found"}`},
		chat.Message{Role: chat.RoleAssistant, Content: "done"},
		chat.Message{Role: chat.RoleUser, Content: "thanks"},
	)
	// keepRecent=4 would start the tail on a tool message; the split moves back
	// to the assistant call.
	out, summary, changed := Compact(context.Background(), msgs, 4, nil)
	require.True(t, changed)
	assert.True(t, strings.HasPrefix(out[0].Content, "[COMPACTION_SUMMARY]"))
	assert.Equal(t, chat.RoleAssistant, out[1].Role)
	assert.Len(t, out[1].ToolCalls, 1)
	assert.Contains(t, summary, "message 0")
}

func TestCompactStrategyFallback(t *testing.T) {
	failing := NewLLMCompaction(func(context.Context, string, string) (string, error) {
		return "", errors.New("network down")
	})
	out, summary, changed := Compact(context.Background(), history(12), 4, failing)
	require.True(t, changed)
	assert.Len(t, out, 5)
	assert.Contains(t, summary, "current objective: message 0")

	llm := NewLLMCompaction(func(_ context.Context, sys, user string) (string, error) {
		assert.Contains(t, sys, "autonomous agent")
		assert.Contains(t, user, "User: message 0")
		return "model summary", nil
	})
	_, summary, changed = Compact(context.Background(), history(12), 4, llm)
	require.True(t, changed)
	assert.Equal(t, "model summary", summary)
}
