package contextmgr

import (
	"os"
	"path/filepath"
	"strings"

	"deepagent/internal/chat"
)

// ProjectRulesFile is read from the workspace root and appended to the main
// agent's system prompt when present.
const ProjectRulesFile = "AGENTS.md"

const maxRulesRunes = 32768

// Assembler builds the static system messages that precede a session's history.
type Assembler struct {
	SystemPrompt  string
	WorkspaceRoot string
}

func New(systemPrompt, workspaceRoot string) *Assembler {
	return &Assembler{
		SystemPrompt:  strings.TrimSpace(systemPrompt),
		WorkspaceRoot: strings.TrimSpace(workspaceRoot),
	}
}

// StaticMessages returns the system prompt followed by project rules. A
// sub-agent passes its own prompt as override and skips project rules.
func (a *Assembler) StaticMessages(override string) []chat.Message {
	if override = strings.TrimSpace(override); override != "" {
		return []chat.Message{{Role: chat.RoleSystem, Content: override}}
	}
	var out []chat.Message
	if a.SystemPrompt != "" {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: a.SystemPrompt})
	}
	if a.WorkspaceRoot != "" {
		if content, ok := readRules(filepath.Join(a.WorkspaceRoot, ProjectRulesFile)); ok {
			out = append(out, chat.Message{Role: chat.RoleSystem, Content: "[PROJECT_RULES]\n" + content})
		}
	}
	return out
}

func readRules(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", false
	}
	if runes := []rune(content); len(runes) > maxRulesRunes {
		content = string(runes[:maxRulesRunes]) + "\n...[truncated]"
	}
	return content, true
}
