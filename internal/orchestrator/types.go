package orchestrator

import (
	"errors"

	"go.uber.org/zap"

	"deepagent/internal/approval"
	"deepagent/internal/config"
	"deepagent/internal/contextmgr"
)

// ToolEventFunc 工具执行事件回调（用于前端 REPL）
// ToolEventFunc is the tool execution event callback. agent names the session
// that ran the tool; done=false marks the start, done=true the end.
type ToolEventFunc = func(agent, name, summary string, done bool)

// OnTodoUpdate is called after write_todos with display lines.
type OnTodoUpdate = func(items []string)

// OnContextUpdate 上下文 token 使用更新回调（步进后推送）
// OnContextUpdate is called after each main-session step.
type OnContextUpdate = func(tokens, limit int, percent float64)

// Checkpointer persists the main session after every step.
type Checkpointer interface {
	SaveCheckpoint(sessionID string, step int, data []byte) error
	TouchSession(id, summary string) error
}

// ErrStepLimit is returned when a session runs out of steps before the
// reasoning engine stops calling tools.
var ErrStepLimit = errors.New("step limit reached")

const (
	ansiReset  = "\x1b[0m"
	ansiCyan   = "\x1b[36m"
	ansiYellow = "\x1b[33m"
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
	ansiBold   = "\x1b[1m"
)

type Options struct {
	MaxSteps             int
	Gate                 *approval.Gate
	Assembler            *contextmgr.Assembler
	Tokenizer            *contextmgr.Tokenizer
	Compaction           config.CompactionConfig
	ContextTokenLimit    int
	ToolResultTokenLimit int
	Checkpoints          Checkpointer
	Logger               *zap.Logger
}

type ContextStats struct {
	EstimatedTokens int
	ContextLimit    int
	UsagePercent    float64
	MessageCount    int
	// Counter names the token counter; estimated counts are marked "~".
	Counter string
}
