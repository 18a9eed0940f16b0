package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"deepagent/internal/approval"
	"deepagent/internal/chat"
	"deepagent/internal/config"
	"deepagent/internal/contextmgr"
	"deepagent/internal/delegate"
	"deepagent/internal/provider"
	"deepagent/internal/session"
	"deepagent/internal/tools"
)

// MainAgentName labels the top-level session in logs and tool events.
const MainAgentName = "main"

// Orchestrator runs the propose, gate, execute, observe loop for the main
// session and for every delegated child session.
type Orchestrator struct {
	provider             provider.Provider
	main                 delegate.Agent
	gate                 *approval.Gate
	maxSteps             int
	assembler            *contextmgr.Assembler
	tokenizer            *contextmgr.Tokenizer
	compaction           config.CompactionConfig
	contextTokenLimit    int
	toolResultTokenLimit int
	compStrategy         contextmgr.CompactionStrategy
	checkpoints          Checkpointer
	log                  *zap.Logger

	onToolEvent     ToolEventFunc
	onTodoUpdate    OnTodoUpdate
	onContextUpdate OnContextUpdate

	eventMu        sync.Mutex
	checkpointStep int
	lastCompaction string
}

func New(providerClient provider.Provider, registry *tools.Registry, opts Options) *Orchestrator {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = config.DefaultRuntimeMaxSteps
	}
	contextLimit := opts.ContextTokenLimit
	if contextLimit <= 0 {
		contextLimit = config.DefaultRuntimeContextTokenLimit
	}
	if opts.Compaction.Threshold <= 0 || opts.Compaction.Threshold >= 1 {
		opts.Compaction.Threshold = config.DefaultCompactionThreshold
	}
	if opts.Compaction.RecentMessages <= 0 {
		opts.Compaction.RecentMessages = config.DefaultCompactionRecentMessages
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	assembler := opts.Assembler
	if assembler == nil {
		assembler = contextmgr.New("", "")
	}
	tokenizer := opts.Tokenizer
	if tokenizer == nil {
		tokenizer = contextmgr.NewHeuristicTokenizer()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		provider:             providerClient,
		main:                 delegate.Agent{Spec: delegate.Spec{Name: MainAgentName}, Tools: registry},
		gate:                 opts.Gate,
		maxSteps:             maxSteps,
		assembler:            assembler,
		tokenizer:            tokenizer,
		compaction:           opts.Compaction,
		contextTokenLimit:    contextLimit,
		toolResultTokenLimit: opts.ToolResultTokenLimit,
		checkpoints:          opts.Checkpoints,
		log:                  log,
	}
	o.compStrategy = contextmgr.NewLLMCompaction(o.summarize)
	return o
}

func (o *Orchestrator) SetToolEventCallback(fn ToolEventFunc) {
	o.onToolEvent = fn
}

func (o *Orchestrator) SetTodoUpdateCallback(fn OnTodoUpdate) {
	o.onTodoUpdate = fn
}

func (o *Orchestrator) SetContextUpdateCallback(fn OnContextUpdate) {
	o.onContextUpdate = fn
}

func (o *Orchestrator) CurrentModel() string {
	if o.provider == nil {
		return ""
	}
	return o.provider.CurrentModel()
}

// Tools returns the main agent's catalogue.
func (o *Orchestrator) Tools() *tools.Registry {
	return o.main.Tools
}

func (o *Orchestrator) LastCompactionSummary() string {
	return o.lastCompaction
}

func (o *Orchestrator) CurrentContextStats(st *session.State) ContextStats {
	messages := o.providerMessages(st, o.main)
	estimated := o.tokenizer.Count(messages)
	percent := 0.0
	if o.contextTokenLimit > 0 {
		percent = (float64(estimated) / float64(o.contextTokenLimit)) * 100
	}
	return ContextStats{
		EstimatedTokens: estimated,
		ContextLimit:    o.contextTokenLimit,
		UsagePercent:    percent,
		MessageCount:    len(messages),
		Counter:         o.counterName(),
	}
}

func (o *Orchestrator) counterName() string {
	name := o.tokenizer.EncodingName()
	if o.tokenizer.IsPrecise() {
		return name
	}
	if name == "" || name == "heuristic" {
		return "~heuristic"
	}
	return "~heuristic (" + name + " unavailable)"
}

// CompactNow 手动压缩当前会话
// CompactNow compacts st regardless of the token threshold.
func (o *Orchestrator) CompactNow(ctx context.Context, st *session.State) bool {
	compacted, summary, changed := contextmgr.Compact(ctx, st.Messages(), o.compaction.RecentMessages, o.compStrategy)
	if !changed {
		return false
	}
	st.SetMessages(compacted)
	o.lastCompaction = summary
	return true
}

// RunTurn appends input to the main session and steps until the reasoning
// engine answers without calling tools. Tool activity is rendered to out.
func (o *Orchestrator) RunTurn(ctx context.Context, st *session.State, input string, out io.Writer) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty input")
	}
	if o.provider == nil {
		return "", fmt.Errorf("provider unavailable")
	}
	if out != nil {
		out = newSyncWriter(out)
	}
	st.Append(chat.Message{Role: chat.RoleUser, Content: input})
	return o.run(withOutput(ctx, out), st, o.main, out)
}

func (o *Orchestrator) run(ctx context.Context, st *session.State, ag delegate.Agent, out io.Writer) (string, error) {
	log := o.log.With(
		zap.String("session", st.ID),
		zap.String("agent", ag.Spec.Name),
		zap.Int("depth", st.Depth),
	)
	ctx = session.WithSession(ctx, st)

	for step := 0; step < o.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			st.Discard()
			return "", err
		}
		o.maybeCompact(ctx, st, ag, log)

		// 步骤失败时回滚到步骤开始前的历史
		before := st.Messages()
		abort := func() {
			st.Discard()
			st.SetMessages(before)
		}

		messages := o.providerMessages(st, ag)
		log.Debug("step start", zap.Int("step", step), zap.Int("tokens", o.tokenizer.Count(messages)))

		resp, err := o.chat(ctx, st, ag, messages, out)
		if err != nil {
			abort()
			if isContextCancellationErr(ctx, err) {
				return "", contextErrOr(ctx, err)
			}
			return "", fmt.Errorf("provider chat: %w", err)
		}
		st.Append(chat.Message{
			Role:      chat.RoleAssistant,
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			if err := o.finishStep(st, log, step); err != nil {
				return "", err
			}
			return resp.Content, nil
		}
		if out != nil && st.Depth == 0 && strings.TrimSpace(resp.Content) != "" {
			renderAssistantBlock(out, resp.Content, false)
		}
		if err := o.executeToolCalls(ctx, st, ag, resp.ToolCalls, out); err != nil {
			abort()
			if isContextCancellationErr(ctx, err) {
				return "", contextErrOr(ctx, err)
			}
			return "", err
		}
		if err := o.finishStep(st, log, step); err != nil {
			return "", err
		}
	}
	return st.LastAssistant(), fmt.Errorf("%w (%d)", ErrStepLimit, o.maxSteps)
}

// finishStep publishes staged writes and, for the main session, persists a
// checkpoint.
func (o *Orchestrator) finishStep(st *session.State, log *zap.Logger, step int) error {
	if changed := st.Commit(); len(changed) > 0 {
		log.Debug("step committed", zap.Int("step", step), zap.Strings("paths", changed))
	}
	if st.Depth > 0 {
		return nil
	}
	if o.onContextUpdate != nil {
		stats := o.CurrentContextStats(st)
		o.onContextUpdate(stats.EstimatedTokens, stats.ContextLimit, stats.UsagePercent)
	}
	return o.checkpoint(st, log)
}

func (o *Orchestrator) checkpoint(st *session.State, log *zap.Logger) error {
	if o.checkpoints == nil {
		return nil
	}
	data, err := st.Checkpoint().Marshal()
	if err != nil {
		return fmt.Errorf("checkpoint session %s: %w", st.ID, err)
	}
	o.checkpointStep++
	if err := o.checkpoints.SaveCheckpoint(st.ID, o.checkpointStep, data); err != nil {
		log.Warn("save checkpoint", zap.Error(err))
		return nil
	}
	if err := o.checkpoints.TouchSession(st.ID, short(lastUserRequest(st.Messages()), 120)); err != nil {
		log.Warn("touch session", zap.Error(err))
	}
	log.Debug("checkpoint saved", zap.Int("step", o.checkpointStep), zap.Int("bytes", len(data)))
	return nil
}

func (o *Orchestrator) providerMessages(st *session.State, ag delegate.Agent) []chat.Message {
	static := o.assembler.StaticMessages(ag.Spec.Prompt)
	history := st.Messages()
	out := make([]chat.Message, 0, len(static)+len(history))
	out = append(out, static...)
	return append(out, history...)
}

func (o *Orchestrator) maybeCompact(ctx context.Context, st *session.State, ag delegate.Agent, log *zap.Logger) {
	if !o.compaction.Auto {
		return
	}
	tokens := o.tokenizer.Count(o.providerMessages(st, ag))
	if float64(tokens) <= float64(o.contextTokenLimit)*o.compaction.Threshold {
		return
	}
	if o.CompactNow(ctx, st) {
		log.Info("context compacted",
			zap.Int("tokens_before", tokens),
			zap.Int("messages_after", len(st.Messages())),
		)
	}
}

func (o *Orchestrator) summarize(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := o.provider.Chat(ctx, provider.ChatRequest{
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: systemPrompt},
			{Role: chat.RoleUser, Content: userPrompt},
		},
	}, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func lastUserRequest(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser && !strings.HasPrefix(messages[i].Content, "[COMPACTION_SUMMARY]") {
			return messages[i].Content
		}
	}
	return ""
}
