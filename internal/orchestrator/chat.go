package orchestrator

import (
	"context"
	"io"

	"deepagent/internal/chat"
	"deepagent/internal/delegate"
	"deepagent/internal/provider"
	"deepagent/internal/session"
)

// chat asks the reasoning engine for the next message. Only the main session
// streams; children run silently apart from their tool lines.
func (o *Orchestrator) chat(
	ctx context.Context,
	st *session.State,
	ag delegate.Agent,
	messages []chat.Message,
	out io.Writer,
) (provider.ChatResponse, error) {
	definitions := ag.Tools.Definitions()
	req := provider.ChatRequest{
		Model:    ag.Spec.Model,
		Messages: messages,
		Tools:    definitions,
	}

	var cb *provider.StreamCallbacks
	var thinking *thinkingStreamRenderer
	if st.Depth == 0 {
		if out != nil {
			thinking = newThinkingStreamRenderer(out)
		}
		if thinking != nil {
			cb = &provider.StreamCallbacks{OnReasoningChunk: thinking.Append}
		}
	}
	resp, err := o.provider.Chat(ctx, req, cb)
	thinking.Finish()
	if err != nil {
		return provider.ChatResponse{}, err
	}
	if len(resp.ToolCalls) == 0 {
		if recovered, cleaned := recoverToolCalls(resp.Content, definitions); len(recovered) > 0 {
			resp.ToolCalls = recovered
			resp.Content = cleaned
		}
	}
	return resp, nil
}
