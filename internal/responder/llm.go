package responder

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-sync/internal/llm"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

// LLMResponder generates replies with an LLM provider client.
type LLMResponder struct {
	client       llm.Client
	model        string
	systemPrompt string
	log          *logger.Logger
}

// NewLLMResponder creates a responder backed by the given LLM client.
// model and systemPrompt may be empty for provider defaults.
func NewLLMResponder(client llm.Client, model, systemPrompt string, log *logger.Logger) *LLMResponder {
	return &LLMResponder{
		client:       client,
		model:        model,
		systemPrompt: systemPrompt,
		log:          log,
	}
}

// Invoke sends the user text to the LLM and returns its reply. Provider
// errors are transport errors; an LLM has no explicit-failure channel.
func (r *LLMResponder) Invoke(ctx context.Context, conversationID, text string) (*Result, error) {
	var messages []llm.ChatMessage
	if r.systemPrompt != "" {
		messages = append(messages, llm.ChatMessage{Role: "system", Content: r.systemPrompt})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: text})

	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	r.log.Debug("responder completion",
		zap.String("conversation_id", conversationID),
		zap.String("model", resp.Model),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	return &Result{Success: true, ReplyText: resp.Content}, nil
}
