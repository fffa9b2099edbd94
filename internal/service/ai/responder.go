package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/shopbot/backend/internal/analysis/mood"
	"github.com/zhouzirui/shopbot/backend/internal/apperr"
	"github.com/zhouzirui/shopbot/backend/internal/logging"
	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/model/persona"
)

// FallbackReply is sent whenever generation fails or times out.
const FallbackReply = "抱歉，系統暫時無法回覆，請稍後再試或聯繫客服人員。"

// Responder turns a buyer message plus history into a reply via an eino chain.
type Responder struct {
	persona atomic.Pointer[persona.Persona]
	chain   compose.Runnable[map[string]any, *schema.Message]
	log     logging.Logger
}

type Option func(*Responder)

func WithLogger(log logging.Logger) Option {
	return func(r *Responder) {
		r.log = log
	}
}

// NewResponder compiles the prompt → model chain once.
func NewResponder(ctx context.Context, chatModel model.BaseChatModel, p persona.Persona, opts ...Option) (*Responder, error) {
	if chatModel == nil {
		return nil, errors.New("ai: chat model must not be nil")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	r := &Responder{
		chain: runnable,
		log:   logging.Discard(),
	}
	r.persona.Store(&p)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Persona returns the persona the responder speaks as.
func (r *Responder) Persona() persona.Persona {
	return *r.persona.Load()
}

// UpdateKnowledge swaps the knowledge base used by subsequent replies.
func (r *Responder) UpdateKnowledge(knowledge string) {
	next := r.Persona().WithKnowledge(knowledge)
	r.persona.Store(&next)
}

// Generate returns the model's reply. Failures, including an empty reply,
// are reported as apperr.ErrGeneration; the caller decides on the fallback.
func (r *Responder) Generate(ctx context.Context, senderID, text string, history []conversation.Entry) (string, error) {
	decision := mood.Analyze(text)
	input := map[string]any{
		"system":  BuildSystemPrompt(r.Persona(), decision.Mood),
		"history": historyMessages(history),
		"query":   text,
	}

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		reason := "invoke"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		return "", apperr.New(apperr.KindGeneration, reason, err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", apperr.New(apperr.KindGeneration, "empty_reply", nil)
	}

	reply := strings.TrimSpace(response.Content)
	r.log.Debug(ctx, "ai reply generated",
		"sender", senderID,
		"mood", string(decision.Mood),
		"history", len(history),
		"length", len([]rune(reply)),
	)
	return reply, nil
}

func historyMessages(entries []conversation.Entry) []*schema.Message {
	if len(entries) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(entries))
	for _, entry := range entries {
		switch entry.Role {
		case conversation.RoleUser:
			history = append(history, schema.UserMessage(entry.Text))
		case conversation.RoleAssistant:
			history = append(history, schema.AssistantMessage(entry.Text, nil))
		}
	}
	return history
}
