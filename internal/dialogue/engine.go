// Package dialogue turns a user message and recent history into a reply.
//
// The model's free-text output is parsed once into a tagged Reply so callers
// never string-match control tokens themselves.
package dialogue

import (
	"context"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"github.com/bsl-salud/whatsbot/internal/knowledge"
	"github.com/bsl-salud/whatsbot/internal/metrics"
	"github.com/bsl-salud/whatsbot/internal/models"
)

// DefaultHistoryLimit is the number of prior messages (five exchanges) sent to the model.
const DefaultHistoryLimit = 10

// Generator produces a completion for an ordered message list.
type Generator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Retriever returns verified pairs similar to a query. It must not fail.
type Retriever interface {
	Similar(ctx context.Context, query string) []models.KnowledgeMatch
}

// Request is one turn to answer.
type Request struct {
	Phone       string
	UserMessage string
	// History is chronological; only the newest HistoryLimit entries are used.
	History []models.Message
	// PatientContext is an optional pre-rendered patient information block.
	PatientContext string
}

// Engine generates replies.
type Engine struct {
	gen          Generator
	retriever    Retriever
	systemPrompt string
	historyLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetriever enables knowledge retrieval.
func WithRetriever(r Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithSystemPrompt replaces the built-in instructions.
func WithSystemPrompt(p string) Option {
	return func(e *Engine) { e.systemPrompt = p }
}

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.historyLimit = n }
}

// NewEngine creates an engine over gen.
func NewEngine(gen Generator, opts ...Option) *Engine {
	e := &Engine{gen: gen, systemPrompt: SystemPrompt, historyLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Respond answers req. Generation failures produce the apology as a plain reply.
func (e *Engine) Respond(ctx context.Context, req Request) Reply {
	messages := e.buildMessages(ctx, req)

	start := time.Now()
	raw, err := e.gen.GenerateWithMessages(ctx, messages)
	if err != nil {
		metrics.GenerationLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
		slog.Error("Engine.Respond: generation failed, sending apology", "phone", req.Phone, "error", err)
		return Reply{Kind: PlainReply, Text: ApologyText}
	}
	metrics.GenerationLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	reply := ParseReply(raw)
	if reply.Kind == PlainReply && reply.Text == "" {
		reply.Text = ApologyText
	}
	metrics.Replies.WithLabelValues(reply.Kind.String()).Inc()
	slog.Debug("Engine.Respond: reply generated", "phone", req.Phone, "kind", reply.Kind.String())
	return reply
}

func (e *Engine) buildMessages(ctx context.Context, req Request) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(e.systemPrompt)}

	if req.PatientContext != "" {
		messages = append(messages, openai.SystemMessage(req.PatientContext))
	}
	if e.retriever != nil {
		if block := knowledge.FormatContext(e.retriever.Similar(ctx, req.UserMessage)); block != "" {
			messages = append(messages, openai.SystemMessage(block))
		}
	}

	history := req.History
	if e.historyLimit >= 0 && len(history) > e.historyLimit {
		history = history[len(history)-e.historyLimit:]
	}
	for _, msg := range history {
		if msg.Direction == models.DirectionInbound {
			messages = append(messages, openai.UserMessage(msg.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	switch {
	case IsVirtualChoice(req.UserMessage):
		messages = append(messages, openai.SystemMessage(virtualChoiceNote))
	case IsPresentialChoice(req.UserMessage):
		messages = append(messages, openai.SystemMessage(presentialChoiceNote))
	}

	return append(messages, openai.UserMessage(req.UserMessage))
}
