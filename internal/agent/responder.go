// Package agent turns a user message and the recent conversation into an
// assistant reply by prompting an LLM provider as the configured persona.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"curiosity/internal/domain"
	"curiosity/internal/metrics"
)

// ErrEmptyReply is returned when the provider produced no text.
var ErrEmptyReply = errors.New("no reply was generated")

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
	defaultTimeout     = 60 * time.Second
)

type ResponderConfig struct {
	Provider    domain.Provider
	Prompt      *PromptBuilder
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Responder generates replies in the persona's voice.
type Responder struct {
	provider    domain.Provider
	prompt      *PromptBuilder
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(PromptConfig{})
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Responder{
		provider:    cfg.Provider,
		prompt:      cfg.Prompt,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// Configured reports whether a provider with credentials is wired in.
func (r *Responder) Configured() bool {
	return r.provider != nil && r.provider.Configured()
}

// GenerateReply asks the provider for the persona's answer to text, given
// the messages that preceded it.
func (r *Responder) GenerateReply(ctx context.Context, text string, history []domain.Message) (string, error) {
	if r.provider == nil {
		return "", errors.New("no provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := domain.ChatRequest{
		Messages:    r.buildMessages(text, history),
		Model:       r.model,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}

	name := r.provider.Name()
	start := time.Now()
	resp, err := r.provider.Chat(ctx, req)
	metrics.LLMLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(name, "error").Inc()
		return "", err
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		metrics.LLMRequestsTotal.WithLabelValues(name, "empty").Inc()
		return "", ErrEmptyReply
	}
	metrics.LLMRequestsTotal.WithLabelValues(name, "ok").Inc()

	r.logger.Debug("reply generated",
		"provider", name,
		"history", len(history),
		"tokens", resp.Usage.TotalTokens,
		"finish", resp.FinishReason,
	)
	return reply, nil
}

// buildMessages lays out system prompt, history, then the new user text.
// History authored by the persona maps to the assistant role.
func (r *Responder) buildMessages(text string, history []domain.Message) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: r.prompt.BuildSystemPrompt()})

	for _, m := range history {
		role := domain.RoleUser
		if m.Author == r.prompt.Name() {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, domain.ChatMessage{Role: role, Content: m.Content})
	}

	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: text})
	return msgs
}
