package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"curiosity/internal/domain"
)

// OpenAI implements domain.Provider for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Configured reports whether an API key is present. Unexpanded ${VAR}
// placeholders count as missing.
func (o *OpenAI) Configured() bool {
	key := strings.TrimSpace(o.apiKey)
	return key != "" && !strings.HasPrefix(key, "${")
}

func (o *OpenAI) Healthy(ctx context.Context) error {
	if !o.Configured() {
		return errors.New("openai: API key is not configured")
	}
	code, err := ping(ctx, o.client, "openai", o.apiBase+"/models", o.headers())
	if code == http.StatusUnauthorized {
		return errors.New("openai: invalid API key")
	}
	return err
}

func (o *OpenAI) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if !o.Configured() {
		return nil, errors.New("openai: API key is not configured")
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	msgs := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, oaiMessage{Role: m.Role, Content: m.Content})
	}

	body := oaiRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	start := time.Now()
	var oaiResp oaiResponse
	if err := postJSON(ctx, o.client, "openai", o.apiBase+"/chat/completions", o.headers(), body, &oaiResp); err != nil {
		return nil, err
	}

	out := &domain.ChatResponse{
		FinishReason: "stop",
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	if len(oaiResp.Choices) > 0 {
		out.Content = oaiResp.Choices[0].Message.Content
		out.FinishReason = oaiResp.Choices[0].FinishReason
	}
	o.logger.Debug("openai completion",
		"model", model,
		"finish", out.FinishReason,
		"tokens", out.Usage.TotalTokens,
		"latency_ms", out.LatencyMs,
	)
	return out, nil
}
