package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"curiosity/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama implements domain.Provider for a local or hosted Ollama server.
type Ollama struct {
	apiBase      string
	defaultModel string
	client       *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Client       *http.Client
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		defaultModel: cfg.DefaultModel,
		client:       cfg.Client,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

// Configured is always true: Ollama needs no credentials.
func (o *Ollama) Configured() bool { return true }

func (o *Ollama) Healthy(ctx context.Context) error {
	_, err := ping(ctx, o.client, "ollama", o.apiBase+"/api/tags", nil)
	return err
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	msgs := make([]ollamaMsg, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMsg{Role: m.Role, Content: m.Content})
	}

	body := ollamaRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
	}
	opts := make(map[string]any)
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		body.Options = opts
	}

	start := time.Now()
	var resp ollamaResponse
	if err := postJSON(ctx, o.client, "ollama", o.apiBase+"/api/chat", nil, body, &resp); err != nil {
		return nil, err
	}

	out := &domain.ChatResponse{
		Content:      resp.Message.Content,
		FinishReason: resp.DoneReason,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
	o.logger.Debug("ollama completion", "model", model, "finish", out.FinishReason, "latency_ms", out.LatencyMs)
	return out, nil
}
