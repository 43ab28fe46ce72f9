package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"curiosity/internal/config"
	"curiosity/internal/domain"
)

func TestOpenAI_ChatSendsRequestAndParsesReply(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Tell me more."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL + "/", Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "be curious"},
			{Role: domain.RoleUser, Content: "hi"},
		},
		MaxTokens:   1000,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "Tell me more." || resp.Usage.TotalTokens != 16 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Model != "gpt-4o" || got.MaxTokens != 1000 || got.Temperature == nil || *got.Temperature != 0.7 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAI_StatusErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	_, err := o.Chat(context.Background(), domain.ChatRequest{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", se.Code)
	}
}

func TestOpenAI_UnconfiguredDoesNotCallNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	for _, key := range []string{"", "  ", "${OPENAI_API_KEY}"} {
		o := NewOpenAI(OpenAIConfig{APIKey: key, APIBase: srv.URL, Logger: testLogger()})
		if o.Configured() {
			t.Fatalf("key %q should not count as configured", key)
		}
		if _, err := o.Chat(context.Background(), domain.ChatRequest{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if called {
		t.Fatal("unconfigured provider must not reach the network")
	}
}

func TestOpenAI_HealthyReportsBadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-bad", APIBase: srv.URL, Logger: testLogger()})
	err := o.Healthy(context.Background())
	if err == nil || err.Error() != "openai: invalid API key" {
		t.Fatalf("expected invalid key error, got %v", err)
	}
}

func TestOllama_ChatIsNonStreaming(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Why?"},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":2}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
		MaxTokens:   64,
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got.Stream {
		t.Fatal("request should not ask for streaming")
	}
	if got.Model != ollamaDefaultModel {
		t.Fatalf("expected default model, got %q", got.Model)
	}
	if got.Options["num_predict"] != float64(64) || got.Options["temperature"] != 0.5 {
		t.Fatalf("unexpected options %v", got.Options)
	}
	if resp.Content != "Why?" || resp.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	if err := o.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	if !o.Configured() {
		t.Fatal("ollama needs no credentials")
	}
}

// --- Factory ---

func TestFactory_GetCachesAndDefaults(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	p1, err := f.Get("")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if p1.Name() != "openai" {
		t.Fatalf("expected openai default, got %s", p1.Name())
	}
	p2, _ := f.Get("openai")
	if p1 != p2 {
		t.Fatal("expected cached instance")
	}
}

func TestFactory_DisabledAndUnknown(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	if _, err := f.Get("ollama"); err == nil {
		t.Fatal("ollama is disabled by default")
	}
	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactory_UnknownWithAPIBaseIsOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.test/v1", APIKey: "k"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get("groq")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("expected *OpenAI, got %T", p)
	}
}

func TestFactory_ResolveFailoverChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["ollama"] = config.ProviderConfig{Enabled: true}
	cfg.General.FailoverChain = []string{"openai", "ollama"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name() != "failover(openai→ollama)" {
		t.Fatalf("unexpected chain %s", p.Name())
	}
}

func TestFactory_ResolveSkipsUnusableChainEntries(t *testing.T) {
	cfg := config.Defaults()
	cfg.General.FailoverChain = []string{"ollama", "openai"} // ollama disabled
	f := NewFactory(cfg, testLogger())

	p, err := f.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected single openai provider, got %s", p.Name())
	}
}

func TestFactory_RegisterConstructor(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["mock"] = config.ProviderConfig{Enabled: true}
	cfg.Assistant.Provider = "mock"
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("mock", func(config.ProviderConfig, *slog.Logger) domain.Provider {
		return &mockProvider{name: "mock"}
	})

	p, err := f.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name() != "mock" {
		t.Fatalf("expected assistant provider override, got %s", p.Name())
	}
}
