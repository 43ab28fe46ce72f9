package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"curiosity/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name         string
	healthy      bool
	unconfigured bool
	chatErr      error
	chatResp     *domain.ChatResponse
	calls        int
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Configured() bool { return !m.unconfigured }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailoverProvider_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
	if p2.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", p2.calls)
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailoverProvider_SkipsUnconfigured(t *testing.T) {
	p1 := &mockProvider{name: "nokey", unconfigured: true, chatResp: &domain.ChatResponse{Content: "never"}}
	p2 := &mockProvider{name: "local", chatResp: &domain.ChatResponse{Content: "from-local"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-local" || p1.calls != 0 {
		t.Fatalf("expected unconfigured provider to be skipped, got %q (calls=%d)", resp.Content, p1.calls)
	}
	if !fp.Configured() {
		t.Fatal("chain with one configured provider should be configured")
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	last := errors.New("fail 2")
	p1 := &mockProvider{name: "p1", healthy: true, chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", healthy: true, chatErr: last}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !errors.Is(err, last) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
}

func TestFailoverProvider_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p1 := &mockProvider{name: "p1", chatErr: context.Canceled}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if _, err := fp.Chat(ctx, domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if p2.calls != 0 {
		t.Fatalf("chain should stop on cancellation, p2 called %d times", p2.calls)
	}
}

func TestFailoverProvider_Empty(t *testing.T) {
	fp := NewFailoverProvider(nil, testLogger())
	if _, err := fp.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
	if fp.Configured() {
		t.Fatal("empty chain should not be configured")
	}
}

func TestFailoverProvider_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailoverProvider_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	p1 := &mockProvider{name: "ollama"}
	p2 := &mockProvider{name: "openai"}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	name := fp.Name()
	if name != "failover(ollama→openai)" {
		t.Fatalf("expected 'failover(ollama→openai)', got %q", name)
	}
}
