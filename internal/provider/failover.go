package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"curiosity/internal/domain"
)

// FailoverProvider tries multiple providers in order, falling back to the next
// one when the current fails.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Configured is true when any provider in the chain is configured.
func (fp *FailoverProvider) Configured() bool {
	for _, p := range fp.providers {
		if p.Configured() {
			return true
		}
	}
	return false
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Chat tries each provider in order. Returns the first successful response.
// Unconfigured providers are skipped. A cancelled context stops the chain.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, errors.New("failover chain is empty")
	}

	var lastErr error
	for i, p := range fp.providers {
		if !p.Configured() {
			lastErr = fmt.Errorf("%s is not configured", p.Name())
			continue
		}
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
