// Package client talks to the curiosity server on behalf of a user: it
// submits messages, reads the conversation back, mirrors what it sees into a
// local backup and falls back to that backup when the server is unreachable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"curiosity/internal/bus"
	"curiosity/internal/domain"
	"curiosity/internal/metrics"
)

// ErrSaveFailed is returned by Submit when neither the server nor the local
// backup accepted the message.
var ErrSaveFailed = errors.New("failed to save message, please try again")

const (
	defaultTimeout = 10 * time.Second
	// maxResponseBytes caps how much of a server response is read.
	maxResponseBytes = 8 << 20
)

type GatewayConfig struct {
	// BaseURL is the API root, e.g. http://localhost:3001/api.
	BaseURL string
	Timeout time.Duration
	Backup  LocalBackup
	// Bus receives every saved message. A new bus is created when nil.
	Bus *bus.MessageBus
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Gateway is the client-side entry point to the conversation.
type Gateway struct {
	baseURL string
	client  *http.Client
	backup  LocalBackup
	bus     *bus.MessageBus
	logger  *slog.Logger
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.NewMessageBus(cfg.Logger)
	}
	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		backup:  cfg.Backup,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
	}
}

// OnMessage registers handler for every message the gateway saves. The
// returned function unsubscribes it.
func (g *Gateway) OnMessage(handler bus.MessageHandler) (unsubscribe func()) {
	return g.bus.Subscribe(handler)
}

// Submit sends msg to the server. On success the server's messages are
// mirrored locally and emitted. On failure msg alone is saved locally and
// emitted; only when that also fails is ErrSaveFailed returned.
func (g *Gateway) Submit(ctx context.Context, msg domain.Message) error {
	result, err := g.submitRemote(ctx, msg)
	// The local write outlives cancellation of the request.
	saveCtx := context.WithoutCancel(ctx)
	if err == nil {
		for _, m := range result.Messages() {
			if berr := g.backupAppend(saveCtx, m); berr != nil {
				g.logger.Warn("cannot mirror message to local backup", "err", berr)
			}
			g.bus.Emit(m)
		}
		return nil
	}

	g.logger.Warn("submit failed, saving locally", "url", g.baseURL, "err", err)
	metrics.GatewayFallbacks.WithLabelValues("submit").Inc()

	if berr := g.backupAppend(saveCtx, msg); berr != nil {
		g.logger.Error("local fallback failed", "err", berr)
		return fmt.Errorf("%w: %w", ErrSaveFailed, berr)
	}
	g.bus.Emit(msg)
	return nil
}

func (g *Gateway) submitRemote(ctx context.Context, msg domain.Message) (SubmitResult, error) {
	body, err := json.Marshal(map[string]string{"author": msg.Author, "content": msg.Content})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	env, err := g.do(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return nil, err
	}
	return decodeSubmitResult(env, msg)
}

// FetchAll returns the whole conversation from the server, or the local
// backup when the server cannot be reached.
func (g *Gateway) FetchAll(ctx context.Context) []domain.Message {
	msgs, err := g.fetchRemote(ctx)
	if err == nil {
		return msgs
	}

	g.logger.Warn("fetch failed, reading local backup", "url", g.baseURL, "err", err)
	metrics.GatewayFallbacks.WithLabelValues("fetch").Inc()

	if g.backup == nil {
		return []domain.Message{}
	}
	local, err := g.backup.Load(ctx)
	if err != nil {
		g.logger.Error("cannot read local backup", "err", err)
		return []domain.Message{}
	}
	return local
}

func (g *Gateway) fetchRemote(ctx context.Context) ([]domain.Message, error) {
	env, err := g.do(ctx, http.MethodGet, "/messages", nil)
	if err != nil {
		return nil, err
	}
	msgs := []domain.Message{}
	if env.hasData() {
		if err := json.Unmarshal(env.Data, &msgs); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	}
	return msgs, nil
}

// FetchStats returns the server's stats, or zero stats on any failure.
func (g *Gateway) FetchStats(ctx context.Context) domain.Stats {
	env, err := g.do(ctx, http.MethodGet, "/stats", nil)
	if err != nil {
		g.logger.Warn("stats unavailable", "err", err)
		metrics.GatewayFallbacks.WithLabelValues("stats").Inc()
		return domain.Stats{}
	}
	var stats domain.Stats
	if env.hasData() {
		if err := json.Unmarshal(env.Data, &stats); err != nil {
			g.logger.Warn("cannot decode stats", "err", err)
			return domain.Stats{}
		}
	}
	return stats
}

// HealthCheck reports whether the server answered its health check with a
// 2xx status.
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// do performs one API call and returns the decoded, successful envelope.
func (g *Gateway) do(ctx context.Context, method, path string, body []byte) (envelope, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return envelope{}, fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return envelope{}, fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	if err := env.err(); err != nil {
		return envelope{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return env, nil
}

func (g *Gateway) backupAppend(ctx context.Context, msg domain.Message) error {
	if g.backup == nil {
		return errors.New("no local backup configured")
	}
	return g.backup.Append(ctx, msg)
}
