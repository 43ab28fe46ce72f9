// Package api exposes the conversation over HTTP under /api.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"curiosity/internal/conversation"
	"curiosity/internal/domain"
	"curiosity/internal/metrics"
)

const (
	defaultMaxBodyBytes = 1 << 20
	readHeaderTimeout   = 10 * time.Second
)

// Conversation is the server-side use of conversation.Ingress.
type Conversation interface {
	Messages(ctx context.Context) []domain.Message
	Stats(ctx context.Context) domain.Stats
	Submit(ctx context.Context, req conversation.SubmitRequest) (*domain.Exchange, error)
	ReplyConfigured() bool
}

type Config struct {
	Conversation   Conversation
	AllowedOrigins []string
	// RateLimitPerMinute limits POSTs per client IP. 0 disables limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxBodyBytes       int64
	// MetricsEndpoint serves Prometheus metrics when non-empty.
	MetricsEndpoint string
	Logger          *slog.Logger
	Now             func() time.Time
}

type Server struct {
	conv         Conversation
	maxBodyBytes int64
	logger       *slog.Logger
	now          func() time.Time
	handler      http.Handler
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		conv:         cfg.Conversation,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/conversation/messages", s.handleMessages)
	mux.HandleFunc("POST /api/conversation/messages", s.handleSubmit)
	mux.HandleFunc("GET /api/conversation/stats", s.handleStats)

	// Legacy aliases.
	mux.Handle("GET /api/messages", http.RedirectHandler("/api/conversation/messages", http.StatusMovedPermanently))
	mux.Handle("GET /api/stats", http.RedirectHandler("/api/conversation/stats", http.StatusMovedPermanently))
	mux.HandleFunc("POST /api/messages", s.handleSubmit)

	if cfg.MetricsEndpoint != "" {
		mux.Handle("GET "+cfg.MetricsEndpoint, metrics.Handler())
	}

	var h http.Handler = mux
	h = rateLimit(newLimiterPool(cfg.RateLimitPerMinute, cfg.RateLimitBurst, cfg.Now), cfg.Logger)(h)
	h = corsHandler(cfg.AllowedOrigins)(h)
	h = accessLog(cfg.Logger)(h)
	h = requestID(h)
	h = recovery(cfg.Logger)(h)
	s.handler = h
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on addr until ctx is cancelled, then shuts down gracefully,
// waiting at most shutdownTimeout for in-flight requests.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server started", "addr", "http://"+ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"timestamp":       domain.FormatTimestamp(s.now()),
		"uptime":          metrics.Uptime().Seconds(),
		"replyConfigured": s.conv.ReplyConfigured(),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.conv.Messages(r.Context())
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeData(w, http.StatusOK, msgs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.conv.Stats(r.Context()))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req conversation.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	exchange, err := s.conv.Submit(r.Context(), req)
	if err != nil {
		var invalid *conversation.ValidationError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Reason)
			return
		}
		s.logger.Error("submit failed", "request_id", RequestIDFrom(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error while saving message")
		return
	}
	writeData(w, http.StatusCreated, exchange)
}
