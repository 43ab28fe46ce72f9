package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"curiosity/internal/agent"
	"curiosity/internal/api"
	"curiosity/internal/config"
	"curiosity/internal/conversation"
	"curiosity/internal/provider"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation HTTP API",
		Long:  "Serves the conversation under /api. Press Ctrl+C to stop; in-flight requests get the configured shutdown timeout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := conversation.NewStore(conversation.StoreConfig{
				Path:   cfg.Storage.ConversationPath,
				Logger: logger,
			})
			ingress := conversation.NewIngress(conversation.IngressConfig{
				Log:          store,
				Replies:      buildResponder(ctx, cfg),
				Assistant:    cfg.Assistant.Name,
				HistoryLimit: cfg.Assistant.HistoryLimit,
				Logger:       logger,
			})
			if !ingress.ReplyConfigured() {
				logger.Warn("reply generation is not configured; submissions will fail after the user message is stored")
			}

			metricsEndpoint := ""
			if cfg.Metrics.Enabled {
				metricsEndpoint = cfg.Metrics.Endpoint
			}
			srv := api.New(api.Config{
				Conversation:       ingress,
				AllowedOrigins:     cfg.Server.AllowedOrigins,
				RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
				RateLimitBurst:     cfg.Server.RateLimitBurst,
				MaxBodyBytes:       cfg.Server.MaxBodyBytes,
				MetricsEndpoint:    metricsEndpoint,
				Logger:             logger,
			})

			logger.Info("serving conversation", "log", store.Path(), "addr", cfg.Server.Addr(), "version", version)
			if err := srv.Run(ctx, cfg.Server.Addr(), cfg.Server.ShutdownTimeout()); err != nil {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}

// buildResponder resolves the configured provider. It returns nil when no
// provider can be built, which leaves replies unconfigured.
func buildResponder(ctx context.Context, cfg *config.Config) conversation.ReplyGenerator {
	prov, err := provider.NewFactory(cfg, logger).Resolve()
	if err != nil {
		logger.Warn("no reply provider", "err", err)
		return nil
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := prov.Healthy(healthCtx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	return agent.NewResponder(agent.ResponderConfig{
		Provider: prov,
		Prompt: agent.NewPromptBuilder(agent.PromptConfig{
			Name:              cfg.Assistant.Name,
			Principles:        cfg.Assistant.Principles,
			SystemPromptExtra: cfg.Assistant.SystemPromptExtra,
		}),
		Model:       cfg.Assistant.Model,
		MaxTokens:   cfg.Assistant.MaxTokens,
		Temperature: cfg.Assistant.Temperature,
		Timeout:     cfg.Assistant.Timeout(),
		Logger:      logger,
	})
}
