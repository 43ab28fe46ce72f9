package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"curiosity/internal/config"
	"curiosity/internal/logging"
)

var (
	version    = "0.1.0"
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logCloser  io.Closer
	configPath string // overridable via --config flag
	logLevel   string // overridable via --log-level flag
)

func main() {
	root := &cobra.Command{
		Use:           "curiosity",
		Short:         "Curiosity: a durable chat log with an assistant that asks back",
		Long:          "Curiosity keeps a single conversation on disk and pairs every message with a reply from an LLM persona.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.curiosity/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides general.logLevel)")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	err := root.Execute()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads .env, then the config file or defaults when it is absent,
// and rebuilds the logger from the result. quietLevel applies when neither
// the flag nor the file picked a level.
func loadConfig(quietLevel string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Warn("ignoring .env", "err", err)
	}

	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return nil, err
	}

	level := cfg.General.LogLevel
	if quietLevel != "" && level == config.Defaults().General.LogLevel {
		level = quietLevel
	}
	if logLevel != "" {
		level = logLevel
	}
	l, closer, err := logging.New(level, cfg.General.LogFile)
	if err != nil {
		return nil, err
	}
	logger, logCloser = l, closer
	logger.Debug("config loaded", "path", cfgPath)
	return cfg, nil
}
