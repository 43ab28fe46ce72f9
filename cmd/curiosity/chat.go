package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"curiosity/internal/client"
	"curiosity/internal/config"
	"curiosity/internal/domain"
	"curiosity/internal/feed"
	"curiosity/internal/terminal"
)

// openGateway builds the client gateway with its local backup. The returned
// function closes the backup.
func openGateway(cfg *config.Config) (*client.Gateway, func(), error) {
	backup, err := client.NewSQLiteBackup(cfg.Client.BackupPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("local backup: %w", err)
	}
	gw := client.NewGateway(client.GatewayConfig{
		BaseURL: cfg.Client.ServerURL,
		Timeout: cfg.Client.Timeout(),
		Backup:  backup,
		Logger:  logger,
	})
	return gw, func() { _ = backup.Close() }, nil
}

func chatCmd() *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("warn")
			if err != nil {
				return err
			}
			if author != "" {
				cfg.Client.Author = author
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, closeBackup, err := openGateway(cfg)
			if err != nil {
				return err
			}
			defer closeBackup()

			view := terminal.NewView(os.Stdout, nil)
			fd := feed.New(feed.Config{
				Source:   gw,
				Debounce: cfg.Client.ScrollDebounce(),
				Settle:   cfg.Client.ScrollSettle(),
				Logger:   logger,
			})
			defer fd.Dispose()
			view.Bind(fd)

			if !gw.HealthCheck(ctx) {
				fmt.Fprintf(os.Stderr, "server %s is unreachable; messages will be kept locally\n", cfg.Client.ServerURL)
			}
			if err := fd.Initialize(ctx, func() feed.Container { return view }); err != nil {
				return err
			}

			repl := terminal.NewREPL(terminal.REPLConfig{
				Gateway: gw,
				Feed:    fd,
				View:    view,
				Author:  cfg.Client.Author,
				Out:     os.Stdout,
				Logger:  logger,
			})
			return repl.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&author, "author", "a", "", "author name for your messages (overrides client.author)")
	return cmd
}

// messageList adapts a plain slice to terminal.MessageSource.
type messageList []domain.Message

func (l messageList) Messages() []domain.Message { return l }

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("warn")
			if err != nil {
				return err
			}
			gw, closeBackup, err := openGateway(cfg)
			if err != nil {
				return err
			}
			defer closeBackup()

			msgs := gw.FetchAll(cmd.Context())
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}
			view := terminal.NewView(os.Stdout, nil)
			view.Bind(messageList(msgs))
			view.ScrollToBottom(true)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n messages")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show conversation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("warn")
			if err != nil {
				return err
			}
			gw, closeBackup, err := openGateway(cfg)
			if err != nil {
				return err
			}
			defer closeBackup()

			fmt.Println(terminal.FormatStats(gw.FetchStats(cmd.Context()), time.Now()))
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("warn")
			if err != nil {
				return err
			}
			gw := client.NewGateway(client.GatewayConfig{
				BaseURL: cfg.Client.ServerURL,
				Timeout: cfg.Client.Timeout(),
				Logger:  logger,
			})
			if !gw.HealthCheck(cmd.Context()) {
				return errors.New("server " + cfg.Client.ServerURL + " is unreachable")
			}
			fmt.Printf("server %s is healthy\n", cfg.Client.ServerURL)
			return nil
		},
	}
}
