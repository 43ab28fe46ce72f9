package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"curiosity/internal/domain"
)

// Gateway is what the REPL needs from client.Gateway.
type Gateway interface {
	Submit(ctx context.Context, msg domain.Message) error
	FetchStats(ctx context.Context) domain.Stats
	HealthCheck(ctx context.Context) bool
}

// Screen redraws the feed. *View satisfies it.
type Screen interface {
	ScrollToBottom(immediate bool)
	// Rewind marks everything as unprinted so the next scroll redraws it.
	Rewind()
}

// Reloader reruns the feed's load step.
type Reloader interface {
	RetryLoad(ctx context.Context) error
}

type REPLConfig struct {
	Gateway Gateway
	Feed    Reloader
	// View is redrawn after /reload. Optional.
	View   Screen
	Author string
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

// REPL reads one message per line and submits it.
type REPL struct {
	gateway Gateway
	feed    Reloader
	view    Screen
	author  string
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
	now     func() time.Time
}

func NewREPL(cfg REPLConfig) *REPL {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Author == "" {
		cfg.Author = "user"
	}
	return &REPL{
		gateway: cfg.Gateway,
		feed:    cfg.Feed,
		view:    cfg.View,
		author:  cfg.Author,
		in:      cfg.In,
		out:     cfg.Out,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Run blocks until the input ends, the user quits or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	r.printf("Chatting as %s. Type a message and press Enter. /help lists commands, /quit exits.\n", r.author)

	scanner := bufio.NewScanner(r.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				r.logger.Info("user requested quit")
				return nil
			}
			continue
		}

		msg := domain.NewMessage(r.author, line, r.now())
		if err := r.gateway.Submit(ctx, msg); err != nil {
			r.logger.Error("submit failed", "err", err)
			r.printf("! %v\n", err)
			if errors.Is(err, context.Canceled) {
				return nil
			}
		}
	}
}

// command handles a slash command and reports whether the REPL should exit.
func (r *REPL) command(ctx context.Context, line string) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit", "/q":
		return true
	case "/stats":
		r.printf("%s\n", FormatStats(r.gateway.FetchStats(ctx), r.now()))
	case "/health":
		if r.gateway.HealthCheck(ctx) {
			r.printf("server is healthy\n")
		} else {
			r.printf("server is unreachable; messages are saved locally\n")
		}
	case "/reload":
		if r.feed == nil {
			r.printf("nothing to reload\n")
			break
		}
		if err := r.feed.RetryLoad(ctx); err != nil {
			r.printf("! reload: %v\n", err)
			break
		}
		if r.view != nil {
			r.printf("-- reloaded --\n")
			r.view.Rewind()
			r.view.ScrollToBottom(true)
		}
	case "/help":
		r.printf("/stats   conversation size\n/health  server status\n/reload  reload the conversation\n/quit    exit\n")
	default:
		r.printf("unknown command %s, try /help\n", line)
	}
	return false
}

func (r *REPL) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// FormatStats renders stats for people, e.g. "1,204 messages, last 3 minutes ago".
func FormatStats(s domain.Stats, now time.Time) string {
	noun := "messages"
	if s.TotalMessages == 1 {
		noun = "message"
	}
	out := fmt.Sprintf("%s %s", humanize.Comma(int64(s.TotalMessages)), noun)
	if s.LastMessageTime == "" {
		return out
	}
	last, err := domain.Message{Timestamp: s.LastMessageTime}.Time()
	if err != nil {
		return out + ", last " + s.LastMessageTime
	}
	return out + ", last " + humanize.RelTime(last, now, "ago", "from now")
}
