package conversation

import (
	"context"
	"errors"
	"log/slog"

	"curiosity/internal/domain"
	"curiosity/internal/metrics"
)

// DefaultAssistant is the author name used for generated replies.
const DefaultAssistant = "Curiosity"

// MessageLog is the subset of Store used by Ingress.
type MessageLog interface {
	ReadAll(ctx context.Context) *domain.ConversationLog
	Append(ctx context.Context, author, content string) (domain.Message, error)
}

// ReplyGenerator produces the assistant's reply to a user message.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, text string, history []domain.Message) (string, error)
	// Configured reports whether the generator has what it needs to run.
	Configured() bool
}

type IngressConfig struct {
	Log     MessageLog
	Replies ReplyGenerator
	// Assistant is the author stamped on replies.
	Assistant string
	// HistoryLimit caps the prior messages handed to the generator. 0 disables history.
	HistoryLimit int
	Logger       *slog.Logger
}

// Ingress accepts user submissions, records them and pairs each with a reply.
type Ingress struct {
	log          MessageLog
	replies      ReplyGenerator
	assistant    string
	historyLimit int
	logger       *slog.Logger
}

func NewIngress(cfg IngressConfig) *Ingress {
	if cfg.Assistant == "" {
		cfg.Assistant = DefaultAssistant
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	return &Ingress{
		log:          cfg.Log,
		replies:      cfg.Replies,
		assistant:    cfg.Assistant,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
	}
}

// Assistant returns the author name used for replies.
func (in *Ingress) Assistant() string { return in.assistant }

// ReplyConfigured reports whether replies can be generated.
func (in *Ingress) ReplyConfigured() bool {
	return in.replies != nil && in.replies.Configured()
}

// Messages returns the full conversation in log order.
func (in *Ingress) Messages(ctx context.Context) []domain.Message {
	return in.log.ReadAll(ctx).Messages
}

// Stats summarizes the conversation.
func (in *Ingress) Stats(ctx context.Context) domain.Stats {
	return domain.StatsOf(in.Messages(ctx))
}

// Submit validates and records a user message, then generates and records
// the reply. A reply failure leaves the user message in the log.
func (in *Ingress) Submit(ctx context.Context, req SubmitRequest) (*domain.Exchange, error) {
	if err := Validate(req); err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return nil, err
	}
	author, content := Sanitize(req)

	history := in.history(ctx)

	userMsg, err := in.log.Append(ctx, author, content)
	if err != nil {
		metrics.Submissions.WithLabelValues("storage_error").Inc()
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues("user").Inc()
	in.logger.Debug("user message recorded", "author", author, "len", len(content))

	if in.replies == nil {
		metrics.Submissions.WithLabelValues("upstream_error").Inc()
		return nil, &UpstreamError{Err: errors.New("no reply generator configured")}
	}
	reply, err := in.replies.GenerateReply(ctx, content, history)
	if err != nil {
		in.logger.Error("reply generation failed", "author", author, "err", err)
		metrics.Submissions.WithLabelValues("upstream_error").Inc()
		return nil, &UpstreamError{Err: err}
	}

	replyMsg, err := in.log.Append(ctx, in.assistant, reply)
	if err != nil {
		metrics.Submissions.WithLabelValues("storage_error").Inc()
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues("assistant").Inc()
	metrics.Submissions.WithLabelValues("ok").Inc()

	return &domain.Exchange{UserMessage: userMsg, CuriosityResponse: replyMsg}, nil
}

// history returns the last historyLimit messages currently in the log.
func (in *Ingress) history(ctx context.Context) []domain.Message {
	if in.historyLimit == 0 {
		return nil
	}
	msgs := in.log.ReadAll(ctx).Messages
	if len(msgs) > in.historyLimit {
		msgs = msgs[len(msgs)-in.historyLimit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}
