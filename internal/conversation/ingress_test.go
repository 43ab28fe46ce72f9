package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curiosity/internal/domain"
)

type fakeReplies struct {
	reply      string
	err        error
	configured bool

	calls   int
	text    string
	history []domain.Message
}

func (f *fakeReplies) GenerateReply(_ context.Context, text string, history []domain.Message) (string, error) {
	f.calls++
	f.text = text
	f.history = history
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeReplies) Configured() bool { return f.configured }

// countingLog wraps a Store and counts appends.
type countingLog struct {
	*Store
	appends int
}

func (c *countingLog) Append(ctx context.Context, author, content string) (domain.Message, error) {
	c.appends++
	return c.Store.Append(ctx, author, content)
}

func newTestIngress(t *testing.T, replies ReplyGenerator, historyLimit int) (*Ingress, *countingLog) {
	t.Helper()
	log := &countingLog{Store: NewStore(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "conversation.json"),
		Logger: testLogger(),
	})}
	in := NewIngress(IngressConfig{
		Log:          log,
		Replies:      replies,
		HistoryLimit: historyLimit,
		Logger:       testLogger(),
	})
	return in, log
}

func TestIngress_SubmitRecordsExchange(t *testing.T) {
	replies := &fakeReplies{reply: "Why do you ask?", configured: true}
	in, log := newTestIngress(t, replies, 20)
	ctx := context.Background()

	ex, err := in.Submit(ctx, SubmitRequest{Author: "  user ", Content: " Hello world  "})
	require.NoError(t, err)

	assert.Equal(t, "user", ex.UserMessage.Author)
	assert.Equal(t, "Hello world", ex.UserMessage.Content)
	assert.Equal(t, DefaultAssistant, ex.CuriosityResponse.Author)
	assert.Equal(t, "Why do you ask?", ex.CuriosityResponse.Content)
	assert.Equal(t, "Hello world", replies.text)

	msgs := in.Messages(ctx)
	require.Len(t, msgs, 2)
	assert.Equal(t, ex.UserMessage, msgs[0])
	assert.Equal(t, ex.CuriosityResponse, msgs[1])
	assert.Equal(t, 2, log.appends)
}

func TestIngress_ValidationBoundary(t *testing.T) {
	cases := []struct {
		name   string
		req    SubmitRequest
		reason string
	}{
		{"empty author", SubmitRequest{Author: "", Content: "hello"}, ReasonRequired},
		{"blank content", SubmitRequest{Author: "bob", Content: "   "}, ReasonEmptyContent},
		{"blank author", SubmitRequest{Author: "  ", Content: "hi"}, ReasonEmptyAuthor},
		{"null content", SubmitRequest{Author: "bob", Content: nil}, ReasonRequired},
		{"numeric content", SubmitRequest{Author: "bob", Content: float64(7)}, ReasonNotStrings},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			replies := &fakeReplies{reply: "x", configured: true}
			in, log := newTestIngress(t, replies, 20)

			ex, err := in.Submit(context.Background(), tc.req)
			assert.Nil(t, ex)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.reason, ve.Reason)

			assert.Zero(t, log.appends)
			assert.Zero(t, replies.calls)
		})
	}
}

func TestIngress_UpstreamFailureKeepsUserMessage(t *testing.T) {
	cause := errors.New("quota exceeded")
	in, log := newTestIngress(t, &fakeReplies{err: cause}, 20)
	ctx := context.Background()

	ex, err := in.Submit(ctx, SubmitRequest{Author: "user", Content: "hi"})
	assert.Nil(t, ex)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.ErrorIs(t, err, cause)

	msgs := in.Messages(ctx)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, 1, log.appends)
}

func TestIngress_NilGeneratorIsUpstreamError(t *testing.T) {
	in, _ := newTestIngress(t, nil, 20)

	_, err := in.Submit(context.Background(), SubmitRequest{Author: "user", Content: "hi"})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.False(t, in.ReplyConfigured())
}

func TestIngress_HistoryPrecedesNewMessageAndIsCapped(t *testing.T) {
	replies := &fakeReplies{reply: "ok", configured: true}
	in, _ := newTestIngress(t, replies, 3)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := in.Submit(ctx, SubmitRequest{Author: "user", Content: text})
		require.NoError(t, err)
	}

	// The log now holds one, ok, two, ok, three, ok; the third call saw the
	// three messages before "three".
	require.Len(t, replies.history, 3)
	assert.Equal(t, "ok", replies.history[0].Content)
	assert.Equal(t, "two", replies.history[1].Content)
	assert.Equal(t, "ok", replies.history[2].Content)
	assert.Equal(t, "three", replies.text)
}

func TestIngress_HistoryDisabled(t *testing.T) {
	replies := &fakeReplies{reply: "ok", configured: true}
	in, _ := newTestIngress(t, replies, 0)
	ctx := context.Background()

	_, err := in.Submit(ctx, SubmitRequest{Author: "user", Content: "one"})
	require.NoError(t, err)
	_, err = in.Submit(ctx, SubmitRequest{Author: "user", Content: "two"})
	require.NoError(t, err)

	assert.Empty(t, replies.history)
}

func TestIngress_Stats(t *testing.T) {
	in, _ := newTestIngress(t, &fakeReplies{reply: "ok", configured: true}, 20)
	ctx := context.Background()

	ex, err := in.Submit(ctx, SubmitRequest{Author: "user", Content: "hi"})
	require.NoError(t, err)

	stats := in.Stats(ctx)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, ex.CuriosityResponse.Timestamp, stats.LastMessageTime)
	assert.True(t, in.ReplyConfigured())
}
