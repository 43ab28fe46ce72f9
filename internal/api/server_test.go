package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"curiosity/internal/conversation"
	"curiosity/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type stubReplies struct {
	reply string
	err   error
}

func (s *stubReplies) GenerateReply(context.Context, string, []domain.Message) (string, error) {
	return s.reply, s.err
}

func (s *stubReplies) Configured() bool { return s.err == nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type fixture struct {
	srv     *httptest.Server
	store   *conversation.Store
	replies *stubReplies
	client  *http.Client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	store := conversation.NewStore(conversation.StoreConfig{
		Path:   filepath.Join(t.TempDir(), "conversation.json"),
		Logger: quietLogger(),
	})
	replies := &stubReplies{reply: "What made you curious about that?"}
	ingress := conversation.NewIngress(conversation.IngressConfig{
		Log:          store,
		Replies:      replies,
		HistoryLimit: 10,
		Logger:       quietLogger(),
	})
	cfg := Config{
		Conversation:    ingress,
		AllowedOrigins:  []string{"http://localhost:5173"},
		MetricsEndpoint: "/metrics",
		Logger:          quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(srv.Close)
	return &fixture{
		srv:     srv,
		store:   store,
		replies: replies,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func TestServer_EndToEndConversation(t *testing.T) {
	f := newFixture(t, nil)

	resp, env := f.do(t, http.MethodGet, "/api/conversation/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.JSONEq(t, `[]`, string(env.Data))

	resp, env = f.do(t, http.MethodPost, "/api/conversation/messages", `{"author":"  ada ","content":" hello "}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	var exchange domain.Exchange
	require.NoError(t, json.Unmarshal(env.Data, &exchange))
	assert.Equal(t, "ada", exchange.UserMessage.Author)
	assert.Equal(t, "hello", exchange.UserMessage.Content)
	assert.Equal(t, conversation.DefaultAssistant, exchange.CuriosityResponse.Author)
	assert.Equal(t, f.replies.reply, exchange.CuriosityResponse.Content)

	resp, env = f.do(t, http.MethodGet, "/api/conversation/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &msgs))
	assert.Equal(t, exchange.Messages(), msgs)

	resp, env = f.do(t, http.MethodGet, "/api/conversation/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats domain.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, domain.Stats{TotalMessages: 2, LastMessageTime: exchange.CuriosityResponse.Timestamp}, stats)
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, nil)

	resp, env := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, true, data["replyConfigured"])
	assert.Contains(t, data, "uptime")
	_, err := time.Parse(time.RFC3339Nano, data["timestamp"].(string))
	assert.NoError(t, err)
}

func TestServer_ValidationRejectsWithoutAppending(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		body   string
		reason string
	}{
		{`{"author":"","content":"hello"}`, conversation.ReasonRequired},
		{`{"author":"bob","content":"   "}`, conversation.ReasonEmptyContent},
		{`{"author":"bob","content":42}`, conversation.ReasonNotStrings},
		{`{}`, conversation.ReasonRequired},
	}
	for _, tc := range cases {
		resp, env := f.do(t, http.MethodPost, "/api/conversation/messages", tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.body)
		assert.False(t, env.Success)
		assert.Equal(t, tc.reason, env.Error, tc.body)
	}
	assert.Equal(t, 0, f.store.ReadAll(context.Background()).Len())
}

func TestServer_InvalidJSON(t *testing.T) {
	f := newFixture(t, nil)

	resp, env := f.do(t, http.MethodPost, "/api/conversation/messages", `{"author":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid JSON body", env.Error)
}

func TestServer_BodyTooLarge(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxBodyBytes = 64 })

	body := `{"author":"ada","content":"` + strings.Repeat("x", 200) + `"}`
	resp, env := f.do(t, http.MethodPost, "/api/conversation/messages", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestServer_UpstreamFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.replies.err = errors.New("openai: 503 with secret details")

	resp, env := f.do(t, http.MethodPost, "/api/conversation/messages", `{"author":"ada","content":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error while saving message", env.Error)
	assert.NotContains(t, env.Error, "secret")

	msgs := f.store.ReadAll(context.Background()).Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestServer_LegacyRoutes(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/messages", "")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/api/conversation/messages", resp.Header.Get("Location"))

	resp, _ = f.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/api/conversation/stats", resp.Header.Get("Location"))

	resp, env := f.do(t, http.MethodPost, "/api/messages", `{"author":"ada","content":"legacy"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, 2, f.store.ReadAll(context.Background()).Len())
}

func TestServer_RateLimitsPosts(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RateLimitPerMinute = 1
		c.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/conversation/messages", `{"author":"ada","content":"hi"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, env := f.do(t, http.MethodPost, "/api/conversation/messages", `{"author":"ada","content":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, env.Success)

	// Reads are not limited.
	resp, _ = f.do(t, http.MethodGet, "/api/conversation/messages", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RequestID(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/health", "")
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err = f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestServer_CORS(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/health", "")

	resp, err := f.client.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "curiosity_http_requests_total")
}

type panicking struct{ Conversation }

func (panicking) ReplyConfigured() bool { panic("boom") }

func TestServer_RecoversFromPanics(t *testing.T) {
	srv := httptest.NewServer(New(Config{Conversation: panicking{}, Logger: quietLogger()}).Handler())
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "internal server error", env.Error)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(Config{Conversation: panicking{}, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln, time.Second) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	require.Eventually(t, func() bool {
		resp, err := client.Post("http://"+ln.Addr().String()+"/api/conversation/messages", "application/json", bytes.NewBufferString("{"))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusBadRequest
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
