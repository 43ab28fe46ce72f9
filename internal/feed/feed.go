// Package feed keeps a client's ordered, duplicate-free view of the
// conversation and tells the UI when to scroll to the newest message.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"curiosity/internal/bus"
	"curiosity/internal/domain"
	"curiosity/internal/metrics"
)

const (
	DefaultDebounce = 100 * time.Millisecond
	DefaultSettle   = 10 * time.Millisecond
)

// State is the lifecycle of a Feed.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Source supplies the history and the stream of new messages.
type Source interface {
	FetchAll(ctx context.Context) []domain.Message
	OnMessage(handler bus.MessageHandler) (unsubscribe func())
}

// Container is the UI surface showing the feed.
type Container interface {
	ScrollToBottom(immediate bool)
}

// ContainerAccessor returns the current container, or nil when none is
// mounted yet.
type ContainerAccessor func() Container

type Config struct {
	Source Source
	// Debounce is the trailing delay before scrolling after new messages.
	Debounce time.Duration
	// Settle is the delay of the second scroll after the initial load.
	Settle time.Duration
	Logger *slog.Logger
}

// Feed is the ordered view. All methods are safe for concurrent use.
// Containers are always called without the feed lock held, so they may
// read Messages.
type Feed struct {
	src      Source
	debounce time.Duration
	settle   time.Duration
	logger   *slog.Logger

	mu            sync.Mutex
	state         State
	messages      []domain.Message
	hashes        map[string]struct{}
	disposed      bool
	accessor      ContainerAccessor
	unsubscribe   func()
	loadGen       uint64
	debounceTimer *time.Timer
	settleTimer   *time.Timer
}

func New(cfg Config) *Feed {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Feed{
		src:      cfg.Source,
		debounce: cfg.Debounce,
		settle:   cfg.Settle,
		logger:   cfg.Logger,
		hashes:   make(map[string]struct{}),
	}
}

// Initialize loads the history, scrolls the container to the bottom and
// subscribes to new messages. Calling it again reloads without subscribing
// twice. It does nothing once the feed is disposed.
func (f *Feed) Initialize(ctx context.Context, accessor ContainerAccessor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil
	}
	f.accessor = accessor
	f.mu.Unlock()

	if !f.load(ctx) {
		return nil
	}

	if c := f.container(); c != nil {
		c.ScrollToBottom(true)
		f.mu.Lock()
		if !f.disposed {
			f.stopTimer(f.settleTimer)
			f.settleTimer = time.AfterFunc(f.settle, func() { f.scroll(true) })
		}
		f.mu.Unlock()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed || f.unsubscribe != nil {
		return nil
	}
	f.unsubscribe = f.src.OnMessage(func(m domain.Message) { f.Add(m) })
	return nil
}

// RetryLoad reruns the load step. The subscription is left as is.
func (f *Feed) RetryLoad(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.load(ctx)
	return nil
}

// load replaces the view with the source's history. It reports false when
// the result was discarded because the feed was disposed or a newer load
// started in the meantime.
func (f *Feed) load(ctx context.Context) bool {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return false
	}
	f.state = StateLoading
	f.loadGen++
	gen := f.loadGen
	f.mu.Unlock()

	msgs := f.src.FetchAll(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed || gen != f.loadGen {
		return false
	}
	f.messages = append(make([]domain.Message, 0, len(msgs)), msgs...)
	f.hashes = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		f.hashes[m.Hash()] = struct{}{}
	}
	f.state = StateReady
	f.logger.Debug("feed loaded", "messages", len(msgs))
	return true
}

// Add appends msg unless the feed is disposed or already holds a message
// with the same hash. It reports whether msg was added. Accepted messages
// schedule one trailing scroll per burst.
func (f *Feed) Add(msg domain.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disposed {
		return false
	}
	h := msg.Hash()
	if _, seen := f.hashes[h]; seen {
		metrics.FeedDuplicates.Inc()
		return false
	}
	f.messages = append(f.messages, msg)
	f.hashes[h] = struct{}{}

	f.stopTimer(f.debounceTimer)
	f.debounceTimer = time.AfterFunc(f.debounce, func() { f.scroll(false) })
	return true
}

// Dispose makes the feed inert: timers stop, the subscription is dropped
// and the view is cleared. It is safe to call more than once.
func (f *Feed) Dispose() {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.disposed = true
	f.stopTimer(f.debounceTimer)
	f.stopTimer(f.settleTimer)
	f.debounceTimer, f.settleTimer = nil, nil
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.messages = nil
	f.hashes = make(map[string]struct{})
	f.accessor = nil
	f.state = StateIdle
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Messages returns a copy of the view in order.
func (f *Feed) Messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages...)
}

func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *Feed) scroll(immediate bool) {
	if c := f.container(); c != nil {
		c.ScrollToBottom(immediate)
	}
}

// container resolves the current container unless the feed is disposed.
func (f *Feed) container() Container {
	f.mu.Lock()
	accessor := f.accessor
	disposed := f.disposed
	f.mu.Unlock()
	if disposed || accessor == nil {
		return nil
	}
	return accessor()
}

func (f *Feed) stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
