// Package bus delivers conversation messages to in-process listeners.
package bus

import (
	"log/slog"
	"sync"

	"curiosity/internal/domain"
)

// MessageHandler is a callback for emitted messages.
type MessageHandler func(domain.Message)

// MessageBus is an ordered, synchronous listener registry. Every emitted
// message reaches every listener registered at emit time exactly once, in
// registration order. A panicking listener is logged and skipped; the rest
// still run.
type MessageBus struct {
	mu       sync.RWMutex
	handlers []namedHandler
	nextID   uint64
	logger   *slog.Logger
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	id      uint64
	handler MessageHandler
}

func NewMessageBus(logger *slog.Logger) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{logger: logger}
}

// Subscribe registers handler and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *MessageBus) Subscribe(handler MessageHandler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, namedHandler{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *MessageBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.id == id {
			// Copy so an in-flight Emit keeps its snapshot intact.
			next := make([]namedHandler, 0, len(b.handlers)-1)
			next = append(next, b.handlers[:i]...)
			b.handlers = append(next, b.handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every registered handler with msg, synchronously and in order.
func (b *MessageBus) Emit(msg domain.Message) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, msg)
	}
}

func (b *MessageBus) dispatch(h namedHandler, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panic", "handler", h.id, "author", msg.Author, "panic", r)
		}
	}()
	h.handler(msg)
}

// Len returns the number of registered handlers.
func (b *MessageBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
