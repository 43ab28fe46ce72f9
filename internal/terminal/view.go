// Package terminal is the interactive client: a line-oriented REPL that
// submits messages through the gateway and a view that prints the feed.
package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"

	"curiosity/internal/domain"
)

// MessageSource is the ordered view a View renders. *feed.Feed satisfies it.
type MessageSource interface {
	Messages() []domain.Message
}

// View prints feed messages to a writer. It implements feed.Container: each
// scroll prints whatever the feed holds that has not been printed yet.
type View struct {
	mu      sync.Mutex
	out     io.Writer
	src     MessageSource
	loc     *time.Location
	printed int
}

// NewView returns a view writing to out. Times are shown in loc, or local
// time when loc is nil.
func NewView(out io.Writer, loc *time.Location) *View {
	if loc == nil {
		loc = time.Local
	}
	return &View{out: out, loc: loc}
}

// Bind sets the source the view renders.
func (v *View) Bind(src MessageSource) {
	v.mu.Lock()
	v.src = src
	v.printed = 0
	v.mu.Unlock()
}

func (v *View) ScrollToBottom(immediate bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.src == nil {
		return
	}
	msgs := v.src.Messages()
	// A reload may have shrunk the view.
	if v.printed > len(msgs) {
		v.printed = len(msgs)
	}
	for _, m := range msgs[v.printed:] {
		_, _ = fmt.Fprintln(v.out, v.format(m))
	}
	v.printed = len(msgs)
}

// Rewind forgets what has been printed. The next scroll prints the whole
// source again, which is how a reloaded history is shown.
func (v *View) Rewind() {
	v.mu.Lock()
	v.printed = 0
	v.mu.Unlock()
}

// Printed returns how many messages have been rendered.
func (v *View) Printed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.printed
}

func (v *View) format(m domain.Message) string {
	clock := "--:--"
	if t, err := m.Time(); err == nil {
		clock = t.In(v.loc).Format("15:04")
	}
	return fmt.Sprintf("[%s] %s: %s", clock, m.Author, m.Content)
}
