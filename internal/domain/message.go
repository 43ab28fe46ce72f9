package domain

import (
	"strconv"
	"time"
)

// TimestampLayout is the ISO-8601 form used for message timestamps:
// UTC with millisecond precision, e.g. 2025-01-02T15:04:05.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is a single immutable entry of the conversation log.
type Message struct {
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessage stamps a message with the given time formatted as TimestampLayout.
func NewMessage(author, content string, at time.Time) Message {
	return Message{
		Author:    author,
		Content:   content,
		Timestamp: FormatTimestamp(at),
	}
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Time parses the message timestamp. Any RFC 3339 form is accepted.
func (m Message) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, m.Timestamp)
}

// Hash returns the deduplication key author|content|timestampMillis.
// An unparseable timestamp is used verbatim.
func (m Message) Hash() string {
	ts := m.Timestamp
	if t, err := m.Time(); err == nil {
		ts = strconv.FormatInt(t.UnixMilli(), 10)
	}
	return m.Author + "|" + m.Content + "|" + ts
}

// ConversationLog is the persisted document: {"messages": [...]}.
type ConversationLog struct {
	Messages []Message `json:"messages"`
}

// Len returns the number of messages in the log.
func (l *ConversationLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Messages)
}

// Stats summarizes a conversation log.
type Stats struct {
	TotalMessages   int    `json:"totalMessages"`
	LastMessageTime string `json:"lastMessageTime,omitempty"`
}

// StatsOf computes Stats for the given messages in log order.
func StatsOf(msgs []Message) Stats {
	s := Stats{TotalMessages: len(msgs)}
	if len(msgs) > 0 {
		s.LastMessageTime = msgs[len(msgs)-1].Timestamp
	}
	return s
}

// Exchange is the result of one submission: the user's message followed by
// the assistant's reply.
type Exchange struct {
	UserMessage       Message `json:"userMessage"`
	CuriosityResponse Message `json:"curiosityResponse"`
}

// Messages returns the exchange in submission order.
func (e Exchange) Messages() []Message {
	return []Message{e.UserMessage, e.CuriosityResponse}
}
