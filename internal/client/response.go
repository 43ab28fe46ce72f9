package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"curiosity/internal/domain"
)

// envelope is the server's response wrapper: {success, data?, error?}.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// err returns a non-nil error when the envelope reports failure.
func (e envelope) err() error {
	if e.Success {
		return nil
	}
	if e.Error != "" {
		return errors.New(e.Error)
	}
	return errors.New("unknown API error")
}

// hasData reports whether data is present and not null.
func (e envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// SubmitResult is what a successful submission returned: either the paired
// user message and reply, or a single message from an older server.
type SubmitResult interface {
	// Messages returns the result's messages in emission order.
	Messages() []domain.Message
	isSubmitResult()
}

// PairedMessages is the current response shape.
type PairedMessages struct {
	User  domain.Message
	Reply domain.Message
}

func (p PairedMessages) Messages() []domain.Message { return []domain.Message{p.User, p.Reply} }
func (PairedMessages) isSubmitResult()              {}

// LegacySingleMessage is the response of servers that store only the
// submitted message.
type LegacySingleMessage struct {
	Message domain.Message
}

func (l LegacySingleMessage) Messages() []domain.Message { return []domain.Message{l.Message} }
func (LegacySingleMessage) isSubmitResult()              {}

// decodeSubmitResult classifies the data of a successful submission. When
// the server sent no data, the submitted message stands in for it.
func decodeSubmitResult(env envelope, submitted domain.Message) (SubmitResult, error) {
	if !env.hasData() {
		return LegacySingleMessage{Message: submitted}, nil
	}
	var paired struct {
		UserMessage       *domain.Message `json:"userMessage"`
		CuriosityResponse *domain.Message `json:"curiosityResponse"`
	}
	if err := json.Unmarshal(env.Data, &paired); err == nil {
		if complete(paired.UserMessage) && complete(paired.CuriosityResponse) {
			return PairedMessages{User: *paired.UserMessage, Reply: *paired.CuriosityResponse}, nil
		}
		if complete(paired.UserMessage) {
			return LegacySingleMessage{Message: *paired.UserMessage}, nil
		}
	}
	var single domain.Message
	if err := json.Unmarshal(env.Data, &single); err != nil {
		return nil, fmt.Errorf("decode submit result: %w", err)
	}
	if !complete(&single) {
		// Unrecognized payload; keep what the user typed.
		return LegacySingleMessage{Message: submitted}, nil
	}
	return LegacySingleMessage{Message: single}, nil
}

// complete reports whether m carries both an author and content.
func complete(m *domain.Message) bool {
	return m != nil && m.Author != "" && m.Content != ""
}
