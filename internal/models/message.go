// Package models defines the core entities of the chat synchronization core.
package models

import (
	"errors"
	"strings"
	"time"
)

// Sender identifies the author of a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Status tracks a message's position in the optimistic-append lifecycle.
type Status string

const (
	// StatusPending marks a locally appended message awaiting remote confirmation.
	StatusPending Status = "pending"

	// StatusConfirmed marks a message acknowledged by the remote store.
	StatusConfirmed Status = "confirmed"

	// StatusFailed marks a message whose persistence or completion failed. Terminal.
	StatusFailed Status = "failed"
)

// Model validation errors.
var (
	ErrInvalidSender = errors.New("sender must be user or bot")
	ErrEmptyContent  = errors.New("content must not be empty")
	ErrMissingThread = errors.New("thread id required")
	ErrInvalidStatus = errors.New("unknown message status")
	ErrEmptyTitle    = errors.New("title must not be empty")
	ErrMissingOwner  = errors.New("owner id required")
)

// Message is one utterance within a thread.
//
// IDs are locally generated for optimistic entries and replaced by the
// remote-assigned id once confirmed. Sender is immutable after creation;
// Status only ever moves pending -> confirmed or pending -> failed.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`

	// Seq is the local insertion sequence, used to break CreatedAt ties.
	// Assigned by the sync engine; not persisted.
	Seq uint64 `json:"-"`
}

// Validate checks the message fields.
func (m *Message) Validate() error {
	v := &ValidationErrors{}
	if strings.TrimSpace(m.ThreadID) == "" {
		v.Add("thread_id", ErrMissingThread)
	}
	if m.Sender != SenderUser && m.Sender != SenderBot {
		v.Add("sender", ErrInvalidSender)
	}
	if strings.TrimSpace(m.Content) == "" {
		v.Add("content", ErrEmptyContent)
	}
	switch m.Status {
	case StatusPending, StatusConfirmed, StatusFailed:
	default:
		v.Add("status", ErrInvalidStatus)
	}
	return v.Err()
}

// Pending reports whether the message still awaits confirmation.
func (m *Message) Pending() bool {
	return m.Status == StatusPending
}

// Before orders messages by creation time, breaking ties by insertion sequence.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
