package models

import (
	"strings"
	"time"
)

// Thread is a single conversation between one user and the automated responder.
//
// Threads are created on explicit user request and destroyed on explicit
// delete. Content is never mutated; the remote store bumps UpdatedAt when a
// new message lands in the thread.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the thread fields.
func (t *Thread) Validate() error {
	v := &ValidationErrors{}
	if strings.TrimSpace(t.Title) == "" {
		v.Add("title", ErrEmptyTitle)
	}
	if strings.TrimSpace(t.OwnerID) == "" {
		v.Add("owner_id", ErrMissingOwner)
	}
	return v.Err()
}
