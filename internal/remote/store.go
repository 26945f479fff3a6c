// Package remote defines the persisted-store boundary of the chat core.
//
// The store is the single source of truth for durability; everything the
// engine holds in memory is a cache that must tolerate being stale. Two
// implementations are provided: an HTTP client for a hosted store and an
// embedded SQLite store for local or self-hosted use.
package remote

import (
	"context"
	"errors"

	"chatrelay/internal/models"
)

// Store is the narrow interface the chat core consumes.
type Store interface {
	// ListThreads returns the owner's threads, most recently updated first.
	ListThreads(ctx context.Context, ownerID string) ([]models.Thread, error)

	// CreateThread persists a new thread and returns the canonical record.
	CreateThread(ctx context.Context, ownerID, title string) (*models.Thread, error)

	// DeleteThread removes a thread and all of its messages, returning the
	// number of affected records.
	DeleteThread(ctx context.Context, threadID string) (int64, error)

	// ListMessages returns the thread's confirmed log ordered by creation time.
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)

	// AppendMessage persists one message and returns the canonical record.
	AppendMessage(ctx context.Context, threadID string, sender models.Sender, content string) (*models.Message, error)
}

// Subscriber is the optional push capability of a store.
type Subscriber interface {
	// SubscribeNewMessages streams messages appended to the thread after the
	// call. The returned cancel function releases the subscription.
	SubscribeNewMessages(ctx context.Context, threadID string) (<-chan models.Message, func(), error)
}

// Store errors.
var (
	// ErrUnavailable indicates the store could not be reached. Callers keep
	// their last-known state and surface the failure.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrThreadNotFound indicates the thread does not exist remotely.
	ErrThreadNotFound = errors.New("thread not found")
)

// TokenSource supplies the per-call auth token. Identity management is
// external to this core; the source is consulted at call time rather than
// captured once.
type TokenSource func() string
