// Package threads manages the user's thread set, kept consistent with the
// remote store.
package threads

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatrelay/internal/events"
	"chatrelay/internal/logging"
	"chatrelay/internal/models"
	"chatrelay/internal/remote"
)

// Manager owns the in-memory thread list. Unlike messages, thread creation is
// not optimistic: a list entry without a remote id cannot be selected, so an
// unconfirmed ghost entry has no user value. Entries appear only once the
// remote accepts them.
type Manager struct {
	store  remote.Store
	pub    events.Publisher
	logger zerolog.Logger

	mu      sync.Mutex
	threads []models.Thread
}

// NewManager creates a manager over the given store.
func NewManager(store remote.Store, pub events.Publisher) *Manager {
	return &Manager{
		store:  store,
		pub:    pub,
		logger: logging.Component("threads"),
	}
}

// List fetches the owner's threads, most recently updated first, and replaces
// the in-memory list. On failure the last-known list is kept and returned
// alongside the error.
func (m *Manager) List(ctx context.Context, ownerID string) ([]models.Thread, error) {
	if strings.TrimSpace(ownerID) == "" {
		v := &models.ValidationErrors{}
		v.Add("owner_id", models.ErrMissingOwner)
		return nil, v.Err()
	}

	fetched, err := m.store.ListThreads(ctx, ownerID)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list threads")
		return m.Threads(), fmt.Errorf("list threads: %w", err)
	}

	m.mu.Lock()
	m.threads = fetched
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.pub.Publish(events.Event{Type: events.TypeThreadListChanged, Threads: snapshot})
	return snapshot, nil
}

// Create persists a new thread and prepends it to the list once confirmed.
// Blank titles are rejected before any network call.
func (m *Manager) Create(ctx context.Context, ownerID, title string) (*models.Thread, error) {
	title = strings.TrimSpace(title)

	v := &models.ValidationErrors{}
	if title == "" {
		v.Add("title", models.ErrEmptyTitle)
	}
	if strings.TrimSpace(ownerID) == "" {
		v.Add("owner_id", models.ErrMissingOwner)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	created, err := m.store.CreateThread(ctx, ownerID, title)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	m.mu.Lock()
	m.threads = append([]models.Thread{*created}, m.threads...)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info().Str("thread_id", created.ID).Msg("thread created")
	m.pub.Publish(events.Event{Type: events.TypeThreadListChanged, ThreadID: created.ID, Threads: snapshot})
	return created, nil
}

// Delete removes a thread remotely, then from the list. On failure the
// thread stays; deletion is never assumed.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		v := &models.ValidationErrors{}
		v.Add("thread_id", models.ErrMissingThread)
		return v.Err()
	}

	affected, err := m.store.DeleteThread(ctx, threadID)
	if err != nil {
		m.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to delete thread")
		return fmt.Errorf("delete thread: %w", err)
	}

	m.mu.Lock()
	kept := m.threads[:0]
	for _, t := range m.threads {
		if t.ID != threadID {
			kept = append(kept, t)
		}
	}
	m.threads = kept
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info().Str("thread_id", threadID).Int64("affected", affected).Msg("thread deleted")
	m.pub.Publish(events.Event{Type: events.TypeThreadListChanged, ThreadID: threadID, Threads: snapshot})
	return nil
}

// Threads returns a copy of the in-memory list.
func (m *Manager) Threads() []models.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Get returns the listed thread with the given id, if present.
func (m *Manager) Get(threadID string) (*models.Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.threads {
		if m.threads[i].ID == threadID {
			copied := m.threads[i]
			return &copied, true
		}
	}
	return nil, false
}

func (m *Manager) snapshotLocked() []models.Thread {
	out := make([]models.Thread, len(m.threads))
	copy(out, m.threads)
	return out
}
