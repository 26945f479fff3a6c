// Package engine implements the message synchronization core: the
// authoritative in-memory ordered log for the active thread, bridging
// optimistic local appends with remote confirmation and bot completions.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay/internal/completion"
	"chatrelay/internal/events"
	"chatrelay/internal/logging"
	"chatrelay/internal/models"
	"chatrelay/internal/remote"
)

const (
	// CompletionErrorText is the fixed, user-visible text of the local-only
	// message synthesized when a completion fails. It is never persisted to
	// the remote store.
	CompletionErrorText = "Error: Could not reach AI or save message."

	// TypingPlaceholderText fills the transient bot placeholder shown while
	// a completion is in flight.
	TypingPlaceholderText = "…"

	// reconcileWindow is how far apart local and remote creation times may
	// be for a remote echo to match a pending local entry.
	reconcileWindow = 5 * time.Second

	localIDPrefix = "local-"
)

// Engine owns the ordered message log for the currently active thread.
//
// All log mutation happens under one mutex; asynchronous persistence and
// completion continuations re-acquire it before touching state, so log
// operations for a given thread are serialized. Only one thread's log is
// ever held live.
type Engine struct {
	store   remote.Store
	gateway completion.Gateway
	pub     events.Publisher
	logger  zerolog.Logger

	mu       sync.Mutex
	threadID string
	log      []models.Message
	seq      uint64
	inflight map[string]bool

	pending sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides local id generation (tests).
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New creates an engine over the given store and gateway. The publisher
// receives a notification for every log change and may be shared with other
// components; it must not be nil.
func New(store remote.Store, gateway completion.Gateway, pub events.Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		gateway:  gateway,
		pub:      pub,
		logger:   logging.Component("engine"),
		inflight: make(map[string]bool),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return localIDPrefix + uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadLog fetches the confirmed log for threadID from the remote store and
// replaces the in-memory state. On failure the previous log is discarded
// rather than shown against the wrong thread.
func (e *Engine) LoadLog(ctx context.Context, threadID string) ([]models.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		v := &models.ValidationErrors{}
		v.Add("thread_id", models.ErrMissingThread)
		return nil, v.Err()
	}

	messages, err := e.store.ListMessages(ctx, threadID)

	e.mu.Lock()
	e.threadID = threadID
	e.log = e.log[:0]
	if err == nil {
		for _, msg := range messages {
			msg.Status = models.StatusConfirmed
			e.seq++
			msg.Seq = e.seq
			e.log = append(e.log, msg)
		}
	}
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	e.pub.Publish(events.Event{Type: events.TypeLogReplaced, ThreadID: threadID})

	if err != nil {
		return nil, fmt.Errorf("load log for thread %s: %w", threadID, err)
	}
	return snapshot, nil
}

// SubmitUserMessage optimistically appends a pending user message, then
// asynchronously persists it and, on success, requests a completion. Empty
// input and an unselected thread are rejected without touching any state.
func (e *Engine) SubmitUserMessage(ctx context.Context, threadID, text string) error {
	content := strings.TrimSpace(text)

	v := &models.ValidationErrors{}
	if content == "" {
		v.Add("content", models.ErrEmptyContent)
	}
	if strings.TrimSpace(threadID) == "" {
		v.Add("thread_id", models.ErrMissingThread)
	}
	if err := v.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.threadID != threadID {
		e.mu.Unlock()
		nv := &models.ValidationErrors{}
		nv.Add("thread_id", ErrThreadNotActive)
		return nv.Err()
	}
	msg := e.appendLocked(threadID, models.SenderUser, content, models.StatusPending)
	e.mu.Unlock()

	e.pub.Publish(events.Event{Type: events.TypeMessageAppended, ThreadID: threadID, Message: &msg})

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		e.persistUserMessage(ctx, threadID, msg.ID, content)
	}()
	return nil
}

func (e *Engine) persistUserMessage(ctx context.Context, threadID, localID, content string) {
	stored, err := e.store.AppendMessage(ctx, threadID, models.SenderUser, content)
	if err != nil {
		e.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to persist user message")
		e.transition(threadID, localID, "", models.StatusFailed)
		return
	}

	e.transition(threadID, localID, stored.ID, models.StatusConfirmed)
	e.RequestCompletion(ctx, threadID, content)
}

// RequestCompletion asks the gateway for a bot reply to userText. At most one
// completion is outstanding per thread; a second call while one is in flight
// is a no-op. The call blocks until the completion resolves, so callers that
// need the optimistic behavior run it from a goroutine (SubmitUserMessage
// already does).
func (e *Engine) RequestCompletion(ctx context.Context, threadID, userText string) {
	e.mu.Lock()
	if e.inflight[threadID] {
		e.mu.Unlock()
		return
	}
	e.inflight[threadID] = true

	var placeholderID string
	if e.threadID == threadID {
		placeholder := e.appendLocked(threadID, models.SenderBot, TypingPlaceholderText, models.StatusPending)
		placeholderID = placeholder.ID
		e.mu.Unlock()
		e.pub.Publish(events.Event{Type: events.TypeMessageAppended, ThreadID: threadID, Message: &placeholder})
	} else {
		e.mu.Unlock()
	}

	reply, err := e.gateway.Complete(ctx, userText)

	e.mu.Lock()
	delete(e.inflight, threadID)
	active := e.threadID == threadID
	if active && placeholderID != "" {
		e.removeLocked(placeholderID)
	}
	e.mu.Unlock()

	if active && placeholderID != "" {
		e.pub.Publish(events.Event{Type: events.TypeMessageRemoved, ThreadID: threadID,
			Message: &models.Message{ID: placeholderID, ThreadID: threadID, Sender: models.SenderBot}})
	}

	if err != nil {
		e.logger.Warn().Err(err).Str("thread_id", threadID).
			Str("kind", string(completion.KindOf(err))).Msg("completion failed")
		if active {
			e.appendCompletionError(threadID)
		}
		return
	}

	e.applyBotReply(ctx, threadID, reply, active)
}

// applyBotReply lands a successful completion: locally appended when the
// thread is still active, and always persisted so a later rehydration of the
// thread observes it.
func (e *Engine) applyBotReply(ctx context.Context, threadID, reply string, active bool) {
	var localID string
	if active {
		e.mu.Lock()
		msg := e.appendLocked(threadID, models.SenderBot, reply, models.StatusConfirmed)
		localID = msg.ID
		e.mu.Unlock()
		e.pub.Publish(events.Event{Type: events.TypeMessageAppended, ThreadID: threadID, Message: &msg})
	}

	stored, err := e.store.AppendMessage(ctx, threadID, models.SenderBot, reply)
	if err != nil {
		e.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to persist bot reply")
		if active {
			e.transition(threadID, localID, "", models.StatusFailed)
		}
		return
	}
	if active {
		e.adoptID(threadID, localID, stored.ID)
	}
}

// appendCompletionError appends the local-only failed bot message. It is
// deliberately never persisted: error strings are diagnostics, not part of
// the conversation record.
func (e *Engine) appendCompletionError(threadID string) {
	e.mu.Lock()
	msg := e.appendLocked(threadID, models.SenderBot, CompletionErrorText, models.StatusFailed)
	e.mu.Unlock()
	e.pub.Publish(events.Event{Type: events.TypeMessageAppended, ThreadID: threadID, Message: &msg})
}

// Reconcile applies a remote-delivered record against the local log. A
// pending entry with the same sender and content created within the dedupe
// window is upgraded in place; anything else is inserted as a new confirmed
// message. Applying the same record twice is a no-op.
func (e *Engine) Reconcile(remoteMsg models.Message) {
	e.mu.Lock()

	if e.threadID != remoteMsg.ThreadID {
		e.mu.Unlock()
		return
	}

	// Already known by remote id.
	for i := range e.log {
		if e.log[i].ID == remoteMsg.ID {
			e.mu.Unlock()
			return
		}
	}

	// Upgrade a matching pending entry.
	for i := range e.log {
		entry := &e.log[i]
		if !entry.Pending() || entry.Sender != remoteMsg.Sender || entry.Content != remoteMsg.Content {
			continue
		}
		delta := entry.CreatedAt.Sub(remoteMsg.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > reconcileWindow {
			continue
		}
		entry.ID = remoteMsg.ID
		entry.Status = models.StatusConfirmed
		updated := *entry
		e.mu.Unlock()
		e.pub.Publish(events.Event{Type: events.TypeMessageUpdated, ThreadID: remoteMsg.ThreadID, Message: &updated})
		return
	}

	// New record from another session; insert in creation order without
	// disturbing existing entries.
	remoteMsg.Status = models.StatusConfirmed
	e.seq++
	remoteMsg.Seq = e.seq
	pos := len(e.log)
	for pos > 0 && remoteMsg.Before(&e.log[pos-1]) && !e.log[pos-1].Pending() {
		pos--
	}
	e.log = append(e.log, models.Message{})
	copy(e.log[pos+1:], e.log[pos:])
	e.log[pos] = remoteMsg
	e.mu.Unlock()

	e.pub.Publish(events.Event{Type: events.TypeMessageAppended, ThreadID: remoteMsg.ThreadID, Message: &remoteMsg})
}

// Log returns a copy of the active thread's log.
func (e *Engine) Log() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// ActiveThread returns the id of the thread whose log is held, if any.
func (e *Engine) ActiveThread() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threadID
}

// ClearLog discards the in-memory log and active thread. Called on selection
// teardown and when the active thread is deleted.
func (e *Engine) ClearLog() {
	e.mu.Lock()
	cleared := e.threadID
	e.threadID = ""
	e.log = nil
	e.mu.Unlock()

	if cleared != "" {
		e.pub.Publish(events.Event{Type: events.TypeLogReplaced, ThreadID: ""})
	}
}

// Wait blocks until all outstanding asynchronous operations have settled.
// Used by Close and by tests asserting post-network state.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Close waits for in-flight work to drain.
func (e *Engine) Close() {
	e.Wait()
}

// appendLocked places a new message after all currently-known entries.
func (e *Engine) appendLocked(threadID string, sender models.Sender, content string, status models.Status) models.Message {
	e.seq++
	msg := models.Message{
		ID:        e.newID(),
		ThreadID:  threadID,
		Sender:    sender,
		Content:   content,
		CreatedAt: e.now(),
		Status:    status,
		Seq:       e.seq,
	}
	e.log = append(e.log, msg)
	return msg
}

func (e *Engine) removeLocked(id string) {
	for i := range e.log {
		if e.log[i].ID == id {
			e.log = append(e.log[:i], e.log[i+1:]...)
			return
		}
	}
}

// transition moves a message out of pending, optionally adopting a remote id.
func (e *Engine) transition(threadID, localID, remoteID string, status models.Status) {
	e.mu.Lock()
	if e.threadID != threadID {
		e.mu.Unlock()
		return
	}
	var updated *models.Message
	for i := range e.log {
		if e.log[i].ID != localID {
			continue
		}
		if remoteID != "" {
			e.log[i].ID = remoteID
		}
		e.log[i].Status = status
		copied := e.log[i]
		updated = &copied
		break
	}
	e.mu.Unlock()

	if updated != nil {
		e.pub.Publish(events.Event{Type: events.TypeMessageUpdated, ThreadID: threadID, Message: updated})
	}
}

func (e *Engine) adoptID(threadID, localID, remoteID string) {
	e.transition(threadID, localID, remoteID, models.StatusConfirmed)
}

func (e *Engine) snapshotLocked() []models.Message {
	out := make([]models.Message, len(e.log))
	copy(out, e.log)
	return out
}
