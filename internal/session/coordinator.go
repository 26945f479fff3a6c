// Package session owns which thread is active. Switching threads tears down
// the previous log and its subscription; only one thread is ever hot.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatrelay/internal/engine"
	"chatrelay/internal/events"
	"chatrelay/internal/logging"
	"chatrelay/internal/models"
	"chatrelay/internal/remote"
)

// Coordinator binds the thread list manager and the sync engine.
type Coordinator struct {
	engine  *engine.Engine
	threads ThreadDeleter
	store   remote.Store
	pub     events.Publisher
	logger  zerolog.Logger

	mu       sync.Mutex
	selected string
	stopSub  func()
	pumpDone chan struct{}
}

// ThreadDeleter is the slice of the thread manager the coordinator needs.
type ThreadDeleter interface {
	Delete(ctx context.Context, threadID string) error
}

// NewCoordinator creates a coordinator. The store is consulted for the
// optional push capability; selection works without it.
func NewCoordinator(eng *engine.Engine, threads ThreadDeleter, store remote.Store, pub events.Publisher) *Coordinator {
	return &Coordinator{
		engine:  eng,
		threads: threads,
		store:   store,
		pub:     pub,
		logger:  logging.Component("session"),
	}
}

// Select makes threadID the active thread: the previous log and subscription
// are discarded and the new thread's log is loaded. Selecting the already
// active thread reloads it. An in-flight completion for the abandoned thread
// is not cancelled; its result re-enters through reconciliation if the thread
// is selected again.
func (c *Coordinator) Select(ctx context.Context, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		v := &models.ValidationErrors{}
		v.Add("thread_id", models.ErrMissingThread)
		return v.Err()
	}

	c.mu.Lock()
	stop := c.detachLocked()
	c.selected = threadID
	c.mu.Unlock()
	stop()

	_, err := c.engine.LoadLog(ctx, threadID)

	if sub, ok := c.store.(remote.Subscriber); ok && err == nil {
		if stream, stop, subErr := sub.SubscribeNewMessages(ctx, threadID); subErr == nil {
			done := make(chan struct{})
			c.mu.Lock()
			c.stopSub = stop
			c.pumpDone = done
			c.mu.Unlock()
			go c.pump(stream, done)
		} else {
			c.logger.Debug().Err(subErr).Str("thread_id", threadID).Msg("push subscription unavailable")
		}
	}

	c.pub.Publish(events.Event{Type: events.TypeSelectionChanged, ThreadID: threadID})
	return err
}

// ClearSelection drops the active thread and its log. Called explicitly or
// when the active thread is deleted.
func (c *Coordinator) ClearSelection() {
	c.mu.Lock()
	had := c.selected != ""
	stop := c.detachLocked()
	c.selected = ""
	c.mu.Unlock()
	stop()

	c.engine.ClearLog()
	if had {
		c.pub.Publish(events.Event{Type: events.TypeSelectionChanged})
	}
}

// Delete removes a thread; deleting the active thread clears selection and
// the held log.
func (c *Coordinator) Delete(ctx context.Context, threadID string) error {
	if err := c.threads.Delete(ctx, threadID); err != nil {
		return err
	}
	if c.Selected() == threadID {
		c.ClearSelection()
	}
	return nil
}

// Selected returns the active thread id, or "" when none is selected.
func (c *Coordinator) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Close tears down any live subscription and drains the engine.
func (c *Coordinator) Close() {
	c.mu.Lock()
	stop := c.detachLocked()
	c.mu.Unlock()
	stop()
	c.engine.Close()
}

// pump feeds pushed records into reconciliation until the stream closes.
func (c *Coordinator) pump(stream <-chan models.Message, done chan struct{}) {
	defer close(done)
	for msg := range stream {
		c.engine.Reconcile(msg)
	}
}

// detachLocked clears the current subscription state and returns a function
// that stops it and waits for the pump to exit. The returned function must be
// called after releasing the coordinator lock.
func (c *Coordinator) detachLocked() func() {
	stop := c.stopSub
	done := c.pumpDone
	c.stopSub = nil
	c.pumpDone = nil
	return func() {
		if stop != nil {
			stop()
		}
		if done != nil {
			<-done
		}
	}
}
