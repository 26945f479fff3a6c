// Package events provides in-process change notification for the chat core.
//
// The sync engine and thread list manager publish events here instead of
// holding references to any presentation layer; consumers subscribe with a
// filter and render from the resulting stream.
package events

import (
	"sync"

	"chatrelay/internal/models"
)

// Type identifies what changed.
type Type string

const (
	// TypeLogReplaced fires when a thread's log is loaded or cleared wholesale.
	TypeLogReplaced Type = "log.replaced"

	// TypeMessageAppended fires when a message enters the active log.
	TypeMessageAppended Type = "message.appended"

	// TypeMessageUpdated fires on a status transition or id adoption.
	TypeMessageUpdated Type = "message.updated"

	// TypeMessageRemoved fires when a transient placeholder leaves the log.
	TypeMessageRemoved Type = "message.removed"

	// TypeThreadListChanged fires when the thread set changes.
	TypeThreadListChanged Type = "threads.changed"

	// TypeSelectionChanged fires when the active thread changes.
	TypeSelectionChanged Type = "selection.changed"
)

// Event carries one change notification.
type Event struct {
	Type     Type
	ThreadID string

	// Message is set for message-level events.
	Message *models.Message

	// Threads is set for TypeThreadListChanged.
	Threads []models.Thread
}

// Handler is invoked for each event matching a subscription.
type Handler func(event Event)

// Filter defines criteria for matching events.
type Filter struct {
	// Types filters by event type (nil = all types).
	Types []Type

	// ThreadID filters to a specific thread (empty = all).
	ThreadID string
}

// Matches returns true if the event satisfies the filter.
func (f *Filter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.ThreadID != "" && event.ThreadID != f.ThreadID {
		return false
	}
	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher fans events out to matching subscribers.
type Publisher interface {
	Publish(event Event)
	Subscribe(id string, filter Filter, handler Handler) error
	Unsubscribe(id string)
	SubscriberCount() int
}

// InMemoryPublisher implements Publisher with in-process dispatch.
// Handlers run synchronously on the publishing goroutine; they must not
// call back into Publish.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewPublisher creates an empty publisher.
func NewPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
	}
}

// Publish sends the event to all matching subscribers.
func (p *InMemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	matched := make([]*subscription, 0, len(p.subscriptions))
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(event) {
			matched = append(matched, sub)
		}
	}
	p.mu.RUnlock()

	for _, sub := range matched {
		sub.handler(event)
	}
}

// Subscribe registers a handler under the given id. Re-subscribing with an
// existing id replaces the previous subscription.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (p *InMemoryPublisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscriptions, id)
}

// SubscriberCount returns the number of active subscriptions.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}
