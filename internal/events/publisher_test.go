package events

import (
	"testing"

	"chatrelay/internal/models"
)

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  Event{Type: TypeMessageAppended, ThreadID: "t1"},
			want:   true,
		},
		{
			name:   "type filter matches",
			filter: Filter{Types: []Type{TypeMessageAppended}},
			event:  Event{Type: TypeMessageAppended, ThreadID: "t1"},
			want:   true,
		},
		{
			name:   "type filter rejects non-matching",
			filter: Filter{Types: []Type{TypeMessageAppended}},
			event:  Event{Type: TypeThreadListChanged},
			want:   false,
		},
		{
			name:   "multiple types match any",
			filter: Filter{Types: []Type{TypeMessageAppended, TypeMessageUpdated}},
			event:  Event{Type: TypeMessageUpdated, ThreadID: "t1"},
			want:   true,
		},
		{
			name:   "thread filter matches",
			filter: Filter{ThreadID: "t1"},
			event:  Event{Type: TypeMessageAppended, ThreadID: "t1"},
			want:   true,
		},
		{
			name:   "thread filter rejects other threads",
			filter: Filter{ThreadID: "t1"},
			event:  Event{Type: TypeMessageAppended, ThreadID: "t2"},
			want:   false,
		},
		{
			name:   "combined filters must all match",
			filter: Filter{Types: []Type{TypeMessageAppended}, ThreadID: "t1"},
			event:  Event{Type: TypeMessageUpdated, ThreadID: "t1"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPublishFansOutToMatchingSubscribers(t *testing.T) {
	p := NewPublisher()

	var logEvents, allEvents int
	if err := p.Subscribe("log", Filter{Types: []Type{TypeMessageAppended}}, func(Event) {
		logEvents++
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := p.Subscribe("all", Filter{}, func(Event) {
		allEvents++
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msg := &models.Message{ID: "m1", ThreadID: "t1", Sender: models.SenderUser, Content: "hi"}
	p.Publish(Event{Type: TypeMessageAppended, ThreadID: "t1", Message: msg})
	p.Publish(Event{Type: TypeThreadListChanged})

	if logEvents != 1 {
		t.Errorf("filtered subscriber saw %d events, want 1", logEvents)
	}
	if allEvents != 2 {
		t.Errorf("unfiltered subscriber saw %d events, want 2", allEvents)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher()

	var seen int
	if err := p.Subscribe("sub", Filter{}, func(Event) { seen++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	p.Publish(Event{Type: TypeMessageAppended})
	p.Unsubscribe("sub")
	p.Publish(Event{Type: TypeMessageAppended})

	if seen != 1 {
		t.Errorf("saw %d events after unsubscribe, want 1", seen)
	}
	if p.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", p.SubscriberCount())
	}
}

func TestSubscribeRequiresHandler(t *testing.T) {
	p := NewPublisher()
	if err := p.Subscribe("sub", Filter{}, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	p := NewPublisher()

	var first, second int
	_ = p.Subscribe("sub", Filter{}, func(Event) { first++ })
	_ = p.Subscribe("sub", Filter{}, func(Event) { second++ })

	p.Publish(Event{Type: TypeMessageAppended})

	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d; want 0, 1", first, second)
	}
}
