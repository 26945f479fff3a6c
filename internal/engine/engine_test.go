package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/internal/completion"
	"chatrelay/internal/events"
	"chatrelay/internal/models"
	"chatrelay/internal/remote"
)

type fakeStore struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	seq      int

	appendErr  error
	listErr    error
	appendGate chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string][]models.Message)}
}

func (s *fakeStore) ListThreads(ctx context.Context, ownerID string) ([]models.Thread, error) {
	return nil, nil
}

func (s *fakeStore) CreateThread(ctx context.Context, ownerID, title string) (*models.Thread, error) {
	return &models.Thread{ID: "t-new", Title: title, OwnerID: ownerID}, nil
}

func (s *fakeStore) DeleteThread(ctx context.Context, threadID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := int64(len(s.messages[threadID]))
	delete(s.messages, threadID)
	return count + 1, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Message, len(s.messages[threadID]))
	copy(out, s.messages[threadID])
	return out, nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, threadID string, sender models.Sender, content string) (*models.Message, error) {
	if s.appendGate != nil {
		<-s.appendGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.seq++
	msg := models.Message{
		ID:        fmt.Sprintf("remote-%d", s.seq),
		ThreadID:  threadID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Status:    models.StatusConfirmed,
	}
	s.messages[threadID] = append(s.messages[threadID], msg)
	return &msg, nil
}

func (s *fakeStore) stored(threadID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages[threadID]))
	copy(out, s.messages[threadID])
	return out
}

type fakeGateway struct {
	reply   string
	err     error
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *fakeGateway) Complete(ctx context.Context, text string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newTestEngine(t *testing.T, store remote.Store, gw completion.Gateway) *Engine {
	t.Helper()
	var n int
	eng := New(store, gw, events.NewPublisher(), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("local-%d", n)
	}))
	t.Cleanup(eng.Close)
	return eng
}

func selectThread(t *testing.T, eng *Engine, threadID string) {
	t.Helper()
	_, err := eng.LoadLog(context.Background(), threadID)
	require.NoError(t, err)
}

func TestSubmitUserMessageAppendsPendingImmediately(t *testing.T) {
	store := newFakeStore()
	store.appendGate = make(chan struct{})
	gw := &fakeGateway{reply: "hi"}
	eng := newTestEngine(t, store, gw)
	selectThread(t, eng, "t1")

	require.NoError(t, eng.SubmitUserMessage(context.Background(), "t1", "hello"))

	// Before any network response arrives the log has exactly one pending entry.
	log := eng.Log()
	require.Len(t, log, 1)
	require.Equal(t, models.SenderUser, log[0].Sender)
	require.Equal(t, models.StatusPending, log[0].Status)
	require.Equal(t, "hello", log[0].Content)

	close(store.appendGate)
	eng.Wait()

	log = eng.Log()
	require.Equal(t, models.StatusConfirmed, log[0].Status)
	require.Equal(t, "remote-1", log[0].ID, "confirmed entry adopts the remote id")
}

func TestSubmitUserMessageValidation(t *testing.T) {
	tests := []struct {
		name     string
		threadID string
		text     string
	}{
		{name: "empty text", threadID: "t1", text: ""},
		{name: "whitespace text", threadID: "t1", text: "   \n\t"},
		{name: "no thread selected", threadID: "", text: "hello"},
		{name: "different thread active", threadID: "t2", text: "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			eng := newTestEngine(t, store, &fakeGateway{reply: "hi"})
			selectThread(t, eng, "t1")

			err := eng.SubmitUserMessage(context.Background(), tt.threadID, tt.text)
			require.Error(t, err)
			require.Empty(t, eng.Log(), "validation failures must not touch the log")
			require.Empty(t, store.stored("t1"))
		})
	}
}

func TestSubmitPersistFailureKeepsMessageVisible(t *testing.T) {
	store := newFakeStore()
	store.appendErr = remote.ErrUnavailable
	eng := newTestEngine(t, store, &fakeGateway{reply: "hi"})
	selectThread(t, eng, "t1")

	require.NoError(t, eng.SubmitUserMessage(context.Background(), "t1", "hello"))
	eng.Wait()

	log := eng.Log()
	require.Len(t, log, 1, "failed message stays in the log")
	require.Equal(t, models.StatusFailed, log[0].Status)
	require.Equal(t, "hello", log[0].Content)
}

func TestCompletionRoundTrip(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{reply: "hey there"}
	eng := newTestEngine(t, store, gw)
	selectThread(t, eng, "t1")

	require.NoError(t, eng.SubmitUserMessage(context.Background(), "t1", "hello"))
	eng.Wait()

	log := eng.Log()
	require.Len(t, log, 2)
	require.Equal(t, models.SenderBot, log[1].Sender)
	require.Equal(t, "hey there", log[1].Content)
	require.Equal(t, models.StatusConfirmed, log[1].Status)

	// Both sides of the exchange were persisted.
	require.Len(t, store.stored("t1"), 2)

	// Reloading from the store yields a confirmed log ending in the exchange.
	reloaded, err := eng.LoadLog(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
	require.Equal(t, "hello", reloaded[0].Content)
	require.Equal(t, models.StatusConfirmed, reloaded[0].Status)
}

func TestAtMostOneCompletionInFlight(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{
		reply:   "slow reply",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	eng := newTestEngine(t, store, gw)
	selectThread(t, eng, "t1")

	done := make(chan struct{})
	go func() {
		eng.RequestCompletion(context.Background(), "t1", "first")
		close(done)
	}()
	<-gw.started

	// Placeholder is visible while in flight.
	log := eng.Log()
	require.Len(t, log, 1)
	require.Equal(t, models.StatusPending, log[0].Status)
	require.Equal(t, models.SenderBot, log[0].Sender)

	// The second request is a no-op: the log is unchanged and the gateway is
	// not called again.
	eng.RequestCompletion(context.Background(), "t1", "second")
	require.Len(t, eng.Log(), 1)
	require.Equal(t, 1, gw.callCount())

	close(gw.release)
	<-done

	log = eng.Log()
	require.Len(t, log, 1, "placeholder replaced by the reply")
	require.Equal(t, "slow reply", log[0].Content)
	require.Equal(t, models.StatusConfirmed, log[0].Status)
}

func TestCompletionFailureYieldsFailedMessage(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{err: &completion.Error{Kind: completion.KindTimeout, Cause: errors.New("deadline")}}
	eng := newTestEngine(t, store, gw)
	selectThread(t, eng, "t1")

	eng.RequestCompletion(context.Background(), "t1", "hello")

	log := eng.Log()
	require.Len(t, log, 1, "exactly one failed message, no placeholder left")
	require.Equal(t, models.SenderBot, log[0].Sender)
	require.Equal(t, models.StatusFailed, log[0].Status)
	require.Equal(t, CompletionErrorText, log[0].Content)

	// The error message is a local diagnostic, never persisted.
	require.Empty(t, store.stored("t1"))

	// A later request is allowed again.
	gw.err = nil
	gw.reply = "recovered"
	eng.RequestCompletion(context.Background(), "t1", "hello")
	log = eng.Log()
	require.Len(t, log, 2)
	require.Equal(t, "recovered", log[1].Content)
}

func TestCompletionForInactiveThreadPersistsWithoutLocalApply(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{
		reply:   "late reply",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	eng := newTestEngine(t, store, gw)
	selectThread(t, eng, "t1")

	done := make(chan struct{})
	go func() {
		eng.RequestCompletion(context.Background(), "t1", "hello")
		close(done)
	}()
	<-gw.started

	// Switch away while the completion is in flight.
	selectThread(t, eng, "t2")
	close(gw.release)
	<-done

	require.Empty(t, eng.Log(), "reply not applied to a different thread's view")
	stored := store.stored("t1")
	require.Len(t, stored, 1, "reply still persisted for later rehydration")
	require.Equal(t, "late reply", stored[0].Content)

	// Rehydrating the abandoned thread observes the reply.
	reloaded, err := eng.LoadLog(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	require.Equal(t, "late reply", reloaded[0].Content)
}

func TestLoadLogFailureDiscardsState(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(t, store, &fakeGateway{})
	selectThread(t, eng, "t1")
	require.NoError(t, eng.SubmitUserMessage(context.Background(), "t1", "hello"))
	eng.Wait()

	store.mu.Lock()
	store.listErr = remote.ErrUnavailable
	store.mu.Unlock()

	_, err := eng.LoadLog(context.Background(), "t2")
	require.ErrorIs(t, err, remote.ErrUnavailable)
	require.Empty(t, eng.Log(), "no stale data from a different thread")
}

func TestReconcileUpgradesPendingEntry(t *testing.T) {
	store := newFakeStore()
	store.appendGate = make(chan struct{})
	eng := newTestEngine(t, store, &fakeGateway{reply: "hi"})
	selectThread(t, eng, "t1")

	require.NoError(t, eng.SubmitUserMessage(context.Background(), "t1", "hello"))
	local := eng.Log()[0]

	echo := models.Message{
		ID:        "remote-echo",
		ThreadID:  "t1",
		Sender:    models.SenderUser,
		Content:   "hello",
		CreatedAt: local.CreatedAt.Add(time.Second),
		Status:    models.StatusConfirmed,
	}
	eng.Reconcile(echo)

	log := eng.Log()
	require.Len(t, log, 1, "echo merged, not duplicated")
	require.Equal(t, "remote-echo", log[0].ID)
	require.Equal(t, models.StatusConfirmed, log[0].Status)

	close(store.appendGate)
	eng.Wait()
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(t, store, &fakeGateway{})
	selectThread(t, eng, "t1")

	record := models.Message{
		ID:        "remote-1",
		ThreadID:  "t1",
		Sender:    models.SenderUser,
		Content:   "from another device",
		CreatedAt: time.Now().UTC(),
	}
	eng.Reconcile(record)
	eng.Reconcile(record)

	require.Len(t, eng.Log(), 1)
}

func TestReconcileOutsideWindowAppendsNew(t *testing.T) {
	store := newFakeStore()
	store.appendGate = make(chan struct{})
	eng := newTestEngine(t, store, &fakeGateway{reply: "hi"})
	selectThread(t, eng, "t1")

	require.NoError(t, eng.SubmitUserMessage(context.Background(), "t1", "hello"))
	local := eng.Log()[0]

	// Same content but created far outside the dedupe window: a genuinely
	// distinct message, not an echo.
	eng.Reconcile(models.Message{
		ID:        "remote-old",
		ThreadID:  "t1",
		Sender:    models.SenderUser,
		Content:   "hello",
		CreatedAt: local.CreatedAt.Add(-time.Minute),
	})

	log := eng.Log()
	require.Len(t, log, 2)

	close(store.appendGate)
	eng.Wait()
}

func TestReconcileIgnoresOtherThreads(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(t, store, &fakeGateway{})
	selectThread(t, eng, "t1")

	eng.Reconcile(models.Message{
		ID:        "remote-1",
		ThreadID:  "t2",
		Sender:    models.SenderUser,
		Content:   "elsewhere",
		CreatedAt: time.Now().UTC(),
	})
	require.Empty(t, eng.Log(), "no cross-thread interleaving")
}

func TestClearLog(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(t, store, &fakeGateway{reply: "hi"})
	selectThread(t, eng, "t1")
	require.NoError(t, eng.SubmitUserMessage(context.Background(), "t1", "hello"))
	eng.Wait()

	eng.ClearLog()
	require.Empty(t, eng.Log())
	require.Empty(t, eng.ActiveThread())
}
