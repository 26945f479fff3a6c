package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"chatrelay/internal/events"
	"chatrelay/internal/models"
)

// SQLiteStore is an embedded Store implementation backed by a local SQLite
// database. It exists for self-hosted and development setups where no remote
// service is available, and it defines the reference semantics of the remote
// schema: cascading delete and the updated_at bump on append.
//
// Subscriptions are fed from a store-private publisher that only ever carries
// the store's own persisted appends. An application publisher shared with
// other components would leak their optimistic, pre-persist events into the
// stream; WithPublisher therefore attaches an outbound notifier only.
type SQLiteStore struct {
	db       *sql.DB
	appends  *events.InMemoryPublisher
	notifier events.Publisher
	now      func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithPublisher additionally mirrors persisted appends onto the given
// application publisher. SubscribeNewMessages does not read from it.
func WithPublisher(p events.Publisher) SQLiteOption {
	return func(s *SQLiteStore) {
		s.notifier = p
	}
}

// WithClock overrides the store clock (tests).
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLiteStore opens (and if necessary initializes) a store at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path required")
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to store database: %w", err)
	}

	store := &SQLiteStore{
		db:      db,
		appends: events.NewPublisher(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS threads_owner_idx ON threads(owner_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages(thread_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize store schema: %w", err)
		}
	}
	return nil
}

// ListThreads implements Store.
func (s *SQLiteStore) ListThreads(ctx context.Context, ownerID string) ([]models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM threads
		WHERE owner_id = ?
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		var t models.Thread
		var created, updated string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		t.CreatedAt = parseStoredTime(created)
		t.UpdatedAt = parseStoredTime(updated)
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// CreateThread implements Store.
func (s *SQLiteStore) CreateThread(ctx context.Context, ownerID, title string) (*models.Thread, error) {
	now := s.now()
	thread := &models.Thread{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(title),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := thread.Validate(); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		thread.ID,
		thread.OwnerID,
		thread.Title,
		formatStoredTime(thread.CreatedAt),
		formatStoredTime(thread.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert thread: %w", err)
	}
	return thread, nil
}

// DeleteThread implements Store. Messages are removed in the same
// transaction; the returned count covers both tables.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	msgRes, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	thRes, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete thread: %w", err)
	}

	threadCount, _ := thRes.RowsAffected()
	if threadCount == 0 {
		return 0, ErrThreadNotFound
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}

	msgCount, _ := msgRes.RowsAffected()
	return threadCount + msgCount, nil
}

// ListMessages implements Store.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, sender, content, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var created string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Sender, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = parseStoredTime(created)
		m.Status = models.StatusConfirmed
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AppendMessage implements Store. The owning thread's updated_at is bumped
// in the same transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, sender models.Sender, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Sender:    sender,
		Content:   content,
		CreatedAt: s.now(),
		Status:    models.StatusConfirmed,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`,
		formatStoredTime(msg.CreatedAt), threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch thread: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrThreadNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ThreadID,
		string(msg.Sender),
		msg.Content,
		formatStoredTime(msg.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	event := events.Event{
		Type:     events.TypeMessageAppended,
		ThreadID: threadID,
		Message:  msg,
	}
	s.appends.Publish(event)
	if s.notifier != nil {
		s.notifier.Publish(event)
	}
	return msg, nil
}

// SubscribeNewMessages implements Subscriber. The stream carries only
// records this store has persisted.
func (s *SQLiteStore) SubscribeNewMessages(ctx context.Context, threadID string) (<-chan models.Message, func(), error) {
	out := make(chan models.Message, 64)
	subID := "sqlstore-" + uuid.New().String()

	err := s.appends.Subscribe(subID, events.Filter{
		Types:    []events.Type{events.TypeMessageAppended},
		ThreadID: threadID,
	}, func(event events.Event) {
		if event.Message == nil {
			return
		}
		select {
		case out <- *event.Message:
		default:
			// Slow consumer; drop rather than block the store.
		}
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.appends.Unsubscribe(subID)
			close(out)
		})
	}
	return out, stop, nil
}

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
