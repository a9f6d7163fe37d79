// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides message/delivery persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS inbound_messages (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_inbound_thread
			ON inbound_messages(channel, thread_id, created_at);

		CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			thread_key TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_deliveries_channel
			ON deliveries(channel, created_at);

		CREATE TABLE IF NOT EXISTS connection_events (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			connected INTEGER NOT NULL,
			code INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_connection_events_channel
			ON connection_events(channel, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordInbound persists an accepted inbound message. A missing ID or
// timestamp is filled in.
func (s *SQLiteStore) RecordInbound(ctx context.Context, msg *InboundMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbound_messages (id, channel, channel_id, thread_id, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Channel, msg.ChannelID, msg.ThreadID, msg.Sender, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording inbound message: %w", err)
	}
	return nil
}

// GetInbound fetches a single inbound message by ID.
func (s *SQLiteStore) GetInbound(ctx context.Context, id string) (*InboundMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel, channel_id, thread_id, sender, content, created_at
		FROM inbound_messages WHERE id = ?`, id)

	var msg InboundMessage
	err := row.Scan(&msg.ID, &msg.Channel, &msg.ChannelID, &msg.ThreadID, &msg.Sender, &msg.Content, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting inbound message: %w", err)
	}
	return &msg, nil
}

// ListInboundByThread returns the most recent messages in a thread, oldest first.
func (s *SQLiteStore) ListInboundByThread(ctx context.Context, channel, threadID string, limit int) ([]*InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, channel_id, thread_id, sender, content, created_at
		FROM (
			SELECT * FROM inbound_messages
			WHERE channel = ? AND thread_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		channel, threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing thread messages: %w", err)
	}
	defer rows.Close()

	var msgs []*InboundMessage
	for rows.Next() {
		var msg InboundMessage
		if err := rows.Scan(&msg.ID, &msg.Channel, &msg.ChannelID, &msg.ThreadID, &msg.Sender, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// RecordDelivery persists a send outcome, including hook-cancelled sends.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, channel, channel_id, thread_key, message_id, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Channel, d.ChannelID, d.ThreadKey, d.MessageID, d.Outcome, d.Error, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the most recent deliveries for a channel, newest first.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, channel string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, channel_id, thread_key, message_id, outcome, error, created_at
		FROM deliveries WHERE channel = ?
		ORDER BY created_at DESC LIMIT ?`,
		channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	var ds []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.Channel, &d.ChannelID, &d.ThreadKey, &d.MessageID, &d.Outcome, &d.Error, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		ds = append(ds, &d)
	}
	return ds, rows.Err()
}

// RecordConnectionEvent persists a monitor connect/disconnect transition.
func (s *SQLiteStore) RecordConnectionEvent(ctx context.Context, ev *ConnectionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	connected := 0
	if ev.Connected {
		connected = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_events (id, channel, connected, code, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Channel, connected, ev.Code, ev.Reason, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording connection event: %w", err)
	}
	return nil
}

// ListConnectionEvents returns recent transitions for a channel, newest first.
func (s *SQLiteStore) ListConnectionEvents(ctx context.Context, channel string, limit int) ([]*ConnectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, connected, code, reason, created_at
		FROM connection_events WHERE channel = ?
		ORDER BY created_at DESC LIMIT ?`,
		channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing connection events: %w", err)
	}
	defer rows.Close()

	var evs []*ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		var connected int
		if err := rows.Scan(&ev.ID, &ev.Channel, &connected, &ev.Code, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		ev.Connected = connected != 0
		evs = append(evs, &ev)
	}
	return evs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
