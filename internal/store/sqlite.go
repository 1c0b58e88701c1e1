// Package store provides storage backends for the clinic assistant.
//
// This file implements an SQLite-backed conversation store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers; SQLite would otherwise return
	// SQLITE_BUSY under concurrent webhook deliveries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// GetOrCreate inserts a fresh conversation unless an open one exists and
// returns the open row. The partial unique index turns a concurrent insert
// into a no-op.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, phone string) (*models.Conversation, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin get-or-create failed: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, phone, state, stop_bot, last_activity, created_at)
		 VALUES (?, ?, 'new', 0, ?, ?)
		 ON CONFLICT (phone) WHERE state <> 'closed' DO NOTHING`,
		uuid.NewString(), phone, now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.GetOrCreate: insert failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("insert conversation for %s: %w", phone, err)
	}

	conv, err := scanConversation(tx.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE phone = ? AND state <> 'closed'`, phone))
	if err != nil {
		slog.Error("SQLiteStore.GetOrCreate: select failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("select conversation for %s: %w", phone, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit get-or-create failed: %w", err)
	}
	slog.Debug("SQLiteStore.GetOrCreate", "phone", phone, "id", conv.ID, "state", conv.State)
	return conv, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, direction models.Direction, content string, kind models.MessageKind) error {
	msg := models.Message{ConversationID: conversationID, Direction: direction, Content: content, Kind: kind}
	if err := msg.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message failed: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, direction, content, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(direction), content, string(kind), now,
	); err != nil {
		slog.Error("SQLiteStore.AppendMessage: insert failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations
		 SET last_activity = ?, state = CASE WHEN state = 'new' THEN 'active' ELSE state END
		 WHERE id = ?`,
		now, conversationID,
	); err != nil {
		slog.Error("SQLiteStore.AppendMessage: touch failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append message failed: %w", err)
	}
	slog.Debug("SQLiteStore.AppendMessage", "conversationID", conversationID, "direction", direction, "kind", kind)
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.conversation_id = ? AND m.id > c.history_floor
		 ORDER BY m.id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.RecentMessages: query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]models.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (s *SQLiteStore) LastInbound(ctx context.Context, phone string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.phone = ? AND c.state <> 'closed' AND m.direction = 'inbound' AND m.kind = 'text'
		 ORDER BY m.id DESC LIMIT 1`,
		phone,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ClearHistory(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET history_floor = COALESCE((SELECT MAX(id) FROM messages WHERE conversation_id = ?), history_floor)
		 WHERE id = ?`,
		conversationID, conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore.ClearHistory failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("clear history: %w", err)
	}
	slog.Debug("SQLiteStore.ClearHistory", "conversationID", conversationID)
	return nil
}

func (s *SQLiteStore) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET state = 'closed', last_activity = ? WHERE id = ?`,
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore.CloseConversation failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("close conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StopFlag(ctx context.Context, phone string) (bool, error) {
	var stop bool
	err := s.db.QueryRowContext(ctx,
		`SELECT stop_bot FROM conversations WHERE phone = ? AND state <> 'closed'
		 ORDER BY last_activity DESC LIMIT 1`,
		phone,
	).Scan(&stop)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read stop flag for %s: %w", phone, err)
	}
	return stop, nil
}

func (s *SQLiteStore) SetStopFlag(ctx context.Context, phone string, value bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET stop_bot = ?, last_activity = ? WHERE phone = ? AND state <> 'closed'`,
		value, time.Now().UTC(), phone,
	)
	if err != nil {
		slog.Error("SQLiteStore.SetStopFlag failed", "error", err, "phone", phone)
		return false, fmt.Errorf("set stop flag for %s: %w", phone, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stop flag rows affected check failed: %w", err)
	}
	slog.Debug("SQLiteStore.SetStopFlag", "phone", phone, "value", value, "updated", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) SetDisplayName(ctx context.Context, phone, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET display_name = ? WHERE phone = ? AND state <> 'closed'`,
		nilIfEmpty(name), phone,
	)
	if err != nil {
		return fmt.Errorf("set display name for %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) LinkExternalRef(ctx context.Context, phone, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET external_ref = ? WHERE phone = ? AND state <> 'closed'`,
		nilIfEmpty(ref), phone,
	)
	if err != nil {
		return fmt.Errorf("link external ref for %s: %w", phone, err)
	}
	return nil
}
