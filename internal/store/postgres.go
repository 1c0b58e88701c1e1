// Package store provides storage backends for the clinic assistant.
//
// This file implements a PostgreSQL-backed conversation store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

// GetOrCreate is a single upsert against the partial unique index on open
// conversations. The losing side of a race updates the winner's row, which
// RETURNING hands back to both callers.
func (s *PostgresStore) GetOrCreate(ctx context.Context, phone string) (*models.Conversation, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, phone, state, stop_bot, last_activity, created_at)
		 VALUES ($1, $2, 'new', FALSE, NOW(), NOW())
		 ON CONFLICT (phone) WHERE state <> 'closed'
		 DO UPDATE SET phone = EXCLUDED.phone
		 RETURNING `+conversationColumns,
		uuid.NewString(), phone,
	))
	if err != nil {
		slog.Error("PostgresStore.GetOrCreate failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("get or create conversation for %s: %w", phone, err)
	}
	slog.Debug("PostgresStore.GetOrCreate", "phone", phone, "id", conv.ID, "state", conv.State)
	return conv, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, direction models.Direction, content string, kind models.MessageKind) error {
	msg := models.Message{ConversationID: conversationID, Direction: direction, Content: content, Kind: kind}
	if err := msg.Validate(); err != nil {
		return err
	}
	// One statement keeps the insert and the activity bump atomic.
	_, err := s.db.ExecContext(ctx,
		`WITH inserted AS (
		     INSERT INTO messages (conversation_id, direction, content, kind) VALUES ($1, $2, $3, $4)
		     RETURNING conversation_id
		 )
		 UPDATE conversations
		 SET last_activity = NOW(), state = CASE WHEN state = 'new' THEN 'active' ELSE state END
		 WHERE id = (SELECT conversation_id FROM inserted)`,
		conversationID, string(direction), content, string(kind),
	)
	if err != nil {
		slog.Error("PostgresStore.AppendMessage failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("append message: %w", err)
	}
	slog.Debug("PostgresStore.AppendMessage", "conversationID", conversationID, "direction", direction, "kind", kind)
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.conversation_id = $1 AND m.id > c.history_floor
		 ORDER BY m.id DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.RecentMessages: query failed", "error", err, "conversationID", conversationID)
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

func (s *PostgresStore) LastInbound(ctx context.Context, phone string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.phone = $1 AND c.state <> 'closed' AND m.direction = 'inbound' AND m.kind = 'text'
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

func (s *PostgresStore) ClearHistory(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET history_floor = COALESCE((SELECT MAX(id) FROM messages WHERE conversation_id = $1), history_floor)
		 WHERE id = $1`,
		conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore.ClearHistory failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("clear history: %w", err)
	}
	slog.Debug("PostgresStore.ClearHistory", "conversationID", conversationID)
	return nil
}

func (s *PostgresStore) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET state = 'closed', last_activity = NOW() WHERE id = $1`,
		conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore.CloseConversation failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("close conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) StopFlag(ctx context.Context, phone string) (bool, error) {
	var stop bool
	err := s.db.QueryRowContext(ctx,
		`SELECT stop_bot FROM conversations WHERE phone = $1 AND state <> 'closed'
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

func (s *PostgresStore) SetStopFlag(ctx context.Context, phone string, value bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET stop_bot = $1, last_activity = NOW() WHERE phone = $2 AND state <> 'closed'`,
		value, phone,
	)
	if err != nil {
		slog.Error("PostgresStore.SetStopFlag failed", "error", err, "phone", phone)
		return false, fmt.Errorf("set stop flag for %s: %w", phone, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stop flag rows affected check failed: %w", err)
	}
	slog.Debug("PostgresStore.SetStopFlag", "phone", phone, "value", value, "updated", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) SetDisplayName(ctx context.Context, phone, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET display_name = $1 WHERE phone = $2 AND state <> 'closed'`,
		nilIfEmpty(name), phone,
	)
	if err != nil {
		return fmt.Errorf("set display name for %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) LinkExternalRef(ctx context.Context, phone, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET external_ref = $1 WHERE phone = $2 AND state <> 'closed'`,
		nilIfEmpty(ref), phone,
	)
	if err != nil {
		return fmt.Errorf("link external ref for %s: %w", phone, err)
	}
	return nil
}
