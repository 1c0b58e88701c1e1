// Package store provides the relational storage backends for the clinic assistant.
//
// Conversations, messages, learned knowledge pairs and the inbound dedup table
// live here. Two backends are provided: SQLite for single-node deployments and
// tests, and PostgreSQL (with pgvector) for production.
package store

import (
	"context"
	"strings"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path or DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres"
// for URLs and key=value connection strings, "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "=") && !strings.Contains(dsn, "?") && strings.Contains(dsn, " ") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// ConversationStore owns persisted per-user conversation state.
//
// Not-found is never an error: lookups return nil or false instead.
type ConversationStore interface {
	// GetOrCreate returns the non-closed conversation for phone, inserting a
	// new one (stop=false, state=new) when none exists. Concurrent callers for
	// the same phone converge on a single row.
	GetOrCreate(ctx context.Context, phone string) (*models.Conversation, error)

	// AppendMessage inserts a message and bumps the conversation's last activity.
	AppendMessage(ctx context.Context, conversationID string, direction models.Direction, content string, kind models.MessageKind) error

	// RecentMessages returns up to limit of the newest visible messages in
	// chronological order. The returned slice is a snapshot.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)

	// LastInbound returns the newest inbound text message for phone's open
	// conversation, or nil when there is none.
	LastInbound(ctx context.Context, phone string) (*models.Message, error)

	// ClearHistory hides every message persisted so far from RecentMessages.
	// Rows are kept.
	ClearHistory(ctx context.Context, conversationID string) error

	// CloseConversation soft-closes a conversation. The next GetOrCreate for
	// the same phone starts a fresh row.
	CloseConversation(ctx context.Context, conversationID string) error

	// StopFlag reads the stop flag of phone's latest non-closed conversation.
	// Missing conversations read as false.
	StopFlag(ctx context.Context, phone string) (bool, error)

	// SetStopFlag updates the stop flag of phone's open conversation. It
	// reports false when there is no open conversation to update.
	SetStopFlag(ctx context.Context, phone string, value bool) (bool, error)

	// SetDisplayName stores the user's display name on the open conversation.
	SetDisplayName(ctx context.Context, phone, name string) error

	// LinkExternalRef stores a patient record reference on the open conversation.
	LinkExternalRef(ctx context.Context, phone, ref string) error
}

// Store is the full persistence surface used by the bot.
type Store interface {
	ConversationStore
	KnowledgeRepo
	DedupRepo
	Close() error
}

// Compile-time checks that both backends implement Store.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// New opens the backend matching dsn.
func New(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
