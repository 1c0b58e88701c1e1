package store

import (
	"fmt"
	"math"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// conversationColumns is the projection scanned by scanConversation.
const conversationColumns = `id, phone, COALESCE(display_name, ''), state, stop_bot, last_activity, COALESCE(external_ref, ''), history_floor, created_at`

// messageColumns is the projection scanned by scanMessage, qualified with alias m.
const messageColumns = `m.id, m.conversation_id, m.direction, m.content, m.kind, m.created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var state string
	err := row.Scan(&c.ID, &c.Phone, &c.DisplayName, &state, &c.StopBot, &c.LastActivity,
		&c.ExternalRef, &c.HistoryFloor, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.State = models.ConversationState(state)
	return &c, nil
}

func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var direction, kind string
	if err := row.Scan(&m.ID, &m.ConversationID, &direction, &m.Content, &kind, &m.CreatedAt); err != nil {
		return m, fmt.Errorf("scan message failed: %w", err)
	}
	m.Direction = models.Direction(direction)
	m.Kind = models.MessageKind(kind)
	return m, nil
}

// reverseMessages flips a newest-first page into chronological order in place.
func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// cosineSimilarity returns the cosine similarity of two equal-length vectors,
// or 0 when the lengths differ or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// matchScore ranks a knowledge match: similarity times stored weight, with an
// extra multiplier for admin-sourced pairs.
func matchScore(similarity, weight float64, source models.KnowledgeSource, adminBoost float64) float64 {
	score := similarity * weight
	if source == models.KnowledgeSourceAdmin && adminBoost > 0 {
		score *= adminBoost
	}
	return score
}
