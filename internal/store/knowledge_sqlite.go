package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// Compile-time check that SQLiteStore implements KnowledgeRepo.
var _ KnowledgeRepo = (*SQLiteStore)(nil)

// SaveKnowledge stores the embedding as a JSON array; SQLite has no vector type.
func (s *SQLiteStore) SaveKnowledge(ctx context.Context, pair models.KnowledgePair) (bool, error) {
	embeddingJSON, err := json.Marshal(pair.Embedding)
	if err != nil {
		return false, fmt.Errorf("marshal embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_embeddings
		 (user_id, question, answer, source, weight, embedding, category, times_used, hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		pair.UserID, pair.Question, pair.Answer, string(pair.Source), pair.Weight,
		string(embeddingJSON), pair.Category, pair.Hash, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveKnowledge failed", "error", err, "userID", pair.UserID)
		return false, fmt.Errorf("insert knowledge pair: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("knowledge rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) HasKnowledgeHash(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM knowledge_embeddings WHERE hash = ?`, hash).Scan(&n); err != nil {
		return false, fmt.Errorf("knowledge hash lookup: %w", err)
	}
	return n > 0, nil
}

// SearchKnowledge scans every stored embedding and ranks in process.
func (s *SQLiteStore) SearchKnowledge(ctx context.Context, embedding []float32, opts SearchOptions) ([]models.KnowledgeMatch, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, question, answer, source, weight, embedding, category, times_used, hash, created_at
		 FROM knowledge_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	var matches []models.KnowledgeMatch
	for rows.Next() {
		var p models.KnowledgePair
		var source, embeddingJSON string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Question, &p.Answer, &source, &p.Weight,
			&embeddingJSON, &p.Category, &p.TimesUsed, &p.Hash, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		p.Source = models.KnowledgeSource(source)
		if err := json.Unmarshal([]byte(embeddingJSON), &p.Embedding); err != nil {
			slog.Warn("SQLiteStore.SearchKnowledge: skipping row with bad embedding", "id", p.ID, "error", err)
			continue
		}
		sim := cosineSimilarity(embedding, p.Embedding)
		if sim < opts.Threshold {
			continue
		}
		matches = append(matches, models.KnowledgeMatch{
			Pair:       p,
			Similarity: sim,
			Score:      matchScore(sim, p.Weight, p.Source, opts.AdminBoost),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge rows: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

func (s *SQLiteStore) IncrementKnowledgeUsage(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_embeddings SET times_used = times_used + 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("increment knowledge usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountKnowledge(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM knowledge_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count knowledge: %w", err)
	}
	return n, nil
}
