package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// Compile-time check that PostgresStore implements KnowledgeRepo.
var _ KnowledgeRepo = (*PostgresStore)(nil)

func (s *PostgresStore) SaveKnowledge(ctx context.Context, pair models.KnowledgePair) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_embeddings
		 (user_id, question, answer, source, weight, embedding, category, times_used, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		 ON CONFLICT (hash) DO NOTHING`,
		pair.UserID, pair.Question, pair.Answer, string(pair.Source), pair.Weight,
		pgvector.NewVector(pair.Embedding), pair.Category, pair.Hash,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveKnowledge failed", "error", err, "userID", pair.UserID)
		return false, fmt.Errorf("insert knowledge pair: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("knowledge rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) HasKnowledgeHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM knowledge_embeddings WHERE hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("knowledge hash lookup: %w", err)
	}
	return exists, nil
}

// SearchKnowledge ranks by cosine similarity (1 - <=> distance) weighted per pair.
func (s *PostgresStore) SearchKnowledge(ctx context.Context, embedding []float32, opts SearchOptions) ([]models.KnowledgeMatch, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}
	boost := opts.AdminBoost
	if boost <= 0 {
		boost = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, question, answer, source, weight, category, times_used, hash, created_at, similarity
		 FROM (
		     SELECT *, 1 - (embedding <=> $1) AS similarity FROM knowledge_embeddings
		 ) k
		 WHERE similarity >= $2::float8
		 ORDER BY similarity * weight * CASE WHEN source = 'admin' THEN $3::float8 ELSE 1.0 END DESC
		 LIMIT $4`,
		pgvector.NewVector(embedding), opts.Threshold, boost, opts.Limit,
	)
	if err != nil {
		slog.Error("PostgresStore.SearchKnowledge: query failed", "error", err)
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	var matches []models.KnowledgeMatch
	for rows.Next() {
		var p models.KnowledgePair
		var source string
		var sim float64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Question, &p.Answer, &source, &p.Weight,
			&p.Category, &p.TimesUsed, &p.Hash, &p.CreatedAt, &sim); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		p.Source = models.KnowledgeSource(source)
		matches = append(matches, models.KnowledgeMatch{
			Pair:       p,
			Similarity: sim,
			Score:      matchScore(sim, p.Weight, p.Source, opts.AdminBoost),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge rows: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) IncrementKnowledgeUsage(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_embeddings SET times_used = times_used + 1 WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("increment knowledge usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountKnowledge(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM knowledge_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count knowledge: %w", err)
	}
	return n, nil
}
