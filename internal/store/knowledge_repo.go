package store

import (
	"context"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// SearchOptions bounds a knowledge similarity search.
type SearchOptions struct {
	// Limit is the maximum number of matches returned.
	Limit int
	// Threshold is the minimum cosine similarity of a match.
	Threshold float64
	// AdminBoost multiplies the score of admin-sourced pairs.
	AdminBoost float64
}

// KnowledgeRepo persists learned question/answer pairs and their embeddings.
type KnowledgeRepo interface {
	// SaveKnowledge stores a pair. It reports false without error when a pair
	// with the same hash already exists.
	SaveKnowledge(ctx context.Context, pair models.KnowledgePair) (bool, error)

	// HasKnowledgeHash reports whether a pair with hash is stored.
	HasKnowledgeHash(ctx context.Context, hash string) (bool, error)

	// SearchKnowledge returns pairs whose question embedding is at least
	// opts.Threshold similar to embedding, best score first.
	SearchKnowledge(ctx context.Context, embedding []float32, opts SearchOptions) ([]models.KnowledgeMatch, error)

	// IncrementKnowledgeUsage bumps the usage counter of the given pairs.
	IncrementKnowledgeUsage(ctx context.Context, ids []int64) error

	// CountKnowledge returns the number of stored pairs.
	CountKnowledge(ctx context.Context) (int, error)
}
