// Package knowledge learns verified question/answer pairs and retrieves the
// most similar ones as extra context for generated replies.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/store"
)

// Retrieval defaults.
const (
	DefaultLimit      = 3
	DefaultThreshold  = 0.65
	DefaultAdminBoost = 1.5

	// Pairs shorter than these rune counts are not worth learning.
	MinQuestionLength = 3
	MinAnswerLength   = 5
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option configures a Service.
type Option func(*store.SearchOptions)

// WithLimit sets the maximum number of retrieved pairs.
func WithLimit(n int) Option {
	return func(o *store.SearchOptions) { o.Limit = n }
}

// WithThreshold sets the minimum similarity of retrieved pairs.
func WithThreshold(t float64) Option {
	return func(o *store.SearchOptions) { o.Threshold = t }
}

// WithAdminBoost sets the extra ranking multiplier of admin-sourced pairs.
func WithAdminBoost(b float64) Option {
	return func(o *store.SearchOptions) { o.AdminBoost = b }
}

// Service stores and retrieves knowledge pairs.
type Service struct {
	repo     store.KnowledgeRepo
	embedder Embedder
	search   store.SearchOptions
}

// NewService creates a knowledge service over repo.
func NewService(repo store.KnowledgeRepo, embedder Embedder, opts ...Option) *Service {
	search := store.SearchOptions{
		Limit:      DefaultLimit,
		Threshold:  DefaultThreshold,
		AdminBoost: DefaultAdminBoost,
	}
	for _, opt := range opts {
		opt(&search)
	}
	return &Service{repo: repo, embedder: embedder, search: search}
}

// Hash identifies a (user, question, answer) triple.
func Hash(userID, question, answer string) string {
	sum := sha256.Sum256([]byte(userID + "|" + question + "|" + answer))
	return hex.EncodeToString(sum[:])
}

// Learn stores a pair unless it is too short or already known. It reports
// whether a new row was written. The embedding is computed only for new pairs.
func (s *Service) Learn(ctx context.Context, userID, question, answer string, source models.KnowledgeSource) (bool, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if utf8.RuneCountInString(question) < MinQuestionLength || utf8.RuneCountInString(answer) < MinAnswerLength {
		slog.Debug("Service.Learn: pair too short, skipped", "userID", userID)
		return false, nil
	}

	hash := Hash(userID, question, answer)
	exists, err := s.repo.HasKnowledgeHash(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("check knowledge hash: %w", err)
	}
	if exists {
		slog.Debug("Service.Learn: pair already known", "userID", userID, "hash", hash[:8])
		return false, nil
	}

	embedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return false, fmt.Errorf("embed question: %w", err)
	}

	saved, err := s.repo.SaveKnowledge(ctx, models.KnowledgePair{
		UserID:    userID,
		Question:  question,
		Answer:    answer,
		Source:    source,
		Weight:    models.WeightFor(source),
		Embedding: embedding,
		Category:  DetectCategory(question),
		Hash:      hash,
	})
	if err != nil {
		return false, err
	}
	slog.Info("Service.Learn: pair stored", "userID", userID, "source", source, "saved", saved)
	return saved, nil
}

// Similar returns the best matching pairs for query. Any failure yields an
// empty result so replies are never blocked by retrieval.
func (s *Service) Similar(ctx context.Context, query string) []models.KnowledgeMatch {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	count, err := s.repo.CountKnowledge(ctx)
	if err != nil {
		slog.Warn("Service.Similar: count failed, continuing without context", "error", err)
		return nil
	}
	if count == 0 {
		return nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("Service.Similar: embedding failed, continuing without context", "error", err)
		return nil
	}
	matches, err := s.repo.SearchKnowledge(ctx, embedding, s.search)
	if err != nil {
		slog.Warn("Service.Similar: search failed, continuing without context", "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.Pair.ID
	}
	if err := s.repo.IncrementKnowledgeUsage(ctx, ids); err != nil {
		slog.Warn("Service.Similar: usage counter update failed", "error", err)
	}
	slog.Debug("Service.Similar: matches found", "count", len(matches))
	return matches
}
