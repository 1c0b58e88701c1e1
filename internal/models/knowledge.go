package models

import "time"

// KnowledgeSource identifies who produced the answer of a learned pair.
type KnowledgeSource string

const (
	KnowledgeSourceBot   KnowledgeSource = "bot"
	KnowledgeSourceAdmin KnowledgeSource = "admin"
)

// Weights applied to learned pairs by source.
const (
	KnowledgeWeightBot   = 1.0
	KnowledgeWeightAdmin = 2.0
)

// KnowledgePair is a verified question/answer pair with the embedding of the question.
// Hash is unique per (user, question, answer).
type KnowledgePair struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Question  string          `json:"question"`
	Answer    string          `json:"answer"`
	Source    KnowledgeSource `json:"source"`
	Weight    float64         `json:"weight"`
	Embedding []float32       `json:"-"`
	Category  string          `json:"category"`
	TimesUsed int             `json:"times_used"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"created_at"`
}

// KnowledgeMatch is a pair returned by a similarity search.
type KnowledgeMatch struct {
	Pair       KnowledgePair `json:"pair"`
	Similarity float64       `json:"similarity"`
	Score      float64       `json:"score"`
}

// WeightFor returns the stored weight for a knowledge source.
func WeightFor(source KnowledgeSource) float64 {
	if source == KnowledgeSourceAdmin {
		return KnowledgeWeightAdmin
	}
	return KnowledgeWeightBot
}
