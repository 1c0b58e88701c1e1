package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/store"
)

// fakeEmbedder returns fixed vectors per text and counts calls.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func newService(t *testing.T, emb *fakeEmbedder) (*Service, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "k.db")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewService(s, emb), s
}

func TestHashIsStable(t *testing.T) {
	assert.Equal(t, Hash("u", "q", "a"), Hash("u", "q", "a"))
	assert.NotEqual(t, Hash("u", "q", "a"), Hash("u", "q", "b"))
	assert.Len(t, Hash("u", "q", "a"), 64)
}

func TestLearnSameTripleTwiceStoresOneRow(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, repo := newService(t, emb)
	ctx := context.Background()

	saved, err := svc.Learn(ctx, "573001112233", "cuanto cuesta el examen", "El virtual cuesta $46.000", models.KnowledgeSourceBot)
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = svc.Learn(ctx, "573001112233", "cuanto cuesta el examen", "El virtual cuesta $46.000", models.KnowledgeSourceBot)
	require.NoError(t, err)
	assert.False(t, saved)

	n, err := repo.CountKnowledge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, emb.calls, "known pairs must not be embedded again")
}

func TestLearnSkipsShortPairs(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, repo := newService(t, emb)
	ctx := context.Background()

	saved, err := svc.Learn(ctx, "u", "ok", "una respuesta larga", models.KnowledgeSourceBot)
	require.NoError(t, err)
	assert.False(t, saved)

	saved, err = svc.Learn(ctx, "u", "pregunta", "si", models.KnowledgeSourceAdmin)
	require.NoError(t, err)
	assert.False(t, saved)

	n, err := repo.CountKnowledge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, emb.calls)
}

func TestLearnEmbeddingFailure(t *testing.T) {
	svc, _ := newService(t, &fakeEmbedder{err: errors.New("quota")})
	_, err := svc.Learn(context.Background(), "u", "pregunta", "respuesta larga", models.KnowledgeSourceBot)
	assert.Error(t, err)
}

func TestSimilarPrefersAdminAnswers(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"precio virtual":    {1, 0, 0},
		"valor del virtual": {0.95, 0.05, 0},
		"donde queda":       {0, 0, 1},
	}}
	svc, _ := newService(t, emb)
	ctx := context.Background()

	_, err := svc.Learn(ctx, "a", "precio virtual", "Cuesta 46 mil pesos", models.KnowledgeSourceBot)
	require.NoError(t, err)
	_, err = svc.Learn(ctx, "admin", "valor del virtual", "El virtual vale $46.000 COP", models.KnowledgeSourceAdmin)
	require.NoError(t, err)
	_, err = svc.Learn(ctx, "b", "donde queda", "Calle 134 No. 7-83", models.KnowledgeSourceBot)
	require.NoError(t, err)

	emb.vectors["cuanto vale el virtual"] = []float32{1, 0, 0}
	matches := svc.Similar(ctx, "cuanto vale el virtual")
	require.Len(t, matches, 2)
	assert.Equal(t, models.KnowledgeSourceAdmin, matches[0].Pair.Source)
	assert.Equal(t, 2.0, matches[0].Pair.Weight)
	assert.Equal(t, "precios", matches[1].Pair.Category)
}

func TestSimilarFailsOpen(t *testing.T) {
	emb := &fakeEmbedder{}
	svc, _ := newService(t, emb)
	ctx := context.Background()

	assert.Empty(t, svc.Similar(ctx, "hola"), "empty store")
	assert.Zero(t, emb.calls, "no embedding when the store is empty")

	_, err := svc.Learn(ctx, "u", "pregunta", "respuesta larga", models.KnowledgeSourceBot)
	require.NoError(t, err)
	emb.err = errors.New("timeout")
	assert.Empty(t, svc.Similar(ctx, "pregunta"))
}

func TestDetectCategory(t *testing.T) {
	tests := map[string]string{
		"Cuanto cuesta?":              "precios",
		"a que hora atienden":         "horarios",
		"quiero agendar":              "agendamiento",
		"es online?":                  "virtual",
		"necesito el certificado pdf": "certificado",
		"ya hice el examen medico":    "examenes",
		"hola":                        "general",
	}
	for in, want := range tests {
		assert.Equal(t, want, DetectCategory(in), in)
	}
}

func TestFormatContext(t *testing.T) {
	assert.Empty(t, FormatContext(nil))

	out := FormatContext([]models.KnowledgeMatch{
		{Pair: models.KnowledgePair{Question: "q1", Answer: strings.Repeat("x", 200), Source: models.KnowledgeSourceAdmin}, Similarity: 0.91},
		{Pair: models.KnowledgePair{Question: "q2", Answer: "corta", Source: models.KnowledgeSourceBot}, Similarity: 0.7},
	})
	assert.Contains(t, out, "--- RESPUESTAS PREVIAS RELEVANTES ---")
	assert.Contains(t, out, "[1] 👨‍💼 ADMIN (91% similar):")
	assert.Contains(t, out, "[2] 🤖 Bot (70% similar):")
	assert.Contains(t, out, strings.Repeat("x", 150)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 151))
	assert.True(t, strings.HasSuffix(out, "--- FIN RESPUESTAS PREVIAS ---\n"))
}
