package dialogue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsl-salud/whatsbot/internal/models"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
	last  []openai.ChatCompletionMessageParamUnion
}

func (f *fakeGenerator) GenerateWithMessages(_ context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.calls++
	f.last = messages
	return f.reply, f.err
}

type fakeRetriever struct {
	matches []models.KnowledgeMatch
	queries []string
}

func (f *fakeRetriever) Similar(_ context.Context, query string) []models.KnowledgeMatch {
	f.queries = append(f.queries, query)
	return f.matches
}

func history(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		dir := models.DirectionInbound
		if i%2 == 1 {
			dir = models.DirectionOutbound
		}
		msgs[i] = models.Message{ID: int64(i + 1), Direction: dir, Content: fmt.Sprintf("m%d", i), Kind: models.MessageKindText}
	}
	return msgs
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind ReplyKind
		text string
	}{
		{"plain", "  Hola, ¿en qué te ayudo?  ", PlainReply, "Hola, ¿en qué te ayudo?"},
		{"menu exact", "VOLVER_AL_MENU\n", ShowMenu, MenuText},
		{"menu embedded is plain", "Con gusto te ayudo. VOLVER_AL_MENU", PlainReply, "Con gusto te ayudo."},
		{"transfer only", "...transfiriendo con asesor", TransferToHuman, TransferPlaceholder},
		{"transfer with text", "Entiendo tu caso. ...transfiriendo con asesor", TransferToHuman, "Entiendo tu caso."},
		{"agenda", "¡Listo! Nos vemos pronto AGENDA_COMPLETADA", AgendaComplete, "¡Listo! Nos vemos pronto"},
		{"agenda only", "AGENDA_COMPLETADA", AgendaComplete, AgendaPlaceholder},
		{"transfer beats agenda", "AGENDA_COMPLETADA ...transfiriendo con asesor", TransferToHuman, TransferPlaceholder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseReply(tt.raw)
			assert.Equal(t, tt.kind, r.Kind)
			assert.Equal(t, tt.text, r.Text)
		})
	}
}

func TestReplyKindString(t *testing.T) {
	assert.Equal(t, "plain", PlainReply.String())
	assert.Equal(t, "show_menu", ShowMenu.String())
	assert.Equal(t, "agenda_complete", AgendaComplete.String())
	assert.Equal(t, "transfer_to_human", TransferToHuman.String())
}

func TestKeywords(t *testing.T) {
	assert.True(t, IsVirtualChoice("Quiero VIRTUAL por favor"))
	assert.False(t, IsVirtualChoice("presencial"))
	assert.True(t, IsPresentialChoice("prefiero presencial"))
	assert.False(t, IsPresentialChoice("hola"))

	assert.True(t, IsClosing("Gracias!"))
	assert.True(t, IsClosing("  ok 👍"))
	assert.True(t, IsClosing("muchas gracias 🙏"))
	assert.False(t, IsClosing("gracias, y cuánto cuesta?"))
	assert.False(t, IsClosing("listo pero tengo otra pregunta"))
}

func TestRespond_PlainReply(t *testing.T) {
	gen := &fakeGenerator{reply: "El examen virtual cuesta $46.000"}
	e := NewEngine(gen)

	r := e.Respond(context.Background(), Request{Phone: "573001112233", UserMessage: "cuánto cuesta"})

	assert.Equal(t, PlainReply, r.Kind)
	assert.Equal(t, "El examen virtual cuesta $46.000", r.Text)
	// system prompt + user message
	assert.Len(t, gen.last, 2)
}

func TestRespond_GenerationErrorApologizes(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream timeout")}
	e := NewEngine(gen)

	r := e.Respond(context.Background(), Request{Phone: "573001112233", UserMessage: "hola"})

	assert.Equal(t, Reply{Kind: PlainReply, Text: ApologyText}, r)
	assert.Equal(t, 1, gen.calls)
}

func TestRespond_EmptyOutputApologizes(t *testing.T) {
	e := NewEngine(&fakeGenerator{reply: "   "})
	r := e.Respond(context.Background(), Request{UserMessage: "hola"})
	assert.Equal(t, ApologyText, r.Text)
}

func TestRespond_HistoryCapped(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	e := NewEngine(gen)

	e.Respond(context.Background(), Request{UserMessage: "hola", History: history(25)})

	// system prompt + 10 history + user message
	require.Len(t, gen.last, 12)
}

func TestRespond_CustomHistoryLimit(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	e := NewEngine(gen, WithHistoryLimit(4))

	e.Respond(context.Background(), Request{UserMessage: "hola", History: history(9)})

	require.Len(t, gen.last, 6)
}

func TestRespond_ContextBlocks(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	ret := &fakeRetriever{matches: []models.KnowledgeMatch{{
		Pair:       models.KnowledgePair{Question: "precio", Answer: "46 mil", Source: models.KnowledgeSourceAdmin},
		Similarity: 0.9,
		Score:      2.7,
	}}}
	e := NewEngine(gen, WithRetriever(ret))

	e.Respond(context.Background(), Request{
		UserMessage:    "quiero virtual",
		History:        history(2),
		PatientContext: "Estado detallado: cita_programada",
	})

	// system + patient + knowledge + 2 history + choice note + user
	assert.Len(t, gen.last, 7)
	assert.Equal(t, []string{"quiero virtual"}, ret.queries)
}

func TestRespond_NoKnowledgeBlockWithoutMatches(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	e := NewEngine(gen, WithRetriever(&fakeRetriever{}))

	e.Respond(context.Background(), Request{UserMessage: "hola"})

	assert.Len(t, gen.last, 2)
}

func TestRespond_TransferReply(t *testing.T) {
	e := NewEngine(&fakeGenerator{reply: "...transfiriendo con asesor"})
	r := e.Respond(context.Background(), Request{UserMessage: "necesito ayuda"})
	assert.Equal(t, TransferToHuman, r.Kind)
	assert.NotContains(t, r.Text, TokenTransfer)
}
