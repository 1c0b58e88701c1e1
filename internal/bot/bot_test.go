package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsl-salud/whatsbot/internal/admin"
	"github.com/bsl-salud/whatsbot/internal/dialogue"
	"github.com/bsl-salud/whatsbot/internal/gate"
	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/payment"
	"github.com/bsl-salud/whatsbot/internal/store"
)

const (
	userPhone  = "573001112233"
	adminPhone = "573160000000"
	groupID    = "120363999@g.us"
)

type sent struct{ to, body string }

type fakeGateway struct {
	mu       sync.Mutex
	sent     []sent
	media    []byte
	mediaErr error
	sendErr  error
}

func (g *fakeGateway) SendMessage(_ context.Context, to, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, sent{to, body})
	return nil
}

func (g *fakeGateway) FetchMedia(context.Context, string) ([]byte, string, error) {
	return g.media, "image/jpeg", g.mediaErr
}

type fakeEngine struct {
	raw      string
	requests []dialogue.Request
}

func (e *fakeEngine) Respond(_ context.Context, req dialogue.Request) dialogue.Reply {
	e.requests = append(e.requests, req)
	return dialogue.ParseReply(e.raw)
}

type fakeClassifier struct{ label string }

func (c *fakeClassifier) ClassifyImage(context.Context, string, []byte, string) (string, error) {
	return c.label, nil
}

type fakeMarker struct{ calls []string }

func (m *fakeMarker) MarkPaid(_ context.Context, document string) (string, error) {
	m.calls = append(m.calls, document)
	return "rec-" + document, nil
}

type fakePatients struct {
	byDocument map[string]*models.PatientRecord
	byPhone    map[string]*models.PatientRecord
}

func (p *fakePatients) GetByPhone(_ context.Context, phone string) (*models.PatientRecord, error) {
	return p.byPhone[phone], nil
}

func (p *fakePatients) GetByDocument(_ context.Context, doc string) (*models.PatientRecord, error) {
	return p.byDocument[doc], nil
}

func (p *fakePatients) HasForm(context.Context, string) (bool, error) { return true, nil }

type fakeLearner struct{ pairs [][2]string }

func (l *fakeLearner) Learn(_ context.Context, _, q, a string, _ models.KnowledgeSource) (bool, error) {
	l.pairs = append(l.pairs, [2]string{q, a})
	return true, nil
}

type fixture struct {
	h          *Handler
	store      *store.SQLiteStore
	gateway    *fakeGateway
	engine     *fakeEngine
	classifier *fakeClassifier
	marker     *fakeMarker
	learner    *fakeLearner
	flow       *payment.Flow
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "bot.db")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:      st,
		gateway:    &fakeGateway{media: []byte{0xff, 0xd8}},
		engine:     &fakeEngine{raw: "Hola, ¿en qué te ayudo?"},
		classifier: &fakeClassifier{label: "comprobante_pago"},
		marker:     &fakeMarker{},
		learner:    &fakeLearner{},
	}
	f.flow = payment.NewFlow(f.classifier, payment.NewMemorySessionStore(time.Minute), f.marker, st,
		payment.WithCertificateURL("https://cert.test/%s"))
	router := admin.NewRouter(adminPhone, st, f.gateway, f.flow, nil)
	opts = append([]Option{WithLearner(f.learner)}, opts...)
	f.h = NewHandler(st, gate.New(st), f.engine, f.flow, router, f.gateway,
		Config{AuthorizedGroupID: groupID}, opts...)
	return f
}

var msgSeq int

func userText(text string) models.InboundEvent {
	msgSeq++
	return models.InboundEvent{
		MessageID: fmt.Sprintf("msg-%d", msgSeq),
		ChatID:    userPhone + "@s.whatsapp.net",
		From:      userPhone,
		FromName:  "Ana",
		Type:      models.EventTypeText,
		Text:      text,
	}
}

func userImage() models.InboundEvent {
	ev := userText("")
	ev.Type = models.EventTypeImage
	ev.MediaID = "media-" + ev.MessageID
	ev.MediaMIME = "image/jpeg"
	return ev
}

func TestProcess_MenuForNewUser(t *testing.T) {
	f := newFixture(t)
	f.engine.raw = "VOLVER_AL_MENU"
	ctx := context.Background()

	outcome, err := f.h.Process(ctx, userText("cuanto cuesta"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, sent{userPhone, dialogue.MenuText}, f.gateway.sent[0])
	require.Len(t, f.engine.requests, 1)

	conv, err := f.store.GetOrCreate(ctx, userPhone)
	require.NoError(t, err)
	assert.False(t, conv.StopBot)
	assert.Equal(t, "Ana", conv.DisplayName)
	assert.Equal(t, models.ConversationStateActive, conv.State)

	last, err := f.store.LastInbound(ctx, userPhone)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "cuanto cuesta", last.Content)

	// history was cleared before the menu was stored
	msgs, err := f.store.RecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, dialogue.MenuText, msgs[0].Content)
}

func TestProcess_TransferStopsBot(t *testing.T) {
	f := newFixture(t)
	f.engine.raw = "Claro, te ayudo. ...transfiriendo con asesor"
	ctx := context.Background()

	_, err := f.h.Process(ctx, userText("quiero hablar con alguien"))
	require.NoError(t, err)

	require.Len(t, f.gateway.sent, 1)
	assert.NotContains(t, f.gateway.sent[0].body, dialogue.TokenTransfer)
	stop, err := f.store.StopFlag(ctx, userPhone)
	require.NoError(t, err)
	assert.True(t, stop)

	// the next message is suppressed but still stored
	outcome, err := f.h.Process(ctx, userText("hola?"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.Len(t, f.gateway.sent, 1)
	assert.Len(t, f.engine.requests, 1)
	last, err := f.store.LastInbound(ctx, userPhone)
	require.NoError(t, err)
	assert.Equal(t, "hola?", last.Content)
}

func TestProcess_HistoryPassedToEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.h.Process(ctx, userText("hola"))
	require.NoError(t, err)
	_, err = f.h.Process(ctx, userText("y el virtual?"))
	require.NoError(t, err)

	require.Len(t, f.engine.requests, 2)
	assert.Empty(t, f.engine.requests[0].History)
	hist := f.engine.requests[1].History
	require.Len(t, hist, 2)
	assert.Equal(t, "hola", hist[0].Content)
	assert.Equal(t, models.DirectionOutbound, hist[1].Direction)
}

func TestProcess_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ev := userText("hola")

	outcome, err := f.h.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)

	outcome, err = f.h.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, f.gateway.sent, 1)
}

func TestProcess_AdminStopScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := "573009998877"

	ev := models.InboundEvent{
		MessageID: "admin-1",
		FromMe:    true,
		ChatID:    target + "@s.whatsapp.net",
		From:      adminPhone,
		Type:      models.EventTypeText,
		Text:      "...transfiriendo con asesor",
	}
	outcome, err := f.h.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmin, outcome)
	assert.Empty(t, f.engine.requests)
	assert.Empty(t, f.gateway.sent)

	stop, err := f.store.StopFlag(ctx, target)
	require.NoError(t, err)
	assert.True(t, stop)
}

func TestProcess_OwnEchoIgnored(t *testing.T) {
	f := newFixture(t)
	ev := userText("respuesta del bot")
	ev.FromMe = true
	ev.From = "573119999999"
	outcome, err := f.h.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.engine.requests)
}

func TestProcess_APIEchoFromAdminNumberIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := models.InboundEvent{
		MessageID: "echo-1",
		FromMe:    true,
		APISent:   true,
		ChatID:    userPhone + "@s.whatsapp.net",
		From:      adminPhone,
		Type:      models.EventTypeText,
		Text:      "Claro, te ayudo. ...transfiriendo con asesor",
	}
	outcome, err := f.h.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.engine.requests)
	assert.Empty(t, f.gateway.sent)

	stop, err := f.store.StopFlag(ctx, userPhone)
	require.NoError(t, err)
	assert.False(t, stop)
}

func TestProcess_PaymentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.h.Process(ctx, userImage())
	require.NoError(t, err)
	assert.Equal(t, OutcomePayment, outcome)
	assert.Equal(t, payment.AskDocumentText, f.gateway.sent[0].body)

	outcome, err = f.h.Process(ctx, userText("abc"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePayment, outcome)
	assert.Equal(t, payment.InvalidDocumentText, f.gateway.sent[1].body)

	outcome, err = f.h.Process(ctx, userText("123456789"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePayment, outcome)
	assert.Equal(t, []string{"123456789"}, f.marker.calls)
	assert.Contains(t, f.gateway.sent[2].body, "https://cert.test/rec-123456789")
	assert.Empty(t, f.engine.requests)

	stop, err := f.store.StopFlag(ctx, userPhone)
	require.NoError(t, err)
	assert.True(t, stop)
	assert.Equal(t, payment.StateIdle, f.flow.State(ctx, userPhone))
}

func TestProcess_DocumentWithoutImageGoesToDialogue(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.h.Process(context.Background(), userText("123456789"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, outcome)
	assert.Empty(t, f.marker.calls)
	assert.Len(t, f.engine.requests, 1)
}

func TestProcess_MediaFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.gateway.mediaErr = errors.New("gateway 502")
	ev := userImage()

	outcome, err := f.h.Process(context.Background(), ev)
	assert.ErrorIs(t, err, models.ErrRetryable)
	assert.Equal(t, OutcomeRetry, outcome)

	// the redelivery is processed, not dropped as duplicate
	f.gateway.mediaErr = nil
	outcome, err = f.h.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomePayment, outcome)
}

func TestProcess_GroupLookup(t *testing.T) {
	appt := time.Date(2025, 3, 3, 15, 30, 0, 0, time.UTC)
	lookup := &fakePatients{byDocument: map[string]*models.PatientRecord{
		"1020304050": {ID: "r1", Document: "1020304050", FirstName: "Ana", LastName: "Gómez", AppointmentAt: &appt},
	}}
	f := newFixture(t, WithPatients(lookup))
	ctx := context.Background()

	// a stopped sender does not block group lookups
	_, err := f.store.GetOrCreate(ctx, "573005556677")
	require.NoError(t, err)
	_, err = f.store.SetStopFlag(ctx, "573005556677", true)
	require.NoError(t, err)

	ev := models.InboundEvent{
		MessageID: "g1",
		ChatID:    groupID,
		From:      "573005556677",
		Type:      models.EventTypeText,
		Text:      "1020304050",
	}
	outcome, err := f.h.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGroupLookup, outcome)
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, groupID, f.gateway.sent[0].to)
	assert.Contains(t, f.gateway.sent[0].body, "Ana Gómez")

	other := ev
	other.MessageID = "g2"
	other.Text = "buenos días"
	outcome, err = f.h.Process(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	foreign := ev
	foreign.MessageID = "g3"
	foreign.ChatID = "120363111@g.us"
	outcome, err = f.h.Process(ctx, foreign)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestProcess_PatientContext(t *testing.T) {
	lookup := &fakePatients{byPhone: map[string]*models.PatientRecord{
		userPhone: {ID: "r9", Document: "79981585", FirstName: "Luis"},
	}}
	f := newFixture(t, WithPatients(lookup))
	ctx := context.Background()

	_, err := f.h.Process(ctx, userText("ya está mi certificado?"))
	require.NoError(t, err)
	require.Len(t, f.engine.requests, 1)
	assert.Contains(t, f.engine.requests[0].PatientContext, "Estado detallado: sin_informacion")

	conv, err := f.store.GetOrCreate(ctx, userPhone)
	require.NoError(t, err)
	assert.Equal(t, "r9", conv.ExternalRef)
}

func TestProcess_ClosingLearnsAndCloses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.raw = "El examen virtual cuesta $46.000"
	_, err := f.h.Process(ctx, userText("cuanto vale el virtual"))
	require.NoError(t, err)
	first, err := f.store.GetOrCreate(ctx, userPhone)
	require.NoError(t, err)

	f.engine.raw = "¡Con gusto!"
	_, err = f.h.Process(ctx, userText("Gracias!"))
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"cuanto vale el virtual", "El examen virtual cuesta $46.000"}}, f.learner.pairs)
	next, err := f.store.GetOrCreate(ctx, userPhone)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestProcess_SendFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.gateway.sendErr = errors.New("whapi down")
	outcome, err := f.h.Process(context.Background(), userText("hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSendFailed, outcome)
}

func TestProcess_UnsupportedType(t *testing.T) {
	f := newFixture(t)
	ev := userText("")
	ev.Type = "audio"
	outcome, err := f.h.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestLastExchange(t *testing.T) {
	in := func(s string) models.Message {
		return models.Message{Direction: models.DirectionInbound, Kind: models.MessageKindText, Content: s}
	}
	out := func(s string) models.Message {
		return models.Message{Direction: models.DirectionOutbound, Kind: models.MessageKindText, Content: s}
	}
	q, a, ok := lastExchange([]models.Message{in("a"), out("b"), in("c"), out("d")})
	require.True(t, ok)
	assert.Equal(t, "c", q)
	assert.Equal(t, "d", a)

	_, _, ok = lastExchange([]models.Message{out("menu")})
	assert.False(t, ok)
}
