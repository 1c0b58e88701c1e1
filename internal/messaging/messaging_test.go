package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/bsl-salud/whatsbot/internal/models"
)

type fakeTwilio struct {
	sent     []string
	validSig bool
}

func (f *fakeTwilio) SendMessage(_ context.Context, to, body string) error {
	f.sent = append(f.sent, to+":"+body)
	return nil
}

func (f *fakeTwilio) FetchMedia(context.Context, string) ([]byte, string, error) {
	return []byte("img"), "image/jpeg", nil
}

func (f *fakeTwilio) ValidSignature(string, url.Values, string) bool { return f.validSig }

func twilioRequest(form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

var twilioForm = url.Values{
	"MessageSid": {"SM1"},
	"From":       {"whatsapp:+573001112233"},
	"Body":       {"hola"},
}

func TestTwilioService_SendCanonicalizes(t *testing.T) {
	client := &fakeTwilio{}
	svc := NewTwilioService(client, nil, "")
	require.NoError(t, svc.SendMessage(context.Background(), "+57 300 111 2233", "hola"))
	assert.Equal(t, []string{"573001112233:hola"}, client.sent)

	assert.Error(t, svc.SendMessage(context.Background(), "12", "hola"))

	require.NoError(t, svc.Stop())
	assert.ErrorIs(t, svc.SendMessage(context.Background(), "573001112233", "hola"), ErrServiceStopped)
}

func TestTwilioService_WebhookDispatches(t *testing.T) {
	var got models.InboundEvent
	svc := NewTwilioService(&fakeTwilio{}, func(_ context.Context, ev models.InboundEvent) error {
		got = ev
		return nil
	}, "")

	w := httptest.NewRecorder()
	svc.WebhookHandler(w, twilioRequest(twilioForm))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Response>")
	assert.Equal(t, "573001112233", got.From)
	assert.Equal(t, "hola", got.Text)
}

func TestTwilioService_WebhookRetryable(t *testing.T) {
	svc := NewTwilioService(&fakeTwilio{}, func(context.Context, models.InboundEvent) error {
		return fmt.Errorf("%w: db down", models.ErrRetryable)
	}, "")
	w := httptest.NewRecorder()
	svc.WebhookHandler(w, twilioRequest(twilioForm))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTwilioService_WebhookSwallowsOtherErrors(t *testing.T) {
	svc := NewTwilioService(&fakeTwilio{}, func(context.Context, models.InboundEvent) error {
		return errors.New("send failed")
	}, "")
	w := httptest.NewRecorder()
	svc.WebhookHandler(w, twilioRequest(twilioForm))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	called := false
	client := &fakeTwilio{validSig: false}
	svc := NewTwilioService(client, func(context.Context, models.InboundEvent) error {
		called = true
		return nil
	}, "https://bot.example.test/webhook/twilio")

	w := httptest.NewRecorder()
	svc.WebhookHandler(w, twilioRequest(twilioForm))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)

	client.validSig = true
	w = httptest.NewRecorder()
	svc.WebhookHandler(w, twilioRequest(twilioForm))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

type fakeWhatsApp struct {
	mu       sync.Mutex
	handlers []func(interface{})
	sent     []string
}

func (f *fakeWhatsApp) SendMessage(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+body)
	return nil
}

func (f *fakeWhatsApp) DownloadImage(context.Context, *waE2E.ImageMessage) ([]byte, error) {
	return []byte("jpeg-bytes"), nil
}

func (f *fakeWhatsApp) AddEventHandler(h func(evt interface{})) {
	f.handlers = append(f.handlers, h)
}

func (f *fakeWhatsApp) emit(evt interface{}) {
	for _, h := range f.handlers {
		h(evt)
	}
}

func imageEvent(id string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("573001112233", types.DefaultUserServer),
				Sender: types.NewJID("573001112233", types.DefaultUserServer),
			},
			ID:        id,
			Timestamp: time.Now(),
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")}},
	}
}

func TestWhatsAppService_DispatchAndFetch(t *testing.T) {
	client := &fakeWhatsApp{}
	received := make(chan models.InboundEvent, 1)
	svc := NewWhatsAppService(client, func(_ context.Context, ev models.InboundEvent) error {
		received <- ev
		return nil
	})
	require.NoError(t, svc.Start(context.Background()))

	client.emit(imageEvent("IMG1"))
	client.emit(&events.Receipt{})

	select {
	case ev := <-received:
		assert.Equal(t, models.EventTypeImage, ev.Type)
		data, mime, err := svc.FetchMedia(context.Background(), ev.MediaID)
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg-bytes"), data)
		assert.Equal(t, "image/jpeg", mime)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	_, _, err := svc.FetchMedia(context.Background(), "IMG1")
	assert.Error(t, err, "media is fetched once")
	require.NoError(t, svc.Stop())
}

func TestWhatsAppService_DropsAfterStop(t *testing.T) {
	client := &fakeWhatsApp{}
	called := make(chan struct{}, 1)
	svc := NewWhatsAppService(client, func(context.Context, models.InboundEvent) error {
		called <- struct{}{}
		return nil
	})
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())

	client.emit(imageEvent("IMG2"))
	select {
	case <-called:
		t.Fatal("handler called after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWhatsAppService_SendCanonicalizes(t *testing.T) {
	client := &fakeWhatsApp{}
	svc := NewWhatsAppService(client, nil)
	require.NoError(t, svc.SendMessage(context.Background(), "3001112233", "hola"))
	require.NoError(t, svc.SendMessage(context.Background(), "120363000000@g.us", "resumen"))
	assert.Equal(t, []string{"573001112233:hola", "120363000000@g.us:resumen"}, client.sent)
}
