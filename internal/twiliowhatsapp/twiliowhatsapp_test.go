package twiliowhatsapp

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsl-salud/whatsbot/internal/models"
)

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	_, err := NewClient()
	assert.Error(t, err)

	_, err = NewClient(WithAccountSID("AC123"), WithAuthToken("secret"))
	assert.Error(t, err)
}

func TestNewClient_PrefixesSender(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret"), WithFromWhats("+14155238886"))
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", c.fromWhats)
}

func TestEventFromForm_Text(t *testing.T) {
	form := url.Values{
		"MessageSid":  {"SM123"},
		"From":        {"whatsapp:+573001112233"},
		"ProfileName": {"Ana"},
		"Body":        {"hola"},
		"NumMedia":    {"0"},
	}
	ev, err := EventFromForm(form)
	require.NoError(t, err)
	assert.Equal(t, "SM123", ev.MessageID)
	assert.Equal(t, "573001112233", ev.From)
	assert.Equal(t, "573001112233@s.whatsapp.net", ev.ChatID)
	assert.Equal(t, models.EventTypeText, ev.Type)
	assert.Equal(t, "hola", ev.Text)
	assert.False(t, ev.FromMe)
}

func TestEventFromForm_Image(t *testing.T) {
	form := url.Values{
		"MessageSid":        {"MM456"},
		"From":              {"whatsapp:3001112233"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"image/jpeg"},
	}
	ev, err := EventFromForm(form)
	require.NoError(t, err)
	assert.Equal(t, "573001112233", ev.From)
	assert.Equal(t, models.EventTypeImage, ev.Type)
	assert.Equal(t, "https://api.twilio.com/media/ME1", ev.MediaID)
	assert.Equal(t, "image/jpeg", ev.MediaMIME)
}

func TestEventFromForm_Invalid(t *testing.T) {
	_, err := EventFromForm(url.Values{"MessageSid": {"SM1"}, "From": {"whatsapp:+12"}})
	assert.Error(t, err)

	_, err = EventFromForm(url.Values{"From": {"whatsapp:+573001112233"}})
	assert.Error(t, err)
}

func TestValidSignature(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("12345"), WithFromWhats("+14155238886"))
	require.NoError(t, err)
	assert.False(t, c.ValidSignature("https://example.test/webhook/twilio", url.Values{"Body": {"hola"}}, "bogus"))
}
