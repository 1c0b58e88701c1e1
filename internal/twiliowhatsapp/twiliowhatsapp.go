// Package twiliowhatsapp wraps the Twilio API for WhatsApp messaging.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/phone"
)

// whatsappPrefix is Twilio's channel prefix on WhatsApp addresses.
const whatsappPrefix = "whatsapp:"

// maxMediaBytes caps inbound media downloads.
const maxMediaBytes = 10 << 20

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token, also used to verify webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender, e.g. "whatsapp:+14155238886".
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client     *twilio.RestClient
	validator  twilioclient.RequestValidator
	fromWhats  string
	accountSID string
	authToken  string
	http       *http.Client
}

// NewClient creates a client. Missing options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, whatsappPrefix) {
		cfg.FromWhats = whatsappPrefix + cfg.FromWhats
	}

	return &Client{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		validator:  twilioclient.NewRequestValidator(cfg.AuthToken),
		fromWhats:  cfg.FromWhats,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		http:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SendMessage sends a WhatsApp message to a canonical phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappPrefix + "+" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp.Sid != nil {
		slog.Debug("Twilio message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// FetchMedia downloads a media URL received in a webhook. Twilio media URLs
// require the account credentials.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ValidSignature checks the X-Twilio-Signature header of a webhook request
// against its full URL and form parameters.
func (c *Client) ValidSignature(fullURL string, form url.Values, signature string) bool {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return c.validator.Validate(fullURL, params, signature)
}

// EventFromForm converts an inbound Twilio webhook form into an InboundEvent.
// Only the first media item is kept.
func EventFromForm(form url.Values) (models.InboundEvent, error) {
	from := strings.TrimPrefix(form.Get("From"), whatsappPrefix)
	sender, err := phone.Canonicalize(from)
	if err != nil {
		return models.InboundEvent{}, fmt.Errorf("twilio webhook sender %q: %w", from, err)
	}
	ev := models.InboundEvent{
		MessageID: form.Get("MessageSid"),
		ChatID:    sender + models.UserChatSuffix,
		From:      sender,
		FromName:  form.Get("ProfileName"),
		Type:      models.EventTypeText,
		Text:      form.Get("Body"),
		Timestamp: time.Now().Unix(),
	}
	if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
		ev.Type = models.EventTypeImage
		ev.MediaID = form.Get("MediaUrl0")
		ev.MediaMIME = form.Get("MediaContentType0")
	}
	if ev.MessageID == "" {
		return models.InboundEvent{}, fmt.Errorf("twilio webhook missing MessageSid")
	}
	return ev, nil
}
