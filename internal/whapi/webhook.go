package whapi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/phone"
)

// SourceAPI is the message source Whapi reports for messages sent through
// its HTTP API, which includes every bot reply.
const SourceAPI = "api"

// ErrNoMessages is returned for deliveries without message events, such as
// status callbacks.
var ErrNoMessages = errors.New("webhook carries no messages")

var validate = validator.New()

// WebhookPayload is the body Whapi posts to the webhook.
type WebhookPayload struct {
	Messages []WebhookMessage `json:"messages"`
}

// WebhookMessage is one message event.
type WebhookMessage struct {
	ID        string        `json:"id" validate:"required"`
	FromMe    bool          `json:"from_me"`
	Type      string        `json:"type" validate:"required"`
	ChatID    string        `json:"chat_id" validate:"required"`
	Timestamp int64         `json:"timestamp"`
	From      string        `json:"from"`
	FromName  string        `json:"from_name"`
	Source    string        `json:"source"`
	Text      *WebhookText  `json:"text,omitempty"`
	Image     *WebhookImage `json:"image,omitempty"`
}

type WebhookText struct {
	Body string `json:"body"`
}

type WebhookImage struct {
	ID       string `json:"id" validate:"required"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// ParseWebhook decodes a delivery and converts its first message. Only the
// first event of a delivery is processed.
func ParseWebhook(body []byte) (models.InboundEvent, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.InboundEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if len(payload.Messages) == 0 {
		return models.InboundEvent{}, ErrNoMessages
	}
	msg := payload.Messages[0]
	if err := validate.Struct(msg); err != nil {
		return models.InboundEvent{}, fmt.Errorf("invalid webhook message: %w", err)
	}

	from := msg.From
	if canonical, err := phone.FromJID(msg.From); err == nil {
		from = canonical
	}
	ev := models.InboundEvent{
		MessageID: msg.ID,
		FromMe:    msg.FromMe,
		APISent:   msg.FromMe && msg.Source == SourceAPI,
		ChatID:    msg.ChatID,
		From:      from,
		FromName:  msg.FromName,
		Timestamp: msg.Timestamp,
	}
	switch msg.Type {
	case "text":
		ev.Type = models.EventTypeText
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
	case "image":
		if msg.Image == nil {
			return models.InboundEvent{}, fmt.Errorf("image message %s without image", msg.ID)
		}
		ev.Type = models.EventTypeImage
		ev.MediaID = msg.Image.ID
		ev.MediaMIME = msg.Image.MimeType
		ev.Text = msg.Image.Caption
	default:
		ev.Type = models.EventType(msg.Type)
	}
	if err := validate.Struct(ev); err != nil {
		return models.InboundEvent{}, fmt.Errorf("invalid inbound event: %w", err)
	}
	return ev, nil
}
