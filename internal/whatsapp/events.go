package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// ToInboundEvent converts a Whatsmeow message event. It reports false for
// message kinds the bot does not handle. For images the event's message id
// doubles as the media id.
func ToInboundEvent(evt *events.Message) (models.InboundEvent, *waE2E.ImageMessage, bool) {
	if evt == nil || evt.Message == nil {
		return models.InboundEvent{}, nil, false
	}
	ev := models.InboundEvent{
		MessageID: evt.Info.ID,
		FromMe:    evt.Info.IsFromMe,
		ChatID:    evt.Info.Chat.String(),
		From:      evt.Info.Sender.User,
		FromName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp.Unix(),
	}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		ev.Type = models.EventTypeText
		ev.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		ev.Type = models.EventTypeText
		ev.Text = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		ev.Type = models.EventTypeImage
		ev.Text = img.GetCaption()
		ev.MediaID = evt.Info.ID
		ev.MediaMIME = img.GetMimetype()
		return ev, img, true
	default:
		return models.InboundEvent{}, nil, false
	}
	return ev, nil, true
}
