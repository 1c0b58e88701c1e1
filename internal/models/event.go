package models

import "strings"

// Chat id suffixes used by WhatsApp gateways.
const (
	// GroupChatSuffix marks group chat identifiers.
	GroupChatSuffix = "@g.us"
	// UserChatSuffix marks one-to-one chat identifiers.
	UserChatSuffix = "@s.whatsapp.net"
)

// EventType is the message type of an inbound gateway event.
type EventType string

const (
	EventTypeText  EventType = "text"
	EventTypeImage EventType = "image"
)

// InboundEvent is a gateway-neutral view of the first message of a webhook delivery.
type InboundEvent struct {
	MessageID string `json:"id" validate:"required"`
	FromMe    bool   `json:"from_me"`
	// APISent marks our own outgoing messages echoed back by the gateway.
	APISent   bool      `json:"api_sent,omitempty"`
	ChatID    string    `json:"chat_id" validate:"required"`
	From      string    `json:"from"`
	FromName  string    `json:"from_name,omitempty"`
	Type      EventType `json:"type" validate:"required"`
	Text      string    `json:"text,omitempty"`
	MediaID   string    `json:"media_id,omitempty"`
	MediaMIME string    `json:"media_mime,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// IsGroup reports whether the event was posted in a group chat.
func (e InboundEvent) IsGroup() bool {
	return strings.HasSuffix(e.ChatID, GroupChatSuffix)
}

// ChatPhone extracts the user part of the chat id. For one-to-one chats this
// is the counterpart's number even when the event was sent by us.
func (e InboundEvent) ChatPhone() string {
	if i := strings.IndexByte(e.ChatID, '@'); i >= 0 {
		return e.ChatID[:i]
	}
	return e.ChatID
}

// InAuthorizedGroup reports whether the event comes from the given group.
// An empty group id authorizes nothing.
func (e InboundEvent) InAuthorizedGroup(groupID string) bool {
	if groupID == "" || !e.IsGroup() {
		return false
	}
	return strings.HasSuffix(e.ChatID, groupID)
}
