// Package messaging defines the outbound and inbound gateway abstractions
// and adapts the Twilio and Whatsmeow transports to them.
package messaging

import (
	"context"
	"errors"

	"github.com/bsl-salud/whatsbot/internal/models"
)

// ErrServiceStopped is returned by services used after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Sender delivers a text message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// MediaFetcher downloads inbound media by the id carried in the event.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Gateway is a transport that can both send and fetch media.
type Gateway interface {
	Sender
	MediaFetcher
}

// EventHandler processes one inbound event. Errors wrapping
// models.ErrRetryable ask the transport to have the event redelivered.
type EventHandler func(ctx context.Context, ev models.InboundEvent) error
