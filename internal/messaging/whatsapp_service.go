package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/phone"
	"github.com/bsl-salud/whatsbot/internal/whatsapp"
)

// Constants for WhatsAppService configuration
const (
	// DefaultHandlerTimeout bounds the processing of one inbound event.
	DefaultHandlerTimeout = 2 * time.Minute
	// pendingImageTTL is how long an inbound image stays downloadable.
	pendingImageTTL = 10 * time.Minute
)

// WhatsAppClient is the part of whatsapp.Client the service uses.
type WhatsAppClient interface {
	SendMessage(ctx context.Context, to string, body string) error
	DownloadImage(ctx context.Context, img *waE2E.ImageMessage) ([]byte, error)
	AddEventHandler(h func(evt interface{}))
}

var _ WhatsAppClient = (*whatsapp.Client)(nil)

type pendingImage struct {
	msg      *waE2E.ImageMessage
	received time.Time
}

// WhatsAppService is a Gateway over a direct Whatsmeow connection. Inbound
// messages are pushed to the handler, each on its own goroutine.
type WhatsAppService struct {
	client  WhatsAppClient
	handler EventHandler
	timeout time.Duration

	mu      sync.Mutex
	images  map[string]pendingImage
	stopped bool
	wg      sync.WaitGroup
}

// NewWhatsAppService wraps client and dispatches inbound events to handler.
func NewWhatsAppService(client WhatsAppClient, handler EventHandler) *WhatsAppService {
	return &WhatsAppService{
		client:  client,
		handler: handler,
		timeout: DefaultHandlerTimeout,
		images:  make(map[string]pendingImage),
	}
}

// Start registers the event handler on the Whatsmeow client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.client.AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(ctx, msg)
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop rejects new events and waits for in-flight handlers.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends to a chat id as is, or to a canonicalized phone number.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if strings.Contains(to, "@") {
		return s.client.SendMessage(ctx, to, body)
	}
	canonicalTo, err := phone.Canonicalize(to)
	if err != nil {
		return fmt.Errorf("recipient %q: %w", to, err)
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// FetchMedia downloads an image previously received in an event. Each image
// can be fetched once.
func (s *WhatsAppService) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	s.mu.Lock()
	p, ok := s.images[mediaID]
	delete(s.images, mediaID)
	s.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("media %s not available", mediaID)
	}
	data, err := s.client.DownloadImage(ctx, p.msg)
	if err != nil {
		return nil, "", err
	}
	return data, p.msg.GetMimetype(), nil
}

func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	ev, img, ok := whatsapp.ToInboundEvent(evt)
	if !ok {
		slog.Debug("WhatsAppService ignoring unsupported message", "id", evt.Info.ID)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		slog.Warn("WhatsAppService dropping message after stop", "id", ev.MessageID)
		return
	}
	if img != nil {
		s.pruneImagesLocked(time.Now())
		s.images[ev.MediaID] = pendingImage{msg: img, received: time.Now()}
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		hctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.handler(hctx, ev); err != nil {
			// There is no redelivery on a socket connection; log and move on.
			level := slog.LevelError
			if !errors.Is(err, models.ErrRetryable) {
				level = slog.LevelWarn
			}
			slog.Log(hctx, level, "WhatsAppService handler failed", "error", err, "id", ev.MessageID)
		}
	}()
}

func (s *WhatsAppService) pruneImagesLocked(now time.Time) {
	for id, p := range s.images {
		if now.Sub(p.received) > pendingImageTTL {
			delete(s.images, id)
		}
	}
}
