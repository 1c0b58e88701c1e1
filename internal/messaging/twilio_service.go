package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/phone"
	"github.com/bsl-salud/whatsbot/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a Twilio webhook without replying inline.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioClient is the part of twiliowhatsapp.Client the service uses.
type TwilioClient interface {
	SendMessage(ctx context.Context, to string, body string) error
	FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error)
	ValidSignature(fullURL string, form url.Values, signature string) bool
}

var _ TwilioClient = (*twiliowhatsapp.Client)(nil)

// TwilioService is a Gateway over the Twilio API plus the inbound webhook.
type TwilioService struct {
	client    TwilioClient
	handler   EventHandler
	publicURL string
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates the service. When publicURL is set, webhook
// requests must carry a valid X-Twilio-Signature computed for that URL.
func NewTwilioService(client TwilioClient, handler EventHandler, publicURL string) *TwilioService {
	return &TwilioService{client: client, handler: handler, publicURL: publicURL}
}

// Stop rejects further sends and webhook deliveries.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SendMessage canonicalizes the recipient and sends via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := phone.Canonicalize(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return fmt.Errorf("recipient %q: %w", to, err)
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// FetchMedia downloads a media URL from a webhook event.
func (s *TwilioService) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	return s.client.FetchMedia(ctx, mediaID)
}

// WebhookHandler handles inbound Twilio webhook requests.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.isStopped() {
		http.Error(w, "service stopped", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.publicURL != "" && !s.client.ValidSignature(s.publicURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		slog.Warn("TwilioService.WebhookHandler: invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ev, err := twiliowhatsapp.EventFromForm(r.PostForm)
	if err != nil {
		// Redelivering a malformed request cannot succeed.
		slog.Warn("TwilioService.WebhookHandler: unusable delivery", "error", err)
		writeTwiML(w, http.StatusOK)
		return
	}

	if err := s.handler(r.Context(), ev); err != nil {
		if errors.Is(err, models.ErrRetryable) {
			slog.Error("TwilioService.WebhookHandler: retryable failure", "error", err, "messageID", ev.MessageID)
			writeTwiML(w, http.StatusInternalServerError)
			return
		}
		slog.Error("TwilioService.WebhookHandler: handler failed", "error", err, "messageID", ev.MessageID)
	}
	writeTwiML(w, http.StatusOK)
}

func writeTwiML(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, emptyTwiML)
}
