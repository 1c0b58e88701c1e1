package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/whapi"
)

// livenessText answers GET /webhook.
const livenessText = "Webhook is active"

// webhookHandler receives Whapi deliveries. Every delivery is acknowledged
// with 200 unless processing failed in a way a redelivery can fix. When the
// server has no Whapi handler only GET is served.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch {
	case r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, livenessText)
		return
	case r.Method == http.MethodPost && s.handler != nil:
	default:
		allow := "GET"
		if s.handler != nil {
			allow = "GET, POST"
		}
		w.Header().Set("Allow", allow)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method, "whapi", s.handler != nil)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Acknowledged("Unreadable body"))
		return
	}

	ev, err := whapi.ParseWebhook(body)
	if errors.Is(err, whapi.ErrNoMessages) {
		writeJSONResponse(w, http.StatusOK, models.Acknowledged("No message found"))
		return
	}
	if err != nil {
		slog.Warn("Server.webhookHandler: unusable delivery", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Acknowledged("Invalid message ignored"))
		return
	}

	if err := s.handler(r.Context(), ev); err != nil {
		if errors.Is(err, models.ErrRetryable) {
			slog.Error("Server.webhookHandler: retryable failure", "error", err, "id", ev.MessageID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Processing failed, retry"))
			return
		}
		slog.Error("Server.webhookHandler: processing failed", "error", err, "id", ev.MessageID)
	}
	writeJSONResponse(w, http.StatusOK, models.Acknowledged("Message processed"))
}
