// Package bot orchestrates the handling of one inbound WhatsApp event.
//
// Every delivery is deduplicated by gateway message id, routed to the admin
// router, the authorized group lookup, the payment flow or the dialogue
// engine, and persisted. Internal failures are logged and turned into an
// Outcome; only failures wrapping models.ErrRetryable reach the transport.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/bsl-salud/whatsbot/internal/admin"
	"github.com/bsl-salud/whatsbot/internal/dialogue"
	"github.com/bsl-salud/whatsbot/internal/messaging"
	"github.com/bsl-salud/whatsbot/internal/metrics"
	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/patients"
	"github.com/bsl-salud/whatsbot/internal/phone"
	"github.com/bsl-salud/whatsbot/internal/store"
)

// Outcome labels how an event was handled.
type Outcome string

const (
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeAdmin       Outcome = "admin"
	OutcomeSuppressed  Outcome = "suppressed"
	OutcomeGroupLookup Outcome = "group_lookup"
	OutcomePayment     Outcome = "payment"
	OutcomeReplied     Outcome = "replied"
	OutcomeSendFailed  Outcome = "send_failed"
	OutcomeRetry       Outcome = "retry"
)

// imagePlaceholder is stored for images without a caption.
const imagePlaceholder = "[imagen]"

var documentPattern = regexp.MustCompile(`^\d{6,10}$`)

// Store is the persistence the handler needs.
type Store interface {
	store.ConversationStore
	store.DedupRepo
}

// Suppressor is the bot gate.
type Suppressor interface {
	ShouldSuppress(ctx context.Context, phone string, authorizedGroup bool) bool
}

// Responder generates dialogue replies.
type Responder interface {
	Respond(ctx context.Context, req dialogue.Request) dialogue.Reply
}

// Payments is the payment flow.
type Payments interface {
	HandleImage(ctx context.Context, phone string, image []byte, mimeType string) (string, error)
	HandleText(ctx context.Context, phone, text string) (string, bool, error)
}

// AdminRouter handles admin messages.
type AdminRouter interface {
	IsAdminEvent(ev models.InboundEvent) bool
	Handle(ctx context.Context, ev models.InboundEvent) (admin.Command, error)
}

// Learner stores question/answer pairs.
type Learner interface {
	Learn(ctx context.Context, userID, question, answer string, source models.KnowledgeSource) (bool, error)
}

// Config holds the handler's settings.
type Config struct {
	// AuthorizedGroupID selects the consultation group; empty disables group lookups.
	AuthorizedGroupID string
	// HistoryLimit bounds the history handed to the dialogue engine.
	HistoryLimit int
	// Location renders patient dates.
	Location *time.Location
}

// Handler processes inbound events.
type Handler struct {
	store    Store
	gate     Suppressor
	engine   Responder
	payments Payments
	admin    AdminRouter
	gateway  messaging.Gateway
	patients patients.Lookup
	learner  Learner
	cfg      Config
	now      func() time.Time
}

// Option configures optional collaborators.
type Option func(*Handler)

// WithPatients enables patient context and group document lookups.
func WithPatients(lookup patients.Lookup) Option {
	return func(h *Handler) { h.patients = lookup }
}

// WithLearner enables learning answered exchanges when a user closes a conversation.
func WithLearner(l Learner) Option {
	return func(h *Handler) { h.learner = l }
}

// NewHandler wires a handler.
func NewHandler(st Store, gate Suppressor, engine Responder, payments Payments, adminRouter AdminRouter, gateway messaging.Gateway, cfg Config, opts ...Option) *Handler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = dialogue.DefaultHistoryLimit
	}
	if cfg.Location == nil {
		cfg.Location = patients.LoadLocation(patients.ClinicTimezone)
	}
	h := &Handler{
		store:    st,
		gate:     gate,
		engine:   engine,
		payments: payments,
		admin:    adminRouter,
		gateway:  gateway,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle is a messaging.EventHandler.
func (h *Handler) Handle(ctx context.Context, ev models.InboundEvent) error {
	outcome, err := h.Process(ctx, ev)
	metrics.WebhookOutcomes.WithLabelValues(string(outcome)).Inc()
	return err
}

// Process handles ev and reports the outcome. The returned error is non-nil
// only when the gateway should redeliver the event.
func (h *Handler) Process(ctx context.Context, ev models.InboundEvent) (Outcome, error) {
	if ev.Type != models.EventTypeText && ev.Type != models.EventTypeImage {
		slog.Debug("Handler.Process: unsupported event type", "type", ev.Type, "id", ev.MessageID)
		return OutcomeIgnored, nil
	}

	fresh, err := h.store.RecordInbound(ctx, ev.MessageID, ev.ChatPhone())
	if err != nil {
		slog.Warn("Handler.Process: dedup record failed, processing anyway", "id", ev.MessageID, "error", err)
	} else if !fresh {
		slog.Debug("Handler.Process: duplicate delivery", "id", ev.MessageID)
		return OutcomeDuplicate, nil
	}

	outcome, err := h.route(ctx, ev)
	if err != nil && errors.Is(err, models.ErrRetryable) {
		if ferr := h.store.ForgetInbound(ctx, ev.MessageID); ferr != nil {
			slog.Error("Handler.Process: forget dedup record failed", "id", ev.MessageID, "error", ferr)
		}
		return OutcomeRetry, err
	}
	if err != nil {
		slog.Error("Handler.Process: event failed", "id", ev.MessageID, "outcome", outcome, "error", err)
	}
	if merr := h.store.MarkProcessed(ctx, ev.MessageID); merr != nil {
		slog.Warn("Handler.Process: mark processed failed", "id", ev.MessageID, "error", merr)
	}
	return outcome, nil
}

func (h *Handler) route(ctx context.Context, ev models.InboundEvent) (Outcome, error) {
	if h.admin.IsAdminEvent(ev) {
		_, err := h.admin.Handle(ctx, ev)
		return OutcomeAdmin, err
	}
	if ev.FromMe {
		return OutcomeIgnored, nil
	}
	if ev.IsGroup() {
		if !ev.InAuthorizedGroup(h.cfg.AuthorizedGroupID) {
			return OutcomeIgnored, nil
		}
		return h.handleGroup(ctx, ev)
	}

	userPhone, err := phone.Canonicalize(ev.ChatPhone())
	if err != nil {
		slog.Warn("Handler.route: unusable sender", "chatID", ev.ChatID, "error", err)
		return OutcomeIgnored, nil
	}
	conv := h.conversation(ctx, userPhone, ev.FromName)

	if h.gate.ShouldSuppress(ctx, userPhone, false) {
		h.persistInbound(ctx, conv, ev)
		return OutcomeSuppressed, nil
	}

	if ev.Type == models.EventTypeImage {
		h.persistInbound(ctx, conv, ev)
		return h.handleImage(ctx, conv, userPhone, ev)
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return OutcomeIgnored, nil
	}

	reply, handled, err := h.payments.HandleText(ctx, userPhone, text)
	if handled {
		h.persistInbound(ctx, conv, ev)
		if err != nil {
			return OutcomeRetry, err
		}
		return h.deliver(ctx, conv, userPhone, reply, OutcomePayment), nil
	}

	return h.converse(ctx, conv, userPhone, ev, text)
}

// handleGroup answers a document number posted in the consultation group
// with the patient's summary. Other group messages are ignored.
func (h *Handler) handleGroup(ctx context.Context, ev models.InboundEvent) (Outcome, error) {
	document := strings.TrimSpace(ev.Text)
	if ev.Type != models.EventTypeText || h.patients == nil || !documentPattern.MatchString(document) {
		return OutcomeIgnored, nil
	}
	// Group lookups bypass the stop flag, so the gate is not consulted.

	rec, err := h.patients.GetByDocument(ctx, document)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("group lookup %s: %w", document, err)
	}
	status, err := patients.StatusOf(ctx, h.patients, rec, h.now())
	if err != nil {
		slog.Warn("Handler.handleGroup: status lookup failed", "document", document, "error", err)
	}
	summary := patients.Summary(rec, status, h.cfg.Location)
	if err := h.gateway.SendMessage(ctx, ev.ChatID, summary); err != nil {
		return OutcomeSendFailed, fmt.Errorf("send group summary: %w", err)
	}
	return OutcomeGroupLookup, nil
}

func (h *Handler) handleImage(ctx context.Context, conv *models.Conversation, userPhone string, ev models.InboundEvent) (Outcome, error) {
	image, mimeType, err := h.gateway.FetchMedia(ctx, ev.MediaID)
	if err != nil {
		return OutcomeRetry, fmt.Errorf("%w: fetch media %s: %v", models.ErrRetryable, ev.MediaID, err)
	}
	if mimeType == "" {
		mimeType = ev.MediaMIME
	}
	reply, err := h.payments.HandleImage(ctx, userPhone, image, mimeType)
	if err != nil {
		return OutcomeRetry, err
	}
	return h.deliver(ctx, conv, userPhone, reply, OutcomePayment), nil
}

func (h *Handler) converse(ctx context.Context, conv *models.Conversation, userPhone string, ev models.InboundEvent, text string) (Outcome, error) {
	history := h.history(ctx, conv)
	h.persistInbound(ctx, conv, ev)

	req := dialogue.Request{
		Phone:          userPhone,
		UserMessage:    text,
		History:        history,
		PatientContext: h.patientContext(ctx, conv, userPhone),
	}
	reply := h.engine.Respond(ctx, req)

	switch reply.Kind {
	case dialogue.ShowMenu:
		if conv != nil {
			if err := h.store.ClearHistory(ctx, conv.ID); err != nil {
				slog.Warn("Handler.converse: clear history failed", "phone", userPhone, "error", err)
			}
		}
		return h.deliver(ctx, conv, userPhone, reply.Text, OutcomeReplied), nil
	case dialogue.TransferToHuman:
		outcome := h.deliver(ctx, conv, userPhone, reply.Text, OutcomeReplied)
		if _, err := h.store.SetStopFlag(ctx, userPhone, true); err != nil {
			slog.Error("Handler.converse: stop flag after transfer failed", "phone", userPhone, "error", err)
		}
		slog.Info("Handler.converse: conversation handed to a human", "phone", userPhone)
		return outcome, nil
	}

	outcome := h.deliver(ctx, conv, userPhone, reply.Text, OutcomeReplied)
	if dialogue.IsClosing(text) && conv != nil {
		h.close(ctx, conv, userPhone, history)
	}
	return outcome, nil
}

// close learns the exchange the user just thanked for and closes the
// conversation so the next message starts fresh.
func (h *Handler) close(ctx context.Context, conv *models.Conversation, userPhone string, history []models.Message) {
	if h.learner != nil {
		if q, a, ok := lastExchange(history); ok {
			if _, err := h.learner.Learn(ctx, userPhone, q, a, models.KnowledgeSourceBot); err != nil {
				slog.Warn("Handler.close: learn failed", "phone", userPhone, "error", err)
			}
		}
	}
	if err := h.store.CloseConversation(ctx, conv.ID); err != nil {
		slog.Warn("Handler.close: close failed", "phone", userPhone, "error", err)
		return
	}
	slog.Debug("Handler.close: conversation closed", "phone", userPhone, "conversationID", conv.ID)
}

// lastExchange finds the newest inbound text directly answered by an outbound text.
func lastExchange(history []models.Message) (question, answer string, ok bool) {
	for i := len(history) - 1; i > 0; i-- {
		in, out := history[i-1], history[i]
		if in.Direction == models.DirectionInbound && out.Direction == models.DirectionOutbound &&
			in.Kind == models.MessageKindText && out.Kind == models.MessageKindText {
			return in.Content, out.Content, true
		}
	}
	return "", "", false
}

// deliver sends text and persists it as an outbound message.
func (h *Handler) deliver(ctx context.Context, conv *models.Conversation, userPhone, text string, outcome Outcome) Outcome {
	if err := h.gateway.SendMessage(ctx, userPhone, text); err != nil {
		slog.Error("Handler.deliver: send failed", "phone", userPhone, "error", err)
		return OutcomeSendFailed
	}
	if conv != nil {
		if err := h.store.AppendMessage(ctx, conv.ID, models.DirectionOutbound, text, models.MessageKindText); err != nil {
			slog.Warn("Handler.deliver: persist outbound failed", "phone", userPhone, "error", err)
		}
	}
	return outcome
}

// conversation returns the user's open conversation, or nil when the store
// is unavailable; the bot still answers without persistence.
func (h *Handler) conversation(ctx context.Context, userPhone, displayName string) *models.Conversation {
	conv, err := h.store.GetOrCreate(ctx, userPhone)
	if err != nil {
		slog.Error("Handler.conversation: get or create failed, continuing without persistence", "phone", userPhone, "error", err)
		return nil
	}
	if displayName != "" && displayName != conv.DisplayName {
		if err := h.store.SetDisplayName(ctx, userPhone, displayName); err != nil {
			slog.Warn("Handler.conversation: set display name failed", "phone", userPhone, "error", err)
		}
	}
	return conv
}

func (h *Handler) history(ctx context.Context, conv *models.Conversation) []models.Message {
	if conv == nil {
		return nil
	}
	msgs, err := h.store.RecentMessages(ctx, conv.ID, h.cfg.HistoryLimit)
	if err != nil {
		slog.Warn("Handler.history: read failed, using empty history", "conversationID", conv.ID, "error", err)
		return nil
	}
	return msgs
}

func (h *Handler) persistInbound(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) {
	if conv == nil {
		return
	}
	kind, content := models.MessageKindText, strings.TrimSpace(ev.Text)
	if ev.Type == models.EventTypeImage {
		kind = models.MessageKindImage
		if content == "" {
			content = imagePlaceholder
		}
	}
	if content == "" {
		return
	}
	if err := h.store.AppendMessage(ctx, conv.ID, models.DirectionInbound, content, kind); err != nil {
		slog.Warn("Handler.persistInbound: append failed", "conversationID", conv.ID, "error", err)
	}
}

// patientContext renders the patient block for the prompt, or "" when the
// patient is unknown or the directory is unavailable.
func (h *Handler) patientContext(ctx context.Context, conv *models.Conversation, userPhone string) string {
	if h.patients == nil {
		return ""
	}
	rec, err := h.patients.GetByPhone(ctx, userPhone)
	if err != nil {
		slog.Warn("Handler.patientContext: lookup failed", "phone", userPhone, "error", err)
		return ""
	}
	if rec == nil {
		return ""
	}
	status, err := patients.StatusOf(ctx, h.patients, rec, h.now())
	if err != nil {
		slog.Warn("Handler.patientContext: status failed", "phone", userPhone, "error", err)
	}
	if conv != nil && rec.ID != "" && conv.ExternalRef != rec.ID {
		if err := h.store.LinkExternalRef(ctx, userPhone, rec.ID); err != nil {
			slog.Debug("Handler.patientContext: link external ref failed", "phone", userPhone, "error", err)
		}
	}
	return patients.ContextBlock(rec, status, h.cfg.Location)
}
