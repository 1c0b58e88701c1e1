// Package admin routes messages the clinic's admin sends from the bot's own
// account in a one-to-one chat.
//
// A small closed set of exact commands controls the bot for the chat's user.
// Any other sufficiently long admin message is learned as a verified answer to
// the user's latest question.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bsl-salud/whatsbot/internal/metrics"
	"github.com/bsl-salud/whatsbot/internal/models"
	"github.com/bsl-salud/whatsbot/internal/payment"
	"github.com/bsl-salud/whatsbot/internal/phone"
)

// MinLearnLength is the rune count from which a non-command admin message is
// learned as an answer.
const MinLearnLength = 20

// Command identifies what Handle did with a message.
type Command string

const (
	CommandNone          Command = "none"
	CommandStopBot       Command = "stop_bot"
	CommandResumeBot     Command = "resume_bot"
	CommandPaymentInfo   Command = "payment_info"
	CommandCancelPayment Command = "cancel_payment"
	CommandLearn         Command = "learn"
)

// Exact command utterances, compared after trimming and lower-casing.
var commands = map[string]Command{
	"...transfiriendo con asesor": CommandStopBot,
	"...te dejo con el bot 🤖":     CommandResumeBot,
	"...medios de pago":           CommandPaymentInfo,
	"...cancelar pago":            CommandCancelPayment,
}

// ParseCommand maps an admin utterance to a command, or CommandNone.
func ParseCommand(text string) Command {
	if c, ok := commands[strings.ToLower(strings.TrimSpace(text))]; ok {
		return c
	}
	return CommandNone
}

// Conversations is the conversation store surface the router needs.
type Conversations interface {
	GetOrCreate(ctx context.Context, phone string) (*models.Conversation, error)
	SetStopFlag(ctx context.Context, phone string, value bool) (bool, error)
	AppendMessage(ctx context.Context, conversationID string, direction models.Direction, content string, kind models.MessageKind) error
	LastInbound(ctx context.Context, phone string) (*models.Message, error)
}

// Sender delivers text to a user.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// PaymentCanceller drops a user's payment session.
type PaymentCanceller interface {
	Cancel(ctx context.Context, phone string) error
}

// Learner stores a verified question/answer pair.
type Learner interface {
	Learn(ctx context.Context, userID, question, answer string, source models.KnowledgeSource) (bool, error)
}

// Router handles admin messages.
type Router struct {
	adminPhone    string
	conversations Conversations
	sender        Sender
	payments      PaymentCanceller
	learner       Learner
}

// NewRouter creates a router for the given admin number. learner may be nil.
func NewRouter(adminPhone string, conversations Conversations, sender Sender, payments PaymentCanceller, learner Learner) *Router {
	canonical, err := phone.Canonicalize(adminPhone)
	if err != nil {
		slog.Warn("admin.NewRouter: admin number not set or invalid, admin commands disabled", "adminPhone", adminPhone)
		canonical = ""
	}
	return &Router{
		adminPhone:    canonical,
		conversations: conversations,
		sender:        sender,
		payments:      payments,
		learner:       learner,
	}
}

// IsAdminEvent reports whether ev was sent by the admin from the bot's own
// account in a one-to-one chat. Echoes of messages the bot sent through the
// gateway API are not admin events even though they carry the admin number.
func (r *Router) IsAdminEvent(ev models.InboundEvent) bool {
	if r.adminPhone == "" || !ev.FromMe || ev.APISent || ev.IsGroup() {
		return false
	}
	from, err := phone.FromJID(ev.From)
	return err == nil && from == r.adminPhone
}

// Handle executes an admin event against the chat's user. The target is the
// chat counterpart, never the admin. Events that are not admin events are
// ignored with CommandNone.
func (r *Router) Handle(ctx context.Context, ev models.InboundEvent) (Command, error) {
	if !r.IsAdminEvent(ev) || ev.Type != models.EventTypeText {
		return CommandNone, nil
	}
	target, err := phone.Canonicalize(ev.ChatPhone())
	if err != nil {
		return CommandNone, fmt.Errorf("admin target from chat %q: %w", ev.ChatID, err)
	}
	if target == r.adminPhone {
		// notes to self
		return CommandNone, nil
	}

	cmd := ParseCommand(ev.Text)
	switch cmd {
	case CommandStopBot:
		err = r.setStop(ctx, target, true)
		if cerr := r.payments.Cancel(ctx, target); cerr != nil {
			slog.Warn("Router.Handle: payment cancel failed", "target", target, "error", cerr)
		}
	case CommandResumeBot:
		err = r.setStop(ctx, target, false)
	case CommandPaymentInfo:
		err = r.sendPaymentInfo(ctx, target)
	case CommandCancelPayment:
		err = r.payments.Cancel(ctx, target)
	default:
		cmd = r.learn(ctx, target, ev.Text)
	}
	if err != nil {
		slog.Error("Router.Handle: command failed", "command", cmd, "target", target, "error", err)
		return cmd, err
	}
	metrics.AdminCommands.WithLabelValues(string(cmd)).Inc()
	slog.Info("Router.Handle: admin command", "command", cmd, "target", target)
	return cmd, nil
}

// setStop makes sure the target has an open conversation so the flag has a
// row to land on.
func (r *Router) setStop(ctx context.Context, target string, value bool) error {
	if _, err := r.conversations.GetOrCreate(ctx, target); err != nil {
		return err
	}
	if _, err := r.conversations.SetStopFlag(ctx, target, value); err != nil {
		return err
	}
	return nil
}

func (r *Router) sendPaymentInfo(ctx context.Context, target string) error {
	if err := r.sender.SendMessage(ctx, target, payment.Instructions); err != nil {
		return fmt.Errorf("send payment instructions: %w", err)
	}
	conv, err := r.conversations.GetOrCreate(ctx, target)
	if err != nil {
		slog.Warn("Router.sendPaymentInfo: conversation unavailable, not persisted", "target", target, "error", err)
		return nil
	}
	if err := r.conversations.AppendMessage(ctx, conv.ID, models.DirectionOutbound, payment.Instructions, models.MessageKindText); err != nil {
		slog.Warn("Router.sendPaymentInfo: persist failed", "target", target, "error", err)
	}
	return nil
}

// learn pairs a long admin reply with the user's latest question. Learning
// failures never fail the admin message.
func (r *Router) learn(ctx context.Context, target, answer string) Command {
	answer = strings.TrimSpace(answer)
	if r.learner == nil || utf8.RuneCountInString(answer) < MinLearnLength {
		return CommandNone
	}
	last, err := r.conversations.LastInbound(ctx, target)
	if err != nil {
		slog.Warn("Router.learn: last inbound lookup failed", "target", target, "error", err)
		return CommandNone
	}
	if last == nil {
		return CommandNone
	}
	saved, err := r.learner.Learn(ctx, target, last.Content, answer, models.KnowledgeSourceAdmin)
	if err != nil {
		slog.Warn("Router.learn: learn failed", "target", target, "error", err)
		return CommandNone
	}
	slog.Debug("Router.learn: admin answer processed", "target", target, "saved", saved)
	return CommandLearn
}
