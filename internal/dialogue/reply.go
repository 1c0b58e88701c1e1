package dialogue

import "strings"

// Control tokens the model may emit.
const (
	TokenMenu     = "VOLVER_AL_MENU"
	TokenAgenda   = "AGENDA_COMPLETADA"
	TokenTransfer = "...transfiriendo con asesor"
)

// Fixed texts sent by the assistant.
const (
	MenuText            = "🩺 Nuestras opciones:\nVirtual – $46.000 COP\nPresencial – $69.000 COP"
	ApologyText         = "Lo siento, tuve un problema técnico. ¿Podrías repetir tu pregunta?"
	TransferPlaceholder = "Un asesor te atenderá en un momento 🙌"
	AgendaPlaceholder   = "¡Perfecto! Ya tienes tu cita agendada. Realiza tus exámenes y el médico revisará tu certificado."
)

// ReplyKind tags what the caller must do with a reply.
type ReplyKind int

const (
	// PlainReply is sent as is.
	PlainReply ReplyKind = iota
	// ShowMenu clears history and sends the fixed menu.
	ShowMenu
	// AgendaComplete is sent and persisted normally.
	AgendaComplete
	// TransferToHuman is sent, persisted, and then the stop flag is set.
	TransferToHuman
)

func (k ReplyKind) String() string {
	switch k {
	case ShowMenu:
		return "show_menu"
	case AgendaComplete:
		return "agenda_complete"
	case TransferToHuman:
		return "transfer_to_human"
	default:
		return "plain"
	}
}

// Reply is a generated reply with its control tokens removed.
type Reply struct {
	Kind ReplyKind
	Text string
}

// ParseReply classifies raw model output. Text never contains a control token.
// The transfer token wins over the agenda token when both appear.
func ParseReply(raw string) Reply {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == TokenMenu:
		return Reply{Kind: ShowMenu, Text: MenuText}
	case strings.Contains(raw, TokenTransfer):
		text := stripTokens(raw)
		if text == "" {
			text = TransferPlaceholder
		}
		return Reply{Kind: TransferToHuman, Text: text}
	case strings.Contains(raw, TokenAgenda):
		text := stripTokens(raw)
		if text == "" {
			text = AgendaPlaceholder
		}
		return Reply{Kind: AgendaComplete, Text: text}
	default:
		return Reply{Kind: PlainReply, Text: stripTokens(raw)}
	}
}

func stripTokens(s string) string {
	for _, tok := range []string{TokenTransfer, TokenAgenda, TokenMenu} {
		s = strings.ReplaceAll(s, tok, "")
	}
	return strings.TrimSpace(s)
}
