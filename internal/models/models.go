// Package models defines the core data structures for the clinic assistant.
//
// It includes conversations, messages, inbound gateway events and the JSON
// envelope used by the HTTP API. Types here are shared across modules.
package models

import (
	"errors"
	"time"
)

// ConversationState is the lifecycle state of a Conversation.
type ConversationState string

const (
	// ConversationStateNew is a conversation created but without exchanged messages yet.
	ConversationStateNew ConversationState = "new"
	// ConversationStateActive is a conversation with at least one persisted message.
	ConversationStateActive ConversationState = "active"
	// ConversationStateClosed is a soft-closed conversation; it is never hard-deleted.
	ConversationStateClosed ConversationState = "closed"
)

// Direction tells whether a message was received from or sent to the user.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageKind is the content kind of a persisted message.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
)

// Validation errors for persisted types.
var (
	ErrEmptyPhone          = errors.New("phone cannot be empty")
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrInvalidDirection    = errors.New("invalid message direction")
	ErrInvalidMessageKind  = errors.New("invalid message kind")
)

// ErrRetryable marks inbound processing failures the delivering gateway
// should redeliver. Transports answer it with a 5xx.
var ErrRetryable = errors.New("retryable processing failure")

// Conversation is the persisted per-user conversation state.
// At most one non-closed conversation exists per phone number.
type Conversation struct {
	ID           string            `json:"id"`
	Phone        string            `json:"phone"`
	DisplayName  string            `json:"display_name,omitempty"`
	State        ConversationState `json:"state"`
	StopBot      bool              `json:"stop_bot"`
	LastActivity time.Time         `json:"last_activity"`
	ExternalRef  string            `json:"external_ref,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	// HistoryFloor is the id of the last message hidden by a history reset.
	HistoryFloor int64 `json:"-"`
}

// Message is one inbound or outbound turn owned by a Conversation.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Direction      Direction   `json:"direction"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Validate checks that a message can be persisted.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return ErrEmptyConversationID
	}
	switch m.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return ErrInvalidDirection
	}
	switch m.Kind {
	case MessageKindText, MessageKindImage:
	default:
		return ErrInvalidMessageKind
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Acknowledged creates a successful API response carrying only a message.
// The webhook uses it to acknowledge every delivery it does not want retried.
func Acknowledged(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
