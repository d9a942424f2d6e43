package model

import (
	"time"
)

// Direction indicates whether a message entered or left the pipeline.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// MessageStatus represents the delivery state of a message.
//
// IN messages are created directly in DELIVERED (they need no generation)
// or PENDING when queued for gateway delivery. OUT messages produced by the
// pipeline start in PROCESSING and transition exactly once to a terminal
// state.
type MessageStatus string

const (
	StatusPending    MessageStatus = "PENDING"
	StatusProcessing MessageStatus = "PROCESSING"
	StatusDelivered  MessageStatus = "DELIVERED"
	StatusFailed     MessageStatus = "FAILED"
	StatusTimeout    MessageStatus = "TIMEOUT"
)

// Terminal reports whether s is a terminal message status.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Message represents a single conversation message. IDs are assigned by the
// entity store, monotonically increasing and unique within a conversation;
// clients use the highest id they have seen as their poll cursor.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Direction      Direction     `json:"direction"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// SubmitMessageRequest is the request to submit a new inbound message.
type SubmitMessageRequest struct {
	Content string `json:"content"`
}

// SubmitMessageResponse is returned immediately after a submit; generation
// happens asynchronously and clients observe it through polling.
type SubmitMessageResponse struct {
	MessageID            int64  `json:"message_id"`
	PlaceholderID        int64  `json:"placeholder_id,omitempty"`
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	ConfirmationMessage  string `json:"confirmation_message,omitempty"`
}

// ListMessagesResponse is the response for a poll.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	LastID   int64     `json:"last_id"`
}
