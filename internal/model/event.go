package model

import (
	"time"
)

// EventType represents the type of pipeline notification event.
type EventType string

const (
	EventMessageResolved EventType = "message_resolved"
	EventMessageTimeout  EventType = "message_timeout"
	EventConfirmation    EventType = "confirmation"
)

// PipelineEvent is published when the dispatcher or supervisor resolves a
// message. Clients do not consume these directly (they poll); events feed
// downstream consumers such as the dashboard aggregator.
type PipelineEvent struct {
	ConversationID string        `json:"conversation_id"`
	MessageID      int64         `json:"message_id"`
	Type           EventType     `json:"type"`
	Status         MessageStatus `json:"status,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
