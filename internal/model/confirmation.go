package model

import (
	"time"
)

// ConfirmationState represents the resolution state of a confirmation request.
type ConfirmationState string

const (
	ConfirmationPending  ConfirmationState = "PENDING"
	ConfirmationAccepted ConfirmationState = "ACCEPTED"
	ConfirmationRejected ConfirmationState = "REJECTED"
)

// ConfirmationRequest gates a pipeline step behind explicit user
// affirmation. While one is PENDING no new generation job may start on the
// same conversation. An unresolved request past ExpiresAt is treated as
// REJECTED.
type ConfirmationRequest struct {
	ConversationID string            `json:"conversation_id"`
	Content        string            `json:"content"`
	State          ConfirmationState `json:"state"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// ConfirmRequest is the client request to resolve a pending confirmation.
type ConfirmRequest struct {
	Accepted bool `json:"accepted"`
}

// ConfirmResponse reports the resolution outcome.
type ConfirmResponse struct {
	State ConfirmationState `json:"state"`
}
