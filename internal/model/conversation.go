// Package model defines data structures for the conversation message pipeline.
package model

import (
	"time"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "ACTIVE"
	ConversationClosed ConversationStatus = "CLOSED"
)

// Conversation represents a bounded exchange between one delegate (or end
// customer) and the pipeline. ChannelRef is empty for internal-only
// conversations; when set, outbound replies are also delivered through the
// external messaging gateway.
type Conversation struct {
	ID             string             `json:"id"`
	DelegateID     string             `json:"delegate_id"`
	ChannelRef     string             `json:"channel_ref,omitempty"`
	Status         ConversationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ChannelRef string `json:"channel_ref,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
