// Package store provides the entity store: the single source of truth for
// conversations and messages. All reads are snapshot-consistent per
// conversation and writes are linearized per conversation; a message status
// transition is the atomic unit visible to readers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dermolink/chat-pipeline/internal/model"
)

var (
	// ErrNotFound is returned when a conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by UpdateMessageStatus when the current
	// status does not match the expected one. It marks a lost transition
	// race and is silently dropped by the losing writer.
	ErrConflict = errors.New("status conflict")

	// ErrConversationClosed is returned when writing to a closed conversation.
	ErrConversationClosed = errors.New("conversation closed")
)

// Store is the persistence contract for the pipeline. The in-memory
// implementation below is the default; a database-backed one slots in
// behind the same interface.
type Store interface {
	CreateConversation(ctx context.Context, delegateID, channelRef string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// GetConversationByChannel resolves an external channel reference to its
	// active conversation, creating one when none exists.
	GetConversationByChannel(ctx context.Context, delegateID, channelRef string) (*model.Conversation, error)
	ListConversations(ctx context.Context, delegateID string, limit, offset int) ([]model.Conversation, int, error)
	CloseConversation(ctx context.Context, id string) error

	// CreateMessage appends a message to a conversation, assigning the next
	// monotonic id within that conversation.
	CreateMessage(ctx context.Context, conversationID string, direction model.Direction, content string, status model.MessageStatus) (*model.Message, error)

	// UpdateMessageStatus transitions a message from one status to another,
	// optionally replacing its content. The transition is compare-and-swap
	// on the current status: if it does not equal from, ErrConflict is
	// returned and nothing changes.
	UpdateMessageStatus(ctx context.Context, conversationID string, messageID int64, from, to model.MessageStatus, newContent *string) (*model.Message, error)

	// ListMessagesSince returns up to limit messages with id > afterID,
	// ordered by id ascending. Callers resume from the highest id seen.
	ListMessagesSince(ctx context.Context, conversationID string, afterID int64, limit int) ([]model.Message, error)

	// History returns the full ordered message sequence of a conversation,
	// used as generation input.
	History(ctx context.Context, conversationID string) ([]model.Message, error)

	// ListStaleProcessing returns messages still PROCESSING whose creation
	// time is before cutoff, across all conversations.
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]model.Message, error)
}
