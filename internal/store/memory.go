package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dermolink/chat-pipeline/internal/model"
)

// conversationState holds a conversation together with its message log and
// id counter. Message ids are assigned under the store lock, so they are
// monotonic and gap-free within a conversation.
type conversationState struct {
	conv     model.Conversation
	messages []model.Message
	nextID   int64
}

// Memory is an in-memory Store guarded by a single RWMutex. It is the
// default backend; production deployments would replace it with a database
// behind the same interface.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*conversationState
	byChannel     map[string]string // channelRef -> conversation id
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*conversationState),
		byChannel:     make(map[string]string),
	}
}

// CreateConversation creates a new active conversation.
func (m *Memory) CreateConversation(ctx context.Context, delegateID, channelRef string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createConversationLocked(delegateID, channelRef), nil
}

func (m *Memory) createConversationLocked(delegateID, channelRef string) *model.Conversation {
	now := time.Now()
	conv := model.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		DelegateID:     delegateID,
		ChannelRef:     channelRef,
		Status:         model.ConversationActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.conversations[conv.ID] = &conversationState{conv: conv, nextID: 1}
	if channelRef != "" {
		m.byChannel[channelRef] = conv.ID
	}
	c := conv
	return &c
}

// GetConversation retrieves a conversation by id.
func (m *Memory) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	conv := cs.conv
	return &conv, nil
}

// GetConversationByChannel resolves a channel reference to its conversation,
// creating a new active conversation when none exists yet.
func (m *Memory) GetConversationByChannel(ctx context.Context, delegateID, channelRef string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byChannel[channelRef]; ok {
		if cs, ok := m.conversations[id]; ok && cs.conv.Status == model.ConversationActive {
			conv := cs.conv
			return &conv, nil
		}
	}
	return m.createConversationLocked(delegateID, channelRef), nil
}

// ListConversations returns conversations for a delegate, newest activity
// first, with simple offset pagination.
func (m *Memory) ListConversations(ctx context.Context, delegateID string, limit, offset int) ([]model.Conversation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []model.Conversation
	for _, cs := range m.conversations {
		if cs.conv.DelegateID == delegateID {
			convs = append(convs, cs.conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastActivityAt.After(convs[j].LastActivityAt)
	})

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return convs[start:end], total, nil
}

// CloseConversation marks a conversation CLOSED. Conversations are never
// deleted.
func (m *Memory) CloseConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	cs.conv.Status = model.ConversationClosed
	cs.conv.LastActivityAt = time.Now()
	return nil
}

// CreateMessage appends a message to the conversation log and assigns the
// next monotonic id.
func (m *Memory) CreateMessage(ctx context.Context, conversationID string, direction model.Direction, content string, status model.MessageStatus) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if cs.conv.Status != model.ConversationActive {
		return nil, ErrConversationClosed
	}

	now := time.Now()
	msg := model.Message{
		ID:             cs.nextID,
		ConversationID: conversationID,
		Direction:      direction,
		Content:        content,
		Status:         status,
		CreatedAt:      now,
	}
	if status.Terminal() {
		msg.ResolvedAt = &now
	}
	cs.nextID++
	cs.messages = append(cs.messages, msg)
	cs.conv.LastActivityAt = now

	out := msg
	return &out, nil
}

// UpdateMessageStatus performs the compare-and-swap transition. Content and
// status change together under the lock, so partial updates are never
// observable.
func (m *Memory) UpdateMessageStatus(ctx context.Context, conversationID string, messageID int64, from, to model.MessageStatus, newContent *string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	idx := int(messageID - 1)
	if idx < 0 || idx >= len(cs.messages) {
		return nil, ErrNotFound
	}
	msg := &cs.messages[idx]
	if msg.Status != from {
		return nil, ErrConflict
	}

	msg.Status = to
	if newContent != nil {
		msg.Content = *newContent
	}
	if to.Terminal() {
		now := time.Now()
		msg.ResolvedAt = &now
	}
	cs.conv.LastActivityAt = time.Now()

	out := *msg
	return &out, nil
}

// ListMessagesSince returns messages with id > afterID, ascending. The log
// is append-only and ids are dense, so the slice offset is the cursor.
func (m *Memory) ListMessagesSince(ctx context.Context, conversationID string, afterID int64, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	start := int(afterID)
	if start < 0 {
		start = 0
	}
	if start >= len(cs.messages) {
		return nil, nil
	}
	end := len(cs.messages)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]model.Message, end-start)
	copy(out, cs.messages[start:end])
	return out, nil
}

// History returns the full ordered message log of a conversation.
func (m *Memory) History(ctx context.Context, conversationID string) ([]model.Message, error) {
	return m.ListMessagesSince(ctx, conversationID, 0, 0)
}

// ListStaleProcessing returns PROCESSING messages created before cutoff.
func (m *Memory) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []model.Message
	for _, cs := range m.conversations {
		for _, msg := range cs.messages {
			if msg.Status == model.StatusProcessing && msg.CreatedAt.Before(cutoff) {
				stale = append(stale, msg)
			}
		}
	}
	return stale, nil
}
