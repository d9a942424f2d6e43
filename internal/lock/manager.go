// Package lock provides per-conversation mutual exclusion for generation
// jobs: at most one active job per conversation at any instant.
package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token proves ownership of a conversation lock. Tokens carry an expiry
// tied to the processing deadline so a crashed worker cannot hold a lock
// forever; an expired lock may be stolen by the next acquirer.
type Token struct {
	ConversationID string
	id             string
	expiresAt      time.Time
}

type held struct {
	tokenID   string
	expiresAt time.Time
	queue     []int64 // pending inbound message ids, FIFO
}

// Manager implements the conversation lock table. Acquisition is
// non-blocking: a message arriving while a job is active joins the
// per-conversation FIFO queue instead of being rejected, and the releaser
// hands the lock to the head of the queue.
type Manager struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[string]*held
	now   func() time.Time
}

// NewManager creates a lock manager whose locks expire after ttl.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:   ttl,
		locks: make(map[string]*held),
		now:   time.Now,
	}
}

// Acquire attempts to take the lock for conversationID on behalf of the
// inbound message messageID. On success it returns the token. When the lock
// is already held the message is queued FIFO and acquired is false.
func (m *Manager) Acquire(conversationID string, messageID int64) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.locks[conversationID]
	if ok && m.now().Before(h.expiresAt) {
		h.queue = append(h.queue, messageID)
		return Token{}, false
	}

	// Free, or held past expiry by a writer presumed dead. The stale
	// holder's queue survives the steal.
	var queue []int64
	if ok {
		queue = h.queue
	}
	tok := Token{
		ConversationID: conversationID,
		id:             uuid.NewString(),
		expiresAt:      m.now().Add(m.ttl),
	}
	m.locks[conversationID] = &held{tokenID: tok.id, expiresAt: tok.expiresAt, queue: queue}
	return tok, true
}

// Release gives up the lock. When messages are queued, the lock is handed
// over in place: the head of the queue is returned together with a fresh
// token and next is true. Release with a stale or stolen token is a no-op.
func (m *Manager) Release(tok Token) (Token, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.locks[tok.ConversationID]
	if !ok || h.tokenID != tok.id {
		return Token{}, 0, false
	}

	if len(h.queue) == 0 {
		delete(m.locks, tok.ConversationID)
		return Token{}, 0, false
	}

	msgID := h.queue[0]
	h.queue = h.queue[1:]
	next := Token{
		ConversationID: tok.ConversationID,
		id:             uuid.NewString(),
		expiresAt:      m.now().Add(m.ttl),
	}
	h.tokenID = next.id
	h.expiresAt = next.expiresAt
	return next, msgID, true
}

// Extend pushes the lock's expiry out to at least until. A suspended job
// waiting on user confirmation is not dead, so its lock must survive past
// the base ttl until the confirmation request itself expires. No-op with a
// stale token, and never shortens the expiry.
func (m *Manager) Extend(tok Token, until time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.locks[tok.ConversationID]
	if !ok || h.tokenID != tok.id {
		return false
	}
	if until.After(h.expiresAt) {
		h.expiresAt = until
	}
	return true
}

// Refresh resets the lock's expiry to a full ttl from now. Used when a
// suspended job resumes after an accepted confirmation.
func (m *Manager) Refresh(tok Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.locks[tok.ConversationID]
	if !ok || h.tokenID != tok.id {
		return false
	}
	h.expiresAt = m.now().Add(m.ttl)
	return true
}

// Drop releases the lock and discards any queued messages. Used when a
// conversation is closed.
func (m *Manager) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, conversationID)
}

// Held reports whether the conversation currently has an unexpired lock.
func (m *Manager) Held(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.locks[conversationID]
	return ok && m.now().Before(h.expiresAt)
}

// QueueLen returns the number of inbound messages waiting on the lock.
func (m *Manager) QueueLen(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.locks[conversationID]; ok {
		return len(h.queue)
	}
	return 0
}
