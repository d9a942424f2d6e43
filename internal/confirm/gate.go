// Package confirm implements the confirmation gate: certain inbound
// messages are suspended pending explicit user affirmation before the
// pipeline proceeds.
package confirm

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dermolink/chat-pipeline/internal/model"
	"github.com/dermolink/chat-pipeline/pkg/metrics"
)

// Prompt is the question shown to the user when a confirmation is required.
const Prompt = "¿Desea continuar con la iteración?"

// ErrNoPending is returned when resolving a conversation with no pending
// confirmation request.
var ErrNoPending = errors.New("no pending confirmation")

// Trigger decides whether content requires confirmation before the
// pipeline may proceed. Keyword matching is the default policy; anything
// satisfying this predicate (an intent classifier, say) can replace it.
type Trigger func(content string) bool

// defaultKeywords are the multi-step flow intents from the product flow.
var defaultKeywords = []string{"continuar", "siguiente", "proceder", "avanzar", "confirmar"}

// KeywordTrigger builds a Trigger that fires when any keyword appears in
// the lowercased content. With no keywords it uses the default set.
func KeywordTrigger(keywords ...string) Trigger {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	return func(content string) bool {
		lowered := strings.ToLower(content)
		for _, kw := range keywords {
			if strings.Contains(lowered, kw) {
				return true
			}
		}
		return false
	}
}

// ResolveFunc is invoked exactly once when a request leaves PENDING,
// outside the gate's lock. Expiry counts as accepted=false.
type ResolveFunc func(accepted bool)

type entry struct {
	req     model.ConfirmationRequest
	resolve ResolveFunc
}

// Gate tracks at most one pending confirmation request per conversation.
// While a request is PENDING the conversation's lock stays held, so no new
// generation job can start on it.
type Gate struct {
	mu      sync.Mutex
	trigger Trigger
	ttl     time.Duration
	pending map[string]*entry
	now     func() time.Time
}

// NewGate creates a confirmation gate with the given trigger policy and
// request expiry.
func NewGate(trigger Trigger, ttl time.Duration) *Gate {
	if trigger == nil {
		trigger = KeywordTrigger()
	}
	return &Gate{
		trigger: trigger,
		ttl:     ttl,
		pending: make(map[string]*entry),
		now:     time.Now,
	}
}

// Triggered reports whether content matches the trigger policy.
func (g *Gate) Triggered(content string) bool {
	return g.trigger(content)
}

// Create registers a pending confirmation request for the conversation.
// resolve fires once when the request is accepted, rejected, or expires.
func (g *Gate) Create(conversationID, content string, resolve ResolveFunc) *model.ConfirmationRequest {
	now := g.now()
	req := model.ConfirmationRequest{
		ConversationID: conversationID,
		Content:        content,
		State:          model.ConfirmationPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.ttl),
	}

	g.mu.Lock()
	g.pending[conversationID] = &entry{req: req, resolve: resolve}
	g.mu.Unlock()

	out := req
	return &out
}

// Pending returns the pending request for a conversation, if any.
func (g *Gate) Pending(conversationID string) (model.ConfirmationRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.pending[conversationID]
	if !ok {
		return model.ConfirmationRequest{}, false
	}
	return e.req, true
}

// Resolve settles the pending request for a conversation with the user's
// decision. A request already expired by the sweep is gone and returns
// ErrNoPending.
func (g *Gate) Resolve(conversationID string, accepted bool) (model.ConfirmationState, error) {
	g.mu.Lock()
	e, ok := g.pending[conversationID]
	if !ok {
		g.mu.Unlock()
		return "", ErrNoPending
	}
	delete(g.pending, conversationID)
	g.mu.Unlock()

	state := model.ConfirmationRejected
	if accepted {
		state = model.ConfirmationAccepted
	}
	metrics.ConfirmationsTotal.WithLabelValues(strings.ToLower(string(state))).Inc()

	if e.resolve != nil {
		e.resolve(accepted)
	}
	return state, nil
}

// ExpireStale rejects every pending request past its expiry and returns the
// affected conversation ids. Called from the supervisor sweep.
func (g *Gate) ExpireStale() []string {
	now := g.now()

	g.mu.Lock()
	var expired []*entry
	for id, e := range g.pending {
		if now.After(e.req.ExpiresAt) {
			expired = append(expired, e)
			delete(g.pending, id)
		}
	}
	g.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.req.ConversationID)
		metrics.ConfirmationsTotal.WithLabelValues("expired").Inc()
		if e.resolve != nil {
			e.resolve(false)
		}
	}
	return ids
}
