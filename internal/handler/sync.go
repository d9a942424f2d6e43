// Package handler provides HTTP handlers for the pipeline API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dermolink/chat-pipeline/internal/confirm"
	"github.com/dermolink/chat-pipeline/internal/dispatch"
	"github.com/dermolink/chat-pipeline/internal/middleware"
	"github.com/dermolink/chat-pipeline/internal/model"
	"github.com/dermolink/chat-pipeline/internal/store"
	"github.com/dermolink/chat-pipeline/pkg/logger"
	"github.com/dermolink/chat-pipeline/pkg/metrics"
)

// SyncHandler serves the client synchronization protocol: cursor-based
// polling, message submission, and confirmation resolution. The protocol is
// stateless; the only client state is the cursor it holds.
type SyncHandler struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	gate       *confirm.Gate
	logger     *logger.Logger
}

// NewSyncHandler creates a new sync protocol handler.
func NewSyncHandler(st store.Store, d *dispatch.Dispatcher, gate *confirm.Gate, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		store:      st,
		dispatcher: d,
		gate:       gate,
		logger:     log,
	}
}

// conversation loads the conversation and verifies ownership.
func (h *SyncHandler) conversation(w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	conv, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if delegateID := middleware.GetDelegateID(r.Context()); delegateID != "" && conv.DelegateID != delegateID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}

// Submit handles POST /api/v1/conversations/{id}/messages.
//
// The inbound message is recorded and admitted asynchronously; the response
// returns immediately with the new message id. Clients observe the reply
// through polling.
func (h *SyncHandler) Submit(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	if conv.Status != model.ConversationActive {
		writeError(w, http.StatusConflict, "conversation is closed")
		return
	}

	var req model.SubmitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.dispatcher.Submit(r.Context(), conv.ID, req.Content)
	if err != nil {
		if errors.Is(err, store.ErrConversationClosed) {
			writeError(w, http.StatusConflict, "conversation is closed")
			return
		}
		h.logger.Error("submit failed", zap.Error(err), zap.String("conversation_id", conv.ID))
		writeError(w, http.StatusInternalServerError, "failed to submit message")
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// Poll handles GET /api/v1/conversations/{id}/messages?after_id=N.
//
// Returns all messages with id > after_id in ascending order. Idempotent:
// callers advance their cursor to the highest id seen and repeat.
func (h *SyncHandler) Poll(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	afterID := int64(0)
	if v := r.URL.Query().Get("after_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid after_id")
			return
		}
		afterID = parsed
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	msgs, err := h.store.ListMessagesSince(r.Context(), conv.ID, afterID, limit)
	if err != nil {
		h.logger.Error("poll failed", zap.Error(err), zap.String("conversation_id", conv.ID))
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	metrics.PollRequestsTotal.Inc()

	lastID := afterID
	if len(msgs) > 0 {
		lastID = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages: msgs,
		HasMore:  len(msgs) == limit,
		LastID:   lastID,
	})
}

// Confirm handles POST /api/v1/conversations/{id}/confirm.
func (h *SyncHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var req model.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.gate.Resolve(conv.ID, req.Accepted)
	if err != nil {
		if errors.Is(err, confirm.ErrNoPending) {
			writeError(w, http.StatusNotFound, "no pending confirmation")
			return
		}
		h.logger.Error("confirm failed", zap.Error(err), zap.String("conversation_id", conv.ID))
		writeError(w, http.StatusInternalServerError, "failed to resolve confirmation")
		return
	}

	writeJSON(w, http.StatusOK, &model.ConfirmResponse{State: state})
}
