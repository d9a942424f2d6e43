package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dermolink/chat-pipeline/internal/dispatch"
	"github.com/dermolink/chat-pipeline/internal/middleware"
	"github.com/dermolink/chat-pipeline/internal/store"
	"github.com/dermolink/chat-pipeline/pkg/logger"
)

// InboundExternal is the payload the external gateway posts for each
// received message. Signature verification and media handling happen at the
// gateway edge, outside this core.
type InboundExternal struct {
	ChannelRef string `json:"channel_ref"`
	Content    string `json:"content"`
}

// WebhookHandler accepts inbound messages from the external gateway and
// feeds them into the same pipeline as browser submissions.
type WebhookHandler struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	logger     *logger.Logger
}

// NewWebhookHandler creates a new gateway webhook handler.
func NewWebhookHandler(st store.Store, d *dispatch.Dispatcher, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:      st,
		dispatcher: d,
		logger:     log,
	}
}

// Inbound handles POST /webhooks/gateway. The channel reference is mapped
// to its conversation, creating one on the first message.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var payload InboundExternal
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateChannelRef(payload.ChannelRef); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(payload.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.GetConversationByChannel(r.Context(), "", payload.ChannelRef)
	if err != nil {
		h.logger.Error("failed to resolve channel conversation", zap.Error(err),
			zap.String("channel_ref", payload.ChannelRef))
		writeError(w, http.StatusInternalServerError, "failed to resolve conversation")
		return
	}

	resp, err := h.dispatcher.Submit(r.Context(), conv.ID, payload.Content)
	if err != nil {
		h.logger.Error("webhook submit failed", zap.Error(err), zap.String("conversation_id", conv.ID))
		writeError(w, http.StatusInternalServerError, "failed to submit message")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"conversation_id": conv.ID,
		"message_id":      resp.MessageID,
	})
}
