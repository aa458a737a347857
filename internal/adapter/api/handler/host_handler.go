package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/msgtap/internal/domain"
)

// HostClient is the host messaging client. Calls go through whatever is
// installed in its slots, so they are observed while logging is enabled.
type HostClient interface {
	SendMessage(ctx context.Context, conversationID, text string) (domain.Message, error)
	UpdateMessage(ctx context.Context, conversationID, messageID string, updateType int) error
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	Conversations() []domain.Conversation
}

// HostHandler exposes the host client over HTTP.
type HostHandler struct {
	client HostClient
	logger *slog.Logger
}

// NewHostHandler creates a new HostHandler.
func NewHostHandler(client HostClient, logger *slog.Logger) *HostHandler {
	return &HostHandler{client: client, logger: logger}
}

type hostCall struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
	UpdateType     int    `json:"update_type"`
}

func (h *HostHandler) decode(w http.ResponseWriter, r *http.Request) (hostCall, bool) {
	var call hostCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return call, false
	}
	if call.ConversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return call, false
	}
	return call, true
}

func (h *HostHandler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Warn("host call failed", "operation", op, "error", err)
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// Send sends a message as the session user.
// POST /v1/host/send
func (h *HostHandler) Send(w http.ResponseWriter, r *http.Request) {
	call, ok := h.decode(w, r)
	if !ok {
		return
	}
	msg, err := h.client.SendMessage(r.Context(), call.ConversationID, call.Text)
	if err != nil {
		h.fail(w, domain.SlotSendMessage, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, msg)
}

// Update marks a message read or saved.
// POST /v1/host/update
func (h *HostHandler) Update(w http.ResponseWriter, r *http.Request) {
	call, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.client.UpdateMessage(r.Context(), call.ConversationID, call.MessageID, call.UpdateType); err != nil {
		h.fail(w, domain.SlotUpdateMessage, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a message.
// POST /v1/host/delete
func (h *HostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	call, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.client.DeleteMessage(r.Context(), call.ConversationID, call.MessageID); err != nil {
		h.fail(w, domain.SlotDeleteMessage, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Conversations returns the current conversation graph.
// GET /v1/host/conversations
func (h *HostHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	convs := h.client.Conversations()
	if convs == nil {
		convs = []domain.Conversation{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, convs)
}
