package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
	"github.com/andrewmcl6081/cloudchat/internal/core/services"
	"github.com/andrewmcl6081/cloudchat/internal/platform/logger"
	"github.com/andrewmcl6081/cloudchat/pkg/middleware"

	"github.com/google/uuid"
)

// APIHandler serves the directory and message store endpoints. The
// realtime layer never calls these; clients do, and the message store
// pushes its durable broadcast back through the room manager on its
// own.
type APIHandler struct {
	directory *services.DirectoryService
	messages  *services.MessageService
}

func NewAPIHandler(d *services.DirectoryService, m *services.MessageService) *APIHandler {
	return &APIHandler{directory: d, messages: m}
}

func callerID(r *http.Request) string {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)
	return userID
}

// SearchUsers answers GET /api/users?q=.
func (h *APIHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	users, err := h.directory.SearchUsers(r.Context(), r.URL.Query().Get("q"), callerID(r))
	if err != nil {
		log.ErrorContext(r.Context(), "api handler - search users - failed", "err", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{
			"id":          u.ID,
			"email":       u.Email,
			"displayName": u.DisplayName,
			"picture":     u.Picture,
			"isOnline":    u.IsOnline,
			"lastActive":  u.LastActive,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// EnsureConversation answers POST /api/conversations with the
// two-party conversation for {caller, peerId}, creating it on first
// contact.
func (h *APIHandler) EnsureConversation(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req struct {
		PeerID string `json:"peerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PeerID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	conv, err := h.directory.EnsureConversation(r.Context(), callerID(r), req.PeerID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidUserID) {
			http.Error(w, "invalid peer", http.StatusBadRequest)
			return
		}
		log.ErrorContext(r.Context(), "api handler - ensure conversation - failed", "peer_id", req.PeerID, "err", err)
		http.Error(w, "conversation lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":        conv.ID.String(),
		"createdAt": conv.CreatedAt,
	})
}

// CreateMessage answers POST /api/messages: the message is accepted
// into the ingest stream and persisted asynchronously; the durable
// new-message broadcast follows from the conversation worker.
func (h *APIHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
		ClientMsgID    string `json:"clientMsgId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" || req.Content == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	payload, err := h.messages.AcceptMessage(r.Context(), callerID(r), req.ConversationID, req.Content, req.ClientMsgID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConversationID) {
			http.Error(w, "invalid conversation id", http.StatusBadRequest)
			return
		}
		log.ErrorContext(r.Context(), "api handler - create message - accept failed", "conv_id", req.ConversationID, "err", err)
		http.Error(w, "message not accepted", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"clientMsgId": payload.ClientMsgID,
		"acceptedAt":  payload.CreatedAt,
	})
}

// GetMessages answers GET /api/messages?conversation_id=&limit=.
func (h *APIHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	convID, err := uuid.Parse(r.URL.Query().Get("conversation_id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.messages.GetMessages(r.Context(), convID, limit)
	if err != nil {
		log.ErrorContext(r.Context(), "api handler - get messages - failed", "conv_id", convID.String(), "err", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"id":             m.ID.String(),
			"conversationId": m.ConversationID.String(),
			"senderId":       m.SenderID,
			"content":        m.Content,
			"createdAt":      m.CreatedAt,
			"updatedAt":      m.UpdatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
