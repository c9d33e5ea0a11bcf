package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
	"github.com/andrewmcl6081/cloudchat/internal/core/services"
	"github.com/andrewmcl6081/cloudchat/internal/platform/logger"
)

type AuthHandler struct {
	directory *services.DirectoryService
	tokenSvc  *services.TokenService
}

func NewAuthHandler(d *services.DirectoryService, t *services.TokenService) *AuthHandler {
	return &AuthHandler{directory: d, tokenSvc: t}
}

// Sync upserts the identity provider's profile into the directory and
// returns a signed token for the realtime handshake.
func (h *AuthHandler) Sync(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req struct {
		UserID      string  `json:"userId"`
		Email       string  `json:"email"`
		DisplayName *string `json:"displayName"`
		Picture     *string `json:"picture"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		log.ErrorContext(r.Context(), "auth handler - sync - bad request")
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	user, err := h.directory.SyncUser(r.Context(), &domain.User{
		ID:          req.UserID,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Picture:     req.Picture,
	})
	if err != nil {
		log.ErrorContext(r.Context(), "auth handler - sync - upsert failed", "user_id", req.UserID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	token, err := h.tokenSvc.GenerateToken(user.ID)
	if err != nil {
		log.ErrorContext(r.Context(), "auth handler - sync - generate token failed", "user_id", user.ID)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":   token,
		"user_id": user.ID,
	})
	log.InfoContext(r.Context(), "auth handler - sync - token issued", "user_id", user.ID)
}
