package handler

import (
	"encoding/json"
	"errors"
	"lobbycast/internal/lobby"
	"lobbycast/internal/model"
	"lobbycast/internal/service"
	"net/http"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Token handles POST /v1/auth/token (development only)
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req model.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.authSvc.Issue(req.Username, req.Avatar)
	if errors.Is(err, service.ErrDevLoginOff) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeRejection maps a lobby rejection to an HTTP status and keeps the
// machine readable reason in the body.
func writeRejection(w http.ResponseWriter, err error) {
	reason := lobby.ReasonOf(err)
	status := http.StatusConflict
	switch reason {
	case "lobby_not_found", "invitation_not_found":
		status = http.StatusNotFound
	case "not_host", "not_member", "invitation_forbidden":
		status = http.StatusForbidden
	case "invalid_payload":
		status = http.StatusBadRequest
	case "internal_error":
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "reason": reason})
}
