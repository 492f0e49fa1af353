package handler

import (
	"errors"
	"lobbycast/internal/lobby"
	"lobbycast/internal/model"
	"lobbycast/internal/service"
	"lobbycast/internal/transport/rest/middleware"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// LobbyHandler exposes read access to lobbies and the game service's
// finish callback
type LobbyHandler struct {
	lobbySvc *service.LobbyService
}

// NewLobbyHandler creates a new lobby handler
func NewLobbyHandler(lobbySvc *service.LobbyService) *LobbyHandler {
	return &LobbyHandler{lobbySvc: lobbySvc}
}

// List handles GET /v1/lobbies?gameType=&limit=
func (h *LobbyHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	lobbies, err := h.lobbySvc.ListOpen(r.Context(), r.URL.Query().Get("gameType"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list lobbies")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.LobbySummary{"lobbies": lobbies})
}

// Get handles GET /v1/lobbies/{id}. Lobbies that are no longer live are
// served from their stored record.
func (h *LobbyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l, err := h.lobbySvc.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, l)
		return
	}
	record, _, recErr := h.lobbySvc.Record(r.Context(), id)
	if recErr != nil {
		writeRecordError(w, recErr)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Sessions handles GET /v1/lobbies/{id}/sessions
func (h *LobbyHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	_, sessions, err := h.lobbySvc.Record(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeRecordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.GameSession{"sessions": sessions})
}

// Game handles GET /v1/games/{id}
func (h *LobbyHandler) Game(w http.ResponseWriter, r *http.Request) {
	gs, err := h.lobbySvc.GameSession(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, service.ErrGameNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load game session")
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

func writeRecordError(w http.ResponseWriter, err error) {
	if errors.Is(err, lobby.ErrLobbyNotFound) {
		writeRejection(w, err)
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load lobby record")
}

// Finish handles POST /v1/lobbies/{id}/finish, called with the host's token
// once the game is over
func (h *LobbyHandler) Finish(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	l, err := h.lobbySvc.Finish(r.Context(), user.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
