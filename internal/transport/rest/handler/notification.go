package handler

import (
	"encoding/json"
	"lobbycast/internal/model"
	"lobbycast/internal/service"
	"net/http"
)

// NotificationHandler accepts pushes from trusted backend services
type NotificationHandler struct {
	notifySvc *service.NotificationService
}

func NewNotificationHandler(notifySvc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifySvc: notifySvc}
}

// PushRequest is the body of POST /v1/notifications
type PushRequest struct {
	UserID       string             `json:"userId"`
	Notification model.Notification `json:"notification"`
}

// PushResponse reports the stored notification and whether it was
// delivered to a live connection
type PushResponse struct {
	Notification model.Notification `json:"notification"`
	Delivered    bool               `json:"delivered"`
}

// Push handles POST /v1/notifications
func (h *NotificationHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, delivered, err := h.notifySvc.Push(req.UserID, req.Notification)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, PushResponse{Notification: n, Delivered: delivered})
}

// FriendStatusRequest is the body of POST /v1/friends/status
type FriendStatusRequest struct {
	Status     model.FriendStatus `json:"status"`
	Recipients []string           `json:"recipients"`
}

// FriendStatus handles POST /v1/friends/status
func (h *NotificationHandler) FriendStatus(w http.ResponseWriter, r *http.Request) {
	var req FriendStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.notifySvc.FriendStatus(req.Status, req.Recipients); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
