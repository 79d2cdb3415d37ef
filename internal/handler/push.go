package handler

import (
	"encoding/json"
	"net/http"

	"github.com/akchat/internal/logger"
	"github.com/akchat/internal/push"
	"github.com/akchat/internal/repository"
)

type PushHandler struct {
	repo *repository.PushRepository
	keys *push.VAPIDKeys
}

func NewPushHandler(repo *repository.PushRepository, keys *push.VAPIDKeys) *PushHandler {
	return &PushHandler{repo: repo, keys: keys}
}

type subscribeRequest struct {
	Username     string `json:"username"`
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
}

// Subscribe stores a browser push subscription for a user.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Username == "" || req.Subscription.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "username and subscription required")
		return
	}
	sub := repository.PushSubscription{
		Username: req.Username,
		Endpoint: req.Subscription.Endpoint,
		P256dh:   req.Subscription.Keys.P256dh,
		Auth:     req.Subscription.Keys.Auth,
	}
	if err := h.repo.Save(r.Context(), sub); err != nil {
		logger.Errorf("push subscribe user=%s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe removes one subscription by endpoint.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Username == "" || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "username and endpoint required")
		return
	}
	if err := h.repo.Delete(r.Context(), req.Username, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublicKey hands the frontend the VAPID public key it needs to subscribe.
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.keys.PublicKey})
}
