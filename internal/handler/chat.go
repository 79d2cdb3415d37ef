package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/akchat/internal/directory"
	"github.com/akchat/internal/logger"
	"github.com/akchat/internal/model"
	"github.com/akchat/internal/repository"
)

type ChatHandler struct {
	msgRepo *repository.MessageRepository
	dir     *directory.Directory
}

func NewChatHandler(msgRepo *repository.MessageRepository, dir *directory.Directory) *ChatHandler {
	return &ChatHandler{msgRepo: msgRepo, dir: dir}
}

// History serves GET /api/chat-history?user1=&user2=. user1 is the viewer:
// fetching history marks the other direction seen (flag only — read
// receipts still require an explicit mark-as-read over the socket) and
// returns the conversation ascending by time.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	user1 := r.URL.Query().Get("user1")
	user2 := r.URL.Query().Get("user2")
	if user1 == "" || user2 == "" {
		writeError(w, http.StatusBadRequest, "missing users")
		return
	}
	ctx := r.Context()
	if err := h.msgRepo.MarkSeen(ctx, user2, user1); err != nil {
		// Degraded store: history still worth trying.
		logger.Errorf("chat history mark seen %s->%s: %v", user2, user1, err)
	}
	history, err := h.msgRepo.History(ctx, user1, user2)
	if err != nil {
		logger.Errorf("chat history %s/%s: %v", user1, user2, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch chat history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// UnreadCounts serves GET /api/unread-counts?me=: a map of sender ->
// number of their messages the caller has not seen.
func (h *ChatHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	me := r.URL.Query().Get("me")
	if me == "" {
		writeError(w, http.StatusBadRequest, "missing me")
		return
	}
	counts, err := h.msgRepo.UnreadCounts(r.Context(), me)
	if err != nil {
		logger.Errorf("unread counts me=%s: %v", me, err)
		writeError(w, http.StatusInternalServerError, "failed to get unread counts")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// LastActive serves GET /api/last-active?username=.
func (h *ChatHandler) LastActive(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "missing username")
		return
	}
	t, err := h.dir.LastActive(r.Context(), username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]*time.Time{"lastActive": nil})
			return
		}
		logger.Errorf("last active user=%s: %v", username, err)
		writeError(w, http.StatusInternalServerError, "failed to get last active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"lastActive": t})
}

// UserList serves GET /api/users?me=: every other user with the newest
// message of that conversation and the caller's unseen count, newest
// conversations first.
func (h *ChatHandler) UserList(w http.ResponseWriter, r *http.Request) {
	me := r.URL.Query().Get("me")
	if me == "" {
		writeError(w, http.StatusBadRequest, "missing me")
		return
	}
	summaries, err := h.msgRepo.ConversationSummaries(r.Context(), me)
	if err != nil {
		logger.Errorf("user list me=%s: %v", me, err)
		writeError(w, http.StatusInternalServerError, "failed to get user list")
		return
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}
