package handlers

import (
	"log"
	"net/http"
	"strconv"

	"Linkup/server/internal/appMiddleware"

	"github.com/go-chi/chi/v5"
)

const defaultHistoryLimit = 50

// GetConversations lists the caller's conversations with the last message
// and the authoritative unread count. This is the pull side of delivery:
// anything missed while offline shows up here.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	summaries, err := h.Chats.GetConversationsForUser(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing conversations for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// GetMessages returns paginated history with the peer named in the URL,
// newest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	peerID, err := strconv.Atoi(chi.URLParam(r, "user_id"))
	if err != nil || peerID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}

	messages, err := h.Chats.GetMessagesBetween(r.Context(), userID, peerID, offset, limit)
	if err != nil {
		log.Printf("Error fetching messages between %d and %d: %v", userID, peerID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, messages)
}
