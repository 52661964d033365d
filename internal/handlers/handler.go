package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"Linkup/server/internal/hub"
	"Linkup/server/internal/services"
)

// Handler wires the HTTP and WebSocket endpoints to the service layer and
// the hub. One instance serves the whole router.
type Handler struct {
	Users       services.UserService
	Chats       services.ChatService
	Hub         *hub.Hub
	JWTSecret   []byte
	AuthTimeout time.Duration
}

func NewHandler(users services.UserService, chats services.ChatService, h *hub.Hub, jwtSecret []byte, authTimeout time.Duration) *Handler {
	return &Handler{
		Users:       users,
		Chats:       chats,
		Hub:         h,
		JWTSecret:   jwtSecret,
		AuthTimeout: authTimeout,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
