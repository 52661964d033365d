package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"Linkup/server/internal/appMiddleware"
	"Linkup/server/internal/hub"
	"Linkup/server/internal/models"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket authenticates the handshake, registers the connection and
// runs the event loop. Authentication failures refuse the connection;
// every other failure is answered with a socket_Error on the open
// connection.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		log.Printf("WebSocket handshake refused: %v", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	log.Printf("User %d (%s) connected to WebSocket", user.ID, user.Username)

	client := hub.NewClient(user.ID, conn)
	h.Hub.Register(r.Context(), client)
	go client.WritePump()

	defer func() {
		h.Hub.Unregister(context.Background(), client)
		conn.Close()
	}()

	for {
		var envelope models.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			log.Printf("Connection closed for user %d: %v", user.ID, err)
			return
		}
		h.dispatchEvent(r.Context(), client, envelope)
	}
}

// authenticate resolves the handshake credential to a user. Every refusal
// wraps models.ErrUnauthenticated; the token subject must also verify
// against a real user within the auth window.
func (h *Handler) authenticate(r *http.Request) (*models.User, error) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: missing token", models.ErrUnauthenticated)
	}

	userID, err := appMiddleware.ParseToken(tokenStr, h.JWTSecret)
	if err != nil {
		return nil, err
	}

	authCtx, cancel := context.WithTimeout(r.Context(), h.AuthTimeout)
	defer cancel()
	user, err := h.Users.GetUserById(authCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: token subject %d: %v", models.ErrUnauthenticated, userID, err)
	}
	return user, nil
}

// dispatchEvent decodes the payload variant selected by the event name
// and invokes the matching hub operation. Unknown events and malformed
// payloads get a socket_Error without dropping the connection.
func (h *Handler) dispatchEvent(ctx context.Context, client *hub.Client, envelope models.Envelope) {
	switch envelope.Event {
	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			h.sendSocketError(client, "malformed sendMessage payload")
			return
		}
		if err := h.Hub.SendMessage(ctx, client.UserID, p); err != nil {
			log.Printf("sendMessage from user %d failed: %v", client.UserID, err)
			h.sendSocketError(client, socketErrorMessage(err))
		}

	case models.EventChatContextChange:
		var p models.ChatContextChangePayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			h.sendSocketError(client, "malformed chatContextChange payload")
			return
		}
		if err := h.Hub.SetContext(ctx, client, p.CurrentChatID); err != nil {
			log.Printf("chatContextChange from user %d failed: %v", client.UserID, err)
			h.sendSocketError(client, socketErrorMessage(err))
		}

	case models.EventTyping, models.EventStopTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			h.sendSocketError(client, "malformed typing payload")
			return
		}
		h.Hub.RelayTyping(client.UserID, p.DestID, envelope.Event == models.EventTyping)

	case models.EventLikeMessage:
		var p models.LikeMessagePayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			h.sendSocketError(client, "malformed likeMessage payload")
			return
		}
		if err := h.Hub.ToggleLike(ctx, client.UserID, p.MessageID); err != nil {
			log.Printf("likeMessage from user %d failed: %v", client.UserID, err)
			h.sendSocketError(client, socketErrorMessage(err))
		}

	case models.EventMessageRead:
		var p models.MessageReadPayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil {
			h.sendSocketError(client, "malformed messageRead payload")
			return
		}
		// best-effort: errors are logged, not surfaced
		if err := h.Hub.MarkRead(ctx, client.UserID, p.MessageID); err != nil {
			log.Printf("messageRead from user %d failed: %v", client.UserID, err)
		}

	default:
		h.sendSocketError(client, "unknown event: "+envelope.Event)
	}
}

func (h *Handler) sendSocketError(client *hub.Client, message string) {
	client.Enqueue(models.Event{
		Event: models.EventSocketError,
		Data:  models.SocketErrorPayload{Message: message},
	})
}

// socketErrorMessage maps service failures to client-facing text. Store
// failures are reported as retryable; nothing partial was applied.
func socketErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return err.Error()
	case errors.Is(err, models.ErrForbidden):
		return "you are not a participant of this conversation"
	case errors.Is(err, models.ErrNotFound):
		return "message or conversation not found"
	case errors.Is(err, models.ErrTransient):
		return "temporary failure, please retry"
	default:
		return "internal error"
	}
}
