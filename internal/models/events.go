package models

import (
	"encoding/json"
)

// Event names form the closed wire vocabulary. Anything outside this set
// coming from a client is answered with a socket_Error.
const (
	// client -> server
	EventSendMessage       = "sendMessage"
	EventChatContextChange = "chatContextChange"
	EventTyping            = "typing"
	EventStopTyping        = "stopTyping"
	EventLikeMessage       = "likeMessage"
	EventMessageRead       = "messageRead"

	// server -> client
	EventReceiveMessage = "receiveMessage"
	EventSuccessMessage = "successMessage"
	EventUnreadUpdate   = "unreadUpdate"
	EventMessageLiked   = "messageLiked"
	EventUserStatus     = "userStatus"
	EventSocketError    = "socket_Error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the raw frame read off a connection. Data stays opaque
// until the event name selects the payload variant to decode into.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is an outbound frame.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type SendMessagePayload struct {
	Content string   `json:"content"`
	DestID  int      `json:"destId"`
	Images  []string `json:"images"`
}

type ChatContextChangePayload struct {
	CurrentChatID  int `json:"currentChatId"`
	PreviousChatID int `json:"previousChatId"`
}

type TypingPayload struct {
	DestID int `json:"destId"`
}

type LikeMessagePayload struct {
	MessageID string `json:"messageId"`
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
}

type MessageEventPayload struct {
	Message *Message `json:"message"`
}

type UnreadUpdatePayload struct {
	ChatID int `json:"chatId"`
	Count  int `json:"count"`
}

type TypingEventPayload struct {
	SenderID int `json:"senderId"`
}

type MessageLikedPayload struct {
	MessageID string `json:"messageId"`
	Likes     []int  `json:"likes"`
}

type UserStatusPayload struct {
	UserID int    `json:"userId"`
	Status string `json:"status"`
}

type SocketErrorPayload struct {
	Message string `json:"message"`
}
