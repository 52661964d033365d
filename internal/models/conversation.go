package models

import (
	"time"
)

// Conversation is the thread between two users, keyed by the unordered
// pair (UserLow, UserHigh) with UserLow < UserHigh. It is created
// implicitly on first contact and never deleted.
type Conversation struct {
	ID        int       `json:"id" db:"id"`
	UserLow   int       `json:"user_low" db:"user_low"`
	UserHigh  int       `json:"user_high" db:"user_high"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Peer returns the other participant of the conversation.
func (c Conversation) Peer(userID int) int {
	if c.UserLow == userID {
		return c.UserHigh
	}
	return c.UserLow
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID int) bool {
	return c.UserLow == userID || c.UserHigh == userID
}

// ConversationSummary is the REST list view: one row per conversation,
// identified to the client by the peer's user id.
type ConversationSummary struct {
	ChatID             int        `json:"chat_id"`
	PeerUsername       string     `json:"peer_username"`
	LastMessageContent *string    `json:"last_message_content"`
	LastMessageSentAt  *time.Time `json:"last_message_sent_at"`
	UnreadCount        int        `json:"unread_count"`
}
