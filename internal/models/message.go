package models

import (
	"fmt"
	"time"
)

// MaxAttachments is the upper bound on images per message.
const MaxAttachments = 15

type Attachment struct {
	SecureURL string `json:"secure_url" db:"url"`
}

type Message struct {
	ID          string       `json:"id" db:"id"`
	SenderID    int          `json:"senderId" db:"sender_id"`
	RecipientID int          `json:"destId" db:"recipient_id"`
	Content     string       `json:"content" db:"content"`
	Attachments []Attachment `json:"attachment,omitempty"`
	Likes       []int        `json:"likes"`
	LikeCount   int          `json:"likeCount"`
	Read        bool         `json:"read" db:"read"`
	SentAt      time.Time    `json:"createdAt" db:"sent_at"`
}

// LikeResult is the authoritative post-toggle state of a message's liker
// set, broadcast to both participants so clients overwrite local guesses.
type LikeResult struct {
	MessageID   string `json:"messageId"`
	Likes       []int  `json:"likes"`
	Liked       bool   `json:"-"`
	SenderID    int    `json:"-"`
	RecipientID int    `json:"-"`
}

// ValidateOutgoingMessage enforces the message invariant: content and
// attachments may not both be empty, and at most MaxAttachments images.
func ValidateOutgoingMessage(content string, images []string) error {
	if content == "" && len(images) == 0 {
		return fmt.Errorf("%w: message needs content or at least one attachment", ErrValidation)
	}
	if len(images) > MaxAttachments {
		return fmt.Errorf("%w: at most %d attachments allowed, got %d", ErrValidation, MaxAttachments, len(images))
	}
	return nil
}
