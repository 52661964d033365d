package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"Linkup/server/internal/db"
	"Linkup/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
)

type ChatService interface {
	FindConversation(ctx context.Context, userA, userB int) (*models.Conversation, error)
	GetOrCreateConversation(ctx context.Context, userA, userB int) (*models.Conversation, error)
	SaveMessage(ctx context.Context, conv *models.Conversation, senderID int, content string, images []string) (*models.Message, error)
	GetMessagesBetween(ctx context.Context, userID, peerID, offset, limit int) ([]models.Message, error)
	GetConversationsForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	PartnerIDs(ctx context.Context, userID int) ([]int, error)
	IncrementUnread(ctx context.Context, conversationID, userID int) (int, error)
	ResetUnread(ctx context.Context, conversationID, userID int) error
	ToggleLike(ctx context.Context, userID int, messageID string) (*models.LikeResult, error)
	MarkMessageRead(ctx context.Context, userID int, messageID string) error
}

type chatService struct {
	UserService UserService

	// pair-key -> conversation. Conversations are immutable once created,
	// so cached entries never go stale.
	convCache *lru.Cache[string, models.Conversation]
}

func NewChatService(userService UserService) ChatService {
	cache, err := lru.New[string, models.Conversation](1024)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &chatService{
		UserService: userService,
		convCache:   cache,
	}
}

// transient tags a store failure so the socket layer reports it as
// retryable. Nothing partial was applied when one of these comes back.
func transient(err error, msg string) error {
	return fmt.Errorf("%w: %s: %v", models.ErrTransient, msg, err)
}

// NormalizePair orders two user ids into the (low, high) pair key used by
// the conversations table.
func NormalizePair(userA, userB int) (int, int) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

func pairKey(userA, userB int) string {
	low, high := NormalizePair(userA, userB)
	return fmt.Sprintf("%d:%d", low, high)
}

func (cs *chatService) FindConversation(ctx context.Context, userA, userB int) (*models.Conversation, error) {
	if conv, ok := cs.convCache.Get(pairKey(userA, userB)); ok {
		return &conv, nil
	}

	low, high := NormalizePair(userA, userB)
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "user_low", "user_high", "created_at").
		From("conversations").
		Where(squirrel.Eq{"user_low": low, "user_high": high})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var conv models.Conversation
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&conv.ID, &conv.UserLow, &conv.UserHigh, &conv.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		log.Printf("Error finding conversation between %d and %d: %v", userA, userB, err)
		return nil, transient(err, "finding conversation")
	}

	cs.convCache.Add(pairKey(userA, userB), conv)
	return &conv, nil
}

func (cs *chatService) GetOrCreateConversation(ctx context.Context, userA, userB int) (*models.Conversation, error) {
	conv, err := cs.FindConversation(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	// both participants must exist before a thread is created implicitly
	if _, err := cs.UserService.GetUserById(ctx, userB); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	low, high := NormalizePair(userA, userB)
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("conversations").
		Columns("user_low", "user_high", "created_at").
		Values(low, high, time.Now()).
		Suffix("ON CONFLICT (user_low, user_high) DO UPDATE SET user_low = EXCLUDED.user_low RETURNING id, user_low, user_high, created_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var created models.Conversation
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&created.ID, &created.UserLow, &created.UserHigh, &created.CreatedAt)
	if err != nil {
		log.Printf("Error creating conversation between %d and %d: %v", userA, userB, err)
		return nil, transient(err, "creating conversation")
	}

	log.Printf("Conversation %d created between users %d and %d", created.ID, low, high)
	cs.convCache.Add(pairKey(userA, userB), created)
	return &created, nil
}

func (cs *chatService) SaveMessage(ctx context.Context, conv *models.Conversation, senderID int, content string, images []string) (*models.Message, error) {
	if !conv.HasParticipant(senderID) {
		return nil, models.ErrForbidden
	}

	msg := &models.Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: conv.Peer(senderID),
		Content:     content,
		Likes:       []int{},
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, transient(err, "beginning transaction")
	}
	defer tx.Rollback(ctx)

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("messages").
		Columns("id", "conversation_id", "sender_id", "recipient_id", "content", "sent_at").
		Values(msg.ID, conv.ID, msg.SenderID, msg.RecipientID, content, squirrel.Expr("NOW()")).
		Suffix("RETURNING sent_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	err = tx.QueryRow(ctx, sqlStr, args...).Scan(&msg.SentAt)
	if err != nil {
		log.Printf("Error saving message in conversation %d: %v", conv.ID, err)
		return nil, transient(err, "saving message")
	}

	for i, image := range images {
		insert := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
			Insert("message_attachments").
			Columns("message_id", "position", "url").
			Values(msg.ID, i, image)
		sqlStr, args, err := insert.ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "building query")
		}
		if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
			log.Printf("Error saving attachment %d for message %s: %v", i, msg.ID, err)
			return nil, transient(err, "saving attachment")
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{SecureURL: image})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, transient(err, "committing message")
	}

	log.Printf("Message %s saved: conversation %d, sender %d", msg.ID, conv.ID, senderID)
	return msg, nil
}

func (cs *chatService) GetMessagesBetween(ctx context.Context, userID, peerID, offset, limit int) ([]models.Message, error) {
	conv, err := cs.FindConversation(ctx, userID, peerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// no conversation yet means no history, not an error
			return []models.Message{}, nil
		}
		return nil, err
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "sender_id", "recipient_id", "content", "read", "sent_at").
		From("messages").
		Where(squirrel.Eq{"conversation_id": conv.ID}).
		OrderBy("sent_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error fetching messages for conversation %d: %v", conv.ID, err)
		return nil, transient(err, "fetching messages")
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Content, &msg.Read, &msg.SentAt); err != nil {
			return nil, transient(err, "scanning message")
		}
		messages = append(messages, msg)
	}
	if rows.Err() != nil {
		return nil, transient(rows.Err(), "iterating messages")
	}

	for i := range messages {
		attachments, err := cs.attachmentsFor(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		likes, err := cs.likersFor(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Attachments = attachments
		messages[i].Likes = likes
		messages[i].LikeCount = len(likes)
	}

	log.Printf("Fetched %d messages for conversation %d", len(messages), conv.ID)
	return messages, nil
}

func (cs *chatService) attachmentsFor(ctx context.Context, messageID string) ([]models.Attachment, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("url").
		From("message_attachments").
		Where(squirrel.Eq{"message_id": messageID}).
		OrderBy("position ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, transient(err, "fetching attachments")
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.SecureURL); err != nil {
			return nil, transient(err, "scanning attachment")
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (cs *chatService) likersFor(ctx context.Context, messageID string) ([]int, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("user_id").
		From("message_likes").
		Where(squirrel.Eq{"message_id": messageID}).
		OrderBy("liked_at ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, transient(err, "fetching likes")
	}
	defer rows.Close()

	likes := []int{}
	for rows.Next() {
		var userID int
		if err := rows.Scan(&userID); err != nil {
			return nil, transient(err, "scanning like")
		}
		likes = append(likes, userID)
	}
	return likes, rows.Err()
}

func (cs *chatService) GetConversationsForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("c.id", "c.user_low", "c.user_high", "m.content", "m.sent_at").
		From("conversations c").
		LeftJoin("messages m ON c.id = m.conversation_id AND m.sent_at = (" +
			"SELECT MAX(sent_at) FROM messages WHERE conversation_id = c.id)").
		Where(squirrel.Or{
			squirrel.Eq{"c.user_low": userID},
			squirrel.Eq{"c.user_high": userID},
		}).
		OrderBy("m.sent_at DESC NULLS LAST")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error getting conversations for user %d: %v", userID, err)
		return nil, transient(err, "fetching conversations")
	}
	defer rows.Close()

	type convRow struct {
		conv    models.Conversation
		content *string
		sentAt  pgtype.Timestamptz
	}
	var convRows []convRow
	for rows.Next() {
		var cr convRow
		if err := rows.Scan(&cr.conv.ID, &cr.conv.UserLow, &cr.conv.UserHigh, &cr.content, &cr.sentAt); err != nil {
			return nil, transient(err, "scanning conversation")
		}
		convRows = append(convRows, cr)
	}
	if rows.Err() != nil {
		return nil, transient(rows.Err(), "iterating conversations")
	}

	summaries := []models.ConversationSummary{}
	for _, cr := range convRows {
		peerID := cr.conv.Peer(userID)

		peer, err := cs.UserService.GetUserById(ctx, peerID)
		if err != nil {
			log.Printf("Error getting peer %d for conversation %d: %v", peerID, cr.conv.ID, err)
			continue
		}

		unread, err := cs.unreadCount(ctx, cr.conv.ID, userID)
		if err != nil {
			return nil, err
		}

		summary := models.ConversationSummary{
			ChatID:       peerID,
			PeerUsername: peer.Username,
			UnreadCount:  unread,
		}
		summary.LastMessageContent = cr.content
		if cr.sentAt.Status == pgtype.Present {
			t := cr.sentAt.Time
			summary.LastMessageSentAt = &t
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func (cs *chatService) PartnerIDs(ctx context.Context, userID int) ([]int, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("user_low", "user_high").
		From("conversations").
		Where(squirrel.Or{
			squirrel.Eq{"user_low": userID},
			squirrel.Eq{"user_high": userID},
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error getting partners for user %d: %v", userID, err)
		return nil, transient(err, "fetching partners")
	}
	defer rows.Close()

	var partners []int
	for rows.Next() {
		var low, high int
		if err := rows.Scan(&low, &high); err != nil {
			return nil, transient(err, "scanning partner row")
		}
		if low == userID {
			partners = append(partners, high)
		} else {
			partners = append(partners, low)
		}
	}
	return partners, rows.Err()
}

func (cs *chatService) IncrementUnread(ctx context.Context, conversationID, userID int) (int, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("unread_counts").
		Columns("conversation_id", "user_id", "count").
		Values(conversationID, userID, 1).
		Suffix("ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = unread_counts.count + 1 RETURNING count")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var count int
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&count)
	if err != nil {
		log.Printf("Error incrementing unread for conversation %d, user %d: %v", conversationID, userID, err)
		return 0, transient(err, "incrementing unread count")
	}
	return count, nil
}

func (cs *chatService) ResetUnread(ctx context.Context, conversationID, userID int) error {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("unread_counts").
		Columns("conversation_id", "user_id", "count").
		Values(conversationID, userID, 0).
		Suffix("ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = 0")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	_, err = db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error resetting unread for conversation %d, user %d: %v", conversationID, userID, err)
		return transient(err, "resetting unread count")
	}
	return nil
}

func (cs *chatService) unreadCount(ctx context.Context, conversationID, userID int) (int, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("count").
		From("unread_counts").
		Where(squirrel.Eq{"conversation_id": conversationID, "user_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var count int
	err = db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, transient(err, "fetching unread count")
	}
	return count, nil
}

func (cs *chatService) ToggleLike(ctx context.Context, userID int, messageID string) (*models.LikeResult, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, fmt.Errorf("%w: malformed message id", models.ErrValidation)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, transient(err, "beginning transaction")
	}
	defer tx.Rollback(ctx)

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("sender_id", "recipient_id").
		From("messages").
		Where(squirrel.Eq{"id": messageID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var senderID, recipientID int
	err = tx.QueryRow(ctx, sqlStr, args...).Scan(&senderID, &recipientID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		log.Printf("Error loading message %s: %v", messageID, err)
		return nil, transient(err, "loading message")
	}

	if userID != senderID && userID != recipientID {
		return nil, models.ErrForbidden
	}

	var liked bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM message_likes WHERE message_id = $1 AND user_id = $2)",
		messageID, userID).Scan(&liked)
	if err != nil {
		return nil, transient(err, "checking like state")
	}

	if liked {
		_, err = tx.Exec(ctx, "DELETE FROM message_likes WHERE message_id = $1 AND user_id = $2", messageID, userID)
	} else {
		_, err = tx.Exec(ctx, "INSERT INTO message_likes (message_id, user_id) VALUES ($1, $2)", messageID, userID)
	}
	if err != nil {
		log.Printf("Error toggling like on message %s by user %d: %v", messageID, userID, err)
		return nil, transient(err, "toggling like")
	}

	rows, err := tx.Query(ctx,
		"SELECT user_id FROM message_likes WHERE message_id = $1 ORDER BY liked_at ASC", messageID)
	if err != nil {
		return nil, transient(err, "fetching likes")
	}
	likes := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, transient(err, "scanning like")
		}
		likes = append(likes, id)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, transient(rows.Err(), "iterating likes")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, transient(err, "committing like toggle")
	}

	log.Printf("User %d toggled like on message %s: now liked=%v (%d likes)", userID, messageID, !liked, len(likes))
	return &models.LikeResult{
		MessageID:   messageID,
		Likes:       likes,
		Liked:       !liked,
		SenderID:    senderID,
		RecipientID: recipientID,
	}, nil
}

func (cs *chatService) MarkMessageRead(ctx context.Context, userID int, messageID string) error {
	if _, err := uuid.Parse(messageID); err != nil {
		return fmt.Errorf("%w: malformed message id", models.ErrValidation)
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Update("messages").
		Set("read", true).
		Where(squirrel.Eq{"id": messageID, "recipient_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	tag, err := db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error marking message %s read by user %d: %v", messageID, userID, err)
		return transient(err, "marking message read")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
