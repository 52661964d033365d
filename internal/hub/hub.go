package hub

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"

	"Linkup/server/internal/models"
	"Linkup/server/internal/services"
	"Linkup/server/internal/telemetry"

	"github.com/pkg/errors"
)

const lockStripes = 64

// Hub owns all per-connection state: the connection registry, presence,
// chat contexts, and the realtime fan-out paths. Persistence goes through
// the injected ChatService; the hub never touches the store directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]map[string]*Client

	chats services.ChatService

	// striped serialization points: one per conversation for message
	// ordering and unread bookkeeping, one per message for like toggles
	convLocks [lockStripes]sync.Mutex
	msgLocks  [lockStripes]sync.Mutex
}

func NewHub(chats services.ChatService) *Hub {
	return &Hub{
		clients: make(map[int]map[string]*Client),
		chats:   chats,
	}
}

// Register adds a connection to the user's set. The presence-online
// broadcast fires only on the offline-to-online transition, and
// re-registering the same handle is a no-op.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	set := h.clients[c.UserID]
	if set == nil {
		set = make(map[string]*Client)
		h.clients[c.UserID] = set
	}
	if _, ok := set[c.ID]; ok {
		h.mu.Unlock()
		return
	}
	wasOffline := len(set) == 0
	set[c.ID] = c
	h.mu.Unlock()

	telemetry.ConnectionsActive.Inc()
	log.Printf("User %d connection %s registered", c.UserID, c.ID)

	if wasOffline {
		h.broadcastPresence(ctx, c.UserID, models.StatusOnline)
	}
}

// Unregister removes a connection; the presence-offline broadcast fires
// only when the user's last connection goes away.
func (h *Hub) Unregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	set := h.clients[c.UserID]
	if set == nil {
		h.mu.Unlock()
		c.Close()
		return
	}
	if _, ok := set[c.ID]; !ok {
		h.mu.Unlock()
		c.Close()
		return
	}
	delete(set, c.ID)
	nowOffline := len(set) == 0
	if nowOffline {
		delete(h.clients, c.UserID)
	}
	h.mu.Unlock()

	c.Close()
	telemetry.ConnectionsActive.Dec()
	log.Printf("User %d connection %s unregistered", c.UserID, c.ID)

	if nowOffline {
		h.broadcastPresence(ctx, c.UserID, models.StatusOffline)
	}
}

// HandlesFor snapshots the user's live connections. Empty when offline.
func (h *Hub) HandlesFor(userID int) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[userID]
	handles := make([]*Client, 0, len(set))
	for _, c := range set {
		handles = append(handles, c)
	}
	return handles
}

// IsOnline reports derived presence: at least one live connection.
func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// userViewing reports whether ANY of the user's connections currently has
// the conversation with peerID open (first-active-wins policy).
func (h *Hub) userViewing(userID, peerID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients[userID] {
		if c.viewing == peerID {
			return true
		}
	}
	return false
}

// SetContext records which conversation the connection has open. Naming
// an existing conversation the caller participates in resets the caller's
// unread counter for it and pushes the authoritative zero to the caller's
// connections. Clearing the context (peer 0) has no counter side effect.
func (h *Hub) SetContext(ctx context.Context, c *Client, peerID int) error {
	h.mu.Lock()
	c.viewing = peerID
	h.mu.Unlock()

	if peerID == 0 {
		return nil
	}

	conv, err := h.chats.FindConversation(ctx, c.UserID, peerID)
	if errors.Is(err, models.ErrNotFound) {
		// no conversation yet, nothing to reset
		return nil
	}
	if err != nil {
		return err
	}

	// serialize against in-flight sends: a send that already passed the
	// suppression check must land its increment before the reset runs,
	// so the zero pushed below is the final word
	lock := h.convLock(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := h.chats.ResetUnread(ctx, conv.ID, c.UserID); err != nil {
		return err
	}

	h.emitToUser(c.UserID, models.Event{
		Event: models.EventUnreadUpdate,
		Data:  models.UnreadUpdatePayload{ChatID: peerID, Count: 0},
	})
	return nil
}

// SendMessage validates, persists and fans out one message. The sender's
// connections get a successMessage ack, the recipient's get
// receiveMessage plus an unreadUpdate when the recipient is not viewing
// the conversation. An offline recipient still gets the persist; history
// fetch picks the message up later.
func (h *Hub) SendMessage(ctx context.Context, senderID int, p models.SendMessagePayload) error {
	if err := models.ValidateOutgoingMessage(p.Content, p.Images); err != nil {
		return err
	}
	if p.DestID == 0 || p.DestID == senderID {
		return fmt.Errorf("%w: invalid destination %d", models.ErrValidation, p.DestID)
	}

	conv, err := h.chats.GetOrCreateConversation(ctx, senderID, p.DestID)
	if err != nil {
		return err
	}

	// single writer per conversation: keeps send order and the unread
	// increment consistent under concurrent sends
	lock := h.convLock(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := h.chats.SaveMessage(ctx, conv, senderID, p.Content, p.Images)
	if err != nil {
		return err
	}
	telemetry.MessagesPersisted.Inc()

	suppressed := h.userViewing(p.DestID, senderID)
	count := 0
	counted := false
	if !suppressed {
		count, err = h.chats.IncrementUnread(ctx, conv.ID, p.DestID)
		if err != nil {
			// message is durable; deliver it but skip the counter notice
			log.Printf("Error incrementing unread for conversation %d: %v", conv.ID, err)
		} else {
			counted = true
		}
	}

	h.emitToUser(senderID, models.Event{
		Event: models.EventSuccessMessage,
		Data:  models.MessageEventPayload{Message: msg},
	})
	h.emitToUser(p.DestID, models.Event{
		Event: models.EventReceiveMessage,
		Data:  models.MessageEventPayload{Message: msg},
	})
	if counted {
		h.emitToUser(p.DestID, models.Event{
			Event: models.EventUnreadUpdate,
			Data:  models.UnreadUpdatePayload{ChatID: senderID, Count: count},
		})
	}
	return nil
}

// RelayTyping forwards a typing signal to the recipient's connections.
// No persistence, no queueing: an offline recipient drops it silently,
// and the server never synthesizes a stop on its own.
func (h *Hub) RelayTyping(senderID, destID int, typing bool) {
	name := models.EventStopTyping
	if typing {
		name = models.EventTyping
	}
	h.emitToUser(destID, models.Event{
		Event: name,
		Data:  models.TypingEventPayload{SenderID: senderID},
	})
}

// ToggleLike flips the caller's membership in the message's liker set and
// broadcasts the full post-toggle set to both participants. Concurrent
// toggles on the same message serialize on a striped per-message lock.
func (h *Hub) ToggleLike(ctx context.Context, userID int, messageID string) error {
	lock := h.msgLock(messageID)
	lock.Lock()
	defer lock.Unlock()

	res, err := h.chats.ToggleLike(ctx, userID, messageID)
	if err != nil {
		return err
	}

	ev := models.Event{
		Event: models.EventMessageLiked,
		Data:  models.MessageLikedPayload{MessageID: res.MessageID, Likes: res.Likes},
	}
	h.emitToUser(res.SenderID, ev)
	if res.RecipientID != res.SenderID {
		h.emitToUser(res.RecipientID, ev)
	}
	return nil
}

// MarkRead sets the message's read flag. Best-effort, no counter change.
func (h *Hub) MarkRead(ctx context.Context, userID int, messageID string) error {
	return h.chats.MarkMessageRead(ctx, userID, messageID)
}

func (h *Hub) broadcastPresence(ctx context.Context, userID int, status string) {
	partners, err := h.chats.PartnerIDs(ctx, userID)
	if err != nil {
		log.Printf("Error getting partners for presence broadcast of user %d: %v", userID, err)
		return
	}

	ev := models.Event{
		Event: models.EventUserStatus,
		Data:  models.UserStatusPayload{UserID: userID, Status: status},
	}
	for _, partner := range partners {
		h.emitToUser(partner, ev)
	}
	log.Printf("User %d is now %s (notified %d partners)", userID, status, len(partners))
}

// emitToUser enqueues an event to every live connection of a user.
// Writes happen on each connection's writer goroutine, outside any hub
// lock, so fan-out to N connections proceeds in parallel.
func (h *Hub) emitToUser(userID int, ev models.Event) {
	for _, c := range h.HandlesFor(userID) {
		c.Enqueue(ev)
	}
}

func (h *Hub) convLock(conversationID int) *sync.Mutex {
	return &h.convLocks[conversationID%lockStripes]
}

func (h *Hub) msgLock(messageID string) *sync.Mutex {
	hash := fnv.New32a()
	hash.Write([]byte(messageID))
	return &h.msgLocks[hash.Sum32()%lockStripes]
}
