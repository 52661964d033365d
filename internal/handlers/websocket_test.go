package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"Linkup/server/internal/appMiddleware"
	"Linkup/server/internal/hub"
	"Linkup/server/internal/models"
	"Linkup/server/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// ---- in-memory services -------------------------------------------------

type memUsers struct {
	mu    sync.Mutex
	users map[int]*models.User
}

func newMemUsers(usernames ...string) *memUsers {
	m := &memUsers{users: make(map[int]*models.User)}
	for i, name := range usernames {
		id := i + 1
		m.users[id] = &models.User{ID: id, Username: name, Email: name + "@example.com"}
	}
	return m
}

func (m *memUsers) CheckUserExists(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) CreateUser(_ context.Context, user *models.User) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := len(m.users) + 1
	user.ID = id
	m.users[id] = user
	return id, nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (m *memUsers) GetUserById(_ context.Context, id int) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) IncrementFailedLoginAttempts(_ context.Context, userID int) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.FailedAttempts++
	return u, nil
}

func (m *memUsers) ResetFailedLoginAttempts(_ context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID].FailedAttempts = 0
	return nil
}

func (m *memUsers) LockAccount(_ context.Context, userID int, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	until := time.Now().Add(d)
	m.users[userID].LockedUntil = &until
	return nil
}

var _ services.UserService = (*memUsers)(nil)

type memStore struct {
	mu       sync.Mutex
	nextConv int
	convs    map[string]*models.Conversation
	msgs     map[string]*models.Message
	order    map[int][]string
	unread   map[string]int
	likes    map[string][]int
}

func newMemStore() *memStore {
	return &memStore{
		convs:  make(map[string]*models.Conversation),
		msgs:   make(map[string]*models.Message),
		order:  make(map[int][]string),
		unread: make(map[string]int),
		likes:  make(map[string][]int),
	}
}

func storeKey(a, b int) string {
	low, high := services.NormalizePair(a, b)
	return fmt.Sprintf("%d:%d", low, high)
}

func (m *memStore) seedConversation(a, b int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(a, b)
}

func (m *memStore) getOrCreateLocked(a, b int) *models.Conversation {
	key := storeKey(a, b)
	if conv, ok := m.convs[key]; ok {
		return conv
	}
	m.nextConv++
	low, high := services.NormalizePair(a, b)
	conv := &models.Conversation{ID: m.nextConv, UserLow: low, UserHigh: high}
	m.convs[key] = conv
	return conv
}

func (m *memStore) FindConversation(_ context.Context, a, b int) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[storeKey(a, b)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return conv, nil
}

func (m *memStore) GetOrCreateConversation(_ context.Context, a, b int) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(a, b), nil
}

func (m *memStore) SaveMessage(_ context.Context, conv *models.Conversation, senderID int, content string, images []string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &models.Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: conv.Peer(senderID),
		Content:     content,
		Likes:       []int{},
		SentAt:      time.Now(),
	}
	for _, img := range images {
		msg.Attachments = append(msg.Attachments, models.Attachment{SecureURL: img})
	}
	m.msgs[msg.ID] = msg
	m.order[conv.ID] = append(m.order[conv.ID], msg.ID)
	return msg, nil
}

func (m *memStore) GetMessagesBetween(_ context.Context, userID, peerID, offset, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[storeKey(userID, peerID)]
	if !ok {
		return []models.Message{}, nil
	}
	out := []models.Message{}
	ids := m.order[conv.ID]
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, *m.msgs[ids[i]])
	}
	return out, nil
}

func (m *memStore) GetConversationsForUser(_ context.Context, userID int) ([]models.ConversationSummary, error) {
	return []models.ConversationSummary{}, nil
}

func (m *memStore) PartnerIDs(_ context.Context, userID int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var partners []int
	for _, conv := range m.convs {
		if conv.HasParticipant(userID) {
			partners = append(partners, conv.Peer(userID))
		}
	}
	return partners, nil
}

func (m *memStore) IncrementUnread(_ context.Context, convID, userID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d:%d", convID, userID)
	m.unread[key]++
	return m.unread[key], nil
}

func (m *memStore) ResetUnread(_ context.Context, convID, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[fmt.Sprintf("%d:%d", convID, userID)] = 0
	return nil
}

func (m *memStore) ToggleLike(_ context.Context, userID int, messageID string) (*models.LikeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if userID != msg.SenderID && userID != msg.RecipientID {
		return nil, models.ErrForbidden
	}
	found := false
	next := []int{}
	for _, id := range m.likes[messageID] {
		if id == userID {
			found = true
			continue
		}
		next = append(next, id)
	}
	if !found {
		next = append(next, userID)
	}
	m.likes[messageID] = next
	return &models.LikeResult{
		MessageID:   messageID,
		Likes:       next,
		Liked:       !found,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
	}, nil
}

func (m *memStore) MarkMessageRead(_ context.Context, userID int, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.RecipientID != userID {
		return models.ErrNotFound
	}
	msg.Read = true
	return nil
}

var _ services.ChatService = (*memStore)(nil)

// ---- harness ------------------------------------------------------------

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()

	users := newMemUsers("alice", "bob")
	store := newMemStore()
	chatHub := hub.NewHub(store)
	h := NewHandler(users, store, chatHub, []byte(testSecret), time.Second)

	r := chi.NewRouter()
	r.Get("/ws", h.WebSocket)
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.AuthMiddleware([]byte(testSecret)))
		r.Get("/api/chats", h.GetConversations)
		r.Get("/api/chats/{user_id}/messages", h.GetMessages)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func signToken(t *testing.T, userID int) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func dialWS(t *testing.T, srv *httptest.Server, userID int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + signToken(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Envelope{Event: event, Data: raw}))
}

// readEvent skips unrelated frames until the wanted event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if frame.Event == want {
			return frame.Data
		}
	}
}

// collectEvents reads every frame that arrives within the window.
func collectEvents(t *testing.T, conn *websocket.Conn, window time.Duration) []models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
	var frames []models.Envelope
	for {
		var frame models.Envelope
		if err := conn.ReadJSON(&frame); err != nil {
			return frames
		}
		frames = append(frames, frame)
	}
}

// ---- tests --------------------------------------------------------------

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRejectsUnknownUser(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + signToken(t, 99)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessageFlowWithUnreadReset(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv, 1)
	bob := dialWS(t, srv, 2)

	// bob sends while alice is not viewing his conversation
	emit(t, bob, models.EventSendMessage, models.SendMessagePayload{Content: "hi", DestID: 1})

	var ack models.MessageEventPayload
	require.NoError(t, json.Unmarshal(readEvent(t, bob, models.EventSuccessMessage), &ack))
	assert.Equal(t, "hi", ack.Message.Content)
	assert.Equal(t, 2, ack.Message.SenderID)

	var received models.MessageEventPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventReceiveMessage), &received))
	assert.Equal(t, "hi", received.Message.Content)

	var unread models.UnreadUpdatePayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventUnreadUpdate), &unread))
	assert.Equal(t, 2, unread.ChatID)
	assert.Equal(t, 1, unread.Count)

	// alice opens the conversation: counter resets to the authoritative zero
	emit(t, alice, models.EventChatContextChange, models.ChatContextChangePayload{CurrentChatID: 2})
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventUnreadUpdate), &unread))
	assert.Equal(t, 2, unread.ChatID)
	assert.Equal(t, 0, unread.Count)
}

func TestOfflineRecipientRecoversViaHistory(t *testing.T) {
	srv, store := newTestServer(t)

	alice := dialWS(t, srv, 1)

	emit(t, alice, models.EventSendMessage, models.SendMessagePayload{Content: "are you there?", DestID: 2})
	readEvent(t, alice, models.EventSuccessMessage)

	// bob was offline the whole time; the pull path has the message
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/chats/1/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, 2))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, "are you there?", history[0].Content)
	assert.Equal(t, 1, history[0].SenderID)

	require.Len(t, store.msgs, 1)
}

func TestPresenceBroadcastOncePerTransition(t *testing.T) {
	srv, store := newTestServer(t)
	store.seedConversation(1, 2)

	alice := dialWS(t, srv, 1)

	// bob comes online with two devices: exactly one online notice
	bobPhone := dialWS(t, srv, 2)
	bobLaptop := dialWS(t, srv, 2)

	var status models.UserStatusPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventUserStatus), &status))
	assert.Equal(t, 2, status.UserID)
	assert.Equal(t, models.StatusOnline, status.Status)

	// both devices disconnect: exactly one offline notice
	bobPhone.Close()
	bobLaptop.Close()

	var statuses []models.UserStatusPayload
	for _, frame := range collectEvents(t, alice, 500*time.Millisecond) {
		if frame.Event != models.EventUserStatus {
			continue
		}
		var s models.UserStatusPayload
		require.NoError(t, json.Unmarshal(frame.Data, &s))
		statuses = append(statuses, s)
	}
	require.Len(t, statuses, 1)
	assert.Equal(t, models.StatusOffline, statuses[0].Status)
}

func TestLikeToggleRoundTripOverSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv, 1)
	bob := dialWS(t, srv, 2)

	emit(t, bob, models.EventSendMessage, models.SendMessagePayload{Content: "like me", DestID: 1})
	var received models.MessageEventPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventReceiveMessage), &received))

	emit(t, alice, models.EventLikeMessage, models.LikeMessagePayload{MessageID: received.Message.ID})

	var liked models.MessageLikedPayload
	require.NoError(t, json.Unmarshal(readEvent(t, bob, models.EventMessageLiked), &liked))
	assert.Equal(t, received.Message.ID, liked.MessageID)
	assert.Equal(t, []int{1}, liked.Likes)

	emit(t, alice, models.EventLikeMessage, models.LikeMessagePayload{MessageID: received.Message.ID})
	require.NoError(t, json.Unmarshal(readEvent(t, bob, models.EventMessageLiked), &liked))
	assert.Empty(t, liked.Likes)
}

func TestTypingRelayedToRecipient(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv, 1)
	bob := dialWS(t, srv, 2)

	emit(t, bob, models.EventTyping, models.TypingPayload{DestID: 1})
	var typing models.TypingEventPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventTyping), &typing))
	assert.Equal(t, 2, typing.SenderID)

	emit(t, bob, models.EventStopTyping, models.TypingPayload{DestID: 1})
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventStopTyping), &typing))
	assert.Equal(t, 2, typing.SenderID)
}

func TestMessageReadSetsFlag(t *testing.T) {
	srv, store := newTestServer(t)

	alice := dialWS(t, srv, 1)
	bob := dialWS(t, srv, 2)

	emit(t, bob, models.EventSendMessage, models.SendMessagePayload{Content: "read me", DestID: 1})
	var received models.MessageEventPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventReceiveMessage), &received))

	emit(t, alice, models.EventMessageRead, models.MessageReadPayload{MessageID: received.Message.ID})

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.msgs[received.Message.ID].Read
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUnknownEventAnsweredWithSocketError(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv, 1)

	emit(t, alice, "bogusEvent", map[string]string{})
	var socketErr models.SocketErrorPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventSocketError), &socketErr))
	assert.Contains(t, socketErr.Message, "unknown event")

	// connection stays usable afterwards
	emit(t, alice, models.EventSendMessage, models.SendMessagePayload{Content: "still here", DestID: 2})
	readEvent(t, alice, models.EventSuccessMessage)
}

func TestSocketErrorMessageTaxonomy(t *testing.T) {
	assert.Equal(t, "temporary failure, please retry",
		socketErrorMessage(fmt.Errorf("%w: saving message: connection refused", models.ErrTransient)))
	assert.Equal(t, "you are not a participant of this conversation",
		socketErrorMessage(models.ErrForbidden))
	assert.Equal(t, "message or conversation not found",
		socketErrorMessage(models.ErrNotFound))
	assert.Equal(t, "internal error", socketErrorMessage(fmt.Errorf("boom")))
}

func TestValidationErrorsOverSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv, 1)

	emit(t, alice, models.EventSendMessage, models.SendMessagePayload{Content: "", DestID: 2})
	var socketErr models.SocketErrorPayload
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventSocketError), &socketErr))
	assert.Contains(t, socketErr.Message, "validation")

	images := make([]string, models.MaxAttachments+1)
	for i := range images {
		images[i] = "data:image/png;base64,AAAA"
	}
	emit(t, alice, models.EventSendMessage, models.SendMessagePayload{Content: "too many", DestID: 2, Images: images})
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventSocketError), &socketErr))
	assert.Contains(t, socketErr.Message, "attachments")
}
