package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Mohamed-AlHabob/Safar/internal/safar"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// fakeStore serves canned rows and records mutations.
type fakeStore struct {
	mu            sync.Mutex
	bookings      []safar.Booking
	messages      []safar.Message
	notifications []safar.Notification

	failReads  bool
	buildReads int
	lastOffset int
	lastLimit  int
}

var errStoreDown = errors.New("store down")

func (s *fakeStore) RecentBookings(ctx context.Context, userID uuid.UUID) ([]safar.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}
	s.buildReads++
	return append([]safar.Booking(nil), s.bookings...), nil
}

func (s *fakeStore) RecentMessages(ctx context.Context, userID uuid.UUID, offset, limit int) ([]safar.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}
	s.lastOffset = offset
	s.lastLimit = limit

	if offset >= len(s.messages) {
		return []safar.Message{}, nil
	}
	end := offset + limit
	if end > len(s.messages) {
		end = len(s.messages)
	}
	return append([]safar.Message(nil), s.messages[offset:end]...), nil
}

func (s *fakeStore) UnreadNotifications(ctx context.Context, userID uuid.UUID) ([]safar.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}
	unread := []safar.Notification{}
	for _, n := range s.notifications {
		if !n.IsRead {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

func (s *fakeStore) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == messageID && m.ReceiverID == userID && !m.IsRead {
			s.messages[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkNotificationRead(ctx context.Context, notificationID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications {
		if n.ID == notificationID && n.UserID == userID && !n.IsRead {
			s.notifications[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for i, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			s.notifications[i].IsRead = true
			count++
		}
	}
	return count, nil
}

// fakeCache is an in-memory SnapshotCache with injectable failures.
type fakeCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]byte
	getErr  error
	setErr  error
	delErr  error
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uuid.UUID][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[userID], nil
}

func (c *fakeCache) Set(ctx context.Context, userID uuid.UUID, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[userID] = data
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if c.delErr != nil {
		return c.delErr
	}
	delete(c.entries, userID)
	return nil
}

func (c *fakeCache) has(userID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	return ok
}

func (c *fakeCache) put(userID uuid.UUID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = data
}

// fakeValidator accepts a single token.
type fakeValidator struct {
	token    string
	userID   uuid.UUID
	username string
}

func (v *fakeValidator) ValidateToken(tokenString string) (uuid.UUID, string, error) {
	if tokenString != v.token {
		return uuid.Nil, "", errors.New("invalid token")
	}
	return v.userID, v.username, nil
}

// testEnv wires a Handler over a MemoryRegistry with fakes.
type testEnv struct {
	server   *httptest.Server
	registry *MemoryRegistry
	store    *fakeStore
	cache    *fakeCache
	userID   uuid.UUID
	token    string
}

func newTestEnv(t *testing.T, store *fakeStore) *testEnv {
	t.Helper()

	env := &testEnv{
		registry: NewMemoryRegistry(),
		store:    store,
		cache:    newFakeCache(),
		userID:   uuid.New(),
		token:    "test-token",
	}

	logger := zap.NewNop()
	snaps := NewSnapshotBuilder(store, env.cache, logger)
	validator := &fakeValidator{token: env.token, userID: env.userID, username: "tester"}
	handler := NewHandler(env.registry, store, snaps, validator, logger)

	env.server = httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials with the valid token and consumes the initial_data frame.
func (e *testEnv) connect(t *testing.T) *websocket.Conn {
	t.Helper()

	conn := e.dial(t, e.token)
	ev := readEvent(t, conn)
	if ev.Type != EventInitialData {
		t.Fatalf("expected initial_data first, got %q", ev.Type)
	}
	return conn
}

type receivedEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func readEvent(t *testing.T, conn *websocket.Conn) receivedEvent {
	t.Helper()

	var ev receivedEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func writeCommand(t *testing.T, conn *websocket.Conn, action string, payload any) {
	t.Helper()

	cmd := map[string]any{"action": action}
	if payload != nil {
		cmd["payload"] = payload
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
}
