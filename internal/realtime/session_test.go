package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})

	conn := env.dial(t, "")
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseUnauthenticated, closeErr.Code)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})

	conn := env.dial(t, "forged")
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseUnauthenticated, closeErr.Code)

	// A rejected session must never have joined anything.
	for _, group := range userGroups(env.userID) {
		assert.Equal(t, 0, env.registry.Members(group))
	}
}

func TestHandshakeClosesWithInternalErrorOnSetupFault(t *testing.T) {
	env := newTestEnv(t, &fakeStore{failReads: true})

	conn := env.dial(t, env.token)
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)

	// The half-built session must have rolled its joins back.
	for _, group := range userGroups(env.userID) {
		assert.Equal(t, 0, env.registry.Members(group))
	}
}

func TestInitialDataDeliveredFirst(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	store := seededStore(env.userID)
	env.store.bookings = store.bookings
	env.store.messages = store.messages
	env.store.notifications = store.notifications

	conn := env.dial(t, env.token)
	ev := readEvent(t, conn)

	require.Equal(t, EventInitialData, ev.Type)
	assert.Len(t, ev.Payload["bookings"], 1)
	assert.Len(t, ev.Payload["messages"], 1)
	assert.Len(t, ev.Payload["notifications"], 1)
	assert.True(t, env.cache.has(env.userID))
}

func TestPingPong(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	writeCommand(t, conn, ActionPing, nil)
	ev := readEvent(t, conn)

	require.Equal(t, EventPong, ev.Type)
	ts, ok := ev.Payload["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)
}

func TestUnknownActionKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	writeCommand(t, conn, "frobnicate", nil)
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Unknown action: frobnicate", ev.Payload["message"])

	// The session survived; commands still work.
	writeCommand(t, conn, ActionPing, nil)
	assert.Equal(t, EventPong, readEvent(t, conn).Type)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Invalid JSON format", ev.Payload["message"])

	writeCommand(t, conn, ActionPing, nil)
	assert.Equal(t, EventPong, readEvent(t, conn).Type)
}

func TestMarkMessageRead(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	messageID := uuid.New()
	env.store.messages = append(env.store.messages, seededStore(env.userID).messages...)
	env.store.messages[0].ID = messageID

	conn := env.connect(t)
	require.True(t, env.cache.has(env.userID))

	writeCommand(t, conn, ActionMarkMessageRead, map[string]string{"message_id": messageID.String()})
	ev := readEvent(t, conn)

	require.Equal(t, EventMessageMarkedRead, ev.Type)
	assert.Equal(t, messageID.String(), ev.Payload["message_id"])
	assert.True(t, env.store.messages[0].IsRead)
	// The ack implies the snapshot was already invalidated.
	assert.False(t, env.cache.has(env.userID))
}

func TestMarkMessageReadRequiresID(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	writeCommand(t, conn, ActionMarkMessageRead, map[string]string{})
	ev := readEvent(t, conn)

	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Message ID is required", ev.Payload["message"])
}

func TestMarkMessageReadUnknownID(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	writeCommand(t, conn, ActionMarkMessageRead, map[string]string{"message_id": uuid.NewString()})
	ev := readEvent(t, conn)

	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Message not found or not authorized", ev.Payload["message"])
	// A failed mutation must not invalidate the snapshot.
	assert.True(t, env.cache.has(env.userID))
}

func TestMarkNotificationRead(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	notificationID := uuid.New()
	env.store.notifications = seededStore(env.userID).notifications
	env.store.notifications[0].ID = notificationID

	conn := env.connect(t)
	writeCommand(t, conn, ActionMarkNotificationRead, map[string]string{"notification_id": notificationID.String()})
	ev := readEvent(t, conn)

	require.Equal(t, EventNotificationMarkedRead, ev.Type)
	assert.Equal(t, notificationID.String(), ev.Payload["notification_id"])
	assert.False(t, env.cache.has(env.userID))
}

func TestMarkAllNotificationsRead(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	for i := 0; i < 3; i++ {
		env.store.notifications = append(env.store.notifications,
			seededStore(env.userID).notifications...)
	}

	conn := env.connect(t)
	writeCommand(t, conn, ActionMarkAllNotificationsRead, nil)
	ev := readEvent(t, conn)

	require.Equal(t, EventAllNotificationsMarkedRead, ev.Type)
	assert.EqualValues(t, 3, ev.Payload["count"])
	assert.False(t, env.cache.has(env.userID))
}

func TestGetMoreMessagesCapsLimit(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	writeCommand(t, conn, ActionGetMoreMessages, map[string]int{"offset": 10, "limit": 1000})
	ev := readEvent(t, conn)

	require.Equal(t, EventMoreMessages, ev.Type)
	assert.EqualValues(t, 10, ev.Payload["offset"])
	assert.EqualValues(t, maxMessageLimit, ev.Payload["limit"])
	assert.Equal(t, maxMessageLimit, env.store.lastLimit)
}

func TestGetMoreMessagesDefaults(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	writeCommand(t, conn, ActionGetMoreMessages, nil)
	ev := readEvent(t, conn)

	require.Equal(t, EventMoreMessages, ev.Type)
	assert.EqualValues(t, 0, ev.Payload["offset"])
	assert.EqualValues(t, defaultMessageLimit, ev.Payload["limit"])
}

func TestGetMoreMessagesRejectsNegativeOffset(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	writeCommand(t, conn, ActionGetMoreMessages, map[string]int{"offset": -1})
	ev := readEvent(t, conn)

	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, "Invalid pagination parameters", ev.Payload["message"])
}

func TestRelayedEventReachesClient(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	err := env.registry.Publish(context.Background(), MessageGroup(env.userID), Event{
		Type:    EventNewMessage,
		Payload: map[string]string{"content": "your driver is here"},
	})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	require.Equal(t, EventNewMessage, ev.Type)
	assert.Equal(t, "your driver is here", ev.Payload["content"])
}

func TestPublisherRelaysThroughRegistry(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	pub := NewPublisher(env.registry, testLogger())
	pub.NewNotification(env.userID, map[string]string{"message": "box ready"})

	ev := readEvent(t, conn)
	require.Equal(t, EventNewNotification, ev.Type)
	assert.Equal(t, "box ready", ev.Payload["message"])
}

func TestConnectJoinsAllFourGroups(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	env.connect(t)

	for _, group := range userGroups(env.userID) {
		assert.Equal(t, 1, env.registry.Members(group), group)
	}
}

func TestDisconnectLeavesAllGroupsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	require.Eventually(t, func() bool {
		for _, group := range userGroups(env.userID) {
			if env.registry.Members(group) != 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "groups not released after disconnect")
}

func TestRelayAfterDisconnectIsDropped(t *testing.T) {
	env := newTestEnv(t, &fakeStore{})
	conn := env.connect(t)
	conn.Close()

	require.Eventually(t, func() bool {
		return env.registry.Members(MessageGroup(env.userID)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Publishing to the now-empty group neither faults nor blocks.
	err := env.registry.Publish(context.Background(), MessageGroup(env.userID), Event{Type: EventNewMessage})
	require.NoError(t, err)
}

func TestSessionStartRollsBackOnJoinFailure(t *testing.T) {
	userID := uuid.New()
	reg := &failingRegistry{inner: NewMemoryRegistry(), failOn: NotificationGroup(userID)}
	store := seededStore(userID)
	snaps := NewSnapshotBuilder(store, newFakeCache(), testLogger())

	s := NewSession(userID, "tester", &websocket.Conn{}, reg, store, snaps, testLogger())
	err := s.Start()
	require.Error(t, err)

	for _, group := range userGroups(userID) {
		assert.Equal(t, 0, reg.inner.Members(group), group)
	}
}

type failingRegistry struct {
	inner  *MemoryRegistry
	failOn string
}

func (r *failingRegistry) Join(ctx context.Context, group string, sub Subscriber) error {
	if group == r.failOn {
		return errors.New("join refused")
	}
	return r.inner.Join(ctx, group, sub)
}

func (r *failingRegistry) Leave(ctx context.Context, group string, sub Subscriber) error {
	return r.inner.Leave(ctx, group, sub)
}

func (r *failingRegistry) Publish(ctx context.Context, group string, event Event) error {
	return r.inner.Publish(ctx, group, event)
}
