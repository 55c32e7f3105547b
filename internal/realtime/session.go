package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
	commandTimeout = 10 * time.Second
)

// Session owns one client connection: group membership, the initial
// snapshot, inbound command dispatch and outbound event relay. Commands are
// handled one at a time in arrival order on the read pump; outbound events
// arrive independently through Deliver and only share the send queue.
type Session struct {
	userID   uuid.UUID
	username string
	conn     *websocket.Conn
	registry Registry
	store    Store
	snaps    *SnapshotBuilder
	logger   *zap.Logger

	// send carries pre-encoded frames from both the command handlers and
	// the group relay to the single write pump.
	send      chan []byte
	connected atomic.Bool
	groups    []string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewSession(userID uuid.UUID, username string, conn *websocket.Conn,
	registry Registry, store Store, snaps *SnapshotBuilder, logger *zap.Logger) *Session {

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		userID:   userID,
		username: username,
		conn:     conn,
		registry: registry,
		store:    store,
		snaps:    snaps,
		logger:   logger.With(zap.String("user_id", userID.String())),
		send:     make(chan []byte, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start joins the per-user groups, queues the initial snapshot and spins up
// the pumps. On any fault it rolls back fully: a session is never left
// half-joined. The caller closes the connection if Start fails.
func (s *Session) Start() error {
	groups := userGroups(s.userID)
	for i, group := range groups {
		if err := s.registry.Join(s.ctx, group, s); err != nil {
			s.releaseGroups(groups[:i])
			return err
		}
	}
	s.groups = groups

	snap, err := s.snaps.GetOrBuild(s.ctx, s.userID)
	if err != nil {
		s.releaseGroups(s.groups)
		s.groups = nil
		return err
	}

	s.connected.Store(true)
	s.enqueue(Event{Type: EventInitialData, Payload: snap})

	go s.writePump()
	go s.readPump()

	s.logger.Info("websocket session established")
	return nil
}

// Deliver implements Subscriber: relay a group event to this client,
// best-effort, only while connected.
func (s *Session) Deliver(event Event) {
	s.enqueue(event)
}

// enqueue is the single outbound choke point. The connected flag is checked
// here and nowhere else; once it drops, nothing more goes out.
func (s *Session) enqueue(event Event) {
	if !s.connected.Load() {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode outbound event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	select {
	case s.send <- data:
	default:
		// Slow consumer: drop the whole session rather than block a publisher.
		s.logger.Warn("send buffer full, dropping session")
		s.Close()
	}
}

func (s *Session) sendError(message string) {
	s.enqueue(errorEvent(message))
}

// Close tears the session down exactly once: connected goes false first so
// in-flight sends are suppressed, then every joined group is released.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		s.releaseGroups(s.groups)
		s.cancel()
		s.conn.Close()
		s.logger.Info("websocket session closed")
	})
}

func (s *Session) releaseGroups(groups []string) {
	for _, group := range groups {
		if err := s.registry.Leave(context.Background(), group, s); err != nil {
			s.logger.Error("failed to leave group", zap.String("group", group), zap.Error(err))
		}
	}
}

func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		s.handleCommand(data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleCommand dispatches one inbound frame. Every failure mode answers
// with an error event on the open connection; nothing here drops it.
func (s *Session) handleCommand(data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.sendError("Invalid JSON format")
		return
	}
	if cmd.Action == "" {
		s.sendError("Missing 'action' field")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()

	switch cmd.Action {
	case ActionPing:
		s.handlePing()
	case ActionMarkMessageRead:
		s.handleMarkMessageRead(ctx, cmd.Payload)
	case ActionMarkNotificationRead:
		s.handleMarkNotificationRead(ctx, cmd.Payload)
	case ActionMarkAllNotificationsRead:
		s.handleMarkAllNotificationsRead(ctx)
	case ActionGetMoreMessages:
		s.handleGetMoreMessages(ctx, cmd.Payload)
	default:
		s.sendError("Unknown action: " + cmd.Action)
	}
}

func (s *Session) handlePing() {
	s.enqueue(Event{Type: EventPong, Payload: map[string]string{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

func (s *Session) handleMarkMessageRead(ctx context.Context, payload json.RawMessage) {
	var p struct {
		MessageID string `json:"message_id"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			s.sendError("Invalid payload")
			return
		}
	}
	if p.MessageID == "" {
		s.sendError("Message ID is required")
		return
	}
	messageID, err := uuid.Parse(p.MessageID)
	if err != nil {
		s.sendError("Invalid message ID")
		return
	}

	ok, err := s.store.MarkMessageRead(ctx, messageID, s.userID)
	if err != nil {
		s.logger.Error("failed to mark message read", zap.String("message_id", p.MessageID), zap.Error(err))
		s.sendError("Failed to mark message as read")
		return
	}
	if !ok {
		s.sendError("Message not found or not authorized")
		return
	}

	s.snaps.Invalidate(ctx, s.userID)
	s.enqueue(Event{Type: EventMessageMarkedRead, Payload: map[string]string{
		"message_id": p.MessageID,
	}})
}

func (s *Session) handleMarkNotificationRead(ctx context.Context, payload json.RawMessage) {
	var p struct {
		NotificationID string `json:"notification_id"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			s.sendError("Invalid payload")
			return
		}
	}
	if p.NotificationID == "" {
		s.sendError("Notification ID is required")
		return
	}
	notificationID, err := uuid.Parse(p.NotificationID)
	if err != nil {
		s.sendError("Invalid notification ID")
		return
	}

	ok, err := s.store.MarkNotificationRead(ctx, notificationID, s.userID)
	if err != nil {
		s.logger.Error("failed to mark notification read", zap.String("notification_id", p.NotificationID), zap.Error(err))
		s.sendError("Failed to mark notification as read")
		return
	}
	if !ok {
		s.sendError("Notification not found or not authorized")
		return
	}

	s.snaps.Invalidate(ctx, s.userID)
	s.enqueue(Event{Type: EventNotificationMarkedRead, Payload: map[string]string{
		"notification_id": p.NotificationID,
	}})
}

func (s *Session) handleMarkAllNotificationsRead(ctx context.Context) {
	count, err := s.store.MarkAllNotificationsRead(ctx, s.userID)
	if err != nil {
		s.logger.Error("failed to mark all notifications read", zap.Error(err))
		s.sendError("Failed to mark all notifications as read")
		return
	}

	s.snaps.Invalidate(ctx, s.userID)
	s.enqueue(Event{Type: EventAllNotificationsMarkedRead, Payload: map[string]int64{
		"count": count,
	}})
}

func (s *Session) handleGetMoreMessages(ctx context.Context, payload json.RawMessage) {
	p := struct {
		Offset int  `json:"offset"`
		Limit  *int `json:"limit"`
	}{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			s.sendError("Invalid pagination parameters")
			return
		}
	}

	limit := defaultMessageLimit
	if p.Limit != nil {
		limit = *p.Limit
	}
	if p.Offset < 0 || limit < 0 {
		s.sendError("Invalid pagination parameters")
		return
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	messages, err := s.store.RecentMessages(ctx, s.userID, p.Offset, limit)
	if err != nil {
		s.logger.Error("failed to fetch more messages", zap.Error(err))
		s.sendError("Failed to fetch more messages")
		return
	}

	s.enqueue(Event{Type: EventMoreMessages, Payload: map[string]any{
		"messages": messages,
		"offset":   p.Offset,
		"limit":    limit,
	}})
}
