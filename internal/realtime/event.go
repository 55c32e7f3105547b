// Package realtime implements the per-user push channel: one websocket
// session per authenticated user, multiplexed over four broadcast groups
// (bookings, messages, notifications, general), with a cache-accelerated
// initial snapshot and fire-and-forget relays for subsequent mutations.
package realtime

import (
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Client actions.
const (
	ActionMarkMessageRead          = "mark_message_read"
	ActionMarkNotificationRead     = "mark_notification_read"
	ActionMarkAllNotificationsRead = "mark_all_notifications_read"
	ActionGetMoreMessages          = "get_more_messages"
	ActionPing                     = "ping"
)

// Server event types.
const (
	EventInitialData                = "initial_data"
	EventPong                       = "pong"
	EventError                      = "error"
	EventMessageMarkedRead          = "message_marked_read"
	EventNotificationMarkedRead     = "notification_marked_read"
	EventAllNotificationsMarkedRead = "all_notifications_marked_read"
	EventMoreMessages               = "more_messages"
	EventBookingUpdate              = "booking_update"
	EventNewMessage                 = "new_message"
	EventNewNotification            = "new_notification"
)

// Command is the client→server envelope.
type Command struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Event is the server→client envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Payload: map[string]string{"message": message}}
}

// Group name prefixes, one per event category plus the general catch-all.
const (
	bookingGroupPrefix      = "bookings_"
	messageGroupPrefix      = "messages_"
	notificationGroupPrefix = "notifications_"
	generalGroupPrefix      = "safar_"
)

func BookingGroup(userID uuid.UUID) string {
	return bookingGroupPrefix + userID.String()
}

func MessageGroup(userID uuid.UUID) string {
	return messageGroupPrefix + userID.String()
}

func NotificationGroup(userID uuid.UUID) string {
	return notificationGroupPrefix + userID.String()
}

func GeneralGroup(userID uuid.UUID) string {
	return generalGroupPrefix + userID.String()
}

// userGroups lists the four groups a session joins, in join order.
func userGroups(userID uuid.UUID) []string {
	return []string{
		BookingGroup(userID),
		MessageGroup(userID),
		NotificationGroup(userID),
		GeneralGroup(userID),
	}
}
