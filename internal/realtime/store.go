package realtime

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/Mohamed-AlHabob/Safar/internal/safar"
)

// Snapshot bounds and the pagination cap for get_more_messages.
const (
	maxSnapshotBookings      = 10
	maxSnapshotMessages      = 20
	maxSnapshotNotifications = 50
	defaultMessageLimit      = 20
	maxMessageLimit          = 50
)

// Store is the read/mutation contract the realtime layer needs from the
// data store. Mutations are scoped to the calling user so a session can
// never flip rows it does not own.
type Store interface {
	RecentBookings(ctx context.Context, userID uuid.UUID) ([]safar.Booking, error)
	RecentMessages(ctx context.Context, userID uuid.UUID, offset, limit int) ([]safar.Message, error)
	UnreadNotifications(ctx context.Context, userID uuid.UUID) ([]safar.Notification, error)

	MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) (bool, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID uuid.UUID) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) RecentBookings(ctx context.Context, userID uuid.UUID) ([]safar.Booking, error) {
	query := `
		SELECT id, user_id, item_type, item_name, status, total_price, currency,
		       booking_date, check_in, check_out, created_at
		FROM bookings
		WHERE user_id = $1
		ORDER BY booking_date DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, maxSnapshotBookings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []safar.Booking{}
	for rows.Next() {
		var b safar.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.ItemType, &b.ItemName, &b.Status,
			&b.TotalPrice, &b.Currency, &b.BookingDate, &b.CheckIn, &b.CheckOut, &b.CreatedAt); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (s *SQLStore) RecentMessages(ctx context.Context, userID uuid.UUID, offset, limit int) ([]safar.Message, error) {
	query := `
		SELECT m.id, m.sender_id, su.username, m.receiver_id, ru.username,
		       m.booking_id, m.content, m.is_read, m.created_at
		FROM messages m
		JOIN users su ON m.sender_id = su.id
		JOIN users ru ON m.receiver_id = ru.id
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.created_at DESC
		OFFSET $2 LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []safar.Message{}
	for rows.Next() {
		var m safar.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderUsername, &m.ReceiverID, &m.ReceiverUsername,
			&m.BookingID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) UnreadNotifications(ctx context.Context, userID uuid.UUID) ([]safar.Notification, error) {
	query := `
		SELECT id, user_id, type, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1 AND NOT is_read
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, maxSnapshotNotifications)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []safar.Notification{}
	for rows.Next() {
		var n safar.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *SQLStore) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	query := `
		UPDATE messages SET is_read = TRUE
		WHERE id = $1 AND receiver_id = $2 AND NOT is_read
	`
	res, err := s.db.ExecContext(ctx, query, messageID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) MarkNotificationRead(ctx context.Context, notificationID, userID uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND user_id = $2 AND NOT is_read
	`
	res, err := s.db.ExecContext(ctx, query, notificationID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND NOT is_read
	`
	res, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
