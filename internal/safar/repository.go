package safar

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, bookingID *uuid.UUID, content string) (*Message, error) {
	query := `
		WITH inserted AS (
			INSERT INTO messages (sender_id, receiver_id, booking_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING id, sender_id, receiver_id, booking_id, content, is_read, created_at
		)
		SELECT i.id, i.sender_id, su.username, i.receiver_id, ru.username,
		       i.booking_id, i.content, i.is_read, i.created_at
		FROM inserted i
		JOIN users su ON i.sender_id = su.id
		JOIN users ru ON i.receiver_id = ru.id
	`
	m := &Message{}
	err := r.db.QueryRowContext(ctx, query, senderID, receiverID, bookingID, content).Scan(
		&m.ID, &m.SenderID, &m.SenderUsername, &m.ReceiverID, &m.ReceiverUsername,
		&m.BookingID, &m.Content, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) CreateNotification(ctx context.Context, userID uuid.UUID, notifType, message string) (*Notification, error) {
	query := `
		INSERT INTO notifications (user_id, type, message)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, type, message, is_read, created_at
	`
	n := &Notification{}
	err := r.db.QueryRowContext(ctx, query, userID, notifType, message).Scan(
		&n.ID, &n.UserID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *Repository) CreateBooking(ctx context.Context, b *Booking) (*Booking, error) {
	query := `
		INSERT INTO bookings (user_id, item_type, item_name, status, total_price, currency, check_in, check_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, booking_date, created_at
	`
	err := r.db.QueryRowContext(ctx, query, b.UserID, b.ItemType, b.ItemName, BookingPending,
		b.TotalPrice, b.Currency, b.CheckIn, b.CheckOut).Scan(&b.ID, &b.BookingDate, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = BookingPending
	return b, nil
}

// UpdateBookingStatus transitions a booking owned by userID and returns the
// updated row. ErrNotFound covers both a missing booking and one owned by
// someone else.
func (r *Repository) UpdateBookingStatus(ctx context.Context, bookingID, userID uuid.UUID, status string) (*Booking, error) {
	query := `
		UPDATE bookings SET status = $3
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, item_type, item_name, status, total_price, currency,
		          booking_date, check_in, check_out, created_at
	`
	b := &Booking{}
	err := r.db.QueryRowContext(ctx, query, bookingID, userID, status).Scan(
		&b.ID, &b.UserID, &b.ItemType, &b.ItemName, &b.Status, &b.TotalPrice,
		&b.Currency, &b.BookingDate, &b.CheckIn, &b.CheckOut, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}
