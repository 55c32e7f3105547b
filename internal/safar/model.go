package safar

import (
	"time"

	"github.com/google/uuid"
)

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Bookable item types.
const (
	ItemPlace      = "place"
	ItemExperience = "experience"
	ItemFlight     = "flight"
	ItemBox        = "box"
)

type Booking struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	ItemType    string     `json:"item_type"`
	ItemName    string     `json:"item_name"`
	Status      string     `json:"status"`
	TotalPrice  float64    `json:"total_price"`
	Currency    string     `json:"currency"`
	BookingDate time.Time  `json:"booking_date"`
	CheckIn     *time.Time `json:"check_in,omitempty"`
	CheckOut    *time.Time `json:"check_out,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Message struct {
	ID               uuid.UUID  `json:"id"`
	SenderID         uuid.UUID  `json:"sender_id"`
	SenderUsername   string     `json:"sender_username"`
	ReceiverID       uuid.UUID  `json:"receiver_id"`
	ReceiverUsername string     `json:"receiver_username"`
	BookingID        *uuid.UUID `json:"booking_id,omitempty"`
	Content          string     `json:"content"`
	IsRead           bool       `json:"is_read"`
	CreatedAt        time.Time  `json:"created_at"`
}

type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
