package safar

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidStatus = errors.New("invalid booking status")

// DomainRepository is the persistence contract the producers write through.
// *Repository satisfies it.
type DomainRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, bookingID *uuid.UUID, content string) (*Message, error)
	CreateNotification(ctx context.Context, userID uuid.UUID, notifType, message string) (*Notification, error)
	CreateBooking(ctx context.Context, b *Booking) (*Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID, userID uuid.UUID, status string) (*Booking, error)
}

// EventPublisher is the realtime relay contract this package pushes domain
// changes through. Calls are fire-and-forget.
type EventPublisher interface {
	BookingUpdate(userID uuid.UUID, data any)
	NewMessage(userID uuid.UUID, data any)
	NewNotification(userID uuid.UUID, data any)
}

// ReadMarker covers the read-flag mutations shared with the websocket
// command path.
type ReadMarker interface {
	MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) (bool, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID uuid.UUID) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

// SnapshotInvalidator drops a user's cached initial-state snapshot.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

type Service struct {
	repo      DomainRepository
	marker    ReadMarker
	events    EventPublisher
	snapshots SnapshotInvalidator
	logger    *zap.Logger
}

func NewService(repo DomainRepository, marker ReadMarker, events EventPublisher,
	snapshots SnapshotInvalidator, logger *zap.Logger) *Service {

	return &Service{
		repo:      repo,
		marker:    marker,
		events:    events,
		snapshots: snapshots,
		logger:    logger,
	}
}

// SendMessage persists a message and relays it to the receiver's live
// session, if any.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID uuid.UUID, bookingID *uuid.UUID, content string) (*Message, error) {
	m, err := s.repo.CreateMessage(ctx, senderID, receiverID, bookingID, content)
	if err != nil {
		return nil, err
	}
	s.events.NewMessage(receiverID, m)
	return m, nil
}

func (s *Service) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	ok, err := s.marker.MarkMessageRead(ctx, messageID, userID)
	if err != nil || !ok {
		return ok, err
	}
	s.snapshots.Invalidate(ctx, userID)
	return true, nil
}

func (s *Service) CreateNotification(ctx context.Context, userID uuid.UUID, notifType, message string) (*Notification, error) {
	n, err := s.repo.CreateNotification(ctx, userID, notifType, message)
	if err != nil {
		return nil, err
	}
	s.events.NewNotification(userID, n)
	return n, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.marker.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.snapshots.Invalidate(ctx, userID)
	return count, nil
}

func (s *Service) CreateBooking(ctx context.Context, b *Booking) (*Booking, error) {
	b, err := s.repo.CreateBooking(ctx, b)
	if err != nil {
		return nil, err
	}
	s.events.BookingUpdate(b.UserID, b)
	return b, nil
}

// SetBookingStatus confirms or cancels a booking and relays the change.
func (s *Service) SetBookingStatus(ctx context.Context, bookingID, userID uuid.UUID, status string) (*Booking, error) {
	if status != BookingConfirmed && status != BookingCancelled {
		return nil, ErrInvalidStatus
	}
	b, err := s.repo.UpdateBookingStatus(ctx, bookingID, userID, status)
	if err != nil {
		return nil, err
	}
	s.events.BookingUpdate(b.UserID, b)
	return b, nil
}
