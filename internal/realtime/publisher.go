package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher is the relay contract exposed to the rest of the system: any
// code path that mutates a booking, message or notification pushes the
// change here. Every entry point is fire-and-forget; failures are logged
// and never reach the caller.
type Publisher struct {
	registry Registry
	logger   *zap.Logger
}

func NewPublisher(registry Registry, logger *zap.Logger) *Publisher {
	return &Publisher{registry: registry, logger: logger}
}

func (p *Publisher) BookingUpdate(userID uuid.UUID, data any) {
	p.relay(BookingGroup(userID), Event{Type: EventBookingUpdate, Payload: data})
}

func (p *Publisher) NewMessage(userID uuid.UUID, data any) {
	p.relay(MessageGroup(userID), Event{Type: EventNewMessage, Payload: data})
}

func (p *Publisher) NewNotification(userID uuid.UUID, data any) {
	p.relay(NotificationGroup(userID), Event{Type: EventNewNotification, Payload: data})
}

func (p *Publisher) relay(group string, event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.registry.Publish(ctx, group, event); err != nil {
			p.logger.Error("relay publish failed",
				zap.String("group", group), zap.String("type", event.Type), zap.Error(err))
		}
	}()
}
