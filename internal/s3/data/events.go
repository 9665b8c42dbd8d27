package data

import (
	"context"

	"github.com/lk2023060901/nanami/internal/s3/biz"
)

// RoutingKeyObjectCreated is the routing key of object-created events
const RoutingKeyObjectCreated = "object.created"

// jsonPublisher is satisfied by *mq.Publisher
type jsonPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// EventPublisher publishes object events to the message broker
type EventPublisher struct {
	pub jsonPublisher
}

// NewEventPublisher creates an event publisher
func NewEventPublisher(pub jsonPublisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

func (p *EventPublisher) PublishObjectCreated(ctx context.Context, ev *biz.ObjectEvent) error {
	return p.pub.PublishJSON(ctx, RoutingKeyObjectCreated, ev)
}
