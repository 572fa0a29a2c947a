package shared

import "context"

// EventHandler consumes billing events off the bus. EventTypes declares the
// subscription; an empty slice subscribes the handler to everything, which
// the audit trail consumer relies on.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher is the dispatch side of the bus.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber manages handler registrations.
type EventSubscriber interface {
	// Subscribe registers a handler. With no explicit types the handler's
	// own EventTypes declaration decides what it receives.
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// EventBus is what the outbox processor publishes into and what consumers
// subscribe on.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboxEventSaver persists the events an aggregate command returned into
// the outbox, inside the repository's open transaction. txProvider is opaque
// here so the domain layer never imports gorm; the infrastructure side
// asserts it back to a *gorm.DB.
type OutboxEventSaver interface {
	SaveEvents(ctx context.Context, txProvider interface{}, events ...DomainEvent) error
}
