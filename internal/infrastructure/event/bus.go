package event

import (
	"context"
	"fmt"

	"github.com/shiplabel/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryEventBus implements shared.EventBus with synchronous
// in-process dispatch. The label workflow depends on that ordering: the
// customs re-sync subscribed to shipment changes must have run before
// SetShipments returns, and the auto-poll handler decides on the label
// state as it was when the change was published.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
}

// NewInMemoryEventBus creates an empty bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		registry: NewHandlerRegistry(),
		logger:   logger,
	}
}

// Publish delivers each event to every interested handler in turn. A
// handler failure is logged and never stops delivery to the rest: a
// broken auto-poll must not block the customs re-sync, or vice versa.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, event := range events {
		for _, handler := range b.registry.GetHandlers(event.EventType()) {
			if err := b.dispatch(ctx, handler, event); err != nil {
				b.logger.Error("event handler failed",
					zap.String("event_type", event.EventType()),
					zap.String("event_id", event.EventID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Subscribe registers a handler, for the given event types or for the
// handler's own declared types when none are given
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
}

// Unsubscribe removes a handler from all event types
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start implements shared.EventBus; a synchronous bus has nothing to run
func (b *InMemoryEventBus) Start(context.Context) error {
	return nil
}

// Stop implements shared.EventBus
func (b *InMemoryEventBus) Stop(context.Context) error {
	return nil
}

// dispatch invokes one handler, converting a panic into an error so one
// misbehaving subscriber cannot take down the publishing request
func (b *InMemoryEventBus) dispatch(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
