package event

import (
	"context"
	"errors"
	"testing"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingHandler counts the events it receives
type recordingHandler struct {
	types  []string
	events []shared.DomainEvent
	err    error
	panics bool
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	if h.panics {
		panic("handler exploded")
	}
	h.events = append(h.events, event)
	return h.err
}

func TestInMemoryEventBusPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches synchronously to interested handlers", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		shipmentsHandler := &recordingHandler{types: []string{shipping.EventShipmentsChanged}}
		labelsHandler := &recordingHandler{types: []string{shipping.EventLabelChanged}}
		bus.Subscribe(shipmentsHandler)
		bus.Subscribe(labelsHandler)

		event := shipping.NewShipmentsChangedEvent("7", []shipping.ShipmentID{"0"}, nil)
		require.NoError(t, bus.Publish(ctx, event))

		require.Len(t, shipmentsHandler.events, 1)
		assert.Equal(t, shipping.EventShipmentsChanged, shipmentsHandler.events[0].EventType())
		assert.Empty(t, labelsHandler.events)
	})

	t.Run("wildcard subscription receives everything", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		all := &recordingHandler{}
		bus.Subscribe(all)

		require.NoError(t, bus.Publish(ctx,
			shipping.NewShipmentsChangedEvent("7", []shipping.ShipmentID{"0"}, nil),
			shipping.NewLabelChangedEvent("0", 1001, shipping.PurchaseInProgress),
		))
		assert.Len(t, all.events, 2)
	})

	t.Run("a failing handler does not stop the others", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		failing := &recordingHandler{types: []string{shipping.EventLabelChanged}, err: errors.New("boom")}
		healthy := &recordingHandler{types: []string{shipping.EventLabelChanged}}
		bus.Subscribe(failing)
		bus.Subscribe(healthy)

		require.NoError(t, bus.Publish(ctx, shipping.NewLabelChangedEvent("0", 1001, shipping.Purchased)))
		assert.Len(t, healthy.events, 1)
	})

	t.Run("a panicking handler is contained", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		panicking := &recordingHandler{types: []string{shipping.EventLabelChanged}, panics: true}
		healthy := &recordingHandler{types: []string{shipping.EventLabelChanged}}
		bus.Subscribe(panicking)
		bus.Subscribe(healthy)

		require.NoError(t, bus.Publish(ctx, shipping.NewLabelChangedEvent("0", 1001, shipping.Purchased)))
		assert.Len(t, healthy.events, 1)
	})

	t.Run("unsubscribed handlers stop receiving", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		handler := &recordingHandler{types: []string{shipping.EventShipmentsChanged}}
		bus.Subscribe(handler)
		bus.Unsubscribe(handler)

		require.NoError(t, bus.Publish(ctx, shipping.NewShipmentsChangedEvent("7", nil, nil)))
		assert.Empty(t, handler.events)
	})
}
