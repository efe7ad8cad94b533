package labels

import (
	"context"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// CustomsSyncHandler re-syncs customs declarations whenever the
// shipment-id→items mapping changes, so every declaration keeps exactly
// one line per current shipment item
type CustomsSyncHandler struct {
	customs *shipping.CustomsEngine
	logger  *zap.Logger
}

// NewCustomsSyncHandler creates a CustomsSyncHandler
func NewCustomsSyncHandler(customs *shipping.CustomsEngine, logger *zap.Logger) *CustomsSyncHandler {
	return &CustomsSyncHandler{customs: customs, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *CustomsSyncHandler) EventTypes() []string {
	return []string{shipping.EventShipmentsChanged}
}

// Handle processes a shipments changed event
func (h *CustomsSyncHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.customs.SyncItemsFromShipments()
	h.logger.Debug("customs declarations re-synced",
		zap.String("event_id", event.EventID().String()),
	)
	return nil
}

// AutoPollHandler starts the status poll for a label that enters
// PURCHASE_IN_PROGRESS. Labels already being tracked or carrying a
// staged workflow error are left alone.
type AutoPollHandler struct {
	ctx    context.Context
	engine *LabelPurchaseEngine
	logger *zap.Logger
}

// NewAutoPollHandler creates an AutoPollHandler. The given context
// bounds every poll loop the handler starts.
func NewAutoPollHandler(ctx context.Context, engine *LabelPurchaseEngine, logger *zap.Logger) *AutoPollHandler {
	return &AutoPollHandler{ctx: ctx, engine: engine, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *AutoPollHandler) EventTypes() []string {
	return []string{shipping.EventLabelChanged}
}

// Handle processes a label changed event
func (h *AutoPollHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	changed, ok := event.(*shipping.LabelChangedEvent)
	if !ok {
		return nil
	}
	if changed.Status != shipping.PurchaseInProgress {
		return nil
	}
	if h.engine.IsUpdating(changed.ShipmentID) || h.engine.StatusError(changed.ShipmentID) != nil {
		return nil
	}

	// The bus dispatches synchronously; the poll loop must not block it
	go func() {
		if err := h.engine.UpdatePurchaseStatus(h.ctx, changed.ShipmentID); err != nil {
			h.logger.Warn("label status tracking settled with error",
				zap.String("shipment_id", string(changed.ShipmentID)),
				zap.Int64("label_id", changed.LabelID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

var (
	_ shared.EventHandler = (*CustomsSyncHandler)(nil)
	_ shared.EventHandler = (*AutoPollHandler)(nil)
)
