package shipping

import "github.com/shiplabel/backend/internal/domain/shared"

// Event types published by the shipping domain
const (
	EventShipmentsChanged = "shipping.shipments_changed"
	EventLabelChanged     = "shipping.label_changed"
)

// ShipmentsChangedEvent is published whenever the shipment-id→items
// mapping is replaced, including order splits and id remaps
type ShipmentsChangedEvent struct {
	shared.BaseDomainEvent
	ShipmentIDs []ShipmentID  `json:"shipment_ids"`
	Remap       ShipmentIDMap `json:"remap,omitempty"`
}

// NewShipmentsChangedEvent creates a ShipmentsChangedEvent for an order
func NewShipmentsChangedEvent(orderID string, shipmentIDs []ShipmentID, remap ShipmentIDMap) *ShipmentsChangedEvent {
	return &ShipmentsChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventShipmentsChanged, "order", orderID),
		ShipmentIDs:     shipmentIDs,
		Remap:           remap,
	}
}

// LabelChangedEvent is published whenever a label record is created or
// its status changes in the purchase store
type LabelChangedEvent struct {
	shared.BaseDomainEvent
	ShipmentID ShipmentID  `json:"shipment_id"`
	LabelID    int64       `json:"label_id"`
	Status     LabelStatus `json:"status"`
}

// NewLabelChangedEvent creates a LabelChangedEvent for a shipment
func NewLabelChangedEvent(shipmentID ShipmentID, labelID int64, status LabelStatus) *LabelChangedEvent {
	return &LabelChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventLabelChanged, "shipment", string(shipmentID)),
		ShipmentID:      shipmentID,
		LabelID:         labelID,
		Status:          status,
	}
}
