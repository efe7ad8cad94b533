package shipping

import "context"

// PurchaseStore is the persisted label-purchase store the shipping
// domain collaborates with. Readers must treat returned values as
// immutable snapshots; every update replaces a record, never patches it
// in place, so equality-based change detection stays correct.
type PurchaseStore interface {
	// PurchasedLabel returns the most recently purchased, non-refunded
	// label for the shipment, or nil when none exists
	PurchasedLabel(shipmentID ShipmentID) *Label
	// RefundedLabel returns the refunded label for the shipment, or nil
	RefundedLabel(shipmentID ShipmentID) *Label
	// PurchasedLabels returns all labels keyed by shipment id
	PurchasedLabels() map[ShipmentID]*Label
	// LabelOrigin returns the origin address frozen at purchase time
	LabelOrigin(shipmentID ShipmentID) *Address
	// LabelDestination returns the destination frozen at purchase time
	LabelDestination(shipmentID ShipmentID) *Address
	// CustomsInformation returns the customs declaration stored for the
	// shipment, or nil when none has been saved
	CustomsInformation(shipmentID ShipmentID) *CustomsState

	// PurchaseLabel submits a label purchase. The request is keyed by
	// shipment id; rates, hazmat and customs are shipment-id-indexed maps
	// even though a single shipment is submitted per call.
	PurchaseLabel(ctx context.Context, orderID int64, packages []RequestPackage, shipmentID ShipmentID,
		rates map[string]SelectedRate, hazmat map[string]HazmatState, origin Address,
		customs map[string]*CustomsState, meta PurchaseMeta) error
	// RefundLabel requests a refund for a purchased label
	RefundLabel(ctx context.Context, orderID, labelID int64) (*Refund, error)
	// FetchLabelStatus refreshes the stored label from the carrier
	FetchLabelStatus(ctx context.Context, orderID, labelID int64) error

	// StageLabelShipmentIDs re-keys stored labels when shipments are
	// renumbered so label lookups by id stay consistent across the rename
	StageLabelShipmentIDs(mapping ShipmentIDMap)

	// SavedPackages returns the merchant's custom package templates
	SavedPackages() []CustomPackage
	// PredefinedPackages returns carrier package templates
	PredefinedPackages(carrierID string) []PredefinedPackage
	// DeleteCustomPackage removes a custom package template
	DeleteCustomPackage(ctx context.Context, id string) error
	// UpdateFavoritePackages flags package templates as favorites
	UpdateFavoritePackages(ctx context.Context, favorites map[string]bool) error
}

// AddressBook exposes the selectable origin addresses and the order's
// destination address
type AddressBook interface {
	// OriginAddresses returns the selectable origin addresses; the first
	// entry is the platform default
	OriginAddresses() []Address
	// OrderDestination returns the order's shipping destination
	OrderDestination() *Address
}
