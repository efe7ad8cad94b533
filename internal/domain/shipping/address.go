package shipping

// AddressResolver resolves the origin and destination addresses for a
// shipment. Values are computed on demand from the shipment store, the
// address book and the purchased-label snapshots, so a change in any of
// them is reflected on the next call; there is no cached state to
// invalidate.
type AddressResolver struct {
	shipments *ShipmentStore
	store     PurchaseStore
	addresses AddressBook
}

// NewAddressResolver creates an AddressResolver over the given stores
func NewAddressResolver(shipments *ShipmentStore, store PurchaseStore, addresses AddressBook) *AddressResolver {
	return &AddressResolver{
		shipments: shipments,
		store:     store,
		addresses: addresses,
	}
}

// findOriginByID resolves an origin id against the selectable origin
// addresses, returning nil when the id is unknown
func (r *AddressResolver) findOriginByID(originID string) *Address {
	for _, address := range r.addresses.OriginAddresses() {
		if address.ID == originID {
			found := address
			return &found
		}
	}
	return nil
}

// firstSelectableOrigin returns the platform default origin address
func (r *AddressResolver) firstSelectableOrigin() Address {
	if selectable := r.addresses.OriginAddresses(); len(selectable) > 0 {
		return selectable[0]
	}
	return Address{}
}

// Origin resolves the ship-from address for a shipment. A purchased,
// non-refunded label whose frozen purchase-time origin id still resolves
// to a known origin wins; otherwise the live per-shipment override; as a
// last resort the first selectable origin. An empty id selects the
// current shipment.
func (r *AddressResolver) Origin(shipmentID ShipmentID) Address {
	if shipmentID == "" {
		shipmentID = r.shipments.CurrentShipmentID()
	}
	if label := r.store.PurchasedLabel(shipmentID); label != nil {
		if frozen := r.store.LabelOrigin(shipmentID); frozen != nil {
			if found := r.findOriginByID(frozen.ID); found != nil {
				return *found
			}
		}
	}
	if override := r.shipments.OriginOverride(shipmentID); override != nil {
		return *override
	}
	return r.firstSelectableOrigin()
}

// SetOrigin updates the live origin override for the current shipment.
// It is a no-op when the id does not resolve to a known origin or when
// the resolved address equals the current override.
func (r *AddressResolver) SetOrigin(originID string) {
	origin := r.findOriginByID(originID)
	if origin == nil {
		return
	}
	current := r.shipments.OriginOverride("")
	if current != nil && *current == *origin {
		return
	}
	r.shipments.SetOriginOverride(*origin)
}

// Destination resolves the ship-to address for a shipment: the frozen
// purchase-time destination when a purchased, non-refunded label exists,
// else the order's destination. An empty id selects the current shipment.
func (r *AddressResolver) Destination(shipmentID ShipmentID) *Address {
	if shipmentID == "" {
		shipmentID = r.shipments.CurrentShipmentID()
	}
	if label := r.store.PurchasedLabel(shipmentID); label != nil {
		if frozen := r.store.LabelDestination(shipmentID); frozen != nil {
			return frozen
		}
	}
	return r.addresses.OrderDestination()
}

// PurchaseOrigin returns the ship-from address recorded at the time of
// purchase, which can differ from the current address carrying the same
// id. It is only available once the label has reached terminal PURCHASED
// status; nil while a purchase is in progress or errored.
func (r *AddressResolver) PurchaseOrigin(shipmentID ShipmentID) *Address {
	if shipmentID == "" {
		shipmentID = r.shipments.CurrentShipmentID()
	}
	label := r.store.PurchasedLabel(shipmentID)
	if label == nil || label.Status != Purchased {
		return nil
	}
	return r.store.LabelOrigin(shipmentID)
}
