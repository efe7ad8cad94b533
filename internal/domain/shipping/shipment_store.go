package shipping

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ShipmentStore owns the normalized shipment-id→items mapping for one
// order, the per-shipment origin overrides, per-shipment item selections
// and the current-shipment cursor. It is the root of truth for shipment
// identity: renumbering after a purchase goes through here so the label
// store stays consistent with the rename.
type ShipmentStore struct {
	mu      sync.RWMutex
	orderID int64

	shipments  map[ShipmentID][]ShipmentItem
	selections map[ShipmentID][]ShipmentItem
	origins    map[ShipmentID]*Address
	current    ShipmentID

	stagedRemap ShipmentIDMap

	store     PurchaseStore
	addresses AddressBook
	bus       shared.EventPublisher
	logger    *zap.Logger
}

// NewShipmentStore creates a ShipmentStore seeded with the order's
// shipments. The default shipment's origin starts as the first
// selectable origin address.
func NewShipmentStore(orderID int64, shipments map[ShipmentID][]ShipmentItem,
	store PurchaseStore, addresses AddressBook, bus shared.EventPublisher, logger *zap.Logger) *ShipmentStore {
	if shipments == nil {
		shipments = map[ShipmentID][]ShipmentItem{}
	}
	origins := map[ShipmentID]*Address{}
	if selectable := addresses.OriginAddresses(); len(selectable) > 0 {
		first := selectable[0]
		origins[DefaultShipmentID] = &first
	}
	return &ShipmentStore{
		orderID:    orderID,
		shipments:  shipments,
		selections: map[ShipmentID][]ShipmentItem{DefaultShipmentID: {}},
		origins:    origins,
		current:    DefaultShipmentID,
		store:      store,
		addresses:  addresses,
		bus:        bus,
		logger:     logger,
	}
}

// OrderID returns the order the shipments belong to
func (s *ShipmentStore) OrderID() int64 {
	return s.orderID
}

// CurrentShipmentID returns the current-shipment cursor
func (s *ShipmentStore) CurrentShipmentID() ShipmentID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrentShipmentID moves the current-shipment cursor
func (s *ShipmentStore) SetCurrentShipmentID(id ShipmentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
}

// resolve maps the empty shipment id to the current cursor
func (s *ShipmentStore) resolve(id ShipmentID) ShipmentID {
	if id == "" {
		return s.current
	}
	return id
}

// Items returns the ordered item list for a shipment, or nil when the
// shipment id is unknown. Nil signals "not eligible for customs or
// purchase" and must short-circuit dependents, never panic. An empty id
// selects the current shipment.
func (s *ShipmentStore) Items(shipmentID ShipmentID) []ShipmentItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.shipments[s.resolve(shipmentID)]
	if !ok {
		return nil
	}
	return items
}

// Shipments returns a copy of the shipment-id→items mapping
func (s *ShipmentStore) Shipments() map[ShipmentID][]ShipmentItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ShipmentID][]ShipmentItem, len(s.shipments))
	for id, items := range s.shipments {
		out[id] = items
	}
	return out
}

// ShipmentIDs returns the shipment ids in stable (numeric, then
// lexicographic) order
func (s *ShipmentStore) ShipmentIDs() []ShipmentID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]ShipmentID, 0, len(s.shipments))
	for id := range s.shipments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Weight returns the shipment's total weight: the sum of weight×quantity
// over its items. Missing or malformed weights count as zero; this never
// fails on bad numeric strings. An empty id selects the current shipment.
func (s *ShipmentStore) Weight(shipmentID ShipmentID) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, item := range s.shipments[s.resolve(shipmentID)] {
		weight, err := decimal.NewFromString(item.Weight)
		if err != nil {
			continue
		}
		total = total.Add(weight.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	value, _ := total.Float64()
	return value
}

// SetShipments replaces the full shipment mapping. When remap is
// supplied (old id→new id) it is staged into the label store so label
// lookups stay consistent across the rename, and the inverse mapping is
// kept so the rename can be undone with RevertShipmentIDRemap.
func (s *ShipmentStore) SetShipments(ctx context.Context, shipments map[ShipmentID][]ShipmentItem, remap ShipmentIDMap) {
	s.mu.Lock()
	if remap != nil {
		s.stagedRemap = remap
		s.store.StageLabelShipmentIDs(remap)
	}
	s.shipments = shipments
	ids := make([]ShipmentID, 0, len(shipments))
	for id := range shipments {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	event := NewShipmentsChangedEvent(strconv.FormatInt(s.orderID, 10), ids, remap)
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish shipments changed event",
			zap.Int64("order_id", s.orderID),
			zap.Error(err),
		)
	}
}

// RevertShipmentIDRemap undoes a staged shipment-id rename by applying
// the inverse mapping to the label store, e.g. after a purchase failed
// following a tentative remap
func (s *ShipmentStore) RevertShipmentIDRemap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stagedRemap) == 0 {
		return
	}
	s.store.StageLabelShipmentIDs(s.stagedRemap.Invert())
	s.stagedRemap = ShipmentIDMap{}
}

// StagedShipmentIDRemap returns the currently staged id rename
func (s *ShipmentStore) StagedShipmentIDRemap() ShipmentIDMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(ShipmentIDMap, len(s.stagedRemap))
	for from, to := range s.stagedRemap {
		out[from] = to
	}
	return out
}

// Selections returns the selected item subset for a shipment
func (s *ShipmentStore) Selections(shipmentID ShipmentID) []ShipmentItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selections[s.resolve(shipmentID)]
}

// SetSelection replaces the selected item subset for a shipment
func (s *ShipmentStore) SetSelection(shipmentID ShipmentID, items []ShipmentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[s.resolve(shipmentID)] = items
}

// ResetSelections clears the selections for the given shipment ids
func (s *ShipmentStore) ResetSelections(shipmentIDs []ShipmentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	selections := make(map[ShipmentID][]ShipmentItem, len(shipmentIDs))
	for _, id := range shipmentIDs {
		selections[id] = []ShipmentItem{}
	}
	s.selections = selections
}

// OriginOverride returns the live origin override for a shipment, or nil
func (s *ShipmentStore) OriginOverride(shipmentID ShipmentID) *Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origins[s.resolve(shipmentID)]
}

// SetOriginOverride records the live origin override for the current
// shipment
func (s *ShipmentStore) SetOriginOverride(address Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origins[s.current] = &address
}
