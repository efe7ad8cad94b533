package shipping

import "sync"

// HazmatStore holds the per-shipment hazardous-materials declarations
type HazmatStore struct {
	mu        sync.RWMutex
	shipments *ShipmentStore
	states    map[ShipmentID]HazmatState
}

// NewHazmatStore creates a HazmatStore bound to the shipment store
func NewHazmatStore(shipments *ShipmentStore) *HazmatStore {
	return &HazmatStore{
		shipments: shipments,
		states:    map[ShipmentID]HazmatState{},
	}
}

// State returns the hazmat declaration for a shipment, defaulting to
// not-hazmat. An empty id selects the current shipment.
func (s *HazmatStore) State(shipmentID ShipmentID) HazmatState {
	if shipmentID == "" {
		shipmentID = s.shipments.CurrentShipmentID()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[shipmentID]
}

// SetState replaces the hazmat declaration for the current shipment
func (s *HazmatStore) SetState(state HazmatState) {
	shipmentID := s.shipments.CurrentShipmentID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[shipmentID] = state
}
