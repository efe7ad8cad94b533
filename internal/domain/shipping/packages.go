package shipping

import (
	"context"
	"sync"
)

// PackageStore tracks the per-shipment package selection and fronts the
// persisted saved/predefined package templates
type PackageStore struct {
	mu        sync.RWMutex
	shipments *ShipmentStore
	store     PurchaseStore
	selected  map[ShipmentID]*PackageSpec
}

// NewPackageStore creates a PackageStore over the persisted templates
func NewPackageStore(shipments *ShipmentStore, store PurchaseStore) *PackageStore {
	return &PackageStore{
		shipments: shipments,
		store:     store,
		selected:  map[ShipmentID]*PackageSpec{},
	}
}

// PackageForRequest returns the package selection a purchase request is
// built from, or nil when no package has been selected for the current
// shipment. Nil means "not ready to purchase", not an error.
func (s *PackageStore) PackageForRequest() *PackageSpec {
	shipmentID := s.shipments.CurrentShipmentID()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected[shipmentID]
}

// SelectPackage records the package selection for the current shipment
func (s *PackageStore) SelectPackage(spec PackageSpec) {
	shipmentID := s.shipments.CurrentShipmentID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected[shipmentID] = &spec
}

// SavedPackages returns the merchant's custom package templates
func (s *PackageStore) SavedPackages() []CustomPackage {
	return s.store.SavedPackages()
}

// PredefinedPackages returns the carrier's package templates
func (s *PackageStore) PredefinedPackages(carrierID string) []PredefinedPackage {
	return s.store.PredefinedPackages(carrierID)
}

// DeleteCustomPackage removes a custom package template
func (s *PackageStore) DeleteCustomPackage(ctx context.Context, id string) error {
	return s.store.DeleteCustomPackage(ctx, id)
}

// UpdateFavoritePackages flags package templates as favorites
func (s *PackageStore) UpdateFavoritePackages(ctx context.Context, favorites map[string]bool) error {
	return s.store.UpdateFavoritePackages(ctx, favorites)
}
