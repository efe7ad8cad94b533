package shipping

import (
	"context"

	"github.com/shiplabel/backend/internal/domain/shared"
)

// stubPublisher records published events
type stubPublisher struct {
	events []shared.DomainEvent
}

func (p *stubPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.events = append(p.events, events...)
	return nil
}

// stubAddressBook serves a fixed origin list and order destination
type stubAddressBook struct {
	origins     []Address
	destination *Address
}

func (b *stubAddressBook) OriginAddresses() []Address {
	return b.origins
}

func (b *stubAddressBook) OrderDestination() *Address {
	return b.destination
}

// stubPurchaseStore is a stateful in-memory PurchaseStore
type stubPurchaseStore struct {
	labels       map[ShipmentID]*Label
	refunded     map[ShipmentID]*Label
	origins      map[ShipmentID]*Address
	destinations map[ShipmentID]*Address
	customs      map[ShipmentID]*CustomsState

	stagedMappings []ShipmentIDMap

	purchaseErr  error
	purchaseReqs int
	refundErr    error
	refundCalls  int
	fetchCalls   int
	fetchFn      func() error
}

func newStubPurchaseStore() *stubPurchaseStore {
	return &stubPurchaseStore{
		labels:       map[ShipmentID]*Label{},
		refunded:     map[ShipmentID]*Label{},
		origins:      map[ShipmentID]*Address{},
		destinations: map[ShipmentID]*Address{},
		customs:      map[ShipmentID]*CustomsState{},
	}
}

func (s *stubPurchaseStore) PurchasedLabel(shipmentID ShipmentID) *Label {
	label := s.labels[shipmentID]
	if label != nil && label.Refund != nil {
		return nil
	}
	return label
}

func (s *stubPurchaseStore) RefundedLabel(shipmentID ShipmentID) *Label {
	return s.refunded[shipmentID]
}

func (s *stubPurchaseStore) PurchasedLabels() map[ShipmentID]*Label {
	out := make(map[ShipmentID]*Label, len(s.labels))
	for id, label := range s.labels {
		out[id] = label
	}
	return out
}

func (s *stubPurchaseStore) LabelOrigin(shipmentID ShipmentID) *Address {
	return s.origins[shipmentID]
}

func (s *stubPurchaseStore) LabelDestination(shipmentID ShipmentID) *Address {
	return s.destinations[shipmentID]
}

func (s *stubPurchaseStore) CustomsInformation(shipmentID ShipmentID) *CustomsState {
	return s.customs[shipmentID]
}

func (s *stubPurchaseStore) PurchaseLabel(_ context.Context, _ int64, packages []RequestPackage,
	shipmentID ShipmentID, _ map[string]SelectedRate, _ map[string]HazmatState, origin Address,
	_ map[string]*CustomsState, _ PurchaseMeta) error {
	s.purchaseReqs++
	if s.purchaseErr != nil {
		return s.purchaseErr
	}
	products := []int64{}
	if len(packages) > 0 {
		products = packages[0].Products
	}
	s.labels[shipmentID] = &Label{
		LabelID:    int64(1000 + s.purchaseReqs),
		Status:     PurchaseInProgress,
		ProductIDs: products,
	}
	s.origins[shipmentID] = &origin
	return nil
}

func (s *stubPurchaseStore) RefundLabel(_ context.Context, _, labelID int64) (*Refund, error) {
	s.refundCalls++
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	refund := &Refund{RefundID: "r-1", Status: "pending"}
	for id, label := range s.labels {
		if label.LabelID == labelID {
			annotated := *label
			annotated.Refund = refund
			s.labels[id] = &annotated
			s.refunded[id] = &annotated
		}
	}
	return refund, nil
}

func (s *stubPurchaseStore) FetchLabelStatus(_ context.Context, _, _ int64) error {
	s.fetchCalls++
	if s.fetchFn != nil {
		return s.fetchFn()
	}
	return nil
}

func (s *stubPurchaseStore) StageLabelShipmentIDs(mapping ShipmentIDMap) {
	s.stagedMappings = append(s.stagedMappings, mapping)
	relabeled := map[ShipmentID]*Label{}
	for id, label := range s.labels {
		if to, ok := mapping[id]; ok {
			relabeled[to] = label
		} else {
			relabeled[id] = label
		}
	}
	s.labels = relabeled
}

func (s *stubPurchaseStore) SavedPackages() []CustomPackage {
	return nil
}

func (s *stubPurchaseStore) PredefinedPackages(string) []PredefinedPackage {
	return nil
}

func (s *stubPurchaseStore) DeleteCustomPackage(context.Context, string) error {
	return nil
}

func (s *stubPurchaseStore) UpdateFavoritePackages(context.Context, map[string]bool) error {
	return nil
}

var _ PurchaseStore = (*stubPurchaseStore)(nil)
var _ AddressBook = (*stubAddressBook)(nil)
