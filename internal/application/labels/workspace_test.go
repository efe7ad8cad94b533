package labels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/shiplabel/backend/internal/infrastructure/carrier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// nopBus satisfies shared.EventBus without dispatching anything
type nopBus struct{}

func (nopBus) Publish(context.Context, ...shared.DomainEvent) error { return nil }
func (nopBus) Subscribe(shared.EventHandler, ...string)             {}
func (nopBus) Unsubscribe(shared.EventHandler)                      {}
func (nopBus) Start(context.Context) error                          { return nil }
func (nopBus) Stop(context.Context) error                           { return nil }

// memCache is an in-memory RateCache that ignores TTLs
type memCache struct {
	mu          sync.Mutex
	entries     map[string][]shipping.Rate
	hits        int
	invalidated int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]shipping.Rate{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]shipping.Rate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rates, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return rates, ok
}

func (c *memCache) Set(_ context.Context, key string, rates []shipping.Rate, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = rates
	return nil
}

func (c *memCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
		c.invalidated++
	}
	return nil
}

// fakeCarrierAPI scripts the carrier calls the workflow makes directly
type fakeCarrierAPI struct {
	mu        sync.Mutex
	rates     []shipping.Rate
	ratesErr  error
	rateCalls int

	document    *shipping.PrintDocument
	printErr    error
	printedSize string
}

func (f *fakeCarrierAPI) GetRates(_ context.Context, _ shipping.Address, _ *shipping.Address, _ shipping.RequestPackage) ([]shipping.Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateCalls++
	if f.ratesErr != nil {
		return nil, f.ratesErr
	}
	return f.rates, nil
}

func (f *fakeCarrierAPI) PurchaseLabels(context.Context, carrier.PurchaseRequest) ([]shipping.Label, error) {
	return nil, nil
}

func (f *fakeCarrierAPI) GetLabelStatus(context.Context, int64, int64) (*shipping.Label, error) {
	return nil, nil
}

func (f *fakeCarrierAPI) RefundLabel(context.Context, int64, int64) (*shipping.Refund, error) {
	return nil, nil
}

func (f *fakeCarrierAPI) GetPrintDocument(_ context.Context, paperSize string, _ int64) (*shipping.PrintDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.printErr != nil {
		return nil, f.printErr
	}
	f.printedSize = paperSize
	return f.document, nil
}

var _ carrier.API = (*fakeCarrierAPI)(nil)

// fakeOrderStore is a stateful in-memory OrderStore
type fakeOrderStore struct {
	mu sync.Mutex

	shipments   map[shipping.ShipmentID][]shipping.ShipmentItem
	origins     []shipping.Address
	destination *shipping.Address
	meta        shipping.PurchaseMeta

	labels       map[shipping.ShipmentID]*shipping.Label
	refunded     map[shipping.ShipmentID]*shipping.Label
	frozenOrigin map[shipping.ShipmentID]*shipping.Address
	frozenDest   map[shipping.ShipmentID]*shipping.Address
	customs      map[shipping.ShipmentID]*shipping.CustomsState

	staged []shipping.ShipmentIDMap

	purchaseErr   error
	purchaseCalls int
	lastPackages  []shipping.RequestPackage
	purchaseFn    func(f *fakeOrderStore) error

	refundErr   error
	refundCalls int

	fetchCalls int
	fetchFn    func(f *fakeOrderStore) error
}

func newFakeOrderStore(shipments map[shipping.ShipmentID][]shipping.ShipmentItem,
	destination *shipping.Address) *fakeOrderStore {
	return &fakeOrderStore{
		shipments:    shipments,
		origins:      []shipping.Address{{ID: "origin-1", Country: "US", City: "Seattle"}},
		destination:  destination,
		labels:       map[shipping.ShipmentID]*shipping.Label{},
		refunded:     map[shipping.ShipmentID]*shipping.Label{},
		frozenOrigin: map[shipping.ShipmentID]*shipping.Address{},
		frozenDest:   map[shipping.ShipmentID]*shipping.Address{},
		customs:      map[shipping.ShipmentID]*shipping.CustomsState{},
	}
}

func (f *fakeOrderStore) Shipments() map[shipping.ShipmentID][]shipping.ShipmentItem {
	return f.shipments
}

func (f *fakeOrderStore) Meta() shipping.PurchaseMeta { return f.meta }

func (f *fakeOrderStore) OriginAddresses() []shipping.Address { return f.origins }

func (f *fakeOrderStore) OrderDestination() *shipping.Address { return f.destination }

func (f *fakeOrderStore) PurchasedLabel(shipmentID shipping.ShipmentID) *shipping.Label {
	f.mu.Lock()
	defer f.mu.Unlock()
	label := f.labels[shipmentID]
	if label != nil && label.Refund != nil {
		return nil
	}
	return label
}

func (f *fakeOrderStore) RefundedLabel(shipmentID shipping.ShipmentID) *shipping.Label {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunded[shipmentID]
}

func (f *fakeOrderStore) PurchasedLabels() map[shipping.ShipmentID]*shipping.Label {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[shipping.ShipmentID]*shipping.Label, len(f.labels))
	for id, label := range f.labels {
		out[id] = label
	}
	return out
}

func (f *fakeOrderStore) LabelOrigin(shipmentID shipping.ShipmentID) *shipping.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frozenOrigin[shipmentID]
}

func (f *fakeOrderStore) LabelDestination(shipmentID shipping.ShipmentID) *shipping.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frozenDest[shipmentID]
}

func (f *fakeOrderStore) CustomsInformation(shipmentID shipping.ShipmentID) *shipping.CustomsState {
	return f.customs[shipmentID]
}

func (f *fakeOrderStore) PurchaseLabel(_ context.Context, _ int64, packages []shipping.RequestPackage,
	shipmentID shipping.ShipmentID, _ map[string]shipping.SelectedRate, _ map[string]shipping.HazmatState,
	origin shipping.Address, _ map[string]*shipping.CustomsState, _ shipping.PurchaseMeta) error {
	f.mu.Lock()
	f.purchaseCalls++
	calls := f.purchaseCalls
	f.lastPackages = packages
	hook := f.purchaseFn
	err := f.purchaseErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	// the hook runs unlocked so it may block without wedging the store
	if hook != nil {
		if err := hook(f); err != nil {
			return err
		}
	}
	var products []int64
	if len(packages) > 0 {
		products = packages[0].Products
	}
	f.mu.Lock()
	f.labels[shipmentID] = &shipping.Label{
		LabelID:    int64(1000 + calls),
		Status:     shipping.PurchaseInProgress,
		ProductIDs: products,
	}
	f.frozenOrigin[shipmentID] = &origin
	f.mu.Unlock()
	return nil
}

func (f *fakeOrderStore) RefundLabel(_ context.Context, _, labelID int64) (*shipping.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	refund := &shipping.Refund{RefundID: "r-1", Status: "pending"}
	for id, label := range f.labels {
		if label.LabelID == labelID {
			annotated := *label
			annotated.Refund = refund
			f.labels[id] = &annotated
			f.refunded[id] = &annotated
		}
	}
	return refund, nil
}

func (f *fakeOrderStore) FetchLabelStatus(context.Context, int64, int64) error {
	f.mu.Lock()
	fn := f.fetchFn
	f.fetchCalls++
	f.mu.Unlock()
	if fn != nil {
		return fn(f)
	}
	return nil
}

// setLabelStatus flips a stored label to the given terminal state
func (f *fakeOrderStore) setLabelStatus(shipmentID shipping.ShipmentID, status shipping.LabelStatus, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if label, ok := f.labels[shipmentID]; ok {
		next := *label
		next.Status = status
		next.Error = errMsg
		f.labels[shipmentID] = &next
	}
}

func (f *fakeOrderStore) StageLabelShipmentIDs(mapping shipping.ShipmentIDMap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, mapping)
	relabeled := map[shipping.ShipmentID]*shipping.Label{}
	for id, label := range f.labels {
		if to, ok := mapping[id]; ok {
			relabeled[to] = label
		} else {
			relabeled[id] = label
		}
	}
	f.labels = relabeled
}

func (f *fakeOrderStore) SavedPackages() []shipping.CustomPackage { return nil }

func (f *fakeOrderStore) PredefinedPackages(string) []shipping.PredefinedPackage { return nil }

func (f *fakeOrderStore) DeleteCustomPackage(context.Context, string) error { return nil }

func (f *fakeOrderStore) UpdateFavoritePackages(context.Context, map[string]bool) error { return nil }

var _ OrderStore = (*fakeOrderStore)(nil)

func testConfig() Config {
	return Config{
		PollInterval: time.Millisecond,
		PaperSize:    shipping.PaperSizeLabel,
		RateTTL:      time.Minute,
	}
}

// newTestWorkspace wires a workspace over the fakes for order 7
func newTestWorkspace(t *testing.T, store *fakeOrderStore, api *fakeCarrierAPI) *Workspace {
	t.Helper()
	w := NewWorkspace(context.Background(), 7, store, api, newMemCache(), nopBus{}, testConfig(), zap.NewNop())
	t.Cleanup(w.Close)
	return w
}

func TestManagerWorkspace(t *testing.T) {
	store := newFakeOrderStore(map[shipping.ShipmentID][]shipping.ShipmentItem{"0": {}},
		&shipping.Address{ID: "dest-1", Country: "US"})
	opened := 0
	open := func(context.Context, int64) (OrderStore, error) {
		opened++
		return store, nil
	}
	manager := NewManager(open, &fakeCarrierAPI{}, newMemCache(), nopBus{}, testConfig(), zap.NewNop())
	t.Cleanup(manager.Close)

	t.Run("builds lazily and caches per order", func(t *testing.T) {
		first, err := manager.Workspace(context.Background(), 7)
		require.NoError(t, err)
		second, err := manager.Workspace(context.Background(), 7)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 1, opened)
	})

	t.Run("release drops the cached workspace", func(t *testing.T) {
		before, err := manager.Workspace(context.Background(), 7)
		require.NoError(t, err)
		manager.Release(7)
		after, err := manager.Workspace(context.Background(), 7)
		require.NoError(t, err)
		assert.NotSame(t, before, after)
	})
}

func TestManagerWorkspaceOpenError(t *testing.T) {
	open := func(context.Context, int64) (OrderStore, error) {
		return nil, errors.New("order not found")
	}
	manager := NewManager(open, &fakeCarrierAPI{}, newMemCache(), nopBus{}, testConfig(), zap.NewNop())
	t.Cleanup(manager.Close)

	_, err := manager.Workspace(context.Background(), 404)
	assert.EqualError(t, err, "order not found")
}
