package labels

import (
	"context"
	"sync"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/shiplabel/backend/internal/infrastructure/carrier"
	"go.uber.org/zap"
)

// OrderStore is the per-order persistence surface a workspace is built
// over: the label purchase store, the address book and the order's
// saved shipment snapshot
type OrderStore interface {
	shipping.PurchaseStore
	shipping.AddressBook
	// Shipments returns the persisted shipment-id→items mapping
	Shipments() map[shipping.ShipmentID][]shipping.ShipmentItem
	// Meta returns the account metadata attached to purchases
	Meta() shipping.PurchaseMeta
}

// OpenOrderFunc loads the per-order store for an order id
type OpenOrderFunc func(ctx context.Context, orderID int64) (OrderStore, error)

// Workspace wires the full label workflow for one order: the shipment
// store, address resolution, customs, hazmat, package selection, rates
// and the purchase engine, with the event subscriptions that keep them
// consistent
type Workspace struct {
	OrderID   int64
	Shipments *shipping.ShipmentStore
	Addresses *shipping.AddressResolver
	Customs   *shipping.CustomsEngine
	Hazmat    *shipping.HazmatStore
	Packages  *shipping.PackageStore
	Rates     *RatesEngine
	Engine    *LabelPurchaseEngine

	bus      shared.EventBus
	handlers []shared.EventHandler
}

// NewWorkspace builds a workspace for one order and subscribes its
// event handlers on the bus. Close must be called when the order's
// workflow is done so the handlers are released.
func NewWorkspace(ctx context.Context, orderID int64, store OrderStore, api carrier.API,
	cache RateCache, bus shared.EventBus, cfg Config, logger *zap.Logger) *Workspace {

	logger = logger.With(zap.Int64("order_id", orderID))

	shipments := shipping.NewShipmentStore(orderID, store.Shipments(), store, store, bus, logger)
	addresses := shipping.NewAddressResolver(shipments, store, store)
	customs := shipping.NewCustomsEngine(shipments, addresses, store, logger)
	hazmat := shipping.NewHazmatStore(shipments)
	packages := shipping.NewPackageStore(shipments, store)
	rates := NewRatesEngine(api, cache, shipments, addresses, cfg.RateTTL, logger)
	engine := NewLabelPurchaseEngine(shipments, addresses, customs, hazmat, packages,
		store, rates, api, store.Meta(), cfg, logger)

	w := &Workspace{
		OrderID:   orderID,
		Shipments: shipments,
		Addresses: addresses,
		Customs:   customs,
		Hazmat:    hazmat,
		Packages:  packages,
		Rates:     rates,
		Engine:    engine,
		bus:       bus,
		handlers: []shared.EventHandler{
			NewCustomsSyncHandler(customs, logger),
			NewAutoPollHandler(ctx, engine, logger),
		},
	}
	for _, handler := range w.handlers {
		bus.Subscribe(handler)
	}
	return w
}

// Close unsubscribes the workspace's event handlers
func (w *Workspace) Close() {
	for _, handler := range w.handlers {
		w.bus.Unsubscribe(handler)
	}
}

// Manager hands out one workspace per order, building each lazily on
// first access
type Manager struct {
	open   OpenOrderFunc
	api    carrier.API
	cache  RateCache
	bus    shared.EventBus
	cfg    Config
	logger *zap.Logger

	// pollCtx outlives any single request so detached status polls
	// keep running until the manager closes
	pollCtx    context.Context
	cancelPoll context.CancelFunc

	mu         sync.Mutex
	workspaces map[int64]*Workspace
}

// NewManager creates a workspace manager
func NewManager(open OpenOrderFunc, api carrier.API, cache RateCache,
	bus shared.EventBus, cfg Config, logger *zap.Logger) *Manager {
	pollCtx, cancelPoll := context.WithCancel(context.Background())
	return &Manager{
		open:       open,
		api:        api,
		cache:      cache,
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		pollCtx:    pollCtx,
		cancelPoll: cancelPoll,
		workspaces: map[int64]*Workspace{},
	}
}

// Workspace returns the workspace for an order, building it on first
// access
func (m *Manager) Workspace(ctx context.Context, orderID int64) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workspaces[orderID]; ok {
		return w, nil
	}
	store, err := m.open(ctx, orderID)
	if err != nil {
		return nil, err
	}
	w := NewWorkspace(m.pollCtx, orderID, store, m.api, m.cache, m.bus, m.cfg, m.logger)
	m.workspaces[orderID] = w
	return w, nil
}

// Release closes and drops the workspace for an order, if any
func (m *Manager) Release(orderID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workspaces[orderID]; ok {
		w.Close()
		delete(m.workspaces, orderID)
	}
}

// Close releases every open workspace and cancels running polls
func (m *Manager) Close() {
	m.cancelPoll()
	m.mu.Lock()
	defer m.mu.Unlock()
	for orderID, w := range m.workspaces {
		w.Close()
		delete(m.workspaces, orderID)
	}
}
