package labels

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/shiplabel/backend/internal/infrastructure/carrier"
	"go.uber.org/zap"
)

// RateCache caches rate quotes keyed by route and package so repeated
// quote requests for an unchanged shipment skip the carrier round trip
type RateCache interface {
	// Get returns the cached quotes for a key, or false on a miss
	Get(ctx context.Context, key string) ([]shipping.Rate, bool)
	// Set stores quotes under a key with a time-to-live
	Set(ctx context.Context, key string, rates []shipping.Rate, ttl time.Duration) error
	// Invalidate drops the given keys
	Invalidate(ctx context.Context, keys ...string) error
}

// RatesEngine fetches and tracks carrier rate quotes per shipment and
// holds the per-shipment rate selection a purchase is built from.
// Quotes carry a carrier-side shipment id that is consumed when a
// purchase is attempted against it, so after any purchase or status
// failure UpdateRates must run to retire consumed ids; selections are
// re-pointed at the fresh quote for the same service.
type RatesEngine struct {
	api       carrier.API
	cache     RateCache
	shipments *shipping.ShipmentStore
	addresses *shipping.AddressResolver
	logger    *zap.Logger
	ttl       time.Duration

	mu         sync.RWMutex
	quotes     map[shipping.ShipmentID][]shipping.Rate
	selections map[shipping.ShipmentID]*shipping.SelectedRate
	packages   map[shipping.ShipmentID]shipping.RequestPackage
	cacheKeys  map[shipping.ShipmentID]string
}

// NewRatesEngine creates a RatesEngine over the carrier API and cache
func NewRatesEngine(api carrier.API, cache RateCache, shipments *shipping.ShipmentStore,
	addresses *shipping.AddressResolver, ttl time.Duration, logger *zap.Logger) *RatesEngine {
	return &RatesEngine{
		api:        api,
		cache:      cache,
		shipments:  shipments,
		addresses:  addresses,
		logger:     logger,
		ttl:        ttl,
		quotes:     map[shipping.ShipmentID][]shipping.Rate{},
		selections: map[shipping.ShipmentID]*shipping.SelectedRate{},
		packages:   map[shipping.ShipmentID]shipping.RequestPackage{},
		cacheKeys:  map[shipping.ShipmentID]string{},
	}
}

// quoteKey derives a cache key from the route and package contents
func quoteKey(origin shipping.Address, destination *shipping.Address, pkg shipping.RequestPackage) string {
	payload, _ := json.Marshal(struct {
		Origin      shipping.Address        `json:"origin"`
		Destination *shipping.Address       `json:"destination"`
		Package     shipping.RequestPackage `json:"package"`
	}{origin, destination, pkg})
	sum := sha256.Sum256(payload)
	return "rates:quote:" + hex.EncodeToString(sum[:])
}

// FetchRates fetches quotes for a shipment's package, serving from the
// cache when an identical request was quoted recently. An empty id
// selects the current shipment.
func (e *RatesEngine) FetchRates(ctx context.Context, shipmentID shipping.ShipmentID, pkg shipping.RequestPackage) ([]shipping.Rate, error) {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	origin := e.addresses.Origin(shipmentID)
	destination := e.addresses.Destination(shipmentID)
	key := quoteKey(origin, destination, pkg)

	if rates, ok := e.cache.Get(ctx, key); ok {
		e.record(shipmentID, key, pkg, rates)
		return rates, nil
	}

	rates, err := e.api.GetRates(ctx, origin, destination, pkg)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, key, rates, e.ttl); err != nil {
		e.logger.Warn("failed to cache rate quotes",
			zap.String("shipment_id", string(shipmentID)),
			zap.Error(err),
		)
	}
	e.record(shipmentID, key, pkg, rates)
	return rates, nil
}

func (e *RatesEngine) record(shipmentID shipping.ShipmentID, key string, pkg shipping.RequestPackage, rates []shipping.Rate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes[shipmentID] = rates
	e.packages[shipmentID] = pkg
	e.cacheKeys[shipmentID] = key
}

// Rates returns the latest quotes fetched for a shipment. An empty id
// selects the current shipment.
func (e *RatesEngine) Rates(shipmentID shipping.ShipmentID) []shipping.Rate {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.quotes[shipmentID]
}

// SelectRate records the rate selection for a shipment. Parent carries
// the base quote when the selection is a variant of another service.
// An empty id selects the current shipment.
func (e *RatesEngine) SelectRate(shipmentID shipping.ShipmentID, rate shipping.Rate, parent *shipping.Rate) {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selections[shipmentID] = &shipping.SelectedRate{Rate: rate, Parent: parent}
}

// SelectedRate returns the rate selection for a shipment, or nil. An
// empty id selects the current shipment.
func (e *RatesEngine) SelectedRate(shipmentID shipping.ShipmentID) *shipping.SelectedRate {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.selections[shipmentID]
}

// SelectedRates returns all rate selections keyed by shipment id
func (e *RatesEngine) SelectedRates() map[string]shipping.SelectedRate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	selections := make(map[string]shipping.SelectedRate, len(e.selections))
	for shipmentID, selection := range e.selections {
		selections[string(shipmentID)] = *selection
	}
	return selections
}

// ResetSelection drops the rate selection for a shipment
func (e *RatesEngine) ResetSelection(shipmentID shipping.ShipmentID) {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.selections, shipmentID)
}

// UpdateRates refetches quotes for every shipment quoted so far,
// bypassing the cache. Carrier shipment ids embedded in quotes are
// single-use, so this must run after a purchase or status failure to
// retire the consumed ids. Selections are re-pointed at the fresh quote
// for the same service, or dropped when the service is gone.
func (e *RatesEngine) UpdateRates(ctx context.Context) error {
	e.mu.RLock()
	pending := make(map[shipping.ShipmentID]shipping.RequestPackage, len(e.packages))
	for shipmentID, pkg := range e.packages {
		pending[shipmentID] = pkg
	}
	staleKeys := make([]string, 0, len(e.cacheKeys))
	for _, key := range e.cacheKeys {
		staleKeys = append(staleKeys, key)
	}
	e.mu.RUnlock()

	if len(staleKeys) > 0 {
		if err := e.cache.Invalidate(ctx, staleKeys...); err != nil {
			e.logger.Warn("failed to invalidate rate quote cache", zap.Error(err))
		}
	}

	var firstErr error
	for shipmentID, pkg := range pending {
		origin := e.addresses.Origin(shipmentID)
		destination := e.addresses.Destination(shipmentID)
		rates, err := e.api.GetRates(ctx, origin, destination, pkg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Warn("failed to refresh rate quotes",
				zap.String("shipment_id", string(shipmentID)),
				zap.Error(err),
			)
			continue
		}
		key := quoteKey(origin, destination, pkg)
		if err := e.cache.Set(ctx, key, rates, e.ttl); err != nil {
			e.logger.Warn("failed to cache rate quotes", zap.Error(err))
		}

		e.mu.Lock()
		e.quotes[shipmentID] = rates
		e.cacheKeys[shipmentID] = key
		if selection, ok := e.selections[shipmentID]; ok {
			if fresh := findByService(rates, selection.Rate.ServiceID); fresh != nil {
				e.selections[shipmentID] = &shipping.SelectedRate{Rate: *fresh, Parent: selection.Parent}
			} else {
				delete(e.selections, shipmentID)
			}
		}
		e.mu.Unlock()
	}
	return firstErr
}

// findByService returns the quote for a service id, or nil
func findByService(rates []shipping.Rate, serviceID string) *shipping.Rate {
	for i := range rates {
		if rates[i].ServiceID == serviceID {
			return &rates[i]
		}
	}
	return nil
}
