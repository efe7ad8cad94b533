// Package labels orchestrates the shipping-label purchase workflow for
// one order: quote selection, purchase submission, asynchronous status
// tracking, printing and refunds.
package labels

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/shiplabel/backend/internal/infrastructure/carrier"
	"github.com/shiplabel/backend/internal/infrastructure/scheduler"
	"go.uber.org/zap"
)

// Config carries the workflow settings a purchase engine runs with
type Config struct {
	// PollInterval is the fixed delay between label status polls
	PollInterval time.Duration
	// PaperSize is the account's stored paper-size key
	PaperSize string
	// RateTTL bounds how long rate quotes are served from cache
	RateTTL time.Duration
}

// LabelPurchaseEngine drives the label purchase workflow for one order.
// A label moves PURCHASE_IN_PROGRESS → PURCHASED or PURCHASE_ERROR; a
// refund is a terminal annotation on a purchased label, never a status.
// Purchase and status failures are followed by a rates refresh because
// the carrier shipment id embedded in the selected quote is consumed by
// the attempt.
type LabelPurchaseEngine struct {
	shipments *shipping.ShipmentStore
	addresses *shipping.AddressResolver
	customs   *shipping.CustomsEngine
	hazmat    *shipping.HazmatStore
	packages  *shipping.PackageStore
	store     shipping.PurchaseStore
	rates     *RatesEngine
	api       carrier.API
	logger    *zap.Logger
	cfg       Config

	mu           sync.Mutex
	paperSize    string
	purchasing   map[shipping.ShipmentID]bool
	updating     map[shipping.ShipmentID]bool
	statusErrors map[shipping.ShipmentID]*shipping.LabelError
	meta         shipping.PurchaseMeta
}

// NewLabelPurchaseEngine creates a purchase engine over the given stores
func NewLabelPurchaseEngine(shipments *shipping.ShipmentStore, addresses *shipping.AddressResolver,
	customs *shipping.CustomsEngine, hazmat *shipping.HazmatStore, packages *shipping.PackageStore,
	store shipping.PurchaseStore, rates *RatesEngine, api carrier.API,
	meta shipping.PurchaseMeta, cfg Config, logger *zap.Logger) *LabelPurchaseEngine {
	return &LabelPurchaseEngine{
		shipments:    shipments,
		addresses:    addresses,
		customs:      customs,
		hazmat:       hazmat,
		packages:     packages,
		store:        store,
		rates:        rates,
		api:          api,
		logger:       logger,
		cfg:          cfg,
		paperSize:    cfg.PaperSize,
		purchasing:   map[shipping.ShipmentID]bool{},
		updating:     map[shipping.ShipmentID]bool{},
		statusErrors: map[shipping.ShipmentID]*shipping.LabelError{},
		meta:         meta,
	}
}

// resolve maps the empty shipment id to the current cursor
func (e *LabelPurchaseEngine) resolve(shipmentID shipping.ShipmentID) shipping.ShipmentID {
	if shipmentID == "" {
		return e.shipments.CurrentShipmentID()
	}
	return shipmentID
}

// buildRequestPackage composes the immutable package snapshot for the
// current shipment: selected package dimensions, selected rate's service
// identifiers and carrier shipment id, total item weight, product ids,
// then the hazmat declaration and the customs projection
func (e *LabelPurchaseEngine) buildRequestPackage(shipmentID shipping.ShipmentID) (*shipping.RequestPackage, error) {
	spec := e.packages.PackageForRequest()
	if spec == nil {
		return nil, shared.NewDomainError("INVALID_STATE", "no package selected for shipment")
	}
	selection := e.rates.SelectedRate(shipmentID)
	if selection == nil {
		return nil, shared.NewDomainError("INVALID_STATE", "no rate selected for shipment")
	}

	length, _ := strconv.ParseFloat(spec.Length, 64)
	width, _ := strconv.ParseFloat(spec.Width, 64)
	height, _ := strconv.ParseFloat(spec.Height, 64)

	items := e.shipments.Items(shipmentID)
	products := make([]int64, 0, len(items))
	for _, item := range items {
		for i := 0; i < item.Quantity; i++ {
			products = append(products, item.ProductID)
		}
	}

	pkg := shipping.RequestPackage{
		ID:          spec.ID,
		BoxID:       spec.BoxID,
		Length:      length,
		Width:       width,
		Height:      height,
		IsLetter:    spec.IsLetter,
		ShipmentID:  selection.Rate.ShipmentID,
		ServiceID:   selection.Rate.ServiceID,
		CarrierID:   selection.Rate.CarrierID,
		ServiceName: selection.Rate.Title,
		Products:    products,
		Weight:      e.shipments.Weight(shipmentID),
		RateID:      selection.Rate.RateID,
	}
	if hazmat := e.hazmat.State(shipmentID); hazmat.IsHazmat {
		pkg.Hazmat = &hazmat
	}
	pkg = e.customs.ApplyToPackage(pkg)
	return &pkg, nil
}

// RequestPurchase submits a label purchase for the current shipment and
// returns the created label, typically still PURCHASE_IN_PROGRESS. A
// missing package or rate selection means the shipment is not ready and
// surfaces as INVALID_STATE, not as a failed submission. At most one
// purchase runs per shipment; re-entrant calls are rejected without
// reaching the carrier. When the submission fails, any staged
// shipment-id rename is reverted and rate quotes are refreshed before
// the error is returned.
func (e *LabelPurchaseEngine) RequestPurchase(ctx context.Context) (*shipping.Label, error) {
	shipmentID := e.shipments.CurrentShipmentID()

	e.mu.Lock()
	if e.purchasing[shipmentID] {
		e.mu.Unlock()
		return nil, shared.NewDomainError("INVALID_STATE", "a label purchase is already in progress for this shipment")
	}
	e.purchasing[shipmentID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.purchasing, shipmentID)
		e.mu.Unlock()
	}()

	if e.customs.IsRequired() && e.customs.HasErrors() {
		return nil, shipping.NewLabelError(shipping.CausePurchaseError, "customs information is incomplete")
	}

	pkg, err := e.buildRequestPackage(shipmentID)
	if err != nil {
		return nil, err
	}
	selection := e.rates.SelectedRate(shipmentID)

	ratesMap := map[string]shipping.SelectedRate{string(shipmentID): *selection}
	hazmatMap := map[string]shipping.HazmatState{string(shipmentID): e.hazmat.State(shipmentID)}
	customsMap := map[string]*shipping.CustomsState{}
	if e.customs.IsRequired() {
		customsMap[string(shipmentID)] = e.customs.State(shipmentID)
	}

	e.clearStatusError(shipmentID)

	err = e.store.PurchaseLabel(ctx, e.shipments.OrderID(), []shipping.RequestPackage{*pkg},
		shipmentID, ratesMap, hazmatMap, e.addresses.Origin(shipmentID), customsMap, e.meta)
	if err != nil {
		e.shipments.RevertShipmentIDRemap()
		if refreshErr := e.rates.UpdateRates(ctx); refreshErr != nil {
			e.logger.Warn("rates refresh after failed purchase",
				zap.String("shipment_id", string(shipmentID)),
				zap.Error(refreshErr),
			)
		}
		return nil, err
	}

	return e.store.PurchasedLabel(shipmentID), nil
}

// UpdatePurchaseStatus polls the carrier at a fixed delay until the
// shipment's label leaves PURCHASE_IN_PROGRESS, then settles exactly
// once: terminal PURCHASED returns nil, terminal PURCHASE_ERROR is
// staged as the shipment's status error and returned. Concurrent calls
// for the same shipment are coalesced; only the first runs. Polling is
// unbounded and stops early only when ctx is canceled.
func (e *LabelPurchaseEngine) UpdatePurchaseStatus(ctx context.Context, shipmentID shipping.ShipmentID) error {
	shipmentID = e.resolve(shipmentID)

	label := e.store.PurchasedLabel(shipmentID)
	if label == nil {
		return shipping.NewLabelError(shipping.CauseStatusError, "no label to track for shipment")
	}
	if label.Status == shipping.PurchaseErrored {
		labelErr := settledStatusError(label)
		e.setStatusError(shipmentID, labelErr)
		e.refreshRatesAfterFailure(ctx, shipmentID)
		return labelErr
	}
	if label.Status != shipping.PurchaseInProgress {
		return nil
	}

	e.mu.Lock()
	if e.updating[shipmentID] {
		e.mu.Unlock()
		return nil
	}
	e.updating[shipmentID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.updating, shipmentID)
		e.mu.Unlock()
	}()

	labelID := label.LabelID
	orderID := e.shipments.OrderID()
	poller := scheduler.NewPoller(e.cfg.PollInterval, e.logger)

	err := poller.Run(ctx, "label-status", func(ctx context.Context) (bool, error) {
		if err := e.store.FetchLabelStatus(ctx, orderID, labelID); err != nil {
			return false, err
		}
		refreshed := e.store.PurchasedLabel(shipmentID)
		if refreshed == nil || refreshed.Status == shipping.PurchaseInProgress {
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		labelErr := asLabelError(err, shipping.CauseStatusError)
		e.setStatusError(shipmentID, labelErr)
		e.refreshRatesAfterFailure(ctx, shipmentID)
		return labelErr
	}

	refreshed := e.store.PurchasedLabel(shipmentID)
	if refreshed != nil && refreshed.Status == shipping.PurchaseErrored {
		labelErr := settledStatusError(refreshed)
		e.setStatusError(shipmentID, labelErr)
		e.refreshRatesAfterFailure(ctx, shipmentID)
		return labelErr
	}
	return nil
}

// settledStatusError converts a label that settled as PURCHASE_ERROR
// into the status error surfaced to callers, carrying the label's own
// error message when the carrier provided one
func settledStatusError(label *shipping.Label) *shipping.LabelError {
	message := label.Error
	if message == "" {
		message = "error fetching label status, check the purchase status later"
	}
	return shipping.NewLabelError(shipping.CauseStatusError, message)
}

// refreshRatesAfterFailure retires the consumed carrier shipment ids
func (e *LabelPurchaseEngine) refreshRatesAfterFailure(ctx context.Context, shipmentID shipping.ShipmentID) {
	if err := e.rates.UpdateRates(ctx); err != nil {
		e.logger.Warn("rates refresh after label failure",
			zap.String("shipment_id", string(shipmentID)),
			zap.Error(err),
		)
	}
}

// asLabelError passes a LabelError through and wraps anything else
func asLabelError(err error, cause shipping.ErrorCause) *shipping.LabelError {
	if labelErr, ok := err.(*shipping.LabelError); ok {
		return labelErr
	}
	return shipping.NewLabelError(cause, err.Error())
}

// RefundLabel requests a refund for the current shipment's purchased
// label. A second request for the same label is rejected without
// calling the carrier.
func (e *LabelPurchaseEngine) RefundLabel(ctx context.Context) (*shipping.Refund, error) {
	shipmentID := e.shipments.CurrentShipmentID()

	if e.HasRequestedRefund(shipmentID) {
		return nil, shipping.NewLabelError(shipping.CauseRefundError, "a refund has already been requested for this label")
	}
	label := e.store.PurchasedLabel(shipmentID)
	if label == nil || label.Status != shipping.Purchased {
		return nil, shipping.NewLabelError(shipping.CauseRefundError, "no purchased label to refund for shipment")
	}

	refund, err := e.store.RefundLabel(ctx, e.shipments.OrderID(), label.LabelID)
	if err != nil {
		return nil, asLabelError(err, shipping.CauseRefundError)
	}
	e.refreshRatesAfterFailure(ctx, shipmentID)
	return refund, nil
}

// PrintLabel fetches the print-ready document for the current shipment's
// purchased label at the given paper size. An empty key uses the stored
// paper size; either way the resolved key becomes the stored choice.
func (e *LabelPurchaseEngine) PrintLabel(ctx context.Context, paperSizeKey string) (*shipping.PrintDocument, error) {
	shipmentID := e.shipments.CurrentShipmentID()

	label := e.store.PurchasedLabel(shipmentID)
	if label == nil || label.Status != shipping.Purchased {
		return nil, shipping.NewLabelError(shipping.CausePrintError, "no purchased label to print for shipment")
	}

	origin := e.addresses.Origin(shipmentID)
	sizes := shipping.PaperSizes(origin.Country)
	if paperSizeKey == "" {
		paperSizeKey = e.PaperSize()
	}
	size := shipping.FindPaperSize(sizes, paperSizeKey)

	document, err := e.api.GetPrintDocument(ctx, size.Key, label.LabelID)
	if err != nil {
		return nil, asLabelError(err, shipping.CausePrintError)
	}
	e.SetPaperSize(size.Key)
	return document, nil
}

// PaperSizes returns the paper sizes available for the current
// shipment's origin country
func (e *LabelPurchaseEngine) PaperSizes() []shipping.PaperSize {
	origin := e.addresses.Origin("")
	return shipping.PaperSizes(origin.Country)
}

// PaperSize returns the stored paper-size key
func (e *LabelPurchaseEngine) PaperSize() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paperSize
}

// SetPaperSize records the paper-size choice
func (e *LabelPurchaseEngine) SetPaperSize(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paperSize = key
}

// HasPurchasedLabel reports whether the shipment carries a usable
// label. checkStatus requires terminal PURCHASED; without it any
// non-errored label counts. excludeRefunded ignores labels a refund was
// requested for. An empty id selects the current shipment.
func (e *LabelPurchaseEngine) HasPurchasedLabel(checkStatus, excludeRefunded bool, shipmentID shipping.ShipmentID) bool {
	shipmentID = e.resolve(shipmentID)
	var label *shipping.Label
	if excludeRefunded {
		label = e.store.PurchasedLabel(shipmentID)
	} else {
		label = e.store.PurchasedLabels()[shipmentID]
	}
	if label == nil {
		return false
	}
	if checkStatus {
		return label.Status == shipping.Purchased
	}
	return label.Status != shipping.PurchaseErrored
}

// LabelFor returns the shipment's latest non-refunded label, or nil.
// An empty id selects the current shipment.
func (e *LabelPurchaseEngine) LabelFor(shipmentID shipping.ShipmentID) *shipping.Label {
	return e.store.PurchasedLabel(e.resolve(shipmentID))
}

// RefundedLabelFor returns the shipment's latest refunded label, or
// nil. An empty id selects the current shipment.
func (e *LabelPurchaseEngine) RefundedLabelFor(shipmentID shipping.ShipmentID) *shipping.Label {
	return e.store.RefundedLabel(e.resolve(shipmentID))
}

// HasRequestedRefund reports whether a refund has been requested for the
// shipment's label. An empty id selects the current shipment.
func (e *LabelPurchaseEngine) HasRequestedRefund(shipmentID shipping.ShipmentID) bool {
	shipmentID = e.resolve(shipmentID)
	return e.store.RefundedLabel(shipmentID) != nil
}

// LabelProductIDs returns the product ids covered by the shipment's
// latest label, or nil when the shipment has none. An empty id selects
// the current shipment.
func (e *LabelPurchaseEngine) LabelProductIDs(shipmentID shipping.ShipmentID) []int64 {
	shipmentID = e.resolve(shipmentID)
	label := e.store.PurchasedLabels()[shipmentID]
	if label == nil {
		return nil
	}
	return label.ProductIDs
}

// ShipmentsWithoutLabel returns the shipments that still need a label:
// no label at all, one not yet settled as PURCHASED, an errored one, or
// only refunded ones
func (e *LabelPurchaseEngine) ShipmentsWithoutLabel() []shipping.ShipmentID {
	var pending []shipping.ShipmentID
	for _, shipmentID := range e.shipments.ShipmentIDs() {
		if !e.HasPurchasedLabel(true, true, shipmentID) {
			pending = append(pending, shipmentID)
		}
	}
	return pending
}

// IsUpdating reports whether a status poll is running for the shipment.
// An empty id selects the current shipment.
func (e *LabelPurchaseEngine) IsUpdating(shipmentID shipping.ShipmentID) bool {
	shipmentID = e.resolve(shipmentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updating[shipmentID]
}

// StatusError returns the staged workflow error for the shipment, or
// nil. An empty id selects the current shipment.
func (e *LabelPurchaseEngine) StatusError(shipmentID shipping.ShipmentID) *shipping.LabelError {
	shipmentID = e.resolve(shipmentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusErrors[shipmentID]
}

func (e *LabelPurchaseEngine) setStatusError(shipmentID shipping.ShipmentID, err *shipping.LabelError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusErrors[shipmentID] = err
}

func (e *LabelPurchaseEngine) clearStatusError(shipmentID shipping.ShipmentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.statusErrors, shipmentID)
}
