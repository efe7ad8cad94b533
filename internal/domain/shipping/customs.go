package shipping

import (
	"reflect"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Customs contents types. The first entry is the default for newly
// created declarations.
var ContentsTypes = []string{
	"merchandise",
	"gift",
	"documents",
	"returned_goods",
	"sample",
	"other",
}

// Customs restriction types
var RestrictionTypes = []string{
	"none",
	"quarantine",
	"sanitary_phytosanitary_inspection",
	"other",
}

// CustomsItem is one declared line of a customs declaration. Weight and
// Price stay strings until projection onto a package request.
type CustomsItem struct {
	ProductID      int64  `json:"product_id"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	Weight         string `json:"weight"`
	Price          string `json:"price"`
	HSTariffNumber string `json:"hs_tariff_number"`
	OriginCountry  string `json:"origin_country"`
}

// CustomsState is the per-shipment customs declaration. Items always
// covers every current shipment item exactly once, matched by product id.
type CustomsState struct {
	Items               []CustomsItem `json:"items"`
	ContentsType        string        `json:"contents_type"`
	ContentsExplanation string        `json:"contents_explanation,omitempty"`
	RestrictionType     string        `json:"restriction_type"`
	RestrictionComments string        `json:"restriction_comments,omitempty"`
	IsReturnToSender    bool          `json:"is_return_to_sender"`
	ITN                 string        `json:"itn"`
}

// FieldErrors maps field names to validation error messages
type FieldErrors map[string]string

// CustomsErrors aggregates validation errors for one shipment's
// declaration: shipment-level fields plus one entry per customs item
type CustomsErrors struct {
	Fields FieldErrors   `json:"fields"`
	Items  []FieldErrors `json:"items"`
}

// emptyItemErrors returns one empty error map per item
func emptyItemErrors(count int) []FieldErrors {
	items := make([]FieldErrors, count)
	for i := range items {
		items[i] = FieldErrors{}
	}
	return items
}

// CustomsEngine derives and maintains per-shipment customs declarations.
// Declarations are created lazily on first access, kept in sync with the
// shipment item set, and projected onto outbound package requests when a
// declaration is required for the route.
type CustomsEngine struct {
	mu        sync.Mutex
	shipments *ShipmentStore
	addresses *AddressResolver
	store     PurchaseStore
	logger    *zap.Logger

	states map[ShipmentID]*CustomsState
	errors map[ShipmentID]*CustomsErrors
}

// NewCustomsEngine creates a CustomsEngine over the given stores
func NewCustomsEngine(shipments *ShipmentStore, addresses *AddressResolver, store PurchaseStore, logger *zap.Logger) *CustomsEngine {
	return &CustomsEngine{
		shipments: shipments,
		addresses: addresses,
		store:     store,
		logger:    logger,
		states:    map[ShipmentID]*CustomsState{},
		errors:    map[ShipmentID]*CustomsErrors{},
	}
}

// IsRequired reports whether the current shipment's route needs a
// customs declaration
func (e *CustomsEngine) IsRequired() bool {
	origin := e.addresses.Origin("")
	return IsCustomsRequired(&origin, e.addresses.Destination(""))
}

// IsHSTariffRequired reports whether every customs item must carry a
// valid HS tariff number, which the EU requires for inbound shipments
func (e *CustomsEngine) IsHSTariffRequired() bool {
	destination := e.addresses.Destination("")
	if destination == nil {
		return false
	}
	return IsCountryInEU(destination.Country)
}

// customsItems builds fresh customs line items from the shipment's
// current items, seeding description, HS code and origin country from
// the item's stored customs metadata. Returns nil when the shipment is
// not eligible (unknown id).
func (e *CustomsEngine) customsItems(shipmentID ShipmentID) []CustomsItem {
	items := e.shipments.Items(shipmentID)
	if items == nil {
		return nil
	}
	origin := e.addresses.Origin(shipmentID)
	customsItems := make([]CustomsItem, len(items))
	for i, item := range items {
		customsItem := CustomsItem{
			ProductID:     item.ProductID,
			Description:   item.Name,
			Quantity:      item.Quantity,
			Weight:        item.Weight,
			Price:         item.Price,
			OriginCountry: origin.Country,
		}
		if info := item.Meta.CustomsInfo; info != nil {
			if info.Description != "" {
				customsItem.Description = info.Description
			}
			customsItem.HSTariffNumber = info.HSTariffNumber
			if info.OriginCountry != "" {
				customsItem.OriginCountry = info.OriginCountry
			}
		}
		customsItems[i] = customsItem
	}
	return customsItems
}

// allKnownItems flattens the customs items of every tracked declaration.
// Callers must hold e.mu.
func (e *CustomsEngine) allKnownItems() []CustomsItem {
	var all []CustomsItem
	for _, state := range e.states {
		all = append(all, state.Items...)
	}
	return all
}

// findByProduct returns the first item with the given product id, or nil.
// When duplicate product ids exist across shipments the pick among
// candidates is unspecified.
func findByProduct(items []CustomsItem, productID int64) *CustomsItem {
	for i := range items {
		if items[i].ProductID == productID {
			return &items[i]
		}
	}
	return nil
}

// State returns the shipment's customs declaration, creating it lazily
// on first access: stored information wins, otherwise a default
// declaration is derived from the shipment items, pulling forward any
// matching customs data already entered for the same products in other
// shipments. An empty id selects the current shipment.
func (e *CustomsEngine) State(shipmentID ShipmentID) *CustomsState {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.states[shipmentID]; ok {
		return state
	}
	if stored := e.store.CustomsInformation(shipmentID); stored != nil {
		e.states[shipmentID] = stored
		return stored
	}
	items := e.customsItems(shipmentID)
	if items == nil {
		return nil
	}
	known := e.allKnownItems()
	for i := range items {
		if existing := findByProduct(known, items[i].ProductID); existing != nil {
			items[i] = *existing
		}
	}
	state := &CustomsState{
		Items:           items,
		ContentsType:    ContentsTypes[0],
		RestrictionType: "none",
	}
	e.states[shipmentID] = state
	return state
}

// SetState replaces the current shipment's customs declaration
func (e *CustomsEngine) SetState(state *CustomsState) {
	shipmentID := e.shipments.CurrentShipmentID()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[shipmentID] = state
}

// SyncItemsFromShipments recomputes every tracked declaration's items to
// match the current shipment contents, merging forward customs data
// already entered for a product: a match within the same shipment wins
// over a match anywhere else. Declarations for shipments that no longer
// exist are dropped. Calling this twice with no shipment-item change
// produces no observable difference.
func (e *CustomsEngine) SyncItemsFromShipments() {
	e.mu.Lock()
	defer e.mu.Unlock()

	known := e.allKnownItems()
	updated := make(map[ShipmentID]*CustomsState, len(e.states))
	for shipmentID, state := range e.states {
		fresh := e.customsItems(shipmentID)
		if fresh == nil {
			continue
		}
		items := make([]CustomsItem, len(fresh))
		for i, item := range fresh {
			if existing := findByProduct(state.Items, item.ProductID); existing != nil {
				items[i] = *existing
			} else if existing := findByProduct(known, item.ProductID); existing != nil {
				items[i] = *existing
			} else {
				items[i] = item
			}
		}
		next := *state
		next.Items = items
		updated[shipmentID] = &next
	}
	e.states = updated
}

// ApplyToPackage projects the current shipment's customs declaration
// onto an outbound package request. A pure passthrough when no
// declaration is required for the route. Explanation and comments are
// only emitted when the corresponding type is "other".
func (e *CustomsEngine) ApplyToPackage(pkg RequestPackage) RequestPackage {
	if !e.IsRequired() {
		return pkg
	}
	state := e.State("")
	if state == nil {
		return pkg
	}

	customs := &PackageCustoms{
		ContentsType:      state.ContentsType,
		RestrictionType:   state.RestrictionType,
		NonDeliveryOption: "abandon",
		ITN:               state.ITN,
		Items:             make([]PackageCustomsItem, len(state.Items)),
	}
	if state.ContentsType == "other" {
		customs.ContentsExplanation = state.ContentsExplanation
	}
	if state.RestrictionType == "other" {
		customs.RestrictionComments = state.RestrictionComments
	}
	if state.IsReturnToSender {
		customs.NonDeliveryOption = "return"
	}
	for i, item := range state.Items {
		weight, _ := strconv.ParseFloat(item.Weight, 64)
		value, _ := strconv.ParseFloat(item.Price, 64)
		customs.Items[i] = PackageCustomsItem{
			Description:    item.Description,
			Quantity:       item.Quantity,
			Weight:         weight,
			HSTariffNumber: SanitizeHSTariffNumber(item.HSTariffNumber),
			OriginCountry:  item.OriginCountry,
			ProductID:      item.ProductID,
			Value:          value,
		}
	}
	pkg.PackageCustoms = customs
	return pkg
}

// Errors returns the staged validation errors for a shipment, creating
// an empty set on first access. Stale errors are cleared first when the
// route no longer needs customs. An empty id selects the current
// shipment.
func (e *CustomsEngine) Errors(shipmentID ShipmentID) *CustomsErrors {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	e.maybeResetErrors()
	e.mu.Lock()
	defer e.mu.Unlock()
	if errs, ok := e.errors[shipmentID]; ok {
		return errs
	}
	errs := &CustomsErrors{
		Fields: FieldErrors{},
		Items:  emptyItemErrors(len(e.shipments.Items(shipmentID))),
	}
	e.errors[shipmentID] = errs
	return errs
}

// SetErrors replaces the staged validation errors for a shipment
func (e *CustomsEngine) SetErrors(shipmentID ShipmentID, errs *CustomsErrors) {
	if shipmentID == "" {
		shipmentID = e.shipments.CurrentShipmentID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[shipmentID] = errs
}

// maybeResetErrors clears the current shipment's staged errors when a
// declaration is no longer required, so errors from a previous
// destination cannot reappear if the destination changes back
func (e *CustomsEngine) maybeResetErrors() {
	if e.IsRequired() {
		return
	}
	shipmentID := e.shipments.CurrentShipmentID()
	reset := &CustomsErrors{
		Fields: FieldErrors{},
		Items:  emptyItemErrors(len(e.shipments.Items(shipmentID))),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.errors[shipmentID]; ok && reflect.DeepEqual(existing, reset) {
		return
	}
	e.errors[shipmentID] = reset
}

// HasErrors reports whether the current shipment's declaration carries
// validation errors, including HS tariff numbers failing the format
// check when the destination requires them
func (e *CustomsEngine) HasErrors() bool {
	if e.IsHSTariffRequired() {
		if state := e.State(""); state != nil {
			for _, item := range state.Items {
				if !IsHSTariffNumberValid(item.HSTariffNumber) {
					return true
				}
			}
		}
	}
	errs := e.Errors("")
	if len(errs.Fields) > 0 {
		return true
	}
	for _, itemErrs := range errs.Items {
		if len(itemErrs) > 0 {
			return true
		}
	}
	return false
}
