// Package persistence implements the label purchase store on PostgreSQL
// via GORM, fronting the carrier connect API for purchase, status and
// refund calls.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/shiplabel/backend/internal/infrastructure/carrier"
	"github.com/shiplabel/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the shared label purchase store. Per-order access goes
// through ForOrder, which loads an OrderView bound to one order.
type Store struct {
	db     *gorm.DB
	api    carrier.API
	bus    shared.EventPublisher
	logger *zap.Logger
}

// NewStore creates a Store over the given database and carrier client
func NewStore(db *gorm.DB, api carrier.API, bus shared.EventPublisher, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		api:    api,
		bus:    bus,
		logger: logger,
	}
}

// storedLabel pairs a label with the address snapshots frozen when it
// was purchased
type storedLabel struct {
	label       *shipping.Label
	origin      *shipping.Address
	destination *shipping.Address
}

// OrderView is the per-order projection of the purchase store. It
// caches the order's labels, customs declarations and addresses in
// memory and writes every mutation through to the database.
type OrderView struct {
	store   *Store
	orderID int64

	mu          sync.RWMutex
	labels      map[shipping.ShipmentID][]*storedLabel
	customs     map[shipping.ShipmentID]*shipping.CustomsState
	origins     []shipping.Address
	destination *shipping.Address
	shipments   map[shipping.ShipmentID][]shipping.ShipmentItem
	meta        shipping.PurchaseMeta
}

// ForOrder loads the order's purchase state into an OrderView
func (s *Store) ForOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	var order models.OrderModel
	if err := s.db.WithContext(ctx).First(&order, "order_id = ?", orderID).Error; err != nil {
		return nil, fmt.Errorf("loading order %d: %w", orderID, err)
	}

	view := &OrderView{
		store:     s,
		orderID:   orderID,
		labels:    map[shipping.ShipmentID][]*storedLabel{},
		customs:   map[shipping.ShipmentID]*shipping.CustomsState{},
		shipments: map[shipping.ShipmentID][]shipping.ShipmentItem{},
		meta:      shipping.PurchaseMeta{LastOrderCompleted: order.LastOrderCompleted},
	}
	view.destination = decodeAddressJSON(order.DestinationJSON)
	if err := json.Unmarshal(order.ShipmentsJSON, &view.shipments); err != nil {
		return nil, fmt.Errorf("decoding shipments for order %d: %w", orderID, err)
	}

	var labelRows []models.LabelModel
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&labelRows).Error; err != nil {
		return nil, fmt.Errorf("loading labels for order %d: %w", orderID, err)
	}
	for i := range labelRows {
		row := &labelRows[i]
		shipmentID := shipping.ShipmentID(row.ShipmentID)
		view.labels[shipmentID] = append(view.labels[shipmentID], &storedLabel{
			label:       row.ToDomain(),
			origin:      row.Origin(),
			destination: row.Destination(),
		})
	}

	var customsRows []models.CustomsModel
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&customsRows).Error; err != nil {
		return nil, fmt.Errorf("loading customs for order %d: %w", orderID, err)
	}
	for i := range customsRows {
		row := &customsRows[i]
		if state := row.ToDomain(); state != nil {
			view.customs[shipping.ShipmentID(row.ShipmentID)] = state
		}
	}

	var originRows []models.OriginAddressModel
	if err := s.db.WithContext(ctx).
		Order("position ASC").
		Find(&originRows).Error; err != nil {
		return nil, fmt.Errorf("loading origin addresses: %w", err)
	}
	for i := range originRows {
		if address := originRows[i].ToDomain(); address != nil {
			view.origins = append(view.origins, *address)
		}
	}

	return view, nil
}

func decodeAddressJSON(data []byte) *shipping.Address {
	if len(data) == 0 {
		return nil
	}
	var address shipping.Address
	if err := json.Unmarshal(data, &address); err != nil {
		return nil
	}
	return &address
}

// OrderID returns the bound order id
func (v *OrderView) OrderID() int64 {
	return v.orderID
}

// Shipments returns the persisted shipment-id→items mapping the order
// was last saved with
func (v *OrderView) Shipments() map[shipping.ShipmentID][]shipping.ShipmentItem {
	v.mu.RLock()
	defer v.mu.RUnlock()
	shipments := make(map[shipping.ShipmentID][]shipping.ShipmentItem, len(v.shipments))
	for id, items := range v.shipments {
		shipments[id] = append([]shipping.ShipmentItem(nil), items...)
	}
	return shipments
}

// Meta returns the account metadata attached to purchase submissions
func (v *OrderView) Meta() shipping.PurchaseMeta {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.meta
}

// OriginAddresses returns the selectable origin addresses; the first
// entry is the platform default
func (v *OrderView) OriginAddresses() []shipping.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]shipping.Address(nil), v.origins...)
}

// OrderDestination returns the order's shipping destination
func (v *OrderView) OrderDestination() *shipping.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.destination
}

// PurchasedLabel returns the most recently purchased, non-refunded label
// for the shipment, or nil when none exists
func (v *OrderView) PurchasedLabel(shipmentID shipping.ShipmentID) *shipping.Label {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := v.labels[shipmentID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].label.Refund == nil {
			return entries[i].label
		}
	}
	return nil
}

// RefundedLabel returns the most recent refunded label for the shipment,
// or nil
func (v *OrderView) RefundedLabel(shipmentID shipping.ShipmentID) *shipping.Label {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := v.labels[shipmentID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].label.Refund != nil {
			return entries[i].label
		}
	}
	return nil
}

// PurchasedLabels returns the latest label per shipment
func (v *OrderView) PurchasedLabels() map[shipping.ShipmentID]*shipping.Label {
	v.mu.RLock()
	defer v.mu.RUnlock()
	labels := make(map[shipping.ShipmentID]*shipping.Label, len(v.labels))
	for shipmentID, entries := range v.labels {
		if len(entries) > 0 {
			labels[shipmentID] = entries[len(entries)-1].label
		}
	}
	return labels
}

// LabelOrigin returns the origin address frozen when the shipment's
// latest label was purchased
func (v *OrderView) LabelOrigin(shipmentID shipping.ShipmentID) *shipping.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if entries := v.labels[shipmentID]; len(entries) > 0 {
		return entries[len(entries)-1].origin
	}
	return nil
}

// LabelDestination returns the destination frozen when the shipment's
// latest label was purchased
func (v *OrderView) LabelDestination(shipmentID shipping.ShipmentID) *shipping.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if entries := v.labels[shipmentID]; len(entries) > 0 {
		return entries[len(entries)-1].destination
	}
	return nil
}

// CustomsInformation returns the customs declaration saved for the
// shipment, or nil when none has been saved
func (v *OrderView) CustomsInformation(shipmentID shipping.ShipmentID) *shipping.CustomsState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.customs[shipmentID]
}

// PurchaseLabel submits a label purchase to the carrier and persists the
// created labels with purchase-time address snapshots. The submitted
// customs declarations become the saved declarations for their
// shipments. A LabelChangedEvent is published per created label.
func (v *OrderView) PurchaseLabel(ctx context.Context, orderID int64, packages []shipping.RequestPackage,
	shipmentID shipping.ShipmentID, rates map[string]shipping.SelectedRate,
	hazmat map[string]shipping.HazmatState, origin shipping.Address,
	customs map[string]*shipping.CustomsState, meta shipping.PurchaseMeta) error {

	destination := v.OrderDestination()
	if destination == nil {
		return shipping.NewLabelError(shipping.CausePurchaseError, "order has no destination address")
	}

	labels, err := v.store.api.PurchaseLabels(ctx, carrier.PurchaseRequest{
		OrderID:     orderID,
		Packages:    packages,
		ShipmentID:  string(shipmentID),
		Rates:       rates,
		Hazmat:      hazmat,
		Origin:      origin,
		Destination: *destination,
		Customs:     customs,
		Meta:        meta,
	})
	if err != nil {
		return err
	}

	originJSON, _ := json.Marshal(origin)
	destinationJSON, _ := json.Marshal(destination)

	err = v.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range labels {
			row := models.LabelModel{
				OriginJSON:      originJSON,
				DestinationJSON: destinationJSON,
				CreatedAt:       time.Now(),
				UpdatedAt:       time.Now(),
			}
			row.FromDomain(orderID, shipmentID, &labels[i])
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for id, state := range customs {
			if state == nil {
				continue
			}
			stateJSON, err := json.Marshal(state)
			if err != nil {
				return err
			}
			row := models.CustomsModel{
				OrderID:    orderID,
				ShipmentID: id,
				StateJSON:  stateJSON,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "order_id"}, {Name: "shipment_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"state_json", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persisting purchased labels: %w", err)
	}

	v.mu.Lock()
	for i := range labels {
		label := labels[i]
		v.labels[shipmentID] = append(v.labels[shipmentID], &storedLabel{
			label:       &label,
			origin:      &origin,
			destination: destination,
		})
	}
	for id, state := range customs {
		if state != nil {
			v.customs[shipping.ShipmentID(id)] = state
		}
	}
	v.mu.Unlock()

	for i := range labels {
		v.publishLabelChanged(ctx, shipmentID, &labels[i])
	}
	return nil
}

// FetchLabelStatus refreshes the stored label from the carrier. The
// stored record is replaced, never patched, and a LabelChangedEvent is
// published with the refreshed status.
func (v *OrderView) FetchLabelStatus(ctx context.Context, orderID, labelID int64) error {
	label, err := v.store.api.GetLabelStatus(ctx, orderID, labelID)
	if err != nil {
		return err
	}
	if label == nil {
		return shipping.NewLabelError(shipping.CauseStatusError,
			fmt.Sprintf("carrier returned no label for id %d", labelID))
	}

	shipmentID, err := v.replaceLabel(ctx, labelID, label)
	if err != nil {
		return err
	}
	v.publishLabelChanged(ctx, shipmentID, label)
	return nil
}

// RefundLabel requests a refund for a purchased label and records it on
// the stored label
func (v *OrderView) RefundLabel(ctx context.Context, orderID, labelID int64) (*shipping.Refund, error) {
	refund, err := v.store.api.RefundLabel(ctx, orderID, labelID)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		refund = &shipping.Refund{Status: "pending", RequestedAt: time.Now()}
	}

	v.mu.RLock()
	shipmentID, existing := v.findLabel(labelID)
	v.mu.RUnlock()
	if existing == nil {
		return nil, shipping.NewLabelError(shipping.CauseRefundError,
			fmt.Sprintf("no stored label with id %d", labelID))
	}

	updated := *existing
	updated.Refund = refund
	if _, err := v.replaceLabel(ctx, labelID, &updated); err != nil {
		return nil, err
	}
	v.publishLabelChanged(ctx, shipmentID, &updated)
	return refund, nil
}

// replaceLabel writes a refreshed label over its stored row and swaps
// the in-memory record, preserving the purchase-time address snapshots.
// Returns the shipment id the label belongs to.
func (v *OrderView) replaceLabel(ctx context.Context, labelID int64, label *shipping.Label) (shipping.ShipmentID, error) {
	v.mu.Lock()
	shipmentID, existing := v.findLabel(labelID)
	if existing == nil {
		v.mu.Unlock()
		return "", shipping.NewLabelError(shipping.CauseStatusError,
			fmt.Sprintf("no stored label with id %d", labelID))
	}
	if label.CreatedAt.IsZero() {
		label.CreatedAt = existing.CreatedAt
	}
	entries := v.labels[shipmentID]
	for i, entry := range entries {
		if entry.label.LabelID == labelID {
			entries[i] = &storedLabel{
				label:       label,
				origin:      entry.origin,
				destination: entry.destination,
			}
			break
		}
	}
	v.mu.Unlock()

	var row models.LabelModel
	if err := v.store.db.WithContext(ctx).First(&row, "label_id = ?", labelID).Error; err != nil {
		return "", fmt.Errorf("loading label %d: %w", labelID, err)
	}
	row.FromDomain(v.orderID, shipmentID, label)
	if err := v.store.db.WithContext(ctx).Save(&row).Error; err != nil {
		return "", fmt.Errorf("updating label %d: %w", labelID, err)
	}
	return shipmentID, nil
}

// findLabel locates a label by id across shipments. Callers hold v.mu.
func (v *OrderView) findLabel(labelID int64) (shipping.ShipmentID, *shipping.Label) {
	for shipmentID, entries := range v.labels {
		for _, entry := range entries {
			if entry.label.LabelID == labelID {
				return shipmentID, entry.label
			}
		}
	}
	return "", nil
}

func (v *OrderView) publishLabelChanged(ctx context.Context, shipmentID shipping.ShipmentID, label *shipping.Label) {
	if v.store.bus == nil {
		return
	}
	event := shipping.NewLabelChangedEvent(shipmentID, label.LabelID, label.Status)
	if err := v.store.bus.Publish(ctx, event); err != nil {
		v.store.logger.Error("publishing label changed event",
			zap.Int64("label_id", label.LabelID),
			zap.Error(err),
		)
	}
}

// StageLabelShipmentIDs re-keys stored labels and customs declarations
// when shipments are renumbered. The rename is computed over a snapshot
// before any row is touched, so swap mappings (1→2, 2→1) stay correct.
func (v *OrderView) StageLabelShipmentIDs(mapping shipping.ShipmentIDMap) {
	if len(mapping) == 0 {
		return
	}

	v.mu.Lock()
	remappedLabels := make(map[shipping.ShipmentID][]*storedLabel, len(v.labels))
	for shipmentID, entries := range v.labels {
		target := shipmentID
		if to, ok := mapping[shipmentID]; ok {
			target = to
		}
		remappedLabels[target] = append(remappedLabels[target], entries...)
	}
	v.labels = remappedLabels

	remappedCustoms := make(map[shipping.ShipmentID]*shipping.CustomsState, len(v.customs))
	for shipmentID, state := range v.customs {
		target := shipmentID
		if to, ok := mapping[shipmentID]; ok {
			target = to
		}
		remappedCustoms[target] = state
	}
	v.customs = remappedCustoms
	v.mu.Unlock()

	ctx := context.Background()
	err := v.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var labelRows []models.LabelModel
		if err := tx.Where("order_id = ?", v.orderID).Find(&labelRows).Error; err != nil {
			return err
		}
		for i := range labelRows {
			row := &labelRows[i]
			if to, ok := mapping[shipping.ShipmentID(row.ShipmentID)]; ok {
				if err := tx.Model(&models.LabelModel{}).
					Where("id = ?", row.ID).
					Update("shipment_id", string(to)).Error; err != nil {
					return err
				}
			}
		}

		var customsRows []models.CustomsModel
		if err := tx.Where("order_id = ?", v.orderID).Find(&customsRows).Error; err != nil {
			return err
		}
		for i := range customsRows {
			row := &customsRows[i]
			if to, ok := mapping[shipping.ShipmentID(row.ShipmentID)]; ok {
				if err := tx.Model(&models.CustomsModel{}).
					Where("id = ?", row.ID).
					Update("shipment_id", string(to)).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		v.store.logger.Error("staging label shipment ids",
			zap.Int64("order_id", v.orderID),
			zap.Error(err),
		)
	}
}

// SavedPackages returns the merchant's custom package templates
func (v *OrderView) SavedPackages() []shipping.CustomPackage {
	return v.store.SavedPackages()
}

// PredefinedPackages returns the carrier's flat-rate package templates
func (v *OrderView) PredefinedPackages(carrierID string) []shipping.PredefinedPackage {
	return v.store.PredefinedPackages(carrierID)
}

// DeleteCustomPackage removes a custom package template
func (v *OrderView) DeleteCustomPackage(ctx context.Context, id string) error {
	return v.store.DeleteCustomPackage(ctx, id)
}

// UpdateFavoritePackages flags package templates as favorites
func (v *OrderView) UpdateFavoritePackages(ctx context.Context, favorites map[string]bool) error {
	return v.store.UpdateFavoritePackages(ctx, favorites)
}

// SavedPackages returns the merchant's custom package templates. The
// templates are account-wide, not order-scoped.
func (s *Store) SavedPackages() []shipping.CustomPackage {
	var rows []models.PackageTemplateModel
	if err := s.db.Order("name ASC").Find(&rows).Error; err != nil {
		s.logger.Error("loading package templates", zap.Error(err))
		return nil
	}
	packages := make([]shipping.CustomPackage, 0, len(rows))
	for i := range rows {
		packages = append(packages, rows[i].ToDomain())
	}
	return packages
}

// PredefinedPackages returns the carrier's flat-rate package templates,
// optionally filtered by carrier
func (s *Store) PredefinedPackages(carrierID string) []shipping.PredefinedPackage {
	var rows []models.PredefinedPackageModel
	query := s.db.Order("name ASC")
	if carrierID != "" {
		query = query.Where("carrier_id = ?", carrierID)
	}
	if err := query.Find(&rows).Error; err != nil {
		s.logger.Error("loading predefined packages", zap.Error(err))
		return nil
	}
	packages := make([]shipping.PredefinedPackage, 0, len(rows))
	for i := range rows {
		packages = append(packages, rows[i].ToDomain())
	}
	return packages
}

// DeleteCustomPackage removes a custom package template
func (s *Store) DeleteCustomPackage(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.PackageTemplateModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting package template %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateFavoritePackages flags package templates as favorites
func (s *Store) UpdateFavoritePackages(ctx context.Context, favorites map[string]bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, favorite := range favorites {
			if err := tx.Model(&models.PackageTemplateModel{}).
				Where("id = ?", id).
				Update("is_favorite", favorite).Error; err != nil {
				return fmt.Errorf("updating favorite flag for %s: %w", id, err)
			}
		}
		return nil
	})
}

// SaveOrder persists an order's destination, shipments and account meta
// so a workspace can be rebuilt for it later
func (s *Store) SaveOrder(ctx context.Context, orderID int64, destination *shipping.Address,
	shipments map[shipping.ShipmentID][]shipping.ShipmentItem, meta shipping.PurchaseMeta) error {

	destinationJSON, err := json.Marshal(destination)
	if err != nil {
		return fmt.Errorf("encoding destination: %w", err)
	}
	shipmentsJSON, err := json.Marshal(shipments)
	if err != nil {
		return fmt.Errorf("encoding shipments: %w", err)
	}

	row := models.OrderModel{
		OrderID:            orderID,
		DestinationJSON:    destinationJSON,
		ShipmentsJSON:      shipmentsJSON,
		LastOrderCompleted: meta.LastOrderCompleted,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"destination_json", "shipments_json", "last_order_completed", "updated_at"}),
	}).Create(&row).Error
}

// SaveOriginAddresses replaces the selectable origin address list
func (s *Store) SaveOriginAddresses(ctx context.Context, addresses []shipping.Address) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.OriginAddressModel{}).Error; err != nil {
			return err
		}
		for i, address := range addresses {
			addressJSON, err := json.Marshal(address)
			if err != nil {
				return err
			}
			id := address.ID
			if id == "" {
				id = strconv.Itoa(i)
			}
			row := models.OriginAddressModel{
				ID:          id,
				Position:    i,
				AddressJSON: addressJSON,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// OrderIDs returns all order ids known to the store, ascending
func (s *Store) OrderIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Pluck("order_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Ensure OrderView implements the domain store surfaces
var (
	_ shipping.PurchaseStore = (*OrderView)(nil)
	_ shipping.AddressBook   = (*OrderView)(nil)
)
