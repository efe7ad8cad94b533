package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/shiplabel/backend/internal/infrastructure/carrier"
	"github.com/shiplabel/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// newTestDB opens a private in-memory database with the schema applied
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:labelstore%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// scriptedAPI returns canned carrier responses
type scriptedAPI struct {
	labels    []shipping.Label
	status    *shipping.Label
	refund    *shipping.Refund
	refundErr error
}

func (a *scriptedAPI) GetRates(context.Context, shipping.Address, *shipping.Address, shipping.RequestPackage) ([]shipping.Rate, error) {
	return nil, nil
}

func (a *scriptedAPI) PurchaseLabels(context.Context, carrier.PurchaseRequest) ([]shipping.Label, error) {
	return a.labels, nil
}

func (a *scriptedAPI) GetLabelStatus(context.Context, int64, int64) (*shipping.Label, error) {
	return a.status, nil
}

func (a *scriptedAPI) RefundLabel(context.Context, int64, int64) (*shipping.Refund, error) {
	return a.refund, a.refundErr
}

func (a *scriptedAPI) GetPrintDocument(context.Context, string, int64) (*shipping.PrintDocument, error) {
	return nil, nil
}

var _ carrier.API = (*scriptedAPI)(nil)

// recordingPublisher captures published domain events
type recordingPublisher struct {
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.events = append(p.events, events...)
	return nil
}

func newTestStore(t *testing.T, api carrier.API) (*Store, *recordingPublisher) {
	t.Helper()
	bus := &recordingPublisher{}
	return NewStore(newTestDB(t), api, bus, zap.NewNop()), bus
}

func seedOrder(t *testing.T, store *Store, orderID int64) {
	t.Helper()
	require.NoError(t, store.SaveOrder(context.Background(), orderID,
		&shipping.Address{ID: "dest-1", Country: "US", City: "Denver"},
		map[shipping.ShipmentID][]shipping.ShipmentItem{
			"0": {{ProductID: 1, Name: "Boots", Quantity: 2, Weight: "1.5", Price: "89.99"}},
		},
		shipping.PurchaseMeta{LastOrderCompleted: true},
	))
	require.NoError(t, store.SaveOriginAddresses(context.Background(), []shipping.Address{
		{ID: "origin-1", Country: "US", City: "Seattle"},
		{ID: "origin-2", Country: "US", City: "Portland"},
	}))
}

func TestStoreForOrder(t *testing.T) {
	store, _ := newTestStore(t, &scriptedAPI{})
	seedOrder(t, store, 7)

	t.Run("loads the saved order snapshot", func(t *testing.T) {
		view, err := store.ForOrder(context.Background(), 7)
		require.NoError(t, err)

		assert.Equal(t, int64(7), view.OrderID())
		require.NotNil(t, view.OrderDestination())
		assert.Equal(t, "Denver", view.OrderDestination().City)
		assert.True(t, view.Meta().LastOrderCompleted)

		shipments := view.Shipments()
		require.Len(t, shipments, 1)
		assert.Equal(t, "Boots", shipments["0"][0].Name)

		origins := view.OriginAddresses()
		require.Len(t, origins, 2)
		assert.Equal(t, "origin-1", origins[0].ID)
	})

	t.Run("unknown order fails", func(t *testing.T) {
		_, err := store.ForOrder(context.Background(), 404)
		assert.Error(t, err)
	})

	t.Run("saving again replaces the snapshot", func(t *testing.T) {
		require.NoError(t, store.SaveOrder(context.Background(), 7,
			&shipping.Address{ID: "dest-2", Country: "CA", City: "Toronto"},
			map[shipping.ShipmentID][]shipping.ShipmentItem{"0": {}},
			shipping.PurchaseMeta{},
		))
		view, err := store.ForOrder(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, "Toronto", view.OrderDestination().City)
		assert.False(t, view.Meta().LastOrderCompleted)
	})
}

func TestOrderViewPurchaseLabel(t *testing.T) {
	api := &scriptedAPI{labels: []shipping.Label{{
		LabelID:    1001,
		Status:     shipping.PurchaseInProgress,
		ProductIDs: []int64{1, 1},
		Carrier:    "usps",
		Service:    "Priority Mail",
		Rate:       7.95,
		Currency:   "USD",
	}}}
	store, bus := newTestStore(t, api)
	seedOrder(t, store, 7)

	view, err := store.ForOrder(context.Background(), 7)
	require.NoError(t, err)

	origin := shipping.Address{ID: "origin-1", Country: "US", City: "Seattle"}
	customs := map[string]*shipping.CustomsState{
		"0": {ContentsType: "merchandise", RestrictionType: "none"},
	}
	err = view.PurchaseLabel(context.Background(), 7, []shipping.RequestPackage{{ID: "medium_box"}},
		"0", nil, nil, origin, customs, shipping.PurchaseMeta{})
	require.NoError(t, err)

	t.Run("label and snapshots visible in the view", func(t *testing.T) {
		label := view.PurchasedLabel("0")
		require.NotNil(t, label)
		assert.Equal(t, int64(1001), label.LabelID)
		assert.Equal(t, shipping.PurchaseInProgress, label.Status)

		require.NotNil(t, view.LabelOrigin("0"))
		assert.Equal(t, "Seattle", view.LabelOrigin("0").City)
		require.NotNil(t, view.LabelDestination("0"))
		assert.Equal(t, "Denver", view.LabelDestination("0").City)
		require.NotNil(t, view.CustomsInformation("0"))
	})

	t.Run("a label changed event is published", func(t *testing.T) {
		require.NotEmpty(t, bus.events)
		event, ok := bus.events[len(bus.events)-1].(*shipping.LabelChangedEvent)
		require.True(t, ok)
		assert.Equal(t, int64(1001), event.LabelID)
		assert.Equal(t, shipping.PurchaseInProgress, event.Status)
	})

	t.Run("the purchase survives a reload", func(t *testing.T) {
		reloaded, err := store.ForOrder(context.Background(), 7)
		require.NoError(t, err)
		label := reloaded.PurchasedLabel("0")
		require.NotNil(t, label)
		assert.Equal(t, int64(1001), label.LabelID)
		assert.Equal(t, []int64{1, 1}, label.ProductIDs)
		assert.Equal(t, "Seattle", reloaded.LabelOrigin("0").City)
		require.NotNil(t, reloaded.CustomsInformation("0"))
	})
}

func TestOrderViewFetchLabelStatus(t *testing.T) {
	api := &scriptedAPI{labels: []shipping.Label{{LabelID: 1001, Status: shipping.PurchaseInProgress}}}
	store, bus := newTestStore(t, api)
	seedOrder(t, store, 7)
	view, err := store.ForOrder(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, view.PurchaseLabel(context.Background(), 7, nil, "0", nil, nil,
		shipping.Address{ID: "origin-1", Country: "US"}, nil, shipping.PurchaseMeta{}))

	api.status = &shipping.Label{LabelID: 1001, Status: shipping.Purchased, Rate: 7.95}
	require.NoError(t, view.FetchLabelStatus(context.Background(), 7, 1001))

	t.Run("replaces the stored record", func(t *testing.T) {
		label := view.PurchasedLabel("0")
		require.NotNil(t, label)
		assert.Equal(t, shipping.Purchased, label.Status)

		reloaded, err := store.ForOrder(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, shipping.Purchased, reloaded.PurchasedLabel("0").Status)
	})

	t.Run("publishes the refreshed status", func(t *testing.T) {
		event, ok := bus.events[len(bus.events)-1].(*shipping.LabelChangedEvent)
		require.True(t, ok)
		assert.Equal(t, shipping.Purchased, event.Status)
	})

	t.Run("unknown label fails", func(t *testing.T) {
		api.status = &shipping.Label{LabelID: 9999, Status: shipping.Purchased}
		assert.Error(t, view.FetchLabelStatus(context.Background(), 7, 9999))
	})
}

func TestOrderViewRefundLabel(t *testing.T) {
	api := &scriptedAPI{
		labels: []shipping.Label{{LabelID: 1001, Status: shipping.Purchased}},
		refund: &shipping.Refund{RefundID: "r-1", Status: "pending"},
	}
	store, _ := newTestStore(t, api)
	seedOrder(t, store, 7)
	view, err := store.ForOrder(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, view.PurchaseLabel(context.Background(), 7, nil, "0", nil, nil,
		shipping.Address{ID: "origin-1", Country: "US"}, nil, shipping.PurchaseMeta{}))

	refund, err := view.RefundLabel(context.Background(), 7, 1001)
	require.NoError(t, err)
	assert.Equal(t, "r-1", refund.RefundID)

	t.Run("the refund annotates the label", func(t *testing.T) {
		assert.Nil(t, view.PurchasedLabel("0"))
		refunded := view.RefundedLabel("0")
		require.NotNil(t, refunded)
		assert.Equal(t, "r-1", refunded.Refund.RefundID)
	})

	t.Run("the annotation survives a reload", func(t *testing.T) {
		reloaded, err := store.ForOrder(context.Background(), 7)
		require.NoError(t, err)
		assert.Nil(t, reloaded.PurchasedLabel("0"))
		require.NotNil(t, reloaded.RefundedLabel("0"))
	})
}

func TestOrderViewStageLabelShipmentIDs(t *testing.T) {
	api := &scriptedAPI{labels: []shipping.Label{{LabelID: 1001, Status: shipping.Purchased}}}
	store, _ := newTestStore(t, api)
	seedOrder(t, store, 7)
	view, err := store.ForOrder(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, view.PurchaseLabel(context.Background(), 7, nil, "1", nil, nil,
		shipping.Address{ID: "origin-1", Country: "US"},
		map[string]*shipping.CustomsState{"1": {ContentsType: "merchandise"}},
		shipping.PurchaseMeta{}))

	view.StageLabelShipmentIDs(shipping.ShipmentIDMap{"1": "2"})

	t.Run("labels and customs move to the new id", func(t *testing.T) {
		assert.Nil(t, view.PurchasedLabel("1"))
		require.NotNil(t, view.PurchasedLabel("2"))
		assert.Nil(t, view.CustomsInformation("1"))
		assert.NotNil(t, view.CustomsInformation("2"))
	})

	t.Run("the rename is persisted", func(t *testing.T) {
		reloaded, err := store.ForOrder(context.Background(), 7)
		require.NoError(t, err)
		assert.Nil(t, reloaded.PurchasedLabel("1"))
		require.NotNil(t, reloaded.PurchasedLabel("2"))
	})

	t.Run("swap mappings move both sides", func(t *testing.T) {
		api.labels = []shipping.Label{{LabelID: 1002, Status: shipping.Purchased}}
		require.NoError(t, view.PurchaseLabel(context.Background(), 7, nil, "3", nil, nil,
			shipping.Address{ID: "origin-1", Country: "US"}, nil, shipping.PurchaseMeta{}))
		view.StageLabelShipmentIDs(shipping.ShipmentIDMap{"2": "3", "3": "2"})

		require.NotNil(t, view.PurchasedLabel("2"))
		require.NotNil(t, view.PurchasedLabel("3"))
		assert.Equal(t, int64(1001), view.PurchasedLabel("3").LabelID)
	})
}

func TestStorePackageTemplates(t *testing.T) {
	store, _ := newTestStore(t, &scriptedAPI{})
	ctx := context.Background()

	require.NoError(t, store.db.Create(&models.PackageTemplateModel{
		ID: "tpl-zebra", Name: "Zebra box", Length: "10", Width: "8", Height: "4",
	}).Error)
	require.NoError(t, store.db.Create(&models.PackageTemplateModel{
		ID: "tpl-apple", Name: "Apple box", Length: "6", Width: "6", Height: "6",
	}).Error)
	require.NoError(t, store.db.Create(&models.PredefinedPackageModel{
		ID: "flat_rate_box", CarrierID: "usps", Name: "Flat Rate Box",
	}).Error)
	require.NoError(t, store.db.Create(&models.PredefinedPackageModel{
		ID: "express_pak", CarrierID: "fedex", Name: "Express Pak",
	}).Error)

	t.Run("saved packages come back name-ordered", func(t *testing.T) {
		saved := store.SavedPackages()
		require.Len(t, saved, 2)
		assert.Equal(t, "Apple box", saved[0].Name)
		assert.Equal(t, "Zebra box", saved[1].Name)
	})

	t.Run("predefined packages filter by carrier", func(t *testing.T) {
		assert.Len(t, store.PredefinedPackages(""), 2)
		usps := store.PredefinedPackages("usps")
		require.Len(t, usps, 1)
		assert.Equal(t, "flat_rate_box", usps[0].ID)
	})

	t.Run("favorites are flagged in place", func(t *testing.T) {
		require.NoError(t, store.UpdateFavoritePackages(ctx, map[string]bool{"tpl-apple": true}))
		saved := store.SavedPackages()
		assert.True(t, saved[0].IsFavorite)
		assert.False(t, saved[1].IsFavorite)
	})

	t.Run("delete removes the template", func(t *testing.T) {
		require.NoError(t, store.DeleteCustomPackage(ctx, "tpl-zebra"))
		assert.Len(t, store.SavedPackages(), 1)
	})

	t.Run("deleting a missing template reports not found", func(t *testing.T) {
		assert.ErrorIs(t, store.DeleteCustomPackage(ctx, "tpl-zebra"), shared.ErrNotFound)
	})
}

func TestStoreOrderIDs(t *testing.T) {
	store, _ := newTestStore(t, &scriptedAPI{})
	seedOrder(t, store, 9)
	seedOrder(t, store, 3)
	seedOrder(t, store, 7)

	ids, err := store.OrderIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7, 9}, ids)
}
