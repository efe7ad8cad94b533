package labels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShipmentItems() map[shipping.ShipmentID][]shipping.ShipmentItem {
	return map[shipping.ShipmentID][]shipping.ShipmentItem{
		"0": {
			{ProductID: 1, Name: "Boots", Quantity: 2, Weight: "1.5", Price: "89.99"},
			{ProductID: 2, Name: "Socks", Quantity: 1, Weight: "0.25", Price: "9.99"},
		},
	}
}

func testRate() shipping.Rate {
	return shipping.Rate{
		RateID:     "rate-1",
		ShipmentID: "carrier-ship-1",
		ServiceID:  "svc-priority",
		CarrierID:  "usps",
		Title:      "Priority Mail",
	}
}

// makeReady selects a package and a rate so a purchase can be submitted
func makeReady(w *Workspace) {
	w.Packages.SelectPackage(shipping.PackageSpec{
		ID: "medium_box", BoxID: "medium_box", Length: "12", Width: "8", Height: "4",
	})
	w.Rates.SelectRate("0", testRate(), nil)
}

func TestRequestPurchaseGuards(t *testing.T) {
	destination := &shipping.Address{ID: "dest-1", Country: "US"}

	t.Run("not ready without a package selection", func(t *testing.T) {
		w := newTestWorkspace(t, newFakeOrderStore(testShipmentItems(), destination), &fakeCarrierAPI{})
		_, err := w.Engine.RequestPurchase(context.Background())
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATE", domainErr.Code)
		assert.EqualError(t, err, "no package selected for shipment")
	})

	t.Run("not ready without a rate selection", func(t *testing.T) {
		w := newTestWorkspace(t, newFakeOrderStore(testShipmentItems(), destination), &fakeCarrierAPI{})
		w.Packages.SelectPackage(shipping.PackageSpec{ID: "medium_box"})
		_, err := w.Engine.RequestPurchase(context.Background())
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATE", domainErr.Code)
		assert.EqualError(t, err, "no rate selected for shipment")
	})

	t.Run("rejects when customs is incomplete", func(t *testing.T) {
		// EU destination requires HS tariff numbers the items do not carry
		store := newFakeOrderStore(testShipmentItems(), &shipping.Address{ID: "dest-1", Country: "DE"})
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		makeReady(w)
		_, err := w.Engine.RequestPurchase(context.Background())
		assert.EqualError(t, err, "purchase_error: customs information is incomplete")
		assert.Zero(t, store.purchaseCalls)
	})
}

func TestRequestPurchase(t *testing.T) {
	destination := &shipping.Address{ID: "dest-1", Country: "US"}

	t.Run("submits the composed package and returns the pending label", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		makeReady(w)

		label, err := w.Engine.RequestPurchase(context.Background())
		require.NoError(t, err)
		require.NotNil(t, label)
		assert.Equal(t, shipping.PurchaseInProgress, label.Status)
		assert.Equal(t, []int64{1, 1, 2}, label.ProductIDs)

		require.Len(t, store.lastPackages, 1)
		pkg := store.lastPackages[0]
		assert.Equal(t, "carrier-ship-1", pkg.ShipmentID)
		assert.Equal(t, "svc-priority", pkg.ServiceID)
		assert.Equal(t, "Priority Mail", pkg.ServiceName)
		assert.InDelta(t, 3.25, pkg.Weight, 1e-9)
		assert.InDelta(t, 12.0, pkg.Length, 1e-9)
		assert.Nil(t, pkg.Hazmat)

		require.NotNil(t, store.LabelOrigin("0"))
		assert.Equal(t, "origin-1", store.LabelOrigin("0").ID)
	})

	t.Run("carries the hazmat declaration when set", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		makeReady(w)
		w.Hazmat.SetState(shipping.HazmatState{IsHazmat: true, Category: "class_9"})

		_, err := w.Engine.RequestPurchase(context.Background())
		require.NoError(t, err)
		require.NotNil(t, store.lastPackages[0].Hazmat)
		assert.Equal(t, "class_9", store.lastPackages[0].Hazmat.Category)
	})

	t.Run("a second submission for the same shipment is rejected", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		makeReady(w)

		started := make(chan struct{})
		block := make(chan struct{})
		store.purchaseFn = func(*fakeOrderStore) error {
			close(started)
			<-block
			return nil
		}

		done := make(chan error, 1)
		go func() {
			_, err := w.Engine.RequestPurchase(context.Background())
			done <- err
		}()
		<-started

		_, err := w.Engine.RequestPurchase(context.Background())
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATE", domainErr.Code)

		close(block)
		require.NoError(t, <-done)
		assert.Equal(t, 1, store.purchaseCalls)
	})

	t.Run("failure reverts the staged remap and refreshes rates", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		api := &fakeCarrierAPI{rates: []shipping.Rate{testRate()}}
		w := newTestWorkspace(t, store, api)
		makeReady(w)

		_, err := w.Rates.FetchRates(context.Background(), "0", shipping.RequestPackage{ID: "medium_box"})
		require.NoError(t, err)
		require.Equal(t, 1, api.rateCalls)

		w.Shipments.SetShipments(context.Background(), map[shipping.ShipmentID][]shipping.ShipmentItem{
			"0": testShipmentItems()["0"],
		}, shipping.ShipmentIDMap{"0": "0"})
		store.purchaseErr = errors.New("carrier unavailable")

		_, err = w.Engine.RequestPurchase(context.Background())
		assert.EqualError(t, err, "carrier unavailable")
		assert.Empty(t, w.Shipments.StagedShipmentIDRemap())
		assert.Equal(t, 2, api.rateCalls)
	})
}

func TestUpdatePurchaseStatus(t *testing.T) {
	destination := &shipping.Address{ID: "dest-1", Country: "US"}

	purchased := func(t *testing.T, store *fakeOrderStore, w *Workspace) *shipping.Label {
		t.Helper()
		makeReady(w)
		label, err := w.Engine.RequestPurchase(context.Background())
		require.NoError(t, err)
		return label
	}

	t.Run("no label to track", func(t *testing.T) {
		w := newTestWorkspace(t, newFakeOrderStore(testShipmentItems(), destination), &fakeCarrierAPI{})
		err := w.Engine.UpdatePurchaseStatus(context.Background(), "0")
		assert.EqualError(t, err, "status_error: no label to track for shipment")
	})

	t.Run("settled label is a no-op", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		purchased(t, store, w)
		store.setLabelStatus("0", shipping.Purchased, "")

		require.NoError(t, w.Engine.UpdatePurchaseStatus(context.Background(), "0"))
		assert.Zero(t, store.fetchCalls)
	})

	t.Run("polls until the label settles as purchased", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		purchased(t, store, w)

		store.fetchFn = func(f *fakeOrderStore) error {
			if f.fetchCalls >= 3 {
				f.setLabelStatus("0", shipping.Purchased, "")
			}
			return nil
		}

		require.NoError(t, w.Engine.UpdatePurchaseStatus(context.Background(), "0"))
		assert.Equal(t, 3, store.fetchCalls)
		assert.Nil(t, w.Engine.StatusError("0"))
	})

	t.Run("terminal purchase error is staged and returned", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		api := &fakeCarrierAPI{rates: []shipping.Rate{testRate()}}
		w := newTestWorkspace(t, store, api)
		purchased(t, store, w)

		store.fetchFn = func(f *fakeOrderStore) error {
			f.setLabelStatus("0", shipping.PurchaseErrored, "address not serviceable")
			return nil
		}

		err := w.Engine.UpdatePurchaseStatus(context.Background(), "0")
		var labelErr *shipping.LabelError
		require.ErrorAs(t, err, &labelErr)
		assert.Equal(t, shipping.CauseStatusError, labelErr.Cause)
		assert.Equal(t, []string{"address not serviceable"}, labelErr.Message)
		assert.Equal(t, labelErr, w.Engine.StatusError("0"))
	})

	t.Run("already errored label rejects without polling", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		purchased(t, store, w)
		store.setLabelStatus("0", shipping.PurchaseErrored, "address not serviceable")

		err := w.Engine.UpdatePurchaseStatus(context.Background(), "0")
		var labelErr *shipping.LabelError
		require.ErrorAs(t, err, &labelErr)
		assert.Equal(t, shipping.CauseStatusError, labelErr.Cause)
		assert.Equal(t, []string{"address not serviceable"}, labelErr.Message)
		assert.Equal(t, labelErr, w.Engine.StatusError("0"))
		assert.Zero(t, store.fetchCalls)
	})

	t.Run("fetch failure is staged as a status error", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		purchased(t, store, w)

		store.fetchFn = func(*fakeOrderStore) error {
			return errors.New("carrier timeout")
		}

		err := w.Engine.UpdatePurchaseStatus(context.Background(), "0")
		var labelErr *shipping.LabelError
		require.ErrorAs(t, err, &labelErr)
		assert.Equal(t, shipping.CauseStatusError, labelErr.Cause)
		require.NotNil(t, w.Engine.StatusError("0"))
	})

	t.Run("cancellation stops an unsettled poll", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		purchased(t, store, w)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := w.Engine.UpdatePurchaseStatus(ctx, "0")
		var labelErr *shipping.LabelError
		require.ErrorAs(t, err, &labelErr)
		assert.Equal(t, shipping.CauseStatusError, labelErr.Cause)
	})

	t.Run("concurrent calls for one shipment coalesce", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		purchased(t, store, w)

		block := make(chan struct{})
		store.fetchFn = func(*fakeOrderStore) error {
			<-block
			return nil
		}

		done := make(chan error, 1)
		go func() {
			done <- w.Engine.UpdatePurchaseStatus(context.Background(), "0")
		}()

		require.Eventually(t, func() bool {
			return w.Engine.IsUpdating("0")
		}, time.Second, time.Millisecond)

		require.NoError(t, w.Engine.UpdatePurchaseStatus(context.Background(), "0"))

		store.setLabelStatus("0", shipping.Purchased, "")
		close(block)
		require.NoError(t, <-done)
		assert.False(t, w.Engine.IsUpdating("0"))
	})
}

func TestRefundLabel(t *testing.T) {
	destination := &shipping.Address{ID: "dest-1", Country: "US"}

	t.Run("requires a purchased label", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})

		_, err := w.Engine.RefundLabel(context.Background())
		assert.EqualError(t, err, "refund_error: no purchased label to refund for shipment")

		makeReady(w)
		_, err = w.Engine.RequestPurchase(context.Background())
		require.NoError(t, err)

		// still in progress
		_, err = w.Engine.RefundLabel(context.Background())
		assert.EqualError(t, err, "refund_error: no purchased label to refund for shipment")
		assert.Zero(t, store.refundCalls)
	})

	t.Run("refunds a purchased label once", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		w := newTestWorkspace(t, store, &fakeCarrierAPI{})
		makeReady(w)
		_, err := w.Engine.RequestPurchase(context.Background())
		require.NoError(t, err)
		store.setLabelStatus("0", shipping.Purchased, "")

		refund, err := w.Engine.RefundLabel(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "r-1", refund.RefundID)
		assert.True(t, w.Engine.HasRequestedRefund("0"))

		_, err = w.Engine.RefundLabel(context.Background())
		assert.EqualError(t, err, "refund_error: a refund has already been requested for this label")
		assert.Equal(t, 1, store.refundCalls)
	})
}

func TestPrintLabel(t *testing.T) {
	destination := &shipping.Address{ID: "dest-1", Country: "US"}

	t.Run("requires a purchased label", func(t *testing.T) {
		w := newTestWorkspace(t, newFakeOrderStore(testShipmentItems(), destination), &fakeCarrierAPI{})
		_, err := w.Engine.PrintLabel(context.Background(), "")
		assert.EqualError(t, err, "print_error: no purchased label to print for shipment")
	})

	t.Run("fetches the document and records the paper size", func(t *testing.T) {
		store := newFakeOrderStore(testShipmentItems(), destination)
		api := &fakeCarrierAPI{document: &shipping.PrintDocument{MimeType: "application/pdf", B64: "JVBERi0="}}
		w := newTestWorkspace(t, store, api)
		makeReady(w)
		_, err := w.Engine.RequestPurchase(context.Background())
		require.NoError(t, err)
		store.setLabelStatus("0", shipping.Purchased, "")

		document, err := w.Engine.PrintLabel(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", document.MimeType)
		assert.Equal(t, shipping.PaperSizeLabel, api.printedSize)

		_, err = w.Engine.PrintLabel(context.Background(), shipping.PaperSizeLetter)
		require.NoError(t, err)
		assert.Equal(t, shipping.PaperSizeLetter, api.printedSize)
		assert.Equal(t, shipping.PaperSizeLetter, w.Engine.PaperSize())
	})
}

func TestHasPurchasedLabel(t *testing.T) {
	destination := &shipping.Address{ID: "dest-1", Country: "US"}
	store := newFakeOrderStore(testShipmentItems(), destination)
	w := newTestWorkspace(t, store, &fakeCarrierAPI{})

	assert.False(t, w.Engine.HasPurchasedLabel(false, false, "0"))

	makeReady(w)
	_, err := w.Engine.RequestPurchase(context.Background())
	require.NoError(t, err)

	assert.True(t, w.Engine.HasPurchasedLabel(false, false, "0"))
	assert.False(t, w.Engine.HasPurchasedLabel(true, false, "0"))

	// an errored label never counts as purchased
	store.setLabelStatus("0", shipping.PurchaseErrored, "address not serviceable")
	assert.False(t, w.Engine.HasPurchasedLabel(false, false, "0"))
	assert.False(t, w.Engine.HasPurchasedLabel(true, true, "0"))

	store.setLabelStatus("0", shipping.Purchased, "")
	assert.True(t, w.Engine.HasPurchasedLabel(true, true, "0"))

	_, err = w.Engine.RefundLabel(context.Background())
	require.NoError(t, err)
	assert.False(t, w.Engine.HasPurchasedLabel(true, true, "0"))
	assert.True(t, w.Engine.HasPurchasedLabel(false, false, "0"))
}

func TestShipmentsWithoutLabel(t *testing.T) {
	items := testShipmentItems()
	items["1"] = []shipping.ShipmentItem{{ProductID: 3, Quantity: 1, Weight: "1", Price: "5"}}
	store := newFakeOrderStore(items, &shipping.Address{ID: "dest-1", Country: "US"})
	w := newTestWorkspace(t, store, &fakeCarrierAPI{})

	assert.ElementsMatch(t, []shipping.ShipmentID{"0", "1"}, w.Engine.ShipmentsWithoutLabel())

	makeReady(w)
	_, err := w.Engine.RequestPurchase(context.Background())
	require.NoError(t, err)

	// a pending purchase does not satisfy the shipment yet
	assert.ElementsMatch(t, []shipping.ShipmentID{"0", "1"}, w.Engine.ShipmentsWithoutLabel())

	store.setLabelStatus("0", shipping.Purchased, "")
	assert.Equal(t, []shipping.ShipmentID{"1"}, w.Engine.ShipmentsWithoutLabel())

	// an errored purchase leaves the shipment needing a label
	store.setLabelStatus("0", shipping.PurchaseErrored, "address not serviceable")
	assert.ElementsMatch(t, []shipping.ShipmentID{"0", "1"}, w.Engine.ShipmentsWithoutLabel())
}
