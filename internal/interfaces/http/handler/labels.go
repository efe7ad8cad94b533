// Package handler exposes the label purchase workflow over REST.
package handler

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shiplabel/backend/internal/application/labels"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// LabelsHandler handles the per-order label workflow endpoints
type LabelsHandler struct {
	BaseHandler
	manager *labels.Manager
	logger  *zap.Logger
}

// NewLabelsHandler creates a LabelsHandler
func NewLabelsHandler(manager *labels.Manager, logger *zap.Logger) *LabelsHandler {
	return &LabelsHandler{
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes registers the label workflow routes
func (h *LabelsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/shipping/orders/:order_id")
	{
		orders.GET("/shipments", h.GetShipments)
		orders.PUT("/shipments", h.SetShipments)
		orders.PUT("/shipments/current", h.SetCurrentShipment)
		orders.PUT("/shipments/selection", h.SetSelection)

		orders.GET("/addresses", h.GetAddresses)
		orders.PUT("/origin", h.SetOrigin)

		orders.POST("/rates", h.FetchRates)
		orders.GET("/rates", h.GetRates)
		orders.PUT("/rates/selection", h.SelectRate)

		orders.GET("/customs", h.GetCustoms)
		orders.PUT("/customs", h.SetCustoms)
		orders.PUT("/customs/errors", h.SetCustomsErrors)

		orders.GET("/hazmat", h.GetHazmat)
		orders.PUT("/hazmat", h.SetHazmat)

		orders.PUT("/package", h.SelectPackage)

		orders.GET("/labels", h.GetLabels)
		orders.POST("/labels/purchase", h.PurchaseLabel)
		orders.POST("/labels/status", h.RefreshLabelStatus)
		orders.POST("/labels/refund", h.RefundLabel)
		orders.GET("/labels/print", h.PrintLabel)
		orders.GET("/labels/paper-sizes", h.GetPaperSizes)
	}
}

// workspace resolves the order's label workspace from the path
func (h *LabelsHandler) workspace(c *gin.Context) (*labels.Workspace, bool) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil {
		h.BadRequest(c, "invalid order id")
		return nil, false
	}
	w, err := h.manager.Workspace(c.Request.Context(), orderID)
	if err != nil {
		h.NotFound(c, "order not found")
		return nil, false
	}
	return w, true
}

// shipmentIDQuery reads the optional shipment_id query parameter; the
// empty value selects the current shipment
func shipmentIDQuery(c *gin.Context) shipping.ShipmentID {
	return shipping.ShipmentID(c.Query("shipment_id"))
}

// GetShipments returns the order's shipment mapping and cursor
func (h *LabelsHandler) GetShipments(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	h.Success(c, gin.H{
		"shipments":           w.Shipments.Shipments(),
		"shipment_ids":        w.Shipments.ShipmentIDs(),
		"current_shipment_id": w.Shipments.CurrentShipmentID(),
		"staged_remap":        w.Shipments.StagedShipmentIDRemap(),
	})
}

type setShipmentsRequest struct {
	Shipments map[shipping.ShipmentID][]shipping.ShipmentItem `json:"shipments" binding:"required"`
	Remap     shipping.ShipmentIDMap                          `json:"remap"`
}

// SetShipments replaces the order's shipment mapping, optionally
// staging a shipment-id rename into the label store
func (h *LabelsHandler) SetShipments(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var req setShipmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid shipments payload: "+err.Error())
		return
	}
	w.Shipments.SetShipments(c.Request.Context(), req.Shipments, req.Remap)
	h.Success(c, gin.H{
		"shipment_ids": w.Shipments.ShipmentIDs(),
	})
}

type setCurrentShipmentRequest struct {
	ShipmentID shipping.ShipmentID `json:"shipment_id" binding:"required"`
}

// SetCurrentShipment moves the current-shipment cursor
func (h *LabelsHandler) SetCurrentShipment(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var req setCurrentShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid payload: "+err.Error())
		return
	}
	if w.Shipments.Items(req.ShipmentID) == nil {
		h.NotFound(c, "unknown shipment id")
		return
	}
	w.Shipments.SetCurrentShipmentID(req.ShipmentID)
	h.NoContent(c)
}

type setSelectionRequest struct {
	ShipmentID shipping.ShipmentID     `json:"shipment_id"`
	Items      []shipping.ShipmentItem `json:"items"`
}

// SetSelection replaces the selected item subset for a shipment
func (h *LabelsHandler) SetSelection(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var req setSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid payload: "+err.Error())
		return
	}
	w.Shipments.SetSelection(req.ShipmentID, req.Items)
	h.NoContent(c)
}

// GetAddresses returns the resolved addresses for a shipment together
// with the selectable origins
func (h *LabelsHandler) GetAddresses(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	shipmentID := shipmentIDQuery(c)
	h.Success(c, gin.H{
		"origin":          w.Addresses.Origin(shipmentID),
		"destination":     w.Addresses.Destination(shipmentID),
		"purchase_origin": w.Addresses.PurchaseOrigin(shipmentID),
	})
}

type setOriginRequest struct {
	OriginID string `json:"origin_id" binding:"required"`
}

// SetOrigin updates the origin override for the current shipment
func (h *LabelsHandler) SetOrigin(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var req setOriginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid payload: "+err.Error())
		return
	}
	w.Addresses.SetOrigin(req.OriginID)
	h.Success(c, gin.H{"origin": w.Addresses.Origin("")})
}

type fetchRatesRequest struct {
	ShipmentID shipping.ShipmentID     `json:"shipment_id"`
	Package    shipping.RequestPackage `json:"package" binding:"required"`
}

// FetchRates fetches rate quotes for a shipment's package
func (h *LabelsHandler) FetchRates(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var req fetchRatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid rates payload: "+err.Error())
		return
	}
	rates, err := w.Rates.FetchRates(c.Request.Context(), req.ShipmentID, req.Package)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"rates": rates})
}

// GetRates returns the latest quotes and selection for a shipment
func (h *LabelsHandler) GetRates(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	shipmentID := shipmentIDQuery(c)
	h.Success(c, gin.H{
		"rates":    w.Rates.Rates(shipmentID),
		"selected": w.Rates.SelectedRate(shipmentID),
	})
}

type selectRateRequest struct {
	ShipmentID shipping.ShipmentID `json:"shipment_id"`
	Rate       shipping.Rate       `json:"rate" binding:"required"`
	Parent     *shipping.Rate      `json:"parent"`
}

// SelectRate records the rate selection for a shipment
func (h *LabelsHandler) SelectRate(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var req selectRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid rate selection: "+err.Error())
		return
	}
	w.Rates.SelectRate(req.ShipmentID, req.Rate, req.Parent)
	h.NoContent(c)
}

// GetCustoms returns the customs declaration, requirements and staged
// errors for a shipment
func (h *LabelsHandler) GetCustoms(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	shipmentID := shipmentIDQuery(c)
	h.Success(c, gin.H{
		"required":           w.Customs.IsRequired(),
		"hs_tariff_required": w.Customs.IsHSTariffRequired(),
		"state":              w.Customs.State(shipmentID),
		"errors":             w.Customs.Errors(shipmentID),
		"has_errors":         w.Customs.HasErrors(),
	})
}

// SetCustoms replaces the current shipment's customs declaration
func (h *LabelsHandler) SetCustoms(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var state shipping.CustomsState
	if err := c.ShouldBindJSON(&state); err != nil {
		h.BadRequest(c, "invalid customs payload: "+err.Error())
		return
	}
	w.Customs.SetState(&state)
	h.NoContent(c)
}

type setCustomsErrorsRequest struct {
	ShipmentID shipping.ShipmentID    `json:"shipment_id"`
	Errors     shipping.CustomsErrors `json:"errors"`
}

// SetCustomsErrors stages validation errors for a shipment's declaration
func (h *LabelsHandler) SetCustomsErrors(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var req setCustomsErrorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid payload: "+err.Error())
		return
	}
	w.Customs.SetErrors(req.ShipmentID, &req.Errors)
	h.NoContent(c)
}

// GetHazmat returns the hazmat declaration for a shipment
func (h *LabelsHandler) GetHazmat(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	h.Success(c, w.Hazmat.State(shipmentIDQuery(c)))
}

// SetHazmat replaces the hazmat declaration for the current shipment
func (h *LabelsHandler) SetHazmat(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var state shipping.HazmatState
	if err := c.ShouldBindJSON(&state); err != nil {
		h.BadRequest(c, "invalid hazmat payload: "+err.Error())
		return
	}
	w.Hazmat.SetState(state)
	h.NoContent(c)
}

// SelectPackage records the package selection for the current shipment
func (h *LabelsHandler) SelectPackage(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var spec shipping.PackageSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		h.BadRequest(c, "invalid package payload: "+err.Error())
		return
	}
	w.Packages.SelectPackage(spec)
	h.NoContent(c)
}

// GetLabels returns the label state for every shipment of the order
func (h *LabelsHandler) GetLabels(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	type shipmentLabels struct {
		Label         *shipping.Label      `json:"label"`
		Refunded      *shipping.Label      `json:"refunded_label,omitempty"`
		IsUpdating    bool                 `json:"is_updating"`
		StatusError   *shipping.LabelError `json:"status_error,omitempty"`
		HasPurchased  bool                 `json:"has_purchased_label"`
		RefundPending bool                 `json:"refund_requested"`
	}
	byShipment := map[string]shipmentLabels{}
	for _, shipmentID := range w.Shipments.ShipmentIDs() {
		byShipment[string(shipmentID)] = shipmentLabels{
			Label:         w.Engine.LabelFor(shipmentID),
			Refunded:      w.Engine.RefundedLabelFor(shipmentID),
			IsUpdating:    w.Engine.IsUpdating(shipmentID),
			StatusError:   w.Engine.StatusError(shipmentID),
			HasPurchased:  w.Engine.HasPurchasedLabel(true, true, shipmentID),
			RefundPending: w.Engine.HasRequestedRefund(shipmentID),
		}
	}
	h.Success(c, gin.H{
		"shipments":               byShipment,
		"shipments_without_label": w.Engine.ShipmentsWithoutLabel(),
	})
}

// PurchaseLabel submits a label purchase for the current shipment
func (h *LabelsHandler) PurchaseLabel(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	label, err := w.Engine.RequestPurchase(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, gin.H{"label": label})
}

// RefreshLabelStatus runs the status poll for a shipment's label until
// it settles
func (h *LabelsHandler) RefreshLabelStatus(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	shipmentID := shipmentIDQuery(c)
	if err := w.Engine.UpdatePurchaseStatus(c.Request.Context(), shipmentID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"label": w.Engine.LabelFor(shipmentID)})
}

// RefundLabel requests a refund for the current shipment's label
func (h *LabelsHandler) RefundLabel(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	refund, err := w.Engine.RefundLabel(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"refund": refund})
}

type printLabelQuery struct {
	PaperSize string `form:"paper_size" binding:"omitempty,papersize"`
}

// PrintLabel streams the print-ready document for the current
// shipment's label
func (h *LabelsHandler) PrintLabel(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	var query printLabelQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BadRequest(c, "invalid paper size")
		return
	}
	document, err := w.Engine.PrintLabel(c.Request.Context(), query.PaperSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	content, err := base64.StdEncoding.DecodeString(document.B64)
	if err != nil {
		h.InternalError(c, "malformed print document")
		return
	}
	if document.FileName != "" {
		c.Header("Content-Disposition", `attachment; filename="`+document.FileName+`"`)
	}
	c.Data(http.StatusOK, document.MimeType, content)
}

// GetPaperSizes returns the available paper sizes and the stored choice
func (h *LabelsHandler) GetPaperSizes(c *gin.Context) {
	w, ok := h.workspace(c)
	if !ok {
		return
	}
	sizes := w.Engine.PaperSizes()
	h.Success(c, gin.H{
		"sizes":    sizes,
		"selected": shipping.FindPaperSize(sizes, w.Engine.PaperSize()),
	})
}
