package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shiplabel/backend/internal/application/labels"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// OrderCatalog is the account-wide order registration surface
type OrderCatalog interface {
	SaveOrder(ctx context.Context, orderID int64, destination *shipping.Address,
		shipments map[shipping.ShipmentID][]shipping.ShipmentItem, meta shipping.PurchaseMeta) error
	SaveOriginAddresses(ctx context.Context, addresses []shipping.Address) error
	OrderIDs(ctx context.Context) ([]int64, error)
}

// OrdersHandler handles order registration and origin address endpoints
type OrdersHandler struct {
	BaseHandler
	catalog OrderCatalog
	manager *labels.Manager
	logger  *zap.Logger
}

// NewOrdersHandler creates an OrdersHandler
func NewOrdersHandler(catalog OrderCatalog, manager *labels.Manager, logger *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		catalog: catalog,
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes registers the order registration routes
func (h *OrdersHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/shipping")
	{
		group.GET("/orders", h.ListOrders)
		group.PUT("/orders/:order_id", h.SaveOrder)
		group.DELETE("/orders/:order_id/workspace", h.ReleaseWorkspace)
		group.PUT("/origin-addresses", h.SaveOriginAddresses)
	}
}

// ListOrders returns the ids of orders known to the label store
func (h *OrdersHandler) ListOrders(c *gin.Context) {
	ids, err := h.catalog.OrderIDs(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"order_ids": ids})
}

type saveOrderRequest struct {
	Destination *shipping.Address                               `json:"destination"`
	Shipments   map[shipping.ShipmentID][]shipping.ShipmentItem `json:"shipments"`
	Meta        shipping.PurchaseMeta                           `json:"meta"`
}

// SaveOrder registers an order's destination, shipments and metadata so
// a label workspace can be opened for it
func (h *OrdersHandler) SaveOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil {
		h.BadRequest(c, "invalid order id")
		return
	}
	var req saveOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid order payload: "+err.Error())
		return
	}
	if err := h.catalog.SaveOrder(c.Request.Context(), orderID, req.Destination, req.Shipments, req.Meta); err != nil {
		h.HandleError(c, err)
		return
	}
	// Stale workspaces would keep serving the old snapshot
	h.manager.Release(orderID)
	h.NoContent(c)
}

// ReleaseWorkspace drops the in-memory workspace for an order
func (h *OrdersHandler) ReleaseWorkspace(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
	if err != nil {
		h.BadRequest(c, "invalid order id")
		return
	}
	h.manager.Release(orderID)
	h.NoContent(c)
}

type saveOriginAddressesRequest struct {
	Addresses []shipping.Address `json:"addresses" binding:"required"`
}

// SaveOriginAddresses replaces the merchant's selectable origin
// addresses
func (h *OrdersHandler) SaveOriginAddresses(c *gin.Context) {
	var req saveOriginAddressesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid addresses payload: "+err.Error())
		return
	}
	if err := h.catalog.SaveOriginAddresses(c.Request.Context(), req.Addresses); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
