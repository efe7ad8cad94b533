package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// PackageCatalog is the account-wide package template surface
type PackageCatalog interface {
	SavedPackages() []shipping.CustomPackage
	PredefinedPackages(carrierID string) []shipping.PredefinedPackage
	DeleteCustomPackage(ctx context.Context, id string) error
	UpdateFavoritePackages(ctx context.Context, favorites map[string]bool) error
}

// PackagesHandler handles package template endpoints
type PackagesHandler struct {
	BaseHandler
	catalog PackageCatalog
	logger  *zap.Logger
}

// NewPackagesHandler creates a PackagesHandler
func NewPackagesHandler(catalog PackageCatalog, logger *zap.Logger) *PackagesHandler {
	return &PackagesHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers the package template routes
func (h *PackagesHandler) RegisterRoutes(rg *gin.RouterGroup) {
	packages := rg.Group("/shipping/packages")
	{
		packages.GET("", h.ListPackages)
		packages.DELETE("/:id", h.DeletePackage)
		packages.PUT("/favorites", h.UpdateFavorites)
	}
}

// ListPackages returns the saved custom templates and the carrier's
// predefined ones, optionally filtered by carrier_id
func (h *PackagesHandler) ListPackages(c *gin.Context) {
	h.Success(c, gin.H{
		"custom":     h.catalog.SavedPackages(),
		"predefined": h.catalog.PredefinedPackages(c.Query("carrier_id")),
	})
}

// DeletePackage removes a custom package template
func (h *PackagesHandler) DeletePackage(c *gin.Context) {
	if err := h.catalog.DeleteCustomPackage(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

type updateFavoritesRequest struct {
	Favorites map[string]bool `json:"favorites" binding:"required"`
}

// UpdateFavorites flags package templates as favorites
func (h *PackagesHandler) UpdateFavorites(c *gin.Context) {
	var req updateFavoritesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "invalid favorites payload: "+err.Error())
		return
	}
	if err := h.catalog.UpdateFavoritePackages(c.Request.Context(), req.Favorites); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
