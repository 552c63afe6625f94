package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"stoflow/internal/dispatch"
	"stoflow/internal/marketplace"
)

// TenantHandler exposes tenant-level dispatch controls: clearing the
// anti-bot pause once a human resolved the challenge.
type TenantHandler struct {
	pauser dispatch.Pauser
	logger *zap.Logger
}

func NewTenantHandler(pauser dispatch.Pauser, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{pauser: pauser, logger: logger}
}

// Resume handles POST /api/tenants/:id/resume.
func (h *TenantHandler) Resume(c echo.Context) error {
	tenantID := c.Param("id")
	marketplaceName := c.QueryParam("marketplace")
	if !marketplace.ValidMarketplace(marketplaceName) {
		return errorResponse(c, http.StatusBadRequest, "unknown marketplace: "+marketplaceName)
	}

	if err := h.pauser.Resume(c.Request().Context(), tenantID, marketplaceName); err != nil {
		h.logger.Error("Failed to resume tenant",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to resume tenant")
	}
	h.logger.Info("Tenant dispatch resumed",
		zap.String("tenant_id", tenantID), zap.String("marketplace", marketplaceName))
	return successResponse(c, "tenant resumed", nil)
}

// Status handles GET /api/tenants/:id/status.
func (h *TenantHandler) Status(c echo.Context) error {
	tenantID := c.Param("id")
	status := make(map[string]bool)
	for _, m := range []string{marketplace.Vinted, marketplace.Ebay, marketplace.Etsy} {
		paused, err := h.pauser.Paused(c.Request().Context(), tenantID, m)
		if err != nil {
			return errorResponse(c, http.StatusInternalServerError, "failed to read pause flags")
		}
		status[m] = paused
	}
	return successResponse(c, "", map[string]interface{}{"paused": status})
}
