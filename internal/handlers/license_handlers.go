package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"can_analyzer_shop/internal/services"
)

// LicenseHandler receives the callback from the license backend
type LicenseHandler struct {
	orders *services.OrderService
}

// NewLicenseHandler creates a new LicenseHandler
func NewLicenseHandler(orders *services.OrderService) *LicenseHandler {
	return &LicenseHandler{orders: orders}
}

// Notify stores the minted license key and queues the delivery email
func (h *LicenseHandler) Notify(c echo.Context) error {
	var req LicenseNotifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.OrderID == "" || req.LicenseKey == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "orderId and licenseKey are required"})
	}

	if err := h.orders.AcceptLicenseKey(c.Request().Context(), req.OrderID, req.LicenseKey); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Order not found"})
		}
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to store license key"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "License key stored"})
}
