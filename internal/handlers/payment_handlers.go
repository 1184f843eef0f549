package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"can_analyzer_shop/internal/models"
	"can_analyzer_shop/internal/services"
)

// PaymentHandler exposes the order lifecycle over HTTP
type PaymentHandler struct {
	orders *services.OrderService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(orders *services.OrderService) *PaymentHandler {
	return &PaymentHandler{orders: orders}
}

// Pay starts a checkout: creates the provider-side order and the local
// CREATED row, then hands the approval URL back to the browser
func (h *PaymentHandler) Pay(c echo.Context) error {
	var req PayRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, PayResponse{Success: false, Error: "Invalid request body"})
	}

	if req.ProductName == "" || req.ProductPrice <= 0 {
		return c.JSON(http.StatusBadRequest, PayResponse{Success: false, Error: "Product name and a positive price are required"})
	}
	if req.PaymentMethod != "" && !strings.EqualFold(req.PaymentMethod, "paypal") {
		return c.JSON(http.StatusBadRequest, PayResponse{Success: false, Error: "Unsupported payment method"})
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	email := getStringFromContext(c, "userEmail")
	if email == "" {
		return c.JSON(http.StatusBadRequest, PayResponse{Success: false, Error: "A contact email is required to deliver the license"})
	}

	var userID *uint
	if id := getUintFromContext(c, "userID"); id != 0 {
		userID = &id
	}

	result, err := h.orders.CreateOrder(c.Request().Context(), userID, email, req.ProductName, req.ProductPrice, currency)
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, PayResponse{Success: false, Error: "Payment processing failed. Please try again."})
	}

	return c.JSON(http.StatusOK, PayResponse{
		Success:    true,
		ApproveURL: result.ApproveURL,
		OrderID:    result.OrderID,
	})
}

// Approve is PayPal's return-redirect target. It captures the payment
// and renders the outcome page; all failures degrade to a FAILED page
// that still shows the order id for support lookups.
func (h *PaymentHandler) Approve(c echo.Context) error {
	orderID := c.QueryParam("token")
	if orderID == "" {
		return c.Render(http.StatusBadRequest, "approve.html", map[string]interface{}{
			"Status":  string(models.OrderStatusFailed),
			"Title":   "Payment failed",
			"Message": "Missing order reference.",
			"OrderID": "",
		})
	}

	outcome := h.orders.ReconcileApproval(c.Request().Context(), orderID)

	title := "Payment failed"
	switch outcome.Status {
	case models.OrderStatusCompleted:
		title = "Payment successful!"
	case models.OrderStatusPending:
		title = "Payment pending"
	}

	return c.Render(http.StatusOK, "approve.html", map[string]interface{}{
		"Status":  string(outcome.Status),
		"Title":   title,
		"Message": outcome.Message,
		"OrderID": outcome.OrderID,
	})
}

// Cancel is PayPal's cancel-redirect target. Abandoned CREATED orders
// are removed; anything further along is left untouched.
func (h *PaymentHandler) Cancel(c echo.Context) error {
	orderID := c.QueryParam("token")
	if orderID != "" {
		if _, err := h.orders.CancelOrder(c.Request().Context(), orderID); err != nil {
			c.Logger().Error(err)
		}
	}
	return c.Redirect(http.StatusFound, "/")
}

// Webhook receives PayPal's server-to-server notifications. The body
// must stay raw for signature verification, so it is read here byte
// for byte and never bound through the JSON binder.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	headers := services.WebhookHeaders{
		TransmissionID:   c.Request().Header.Get("Paypal-Transmission-Id"),
		TransmissionSig:  c.Request().Header.Get("Paypal-Transmission-Sig"),
		TransmissionTime: c.Request().Header.Get("Paypal-Transmission-Time"),
		AuthAlgo:         c.Request().Header.Get("Paypal-Auth-Algo"),
		CertURL:          c.Request().Header.Get("Paypal-Cert-Url"),
	}

	code := h.orders.IngestWebhook(c.Request().Context(), headers, rawBody)
	return c.NoContent(code)
}

// OrderStatus is polled by the approve page while the order is PENDING
func (h *PaymentHandler) OrderStatus(c echo.Context) error {
	orderID := c.Param("orderId")
	order, err := h.orders.GetOrder(c.Request().Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch order")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        order.Status,
		"licenseStatus": order.LicenseStatus,
	})
}

// ListOrders is the administrative audit listing
func (h *PaymentHandler) ListOrders(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	orders, total, err := h.orders.ListOrders(c.Request().Context(), page, pageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch orders")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
	})
}

// GetOrder returns one full order row for audit
func (h *PaymentHandler) GetOrder(c echo.Context) error {
	order, err := h.orders.GetOrder(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch order")
	}
	return c.JSON(http.StatusOK, order)
}
