package handlers

import (
	"github.com/labstack/echo/v4"
)

// PayRequest is the body of POST /api/pay
type PayRequest struct {
	ProductName   string  `json:"productName"`
	ProductPrice  float64 `json:"productPrice"`
	PaymentMethod string  `json:"paymentMethod"`
	Currency      string  `json:"currency"`
}

// PayResponse is the success body of POST /api/pay
type PayResponse struct {
	Success    bool   `json:"success"`
	ApproveURL string `json:"approveUrl,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LicenseNotifyRequest is the body of POST /api/license/notify
type LicenseNotifyRequest struct {
	OrderID    string `json:"orderId"`
	LicenseKey string `json:"licenseKey"`
}

// CredentialsRequest is the body of the register and login endpoints
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// FeedbackRequest is the body of the feedback create/update endpoints
type FeedbackRequest struct {
	Content string `json:"content"`
}

func getStringFromContext(c echo.Context, key string) string {
	if val := c.Get(key); val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func getUintFromContext(c echo.Context, key string) uint {
	if val := c.Get(key); val != nil {
		if id, ok := val.(uint); ok {
			return id
		}
	}
	return 0
}
