package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PageHandler renders the marketing pages
type PageHandler struct{}

// NewPageHandler creates a new PageHandler
func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

// Home renders the landing page
func (h *PageHandler) Home(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", map[string]interface{}{
		"Title": "CAN Analyzer",
	})
}
