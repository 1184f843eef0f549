package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CustomErrorHandler converts every uncaught error into either a JSON
// error (API routes, webhook-style routes excluded since they answer
// with bare status codes) or a plain error page. No internal error is
// allowed to escape as a stack trace.
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "Something went wrong. Please try again later."

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok && msg != "" {
			message = msg
		} else {
			switch code {
			case http.StatusNotFound:
				message = "The resource you're looking for doesn't exist."
			case http.StatusForbidden:
				message = "You don't have permission to access this resource."
			case http.StatusUnauthorized:
				message = "Please log in to continue."
			case http.StatusBadRequest:
				message = "The request could not be processed."
			}
		}
	}

	c.Logger().Error(err)

	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/api/") {
		if err := c.JSON(code, map[string]string{"error": message}); err != nil {
			c.Logger().Error(err)
		}
		return
	}

	if err := c.String(code, message); err != nil {
		c.Logger().Error(err)
	}
}
