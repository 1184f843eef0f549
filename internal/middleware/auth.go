package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"can_analyzer_shop/internal/services"
)

func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return ""
	}
	return token
}

// RequireAuth returns a middleware that verifies Bearer access tokens
func RequireAuth(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Access token required")
			}

			user, err := authService.GetUserFromToken(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "Invalid or expired token")
			}

			// Set user info in context for downstream handlers
			c.Set("userID", user.ID)
			c.Set("username", user.Username)
			c.Set("userEmail", user.Email)

			return next(c)
		}
	}
}
