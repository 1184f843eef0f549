package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"can_analyzer_shop/internal/services"
)

// RateLimit caps requests per client IP on a route group using a Redis
// counter. With no cache configured the limiter is a pass-through.
func RateLimit(cache *services.RedisCache, limit int64, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cache == nil {
				return next(c)
			}

			key := fmt.Sprintf("ratelimit:%s:%s", c.Path(), c.RealIP())
			count, err := cache.Increment(c.Request().Context(), key)
			if err != nil {
				// Redis being down should not take auth down with it
				return next(c)
			}
			if count == 1 {
				_ = cache.Expire(c.Request().Context(), key, window)
			}
			if count > limit {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests, slow down")
			}

			return next(c)
		}
	}
}
