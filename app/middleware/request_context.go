package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-settlements/app/factory"
)

// RequestContext copies the request id onto the request context so code
// below the controller logs with it. It must run after echo's RequestID.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := strings.TrimSpace(c.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				requestID = strings.TrimSpace(c.Response().Header().Get(echo.HeaderXRequestID))
			}
			if requestID != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(factory.ContextWithRequestID(req.Context(), requestID)))
			}
			return next(c)
		}
	}
}
