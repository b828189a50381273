package middleware

import (
	"github.com/labstack/echo/v4"

	"laeproxy-go/internal/httpheader"
	"laeproxy-go/internal/model"
)

// ProxyHeaders returns an Echo middleware that strips hop-by-hop headers
// from the incoming request and stamps the proxy version on every response,
// error responses included.
func ProxyHeaders(v model.Version) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpheader.RemoveHopByHop(c.Request().Header)

			// Set before next: the handler may commit the response.
			c.Response().Header().Set(model.HeaderVersion, string(v))

			return next(c)
		}
	}
}
