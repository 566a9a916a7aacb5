package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Logger logs one JSON line per request. Health and metrics probes are
// skipped — they fire every few seconds and drown real traffic.
func Logger() echo.MiddlewareFunc {
	return middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Path(), "/health") || strings.HasPrefix(c.Path(), "/metrics")
		},
		Format: `{"time":"${time_rfc3339}","method":"${method}","uri":"${uri}",` +
			`"status":${status},"latency":"${latency_human}","remote_ip":"${remote_ip}","error":"${error}"}` + "\n",
		CustomTimeFormat: time.RFC3339,
	})
}
