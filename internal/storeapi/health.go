package storeapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// health reports database, cache and queue state. Only the database is
// required for orders, so a degraded cache or queue still answers 200.
func health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	checks := GetAppContext(c).HealthCheck(ctx)
	status := "ok"
	code := http.StatusOK
	for name, state := range checks {
		if state == "ok" {
			continue
		}
		if name == "database" {
			status = "down"
			code = http.StatusServiceUnavailable
			break
		}
		status = "degraded"
	}
	return c.JSON(code, echo.Map{"status": status, "checks": checks})
}
