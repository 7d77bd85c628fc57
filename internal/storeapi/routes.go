// Package storeapi exposes the storefront over HTTP.
package storeapi

import (
	"github.com/labstack/echo/v4"
	"github.com/ninzstore/storefront/internal/auth"
	"github.com/ninzstore/storefront/internal/webserver"
)

// Init registers every route on the current web server
func Init() {
	registerProductRoutes()
	registerOrderRoutes()
	registerAdminRoutes()
	registerHealthRoutes()
}

func registerProductRoutes() {
	webserver.ApiGET("/products", listProducts)
}

func registerOrderRoutes() {
	webserver.ApiPOST("/orders", placeOrder, webserver.Authenticated())
	webserver.ApiGET("/orders/my-orders", listMyOrders, webserver.Authenticated())
	webserver.ApiGET("/user/dashboard", userDashboard, webserver.Authenticated())
}

func registerAdminRoutes() {
	admin := []echo.MiddlewareFunc{webserver.Authenticated(), auth.RequireAdmin}
	webserver.ApiGET("/admin/orders", listAllOrders, admin...)
	webserver.ApiPATCH("/admin/orders/:id", updateOrderStatus, admin...)
	webserver.ApiGET("/admin/stats", orderStats, admin...)
	webserver.ApiGET("/admin/dead-letters", listDeadLetters, admin...)
	webserver.ApiGET("/admin/jobs", listJobs, admin...)
	webserver.ApiPOST("/admin/jobs/:name/run", runJob, admin...)
}

func registerHealthRoutes() {
	webserver.ApiGET("/health", health)
}
