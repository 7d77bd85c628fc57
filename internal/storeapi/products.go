package storeapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// listProducts returns the catalog listing
// @Summary list catalog products
// @Tags Product
// @Success 200 {array} domain.Product
// @Router /api/products [get]
func listProducts(c echo.Context) error {
	products, err := GetAppContext(c).Catalog().ListProducts(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Server error", nil)
	}
	return ok(c, products)
}
