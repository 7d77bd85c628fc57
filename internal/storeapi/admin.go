package storeapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/internal/store"
)

const recentOrders = 5

type statusPayload struct {
	Status domain.OrderStatus `json:"status" validate:"required"`
}

// listAllOrders returns every order, newest first
// @Summary list all orders
// @Tags Admin
// @Param page query int false "Page"
// @Param perPage query int false "Page size"
// @Success 200 {object} ListResponse
// @Router /api/admin/orders [get]
func listAllOrders(c echo.Context) error {
	page, pageSize := parsePagination(c)
	orders, total, err := GetAppContext(c).Store().Orders.List(c.Request().Context(), page, pageSize)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query orders", err.Error())
	}
	return paged(c, orders, total, page, pageSize)
}

// updateOrderStatus moves an order to one of the known statuses
// @Summary update order status
// @Tags Admin
// @Param id path int true "Order ID"
// @Param status body statusPayload true "Status"
// @Success 200 {object} domain.Order
// @Router /api/admin/orders/{id} [patch]
func updateOrderStatus(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid order ID", nil)
	}
	var payload statusPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
	}
	if err := c.Validate(&payload); err != nil || !payload.Status.Valid() {
		return fail(c, http.StatusBadRequest, "INVALID_STATUS", "Invalid status", nil)
	}

	updated, err := GetAppContext(c).Store().Orders.UpdateStatus(c.Request().Context(), id, payload.Status)
	if errors.Is(err, store.ErrOrderNotFound) {
		return fail(c, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update order", err.Error())
	}
	return ok(c, updated)
}

// orderStats summarizes the ledger
// @Summary order statistics
// @Tags Admin
// @Success 200 {object} store.OrderStats
// @Router /api/admin/stats [get]
func orderStats(c echo.Context) error {
	stats, err := GetAppContext(c).Store().Orders.Stats(c.Request().Context(), recentOrders)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query stats", err.Error())
	}
	if stats.RecentOrders == nil {
		stats.RecentOrders = []domain.Order{}
	}
	return ok(c, stats)
}

func listDeadLetters(c echo.Context) error {
	page, pageSize := parsePagination(c)
	rows, total, err := GetAppContext(c).Store().DeadLetters.List(c.Request().Context(), page, pageSize)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query dead letters", err.Error())
	}
	return paged(c, rows, total, page, pageSize)
}
