package storeapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/ninzstore/storefront/internal/auth"
	"github.com/ninzstore/storefront/internal/domain"
	"github.com/ninzstore/storefront/internal/order"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type placeOrderPayload struct {
	ProductID       string                 `json:"productId" validate:"required"`
	Quantity        int                    `json:"quantity"`
	DeliveryAddress domain.DeliveryAddress `json:"deliveryAddress"`
}

type placeOrderResponse struct {
	Message           string          `json:"message"`
	OrderNumber       string          `json:"orderNumber"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	EmailConfirmation string          `json:"emailConfirmation"`
}

// placeOrder places a cash on delivery order for the caller
// @Summary place an order
// @Tags Order
// @Param order body placeOrderPayload true "Order"
// @Success 201 {object} placeOrderResponse
// @Router /api/orders [post]
func placeOrder(c echo.Context) error {
	id, err := auth.FromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Token is not valid"})
	}

	var payload placeOrderPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Product, quantity and a complete delivery address are required", err.Error())
	}
	productID, err := strconv.ParseInt(strings.TrimSpace(payload.ProductID), 10, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PRODUCT_ID", "Invalid product ID", nil)
	}

	receipt, err := GetAppContext(c).Orders().PlaceOrder(c.Request().Context(), order.PlaceOrderRequest{
		UserID:    id.ID,
		UserEmail: id.Email,
		Username:  id.Username,
		ProductID: productID,
		Quantity:  payload.Quantity,
		Address:   payload.DeliveryAddress,
	})
	switch {
	case err == nil:
	case errors.Is(err, order.ErrInvalidRequest):
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Quantity must be at least 1 and the delivery address complete", nil)
	case errors.Is(err, order.ErrInsufficientStock):
		return fail(c, http.StatusBadRequest, "INSUFFICIENT_STOCK", "Insufficient stock", nil)
	case errors.Is(err, order.ErrNotFound):
		return fail(c, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found", nil)
	case errors.Is(err, order.ErrConflict):
		return fail(c, http.StatusConflict, "ORDER_CONFLICT", "Order could not be numbered, please retry", nil)
	default:
		zap.L().Error("place order failed", zap.String("namespace", "web"), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
	}

	return c.JSON(http.StatusCreated, placeOrderResponse{
		Message:           "Order placed successfully",
		OrderNumber:       receipt.OrderNumber,
		TotalAmount:       receipt.TotalAmount,
		EmailConfirmation: "Email confirmation will be sent shortly",
	})
}

// listMyOrders returns the caller's orders, newest first
// @Summary list my orders
// @Tags Order
// @Success 200 {array} domain.Order
// @Router /api/orders/my-orders [get]
func listMyOrders(c echo.Context) error {
	id, err := auth.FromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Token is not valid"})
	}
	orders, err := GetAppContext(c).Store().Orders.ListByUser(c.Request().Context(), id.ID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Server error", err.Error())
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return ok(c, orders)
}

func userDashboard(c echo.Context) error {
	id, err := auth.FromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Token is not valid"})
	}
	return ok(c, echo.Map{
		"message":   "Welcome to your dashboard!",
		"user":      echo.Map{"username": id.Username, "email": id.Email},
		"timestamp": time.Now(),
	})
}
