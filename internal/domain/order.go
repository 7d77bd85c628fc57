package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderConfirmed OrderStatus = "Confirmed"
	OrderShipped   OrderStatus = "Shipped"
	OrderDelivered OrderStatus = "Delivered"
	OrderCancelled OrderStatus = "Cancelled"
)

// PaymentCashOnDelivery is the only payment method
const PaymentCashOnDelivery = "Cash on Delivery"

// Valid reports whether s is one of the known statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderConfirmed, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// LineItem is a snapshot of the product taken when the order was placed
type LineItem struct {
	ID       int64           `gorm:"index" json:"id,string"`
	Name     string          `gorm:"size:200" json:"name"`
	Price    decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
	Quantity int             `json:"quantity"`
}

type DeliveryAddress struct {
	Street  string `gorm:"size:255" json:"street" validate:"required"`
	City    string `gorm:"size:100" json:"city" validate:"required"`
	ZipCode string `gorm:"size:20" json:"zipCode" validate:"required"`
	Phone   string `gorm:"size:32" json:"phone" validate:"required"`
}

// Order ledger entry. Username and email are captured at order time and do
// not follow later profile edits. TotalAmount is frozen at creation.
type Order struct {
	ID              int64           `gorm:"primaryKey;autoIncrement:false" json:"_id,string"`
	UserID          string          `gorm:"size:64;index" json:"user"`
	Username        string          `gorm:"size:100" json:"username"`
	Email           string          `gorm:"size:255" json:"email"`
	Product         LineItem        `gorm:"embedded;embeddedPrefix:product_" json:"product"`
	DeliveryAddress DeliveryAddress `gorm:"embedded;embeddedPrefix:delivery_" json:"deliveryAddress"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(12,2)" json:"totalAmount"`
	PaymentMethod   string          `gorm:"size:32" json:"paymentMethod"`
	Status          OrderStatus     `gorm:"size:20;index" json:"status"`
	OrderNumber     string          `gorm:"size:64;uniqueIndex" json:"orderNumber"`
	CreatedAt       time.Time       `gorm:"index" json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// TableName Specify table name
func (Order) TableName() string {
	return "orders"
}
