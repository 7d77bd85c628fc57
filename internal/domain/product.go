package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product catalog item with finite stock. Stock is only decremented by the
// order pipeline through a conditional update and never goes negative.
type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement:false" json:"_id,string"`
	Name        string          `gorm:"size:200;index" json:"name"`
	Description string          `gorm:"size:1024" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"` // unit price in main currency units
	Image       string          `gorm:"size:1024" json:"image"`          // URL to product image (optional)
	Stock       int             `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TableName Specify table name
func (Product) TableName() string {
	return "products"
}

func init() {
	// amounts are JSON numbers on the wire
	decimal.MarshalJSONWithoutQuotes = true
}
