package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationJob order confirmation request carried on the notification
// queue. It is a snapshot, later order or product edits do not affect it.
type NotificationJob struct {
	Email       string          `json:"email"`
	Username    string          `json:"username"`
	OrderNumber string          `json:"orderNumber"`
	ProductName string          `json:"productName"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// NewNotificationJob builds the confirmation job for a placed order
func NewNotificationJob(o *Order) NotificationJob {
	return NotificationJob{
		Email:       o.Email,
		Username:    o.Username,
		OrderNumber: o.OrderNumber,
		ProductName: o.Product.Name,
		TotalAmount: o.TotalAmount,
	}
}

// DeadLetter a notification job that exhausted its delivery attempts
type DeadLetter struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Queue       string    `gorm:"size:100;index" json:"queue"`
	MessageID   string    `gorm:"size:64" json:"message_id"`
	OrderNumber string    `gorm:"size:64;index" json:"order_number"`
	Recipient   string    `gorm:"size:255" json:"recipient"`
	Payload     string    `gorm:"type:text" json:"payload"`
	Reason      string    `gorm:"size:1024" json:"reason"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName Specify table name
func (DeadLetter) TableName() string {
	return "notify_dead_letter"
}
