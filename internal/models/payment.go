package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

type Payment struct {
	ID          uint            `gorm:"primaryKey"`
	UserID      uint            `gorm:"not null;index"`
	Plan        string          `gorm:"size:32;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Currency    string          `gorm:"size:10;default:'INR'"`
	Gateway     string          `gorm:"size:32;not null"`
	OrderID     string          `gorm:"size:255;uniqueIndex;not null"`
	PaymentID   string          `gorm:"size:255"`
	Status      string          `gorm:"size:20;default:'pending'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
