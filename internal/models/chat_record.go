package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChatRecord struct {
	ID        uint            `gorm:"primaryKey"`
	UserID    uint            `gorm:"not null;index"`
	Prompt    string          `gorm:"type:text;not null"`
	Response  string          `gorm:"type:text;not null"`
	Model     string          `gorm:"size:64"`
	Platform  string          `gorm:"size:20;default:'telegram'"`
	Tokens    int             `gorm:"not null;default:0"`
	Earning   decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	CreatedAt time.Time
}
