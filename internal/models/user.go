package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive      = "active"
	StatusDeactivated = "deactivated"
)

type User struct {
	ID             uint            `gorm:"primaryKey"`
	TelegramID     *int64          `gorm:"uniqueIndex"`
	Username       string          `gorm:"size:255"`
	Status         string          `gorm:"size:20;default:'active'"`
	Balance        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	IsPremium      bool            `gorm:"default:false"`
	PremiumExpires *time.Time      `gorm:"index"`
	ReferrerID     *uint           `gorm:"index"`
	ReferralCode   string          `gorm:"size:32;uniqueIndex;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PremiumActive reports whether premium pricing applies at now.
// A premium user without an expiry was granted premium indefinitely.
func (u User) PremiumActive(now time.Time) bool {
	if !u.IsPremium {
		return false
	}
	return u.PremiumExpires == nil || u.PremiumExpires.After(now)
}

func (u User) Active() bool {
	return u.Status == "" || u.Status == StatusActive
}
