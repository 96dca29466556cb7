package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	KindWelcomeBonus    EntryKind = "welcome_bonus"
	KindChatEarning     EntryKind = "chat_earning"
	KindReferralBonus   EntryKind = "referral_bonus"
	KindPremiumPurchase EntryKind = "premium_purchase"
	KindPremiumExpiry   EntryKind = "premium_expiry"
	KindAdminAdjustment EntryKind = "admin_adjustment"
)

// LedgerEntry is append-only. Amount is the signed balance delta.
type LedgerEntry struct {
	ID            uint            `gorm:"primaryKey"`
	UserID        uint            `gorm:"not null;index"`
	Kind          EntryKind       `gorm:"size:32;not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	RelatedUserID *uint           `gorm:"index"`
	Note          string          `gorm:"size:512"`
	CreatedAt     time.Time
}
