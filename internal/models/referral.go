package models

import (
	"time"
)

// ReferralGrant records that a referrer was paid for one invited user.
// The composite unique index makes a second grant for the pair impossible.
type ReferralGrant struct {
	ID            uint `gorm:"primaryKey"`
	ReferrerID    uint `gorm:"not null;uniqueIndex:idx_referral_pair"`
	InvitedUserID uint `gorm:"not null;uniqueIndex:idx_referral_pair"`
	EntryID       uint `gorm:"not null"`
	CreatedAt     time.Time
}
