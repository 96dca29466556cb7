package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ganesh-ai/internal/models"
)

// Plan is a purchasable premium subscription.
type Plan struct {
	ID       string
	Price    decimal.Decimal
	Duration time.Duration
}

// Policy holds the earning and bonus constants. It is built once at startup
// and passed by value; nothing mutates it afterwards.
type Policy struct {
	BaseRate          decimal.Decimal
	PremiumMultiplier decimal.Decimal
	ReferralBonus     decimal.Decimal
	WelcomeBonus      decimal.Decimal
	Plans             map[string]Plan
}

func DefaultPolicy() Policy {
	return Policy{
		BaseRate:          decimal.RequireFromString("0.05"),
		PremiumMultiplier: decimal.NewFromInt(2),
		ReferralBonus:     decimal.RequireFromString("10.00"),
		WelcomeBonus:      decimal.RequireFromString("10.00"),
		Plans: map[string]Plan{
			"monthly": {ID: "monthly", Price: decimal.RequireFromString("99.00"), Duration: 30 * 24 * time.Hour},
			"yearly":  {ID: "yearly", Price: decimal.RequireFromString("999.00"), Duration: 365 * 24 * time.Hour},
		},
	}
}

// Rate returns the per-message earning for u at now.
func (p Policy) Rate(u models.User, now time.Time) decimal.Decimal {
	if u.PremiumActive(now) {
		return p.BaseRate.Mul(p.PremiumMultiplier)
	}
	return p.BaseRate
}

func (p Policy) Plan(id string) (Plan, error) {
	plan, ok := p.Plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, id)
	}
	return plan, nil
}

// Confirmation is the payment gateway's verdict on a premium purchase.
type Confirmation struct {
	Gateway   string
	OrderID   string
	PaymentID string
	Confirmed bool
}

// The functions below are the whole accounting policy: each takes the current
// user state and an event and returns the new state plus the entry explaining it.
// They never touch storage.

func (p Policy) WelcomeBonusFor(u models.User, now time.Time) (models.User, models.LedgerEntry, error) {
	return credit(u, models.KindWelcomeBonus, p.WelcomeBonus, "welcome bonus", now)
}

func (p Policy) ChatEarning(u models.User, messageCount int, now time.Time) (models.User, models.LedgerEntry, error) {
	if messageCount < 1 {
		return u, models.LedgerEntry{}, fmt.Errorf("%w: message count %d", ErrInvalidInput, messageCount)
	}
	if !u.Active() {
		return u, models.LedgerEntry{}, ErrUserInactive
	}
	delta := p.Rate(u, now).Mul(decimal.NewFromInt(int64(messageCount)))
	note := ""
	if messageCount > 1 {
		note = fmt.Sprintf("%d messages", messageCount)
	}
	return credit(u, models.KindChatEarning, delta, note, now)
}

func (p Policy) ReferralBonusFor(referrer, invited models.User, now time.Time) (models.User, models.LedgerEntry, error) {
	if referrer.ID == invited.ID {
		return referrer, models.LedgerEntry{}, fmt.Errorf("%w: user cannot refer themselves", ErrInvalidInput)
	}
	if invited.ReferrerID == nil || *invited.ReferrerID != referrer.ID {
		return referrer, models.LedgerEntry{}, ErrReferralMismatch
	}
	if !referrer.Active() {
		return referrer, models.LedgerEntry{}, ErrUserInactive
	}
	next, entry, err := credit(referrer, models.KindReferralBonus, p.ReferralBonus, "referral of "+invited.ReferralCode, now)
	if err != nil {
		return referrer, models.LedgerEntry{}, err
	}
	related := invited.ID
	entry.RelatedUserID = &related
	return next, entry, nil
}

func (p Policy) PremiumPurchase(u models.User, planID string, conf Confirmation, now time.Time) (models.User, models.LedgerEntry, error) {
	if !conf.Confirmed {
		return u, models.LedgerEntry{}, ErrPaymentNotConfirmed
	}
	plan, err := p.Plan(planID)
	if err != nil {
		return u, models.LedgerEntry{}, err
	}

	start := now
	if u.PremiumActive(now) && u.PremiumExpires != nil {
		start = *u.PremiumExpires
	}
	expires := start.Add(plan.Duration).UTC()

	u.IsPremium = true
	u.PremiumExpires = &expires
	note := fmt.Sprintf("plan=%s expires=%s", plan.ID, expires.Format(time.RFC3339))
	if conf.OrderID != "" {
		note += " order=" + conf.OrderID
	}
	return credit(u, models.KindPremiumPurchase, decimal.Zero, note, now)
}

// PremiumExpiry downgrades u once its premium has lapsed. changed is false when
// there is nothing to do.
func (p Policy) PremiumExpiry(u models.User, now time.Time) (next models.User, entry models.LedgerEntry, changed bool) {
	if !u.IsPremium || u.PremiumActive(now) {
		return u, models.LedgerEntry{}, false
	}
	u.IsPremium = false
	next, entry, _ = credit(u, models.KindPremiumExpiry, decimal.Zero, "premium expired", now)
	return next, entry, true
}

func (p Policy) AdminAdjustment(u models.User, delta decimal.Decimal, note string, now time.Time) (models.User, models.LedgerEntry, error) {
	if delta.IsZero() {
		return u, models.LedgerEntry{}, fmt.Errorf("%w: zero adjustment", ErrInvalidInput)
	}
	return credit(u, models.KindAdminAdjustment, delta, note, now)
}

func credit(u models.User, kind models.EntryKind, delta decimal.Decimal, note string, now time.Time) (models.User, models.LedgerEntry, error) {
	balance := u.Balance.Add(delta)
	if balance.IsNegative() {
		return u, models.LedgerEntry{}, fmt.Errorf("%w: balance %s, delta %s", ErrInsufficientBalance, u.Balance.StringFixed(2), delta.StringFixed(2))
	}
	u.Balance = balance
	return u, models.LedgerEntry{
		UserID:       u.ID,
		Kind:         kind,
		Amount:       delta,
		BalanceAfter: balance,
		Note:         note,
		CreatedAt:    now,
	}, nil
}
