package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
)

// Store implements ledger.Store on top of gorm.
type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Atomic(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *Store) User(ctx context.Context, id uint) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Store) UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.first(ctx, "telegram_id = ?", telegramID)
}

func (s *Store) UserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return s.first(ctx, "referral_code = ?", code)
}

func (s *Store) first(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) Entries(ctx context.Context, userID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&entries).Error
	return entries, err
}

func (s *Store) Chats(ctx context.Context, userID uint, limit int) ([]models.ChatRecord, error) {
	var chats []models.ChatRecord
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&chats).Error
	return chats, err
}

func (s *Store) ChatCount(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.ChatRecord{}).
		Where("user_id = ? AND created_at >= ?", userID, since).Count(&n).Error
	return n, err
}

func (s *Store) ReferralCount(ctx context.Context, referrerID uint) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.User{}).Where("referrer_id = ?", referrerID).Count(&n).Error
	return n, err
}

func (s *Store) PremiumExpiringBetween(ctx context.Context, from, to time.Time) ([]models.User, error) {
	var users []models.User
	err := s.DB.WithContext(ctx).
		Where("is_premium = ? AND premium_expires BETWEEN ? AND ?", true, from, to).
		Order("id").Find(&users).Error
	return users, err
}

func (s *Store) PremiumExpiredBefore(ctx context.Context, t time.Time) ([]models.User, error) {
	var users []models.User
	err := s.DB.WithContext(ctx).
		Where("is_premium = ? AND premium_expires < ?", true, t).
		Order("id").Find(&users).Error
	return users, err
}

// Stats is the admin dashboard summary.
type Stats struct {
	TotalUsers   int64  `json:"total_users"`
	ActiveUsers  int64  `json:"active_users"`
	PremiumUsers int64  `json:"premium_users"`
	TotalChats   int64  `json:"total_chats"`
	TotalPayouts string `json:"total_payouts"`
	TotalRevenue string `json:"total_revenue"`
}

func (s *Store) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	db := s.DB.WithContext(ctx)
	var st Stats
	if err := db.Model(&models.User{}).Count(&st.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.User{}).Where("status = ?", models.StatusActive).Count(&st.ActiveUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.User{}).
		Where("is_premium = ? AND (premium_expires IS NULL OR premium_expires > ?)", true, now).
		Count(&st.PremiumUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.ChatRecord{}).Count(&st.TotalChats).Error; err != nil {
		return nil, err
	}

	payouts, err := sumColumn(db.Model(&models.LedgerEntry{}).Where("amount > 0"), "amount")
	if err != nil {
		return nil, err
	}
	revenue, err := sumColumn(db.Model(&models.Payment{}).Where("status = ?", models.PaymentCompleted), "amount")
	if err != nil {
		return nil, err
	}
	st.TotalPayouts, st.TotalRevenue = payouts, revenue
	return &st, nil
}

// sumColumn totals a money column without passing through float64.
func sumColumn(q *gorm.DB, column string) (string, error) {
	var total decimal.NullDecimal
	if err := q.Select("SUM(" + column + ")").Row().Scan(&total); err != nil {
		return "", err
	}
	if !total.Valid {
		return decimal.Zero.StringFixed(2), nil
	}
	return total.Decimal.StringFixed(2), nil
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockUsers(ids ...uint) (map[uint]*models.User, error) {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[uint]*models.User, len(sorted))
	for _, id := range sorted {
		if _, seen := out[id]; seen {
			continue
		}
		q := t.db
		if t.db.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var user models.User
		if err := q.First(&user, id).Error; err != nil {
			return nil, notFound(err)
		}
		out[id] = &user
	}
	return out, nil
}

func (t *gormTx) CreateUser(u *models.User) error {
	if u.TelegramID != nil {
		var n int64
		if err := t.db.Model(&models.User{}).Where("telegram_id = ?", *u.TelegramID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ledger.ErrUserExists
		}
	}
	if err := t.db.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledger.ErrUserExists
		}
		return err
	}
	return nil
}

func (t *gormTx) SaveUser(u *models.User) error {
	return t.db.Save(u).Error
}

func (t *gormTx) AppendEntry(e *models.LedgerEntry) error {
	return t.db.Create(e).Error
}

func (t *gormTx) Entries(userID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := t.db.Where("user_id = ?", userID).Order("id DESC").Find(&entries).Error
	return entries, err
}

func (t *gormTx) AppendChat(c *models.ChatRecord) error {
	return t.db.Create(c).Error
}

func (t *gormTx) ReferralGranted(referrerID, invitedID uint) (bool, error) {
	var n int64
	err := t.db.Model(&models.ReferralGrant{}).
		Where("referrer_id = ? AND invited_user_id = ?", referrerID, invitedID).
		Count(&n).Error
	return n > 0, err
}

func (t *gormTx) GrantReferral(g *models.ReferralGrant) error {
	granted, err := t.ReferralGranted(g.ReferrerID, g.InvitedUserID)
	if err != nil {
		return err
	}
	if granted {
		return ledger.ErrDuplicateReferral
	}
	if err := t.db.Create(g).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledger.ErrDuplicateReferral
		}
		return err
	}
	return nil
}

func (t *gormTx) ReferralCodeTaken(code string) (bool, error) {
	var n int64
	err := t.db.Model(&models.User{}).Where("referral_code = ?", code).Count(&n).Error
	return n > 0, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ErrUserNotFound
	}
	return err
}
