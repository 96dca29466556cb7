package ledger

import (
	"context"
	"time"

	"ganesh-ai/internal/models"
)

// Store persists users and their ledgers. Implementations return ErrUserNotFound
// for missing users; any other error is treated as a persistence failure.
type Store interface {
	// Atomic runs fn as one unit: either every write made through tx is
	// committed or none is.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	User(ctx context.Context, id uint) (*models.User, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	UserByReferralCode(ctx context.Context, code string) (*models.User, error)
	Entries(ctx context.Context, userID uint) ([]models.LedgerEntry, error)
	Chats(ctx context.Context, userID uint, limit int) ([]models.ChatRecord, error)
	// ChatCount counts the user's chats created at or after since.
	ChatCount(ctx context.Context, userID uint, since time.Time) (int64, error)
	ReferralCount(ctx context.Context, referrerID uint) (int64, error)
	PremiumExpiringBetween(ctx context.Context, from, to time.Time) ([]models.User, error)
	PremiumExpiredBefore(ctx context.Context, t time.Time) ([]models.User, error)
}

// Tx is the write side of a Store transaction.
type Tx interface {
	// LockUsers loads and locks the given users in ascending ID order.
	LockUsers(ids ...uint) (map[uint]*models.User, error)
	CreateUser(u *models.User) error
	SaveUser(u *models.User) error
	AppendEntry(e *models.LedgerEntry) error
	// Entries returns the user's ledger newest first as seen by this transaction.
	Entries(userID uint) ([]models.LedgerEntry, error)
	AppendChat(c *models.ChatRecord) error
	ReferralGranted(referrerID, invitedID uint) (bool, error)
	GrantReferral(g *models.ReferralGrant) error
	ReferralCodeTaken(code string) (bool, error)
}
