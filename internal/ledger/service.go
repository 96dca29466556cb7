package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ganesh-ai/internal/models"
)

// Service is the only code path that changes a user's balance. Every change is
// a single Store transaction holding the balance update and its ledger entry.
type Service struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// Result is the state after a ledger operation committed.
type Result struct {
	User  models.User
	Entry models.LedgerEntry
}

type Registration struct {
	Username     string
	TelegramID   *int64
	ReferralCode string
}

type Registered struct {
	User         models.User
	Created      bool
	ReferralPaid bool
}

type Statement struct {
	User    models.User
	Entries []models.LedgerEntry
	Total   decimal.Decimal
}

func NewService(store Store, policy Policy) *Service {
	return &Service{
		store:  store,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

func (s *Service) Store() Store {
	return s.store
}

// Register creates a user, credits the welcome bonus and, when a valid referral
// code is supplied, pays the referrer. A known Telegram ID returns the existing user.
func (s *Service) Register(ctx context.Context, reg Registration) (*Registered, error) {
	if reg.TelegramID != nil {
		existing, err := s.store.UserByTelegramID(ctx, *reg.TelegramID)
		if err == nil {
			return &Registered{User: *existing}, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, classify(err)
		}
	}

	var referrer *models.User
	if code := strings.TrimSpace(reg.ReferralCode); code != "" {
		r, err := s.store.UserByReferralCode(ctx, code)
		switch {
		case err == nil:
			referrer = r
		case errors.Is(err, ErrUserNotFound):
			log.Printf("Ignoring unknown referral code %q", code)
		default:
			return nil, classify(err)
		}
	}

	var user models.User
	err := s.atomic(ctx, func(tx Tx) error {
		code, err := uniqueReferralCode(tx)
		if err != nil {
			return err
		}
		u := models.User{
			TelegramID:   reg.TelegramID,
			Username:     reg.Username,
			Status:       models.StatusActive,
			Balance:      decimal.Zero,
			ReferralCode: code,
		}
		if referrer != nil {
			id := referrer.ID
			u.ReferrerID = &id
		}
		if err := tx.CreateUser(&u); err != nil {
			return err
		}

		next, entry, err := s.policy.WelcomeBonusFor(u, s.now())
		if err != nil {
			return err
		}
		if err := tx.SaveUser(&next); err != nil {
			return err
		}
		if err := tx.AppendEntry(&entry); err != nil {
			return err
		}
		user = next
		return nil
	})
	if errors.Is(err, ErrUserExists) && reg.TelegramID != nil {
		// Lost a first-contact race for this Telegram ID.
		existing, ferr := s.store.UserByTelegramID(ctx, *reg.TelegramID)
		if ferr != nil {
			return nil, classify(ferr)
		}
		return &Registered{User: *existing}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &Registered{User: user, Created: true}
	if referrer == nil {
		return out, nil
	}
	if _, err := s.RecordReferralBonus(ctx, referrer.ID, user.ID); err != nil {
		return out, fmt.Errorf("pay referrer %d: %w", referrer.ID, err)
	}
	out.ReferralPaid = true
	return out, nil
}

// RecordChatEarning credits messageCount messages at the user's current rate.
// When chat is non-nil it is stored in the same transaction with its earning set.
func (s *Service) RecordChatEarning(ctx context.Context, userID uint, messageCount int, chat *models.ChatRecord) (*Result, error) {
	var res Result
	err := s.atomic(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(userID)
		if err != nil {
			return err
		}
		next, entry, err := s.policy.ChatEarning(*users[userID], messageCount, s.now())
		if err != nil {
			return err
		}
		if err := s.commit(tx, &next, &entry); err != nil {
			return err
		}
		if chat != nil {
			chat.UserID = userID
			chat.Earning = entry.Amount
			chat.CreatedAt = entry.CreatedAt
			if err := tx.AppendChat(chat); err != nil {
				return err
			}
		}
		res = Result{User: next, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordReferralBonus pays referrerID for invitedID exactly once per pair.
func (s *Service) RecordReferralBonus(ctx context.Context, referrerID, invitedID uint) (*Result, error) {
	var res Result
	err := s.atomic(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(referrerID, invitedID)
		if err != nil {
			return err
		}
		granted, err := tx.ReferralGranted(referrerID, invitedID)
		if err != nil {
			return err
		}
		if granted {
			return ErrDuplicateReferral
		}

		next, entry, err := s.policy.ReferralBonusFor(*users[referrerID], *users[invitedID], s.now())
		if err != nil {
			return err
		}
		if err := s.commit(tx, &next, &entry); err != nil {
			return err
		}
		if err := tx.GrantReferral(&models.ReferralGrant{
			ReferrerID:    referrerID,
			InvitedUserID: invitedID,
			EntryID:       entry.ID,
			CreatedAt:     entry.CreatedAt,
		}); err != nil {
			return err
		}
		res = Result{User: next, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordPremiumPurchase activates or extends premium after the gateway confirmed payment.
func (s *Service) RecordPremiumPurchase(ctx context.Context, userID uint, planID string, conf Confirmation) (*Result, error) {
	if !conf.Confirmed {
		return nil, ErrPaymentNotConfirmed
	}
	var res Result
	err := s.atomic(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(userID)
		if err != nil {
			return err
		}
		next, entry, err := s.policy.PremiumPurchase(*users[userID], planID, conf, s.now())
		if err != nil {
			return err
		}
		if err := s.commit(tx, &next, &entry); err != nil {
			return err
		}
		res = Result{User: next, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ExpirePremium downgrades the user if premium has lapsed. It reports whether
// anything changed.
func (s *Service) ExpirePremium(ctx context.Context, userID uint) (bool, error) {
	changed := false
	err := s.atomic(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(userID)
		if err != nil {
			return err
		}
		next, entry, ok := s.policy.PremiumExpiry(*users[userID], s.now())
		if !ok {
			return nil
		}
		changed = true
		return s.commit(tx, &next, &entry)
	})
	return changed, err
}

func (s *Service) ApplyAdminAdjustment(ctx context.Context, userID uint, delta decimal.Decimal, note string) (*Result, error) {
	var res Result
	err := s.atomic(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(userID)
		if err != nil {
			return err
		}
		next, entry, err := s.policy.AdminAdjustment(*users[userID], delta, note, s.now())
		if err != nil {
			return err
		}
		if err := s.commit(tx, &next, &entry); err != nil {
			return err
		}
		res = Result{User: next, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Deactivate soft-deletes a user. The balance and ledger are kept.
func (s *Service) Deactivate(ctx context.Context, userID uint) error {
	return s.atomic(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(userID)
		if err != nil {
			return err
		}
		u := users[userID]
		if u.Status == models.StatusDeactivated {
			return nil
		}
		u.Status = models.StatusDeactivated
		return tx.SaveUser(u)
	})
}

// GetBalance returns the user's balance after checking it against the ledger.
func (s *Service) GetBalance(ctx context.Context, userID uint) (decimal.Decimal, error) {
	st, err := s.Statement(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return st.Total, nil
}

// Statement returns the ledger newest first together with the reconciled total.
// The user row is locked while the entries are read, so writers cannot commit
// between the two reads.
func (s *Service) Statement(ctx context.Context, userID uint) (*Statement, error) {
	var (
		user    models.User
		entries []models.LedgerEntry
	)
	err := s.atomic(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(userID)
		if err != nil {
			return err
		}
		user = *users[userID]
		entries, err = tx.Entries(userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	if !total.Equal(user.Balance) {
		return nil, fmt.Errorf("%w: user %d balance %s, ledger %s", ErrLedgerMismatch, userID, user.Balance.String(), total.String())
	}
	return &Statement{User: user, Entries: entries, Total: total}, nil
}

func (s *Service) commit(tx Tx, u *models.User, e *models.LedgerEntry) error {
	if err := tx.SaveUser(u); err != nil {
		return err
	}
	return tx.AppendEntry(e)
}

func (s *Service) atomic(ctx context.Context, fn func(tx Tx) error) error {
	return classify(s.store.Atomic(ctx, fn))
}

func classify(err error) error {
	if err == nil || isDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var newReferralCode = func() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func uniqueReferralCode(tx Tx) (string, error) {
	for i := 0; i < 10; i++ {
		code := newReferralCode()
		taken, err := tx.ReferralCodeTaken(code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique referral code")
}
