// Package ledgertest holds the behavioural checks every ledger.Store must pass.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
)

// StoreSuite runs the accounting properties against a fresh store per test.
type StoreSuite struct {
	suite.Suite

	// NewStore must return an empty store.
	NewStore func() ledger.Store

	store ledger.Store
	svc   *ledger.Service
	now   time.Time
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.store = s.NewStore()
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = context.Background()
	s.svc = ledger.NewService(s.store, ledger.DefaultPolicy()).WithClock(func() time.Time { return s.now })
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func (s *StoreSuite) register(name string, referralCode string) models.User {
	reg, err := s.svc.Register(s.ctx, ledger.Registration{Username: name, ReferralCode: referralCode})
	s.Require().NoError(err)
	s.Require().True(reg.Created)
	return reg.User
}

func (s *StoreSuite) assertReconciled(userID uint) decimal.Decimal {
	st, err := s.svc.Statement(s.ctx, userID)
	s.Require().NoError(err)
	s.True(st.Total.Equal(st.User.Balance), "balance %s ledger %s", st.User.Balance, st.Total)
	s.False(st.User.Balance.IsNegative())
	return st.Total
}

func (s *StoreSuite) TestRegisterCreditsWelcomeBonus() {
	u := s.register("asha", "")

	s.NotEmpty(u.ReferralCode)
	s.True(u.Balance.Equal(d("10")))

	entries, err := s.store.Entries(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.KindWelcomeBonus, entries[0].Kind)
	s.assertReconciled(u.ID)
}

func (s *StoreSuite) TestRegisterExistingTelegramUser() {
	tg := int64(4242)
	first, err := s.svc.Register(s.ctx, ledger.Registration{Username: "ravi", TelegramID: &tg})
	s.Require().NoError(err)
	s.True(first.Created)

	second, err := s.svc.Register(s.ctx, ledger.Registration{Username: "ravi", TelegramID: &tg})
	s.Require().NoError(err)
	s.False(second.Created)
	s.Equal(first.User.ID, second.User.ID)

	balance, err := s.svc.GetBalance(s.ctx, first.User.ID)
	s.Require().NoError(err)
	s.True(balance.Equal(d("10")))
}

func (s *StoreSuite) TestReferralScenario() {
	referrer := s.register("referrer", "")
	invited := s.register("invited", referrer.ReferralCode)

	s.Require().NotNil(invited.ReferrerID)
	s.Equal(referrer.ID, *invited.ReferrerID)

	s.True(s.assertReconciled(invited.ID).Equal(d("10")))
	s.True(s.assertReconciled(referrer.ID).Equal(d("20")))

	refEntries, err := s.store.Entries(s.ctx, referrer.ID)
	s.Require().NoError(err)
	s.Len(refEntries, 2)
	invEntries, err := s.store.Entries(s.ctx, invited.ID)
	s.Require().NoError(err)
	s.Len(invEntries, 1)

	n, err := s.store.ReferralCount(s.ctx, referrer.ID)
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *StoreSuite) TestReferralBonusIsIdempotent() {
	referrer := s.register("referrer", "")
	invited := s.register("invited", referrer.ReferralCode)

	_, err := s.svc.RecordReferralBonus(s.ctx, referrer.ID, invited.ID)
	s.ErrorIs(err, ledger.ErrDuplicateReferral)

	entries, err := s.store.Entries(s.ctx, referrer.ID)
	s.Require().NoError(err)
	bonuses := 0
	for _, e := range entries {
		if e.Kind == models.KindReferralBonus {
			bonuses++
		}
	}
	s.Equal(1, bonuses)
	s.True(s.assertReconciled(referrer.ID).Equal(d("20")))
}

func (s *StoreSuite) TestReferralBonusForStranger() {
	a := s.register("a", "")
	b := s.register("b", "")

	_, err := s.svc.RecordReferralBonus(s.ctx, a.ID, b.ID)
	s.ErrorIs(err, ledger.ErrReferralMismatch)
	s.True(s.assertReconciled(a.ID).Equal(d("10")))
}

func (s *StoreSuite) TestUnknownReferralCodeIsIgnored() {
	u := s.register("solo", "NOPE1234")
	s.Nil(u.ReferrerID)
	s.True(u.Balance.Equal(d("10")))
}

func (s *StoreSuite) TestPremiumDoublesChatEarning() {
	regular := s.register("regular", "")
	premium := s.register("premium", "")

	_, err := s.svc.RecordPremiumPurchase(s.ctx, premium.ID, "monthly", ledger.Confirmation{Gateway: "test", Confirmed: true})
	s.Require().NoError(err)

	r1, err := s.svc.RecordChatEarning(s.ctx, regular.ID, 1, nil)
	s.Require().NoError(err)
	s.True(r1.Entry.Amount.Equal(d("0.05")))

	r2, err := s.svc.RecordChatEarning(s.ctx, premium.ID, 1, &models.ChatRecord{Prompt: "hi", Response: "hello", Platform: "web"})
	s.Require().NoError(err)
	s.True(r2.Entry.Amount.Equal(d("0.10")))

	chats, err := s.store.Chats(s.ctx, premium.ID, 10)
	s.Require().NoError(err)
	s.Require().Len(chats, 1)
	s.Equal("hello", chats[0].Response)
	s.True(chats[0].Earning.Equal(d("0.10")))

	s.True(s.assertReconciled(regular.ID).Equal(d("10.05")))
	s.True(s.assertReconciled(premium.ID).Equal(d("10.10")))
}

func (s *StoreSuite) TestChatCountSince() {
	u := s.register("asha", "")
	chat := func() {
		_, err := s.svc.RecordChatEarning(s.ctx, u.ID, 1, &models.ChatRecord{Prompt: "q", Response: "a", Platform: "web"})
		s.Require().NoError(err)
	}

	chat()
	s.now = s.now.Add(24 * time.Hour)
	chat()
	chat()

	today := time.Date(s.now.Year(), s.now.Month(), s.now.Day(), 0, 0, 0, 0, time.UTC)
	total, err := s.store.ChatCount(s.ctx, u.ID, time.Time{})
	s.Require().NoError(err)
	s.EqualValues(3, total)

	n, err := s.store.ChatCount(s.ctx, u.ID, today)
	s.Require().NoError(err)
	s.EqualValues(2, n)

	n, err = s.store.ChatCount(s.ctx, u.ID+1, time.Time{})
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *StoreSuite) TestPremiumPurchaseNeedsConfirmation() {
	u := s.register("u", "")

	_, err := s.svc.RecordPremiumPurchase(s.ctx, u.ID, "monthly", ledger.Confirmation{Gateway: "test"})
	s.ErrorIs(err, ledger.ErrPaymentNotConfirmed)

	got, err := s.store.User(s.ctx, u.ID)
	s.Require().NoError(err)
	s.False(got.IsPremium)
}

func (s *StoreSuite) TestExpirePremium() {
	u := s.register("u", "")
	_, err := s.svc.RecordPremiumPurchase(s.ctx, u.ID, "monthly", ledger.Confirmation{Confirmed: true})
	s.Require().NoError(err)

	changed, err := s.svc.ExpirePremium(s.ctx, u.ID)
	s.Require().NoError(err)
	s.False(changed)

	expiring, err := s.store.PremiumExpiringBetween(s.ctx, s.now.Add(29*24*time.Hour), s.now.Add(31*24*time.Hour))
	s.Require().NoError(err)
	s.Len(expiring, 1)

	s.now = s.now.Add(31 * 24 * time.Hour)
	expired, err := s.store.PremiumExpiredBefore(s.ctx, s.now)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)

	changed, err = s.svc.ExpirePremium(s.ctx, u.ID)
	s.Require().NoError(err)
	s.True(changed)

	r, err := s.svc.RecordChatEarning(s.ctx, u.ID, 1, nil)
	s.Require().NoError(err)
	s.True(r.Entry.Amount.Equal(d("0.05")))
	s.assertReconciled(u.ID)
}

func (s *StoreSuite) TestAdminAdjustmentBoundary() {
	u := s.register("u", "")
	_, err := s.svc.RecordChatEarning(s.ctx, u.ID, 3, nil)
	s.Require().NoError(err)

	balance, err := s.svc.GetBalance(s.ctx, u.ID)
	s.Require().NoError(err)
	s.True(balance.Equal(d("10.15")))

	_, err = s.svc.ApplyAdminAdjustment(s.ctx, u.ID, balance.Neg().Sub(d("0.01")), "test")
	s.ErrorIs(err, ledger.ErrInsufficientBalance)
	s.True(s.assertReconciled(u.ID).Equal(d("10.15")))

	res, err := s.svc.ApplyAdminAdjustment(s.ctx, u.ID, balance.Neg(), "test")
	s.Require().NoError(err)
	s.True(res.User.Balance.IsZero())
	s.True(s.assertReconciled(u.ID).IsZero())
}

func (s *StoreSuite) TestConcurrentChatEarnings() {
	u := s.register("busy", "")
	const n = 40

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.RecordChatEarning(s.ctx, u.ID, 1, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	total := s.assertReconciled(u.ID)
	s.True(total.Equal(d("10").Add(d("0.05").Mul(decimal.NewFromInt(n)))), "total %s", total)

	entries, err := s.store.Entries(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Len(entries, n+1)
}

func (s *StoreSuite) TestBalanceReconcilesDuringWrites() {
	u := s.register("steady", "")
	const writers, perWriter = 4, 25

	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.svc.RecordChatEarning(s.ctx, u.ID, 1, nil)
				errs <- err
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	reads := 0
	for running := true; running; reads++ {
		select {
		case <-done:
			running = false
		default:
		}
		_, err := s.svc.GetBalance(s.ctx, u.ID)
		s.Require().NoError(err, "read %d", reads)
	}
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	total := s.assertReconciled(u.ID)
	s.True(total.Equal(d("10").Add(d("0.05").Mul(decimal.NewFromInt(writers*perWriter)))), "total %s", total)
}

func (s *StoreSuite) TestConcurrentFirstContact() {
	tg := int64(777)
	const n = 8

	var wg sync.WaitGroup
	results := make(chan *ledger.Registered, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := s.svc.Register(s.ctx, ledger.Registration{Username: "dup", TelegramID: &tg})
			errs <- err
			results <- reg
		}()
	}
	wg.Wait()
	close(errs)
	close(results)
	for err := range errs {
		s.Require().NoError(err)
	}

	created := 0
	var id uint
	for reg := range results {
		if reg.Created {
			created++
		}
		if id == 0 {
			id = reg.User.ID
		}
		s.Equal(id, reg.User.ID)
	}
	s.Equal(1, created)
	s.True(s.assertReconciled(id).Equal(d("10")))
}

func (s *StoreSuite) TestDeactivatedUserStopsEarning() {
	u := s.register("gone", "")
	s.Require().NoError(s.svc.Deactivate(s.ctx, u.ID))

	_, err := s.svc.RecordChatEarning(s.ctx, u.ID, 1, nil)
	s.ErrorIs(err, ledger.ErrUserInactive)

	got, err := s.store.User(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDeactivated, got.Status)
	s.assertReconciled(u.ID)
}

func (s *StoreSuite) TestUnknownUser() {
	_, err := s.svc.RecordChatEarning(s.ctx, 9999, 1, nil)
	s.ErrorIs(err, ledger.ErrUserNotFound)

	_, err = s.svc.GetBalance(s.ctx, 9999)
	s.ErrorIs(err, ledger.ErrUserNotFound)
}
