package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
)

type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memoryDeduper) FirstTime(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *memoryDeduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

type recordingNotifier struct {
	fail  bool
	sent  map[uint][]string
	tries int
}

func (n *recordingNotifier) NotifyUser(_ context.Context, user models.User, text string) error {
	n.tries++
	if n.fail {
		return errors.New("chat not found")
	}
	n.sent[user.ID] = append(n.sent[user.ID], text)
	return nil
}

type fixture struct {
	now      time.Time
	svc      *ledger.Service
	checker  *Checker
	dedupe   *memoryDeduper
	notifier *recordingNotifier
	userID   uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:      time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		dedupe:   &memoryDeduper{seen: map[string]bool{}},
		notifier: &recordingNotifier{sent: map[uint][]string{}},
	}
	clock := func() time.Time { return f.now }
	f.svc = ledger.NewService(ledger.NewMemoryStore(), ledger.DefaultPolicy()).WithClock(clock)
	f.checker = NewChecker(f.svc, f.dedupe, f.notifier)
	f.checker.now = clock

	ctx := context.Background()
	reg, err := f.svc.Register(ctx, ledger.Registration{Username: "meera"})
	require.NoError(t, err)
	f.userID = reg.User.ID
	_, err = f.svc.RecordPremiumPurchase(ctx, f.userID, "monthly", ledger.Confirmation{Confirmed: true})
	require.NoError(t, err)
	return f
}

func TestCheckerWarnsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, Report{}, f.checker.Run(ctx))

	f.now = f.now.Add(29 * 24 * time.Hour)
	assert.Equal(t, Report{Warned: 1}, f.checker.Run(ctx))
	assert.Equal(t, Report{}, f.checker.Run(ctx))

	require.Len(t, f.notifier.sent[f.userID], 1)
	assert.Contains(t, f.notifier.sent[f.userID][0], "Premium ends on 01.07.2026")
}

func TestCheckerRetriesFailedWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.now = f.now.Add(29 * 24 * time.Hour)

	f.notifier.fail = true
	assert.Equal(t, Report{}, f.checker.Run(ctx))
	assert.Empty(t, f.dedupe.seen)

	f.notifier.fail = false
	assert.Equal(t, Report{Warned: 1}, f.checker.Run(ctx))
	assert.Equal(t, 2, f.notifier.tries)
}

func TestCheckerExpiresLapsedPremium(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(31 * 24 * time.Hour)
	assert.Equal(t, Report{Expired: 1}, f.checker.Run(ctx))
	assert.Equal(t, Report{}, f.checker.Run(ctx))

	user, err := f.svc.Store().User(ctx, f.userID)
	require.NoError(t, err)
	assert.False(t, user.IsPremium)
	require.Len(t, f.notifier.sent[f.userID], 1)
	assert.Contains(t, f.notifier.sent[f.userID][0], "has ended")

	balance, err := f.svc.GetBalance(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", balance.StringFixed(2))
}

func TestCheckerWithoutDeduperSkipsWarnings(t *testing.T) {
	f := newFixture(t)
	f.checker.Dedupe = nil
	f.now = f.now.Add(29 * 24 * time.Hour)

	assert.Equal(t, Report{}, f.checker.Run(context.Background()))
	assert.Zero(t, f.notifier.tries)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	c := NewChecker(ledger.NewService(ledger.NewMemoryStore(), ledger.DefaultPolicy()), nil, nil)
	assert.Error(t, c.Start("every now and then"))
	c.Stop()
}
