package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
)

const (
	warnWindowStart = 23 * time.Hour
	warnWindowEnd   = 25 * time.Hour
	warnTTL         = 48 * time.Hour
)

type Notifier interface {
	NotifyUser(ctx context.Context, user models.User, text string) error
}

// Deduper is satisfied by cache.Deduper.
type Deduper interface {
	FirstTime(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Checker warns users before premium lapses and downgrades them once it has.
type Checker struct {
	Ledger   *ledger.Service
	Dedupe   Deduper
	Notifier Notifier

	now  func() time.Time
	cron *cron.Cron
}

type Report struct {
	Warned  int
	Expired int
}

func NewChecker(svc *ledger.Service, dedupe Deduper, notifier Notifier) *Checker {
	return &Checker{
		Ledger:   svc,
		Dedupe:   dedupe,
		Notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a check immediately and then on spec (standard cron syntax or
// descriptors such as "@hourly").
func (c *Checker) Start(spec string) error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(spec, func() { c.Run(context.Background()) }); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", spec, err)
	}

	log.Printf("Background premium worker started (%s)", spec)
	c.Run(context.Background())
	c.cron.Start()
	return nil
}

// Stop waits for a running check to finish.
func (c *Checker) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

func (c *Checker) Run(ctx context.Context) Report {
	log.Println("Running premium check cycle...")
	var r Report
	r.Warned = c.warnExpiring(ctx)
	r.Expired = c.expireLapsed(ctx)
	if r.Warned > 0 || r.Expired > 0 {
		log.Printf("Premium check: %d warned, %d expired", r.Warned, r.Expired)
	}
	return r
}

func (c *Checker) warnExpiring(ctx context.Context) int {
	if c.Dedupe == nil || c.Notifier == nil {
		return 0
	}

	now := c.now()
	users, err := c.Ledger.Store().PremiumExpiringBetween(ctx, now.Add(warnWindowStart), now.Add(warnWindowEnd))
	if err != nil {
		log.Printf("Error querying expiring premium users: %v", err)
		return 0
	}

	warned := 0
	for _, u := range users {
		key := fmt.Sprintf("premium_warn_%d_%d", u.ID, u.PremiumExpires.Unix())
		first, err := c.Dedupe.FirstTime(ctx, key, warnTTL)
		if err != nil {
			log.Printf("Failed to check warning marker for user %d: %v", u.ID, err)
			continue
		}
		if !first {
			continue
		}

		text := fmt.Sprintf("⚠️ Your Premium ends on %s. Renew with /premium to keep earning %sx per message.",
			u.PremiumExpires.Format("02.01.2006 15:04"), c.Ledger.Policy().PremiumMultiplier.String())
		if err := c.Notifier.NotifyUser(ctx, u, text); err != nil {
			log.Printf("Failed to send expiry warning to user %d: %v", u.ID, err)
			if err := c.Dedupe.Forget(ctx, key); err != nil {
				log.Printf("Failed to clear warning marker for user %d: %v", u.ID, err)
			}
			continue
		}
		warned++
	}
	return warned
}

func (c *Checker) expireLapsed(ctx context.Context) int {
	users, err := c.Ledger.Store().PremiumExpiredBefore(ctx, c.now())
	if err != nil {
		log.Printf("Error querying lapsed premium users: %v", err)
		return 0
	}

	expired := 0
	for _, u := range users {
		changed, err := c.Ledger.ExpirePremium(ctx, u.ID)
		if err != nil {
			log.Printf("Failed to expire premium for user %d: %v", u.ID, err)
			continue
		}
		if !changed {
			continue
		}
		expired++
		log.Printf("Premium expired for user %d (expire date: %s)", u.ID, u.PremiumExpires)

		if c.Notifier == nil {
			continue
		}
		if err := c.Notifier.NotifyUser(ctx, u, "❌ Your Premium has ended. Use /premium to renew."); err != nil {
			log.Printf("Failed to send expiration notice to user %d: %v", u.ID, err)
		}
	}
	return expired
}
