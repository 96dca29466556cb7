package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ganesh-ai/internal/assistant"
	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
)

const historyLimit = 10

func rupees(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

func welcomeText(name string, reg *ledger.Registered, rate decimal.Decimal) string {
	if !reg.Created {
		return fmt.Sprintf("Welcome back, %s! 🙏\n\nYour balance: %s\nJust send me a message to chat and earn.",
			name, rupees(reg.User.Balance))
	}
	msg := fmt.Sprintf("Namaste, %s! 🙏\n\nI am Ganesh A.I. Ask me anything and earn %s for every message.\n\n🎁 Welcome bonus credited. Balance: %s",
		name, rupees(rate), rupees(reg.User.Balance))
	if reg.ReferralPaid {
		msg += "\n🤝 Your friend received a referral bonus for inviting you."
	}
	return msg
}

func balanceText(u models.User, rate decimal.Decimal, now time.Time) string {
	status := "Free"
	if u.PremiumActive(now) {
		status = "⭐ Premium"
		if u.PremiumExpires != nil {
			status += " until " + u.PremiumExpires.Format("02.01.2006")
		}
	}
	return fmt.Sprintf("💰 Balance: %s\n📊 Plan: %s\n💬 Per message: %s", rupees(u.Balance), status, rupees(rate))
}

func referralLink(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, code)
}

func referralText(link string, invited int64, bonus decimal.Decimal) string {
	return fmt.Sprintf("🤝 Invite friends and get %s for each one who joins.\n\n👥 Invited: %d\n\n🔗 Your link:\n%s",
		rupees(bonus), invited, link)
}

func historyText(entries []models.LedgerEntry) string {
	if len(entries) == 0 {
		return "No transactions yet."
	}
	if len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}
	var sb strings.Builder
	sb.WriteString("🧾 Recent transactions:\n")
	for _, e := range entries {
		sign := "+"
		if e.Amount.IsNegative() {
			sign = ""
		}
		fmt.Fprintf(&sb, "\n%s  %s  %s%s  → %s",
			e.CreatedAt.Format("02.01 15:04"), kindLabel(e.Kind), sign, e.Amount.StringFixed(2), e.BalanceAfter.StringFixed(2))
	}
	return sb.String()
}

type userStats struct {
	User       models.User
	Earned     decimal.Decimal
	TotalChats int64
	TodayChats int64
	Referrals  int64
}

// totalEarned sums the credits in a statement. Debits are not subtracted.
func totalEarned(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Amount.IsPositive() {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func statsText(st userStats, now time.Time) string {
	premium := "No"
	if st.User.PremiumActive(now) {
		premium = "Yes"
	}
	return fmt.Sprintf("📊 Your statistics\n\n"+
		"👤 Username: %s\n📅 Member since: %s\n⭐ Premium: %s\n\n"+
		"💬 Total chats: %d\n📅 Today's chats: %d\n💰 Total earned: %s\n💳 Balance: %s\n\n"+
		"🔗 Your code: %s\n👥 Referrals: %d",
		st.User.Username, st.User.CreatedAt.Format("02.01.2006"), premium,
		st.TotalChats, st.TodayChats, rupees(st.Earned), rupees(st.User.Balance),
		st.User.ReferralCode, st.Referrals)
}

func kindLabel(k models.EntryKind) string {
	switch k {
	case models.KindWelcomeBonus:
		return "Welcome bonus"
	case models.KindChatEarning:
		return "Chat"
	case models.KindReferralBonus:
		return "Referral"
	case models.KindPremiumPurchase:
		return "Premium"
	case models.KindPremiumExpiry:
		return "Premium ended"
	case models.KindAdminAdjustment:
		return "Adjustment"
	}
	return string(k)
}

func premiumText(p ledger.Policy) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⭐ Premium earns %sx per message.\n", p.PremiumMultiplier.String())
	for _, id := range []string{"monthly", "yearly"} {
		plan, ok := p.Plans[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n• %s: %s for %d days", id, rupees(plan.Price), int(plan.Duration.Hours()/24))
	}
	return sb.String()
}

func replyText(r *assistant.Reply) string {
	return fmt.Sprintf("%s\n\n💰 +%s · Balance %s", r.Text, r.Earned.StringFixed(2), rupees(r.Balance))
}

// errorText turns a service error into something safe to show a user.
func errorText(err error) string {
	switch {
	case errors.Is(err, ledger.ErrUserInactive):
		return "❌ Your account is deactivated."
	case errors.Is(err, ledger.ErrUserNotFound):
		return "Please send /start first."
	case errors.Is(err, assistant.ErrEmptyPrompt):
		return "Send me a question to get started."
	case errors.Is(err, assistant.ErrProviderFailed):
		return "⚠️ I could not answer right now, please try again."
	case errors.Is(err, ledger.ErrInvalidInput):
		return "❌ Unknown plan."
	case ledger.IsRetryable(err):
		return "⚠️ Service is busy, please try again in a moment."
	}
	return "❌ Something went wrong."
}
