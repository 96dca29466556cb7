package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"ganesh-ai/internal/assistant"
	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
	"ganesh-ai/internal/payment"
)

const platform = "telegram"

// PremiumStarter opens a checkout for a premium plan.
type PremiumStarter interface {
	StartPremium(ctx context.Context, userID uint, planID string) (*payment.Checkout, error)
}

type Bot struct {
	Instance  *telego.Bot
	Ledger    *ledger.Service
	Assistant *assistant.Assistant
	Payments  PremiumStarter
	Username  string
}

func NewBot(token string, svc *ledger.Service, asst *assistant.Assistant, payments PremiumStarter) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:  tgBot,
		Ledger:    svc,
		Assistant: asst,
		Payments:  payments,
		Username:  "ganesh_ai_bot",
	}, nil
}

// NotifyUser sends text to the user's Telegram chat.
func (b *Bot) NotifyUser(ctx context.Context, user models.User, text string) error {
	if user.TelegramID == nil {
		return fmt.Errorf("user %d has no telegram chat", user.ID)
	}
	_, err := b.Instance.SendMessage(ctx, tu.Message(tu.ID(*user.TelegramID), text))
	return err
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if me, err := b.Instance.GetMe(ctx); err == nil {
		b.Username = me.Username
	} else {
		log.Printf("Failed to fetch bot info: %v", err)
	}

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	handler.Handle(b.handleStart, th.CommandEqual("start"))
	handler.Handle(b.handleBalance, th.CommandEqual("balance"))
	handler.Handle(b.handleReferral, th.CommandEqual("referral"))
	handler.Handle(b.handleHistory, th.CommandEqual("history"))
	handler.Handle(b.handleStats, th.CommandEqual("stats"))
	handler.Handle(b.handlePremium, th.CommandEqual("premium"))
	handler.Handle(b.handleBuyPremium, th.CallbackDataPrefix("premium:"))
	handler.Handle(b.handleUnknownCommand, th.AnyCommand())
	handler.Handle(b.handleChat, th.AnyMessageWithText())

	go func() {
		<-ctx.Done()
		_ = handler.Stop()
	}()

	log.Printf("Bot @%s started", b.Username)
	return handler.Start()
}

func (b *Bot) reply(ctx *th.Context, chatID int64, text string) {
	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), text)); err != nil {
		log.Printf("Failed to send message to %d: %v", chatID, err)
	}
}

// userFor registers the Telegram sender on first contact.
func (b *Bot) userFor(ctx context.Context, from *telego.User, referralCode string) (*ledger.Registered, error) {
	id := from.ID
	return b.Ledger.Register(ctx, ledger.Registration{
		Username:     from.Username,
		TelegramID:   &id,
		ReferralCode: referralCode,
	})
}

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	message := update.Message
	_, _, args := tu.ParseCommand(message.Text)
	code := ""
	if len(args) > 0 {
		code = args[0]
	}

	reg, err := b.userFor(ctx.Context(), message.From, code)
	if err != nil && reg == nil {
		log.Printf("Failed to register telegram user %d: %v", message.From.ID, err)
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}
	if err != nil {
		// Registration committed, only the referral payout failed.
		log.Printf("Referral payout for telegram user %d failed: %v", message.From.ID, err)
	}
	if reg.Created {
		log.Printf("Registered telegram user %d as %d", message.From.ID, reg.User.ID)
	}

	rate := b.Ledger.Policy().Rate(reg.User, time.Now().UTC())
	b.reply(ctx, message.Chat.ID, welcomeText(message.From.FirstName, reg, rate))
	return nil
}

func (b *Bot) handleBalance(ctx *th.Context, update telego.Update) error {
	message := update.Message
	reg, err := b.userFor(ctx.Context(), message.From, "")
	if err != nil {
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}

	balance, err := b.Ledger.GetBalance(ctx.Context(), reg.User.ID)
	if err != nil {
		log.Printf("Failed to get balance for user %d: %v", reg.User.ID, err)
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}

	now := time.Now().UTC()
	u := reg.User
	u.Balance = balance
	b.reply(ctx, message.Chat.ID, balanceText(u, b.Ledger.Policy().Rate(u, now), now))
	return nil
}

func (b *Bot) handleReferral(ctx *th.Context, update telego.Update) error {
	message := update.Message
	reg, err := b.userFor(ctx.Context(), message.From, "")
	if err != nil {
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}

	invited, err := b.Ledger.Store().ReferralCount(ctx.Context(), reg.User.ID)
	if err != nil {
		log.Printf("Failed to count referrals for user %d: %v", reg.User.ID, err)
	}

	link := referralLink(b.Username, reg.User.ReferralCode)
	b.reply(ctx, message.Chat.ID, referralText(link, invited, b.Ledger.Policy().ReferralBonus))
	return nil
}

func (b *Bot) handleHistory(ctx *th.Context, update telego.Update) error {
	message := update.Message
	reg, err := b.userFor(ctx.Context(), message.From, "")
	if err != nil {
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}

	entries, err := b.Ledger.Store().Entries(ctx.Context(), reg.User.ID)
	if err != nil {
		log.Printf("Failed to load ledger for user %d: %v", reg.User.ID, err)
		b.reply(ctx, message.Chat.ID, errorText(ledger.ErrStoreUnavailable))
		return nil
	}
	b.reply(ctx, message.Chat.ID, historyText(entries))
	return nil
}

func (b *Bot) handleStats(ctx *th.Context, update telego.Update) error {
	message := update.Message
	reg, err := b.userFor(ctx.Context(), message.From, "")
	if err != nil {
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}

	st, err := b.collectStats(ctx.Context(), reg.User.ID, time.Now().UTC())
	if err != nil {
		log.Printf("Failed to collect stats for user %d: %v", reg.User.ID, err)
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}
	b.reply(ctx, message.Chat.ID, statsText(*st, time.Now().UTC()))
	return nil
}

func (b *Bot) collectStats(ctx context.Context, userID uint, now time.Time) (*userStats, error) {
	statement, err := b.Ledger.Statement(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &userStats{User: statement.User, Earned: totalEarned(statement.Entries)}

	store := b.Ledger.Store()
	if st.TotalChats, err = store.ChatCount(ctx, userID, time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	if st.TodayChats, err = store.ChatCount(ctx, userID, startOfDay(now)); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	if st.Referrals, err = store.ReferralCount(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return st, nil
}

func (b *Bot) handlePremium(ctx *th.Context, update telego.Update) error {
	message := update.Message
	policy := b.Ledger.Policy()

	var row []telego.InlineKeyboardButton
	for _, id := range []string{"monthly", "yearly"} {
		if plan, ok := policy.Plans[id]; ok {
			label := fmt.Sprintf("%s %s", strings.ToUpper(id[:1])+id[1:], rupees(plan.Price))
			row = append(row, tu.InlineKeyboardButton(label).WithCallbackData("premium:"+id))
		}
	}
	keyboard := tu.InlineKeyboard(tu.InlineKeyboardRow(row...))

	_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), premiumText(policy)).WithReplyMarkup(keyboard))
	if err != nil {
		log.Printf("Failed to send premium plans to %d: %v", message.Chat.ID, err)
	}
	return nil
}

func (b *Bot) handleBuyPremium(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	telegramID := callback.From.ID
	defer func() {
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
	}()

	reg, err := b.userFor(ctx.Context(), &callback.From, "")
	if err != nil {
		b.reply(ctx, telegramID, errorText(err))
		return nil
	}

	planID := strings.TrimPrefix(callback.Data, "premium:")
	checkout, err := b.Payments.StartPremium(ctx.Context(), reg.User.ID, planID)
	if err != nil {
		log.Printf("Failed to start premium checkout for user %d: %v", reg.User.ID, err)
		if errors.Is(err, payment.ErrNotConfigured) {
			b.reply(ctx, telegramID, "⚠️ Payments are not available right now.")
			return nil
		}
		b.reply(ctx, telegramID, errorText(err))
		return nil
	}

	keyboard := tu.InlineKeyboard(tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("💳 Pay now").WithURL(checkout.URL),
	))
	text := fmt.Sprintf("💳 Premium %s: %s\nOrder: %s", checkout.Plan, rupees(b.Ledger.Policy().Plans[checkout.Plan].Price), checkout.OrderID)
	_, err = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), text).WithReplyMarkup(keyboard))
	if err != nil {
		log.Printf("Failed to send checkout to %d: %v", telegramID, err)
	}
	return nil
}

func (b *Bot) handleUnknownCommand(ctx *th.Context, update telego.Update) error {
	b.reply(ctx, update.Message.Chat.ID, "Commands: /balance /stats /referral /premium /history\nOr just send me a message.")
	return nil
}

func (b *Bot) handleChat(ctx *th.Context, update telego.Update) error {
	message := update.Message
	reg, err := b.userFor(ctx.Context(), message.From, "")
	if err != nil {
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}

	_ = ctx.Bot().SendChatAction(ctx.Context(), tu.ChatAction(tu.ID(message.Chat.ID), telego.ChatActionTyping))

	answer, err := b.Assistant.Ask(ctx.Context(), reg.User.ID, message.Text, platform)
	if err != nil {
		log.Printf("Chat failed for user %d: %v", reg.User.ID, err)
		b.reply(ctx, message.Chat.ID, errorText(err))
		return nil
	}
	b.reply(ctx, message.Chat.ID, replyText(answer))
	return nil
}
