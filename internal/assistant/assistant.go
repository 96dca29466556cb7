package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"ganesh-ai/internal/ai"
	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
)

var (
	ErrEmptyPrompt    = errors.New("assistant: empty prompt")
	ErrProviderFailed = errors.New("assistant: chat provider failed")
)

const maxPromptLen = 4000

type Provider interface {
	Complete(ctx context.Context, prompt string) (*ai.Completion, error)
}

type Assistant struct {
	Provider Provider
	Ledger   *ledger.Service
}

type Reply struct {
	Text    string
	Model   string
	Earned  decimal.Decimal
	Balance decimal.Decimal
}

func New(provider Provider, svc *ledger.Service) *Assistant {
	return &Assistant{Provider: provider, Ledger: svc}
}

// Ask forwards prompt to the provider and pays the user only once a reply
// came back. The provider call happens outside any ledger transaction.
func (a *Assistant) Ask(ctx context.Context, userID uint, prompt, platform string) (*Reply, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	prompt = truncate(prompt, maxPromptLen)

	user, err := a.Ledger.Store().User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !user.Active() {
		return nil, ledger.ErrUserInactive
	}

	completion, err := a.Provider.Complete(ctx, prompt)
	if err != nil {
		log.Printf("Chat provider failed for user %d: %v", userID, err)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	res, err := a.Ledger.RecordChatEarning(ctx, userID, 1, &models.ChatRecord{
		Prompt:   prompt,
		Response: completion.Text,
		Model:    completion.Model,
		Platform: platform,
		Tokens:   completion.Tokens,
	})
	if err != nil {
		return nil, fmt.Errorf("record earning for user %d: %w", userID, err)
	}

	return &Reply{
		Text:    completion.Text,
		Model:   completion.Model,
		Earned:  res.Entry.Amount,
		Balance: res.User.Balance,
	}, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
