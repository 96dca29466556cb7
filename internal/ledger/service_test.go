package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/ledger/ledgertest"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &ledgertest.StoreSuite{
		NewStore: func() ledger.Store { return ledger.NewMemoryStore() },
	})
}

// failingStore fails every transaction the way a dropped connection would.
type failingStore struct {
	*ledger.MemoryStore
}

func (failingStore) Atomic(context.Context, func(tx ledger.Tx) error) error {
	return errors.New("connection reset by peer")
}

func TestStoreFailureIsRetryable(t *testing.T) {
	svc := ledger.NewService(failingStore{ledger.NewMemoryStore()}, ledger.DefaultPolicy())

	_, err := svc.RecordChatEarning(context.Background(), 1, 1, nil)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.True(t, ledger.IsRetryable(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestDomainErrorsAreNotRetryable(t *testing.T) {
	for _, err := range []error{
		ledger.ErrInsufficientBalance,
		ledger.ErrDuplicateReferral,
		fmt.Errorf("wrapped: %w", ledger.ErrPaymentNotConfirmed),
	} {
		assert.False(t, ledger.IsRetryable(err), err.Error())
	}
}
