package ledger

import "errors"

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrDuplicateReferral   = errors.New("ledger: referral bonus already granted")
	ErrPaymentNotConfirmed = errors.New("ledger: payment not confirmed")
	ErrStoreUnavailable    = errors.New("ledger: store unavailable")

	ErrUserNotFound     = errors.New("ledger: user not found")
	ErrUserExists       = errors.New("ledger: user already registered")
	ErrUserInactive     = errors.New("ledger: user is deactivated")
	ErrInvalidInput     = errors.New("ledger: invalid input")
	ErrReferralMismatch = errors.New("ledger: user was not referred by this referrer")
	ErrLedgerMismatch   = errors.New("ledger: balance does not match ledger")
)

// IsRetryable reports whether the whole operation may be safely retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// isDomain reports errors produced by policy checks rather than by the store.
func isDomain(err error) bool {
	for _, target := range []error{
		ErrInsufficientBalance,
		ErrDuplicateReferral,
		ErrPaymentNotConfirmed,
		ErrUserNotFound,
		ErrUserExists,
		ErrUserInactive,
		ErrInvalidInput,
		ErrReferralMismatch,
		ErrLedgerMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
