package ledger

import "errors"

// Sentinel errors for every business outcome of the coordinator. Callers
// branch with errors.Is; the HTTP layer maps them to stable result codes.
var (
	ErrInvalidAmount        = errors.New("ledger: amount must be a positive finite number")
	ErrInvalidUser          = errors.New("ledger: invalid user id")
	ErrDuplicateTransaction = errors.New("ledger: duplicate transaction")
	ErrAccountNotFound      = errors.New("ledger: account not found")
	ErrAccountCorrupt       = errors.New("ledger: account data invalid")
	ErrAccountDisabled      = errors.New("ledger: account disabled")
	ErrInsufficientBalance  = errors.New("ledger: insufficient balance")
	// ErrStorage is the generic internal failure surfaced after the retry
	// budget is exhausted. Details stay in the logs.
	ErrStorage = errors.New("ledger: internal storage failure")
)

// Code returns the stable machine-readable code for a coordinator error.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidUser):
		return "invalid_user"
	case errors.Is(err, ErrDuplicateTransaction):
		return "duplicate_transaction"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAccountCorrupt):
		return "account_invalid"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "internal"
	}
}

// Message returns the user-facing message for a coordinator error. Only
// insufficient balance and duplicate transaction are expected in normal
// operation; everything else collapses to a generic retry message.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, ErrInvalidUser):
		return "Invalid user"
	case errors.Is(err, ErrDuplicateTransaction):
		return "Duplicate transaction"
	case errors.Is(err, ErrAccountNotFound):
		return "Account not found"
	case errors.Is(err, ErrAccountCorrupt):
		return "User data invalid"
	case errors.Is(err, ErrAccountDisabled):
		return "Account disabled"
	case errors.Is(err, ErrInsufficientBalance):
		return "Insufficient balance"
	default:
		return "Internal error, please try again"
	}
}
