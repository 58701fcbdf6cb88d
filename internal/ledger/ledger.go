// Package ledger holds the transaction log and the deduction coordinator:
// the only code path allowed to change a user's balance.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type classifies a balance-changing transaction.
type Type string

const (
	TypeDeduct Type = "deduct"
	TypeCredit Type = "credit"
)

// Status of a transaction. Transactions are immutable except for the
// compensating completed -> failed update written when a commit could not go
// through.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is one validated balance-change attempt. A record exists for
// every attempt that passed validation, completed or failed, so the audit
// trail covers storage-layer failures too.
type Transaction struct {
	TxID      string          `json:"txId"`
	UserID    string          `json:"userId"`
	Type      Type            `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
	Status    Status          `json:"status"`
}

// IndexEntry is the global idempotency guard stored under tx:index:<txId>.
// Its existence alone marks the id as spent, regardless of which user
// submitted it.
type IndexEntry struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the structured outcome of a deduction or credit. Business
// failures are carried in Err as one of this package's sentinel errors,
// never as a panic or an opaque 5xx across the public boundary.
type Result struct {
	Success bool
	Balance decimal.Decimal // post-transaction balance, valid when Success
	TxID    string
	Err     error
}
