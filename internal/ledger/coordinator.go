package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/tokligence/tokligence-ledger/internal/account"
	"github.com/tokligence/tokligence-ledger/internal/keys"
	"github.com/tokligence/tokligence-ledger/internal/kv"
	"github.com/tokligence/tokligence-ledger/internal/metrics"
	"github.com/tokligence/tokligence-ledger/internal/userlock"
)

// Config tunes the coordinator's retry behaviour.
type Config struct {
	CommitAttempts     uint64        // total commit tries including the first (default 3)
	CompensateAttempts uint64        // total compensation tries (default 2)
	RetryBaseDelay     time.Duration // first backoff interval, doubled per retry (default 50ms)
}

func (c Config) withDefaults() Config {
	if c.CommitAttempts == 0 {
		c.CommitAttempts = 3
	}
	if c.CompensateAttempts == 0 {
		c.CompensateAttempts = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 50 * time.Millisecond
	}
	return c
}

// Coordinator serializes balance changes per user and performs the atomic
// transaction/index/account commit. One coordinator instance owns all writes
// to accounts and the transaction log in a deployment.
type Coordinator struct {
	store    kv.Store
	accounts *account.Store
	locks    *userlock.Registry
	ids      *keys.IDSource
	logger   *log.Logger
	cfg      Config
	stats    *metrics.Collector

	now func() time.Time
}

func NewCoordinator(store kv.Store, accounts *account.Store, locks *userlock.Registry, ids *keys.IDSource, logger *log.Logger, stats *metrics.Collector, cfg Config) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Coordinator{
		store:    store,
		accounts: accounts,
		locks:    locks,
		ids:      ids,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		stats:    stats,
		now:      time.Now,
	}
}

// Deduct removes amount from the user's balance. txID is the caller's
// idempotency key; when empty a time-sortable id is generated, which makes
// the call non-idempotent across retries.
//
// The whole critical section for one user runs under that user's lock:
// idempotency check, account read, sufficiency check, and the atomic
// three-key commit (transaction, global index entry, updated account).
func (c *Coordinator) Deduct(ctx context.Context, userID string, amount decimal.Decimal, reason, txID string) Result {
	return c.apply(ctx, TypeDeduct, userID, amount, reason, txID)
}

// Credit adds amount to the user's balance. Same validation, idempotency,
// and commit machinery as Deduct; sufficiency does not apply and disabled
// accounts may still be topped up.
func (c *Coordinator) Credit(ctx context.Context, userID string, amount decimal.Decimal, reason, txID string) Result {
	return c.apply(ctx, TypeCredit, userID, amount, reason, txID)
}

func (c *Coordinator) apply(ctx context.Context, typ Type, userID string, amount decimal.Decimal, reason, txID string) Result {
	now := c.now().UTC()
	if txID == "" {
		txID = c.ids.NewID(now)
	}

	res := c.applyLocked(ctx, typ, userID, amount, reason, txID, now)
	code := Code(res.Err)
	if typ == TypeCredit {
		c.stats.RecordCredit(code)
	} else {
		c.stats.RecordDeduction(code)
	}
	return res
}

func (c *Coordinator) applyLocked(ctx context.Context, typ Type, userID string, amount decimal.Decimal, reason, txID string, now time.Time) Result {
	fail := func(err error) Result { return Result{TxID: txID, Err: err} }

	// Validation happens before any lock or write.
	if !keys.ValidUserID(userID) {
		return fail(ErrInvalidUser)
	}
	if !amount.IsPositive() {
		c.logger.Printf("event=deduct_rejected user=%s tx=%s amount=%s reason=invalid_amount", userID, txID, amount)
		return fail(ErrInvalidAmount)
	}

	release := c.locks.Acquire(userID)
	defer release()

	// Once inside the critical section the operation runs to completion;
	// abandoning a half-committed batch is what the compensation path is
	// for, not caller cancellation.
	ctx = context.WithoutCancel(ctx)

	// Global idempotency check: the index key alone decides, so a replay
	// under a different user id is still rejected.
	if _, err := c.store.Get(ctx, keys.TransactionIndex(txID)); err == nil {
		c.logger.Printf("event=duplicate_transaction user=%s tx=%s", userID, txID)
		return fail(ErrDuplicateTransaction)
	} else if !errors.Is(err, kv.ErrNotFound) {
		c.logger.Printf("event=index_read_failed user=%s tx=%s err=%v", userID, txID, err)
		return fail(ErrStorage)
	}

	acct, err := c.accounts.Get(ctx, userID)
	switch {
	case errors.Is(err, account.ErrNotFound):
		return fail(ErrAccountNotFound)
	case errors.Is(err, account.ErrCorrupt):
		c.logger.Printf("event=account_corrupt user=%s tx=%s err=%v", userID, txID, err)
		return fail(ErrAccountCorrupt)
	case err != nil:
		c.logger.Printf("event=account_read_failed user=%s tx=%s err=%v", userID, txID, err)
		return fail(ErrStorage)
	}

	updated := *acct
	switch typ {
	case TypeCredit:
		updated.Balance = acct.Balance.Add(amount)
	default:
		if acct.IsDisabled {
			return fail(ErrAccountDisabled)
		}
		if acct.Balance.LessThan(amount) {
			c.logger.Printf("event=insufficient_balance user=%s tx=%s amount=%s balance=%s", userID, txID, amount, acct.Balance)
			return fail(ErrInsufficientBalance)
		}
		updated.Balance = acct.Balance.Sub(amount)
		updated.LastDeductAt = now
	}

	txn := Transaction{
		TxID:      txID,
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Reason:    reason,
		Timestamp: now,
		Status:    StatusCompleted,
	}
	batch, err := buildBatch(txn, IndexEntry{UserID: userID, Timestamp: now}, &updated)
	if err != nil {
		c.logger.Printf("event=encode_failed user=%s tx=%s err=%v", userID, txID, err)
		return fail(ErrStorage)
	}

	if err := c.commit(ctx, batch); err != nil {
		c.logger.Printf("event=commit_failed user=%s tx=%s amount=%s err=%v", userID, txID, amount, err)
		c.compensate(ctx, txn)
		return fail(ErrStorage)
	}

	c.logger.Printf("event=%s_completed user=%s tx=%s amount=%s balance=%s", typ, userID, txID, amount, updated.Balance)
	return Result{Success: true, Balance: updated.Balance, TxID: txID}
}

func buildBatch(txn Transaction, idx IndexEntry, updated *account.Account) (*kv.Batch, error) {
	txnValue, err := json.Marshal(txn)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	idxValue, err := json.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("encode index entry: %w", err)
	}
	acctKey, acctValue, err := account.Encode(updated)
	if err != nil {
		return nil, err
	}

	var batch kv.Batch
	batch.Put(keys.Transaction(txn.UserID, txn.TxID), txnValue)
	batch.Put(keys.TransactionIndex(txn.TxID), idxValue)
	batch.Put(acctKey, acctValue)
	return &batch, nil
}

// commit applies the batch, retrying transient storage failures with
// exponential backoff up to the configured attempt budget. The per-user lock
// stays held across retries of this one attempt; other users are unaffected.
func (c *Coordinator) commit(ctx context.Context, batch *kv.Batch) error {
	first := true
	return backoff.Retry(func() error {
		if !first {
			c.stats.RecordCommitRetry()
		}
		first = false

		err := c.store.Apply(ctx, batch)
		if err == nil {
			return nil
		}
		if kv.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, c.policy(c.cfg.CommitAttempts))
}

// compensate writes the transaction with a failed status so the audit trail
// records the attempt even though the balance never moved. Best effort: its
// own failure is logged, never propagated.
func (c *Coordinator) compensate(ctx context.Context, txn Transaction) {
	txn.Status = StatusFailed
	value, err := json.Marshal(txn)
	if err != nil {
		c.logger.Printf("event=compensation_encode_failed user=%s tx=%s err=%v", txn.UserID, txn.TxID, err)
		c.stats.RecordCompensation(false)
		return
	}

	err = backoff.Retry(func() error {
		err := c.store.Put(ctx, keys.Transaction(txn.UserID, txn.TxID), value)
		if err != nil && !kv.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.policy(c.cfg.CompensateAttempts))

	c.stats.RecordCompensation(err == nil)
	if err != nil {
		c.logger.Printf("event=compensation_failed user=%s tx=%s err=%v", txn.UserID, txn.TxID, err)
		return
	}
	c.logger.Printf("event=compensation_written user=%s tx=%s", txn.UserID, txn.TxID)
}

func (c *Coordinator) policy(attempts uint64) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	return backoff.WithMaxRetries(bo, attempts-1)
}

// Transactions returns the user's transaction log in creation order.
func (c *Coordinator) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	start, end := kv.PrefixRange(keys.TransactionPrefix(userID))
	pairs, err := c.store.Scan(ctx, kv.ScanOptions{Start: start, End: end, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("scan transactions for %s: %w", userID, err)
	}
	out := make([]Transaction, 0, len(pairs))
	for _, p := range pairs {
		var txn Transaction
		if err := json.Unmarshal(p.Value, &txn); err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", p.Key, err)
		}
		out = append(out, txn)
	}
	return out, nil
}
