// Package account persists per-user balances and account flags. Accounts are
// only mutated inside a deduction critical section for their user.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokligence/tokligence-ledger/internal/keys"
	"github.com/tokligence/tokligence-ledger/internal/kv"
)

var (
	// ErrNotFound means no account exists for the user.
	ErrNotFound = errors.New("account: not found")
	// ErrCorrupt means the stored account could not be decoded; the balance
	// is not trustworthy and no deduction may proceed.
	ErrCorrupt = errors.New("account: stored data invalid")
	// ErrExists is returned by Create when the user already has an account.
	ErrExists = errors.New("account: already exists")
	// ErrInvalidID is returned by Create for user ids the key space cannot
	// hold (empty, reserved, or containing the ":" separator).
	ErrInvalidID = errors.New("account: invalid user id")
)

// Account is one user's prepaid balance.
type Account struct {
	UserID       string          `json:"userId"`
	Balance      decimal.Decimal `json:"balance"`
	IsDisabled   bool            `json:"isDisabled"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastDeductAt time.Time       `json:"lastDeductAt,omitzero"`
}

// Store reads and writes accounts over the ordered KV store.
type Store struct {
	kv kv.Store
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Get loads the account for userID. Decoding failures map to ErrCorrupt so
// callers can distinguish "no such user" from "balance not trustworthy".
func (s *Store) Get(ctx context.Context, userID string) (*Account, error) {
	raw, err := s.kv.Get(ctx, keys.Account(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if a.UserID == "" {
		a.UserID = userID
	}
	return &a, nil
}

// Create provisions a new account with an initial balance.
func (s *Store) Create(ctx context.Context, a *Account) error {
	if !keys.ValidUserID(a.UserID) {
		return ErrInvalidID
	}
	if a.Balance.IsNegative() {
		return errors.New("account: initial balance must not be negative")
	}
	if _, err := s.Get(ctx, a.UserID); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.Put(ctx, a)
}

// Put writes the account unconditionally.
func (s *Store) Put(ctx context.Context, a *Account) error {
	key, value, err := Encode(a)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("store account %s: %w", a.UserID, err)
	}
	return nil
}

// Encode renders the account into its key/value form so callers can stage it
// inside an atomic batch together with other writes.
func Encode(a *Account) (key, value []byte, err error) {
	value, err = json.Marshal(a)
	if err != nil {
		return nil, nil, fmt.Errorf("encode account %s: %w", a.UserID, err)
	}
	return keys.Account(a.UserID), value, nil
}
