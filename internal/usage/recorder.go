package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/tokligence/tokligence-ledger/internal/keys"
	"github.com/tokligence/tokligence-ledger/internal/kv"
	"github.com/tokligence/tokligence-ledger/internal/metrics"
	"github.com/tokligence/tokligence-ledger/internal/pricing"
)

// Recorder appends usage events under per-user, time-ordered keys. A pure
// append: it only fails on storage errors, which are surfaced to the caller
// without built-in retries.
type Recorder struct {
	store  kv.Store
	ids    *keys.IDSource
	prices *pricing.Table
	logger *log.Logger
	stats  *metrics.Collector

	now func() time.Time
}

func NewRecorder(store kv.Store, ids *keys.IDSource, prices *pricing.Table, logger *log.Logger, stats *metrics.Collector) *Recorder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if prices == nil {
		prices = pricing.Default()
	}
	return &Recorder{
		store:  store,
		ids:    ids,
		prices: prices,
		logger: logger,
		stats:  stats,
		now:    time.Now,
	}
}

// Record enriches the caller's payload with an id, timestamp, UTC date key
// and (when absent) a computed cost, then persists it. The returned event is
// the stored form.
func (r *Recorder) Record(ctx context.Context, ev Event) (*Event, error) {
	if !keys.ValidUserID(ev.UserID) {
		return nil, errors.New("usage: invalid user id")
	}
	if ev.InputTokens < 0 || ev.OutputTokens < 0 || ev.CacheCreationInputTokens < 0 || ev.CacheReadInputTokens < 0 {
		return nil, errors.New("usage: token counts must not be negative")
	}
	if ev.Cost != nil && ev.Cost.IsNegative() {
		return nil, errors.New("usage: cost must not be negative")
	}

	now := r.now().UTC()
	ev.ID = r.ids.NewID(now)
	ev.CreatedAt = now
	ev.DateKey = keys.DateKey(now)
	if ev.Model == "" {
		ev.Model = UnknownKey
	}
	if ev.Provider == "" {
		ev.Provider = UnknownKey
	}
	// A nil cost means "not provided": compute one from the rate table. An
	// explicit cost, including zero for free calls, is kept as sent.
	if ev.Cost == nil {
		cost := r.prices.Cost(ev.Model, ev.InputTokens, ev.OutputTokens, ev.CacheCreationInputTokens, ev.CacheReadInputTokens)
		ev.Cost = &cost
	}

	value, err := json.Marshal(&ev)
	if err != nil {
		return nil, fmt.Errorf("encode usage event: %w", err)
	}
	if err := r.store.Put(ctx, keys.UsageRecord(ev.UserID, ev.ID), value); err != nil {
		r.logger.Printf("event=usage_write_failed user=%s id=%s err=%v", ev.UserID, ev.ID, err)
		return nil, fmt.Errorf("store usage event: %w", err)
	}

	r.stats.RecordUsage(ev.Model, ev.Provider, ev.InputTokens, ev.OutputTokens)
	r.logger.Printf("event=usage_recorded user=%s id=%s model=%s provider=%s in=%d out=%d cost=%s",
		ev.UserID, ev.ID, ev.Model, ev.Provider, ev.InputTokens, ev.OutputTokens, ev.Cost)
	return &ev, nil
}
