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
	"github.com/tokligence/tokligence-ledger/internal/userlock"
)

// Aggregator maintains the per-user/per-day rollups. The read-merge-write
// cycle for a given user runs under the same per-user lock as deductions, so
// two concurrent events for one user cannot read the same pre-merge snapshot
// and silently drop a contribution.
type Aggregator struct {
	store  kv.Store
	locks  *userlock.Registry
	logger *log.Logger

	now func() time.Time
}

func NewAggregator(store kv.Store, locks *userlock.Registry, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Aggregator{store: store, locks: locks, logger: logger, now: time.Now}
}

// MergeEvent folds a recorded event into its day's rollup, creating the
// rollup on the first event of the day. Returns the post-merge aggregate.
func (a *Aggregator) MergeEvent(ctx context.Context, ev *Event) (*DayStats, error) {
	if ev.UserID == "" || ev.DateKey == "" {
		return nil, errors.New("usage: merge requires a recorded event")
	}

	release := a.locks.Acquire(ev.UserID)
	defer release()

	key := keys.DayStats(ev.UserID, ev.DateKey)
	stats := NewDayStats(ev.UserID, ev.DateKey)
	raw, err := a.store.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		// first event of the day
	case err != nil:
		return nil, fmt.Errorf("load day stats %s/%s: %w", ev.UserID, ev.DateKey, err)
	default:
		if err := json.Unmarshal(raw, stats); err != nil {
			return nil, fmt.Errorf("decode day stats %s/%s: %w", ev.UserID, ev.DateKey, err)
		}
		if stats.Models == nil {
			stats.Models = make(map[string]Bucket)
		}
		if stats.Providers == nil {
			stats.Providers = make(map[string]Bucket)
		}
	}

	stats.Merge(ev)
	stats.UpdatedAt = a.now().UTC()

	value, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encode day stats %s/%s: %w", ev.UserID, ev.DateKey, err)
	}
	if err := a.store.Put(ctx, key, value); err != nil {
		a.logger.Printf("event=stats_write_failed user=%s day=%s err=%v", ev.UserID, ev.DateKey, err)
		return nil, fmt.Errorf("store day stats %s/%s: %w", ev.UserID, ev.DateKey, err)
	}
	return stats, nil
}
