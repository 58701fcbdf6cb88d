package usage

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokligence/tokligence-ledger/internal/keys"
	"github.com/tokligence/tokligence-ledger/internal/kv"
	"github.com/tokligence/tokligence-ledger/internal/kv/memory"
	"github.com/tokligence/tokligence-ledger/internal/metrics"
	"github.com/tokligence/tokligence-ledger/internal/pricing"
	"github.com/tokligence/tokligence-ledger/internal/userlock"
)

func newTestRecorder(store kv.Store) *Recorder {
	return NewRecorder(store, keys.NewIDSource(), pricing.Default(), nil, metrics.NewCollector())
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func costPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestRecordEnrichesEvent(t *testing.T) {
	store := memory.New()
	r := newTestRecorder(store)
	ctx := context.Background()

	stored, err := r.Record(ctx, Event{
		UserID:       "u1",
		Model:        "gpt-5",
		Provider:     "openai",
		InputTokens:  1000,
		OutputTokens: 500,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stored.ID == "" {
		t.Fatalf("expected generated id")
	}
	if stored.CreatedAt.IsZero() || stored.DateKey == "" {
		t.Fatalf("expected timestamp and date key, got %+v", stored)
	}
	if stored.DateKey != keys.DateKey(stored.CreatedAt) {
		t.Fatalf("date key %s does not match created at %s", stored.DateKey, stored.CreatedAt)
	}
	// 1000 * 0.00000125 + 500 * 0.00001
	if stored.Cost == nil || !stored.Cost.Equal(dec("0.00625")) {
		t.Fatalf("unexpected computed cost %s", stored.Cost)
	}

	if _, err := store.Get(ctx, keys.UsageRecord("u1", stored.ID)); err != nil {
		t.Fatalf("stored event missing: %v", err)
	}
}

func TestRecordNormalizesUnknown(t *testing.T) {
	r := newTestRecorder(memory.New())

	stored, err := r.Record(context.Background(), Event{UserID: "u1", InputTokens: 10})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stored.Model != UnknownKey || stored.Provider != UnknownKey {
		t.Fatalf("expected unknown normalization, got model=%s provider=%s", stored.Model, stored.Provider)
	}
}

func TestRecordKeepsExplicitCost(t *testing.T) {
	r := newTestRecorder(memory.New())

	stored, err := r.Record(context.Background(), Event{
		UserID:      "u1",
		Model:       "gpt-5",
		InputTokens: 1000,
		Cost:        costPtr("0.42"),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stored.Cost == nil || !stored.Cost.Equal(dec("0.42")) {
		t.Fatalf("caller-provided cost must win, got %s", stored.Cost)
	}
}

func TestRecordKeepsExplicitZeroCost(t *testing.T) {
	r := newTestRecorder(memory.New())

	// A zero cost from the caller marks a free call. It must not be
	// overwritten by the rate table.
	stored, err := r.Record(context.Background(), Event{
		UserID:      "u1",
		Model:       "gpt-5",
		InputTokens: 1000,
		Cost:        costPtr("0"),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stored.Cost == nil || !stored.Cost.IsZero() {
		t.Fatalf("explicit zero cost must survive, got %s", stored.Cost)
	}
}

func TestRecordValidation(t *testing.T) {
	r := newTestRecorder(memory.New())
	ctx := context.Background()

	if _, err := r.Record(ctx, Event{InputTokens: 1}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if _, err := r.Record(ctx, Event{UserID: "stats", InputTokens: 1}); err == nil {
		t.Fatalf("expected error for reserved user id")
	}
	if _, err := r.Record(ctx, Event{UserID: "u1", OutputTokens: -1}); err == nil {
		t.Fatalf("expected error for negative token count")
	}
	if _, err := r.Record(ctx, Event{UserID: "u1", InputTokens: 1, Cost: costPtr("-0.5")}); err == nil {
		t.Fatalf("expected error for negative cost")
	}
}

func TestRecordRejectsSeparatorInUserID(t *testing.T) {
	store := memory.New()
	r := newTestRecorder(store)
	ctx := context.Background()

	if _, err := r.Record(ctx, Event{UserID: "u1", InputTokens: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}
	// "u1:evil" would sort inside the token:u1: scan prefix and leak into
	// u1's listings, so it must be refused before anything is written.
	if _, err := r.Record(ctx, Event{UserID: "u1:evil", InputTokens: 1}); err == nil {
		t.Fatalf("expected error for user id containing the key separator")
	}

	start, end := kv.PrefixRange(keys.UsageRecordPrefix("u1"))
	entries, err := store.Scan(ctx, kv.ScanOptions{Start: start, End: end})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("u1's prefix must hold exactly its own record, got %d", len(entries))
	}
}

func TestDayStatsMergeInvariant(t *testing.T) {
	stats := NewDayStats("u1", "2026-08-30")
	events := []*Event{
		{UserID: "u1", Model: "gpt-5", Provider: "openai", InputTokens: 100, OutputTokens: 50, Cost: costPtr("0.01")},
		{UserID: "u1", Model: "claude-sonnet-4-20250514", Provider: "anthropic", InputTokens: 200, OutputTokens: 80, Cost: costPtr("0.02")},
		{UserID: "u1", Model: "gpt-5", Provider: "openai", InputTokens: 10, OutputTokens: 5, Cost: costPtr("0.001")},
	}
	for _, ev := range events {
		stats.Merge(ev)
	}

	if stats.Total.Count != 3 {
		t.Fatalf("total count %d", stats.Total.Count)
	}
	if stats.Total.Tokens.Input != 310 || stats.Total.Tokens.Output != 135 {
		t.Fatalf("total tokens %+v", stats.Total.Tokens)
	}
	if !stats.Total.Cost.Equal(dec("0.031")) {
		t.Fatalf("total cost %s", stats.Total.Cost)
	}

	var modelIn, providerIn int64
	for _, b := range stats.Models {
		modelIn += b.Tokens.Input
	}
	for _, b := range stats.Providers {
		providerIn += b.Tokens.Input
	}
	if modelIn != stats.Total.Tokens.Input || providerIn != stats.Total.Tokens.Input {
		t.Fatalf("breakdowns disagree with total: models=%d providers=%d total=%d",
			modelIn, providerIn, stats.Total.Tokens.Input)
	}

	if stats.Models["gpt-5"].Count != 2 {
		t.Fatalf("gpt-5 count %d", stats.Models["gpt-5"].Count)
	}
}

func TestAggregatorCreatesAndMerges(t *testing.T) {
	store := memory.New()
	a := NewAggregator(store, userlock.NewRegistry(0), nil)
	ctx := context.Background()

	ev := &Event{UserID: "u1", DateKey: "2026-08-30", Model: "gpt-5", Provider: "openai", InputTokens: 100, Cost: costPtr("0.01")}
	stats, err := a.MergeEvent(ctx, ev)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if stats.Total.Count != 1 {
		t.Fatalf("expected fresh rollup, got count %d", stats.Total.Count)
	}

	stats, err = a.MergeEvent(ctx, ev)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if stats.Total.Count != 2 || stats.Total.Tokens.Input != 200 {
		t.Fatalf("merge did not accumulate: %+v", stats.Total)
	}
	if stats.UpdatedAt.IsZero() {
		t.Fatalf("expected UpdatedAt stamped")
	}
}

func TestAggregatorRejectsUnrecordedEvent(t *testing.T) {
	a := NewAggregator(memory.New(), userlock.NewRegistry(0), nil)
	if _, err := a.MergeEvent(context.Background(), &Event{UserID: "u1"}); err == nil {
		t.Fatalf("expected error for event without date key")
	}
}

func TestConcurrentMergesLoseNothing(t *testing.T) {
	store := memory.New()
	a := NewAggregator(store, userlock.NewRegistry(0), nil)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := &Event{UserID: "u1", DateKey: "2026-08-30", Model: "gpt-5", Provider: "openai", InputTokens: 1}
			if _, err := a.MergeEvent(ctx, ev); err != nil {
				t.Errorf("merge: %v", err)
			}
		}()
	}
	wg.Wait()

	stats, err := a.MergeEvent(ctx, &Event{UserID: "u1", DateKey: "2026-08-30", Model: "gpt-5", Provider: "openai"})
	if err != nil {
		t.Fatalf("final merge: %v", err)
	}
	if stats.Total.Count != n+1 || stats.Total.Tokens.Input != n {
		t.Fatalf("lost updates: count=%d input=%d", stats.Total.Count, stats.Total.Tokens.Input)
	}
}

// statsFailStore rejects writes to the daily rollup keys while letting event
// appends through, to drive the partial-success path.
type statsFailStore struct {
	kv.Store
}

func (s *statsFailStore) Put(ctx context.Context, key, value []byte) error {
	if bytes.HasPrefix(key, []byte("token:stats:day:")) {
		return kv.Transient(errors.New("injected rollup failure"))
	}
	return s.Store.Put(ctx, key, value)
}

func TestServiceKeepsEventWhenMergeFails(t *testing.T) {
	inner := memory.New()
	store := &statsFailStore{Store: inner}
	locks := userlock.NewRegistry(0)
	svc := NewService(
		NewRecorder(store, keys.NewIDSource(), pricing.Default(), nil, metrics.NewCollector()),
		NewAggregator(store, locks, nil),
		nil,
	)
	ctx := context.Background()

	stored, stats, err := svc.Record(ctx, Event{UserID: "u1", Model: "gpt-5", InputTokens: 10})
	if err == nil {
		t.Fatalf("expected merge failure")
	}
	if stats != nil {
		t.Fatalf("no stats expected on merge failure")
	}
	if stored == nil || stored.ID == "" {
		t.Fatalf("the recorded event must survive a merge failure")
	}
	if _, err := inner.Get(ctx, keys.UsageRecord("u1", stored.ID)); err != nil {
		t.Fatalf("stored event missing: %v", err)
	}
}

func TestServiceRecordAndMerge(t *testing.T) {
	store := memory.New()
	locks := userlock.NewRegistry(0)
	svc := NewService(
		NewRecorder(store, keys.NewIDSource(), pricing.Default(), nil, metrics.NewCollector()),
		NewAggregator(store, locks, nil),
		nil,
	)

	stored, stats, err := svc.Record(context.Background(), Event{UserID: "u1", Model: "gpt-5", Provider: "openai", InputTokens: 100, OutputTokens: 10})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stats.TimeKey != stored.DateKey {
		t.Fatalf("rollup day %s does not match event day %s", stats.TimeKey, stored.DateKey)
	}
	if stats.Total.Count != 1 {
		t.Fatalf("unexpected rollup %+v", stats.Total)
	}
	if stats.UpdatedAt.Before(time.Now().Add(-time.Minute)) {
		t.Fatalf("stale UpdatedAt %s", stats.UpdatedAt)
	}
}
