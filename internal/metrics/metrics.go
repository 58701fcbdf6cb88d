package metrics

import (
	"sync"
	"time"
)

// Collector collects ledger counters for the /metrics endpoint.
// This implementation uses manual metric tracking without external dependencies.
// For production, consider integrating prometheus/client_golang.
type Collector struct {
	mu sync.RWMutex

	// Deduction/credit outcomes by result code ("ok", "insufficient_balance", ...)
	deductions map[string]int64
	credits    map[string]int64

	// Commit retry and compensation accounting
	commitRetries        int64
	compensations        int64
	compensationFailures int64

	// Usage accounting
	usageEvents      int64
	inputTokens      int64
	outputTokens     int64
	tokensByModel    map[string]int64
	tokensByProvider map[string]int64

	// Query accounting
	queries    map[string]int64
	queryDurMs map[string]int64

	startedAt time.Time
}

func NewCollector() *Collector {
	return &Collector{
		deductions:       make(map[string]int64),
		credits:          make(map[string]int64),
		tokensByModel:    make(map[string]int64),
		tokensByProvider: make(map[string]int64),
		queries:          make(map[string]int64),
		queryDurMs:       make(map[string]int64),
		startedAt:        time.Now(),
	}
}

// RecordDeduction counts one deduction attempt by result code.
func (c *Collector) RecordDeduction(code string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deductions[code]++
	c.mu.Unlock()
}

// RecordCredit counts one credit attempt by result code.
func (c *Collector) RecordCredit(code string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.credits[code]++
	c.mu.Unlock()
}

// RecordCommitRetry counts a batch commit retried after a transient failure.
func (c *Collector) RecordCommitRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commitRetries++
	c.mu.Unlock()
}

// RecordCompensation counts a compensating failed-status write attempt.
func (c *Collector) RecordCompensation(ok bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.compensations++
	if !ok {
		c.compensationFailures++
	}
	c.mu.Unlock()
}

// RecordUsage counts one usage event and its token totals.
func (c *Collector) RecordUsage(model, provider string, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.usageEvents++
	c.inputTokens += inputTokens
	c.outputTokens += outputTokens
	c.tokensByModel[model] += inputTokens + outputTokens
	c.tokensByProvider[provider] += inputTokens + outputTokens
	c.mu.Unlock()
}

// RecordQuery counts one read query by kind.
func (c *Collector) RecordQuery(kind string, dur time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queries[kind]++
	c.queryDurMs[kind] += dur.Milliseconds()
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Uptime               int64
	Deductions           map[string]int64
	Credits              map[string]int64
	CommitRetries        int64
	Compensations        int64
	CompensationFailures int64
	UsageEvents          int64
	InputTokens          int64
	OutputTokens         int64
	TokensByModel        map[string]int64
	TokensByProvider     map[string]int64
	Queries              map[string]int64
	QueryDurMs           map[string]int64
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Uptime:               int64(time.Since(c.startedAt).Seconds()),
		Deductions:           copyMap(c.deductions),
		Credits:              copyMap(c.credits),
		CommitRetries:        c.commitRetries,
		Compensations:        c.compensations,
		CompensationFailures: c.compensationFailures,
		UsageEvents:          c.usageEvents,
		InputTokens:          c.inputTokens,
		OutputTokens:         c.outputTokens,
		TokensByModel:        copyMap(c.tokensByModel),
		TokensByProvider:     copyMap(c.tokensByProvider),
		Queries:              copyMap(c.queries),
		QueryDurMs:           copyMap(c.queryDurMs),
	}
}

func copyMap(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
