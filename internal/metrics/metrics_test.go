package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordDeduction("ok")
	c.RecordDeduction("ok")
	c.RecordDeduction("insufficient_balance")
	c.RecordCredit("ok")
	c.RecordCommitRetry()
	c.RecordCompensation(true)
	c.RecordCompensation(false)
	c.RecordUsage("gpt-5", "openai", 100, 50)
	c.RecordQuery("usage_records", 5*time.Millisecond)

	snap := c.Snapshot()
	if snap.Deductions["ok"] != 2 || snap.Deductions["insufficient_balance"] != 1 {
		t.Fatalf("deduction counters %v", snap.Deductions)
	}
	if snap.Credits["ok"] != 1 {
		t.Fatalf("credit counters %v", snap.Credits)
	}
	if snap.CommitRetries != 1 {
		t.Fatalf("commit retries %d", snap.CommitRetries)
	}
	if snap.Compensations != 2 || snap.CompensationFailures != 1 {
		t.Fatalf("compensations %d/%d", snap.Compensations, snap.CompensationFailures)
	}
	if snap.UsageEvents != 1 || snap.InputTokens != 100 || snap.OutputTokens != 50 {
		t.Fatalf("usage counters %d %d %d", snap.UsageEvents, snap.InputTokens, snap.OutputTokens)
	}
	if snap.TokensByModel["gpt-5"] != 150 || snap.TokensByProvider["openai"] != 150 {
		t.Fatalf("token breakdowns %v %v", snap.TokensByModel, snap.TokensByProvider)
	}
	if snap.Queries["usage_records"] != 1 {
		t.Fatalf("query counters %v", snap.Queries)
	}

	// mutations after the snapshot must not leak into the copy
	c.RecordDeduction("ok")
	if snap.Deductions["ok"] != 2 {
		t.Fatalf("snapshot is not isolated")
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordDeduction("ok")
	c.RecordCredit("ok")
	c.RecordCommitRetry()
	c.RecordCompensation(false)
	c.RecordUsage("m", "p", 1, 1)
	c.RecordQuery("k", time.Millisecond)
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordDeduction("ok")
	c.RecordUsage("gpt-5", "openai", 10, 5)

	out := FormatPrometheus(c.Snapshot())
	for _, want := range []string{
		"# TYPE ledger_deductions_total counter",
		`ledger_deductions_total{code="ok"} 1`,
		"ledger_usage_events_total 1",
		`ledger_tokens_total{direction="input"} 10`,
		`ledger_tokens_by_model_total{model="gpt-5"} 15`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}
