package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP ledger_uptime_seconds Time since the ledger started\n")
	sb.WriteString("# TYPE ledger_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "ledger_uptime_seconds %d\n\n", snap.Uptime)

	sb.WriteString("# HELP ledger_deductions_total Deduction attempts by result code\n")
	sb.WriteString("# TYPE ledger_deductions_total counter\n")
	writeLabelled(&sb, "ledger_deductions_total", "code", snap.Deductions)
	sb.WriteString("\n")

	sb.WriteString("# HELP ledger_credits_total Credit attempts by result code\n")
	sb.WriteString("# TYPE ledger_credits_total counter\n")
	writeLabelled(&sb, "ledger_credits_total", "code", snap.Credits)
	sb.WriteString("\n")

	sb.WriteString("# HELP ledger_commit_retries_total Batch commits retried after transient storage failures\n")
	sb.WriteString("# TYPE ledger_commit_retries_total counter\n")
	fmt.Fprintf(&sb, "ledger_commit_retries_total %d\n\n", snap.CommitRetries)

	sb.WriteString("# HELP ledger_compensations_total Compensating failed-status writes attempted\n")
	sb.WriteString("# TYPE ledger_compensations_total counter\n")
	fmt.Fprintf(&sb, "ledger_compensations_total %d\n\n", snap.Compensations)

	sb.WriteString("# HELP ledger_compensation_failures_total Compensating writes that themselves failed\n")
	sb.WriteString("# TYPE ledger_compensation_failures_total counter\n")
	fmt.Fprintf(&sb, "ledger_compensation_failures_total %d\n\n", snap.CompensationFailures)

	sb.WriteString("# HELP ledger_usage_events_total Usage events recorded\n")
	sb.WriteString("# TYPE ledger_usage_events_total counter\n")
	fmt.Fprintf(&sb, "ledger_usage_events_total %d\n\n", snap.UsageEvents)

	sb.WriteString("# HELP ledger_tokens_total Tokens accounted by direction\n")
	sb.WriteString("# TYPE ledger_tokens_total counter\n")
	fmt.Fprintf(&sb, "ledger_tokens_total{direction=\"input\"} %d\n", snap.InputTokens)
	fmt.Fprintf(&sb, "ledger_tokens_total{direction=\"output\"} %d\n\n", snap.OutputTokens)

	sb.WriteString("# HELP ledger_tokens_by_model_total Tokens accounted by model\n")
	sb.WriteString("# TYPE ledger_tokens_by_model_total counter\n")
	writeLabelled(&sb, "ledger_tokens_by_model_total", "model", snap.TokensByModel)
	sb.WriteString("\n")

	sb.WriteString("# HELP ledger_tokens_by_provider_total Tokens accounted by provider\n")
	sb.WriteString("# TYPE ledger_tokens_by_provider_total counter\n")
	writeLabelled(&sb, "ledger_tokens_by_provider_total", "provider", snap.TokensByProvider)
	sb.WriteString("\n")

	sb.WriteString("# HELP ledger_queries_total Read queries served by kind\n")
	sb.WriteString("# TYPE ledger_queries_total counter\n")
	writeLabelled(&sb, "ledger_queries_total", "kind", snap.Queries)

	return sb.String()
}

func writeLabelled(sb *strings.Builder, name, label string, values map[string]int64) {
	for _, key := range sortedKeys(values) {
		fmt.Fprintf(sb, "%s{%s=%q} %d\n", name, label, key, values[key])
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
