package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCost(t *testing.T) {
	table := Default()

	// 1M input at 1.25/M plus 100k output at 10/M
	got := table.Cost("gpt-5", 1_000_000, 100_000, 0, 0)
	if !got.Equal(decimal.RequireFromString("2.25")) {
		t.Fatalf("unexpected cost %s", got)
	}

	// cache tokens priced separately
	got = table.Cost("claude-sonnet-4-20250514", 0, 0, 1000, 10_000)
	want := decimal.RequireFromString("0.00000375").Mul(decimal.NewFromInt(1000)).
		Add(decimal.RequireFromString("0.0000003").Mul(decimal.NewFromInt(10_000)))
	if !got.Equal(want) {
		t.Fatalf("cache cost %s, want %s", got, want)
	}
}

func TestCostUnknownModel(t *testing.T) {
	if got := Default().Cost("never-heard-of-it", 1000, 1000, 0, 0); !got.IsZero() {
		t.Fatalf("unknown model must cost zero, got %s", got)
	}
}

func TestCostCaseInsensitive(t *testing.T) {
	table := Default()
	a := table.Cost("GPT-5", 1000, 0, 0, 0)
	b := table.Cost("gpt-5", 1000, 0, 0, 0)
	if !a.Equal(b) || a.IsZero() {
		t.Fatalf("case-insensitive lookup broken: %s vs %s", a, b)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `
models:
  gpt-5:
    input: "0.000002"
    output: "0.00002"
  in-house-model:
    input: "0.0000001"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got := table.Cost("gpt-5", 1_000_000, 0, 0, 0)
	if !got.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("file entry must win over the default, got %s", got)
	}
	got = table.Cost("in-house-model", 1_000_000, 0, 0, 0)
	if !got.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("new model from file: %s", got)
	}
	// untouched defaults survive the merge
	if table.Cost("deepseek-chat", 1_000_000, 0, 0, 0).IsZero() {
		t.Fatalf("default entry lost after merge")
	}
}

func TestLoadRejectsBadPrice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte("models:\n  m:\n    input: \"cheap\"\n"), 0o644); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
