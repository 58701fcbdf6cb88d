// Package pricing computes the cost of a billable AI call from its token
// counts. A built-in table covers the common models; deployments override or
// extend it with a YAML file.
package pricing

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Rate holds per-token prices in account currency units.
type Rate struct {
	Input         decimal.Decimal
	Output        decimal.Decimal
	CacheCreation decimal.Decimal
	CacheRead     decimal.Decimal
}

// Table maps model names to rates. Lookup is case-insensitive on the model
// name; unknown models cost zero so a missing table entry never blocks a
// usage write.
type Table struct {
	rates map[string]Rate
}

func rate(input, output, cacheCreation, cacheRead string) Rate {
	return Rate{
		Input:         decimal.RequireFromString(input),
		Output:        decimal.RequireFromString(output),
		CacheCreation: decimal.RequireFromString(cacheCreation),
		CacheRead:     decimal.RequireFromString(cacheRead),
	}
}

// Default returns the built-in rate table.
func Default() *Table {
	return &Table{rates: map[string]Rate{
		"gpt-5":                     rate("0.00000125", "0.00001", "0", "0.000000125"),
		"gpt-5-codex":               rate("0.00000125", "0.00001", "0", "0.000000125"),
		"gpt-5.1":                   rate("0.00000125", "0.00001", "0", "0.000000125"),
		"claude-haiku-4-5-20251001": rate("0.000001", "0.000005", "0.00000125", "0.0000001"),
		"claude-sonnet-4-20250514":  rate("0.000003", "0.000015", "0.00000375", "0.0000003"),
		"claude-opus-4-20250514":    rate("0.000015", "0.000075", "0.00001875", "0.0000015"),
		"deepseek-chat":             rate("0.00000027", "0.0000011", "0", "0.00000007"),
	}}
}

// Load reads a YAML rate file and merges it over the defaults. File entries
// win on conflict.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	// Prices are strings in the file; decimal keeps them exact.
	var file struct {
		Models map[string]struct {
			Input         string `yaml:"input"`
			Output        string `yaml:"output"`
			CacheCreation string `yaml:"cache_creation"`
			CacheRead     string `yaml:"cache_read"`
		} `yaml:"models"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	t := Default()
	for model, entry := range file.Models {
		r := Rate{}
		for _, field := range []struct {
			raw string
			dst *decimal.Decimal
		}{
			{entry.Input, &r.Input},
			{entry.Output, &r.Output},
			{entry.CacheCreation, &r.CacheCreation},
			{entry.CacheRead, &r.CacheRead},
		} {
			if field.raw == "" {
				continue
			}
			d, err := decimal.NewFromString(field.raw)
			if err != nil {
				return nil, fmt.Errorf("parse price for model %s: %w", model, err)
			}
			*field.dst = d
		}
		t.rates[strings.ToLower(model)] = r
	}
	return t, nil
}

// Cost prices one call. Unknown models return zero.
func (t *Table) Cost(model string, inputTokens, outputTokens, cacheCreationTokens, cacheReadTokens int64) decimal.Decimal {
	r, ok := t.rates[strings.ToLower(model)]
	if !ok {
		return decimal.Zero
	}
	cost := r.Input.Mul(decimal.NewFromInt(inputTokens))
	cost = cost.Add(r.Output.Mul(decimal.NewFromInt(outputTokens)))
	cost = cost.Add(r.CacheCreation.Mul(decimal.NewFromInt(cacheCreationTokens)))
	cost = cost.Add(r.CacheRead.Mul(decimal.NewFromInt(cacheReadTokens)))
	return cost
}
