// Package usage records billable AI calls and maintains the per-user daily
// rollups that billing dashboards read.
package usage

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnknownKey is the normalized breakdown key for events that arrive without
// a model or provider name. Normalization happens once, at record time, so
// the rollup never splits the same traffic across "", "unknown" and friends.
const UnknownKey = "unknown"

// Event is one immutable usage record: never mutated or deleted after
// creation. Cost is a pointer so "not provided" (priced from the rate table
// at record time) is distinguishable from an explicit zero for a free call.
type Event struct {
	ID                       string           `json:"id"`
	UserID                   string           `json:"userId"`
	Username                 string           `json:"username,omitempty"`
	CybotID                  string           `json:"cybotId,omitempty"`
	Model                    string           `json:"model"`
	Provider                 string           `json:"provider"`
	InputTokens              int64            `json:"input_tokens"`
	OutputTokens             int64            `json:"output_tokens"`
	CacheCreationInputTokens int64            `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64            `json:"cache_read_input_tokens"`
	Cost                     *decimal.Decimal `json:"cost"`
	CreatedAt                time.Time        `json:"createdAt"`
	DateKey                  string           `json:"dateKey"`
}

// TokenCount splits a token total by direction.
type TokenCount struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Bucket accumulates one slice of a day: the grand total, one model, or one
// provider.
type Bucket struct {
	Count  int64           `json:"count"`
	Tokens TokenCount      `json:"tokens"`
	Cost   decimal.Decimal `json:"cost"`
}

func (b *Bucket) add(ev *Event) {
	b.Count++
	b.Tokens.Input += ev.InputTokens
	b.Tokens.Output += ev.OutputTokens
	if ev.Cost != nil {
		b.Cost = b.Cost.Add(*ev.Cost)
	}
}

// DayStats is the rollup for one user and one UTC calendar day. Invariant
// after every merge: Total.Tokens.Input equals the sum of
// Models[*].Tokens.Input (and likewise for providers).
type DayStats struct {
	UserID    string            `json:"userId"`
	Period    string            `json:"period"`
	TimeKey   string            `json:"timeKey"`
	Total     Bucket            `json:"total"`
	Models    map[string]Bucket `json:"models"`
	Providers map[string]Bucket `json:"providers"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NewDayStats returns the empty rollup for a user/day.
func NewDayStats(userID, dateKey string) *DayStats {
	return &DayStats{
		UserID:    userID,
		Period:    "day",
		TimeKey:   dateKey,
		Models:    make(map[string]Bucket),
		Providers: make(map[string]Bucket),
	}
}

// Merge folds one event into the rollup.
func (s *DayStats) Merge(ev *Event) {
	s.Total.add(ev)

	m := s.Models[ev.Model]
	m.add(ev)
	s.Models[ev.Model] = m

	p := s.Providers[ev.Provider]
	p.add(ev)
	s.Providers[ev.Provider] = p
}
