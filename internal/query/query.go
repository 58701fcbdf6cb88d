// Package query serves the read side: ranged, paginated scans over usage
// records and daily rollups for billing dashboards.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tokligence/tokligence-ledger/internal/keys"
	"github.com/tokligence/tokligence-ledger/internal/kv"
	"github.com/tokligence/tokligence-ledger/internal/metrics"
	"github.com/tokligence/tokligence-ledger/internal/usage"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// RecordsQuery selects usage records for one user. The time window is
// [StartTime, EndTime); Model and Provider are optional post-filters.
type RecordsQuery struct {
	UserID    string
	StartTime *time.Time
	EndTime   *time.Time
	Model     string
	Provider  string
	Limit     int
	Offset    int
}

// RecordsPage is one page of results plus the total match count.
type RecordsPage struct {
	Records []usage.Event `json:"records"`
	Total   int           `json:"total"`
}

// Service answers read-only queries over the ordered key space.
type Service struct {
	store kv.Store
	stats *metrics.Collector
}

func NewService(store kv.Store, stats *metrics.Collector) *Service {
	return &Service{store: store, stats: stats}
}

// UsageRecords returns the user's records inside the window, in creation
// order. Pagination is scan-then-skip: the whole window is scanned to count
// and filter before the offset is applied, so cost grows with window size,
// not page size. Fine for the dashboard windows this serves; not a
// constant-time page fetch.
func (s *Service) UsageRecords(ctx context.Context, q RecordsQuery) (*RecordsPage, error) {
	started := time.Now()
	defer func() { s.stats.RecordQuery("usage_records", time.Since(started)) }()

	if q.UserID == "" {
		return nil, errors.New("query: user id required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	// ULID ids embed the creation time, so the window maps onto key bounds
	// and the scan never leaves [start, end).
	prefix := keys.UsageRecordPrefix(q.UserID)
	start, end := kv.PrefixRange(prefix)
	if q.StartTime != nil {
		start = append(append([]byte(nil), prefix...), keys.MinIDAt(*q.StartTime)...)
	}
	if q.EndTime != nil {
		end = append(append([]byte(nil), prefix...), keys.MinIDAt(*q.EndTime)...)
	}

	pairs, err := s.store.Scan(ctx, kv.ScanOptions{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("scan usage records for %s: %w", q.UserID, err)
	}

	page := &RecordsPage{Records: []usage.Event{}}
	skipped := 0
	for _, p := range pairs {
		var ev usage.Event
		if err := json.Unmarshal(p.Value, &ev); err != nil {
			return nil, fmt.Errorf("decode usage record %s: %w", p.Key, err)
		}
		if q.Model != "" && ev.Model != q.Model {
			continue
		}
		if q.Provider != "" && ev.Provider != q.Provider {
			continue
		}
		page.Total++
		if skipped < q.Offset {
			skipped++
			continue
		}
		if len(page.Records) < limit {
			page.Records = append(page.Records, ev)
		}
	}
	return page, nil
}

// DayStatsRange returns the user's daily rollups for dates in
// [startDate, endDate], both inclusive, ordered by date. Dates use the
// YYYY-MM-DD key format; days without traffic have no rollup and are simply
// absent.
func (s *Service) DayStatsRange(ctx context.Context, userID, startDate, endDate string) ([]usage.DayStats, error) {
	started := time.Now()
	defer func() { s.stats.RecordQuery("day_stats", time.Since(started)) }()

	if userID == "" {
		return nil, errors.New("query: user id required")
	}
	if _, err := time.Parse(keys.DateKeyLayout, startDate); err != nil {
		return nil, fmt.Errorf("query: invalid start date %q", startDate)
	}
	if _, err := time.Parse(keys.DateKeyLayout, endDate); err != nil {
		return nil, fmt.Errorf("query: invalid end date %q", endDate)
	}

	start := keys.DayStats(userID, startDate)
	// Date keys have a fixed length, so appending a zero byte to the end
	// key turns the inclusive date bound into an exclusive key bound.
	end := append(keys.DayStats(userID, endDate), 0x00)

	pairs, err := s.store.Scan(ctx, kv.ScanOptions{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("scan day stats for %s: %w", userID, err)
	}

	out := make([]usage.DayStats, 0, len(pairs))
	for _, p := range pairs {
		var st usage.DayStats
		if err := json.Unmarshal(p.Value, &st); err != nil {
			return nil, fmt.Errorf("decode day stats %s: %w", p.Key, err)
		}
		out = append(out, st)
	}
	return out, nil
}
