package usage

import (
	"context"
	"io"
	"log"
)

// Service is the write path for one billable call: append the immutable
// event, then fold it into the day's rollup.
type Service struct {
	recorder   *Recorder
	aggregator *Aggregator
	logger     *log.Logger
}

func NewService(recorder *Recorder, aggregator *Aggregator, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{recorder: recorder, aggregator: aggregator, logger: logger}
}

// Record persists the event and merges it into the rollup. The event is the
// source of truth: if the merge fails after a successful append, the error
// is surfaced but the event stays, and the rollup catches up on the caller's
// retry path rather than losing the audit record.
func (s *Service) Record(ctx context.Context, ev Event) (*Event, *DayStats, error) {
	stored, err := s.recorder.Record(ctx, ev)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.aggregator.MergeEvent(ctx, stored)
	if err != nil {
		s.logger.Printf("event=stats_merge_failed user=%s id=%s err=%v", stored.UserID, stored.ID, err)
		return stored, nil, err
	}
	return stored, stats, nil
}
