package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tokligence/tokligence-ledger/internal/query"
	"github.com/tokligence/tokligence-ledger/internal/usage"
)

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var ev usage.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	record, stats, err := s.usage.Record(r.Context(), ev)
	if err != nil {
		if record != nil {
			// The event is stored; only the rollup merge failed. Surface
			// the partial result so the caller can retry the merge.
			s.respondJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"id":      record.ID,
				"record":  record,
				"error":   "stats merge failed",
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      record.ID,
		"record":  record,
		"stats":   stats,
	})
}

func (s *Server) handleUsageRecords(w http.ResponseWriter, r *http.Request) {
	q := query.RecordsQuery{
		UserID:   r.URL.Query().Get("userId"),
		Model:    r.URL.Query().Get("model"),
		Provider: r.URL.Query().Get("provider"),
	}
	if q.UserID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId is required"))
		return
	}
	for name, dst := range map[string]**time.Time{
		"startTime": &q.StartTime,
		"endTime":   &q.EndTime,
	} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, errors.New(name+" must be RFC3339"))
			return
		}
		*dst = &t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			q.Limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			q.Offset = parsed
		}
	}

	page, err := s.queries.UsageRecords(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleDayStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	startDate := r.URL.Query().Get("startDate")
	endDate := r.URL.Query().Get("endDate")
	if userID == "" || startDate == "" || endDate == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId, startDate and endDate are required"))
		return
	}
	for _, d := range []string{startDate, endDate} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			s.respondError(w, http.StatusBadRequest, errors.New("dates must be YYYY-MM-DD"))
			return
		}
	}

	stats, err := s.queries.DayStatsRange(r.Context(), userID, startDate, endDate)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
