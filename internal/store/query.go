// Store queries: today / week-to-date / month-to-date totals, trailing-day
// trends, latest records, and today's breakdowns.
//
// Range sums resolve each calendar date through three tiers: the live daily
// cache for the current date, a precomputed DailyAggregate if one exists,
// and a raw-log replay as the fallback. A date with neither contributes
// zero, so range queries never hard-fail on missing aggregates.
package store

import (
	"time"

	"github.com/openclaw/pinch/internal/record"
)

// DayTotals is the result of a single-day query.
type DayTotals struct {
	record.Totals
	Date string `json:"date"`
}

// RangeTotals is the result of a multi-day range query.
type RangeTotals struct {
	record.Totals
	From string `json:"from"`
	To   string `json:"to"`
}

// TrendPoint is one day in a trend series.
type TrendPoint struct {
	Date    string  `json:"date"`
	Cost    float64 `json:"cost"`
	Records int     `json:"records"`
}

// Dimension selects a breakdown axis over today's records.
type Dimension string

const (
	ByModel   Dimension = "model"
	ByType    Dimension = "type"
	BySession Dimension = "session"
)

// Today returns the current day's totals from the live cache.
func (s *Store) Today() DayTotals {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCurrentDateLocked()
	return DayTotals{Totals: cloneTotals(s.totals), Date: s.currentDate}
}

// WeekToDate returns totals from Monday 00:00 UTC through now.
func (s *Store) WeekToDate() RangeTotals {
	now := s.now().UTC()
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return s.Range(start, now)
}

// MonthToDate returns totals from the 1st of the month 00:00 UTC through now.
func (s *Store) MonthToDate() RangeTotals {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.Range(start, now)
}

// Range sums every calendar date in [from, to] inclusive.
func (s *Store) Range(from, to time.Time) RangeTotals {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCurrentDateLocked()

	result := record.NewTotals()
	fromStr := s.dateStr(from)
	toStr := s.dateStr(to)

	for d := from.UTC().Truncate(24 * time.Hour); ; d = d.AddDate(0, 0, 1) {
		ds := s.dateStr(d)
		if ds > toStr {
			break
		}
		result.Merge(s.dayTotalsLocked(ds))
	}

	return RangeTotals{Totals: result, From: fromStr, To: toStr}
}

// Trend returns per-day cost and count for the trailing n days, oldest first.
// Always exactly n entries; dates with no data report zero.
func (s *Store) Trend(n int) []TrendPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCurrentDateLocked()

	now := s.now().UTC()
	points := make([]TrendPoint, 0, n)
	for i := n - 1; i >= 0; i-- {
		ds := s.dateStr(now.AddDate(0, 0, -i))
		t := s.dayTotalsLocked(ds)
		points = append(points, TrendPoint{Date: ds, Cost: t.Cost, Records: t.Records})
	}
	return points
}

// dayTotalsLocked resolves one date through the three-tier fallback.
func (s *Store) dayTotalsLocked(date string) record.Totals {
	if date == s.currentDate {
		return cloneTotals(s.totals)
	}
	if agg, ok := s.readAggregate(date); ok {
		return agg.Totals()
	}
	records, err := readRecordLog(s.logPath(date))
	if err != nil {
		return record.NewTotals()
	}
	t := record.NewTotals()
	for _, r := range records {
		t.Fold(r)
	}
	return t
}

// Latest returns up to limit of today's records, newest first.
func (s *Store) Latest(limit int) []record.CostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCurrentDateLocked()

	if limit > len(s.today) {
		limit = len(s.today)
	}
	out := make([]record.CostRecord, 0, limit)
	for i := len(s.today) - 1; i >= len(s.today)-limit; i-- {
		out = append(out, s.today[i])
	}
	return out
}

// Breakdown returns today's cost grouped along one dimension.
func (s *Store) Breakdown(dim Dimension) map[string]record.Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCurrentDateLocked()

	switch dim {
	case ByModel:
		return cloneBuckets(s.totals.ByModel)
	case ByType:
		return cloneBuckets(s.totals.ByType)
	case BySession:
		out := make(map[string]record.Bucket)
		for _, r := range s.today {
			b := out[r.SessionKey]
			b.Cost += r.Cost
			b.Records++
			out[r.SessionKey] = b
		}
		return out
	}
	return map[string]record.Bucket{}
}

// TodayRecords returns a copy of today's in-memory records.
func (s *Store) TodayRecords() []record.CostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCurrentDateLocked()
	out := make([]record.CostRecord, len(s.today))
	copy(out, s.today)
	return out
}

func cloneTotals(t record.Totals) record.Totals {
	out := t
	out.ByModel = cloneBuckets(t.ByModel)
	out.ByType = cloneBuckets(t.ByType)
	return out
}

func cloneBuckets(m map[string]record.Bucket) map[string]record.Bucket {
	out := make(map[string]record.Bucket, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
