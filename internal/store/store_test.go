package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/pinch/internal/record"
)

func newTestStore(t *testing.T, now time.Time) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	s.currentDate = s.dateStr(now)
	s.loadTodayLocked()
	return s, dir
}

func rec(ts time.Time, session, model string, tt record.TraceType, cost float64) record.CostRecord {
	return record.CostRecord{
		Version:      record.RecordVersion,
		ID:           fmt.Sprintf("r-%d-%s", ts.UnixNano(), session),
		Timestamp:    ts.Unix(),
		SessionKey:   session,
		Model:        model,
		InputTokens:  1000,
		OutputTokens: 200,
		Cost:         cost,
		Source:       record.SourceCalculated,
		TraceType:    tt,
		Tools:        []string{},
	}
}

func TestAppend_TodayTotals(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	s.Append(rec(now, "agent:main:main", "claude-opus-4", record.TraceChat, 0.10))
	s.Append(rec(now, "agent:main:hb", "claude-sonnet-4", record.TraceHeartbeat, 0.05))
	s.Append(rec(now, "agent:main:main", "claude-opus-4", record.TraceChat, 0.20))

	today := s.Today()
	assert.InDelta(t, 0.35, today.Cost, 1e-9)
	assert.Equal(t, 3, today.Records)
	assert.InDelta(t, 0.30, today.ByModel["claude-opus-4"].Cost, 1e-9)
	assert.InDelta(t, 0.05, today.ByType["heartbeat"].Cost, 1e-9)
	assert.Equal(t, "2025-06-10", today.Date)
}

func TestAppend_SurvivesRestart(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s, dir := newTestStore(t, now)
	s.Append(rec(now, "agent:main:main", "claude-opus-4", record.TraceChat, 0.10))
	s.Append(rec(now, "agent:main:main", "claude-opus-4", record.TraceChat, 0.20))

	// A fresh store over the same data dir reloads today from the raw log.
	s2, err := New(dir)
	require.NoError(t, err)
	s2.now = s.now
	s2.currentDate = s2.dateStr(now)
	s2.loadTodayLocked()

	today := s2.Today()
	assert.InDelta(t, 0.30, today.Cost, 1e-9)
	assert.Equal(t, 2, today.Records)
}

func TestRollover_OnDateBoundary(t *testing.T) {
	day1 := time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)
	s, dir := newTestStore(t, day1)
	s.Append(rec(day1, "agent:main:main", "claude-opus-4", record.TraceChat, 0.10))

	// Cross midnight: the next read must compact day 1 and reset the cache.
	day2 := time.Date(2025, 6, 11, 0, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return day2 }

	today := s.Today()
	assert.Equal(t, "2025-06-11", today.Date)
	assert.Equal(t, 0, today.Records)

	aggPath := filepath.Join(dir, "aggregates", "daily", "2025-06-10.json")
	_, err := os.Stat(aggPath)
	require.NoError(t, err, "rollover must write the daily aggregate")

	// The rolled day is still reachable through range queries.
	r := s.Range(day1, day2)
	assert.InDelta(t, 0.10, r.Cost, 1e-9)
	assert.Equal(t, 1, r.Records)
}

func TestRoll_Idempotent(t *testing.T) {
	now := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	s, dir := newTestStore(t, now)

	// Seed a past day's raw log directly.
	past := time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, appendRecord(s.logPath("2025-06-09"),
			rec(past.Add(time.Duration(i)*time.Minute), fmt.Sprintf("agent:s%d:main", i%2), "claude-opus-4", record.TraceChat, 0.01)))
	}

	aggPath := filepath.Join(dir, "aggregates", "daily", "2025-06-09.json")
	s.Roll("2025-06-09")
	first, err := os.ReadFile(aggPath)
	require.NoError(t, err)

	s.Roll("2025-06-09")
	second, err := os.ReadFile(aggPath)
	require.NoError(t, err)

	assert.Equal(t, first, second, "rolling the same log twice must be byte-identical")
}

func TestRoll_NoLogIsNoop(t *testing.T) {
	now := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	s, dir := newTestStore(t, now)

	s.Roll("2025-06-01")
	_, err := os.Stat(filepath.Join(dir, "aggregates", "daily", "2025-06-01.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRange_ThreeTierFallback(t *testing.T) {
	now := time.Date(2025, 6, 12, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	// Tier 3: a raw log with no aggregate.
	require.NoError(t, appendRecord(s.logPath("2025-06-10"),
		rec(now.AddDate(0, 0, -2), "agent:a:main", "claude-opus-4", record.TraceChat, 0.40)))

	// Tier 2: an aggregated day. Roll it, then append one more raw line;
	// the aggregate must be preferred over the raw log.
	require.NoError(t, appendRecord(s.logPath("2025-06-11"),
		rec(now.AddDate(0, 0, -1), "agent:b:main", "claude-sonnet-4", record.TraceChat, 0.25)))
	s.Roll("2025-06-11")
	require.NoError(t, appendRecord(s.logPath("2025-06-11"),
		rec(now.AddDate(0, 0, -1), "agent:b:main", "claude-sonnet-4", record.TraceChat, 99.0)))

	// Tier 1: today's live cache.
	s.Append(rec(now, "agent:c:main", "claude-opus-4", record.TraceChat, 0.10))

	r := s.Range(now.AddDate(0, 0, -3), now)
	assert.InDelta(t, 0.75, r.Cost, 1e-9) // 0.40 + 0.25 + 0.10; the 99.0 line is shadowed
	assert.Equal(t, 3, r.Records)
	assert.InDelta(t, 0.50, r.ByModel["claude-opus-4"].Cost, 1e-9)
	assert.InDelta(t, 0.25, r.ByModel["claude-sonnet-4"].Cost, 1e-9)
}

func TestTrend_ExactLengthZeroFilled(t *testing.T) {
	now := time.Date(2025, 6, 12, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	s.Append(rec(now, "agent:a:main", "claude-opus-4", record.TraceChat, 0.10))
	require.NoError(t, appendRecord(s.logPath("2025-06-10"),
		rec(now.AddDate(0, 0, -2), "agent:a:main", "claude-opus-4", record.TraceChat, 0.30)))

	points := s.Trend(5)
	require.Len(t, points, 5)
	assert.Equal(t, "2025-06-08", points[0].Date)
	assert.Equal(t, "2025-06-12", points[4].Date)
	assert.Equal(t, 0.0, points[0].Cost)
	assert.Equal(t, 0.0, points[1].Cost)
	assert.InDelta(t, 0.30, points[2].Cost, 1e-9)
	assert.Equal(t, 0.0, points[3].Cost)
	assert.InDelta(t, 0.10, points[4].Cost, 1e-9)
}

func TestWeekToDate_MatchesTrendSum(t *testing.T) {
	// A Sunday, so the Monday-anchored week covers exactly the trailing 7 days.
	now := time.Date(2025, 1, 12, 18, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	for i := 0; i < 7; i++ {
		d := now.AddDate(0, 0, -i)
		if i == 0 {
			s.Append(rec(d, "agent:a:main", "claude-opus-4", record.TraceChat, 0.10))
			continue
		}
		require.NoError(t, appendRecord(s.logPath(s.dateStr(d)),
			rec(d, "agent:a:main", "claude-opus-4", record.TraceChat, 0.10)))
	}

	week := s.WeekToDate()
	assert.Equal(t, "2025-01-06", week.From)
	assert.Equal(t, "2025-01-12", week.To)

	var trendSum float64
	for _, p := range s.Trend(7) {
		trendSum += p.Cost
	}
	assert.InDelta(t, week.Cost, trendSum, 1e-9)
	assert.InDelta(t, 0.70, week.Cost, 1e-9)
}

func TestMonthToDate_StartsAtFirst(t *testing.T) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	// Day before the 1st must not be included.
	require.NoError(t, appendRecord(s.logPath("2025-05-31"),
		rec(now.AddDate(0, 0, -3), "agent:a:main", "claude-opus-4", record.TraceChat, 5.0)))
	require.NoError(t, appendRecord(s.logPath("2025-06-01"),
		rec(now.AddDate(0, 0, -2), "agent:a:main", "claude-opus-4", record.TraceChat, 0.20)))
	s.Append(rec(now, "agent:a:main", "claude-opus-4", record.TraceChat, 0.10))

	month := s.MonthToDate()
	assert.Equal(t, "2025-06-01", month.From)
	assert.InDelta(t, 0.30, month.Cost, 1e-9)
}

func TestLatest_NewestFirst(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	for i := 0; i < 5; i++ {
		r := rec(now.Add(time.Duration(i)*time.Minute), "agent:a:main", "claude-opus-4", record.TraceChat, 0.01)
		r.ID = fmt.Sprintf("id-%d", i)
		s.Append(r)
	}

	latest := s.Latest(3)
	require.Len(t, latest, 3)
	assert.Equal(t, "id-4", latest[0].ID)
	assert.Equal(t, "id-3", latest[1].ID)
	assert.Equal(t, "id-2", latest[2].ID)

	all := s.Latest(100)
	assert.Len(t, all, 5)
}

func TestBreakdown_BySession(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	s.Append(rec(now, "agent:a:main", "claude-opus-4", record.TraceChat, 0.10))
	s.Append(rec(now, "agent:a:main", "claude-opus-4", record.TraceChat, 0.20))
	s.Append(rec(now, "agent:b:main", "claude-sonnet-4", record.TraceChat, 0.05))

	by := s.Breakdown(BySession)
	assert.InDelta(t, 0.30, by["agent:a:main"].Cost, 1e-9)
	assert.Equal(t, 2, by["agent:a:main"].Records)
	assert.InDelta(t, 0.05, by["agent:b:main"].Cost, 1e-9)
}

func TestReadRecordLog_SkipsCorruptLines(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, now)

	path := s.logPath("2025-06-09")
	require.NoError(t, appendRecord(path, rec(now.AddDate(0, 0, -1), "agent:a:main", "claude-opus-4", record.TraceChat, 0.10)))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"v\":2,\"id\":\"trunc") // crash mid-append
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, appendRecord(path, rec(now.AddDate(0, 0, -1), "agent:a:main", "claude-opus-4", record.TraceChat, 0.20)))

	records, err := readRecordLog(path)
	require.NoError(t, err)
	// The truncated line glues onto the next record's line and both are
	// skipped; earlier and later intact lines survive.
	assert.Len(t, records, 1)
	assert.InDelta(t, 0.10, records[0].Cost, 1e-9)
}

func TestSnapshot_FallbackWhenLogUnreadable(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s, dir := newTestStore(t, now)
	s.Append(rec(now, "agent:a:main", "claude-opus-4", record.TraceChat, 0.15))

	// Make the log unreadable by replacing it with a directory. The snapshot
	// written on append becomes the only source for today's totals.
	logPath := s.logPath("2025-06-10")
	require.NoError(t, os.Remove(logPath))
	require.NoError(t, os.Mkdir(logPath, 0o750))

	s2, err := New(dir)
	require.NoError(t, err)
	s2.now = s.now
	s2.currentDate = "2025-06-10"
	s2.loadTodayLocked()

	assert.InDelta(t, 0.15, s2.totals.Cost, 1e-9)
	assert.Equal(t, 1, s2.totals.Records)
}

func TestRetention_SweepsOldLogsKeepsAggregates(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s, dir := newTestStore(t, now)

	// Logs spanning 120 days back.
	for _, daysAgo := range []int{0, 30, 89, 90, 91, 120} {
		d := now.AddDate(0, 0, -daysAgo)
		if daysAgo == 0 {
			s.Append(rec(d, "agent:a:main", "claude-opus-4", record.TraceChat, 0.10))
			continue
		}
		require.NoError(t, appendRecord(s.logPath(s.dateStr(d)),
			rec(d, "agent:a:main", "claude-opus-4", record.TraceChat, 0.10)))
	}

	deleted := s.Retention(90)
	assert.Equal(t, 2, deleted) // 91 and 120 days ago; 90 days ago is exactly at the cutoff

	for _, daysAgo := range []int{91, 120} {
		ds := s.dateStr(now.AddDate(0, 0, -daysAgo))
		_, err := os.Stat(s.logPath(ds))
		assert.True(t, os.IsNotExist(err), "log %s should be swept", ds)
		// The aggregate was written before deletion and stays queryable.
		_, err = os.Stat(filepath.Join(dir, "aggregates", "daily", ds+".json"))
		assert.NoError(t, err, "aggregate %s must survive the sweep", ds)
		assert.InDelta(t, 0.10, s.dayTotalsLocked(ds).Cost, 1e-9)
	}

	// Inside the window everything is intact.
	for _, daysAgo := range []int{30, 89, 90} {
		ds := s.dateStr(now.AddDate(0, 0, -daysAgo))
		_, err := os.Stat(s.logPath(ds))
		assert.NoError(t, err)
	}
}
