package budget

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/pinch/internal/config"
	"github.com/openclaw/pinch/internal/record"
	"github.com/openclaw/pinch/internal/store"
)

func newFixture(t *testing.T, cfg config.BudgetConfig, now time.Time) (*Tracker, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)
	st.SetNowFunc(func() time.Time { return now })

	tr := New(cfg, st, dir)
	tr.now = func() time.Time { return now }
	return tr, st, dir
}

func spend(st *store.Store, now time.Time, session string, cost float64) {
	st.Append(record.CostRecord{
		Version:    record.RecordVersion,
		ID:         fmt.Sprintf("r-%s-%f", session, cost),
		Timestamp:  now.Unix(),
		SessionKey: session,
		Model:      "claude-opus-4",
		Cost:       cost,
		Source:     record.SourceCalculated,
		TraceType:  record.TraceChat,
	})
}

func TestCheck_NoBudgetsNoAlerts(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, _ := newFixture(t, config.BudgetConfig{}, now)
	spend(st, now, "agent:main:main", 100.0)

	assert.Empty(t, tr.Check(context.Background()))
}

func TestCheck_CrossesEightyPercentWithTopSessions(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, _ := newFixture(t, config.BudgetConfig{Daily: 10}, now)

	spend(st, now, "agent:main:main", 5.00)
	spend(st, now, "agent:main:subagent:research", 2.50)
	spend(st, now, "agent:main:cron:digest", 1.00)

	alerts := tr.Check(context.Background())
	require.Len(t, alerts, 1)
	msg := alerts[0]

	assert.Contains(t, msg, "$8.50 of $10.00 today (85%)")
	assert.Contains(t, msg, "$1.50 remaining")
	// >=80% alerts carry the top-3 session labels (last key segment).
	assert.Contains(t, msg, "top costs:")
	assert.Contains(t, msg, "main ($5.00)")
	assert.Contains(t, msg, "research ($2.50)")
	assert.Contains(t, msg, "digest ($1.00)")
}

func TestCheck_DedupWithinDay(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, _ := newFixture(t, config.BudgetConfig{Daily: 10}, now)
	spend(st, now, "agent:main:main", 8.50)

	first := tr.Check(context.Background())
	require.Len(t, first, 1)

	// Unchanged spend: nothing new fires.
	assert.Empty(t, tr.Check(context.Background()))
}

func TestCheck_MostSevereUnalertedFiresFirst(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, _ := newFixture(t, config.BudgetConfig{Daily: 10}, now)

	// Jumping straight past several thresholds fires only the highest.
	spend(st, now, "agent:main:main", 9.60)
	alerts := tr.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "(96%)")

	// Escalating to 100% fires the next rung up.
	spend(st, now, "agent:main:main", 1.00)
	alerts = tr.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "budget exceeded!")
}

func TestCheck_OverrunMessage(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, _ := newFixture(t, config.BudgetConfig{Daily: 5}, now)
	spend(st, now, "agent:main:main", 6.00)

	alerts := tr.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "budget exceeded!")
	assert.NotContains(t, alerts[0], "remaining")
}

func TestCheck_StatePersistsAcrossRestart(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, dir := newFixture(t, config.BudgetConfig{Daily: 10}, now)
	spend(st, now, "agent:main:main", 8.50)

	require.Len(t, tr.Check(context.Background()), 1)

	// A new tracker over the same state file must not re-alert.
	tr2 := New(config.BudgetConfig{Daily: 10}, st, dir)
	tr2.now = tr.now
	assert.Empty(t, tr2.Check(context.Background()))
}

func TestCheck_StateOnlyWrittenWhenAlertFires(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, _ := newFixture(t, config.BudgetConfig{Daily: 10}, now)
	spend(st, now, "agent:main:main", 1.00) // 10%, below every threshold

	assert.Empty(t, tr.Check(context.Background()))
	_, err := os.Stat(tr.statePath)
	assert.True(t, os.IsNotExist(err), "no alert, no state write")
}

// Dedup is keyed by calendar date, not period instance: a weekly threshold
// already alerted re-fires once the date rolls, even mid-week. This pins the
// historical behavior; see the package comment.
func TestCheck_DateKeyedDedupResetsWeeklyAcrossDays(t *testing.T) {
	day1 := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) // Tuesday
	tr, st, _ := newFixture(t, config.BudgetConfig{Weekly: 10}, day1)
	spend(st, day1, "agent:main:main", 9.00)

	require.Len(t, tr.Check(context.Background()), 1)
	assert.Empty(t, tr.Check(context.Background()))

	// Wednesday, same week, unchanged spend: the 80% rung fires again.
	day2 := day1.AddDate(0, 0, 1)
	tr.now = func() time.Time { return day2 }
	st.SetNowFunc(func() time.Time { return day2 })

	alerts := tr.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "this week")
}

func TestCheck_IndependentPeriods(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr, st, _ := newFixture(t, config.BudgetConfig{Daily: 10, Weekly: 100, Monthly: 12}, now)
	spend(st, now, "agent:main:main", 8.50)

	alerts := tr.Check(context.Background())
	// Daily 85% -> 80 rung; weekly 8.5% -> nothing; monthly ~71% -> 50 rung.
	require.Len(t, alerts, 2)
	joined := strings.Join(alerts, "\n")
	assert.Contains(t, joined, "today")
	assert.Contains(t, joined, "this month")
	assert.NotContains(t, joined, "this week")
}

func TestStatus_PeriodsAndProjection(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) // noon: half a day elapsed
	tr, st, _ := newFixture(t, config.BudgetConfig{Daily: 10, Monthly: 300}, now)
	spend(st, now, "agent:main:main", 5.00)

	s := tr.Status()
	require.NotNil(t, s.Daily)
	assert.Equal(t, 10.0, s.Daily.Budget)
	assert.InDelta(t, 5.0, s.Daily.Spent, 1e-9)
	assert.InDelta(t, 5.0, s.Daily.Remaining, 1e-9)
	assert.Equal(t, 50, s.Daily.Pct)

	assert.Nil(t, s.Weekly)
	require.NotNil(t, s.Monthly)

	// $5 in 12h extrapolates to $10/day, $300 over June's 30 days.
	require.NotNil(t, s.Projections)
	assert.InDelta(t, 10.0, s.Projections.DailyRate, 0.01)
	assert.InDelta(t, 300.0, s.Projections.ProjectedMonthly, 0.5)
}
