package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/pinch/internal/budget"
	"github.com/openclaw/pinch/internal/config"
	"github.com/openclaw/pinch/internal/record"
	"github.com/openclaw/pinch/internal/store"
)

func seedStore(t *testing.T, recs []record.CostRecord) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	for _, r := range recs {
		st.Append(r)
	}
	return st
}

func rec(session, model string, tt record.TraceType, cost float64) record.CostRecord {
	return record.CostRecord{
		Version:    record.RecordVersion,
		ID:         session + "-" + model,
		SessionKey: session,
		Model:      model,
		Cost:       cost,
		TraceType:  tt,
		Tools:      []string{},
	}
}

func TestCostCheckTotalsAndBreakdowns(t *testing.T) {
	st := seedStore(t, []record.CostRecord{
		rec("agent:main", "claude-opus-4", record.TraceChat, 0.10),
		rec("agent:main", "claude-haiku-4-5", record.TraceHeartbeat, 0.05),
		rec("agent:cron:digest", "claude-opus-4", record.TraceCron, 0.20),
	})

	out := New(st, nil).CostCheck()
	assert.Contains(t, out, "today: $0.35 (3 runs)")
	assert.Contains(t, out, "by model (today):")
	assert.Contains(t, out, "  claude-opus-4: $0.30 (2 runs)")
	assert.Contains(t, out, "  claude-haiku-4-5: $0.05 (1 runs)")
	assert.Contains(t, out, "by type (today):")
	assert.Contains(t, out, "  cron: $0.20 (1 runs)")
	assert.Contains(t, out, "note: current run cost not yet included.")
}

func TestCostCheckIncludesBudgetPct(t *testing.T) {
	st := seedStore(t, []record.CostRecord{
		rec("agent:main", "claude-opus-4", record.TraceChat, 5.00),
	})
	b := budget.New(config.BudgetConfig{Daily: 10}, st, t.TempDir())

	out := New(st, b).CostCheck()
	assert.Contains(t, out, "today: $5.00 (1 runs) - 50% of $10 budget")
}

func TestCostBreakdownEmpty(t *testing.T) {
	st := seedStore(t, nil)
	assert.Equal(t, "no cost records today yet.", New(st, nil).CostBreakdown())
}

func TestCostBreakdownSections(t *testing.T) {
	parent := "agent:discord:main"
	sub := rec("agent:discord:subagent:abc", "claude-sonnet-4", record.TraceSubagent, 0.40)
	sub.IsSubAgent = true
	sub.ParentSession = &parent

	st := seedStore(t, []record.CostRecord{
		rec("agent:discord:main", "claude-opus-4", record.TraceChat, 1.50),
		rec("agent:discord:main", "claude-sonnet-4", record.TraceChat, 0.25),
		rec("agent:cron:daily-digest", "claude-haiku-4-5", record.TraceCron, 0.10),
		rec("agent:main", "claude-haiku-4-5", record.TraceHeartbeat, 0.02),
		sub,
	})

	out := New(st, nil).CostBreakdown()
	assert.Contains(t, out, "top sessions today:")
	// Session label is the last two key segments; models listed sorted.
	assert.Contains(t, out, "  discord:main: $1.75 (2 runs, claude-opus-4, claude-sonnet-4)")
	assert.Contains(t, out, "cron jobs:")
	assert.Contains(t, out, "  daily-digest: $0.10 (1 runs)")
	assert.Contains(t, out, "sub-agents:")
	assert.Contains(t, out, "  total: $0.40 (1 runs)")
	assert.Contains(t, out, "  parent discord:main: $0.40")
	assert.Contains(t, out, "heartbeats: $0.02 (1 runs)")
}

func TestCostBreakdownOrdersSessionsByCost(t *testing.T) {
	st := seedStore(t, []record.CostRecord{
		rec("agent:cheap", "claude-haiku-4-5", record.TraceChat, 0.01),
		rec("agent:spendy", "claude-opus-4", record.TraceChat, 9.00),
	})

	out := New(st, nil).CostBreakdown()
	idxSpendy := strings.Index(out, "agent:spendy")
	idxCheap := strings.Index(out, "agent:cheap")
	require.GreaterOrEqual(t, idxSpendy, 0)
	require.GreaterOrEqual(t, idxCheap, 0)
	assert.Less(t, idxSpendy, idxCheap)
}

func TestBudgetStatusUnconfigured(t *testing.T) {
	st := seedStore(t, nil)
	out := New(st, nil).BudgetStatus()
	assert.Contains(t, out, "no budgets configured.")
	assert.Contains(t, out, "plugins.pinch.budget.daily")

	b := budget.New(config.BudgetConfig{}, st, t.TempDir())
	assert.Contains(t, New(st, b).BudgetStatus(), "no budgets configured.")
}

func TestBudgetStatusPeriodsAndSuggestions(t *testing.T) {
	recs := []record.CostRecord{
		rec("agent:main", "claude-opus-4", record.TraceChat, 8.20),
		rec("agent:main", "claude-haiku-4-5", record.TraceChat, 0.05),
	}
	// Six heartbeat runs trip the interval suggestion.
	for i := 0; i < 6; i++ {
		recs = append(recs, rec("agent:main", "claude-haiku-4-5", record.TraceHeartbeat, 0.05))
	}
	st := seedStore(t, recs)
	b := budget.New(config.BudgetConfig{Daily: 10, Monthly: 200}, st, t.TempDir())

	out := New(st, b).BudgetStatus()
	assert.Contains(t, out, "daily: $8.55 / $10.00 (86%) - $1.45 remaining")
	assert.Contains(t, out, "monthly: $8.55 / $200.00 (4%) - $191.45 remaining")
	assert.NotContains(t, out, "weekly:")
	assert.Contains(t, out, "suggestions:")
	assert.Contains(t, out, "heartbeats cost $0.30/day (6 runs x $0.050) - consider extending interval")
	assert.Contains(t, out, "claude-opus-4 accounts for 96% of costs - consider using a cheaper model for routine tasks")
}
