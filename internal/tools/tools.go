// Package tools renders the agent-facing cost reports: spend check, cost
// breakdown, and budget status. All three are plain multi-line strings over
// the store's query engine, formatted for a chat surface rather than a
// terminal.
package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openclaw/pinch/internal/budget"
	"github.com/openclaw/pinch/internal/record"
	"github.com/openclaw/pinch/internal/store"
)

// minHeartbeatRunsForSuggestion gates the heartbeat-interval suggestion so a
// couple of runs never trigger advice.
const minHeartbeatRunsForSuggestion = 6

// dominantModelPct is the share of today's cost above which a single model
// earns a "use a cheaper model" suggestion.
const dominantModelPct = 80.0

// Reports renders cost reports over the store and budget tracker.
type Reports struct {
	store  *store.Store
	budget *budget.Tracker
}

// New builds a report renderer. budget may be nil when no tracker exists.
func New(st *store.Store, b *budget.Tracker) *Reports {
	return &Reports{store: st, budget: b}
}

// CostCheck answers "how much have I spent?": today/week/month totals with
// budget percentages, plus today's model and type breakdowns.
func (r *Reports) CostCheck() string {
	today := r.store.Today()
	week := r.store.WeekToDate()
	month := r.store.MonthToDate()

	var status budget.Status
	if r.budget != nil {
		status = r.budget.Status()
	}

	var lines []string
	lines = append(lines, periodLine("today", today.Cost, today.Records, status.Daily))
	lines = append(lines, periodLine("week", week.Cost, week.Records, status.Weekly))
	lines = append(lines, periodLine("month", month.Cost, month.Records, status.Monthly))

	if len(today.ByModel) > 0 {
		lines = append(lines, "", "by model (today):")
		for _, e := range sortedBuckets(today.ByModel) {
			lines = append(lines, fmt.Sprintf("  %s: $%.2f (%d runs)", e.key, e.b.Cost, e.b.Records))
		}
	}
	if len(today.ByType) > 0 {
		lines = append(lines, "", "by type (today):")
		for _, e := range sortedBuckets(today.ByType) {
			lines = append(lines, fmt.Sprintf("  %s: $%.2f (%d runs)", e.key, e.b.Cost, e.b.Records))
		}
	}

	lines = append(lines, "", "note: current run cost not yet included.")
	return strings.Join(lines, "\n")
}

// CostBreakdown answers "what's my most expensive task?": top sessions, cron
// jobs, sub-agent totals, and heartbeat cost for the current day.
func (r *Reports) CostBreakdown() string {
	records := r.store.TodayRecords()
	if len(records) == 0 {
		return "no cost records today yet."
	}

	var lines []string

	type sessionAgg struct {
		cost    float64
		records int
		models  map[string]struct{}
	}
	bySession := make(map[string]*sessionAgg)
	for _, rec := range records {
		agg := bySession[rec.SessionKey]
		if agg == nil {
			agg = &sessionAgg{models: make(map[string]struct{})}
			bySession[rec.SessionKey] = agg
		}
		agg.cost += rec.Cost
		agg.records++
		agg.models[rec.Model] = struct{}{}
	}
	keys := make([]string, 0, len(bySession))
	for k := range bySession {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if bySession[keys[i]].cost != bySession[keys[j]].cost {
			return bySession[keys[i]].cost > bySession[keys[j]].cost
		}
		return keys[i] < keys[j]
	})
	if len(keys) > record.MaxTopSessions {
		keys = keys[:record.MaxTopSessions]
	}

	lines = append(lines, "top sessions today:")
	for _, k := range keys {
		agg := bySession[k]
		models := make([]string, 0, len(agg.models))
		for m := range agg.models {
			models = append(models, m)
		}
		sort.Strings(models)
		lines = append(lines, fmt.Sprintf("  %s: $%.2f (%d runs, %s)",
			sessionLabel(k), agg.cost, agg.records, strings.Join(models, ", ")))
	}

	if cronLines := cronSection(records); len(cronLines) > 0 {
		lines = append(lines, "")
		lines = append(lines, cronLines...)
	}
	if subLines := subagentSection(records); len(subLines) > 0 {
		lines = append(lines, "")
		lines = append(lines, subLines...)
	}
	if hbCost, hbRuns := heartbeatTotals(records); hbRuns > 0 {
		lines = append(lines, "", fmt.Sprintf("heartbeats: $%.2f (%d runs)", hbCost, hbRuns))
	}

	lines = append(lines, "", "note: current run cost not yet included.")
	return strings.Join(lines, "\n")
}

// BudgetStatus answers "am I near my limit?": per-period spend lines,
// run-rate projections, and optimization suggestions.
func (r *Reports) BudgetStatus() string {
	if r.budget == nil {
		return noBudgetsMessage()
	}
	status := r.budget.Status()
	if status.Daily == nil && status.Weekly == nil && status.Monthly == nil {
		return noBudgetsMessage()
	}

	var lines []string
	for _, p := range []struct {
		name string
		s    *budget.PeriodStatus
	}{{"daily", status.Daily}, {"weekly", status.Weekly}, {"monthly", status.Monthly}} {
		if p.s == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: $%.2f / $%.2f (%d%%) - $%.2f remaining",
			p.name, p.s.Spent, p.s.Budget, p.s.Pct, p.s.Remaining))
	}

	if status.Projections != nil {
		lines = append(lines, "",
			fmt.Sprintf("projected daily rate: $%.2f", status.Projections.DailyRate),
			fmt.Sprintf("projected monthly: $%.2f", status.Projections.ProjectedMonthly))
	}

	if suggestions := r.suggestions(); len(suggestions) > 0 {
		lines = append(lines, "", "suggestions:")
		for _, s := range suggestions {
			lines = append(lines, "  - "+s)
		}
	}

	return strings.Join(lines, "\n")
}

func noBudgetsMessage() string {
	return "no budgets configured.\n" +
		"set budgets in openclaw config: plugins.pinch.budget.daily / weekly / monthly"
}

// suggestions inspects today's records for the two actionable patterns:
// recurring heartbeat spend and a single model dominating the bill.
func (r *Reports) suggestions() []string {
	records := r.store.TodayRecords()
	var out []string

	if hbCost, hbRuns := heartbeatTotals(records); hbRuns >= minHeartbeatRunsForSuggestion {
		out = append(out, fmt.Sprintf("heartbeats cost $%.2f/day (%d runs x $%.3f) - consider extending interval",
			hbCost, hbRuns, hbCost/float64(hbRuns)))
	}

	byModel := make(map[string]float64)
	var total float64
	for _, rec := range records {
		byModel[rec.Model] += rec.Cost
		total += rec.Cost
	}
	if len(byModel) > 1 && total > 0 {
		topModel, topCost := "", 0.0
		for m, c := range byModel {
			if c > topCost || (c == topCost && m < topModel) {
				topModel, topCost = m, c
			}
		}
		if pct := topCost / total * 100; pct > dominantModelPct {
			out = append(out, fmt.Sprintf("%s accounts for %d%% of costs - consider using a cheaper model for routine tasks",
				topModel, int(pct+0.5)))
		}
	}

	return out
}

// periodLine renders one period of the cost check, with budget context when
// a ceiling is configured.
func periodLine(name string, cost float64, runs int, s *budget.PeriodStatus) string {
	line := fmt.Sprintf("%s: $%.2f (%d runs)", name, cost, runs)
	if s != nil {
		line += fmt.Sprintf(" - %d%% of $%s budget", s.Pct, formatAmount(s.Budget))
	}
	return line
}

func cronSection(records []record.CostRecord) []string {
	type agg struct {
		cost    float64
		records int
	}
	byJob := make(map[string]*agg)
	for _, rec := range records {
		if rec.TraceType != record.TraceCron {
			continue
		}
		label := lastSegment(rec.SessionKey)
		a := byJob[label]
		if a == nil {
			a = &agg{}
			byJob[label] = a
		}
		a.cost += rec.Cost
		a.records++
	}
	if len(byJob) == 0 {
		return nil
	}

	labels := make([]string, 0, len(byJob))
	for l := range byJob {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if byJob[labels[i]].cost != byJob[labels[j]].cost {
			return byJob[labels[i]].cost > byJob[labels[j]].cost
		}
		return labels[i] < labels[j]
	})

	lines := []string{"cron jobs:"}
	for _, l := range labels {
		lines = append(lines, fmt.Sprintf("  %s: $%.2f (%d runs)", l, byJob[l].cost, byJob[l].records))
	}
	return lines
}

func subagentSection(records []record.CostRecord) []string {
	var total float64
	var runs int
	byParent := make(map[string]float64)
	for _, rec := range records {
		if !rec.IsSubAgent {
			continue
		}
		total += rec.Cost
		runs++
		parent := "unknown"
		if rec.ParentSession != nil {
			parent = *rec.ParentSession
		}
		byParent[parent] += rec.Cost
	}
	if runs == 0 {
		return nil
	}

	parents := make([]string, 0, len(byParent))
	for p := range byParent {
		parents = append(parents, p)
	}
	sort.Slice(parents, func(i, j int) bool {
		if byParent[parents[i]] != byParent[parents[j]] {
			return byParent[parents[i]] > byParent[parents[j]]
		}
		return parents[i] < parents[j]
	})

	lines := []string{"sub-agents:", fmt.Sprintf("  total: $%.2f (%d runs)", total, runs)}
	for _, p := range parents {
		lines = append(lines, fmt.Sprintf("  parent %s: $%.2f", sessionLabel(p), byParent[p]))
	}
	return lines
}

func heartbeatTotals(records []record.CostRecord) (cost float64, runs int) {
	for _, rec := range records {
		if rec.TraceType == record.TraceHeartbeat {
			cost += rec.Cost
			runs++
		}
	}
	return cost, runs
}

type bucketEntry struct {
	key string
	b   record.Bucket
}

// sortedBuckets orders a breakdown map by cost descending, key ascending on
// ties, for stable report output.
func sortedBuckets(m map[string]record.Bucket) []bucketEntry {
	out := make([]bucketEntry, 0, len(m))
	for k, v := range m {
		out = append(out, bucketEntry{key: k, b: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].b.Cost != out[j].b.Cost {
			return out[i].b.Cost > out[j].b.Cost
		}
		return out[i].key < out[j].key
	})
	return out
}

// sessionLabel shortens a hierarchical session key to its last two segments.
func sessionLabel(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) <= 2 {
		return key
	}
	return strings.Join(parts[len(parts)-2:], ":")
}

func lastSegment(key string) string {
	parts := strings.Split(key, ":")
	return parts[len(parts)-1]
}

// formatAmount prints a budget ceiling without trailing zeros ($10, $12.5).
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
