// Package budget turns cumulative spend into at-most-once threshold alerts.
//
// DESIGN: Each configured period (daily, weekly, monthly) has a ladder of
// thresholds (100%, 95%, 80%, 50%) evaluated high to low so the most severe
// unalerted threshold crossed fires first. Dedup state is keyed by the
// current calendar date: only today's date key is retained, so a new day
// implicitly resets all period dedup. That means a weekly or monthly alert
// can re-fire on a later day of the same period instance; this matches the
// historical behavior the tracker replaces and keeps the state file trivial.
// State is persisted only when an alert actually fires.
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pinch/internal/config"
	"github.com/openclaw/pinch/internal/monitoring"
	"github.com/openclaw/pinch/internal/store"
	"github.com/openclaw/pinch/internal/utils"
)

// thresholds is the alert ladder, most severe first.
var thresholds = []int{100, 95, 80, 50}

// topSessionsInAlert is how many session labels an >=80% alert includes.
const topSessionsInAlert = 3

// state is the persisted dedup state.
type state struct {
	// AlertsSent maps a calendar date to the "(period)-(threshold)" keys
	// already alerted on that date. Only today's key is retained.
	AlertsSent map[string][]string `json:"alertsSent"`
	LastCheck  int64               `json:"lastCheck"`
}

// Tracker evaluates spend against configured ceilings.
type Tracker struct {
	cfg       config.BudgetConfig
	store     *store.Store
	statePath string

	// Metrics is optional; when set, fired alerts are counted per period.
	Metrics *monitoring.Metrics

	mu    sync.Mutex
	state state

	now func() time.Time // test hook
}

// New loads persisted dedup state (if any) and returns a tracker.
func New(cfg config.BudgetConfig, st *store.Store, dataDir string) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		store:     st,
		statePath: filepath.Join(dataDir, "budget-state.json"),
		state:     state{AlertsSent: make(map[string][]string)},
		now:       time.Now,
	}
	t.loadState()
	return t
}

func (t *Tracker) loadState() {
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		return
	}
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Msg("budget: malformed state file, starting fresh")
		return
	}
	if s.AlertsSent == nil {
		s.AlertsSent = make(map[string][]string)
	}
	t.state = s
}

func (t *Tracker) saveStateLocked() {
	data, err := utils.MarshalNoEscape(t.state)
	if err != nil {
		log.Error().Err(err).Msg("budget: failed to marshal state")
		return
	}
	tmp := t.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Msg("budget: failed to write state")
		return
	}
	if err := os.Rename(tmp, t.statePath); err != nil {
		log.Error().Err(err).Msg("budget: failed to replace state")
	}
}

// Check evaluates all configured periods and returns zero or more alert
// strings. The caller delivers them; this package never blocks on transport.
func (t *Tracker) Check(_ context.Context) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := t.now().UTC().Format("2006-01-02")

	// Only today's dedup key survives; crossing midnight resets the ladder.
	if _, ok := t.state.AlertsSent[today]; !ok {
		t.state.AlertsSent = map[string][]string{today: {}}
	}
	sent := t.state.AlertsSent[today]

	var alerts []string
	fired := false

	checkOne := func(period string, spent, budget float64) {
		alert, key := t.checkThreshold(period, spent, budget, sent)
		if alert == "" {
			return
		}
		sent = append(sent, key)
		alerts = append(alerts, alert)
		fired = true
		if t.Metrics != nil {
			t.Metrics.AlertsTotal.WithLabelValues(period).Inc()
		}
	}

	if t.cfg.Daily > 0 {
		checkOne("daily", t.store.Today().Cost, t.cfg.Daily)
	}
	if t.cfg.Weekly > 0 {
		checkOne("weekly", t.store.WeekToDate().Cost, t.cfg.Weekly)
	}
	if t.cfg.Monthly > 0 {
		checkOne("monthly", t.store.MonthToDate().Cost, t.cfg.Monthly)
	}

	t.state.AlertsSent[today] = sent
	t.state.LastCheck = t.now().Unix()

	// Write amplification guard: persist only when something fired.
	if fired {
		t.saveStateLocked()
	}
	return alerts
}

// checkThreshold finds the highest unalerted threshold at or below the
// current percent and formats the alert. Returns ("", "") if nothing fires.
func (t *Tracker) checkThreshold(period string, spent, budget float64, sent []string) (alert, key string) {
	pct := spent / budget * 100
	remaining := budget - spent

	for _, threshold := range thresholds {
		if pct < float64(threshold) {
			continue
		}
		key = fmt.Sprintf("%s-%d", period, threshold)
		if contains(sent, key) {
			return "", ""
		}

		var b strings.Builder
		fmt.Fprintf(&b, "pinch: $%.2f of $%.2f %s (%d%%).", spent, budget, periodLabel(period), int(math.Round(pct)))
		if remaining > 0 {
			fmt.Fprintf(&b, " $%.2f remaining.", remaining)
		} else {
			b.WriteString(" budget exceeded!")
		}

		if threshold >= 80 {
			if top := t.topSessionLine(); top != "" {
				b.WriteString(" top costs: ")
				b.WriteString(top)
				b.WriteString(".")
			}
		}

		log.Warn().Str("period", period).Int("threshold", threshold).
			Float64("spent", spent).Float64("budget", budget).
			Msg("budget: threshold crossed")
		return b.String(), key
	}
	return "", ""
}

// topSessionLine summarizes today's three highest-cost sessions by the last
// colon-delimited segment of their session keys.
func (t *Tracker) topSessionLine() string {
	bySession := make(map[string]float64)
	for _, r := range t.store.TodayRecords() {
		bySession[r.SessionKey] += r.Cost
	}
	if len(bySession) == 0 {
		return ""
	}

	type entry struct {
		key  string
		cost float64
	}
	entries := make([]entry, 0, len(bySession))
	for k, c := range bySession {
		entries = append(entries, entry{k, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].cost != entries[j].cost {
			return entries[i].cost > entries[j].cost
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > topSessionsInAlert {
		entries = entries[:topSessionsInAlert]
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s ($%.2f)", sessionLabel(e.key), e.cost))
	}
	return strings.Join(parts, ", ")
}

// sessionLabel is the last colon-delimited segment of a session key.
func sessionLabel(sessionKey string) string {
	if i := strings.LastIndex(sessionKey, ":"); i >= 0 && i+1 < len(sessionKey) {
		return sessionKey[i+1:]
	}
	return sessionKey
}

func periodLabel(period string) string {
	switch period {
	case "daily":
		return "today"
	case "weekly":
		return "this week"
	case "monthly":
		return "this month"
	}
	return period
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
