package dashboard

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/openclaw/pinch/internal/budget"
)

// handleIndex renders the cost dashboard page. Server-side HTML with a
// refresh meta tag; no SPA, no assets, nothing to build.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	today := s.store.Today()
	week := s.store.WeekToDate()
	month := s.store.MonthToDate()
	latest := s.store.Latest(20)

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="10">
<title>pinch - Cost Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: 'SF Mono', 'Fira Code', 'Cascadia Code', monospace; background: #0d1117; color: #c9d1d9; padding: 24px; }
  h1 { color: #58a6ff; font-size: 18px; margin-bottom: 16px; }
  h2 { color: #8b949e; font-size: 13px; text-transform: uppercase; letter-spacing: 1px; margin: 24px 0 8px; }
  .summary { display: flex; gap: 24px; margin-bottom: 24px; padding: 16px; background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
  .stat-label { font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; }
  .stat-value { font-size: 24px; font-weight: bold; color: #f0f6fc; }
  .stat-value.cost { color: #ffa657; }
  table { width: 100%; border-collapse: collapse; background: #161b22; border: 1px solid #30363d; border-radius: 6px; overflow: hidden; }
  th { text-align: left; padding: 10px 14px; font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; background: #0d1117; border-bottom: 1px solid #30363d; }
  td { padding: 10px 14px; font-size: 13px; border-bottom: 1px solid #21262d; }
  tr:last-child td { border-bottom: none; }
  .session { color: #58a6ff; }
  .model { color: #d2a8ff; }
  .cost { color: #ffa657; font-weight: bold; }
  .bar-container { width: 120px; height: 8px; background: #21262d; border-radius: 4px; overflow: hidden; display: inline-block; vertical-align: middle; margin-right: 8px; }
  .bar { height: 100%; border-radius: 4px; }
  .bar-ok { background: #3fb950; }
  .bar-warn { background: #d29922; }
  .bar-danger { background: #f85149; }
  .empty { text-align: center; padding: 40px; color: #8b949e; }
  .footer { margin-top: 16px; font-size: 11px; color: #484f58; }
</style>
</head>
<body>
<h1>pinch - Cost Dashboard</h1>
<div class="summary">`)

	writeStat(&b, "Today", fmt.Sprintf("$%.2f", today.Cost), true)
	writeStat(&b, "This Week", fmt.Sprintf("$%.2f", week.Cost), true)
	writeStat(&b, "This Month", fmt.Sprintf("$%.2f", month.Cost), true)
	writeStat(&b, "Runs Today", fmt.Sprintf("%d", today.Records), false)
	b.WriteString(`
</div>`)

	if s.budget != nil {
		status := s.budget.Status()
		if status.Daily != nil || status.Weekly != nil || status.Monthly != nil {
			b.WriteString(`
<h2>Budgets</h2>
<table>
<tr><th>Period</th><th>Spent</th><th>Budget</th><th>Usage</th></tr>`)
			writeBudgetRow(&b, "daily", status.Daily)
			writeBudgetRow(&b, "weekly", status.Weekly)
			writeBudgetRow(&b, "monthly", status.Monthly)
			b.WriteString(`
</table>`)
		}
	}

	b.WriteString(`
<h2>Today by Model</h2>`)
	if len(today.ByModel) == 0 {
		b.WriteString(`
<div class="empty">no records yet today</div>`)
	} else {
		b.WriteString(`
<table>
<tr><th>Model</th><th>Cost</th><th>Runs</th></tr>`)
		for model, bucket := range today.ByModel {
			fmt.Fprintf(&b, `
<tr><td class="model">%s</td><td class="cost">$%.4f</td><td>%d</td></tr>`,
				html.EscapeString(model), bucket.Cost, bucket.Records)
		}
		b.WriteString(`
</table>`)
	}

	b.WriteString(`
<h2>Latest Records</h2>`)
	if len(latest) == 0 {
		b.WriteString(`
<div class="empty">no records yet today</div>`)
	} else {
		b.WriteString(`
<table>
<tr><th>Time</th><th>Session</th><th>Model</th><th>Type</th><th>Tokens</th><th>Cost</th></tr>`)
		for _, rec := range latest {
			fmt.Fprintf(&b, `
<tr><td>%s</td><td class="session">%s</td><td class="model">%s</td><td>%s</td><td>%d in / %d out</td><td class="cost">$%.4f</td></tr>`,
				time.Unix(rec.Timestamp, 0).UTC().Format("15:04:05"),
				html.EscapeString(rec.SessionKey),
				html.EscapeString(rec.Model),
				rec.TraceType,
				rec.InputTokens, rec.OutputTokens, rec.Cost)
		}
		b.WriteString(`
</table>`)
	}

	fmt.Fprintf(&b, `
<div class="footer">date %s (UTC) | <a href="/api/today" style="color:#484f58">/api/today</a> | <a href="/metrics" style="color:#484f58">/metrics</a></div>
</body>
</html>`, today.Date)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func writeStat(b *strings.Builder, label, value string, cost bool) {
	class := "stat-value"
	if cost {
		class += " cost"
	}
	fmt.Fprintf(b, `
  <div class="stat">
    <div class="stat-label">%s</div>
    <div class="%s">%s</div>
  </div>`, label, class, value)
}

func writeBudgetRow(b *strings.Builder, period string, s *budget.PeriodStatus) {
	if s == nil {
		return
	}
	barClass := "bar-ok"
	switch {
	case s.Pct >= 95:
		barClass = "bar-danger"
	case s.Pct >= 80:
		barClass = "bar-warn"
	}
	width := s.Pct
	if width > 100 {
		width = 100
	}
	fmt.Fprintf(b, `
<tr><td>%s</td><td class="cost">$%.2f</td><td>$%.2f</td><td><span class="bar-container"><span class="bar %s" style="width:%d%%"></span></span>%d%%</td></tr>`,
		period, s.Spent, s.Budget, barClass, width, s.Pct)
}
