// Package ingest is the metering entry point: it turns completion events
// into CostRecords and feeds the record log and the budget tracker.
//
// DESIGN: Only the current turn is metered, meaning the messages after the
// most recent user/human message, so re-delivered multi-turn transcripts never
// double-count earlier turns. Extraction failures are absorbed: the tracker
// returns nil and the host runtime never sees an error from the ingest path.
package ingest

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/pinch/internal/budget"
	"github.com/openclaw/pinch/internal/config"
	"github.com/openclaw/pinch/internal/monitoring"
	"github.com/openclaw/pinch/internal/pricing"
	"github.com/openclaw/pinch/internal/record"
	"github.com/openclaw/pinch/internal/store"
)

// subagentMarker in a session key identifies a spawned sub-agent session.
const subagentMarker = ":subagent:"

// Alerter is the budget hook run after each successful append.
type Alerter interface {
	Check(ctx context.Context) []string
}

// Deliverer sends one alert text to the configured channel.
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// Tracker wires pricing, the store, and budget checking into one ingest path.
type Tracker struct {
	pricing   *pricing.Resolver
	store     *store.Store
	budget    Alerter
	deliverer Deliverer
	metrics   *monitoring.Metrics

	now func() time.Time // test hook
}

var _ Alerter = (*budget.Tracker)(nil)

// New builds an ingest tracker. budget, deliverer, and metrics may be nil.
func New(p *pricing.Resolver, s *store.Store, b Alerter, d Deliverer, m *monitoring.Metrics) *Tracker {
	return &Tracker{
		pricing:   p,
		store:     s,
		budget:    b,
		deliverer: d,
		metrics:   m,
		now:       time.Now,
	}
}

// Ingest meters one completion event: extract the turn, price it, persist a
// CostRecord, and run the budget check. Returns nil (and no error; ingest
// must never fail the host) when the event carries nothing to meter.
func (t *Tracker) Ingest(ctx context.Context, ev Event, evCtx Context) *record.CostRecord {
	rec := t.extract(ev, evCtx)
	if rec == nil {
		if t.metrics != nil {
			t.metrics.IngestErrors.Inc()
		}
		return nil
	}

	t.store.Append(*rec)

	if t.metrics != nil {
		t.metrics.RecordsTotal.Inc()
		t.metrics.CostTotal.Add(rec.Cost)
		t.metrics.TodayCost.Set(t.store.Today().Cost)
		if _, known := t.pricing.Lookup(rec.Model); !known && rec.Source == record.SourceCalculated {
			t.metrics.UnknownModels.Inc()
		}
	}

	if t.budget != nil {
		alerts := t.budget.Check(ctx)
		if len(alerts) > 0 && t.deliverer != nil {
			text := strings.Join(alerts, "\n")
			// Off the ingest critical path: delivery gets its own deadline
			// and its failure is the delivery layer's problem.
			go func() {
				dctx, cancel := context.WithTimeout(context.Background(), config.DefaultAlertTimeout)
				defer cancel()
				if err := t.deliverer.Deliver(dctx, text); err != nil {
					log.Warn().Err(err).Msg("ingest: alert delivery failed")
				}
			}()
		}
	}

	return rec
}

// extract builds a CostRecord from the event's current turn.
func (t *Tracker) extract(ev Event, evCtx Context) *record.CostRecord {
	if len(ev.Messages) == 0 {
		return nil
	}

	sessionKey := evCtx.SessionKey
	if sessionKey == "" {
		sessionKey = "unknown"
	}

	lastUser := -1
	for i := len(ev.Messages) - 1; i >= 0; i-- {
		if isUserRole(ev.Messages[i].Role) {
			lastUser = i
			break
		}
	}
	turn := ev.Messages
	if lastUser >= 0 {
		turn = ev.Messages[lastUser+1:]
	}

	var (
		inputTokens, outputTokens int
		cacheRead, cacheWrite     int
		thinkingTokens            int
		providerCost              float64
		model                     string
		tools                     []string
		seenTools                 = map[string]struct{}{}
	)

	for _, msg := range turn {
		if msg.Usage != nil {
			inputTokens += msg.Usage.Input
			outputTokens += msg.Usage.Output
			cacheRead += msg.Usage.CacheRead
			cacheWrite += msg.Usage.CacheWrite
			providerCost += msg.Usage.CostTotal
		}
		if model == "" && msg.Model != "" {
			model = msg.Model
		}
		if msg.Role == "assistant" {
			for _, b := range msg.Blocks {
				switch b.Type {
				case "toolCall", "tool_use":
					if b.Name != "" {
						if _, seen := seenTools[b.Name]; !seen {
							seenTools[b.Name] = struct{}{}
							tools = append(tools, b.Name)
						}
					}
				case "thinking":
					// Providers don't report thinking tokens; estimate from text.
					thinkingTokens += (len(b.Thinking) + config.TokenEstimateRatio - 1) / config.TokenEstimateRatio
				}
			}
		}
	}
	if model == "" {
		model = "unknown"
	}
	if tools == nil {
		tools = []string{}
	}

	cost, source := t.pricing.Resolve(model, inputTokens, outputTokens, cacheRead, cacheWrite, providerCost)

	isSub := strings.Contains(sessionKey, subagentMarker)
	var parent *string
	if isSub {
		p := strings.SplitN(sessionKey, subagentMarker, 2)[0] + ":main"
		parent = &p
	}

	return &record.CostRecord{
		Version:          record.RecordVersion,
		ID:               uuid.NewString(),
		Timestamp:        t.now().Unix(),
		SessionKey:       sessionKey,
		Model:            t.pricing.Normalize(model),
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		CacheReadTokens:  cacheRead,
		CacheWriteTokens: cacheWrite,
		Cost:             math.Round(cost*1e6) / 1e6,
		Source:           source,
		TraceType:        detectTraceType(sessionKey, ev.Messages, lastUser),
		Tools:            tools,
		DurationMs:       ev.DurationMs,
		IsSubAgent:       isSub,
		ParentSession:    parent,
		PricingVersion:   t.pricing.Version(),
		ThinkingTokens:   thinkingTokens,
	}
}

// detectTraceType classifies why the agent ran. Sub-agent and cron markers
// live in the session key; heartbeats are recognized by the text of the user
// message that opened the turn.
func detectTraceType(sessionKey string, messages []Message, lastUser int) record.TraceType {
	if strings.Contains(sessionKey, subagentMarker) {
		return record.TraceSubagent
	}
	if strings.Contains(sessionKey, ":cron:") || strings.Contains(sessionKey, "cron-") {
		return record.TraceCron
	}
	if lastUser >= 0 {
		text := messages[lastUser].Text
		if strings.Contains(text, "Read HEARTBEAT.md") || strings.Contains(strings.ToLower(text), "heartbeat") {
			return record.TraceHeartbeat
		}
	}
	return record.TraceChat
}

func isUserRole(role string) bool {
	return role == "user" || role == "human"
}
