// Package record defines the cost metering data types shared across pinch.
//
// DESIGN: CostRecord is the unit of truth: one immutable record per agent
// turn, appended to a per-date JSONL log. Field names in the JSON form are
// deliberately short (v, id, ts, sk, ...) to keep records under ~500 bytes;
// a day of heavy agent use produces thousands of them.
package record

import (
	"sort"
)

// RecordVersion is the current CostRecord schema version.
const RecordVersion = 2

// Source describes how a record's cost was derived.
type Source string

const (
	SourceProvider   Source = "provider"   // provider-reported, authoritative
	SourceCalculated Source = "calculated" // computed from the rate table
	SourceOverride   Source = "override"   // computed from user-supplied rates
)

// TraceType classifies why an agent ran.
type TraceType string

const (
	TraceChat      TraceType = "chat"
	TraceHeartbeat TraceType = "heartbeat"
	TraceCron      TraceType = "cron"
	TraceSubagent  TraceType = "subagent"
)

// CostRecord is one persisted cost-metering event for a single agent turn.
// Immutable once written.
type CostRecord struct {
	Version          int       `json:"v"`
	ID               string    `json:"id"`
	Timestamp        int64     `json:"ts"` // unix seconds
	SessionKey       string    `json:"sk"` // hierarchical, colon-delimited
	Model            string    `json:"m"`  // post-normalization
	InputTokens      int       `json:"in"`
	OutputTokens     int       `json:"out"`
	CacheReadTokens  int       `json:"cr"`
	CacheWriteTokens int       `json:"cw"`
	Cost             float64   `json:"c"` // USD, >= 0, rounded to 6 decimals
	Source           Source    `json:"src"`
	TraceType        TraceType `json:"tt"`
	Tools            []string  `json:"tools"`
	DurationMs       int64     `json:"dur"`
	IsSubAgent       bool      `json:"sub"`
	ParentSession    *string   `json:"par"` // non-nil iff IsSubAgent
	PricingVersion   int       `json:"pv"`  // rate table snapshot at write time
	ThinkingTokens   int       `json:"th"`  // estimated
}

// Bucket is a cost+count pair used in byModel/byType breakdowns.
type Bucket struct {
	Cost    float64 `json:"cost"`
	Records int     `json:"records"`
}

// Totals accumulates sums over a set of records.
type Totals struct {
	Cost             float64           `json:"cost"`
	InputTokens      int               `json:"inputTokens"`
	OutputTokens     int               `json:"outputTokens"`
	CacheReadTokens  int               `json:"cacheReadTokens"`
	CacheWriteTokens int               `json:"cacheWriteTokens"`
	Records          int               `json:"records"`
	ByModel          map[string]Bucket `json:"byModel"`
	ByType           map[string]Bucket `json:"byType"`
}

// NewTotals returns an empty Totals with initialized maps.
func NewTotals() Totals {
	return Totals{
		ByModel: make(map[string]Bucket),
		ByType:  make(map[string]Bucket),
	}
}

// Fold adds a single record into the running totals.
func (t *Totals) Fold(r CostRecord) {
	t.Cost += r.Cost
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.CacheReadTokens += r.CacheReadTokens
	t.CacheWriteTokens += r.CacheWriteTokens
	t.Records++

	m := t.ByModel[r.Model]
	m.Cost += r.Cost
	m.Records++
	t.ByModel[r.Model] = m

	ty := t.ByType[string(r.TraceType)]
	ty.Cost += r.Cost
	ty.Records++
	t.ByType[string(r.TraceType)] = ty
}

// Merge adds another Totals into this one. Breakdown maps merge additively.
func (t *Totals) Merge(other Totals) {
	t.Cost += other.Cost
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.CacheWriteTokens += other.CacheWriteTokens
	t.Records += other.Records
	for k, v := range other.ByModel {
		b := t.ByModel[k]
		b.Cost += v.Cost
		b.Records += v.Records
		t.ByModel[k] = b
	}
	for k, v := range other.ByType {
		b := t.ByType[k]
		b.Cost += v.Cost
		b.Records += v.Records
		t.ByType[k] = b
	}
}

// SessionCost is a sessionKey/cost pair in a DailyAggregate's top list.
type SessionCost struct {
	Key  string  `json:"key"`
	Cost float64 `json:"cost"`
}

// DailyAggregate is the compacted, append-only snapshot of one calendar date
// (UTC). Created once at rollover and never mutated.
type DailyAggregate struct {
	Date             string            `json:"date"` // YYYY-MM-DD
	Cost             float64           `json:"cost"`
	InputTokens      int               `json:"inputTokens"`
	OutputTokens     int               `json:"outputTokens"`
	CacheReadTokens  int               `json:"cacheReadTokens"`
	CacheWriteTokens int               `json:"cacheWriteTokens"`
	Records          int               `json:"records"`
	ByModel          map[string]Bucket `json:"byModel"`
	ByType           map[string]Bucket `json:"byType"`
	TopSessions      []SessionCost     `json:"topSessions"`
	PricingVersion   int               `json:"pricingVersion"` // first record's, informational
}

// MaxTopSessions bounds the topSessions list in a DailyAggregate.
const MaxTopSessions = 10

// Aggregate compacts a day's records into a DailyAggregate. The result is
// deterministic for a given input: top sessions tie-break on the session key
// so repeated rollovers of the same log are byte-identical.
func Aggregate(date string, records []CostRecord) DailyAggregate {
	agg := DailyAggregate{
		Date:    date,
		Records: len(records),
		ByModel: make(map[string]Bucket),
		ByType:  make(map[string]Bucket),
	}
	if len(records) > 0 {
		agg.PricingVersion = records[0].PricingVersion
	}

	bySession := make(map[string]float64)
	for _, r := range records {
		agg.Cost += r.Cost
		agg.InputTokens += r.InputTokens
		agg.OutputTokens += r.OutputTokens
		agg.CacheReadTokens += r.CacheReadTokens
		agg.CacheWriteTokens += r.CacheWriteTokens

		m := agg.ByModel[r.Model]
		m.Cost += r.Cost
		m.Records++
		agg.ByModel[r.Model] = m

		ty := agg.ByType[string(r.TraceType)]
		ty.Cost += r.Cost
		ty.Records++
		agg.ByType[string(r.TraceType)] = ty

		bySession[r.SessionKey] += r.Cost
	}

	top := make([]SessionCost, 0, len(bySession))
	for k, c := range bySession {
		top = append(top, SessionCost{Key: k, Cost: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Cost != top[j].Cost {
			return top[i].Cost > top[j].Cost
		}
		return top[i].Key < top[j].Key
	})
	if len(top) > MaxTopSessions {
		top = top[:MaxTopSessions]
	}
	agg.TopSessions = top

	return agg
}

// Totals converts an aggregate back into Totals form for range merging.
func (a DailyAggregate) Totals() Totals {
	t := Totals{
		Cost:             a.Cost,
		InputTokens:      a.InputTokens,
		OutputTokens:     a.OutputTokens,
		CacheReadTokens:  a.CacheReadTokens,
		CacheWriteTokens: a.CacheWriteTokens,
		Records:          a.Records,
		ByModel:          make(map[string]Bucket, len(a.ByModel)),
		ByType:           make(map[string]Bucket, len(a.ByType)),
	}
	for k, v := range a.ByModel {
		t.ByModel[k] = v
	}
	for k, v := range a.ByType {
		t.ByType[k] = v
	}
	return t
}
