// Package pricing resolves raw model identifiers and token counts into USD
// costs against a versioned rate table.
//
// DESIGN: The default table ships embedded in the binary (pricing.json) so the
// resolver always has rates without touching the network. Callers may layer a
// per-model override map on top; overrides are applied at resolution time and
// never persisted. Cost resolution priority: provider-reported cost wins, then
// overrides, then table rates, then zero for unknown models (warned once per
// model per process).
package pricing

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pinch/internal/record"
)

//go:embed pricing.json
var embeddedTable []byte

// ModelPricing holds per-million-token rates for one model.
type ModelPricing struct {
	Provider      string   `json:"provider"`
	Input         float64  `json:"input"`
	Output        float64  `json:"output"`
	CacheRead     *float64 `json:"cacheRead,omitempty"`
	CacheWrite    *float64 `json:"cacheWrite,omitempty"`
	EffectiveDate string   `json:"effectiveDate"`
	Note          string   `json:"note,omitempty"`
}

// Table is the versioned rate table.
type Table struct {
	Version          int                     `json:"version"`
	UpdatedAt        string                  `json:"updatedAt"`
	Models           map[string]ModelPricing `json:"models"`
	Aliases          map[string]string       `json:"aliases"`
	ProviderPrefixes []string                `json:"providerPrefixes"`
}

// Override is a user-supplied partial rate set for one model, merged at
// resolution time. Nil fields fall back to zero (input/output) or "absent"
// (cache rates).
type Override struct {
	Input      *float64 `json:"input,omitempty" yaml:"input,omitempty"`
	Output     *float64 `json:"output,omitempty" yaml:"output,omitempty"`
	CacheRead  *float64 `json:"cache_read,omitempty" yaml:"cache_read,omitempty"`
	CacheWrite *float64 `json:"cache_write,omitempty" yaml:"cache_write,omitempty"`
}

// Resolver answers cost questions against a loaded table. Read-only after
// construction except for the warned-model set.
type Resolver struct {
	table     *Table
	overrides map[string]Override

	// Model ids sorted by descending length, for longest-first fuzzy matching.
	sortedModels []string

	warnMu sync.Mutex
	warned map[string]struct{}
}

// Load builds a Resolver from the embedded table, optionally replaced by a
// user table file, with per-model overrides layered on top.
func Load(tablePath string, overrides map[string]Override) (*Resolver, error) {
	raw := embeddedTable
	if tablePath != "" {
		data, err := os.ReadFile(tablePath)
		if err != nil {
			return nil, fmt.Errorf("pricing: read table %s: %w", tablePath, err)
		}
		raw = data
	}

	var table Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("pricing: parse table: %w", err)
	}
	if len(table.Models) == 0 {
		return nil, fmt.Errorf("pricing: table has no models")
	}

	names := make([]string, 0, len(table.Models))
	for name := range table.Models {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	return &Resolver{
		table:        &table,
		overrides:    overrides,
		sortedModels: names,
		warned:       make(map[string]struct{}),
	}, nil
}

// Version returns the loaded table version.
func (r *Resolver) Version() int {
	return r.table.Version
}

// Lookup returns the table entry for an already-normalized model id.
func (r *Resolver) Lookup(model string) (ModelPricing, bool) {
	p, ok := r.table.Models[model]
	return p, ok
}

// Resolve computes the cost for one turn.
//
// A positive providerCost is authoritative and returned verbatim. Otherwise
// the model name is normalized and rates are taken from the override map or
// the table. Unknown models cost zero and are warned once per process.
func (r *Resolver) Resolve(rawModel string, inputTokens, outputTokens, cacheRead, cacheWrite int, providerCost float64) (float64, record.Source) {
	if providerCost > 0 {
		return providerCost, record.SourceProvider
	}

	normalized := r.Normalize(rawModel)

	if o, ok := r.overrides[normalized]; ok {
		cost := ratesCost(inputTokens, outputTokens, cacheRead, cacheWrite,
			deref(o.Input), deref(o.Output), o.CacheRead, o.CacheWrite)
		return cost, record.SourceOverride
	}

	if p, ok := r.table.Models[normalized]; ok {
		cost := ratesCost(inputTokens, outputTokens, cacheRead, cacheWrite,
			p.Input, p.Output, p.CacheRead, p.CacheWrite)
		return cost, record.SourceCalculated
	}

	r.warnUnknown(rawModel, normalized)
	return 0, record.SourceCalculated
}

// warnUnknown logs an unknown model once per process to avoid log spam.
func (r *Resolver) warnUnknown(raw, normalized string) {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	if _, seen := r.warned[normalized]; seen {
		return
	}
	r.warned[normalized] = struct{}{}
	log.Warn().
		Str("model", raw).
		Str("normalized", normalized).
		Msg("pricing: unknown model, cost will be $0")
}

// ratesCost applies the per-million-token rate formula. Absent cache rates
// contribute zero rather than failing.
func ratesCost(inputTokens, outputTokens, cacheRead, cacheWrite int, inputRate, outputRate float64, cacheReadRate, cacheWriteRate *float64) float64 {
	cost := float64(inputTokens) / 1_000_000 * inputRate
	cost += float64(outputTokens) / 1_000_000 * outputRate
	if cacheReadRate != nil && cacheRead > 0 {
		cost += float64(cacheRead) / 1_000_000 * *cacheReadRate
	}
	if cacheWriteRate != nil && cacheWrite > 0 {
		cost += float64(cacheWrite) / 1_000_000 * *cacheWriteRate
	}
	return cost
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
