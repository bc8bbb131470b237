package pricing

import (
	"regexp"
	"strings"
)

// Trailing date suffixes: -20250514 (full date) or -0514 (short date).
var (
	longDateSuffix  = regexp.MustCompile(`-\d{8}$`)
	shortDateSuffix = regexp.MustCompile(`-\d{4}$`)
)

// Normalize maps a raw model identifier to a table model id.
//
// Priority order: provider prefix strip (first match wins), alias lookup
// (original string first, then stripped), exact table match, date-suffix
// strip, then fuzzy prefix matching against known ids longest-first. An
// identifier that matches nothing is returned normalized but unmatched so
// callers can still record it.
func (r *Resolver) Normalize(raw string) string {
	if raw == "" {
		return "unknown"
	}
	name := strings.TrimSpace(strings.ToLower(raw))
	if name == "" {
		return "unknown"
	}

	for _, prefix := range r.table.ProviderPrefixes {
		if strings.HasPrefix(name, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	if canonical, ok := r.table.Aliases[raw]; ok {
		return canonical
	}
	if canonical, ok := r.table.Aliases[name]; ok {
		return canonical
	}

	if _, ok := r.table.Models[name]; ok {
		return name
	}

	stripped := shortDateSuffix.ReplaceAllString(longDateSuffix.ReplaceAllString(name, ""), "")
	if stripped != name {
		if _, ok := r.table.Models[stripped]; ok {
			return stripped
		}
	}

	// Fuzzy: "claude-opus-4-latest" should land on "claude-opus-4".
	// Longest known ids first so the most specific family wins.
	for _, known := range r.sortedModels {
		if strings.HasPrefix(name, known) {
			return known
		}
	}
	for _, known := range r.sortedModels {
		if strings.HasPrefix(known, name) {
			return known
		}
	}

	return name
}
