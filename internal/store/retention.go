package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Retention deletes raw per-date record logs older than retentionDays.
// Daily aggregates are never deleted here: once a day is compacted its
// aggregate remains queryable independently of raw-log retention.
// Returns the number of log files removed.
func (s *Store) Retention(retentionDays int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.dateStr(s.now().UTC().AddDate(0, 0, -retentionDays))

	entries, err := os.ReadDir(s.recordsDir)
	if err != nil {
		log.Error().Err(err).Msg("store: retention sweep failed to list records")
		return 0
	}

	deleted := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		date := strings.TrimSuffix(name, ".jsonl")
		if date >= cutoff {
			continue
		}
		// Make sure the day is compacted before its raw log disappears.
		s.rollDayLocked(date)
		if err := os.Remove(filepath.Join(s.recordsDir, name)); err != nil {
			log.Error().Err(err).Str("date", date).Msg("store: retention sweep failed to remove log")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Str("cutoff", cutoff).Msg("store: retention sweep")
	}
	return deleted
}
