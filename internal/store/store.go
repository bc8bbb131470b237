// Package store owns the durable cost record log and the in-memory view of
// the current day.
//
// DESIGN: Records are appended to one JSONL file per calendar date (UTC).
// The Store mirrors "today" in memory (records plus running totals) and
// compacts a finished day into an immutable DailyAggregate on rollover.
// Every public operation first runs the rollover guard so a long-idle
// process never serves stale state across a date boundary.
//
// Durability rules: full-file writes (aggregates, the today snapshot) go
// through a temp-file-plus-rename so a crash never corrupts a previous valid
// file. The append-only log can lose at most one trailing malformed line to a
// crash; all readers skip unparsable lines. A failed disk write is logged and
// swallowed; the in-memory state stays authoritative for the rest of the
// process.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pinch/internal/record"
	"github.com/openclaw/pinch/internal/utils"
)

const dateLayout = "2006-01-02"

// Store is the single owner of the record log, the daily cache, and the
// aggregate layer. One instance per process; all operations serialize on one
// mutex because the rollover read-modify-write cannot interleave with appends.
type Store struct {
	recordsDir string
	dailyDir   string
	statePath  string

	mu          sync.Mutex
	currentDate string
	today       []record.CostRecord
	totals      record.Totals

	now func() time.Time // test hook
}

// snapshot is the crash-resilience state file for the current day.
type snapshot struct {
	Date    string        `json:"date"`
	Totals  record.Totals `json:"totals"`
	SavedAt int64         `json:"savedAt"`
}

// New opens (or creates) a store rooted at dataDir and loads today's records
// into memory. The raw log is the primary source; the snapshot is only used
// when the log cannot be read.
func New(dataDir string) (*Store, error) {
	s := &Store{
		recordsDir: filepath.Join(dataDir, "records"),
		dailyDir:   filepath.Join(dataDir, "aggregates", "daily"),
		statePath:  filepath.Join(dataDir, "state.json"),
		now:        time.Now,
	}
	for _, dir := range []string{s.recordsDir, s.dailyDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}

	s.currentDate = s.dateStr(s.now())
	s.loadTodayLocked()
	return s, nil
}

func (s *Store) dateStr(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func (s *Store) logPath(date string) string {
	return filepath.Join(s.recordsDir, date+".jsonl")
}

func (s *Store) aggregatePath(date string) string {
	return filepath.Join(s.dailyDir, date+".json")
}

// SetNowFunc replaces the store's clock and realigns the cache to it.
// Test hook for exercising day-boundary behavior.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.ensureCurrentDateLocked()
}

// CurrentDate returns the cache's current date (YYYY-MM-DD, UTC).
func (s *Store) CurrentDate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDate
}

// Append persists one record and folds it into the daily cache. Rolls the
// previous day first if the date boundary was crossed since the last call.
func (s *Store) Append(rec record.CostRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCurrentDateLocked()

	if err := appendRecord(s.logPath(s.currentDate), rec); err != nil {
		log.Error().Err(err).Str("date", s.currentDate).Msg("store: failed to append record")
	}
	s.today = append(s.today, rec)
	s.totals.Fold(rec)
	s.saveSnapshotLocked()
}

// ensureCurrentDateLocked is the rollover guard run at the top of every
// public operation. Returns true if a rollover happened.
func (s *Store) ensureCurrentDateLocked() bool {
	today := s.dateStr(s.now())
	if today == s.currentDate {
		return false
	}

	log.Info().Str("from", s.currentDate).Str("to", today).Msg("store: day rollover")
	s.rollDayLocked(s.currentDate)
	s.currentDate = today
	s.today = nil
	s.totals = record.NewTotals()
	return true
}

// Roll compacts the raw log for date into a DailyAggregate. Idempotent: the
// aggregate is deterministic for a given log, and rolling a date with no raw
// log is a no-op. Safe to call for past dates at any time.
func (s *Store) Roll(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked(date)
}

func (s *Store) rollDayLocked(date string) {
	records, err := readRecordLog(s.logPath(date))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("date", date).Msg("store: failed to read log for rollover")
		}
		return
	}
	if len(records) == 0 {
		return
	}

	agg := record.Aggregate(date, records)
	if err := writeJSONAtomic(s.aggregatePath(date), agg); err != nil {
		log.Error().Err(err).Str("date", date).Msg("store: failed to write daily aggregate")
		return
	}
	log.Debug().Str("date", date).Int("records", agg.Records).Float64("cost", agg.Cost).
		Msg("store: rolled day into aggregate")
}

// loadTodayLocked rebuilds the in-memory cache from today's raw log,
// falling back to the snapshot only if the log is unreadable.
func (s *Store) loadTodayLocked() {
	s.today = nil
	s.totals = record.NewTotals()

	records, err := readRecordLog(s.logPath(s.currentDate))
	if err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("date", s.currentDate).Msg("store: failed to load today's log")
		s.restoreSnapshotLocked()
		return
	}
	for _, r := range records {
		s.today = append(s.today, r)
		s.totals.Fold(r)
	}
	if len(records) > 0 {
		log.Info().Int("records", len(records)).Float64("cost", s.totals.Cost).
			Msg("store: loaded today's records")
	}
}

func (s *Store) restoreSnapshotLocked() {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("store: malformed snapshot, ignoring")
		return
	}
	if snap.Date != s.currentDate {
		return
	}
	s.totals = snap.Totals
	if s.totals.ByModel == nil {
		s.totals.ByModel = make(map[string]record.Bucket)
	}
	if s.totals.ByType == nil {
		s.totals.ByType = make(map[string]record.Bucket)
	}
	log.Warn().Float64("cost", s.totals.Cost).
		Msg("store: restored totals from snapshot (log unreadable)")
}

func (s *Store) saveSnapshotLocked() {
	snap := snapshot{
		Date:    s.currentDate,
		Totals:  s.totals,
		SavedAt: s.now().Unix(),
	}
	if err := writeJSONAtomic(s.statePath, snap); err != nil {
		log.Error().Err(err).Msg("store: failed to write snapshot")
	}
}

// appendRecord writes one JSONL line with append semantics.
func appendRecord(path string, rec record.CostRecord) error {
	data, err := utils.MarshalNoEscape(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

// readRecordLog reads a per-date JSONL log, skipping unparsable lines (a
// crash mid-append leaves at most one).
func readRecordLog(path string) ([]record.CostRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []record.CostRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record.CostRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn().Str("path", path).Msg("store: skipping unparsable record line")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, err
	}
	return records, nil
}

// readAggregate loads a daily aggregate if present.
func (s *Store) readAggregate(date string) (record.DailyAggregate, bool) {
	data, err := os.ReadFile(s.aggregatePath(date))
	if err != nil {
		return record.DailyAggregate{}, false
	}
	var agg record.DailyAggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		log.Warn().Str("date", date).Msg("store: malformed daily aggregate, falling back to raw log")
		return record.DailyAggregate{}, false
	}
	return agg, true
}

// writeJSONAtomic writes v to path via a temp file and rename, so a crash
// mid-write never corrupts the previous valid file.
func writeJSONAtomic(path string, v any) error {
	data, err := utils.MarshalNoEscape(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
