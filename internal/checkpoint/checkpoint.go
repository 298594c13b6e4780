// Package checkpoint persists which input files are done or failed so an
// interrupted run can resume and failed files can be selectively retried.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mfalcone/docmill/internal/domain"
)

// formatVersion is written to every checkpoint file. Loads accept any
// version: unknown fields are ignored and missing fields default, so older
// binaries can read newer files and vice versa.
const formatVersion = 1

// FailureRecord describes the most recent failure for one path.
type FailureRecord struct {
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stats holds the aggregate counters carried across saves.
type Stats struct {
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	RowsExtracted int64     `json:"rows_extracted"`
	StartedAt     time.Time `json:"started_at"`
	LastSavedAt   time.Time `json:"last_saved_at"`
}

// fileState is the on-disk JSON document.
type fileState struct {
	Version        int                      `json:"version"`
	ProcessedFiles []string                 `json:"processed_files"`
	FailedFiles    map[string]FailureRecord `json:"failed_files"`
	Stats          Stats                    `json:"stats"`
	Timestamp      time.Time                `json:"timestamp"`
}

// Store is the durable done/failed record for one checkpoint file.
// A path is in at most one of the processed set and the failed map; a
// successful retry moves it from failed to processed in one step.
//
// Safe for concurrent use, though the orchestrator is the only writer.
type Store struct {
	mu        sync.Mutex
	path      string
	saveEvery int

	processed map[string]struct{}
	failed    map[string]FailureRecord
	stats     Stats
	sinceSave int
}

// New creates a Store backed by the file at path. saveEvery is the outcome
// cadence for automatic saves; values below 1 mean save on every outcome.
func New(path string, saveEvery int) *Store {
	if saveEvery < 1 {
		saveEvery = 1
	}
	return &Store{
		path:      path,
		saveEvery: saveEvery,
		processed: make(map[string]struct{}),
		failed:    make(map[string]FailureRecord),
	}
}

// Load reads prior state from disk. A missing file means a fresh start; a
// corrupt file is logged and treated the same way, never as a fatal error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint %q: %w", s.path, err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("checkpoint file corrupt, starting from empty state",
			"path", s.path, "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]struct{}, len(st.ProcessedFiles))
	for _, p := range st.ProcessedFiles {
		s.processed[p] = struct{}{}
	}
	s.failed = st.FailedFiles
	if s.failed == nil {
		s.failed = make(map[string]FailureRecord)
	}
	// Enforce the exclusivity invariant on load in case an older writer
	// left a path in both places.
	for p := range s.processed {
		delete(s.failed, p)
	}
	s.stats = st.Stats
	return nil
}

// ShouldProcess reports whether path still needs processing.
func (s *Store) ShouldProcess(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, done := s.processed[path]
	return !done
}

// RecordOutcome applies one ProcessingResult to the state and saves at the
// configured cadence. Save errors here are logged, not returned: the next
// cadence (or the shutdown save) retries.
func (s *Store) RecordOutcome(res domain.ProcessingResult) {
	s.mu.Lock()
	path := res.Item.Path
	if res.OK() {
		if _, wasFailed := s.failed[path]; wasFailed {
			delete(s.failed, path)
			s.stats.Failed--
		}
		if _, dup := s.processed[path]; !dup {
			s.processed[path] = struct{}{}
			s.stats.Succeeded++
		}
		s.stats.RowsExtracted += int64(len(res.Rows))
	} else {
		prev, wasFailed := s.failed[path]
		rec := FailureRecord{
			ErrorCode:    string(res.Err.Kind),
			ErrorMessage: res.Err.Message,
			Timestamp:    time.Now().UTC(),
		}
		if wasFailed {
			rec.RetryCount = prev.RetryCount + 1
		} else {
			s.stats.Failed++
		}
		s.failed[path] = rec
	}
	s.sinceSave++
	due := s.sinceSave >= s.saveEvery
	if due {
		s.sinceSave = 0
	}
	s.mu.Unlock()

	if due {
		if err := s.Save(); err != nil {
			slog.Warn("periodic checkpoint save failed", "error", err)
		}
	}
}

// Save writes the full state atomically: marshal to a temp file in the
// checkpoint's directory, fsync, then rename over the canonical path. The
// whole sequence runs under the advisory file lock so concurrent saves
// cannot interleave.
func (s *Store) Save() error {
	s.mu.Lock()
	st := fileState{
		Version:        formatVersion,
		ProcessedFiles: make([]string, 0, len(s.processed)),
		FailedFiles:    make(map[string]FailureRecord, len(s.failed)),
		Stats:          s.stats,
		Timestamp:      time.Now().UTC(),
	}
	for p := range s.processed {
		st.ProcessedFiles = append(st.ProcessedFiles, p)
	}
	sort.Strings(st.ProcessedFiles)
	for p, rec := range s.failed {
		st.FailedFiles[p] = rec
	}
	st.Stats.LastSavedAt = st.Timestamp
	s.stats.LastSavedAt = st.Timestamp
	s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	unlock, err := acquireLock(context.Background(), s.path+".lock")
	if err != nil {
		return fmt.Errorf("lock checkpoint: %w", err)
	}
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// FailedEligibleForRetry returns the failed paths whose error kind is
// transient and whose retry count is below maxRetries, sorted for
// deterministic feeding order.
func (s *Store) FailedEligibleForRetry(maxRetries int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for p, rec := range s.failed {
		if domain.ErrorKind(rec.ErrorCode).Permanent() {
			continue
		}
		if rec.RetryCount >= maxRetries {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FailedByKind groups the currently failed paths by error kind, for the
// end-of-run failure report.
func (s *Store) FailedByKind() map[domain.ErrorKind][]FailedPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ErrorKind][]FailedPath)
	for p, rec := range s.failed {
		k := domain.ErrorKind(rec.ErrorCode)
		out[k] = append(out[k], FailedPath{Path: p, Record: rec})
	}
	for _, v := range out {
		sort.Slice(v, func(i, j int) bool { return v[i].Path < v[j].Path })
	}
	return out
}

// FailedPath pairs a failed path with its record.
type FailedPath struct {
	Path   string
	Record FailureRecord
}

// AttemptCount returns how many times path has already been attempted and
// failed: 0 for a never-failed path, otherwise retries so far plus one.
func (s *Store) AttemptCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.failed[path]; ok {
		return rec.RetryCount + 1
	}
	return 0
}

// Counts returns the current succeeded/failed totals.
func (s *Store) Counts() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed), len(s.failed)
}

// Snapshot returns a copy of the aggregate counters.
func (s *Store) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// MarkStarted stamps the run start time; a fresh run also resets counters.
func (s *Store) MarkStarted(fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fresh {
		s.processed = make(map[string]struct{})
		s.failed = make(map[string]FailureRecord)
		s.stats = Stats{}
	}
	s.stats.StartedAt = time.Now().UTC()
}
