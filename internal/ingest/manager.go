package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfalcone/docmill/internal/checkpoint"
	"github.com/mfalcone/docmill/internal/domain"
	"github.com/mfalcone/docmill/internal/extract"
)

// ErrAlreadyRunning is returned when a run is started while one is in
// progress (possible in watch mode when a run outlasts its schedule slot).
var ErrAlreadyRunning = errors.New("an ingest run is already in progress")

// Mode selects what a run processes.
type Mode string

const (
	// ModeFresh processes every enumerated file and resets counters.
	ModeFresh Mode = "fresh"
	// ModeResume skips files already in the completed set.
	ModeResume Mode = "resume"
	// ModeRetryFailed processes only retry-eligible failed files.
	ModeRetryFailed Mode = "retry-failed"
)

// Options wires a Manager. Workers and Writers must be at least 1; the
// caller is expected to have run them through the resource planner.
type Options struct {
	InputDir     string
	IncludeExts  []string
	ExcludePaths []string

	Workers          int
	Writers          int
	WorkerMemLimitMB int

	BatchSize         int
	FlushInterval     time.Duration
	ExtractTimeout    time.Duration
	MaxRetries        int
	HeartbeatInterval time.Duration
	ReportInterval    time.Duration

	ReportDir string
}

// Summary is the terminal outcome of one run.
type Summary struct {
	RunID       int64
	Mode        Mode
	Total       int
	Succeeded   int
	Failed      int
	RowsWritten int64
	Interrupted bool
	ReportPath  string // grouped failure report; empty when nothing failed
}

// Manager owns the top-level completion contract: it decides what a run
// processes, wires the pools together, records outcomes into the
// checkpoint, and guarantees a checkpoint save on both completion and
// interruption.
type Manager struct {
	db   *sql.DB
	cp   *checkpoint.Store
	reg  *extract.Registry
	opts Options

	mu      sync.Mutex
	running bool
	monitor *Monitor
}

// NewManager creates a Manager.
func NewManager(db *sql.DB, cp *checkpoint.Store, reg *extract.Registry, opts Options) *Manager {
	return &Manager{db: db, cp: cp, reg: reg, opts: opts}
}

// Snapshot returns the live monitor view of the active run, or false when
// no run is active.
func (m *Manager) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.monitor == nil {
		return Snapshot{}, false
	}
	return m.monitor.Snapshot(), true
}

// Run executes one complete ingest run in the given mode and blocks until
// it reaches a terminal state. The checkpoint is saved before returning in
// every case, so a later resume picks up exactly where this run stopped.
func (m *Manager) Run(ctx context.Context, mode Mode) (Summary, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Summary{}, ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.monitor = nil
		m.mu.Unlock()
	}()

	if err := m.cp.Load(); err != nil {
		return Summary{}, fmt.Errorf("load checkpoint: %w", err)
	}
	m.cp.MarkStarted(mode == ModeFresh)

	startedAt := time.Now()
	runID, err := insertRunRecord(m.db, startedAt, mode)
	if err != nil {
		return Summary{}, fmt.Errorf("create run record: %w", err)
	}

	items := m.enumerate(ctx, mode)
	total := len(items)
	slog.Info("ingest run starting", "run", runID, "mode", mode,
		"files", total, "workers", m.opts.Workers, "writers", m.opts.Writers)

	monitor := NewMonitor(total, MonitorOptions{
		ReportInterval:    m.opts.ReportInterval,
		LivenessThreshold: 3 * m.opts.HeartbeatInterval,
	})
	m.mu.Lock()
	m.monitor = monitor
	m.mu.Unlock()

	msgs := make(chan domain.WorkerMessage, 1000)
	monDone := make(chan struct{})
	go func() {
		monitor.Run(msgs)
		close(monDone)
	}()

	// One private inbound channel per writer shard. The group context feeds
	// everything downstream: a writer escalating fatal cancels the feeder
	// and the workers, so the run still drains to a terminal state instead
	// of wedging behind the dead shard's channel.
	writersGrp, runCtx := errgroup.WithContext(ctx)
	writerChans := make([]chan domain.ProcessingResult, m.opts.Writers)
	writerIns := make([]chan<- domain.ProcessingResult, m.opts.Writers)
	var statsMu sync.Mutex
	var rowsWritten int64
	for i := range writerChans {
		ch := make(chan domain.ProcessingResult, 256)
		writerChans[i] = ch
		writerIns[i] = ch
		shard := i
		writersGrp.Go(func() error {
			stats, err := RunWriter(runCtx, m.db, runID, shard, ch, msgs, WriterOptions{
				BatchSize:     m.opts.BatchSize,
				FlushInterval: m.opts.FlushInterval,
			})
			statsMu.Lock()
			rowsWritten += stats.RowsWritten
			statsMu.Unlock()
			return err
		})
	}

	// Feed enumerated items to the worker pool.
	itemCh := make(chan domain.WorkItem, 1000)
	go func() {
		defer close(itemCh)
		for _, it := range items {
			select {
			case itemCh <- it:
			case <-runCtx.Done():
				return
			}
		}
	}()

	outcomes := make(chan domain.ProcessingResult, 1000)
	workersDone := make(chan struct{})
	go func() {
		RunWorkers(runCtx, m.opts.Workers, m.reg, itemCh, writerIns, outcomes, msgs, WorkerOptions{
			ExtractTimeout:    m.opts.ExtractTimeout,
			HeartbeatInterval: m.opts.HeartbeatInterval,
			MemCheck:          NewMemoryGuard(m.opts.WorkerMemLimitMB, m.opts.Workers),
			AttemptFor:        m.cp.AttemptCount,
		})
		close(workersDone)
	}()

	// Writers shut down by channel close once every worker has exited.
	go func() {
		<-workersDone
		for _, ch := range writerChans {
			close(ch)
		}
		close(outcomes)
	}()

	for res := range outcomes {
		m.cp.RecordOutcome(res)
	}

	writerErr := writersGrp.Wait()
	close(msgs)
	<-monDone

	interrupted := ctx.Err() != nil
	succeeded, failed := m.cp.Counts()

	// The shutdown save is unconditional: resume depends on it. A failure
	// here is run-fatal, because the next resume would silently reprocess
	// everything this run completed.
	saveErr := m.cp.Save()
	if saveErr != nil {
		slog.Error("final checkpoint save failed", "error", saveErr)
	}

	status := "completed"
	switch {
	case interrupted:
		status = "cancelled"
	case writerErr != nil, saveErr != nil:
		status = "failed"
	}

	finishedAt := time.Now()
	if err := finaliseRunRecord(m.db, runID, status, finishedAt, startedAt, total, succeeded, failed, rowsWritten); err != nil {
		slog.Error("finalise run record", "run", runID, "error", err)
	}

	summary := Summary{
		RunID:       runID,
		Mode:        mode,
		Total:       total,
		Succeeded:   succeeded,
		Failed:      failed,
		RowsWritten: rowsWritten,
		Interrupted: interrupted,
	}

	if byKind := m.cp.FailedByKind(); len(byKind) > 0 {
		path, err := WriteFailureReport(m.opts.ReportDir, runID, byKind)
		if err != nil {
			slog.Error("write failure report", "error", err)
		} else {
			summary.ReportPath = path
			slog.Warn("failures recorded", "count", failed, "report", path)
		}
	}

	switch {
	case interrupted:
		return summary, ctx.Err()
	case writerErr != nil:
		return summary, writerErr
	case saveErr != nil:
		return summary, fmt.Errorf("final checkpoint save: %w", saveErr)
	}
	return summary, nil
}

// enumerate builds the run's work list according to mode.
func (m *Manager) enumerate(ctx context.Context, mode Mode) []domain.WorkItem {
	report := func(path, stage, errMsg string) {
		slog.Warn("enumeration error", "path", path, "stage", stage, "error", errMsg)
	}

	if mode == ModeRetryFailed {
		paths := m.cp.FailedEligibleForRetry(m.opts.MaxRetries)
		items := make([]domain.WorkItem, 0, len(paths))
		for _, p := range paths {
			it := domain.WorkItem{Path: p}
			if info, err := os.Stat(p); err == nil {
				it.Size = info.Size()
			}
			// A now-missing file is still fed: the worker classifies it as
			// permanent not_found, settling its checkpoint entry.
			items = append(items, it)
		}
		return items
	}

	all := Enumerate(ctx, m.opts.InputDir, m.opts.IncludeExts, m.opts.ExcludePaths, 4, report)
	if mode == ModeFresh {
		return all
	}
	items := all[:0]
	for _, it := range all {
		if m.cp.ShouldProcess(it.Path) {
			items = append(items, it)
		}
	}
	return items
}

// ── run-history helpers ──────────────────────────────────────────────────────

func insertRunRecord(db *sql.DB, startedAt time.Time, mode Mode) (int64, error) {
	now := startedAt.Unix()
	res, err := db.Exec(`
		INSERT INTO ingest_history (started_at, status, mode, created_at)
		VALUES (?, 'running', ?, ?)`,
		now, string(mode), now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func finaliseRunRecord(db *sql.DB, runID int64, status string, finishedAt, startedAt time.Time, total, succeeded, failed int, rowsWritten int64) error {
	_, err := db.Exec(`
		UPDATE ingest_history
		SET status           = ?,
		    finished_at      = ?,
		    duration_seconds = ?,
		    files_total      = ?,
		    files_succeeded  = ?,
		    files_failed     = ?,
		    rows_written     = ?
		WHERE id = ?`,
		status, finishedAt.Unix(), int64(finishedAt.Sub(startedAt).Seconds()),
		total, succeeded, failed, rowsWritten, runID)
	return err
}

// MarkStaleRunsFailed marks ingest_history rows still 'running' as
// 'failed'. Called once at startup in case a previous process crashed
// mid-run.
func MarkStaleRunsFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE ingest_history
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale runs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale runs as failed", "count", n)
	}
	return nil
}
