package ingest

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mfalcone/docmill/internal/domain"
)

// rateWindowSize bounds the rolling throughput window.
const rateWindowSize = 20

// MonitorOptions tunes reporting cadence and liveness detection.
type MonitorOptions struct {
	ReportInterval time.Duration
	// LivenessThreshold flags a worker as silent when nothing has been
	// heard from it for this long.
	LivenessThreshold time.Duration
}

// Snapshot is a point-in-time view of pipeline health, served by the
// status API and logged by the periodic report.
type Snapshot struct {
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	RowsWritten int64     `json:"rows_written"`
	Rate        float64   `json:"files_per_sec"`
	ETA         string    `json:"eta,omitempty"`
	LiveWorkers int       `json:"live_workers"`
	SilentIDs   []int     `json:"silent_workers,omitempty"`
	WriterFatal []string  `json:"writer_fatal,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Monitor is the single consumer of all worker and writer messages. It owns
// every aggregate counter; nothing else mutates them. It takes no
// corrective action, only surfacing health for the orchestrator and the
// operator.
type Monitor struct {
	opts MonitorOptions

	mu          sync.Mutex
	total       int
	processed   int
	succeeded   int
	failed      int
	rowsWritten map[int]int64 // writer shard → rows
	lastSeen    map[int]time.Time
	exited      map[int]bool
	writerSeen  map[int]time.Time
	writerFatal map[int]string
	window      []int // processed-per-interval samples
	lastTick    int   // processed at previous window sample
	startedAt   time.Time
}

// NewMonitor creates a Monitor expecting total work items.
func NewMonitor(total int, opts MonitorOptions) *Monitor {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.LivenessThreshold <= 0 {
		opts.LivenessThreshold = 30 * time.Second
	}
	return &Monitor{
		opts:        opts,
		total:       total,
		rowsWritten: make(map[int]int64),
		lastSeen:    make(map[int]time.Time),
		exited:      make(map[int]bool),
		writerSeen:  make(map[int]time.Time),
		writerFatal: make(map[int]string),
		startedAt:   time.Now(),
	}
}

// Run consumes msgs until the channel is closed, logging a consolidated
// report every ReportInterval, then emits the terminal report.
func (m *Monitor) Run(msgs <-chan domain.WorkerMessage) {
	ticker := time.NewTicker(m.opts.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
			m.report()
		case msg, ok := <-msgs:
			if !ok {
				m.terminalReport()
				return
			}
			m.observe(msg)
		}
	}
}

func (m *Monitor) observe(msg domain.WorkerMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg.Kind {
	case domain.MsgProgress:
		m.lastSeen[msg.SenderID] = msg.At
		m.processed++
		if msg.OK {
			m.succeeded++
		} else {
			m.failed++
		}
	case domain.MsgHeartbeat:
		m.lastSeen[msg.SenderID] = msg.At
	case domain.MsgWriterStatus:
		m.writerSeen[msg.SenderID] = msg.At
		if msg.Fatal {
			m.writerFatal[msg.SenderID] = msg.Detail
		} else {
			m.rowsWritten[msg.SenderID] = msg.RowsWritten
		}
	case domain.MsgShutdown:
		if msg.Writer {
			m.rowsWritten[msg.SenderID] = msg.RowsWritten
			m.writerSeen[msg.SenderID] = msg.At
			return
		}
		m.exited[msg.SenderID] = true
	}
}

// sample appends the current per-interval throughput to the rolling window.
func (m *Monitor) sample() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, m.processed-m.lastTick)
	m.lastTick = m.processed
	if len(m.window) > rateWindowSize {
		m.window = m.window[len(m.window)-rateWindowSize:]
	}
}

// Snapshot returns the current consolidated view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	s := Snapshot{
		Total:     m.total,
		Processed: m.processed,
		Succeeded: m.succeeded,
		Failed:    m.failed,
		StartedAt: m.startedAt,
	}
	for _, n := range m.rowsWritten {
		s.RowsWritten += n
	}

	if len(m.window) > 0 {
		var sum int
		for _, n := range m.window {
			sum += n
		}
		s.Rate = float64(sum) / (float64(len(m.window)) * m.opts.ReportInterval.Seconds())
	}
	if remaining := m.total - m.processed; remaining > 0 && s.Rate > 0 {
		s.ETA = (time.Duration(float64(remaining)/s.Rate) * time.Second).Round(time.Second).String()
	}

	now := time.Now()
	for id, seen := range m.lastSeen {
		if m.exited[id] {
			continue
		}
		s.LiveWorkers++
		if now.Sub(seen) > m.opts.LivenessThreshold {
			s.SilentIDs = append(s.SilentIDs, id)
		}
	}
	sort.Ints(s.SilentIDs)
	for id, detail := range m.writerFatal {
		s.WriterFatal = append(s.WriterFatal, fmt.Sprintf("writer %d: %s", id, detail))
	}
	sort.Strings(s.WriterFatal)
	return s
}

func (m *Monitor) report() {
	s := m.Snapshot()
	pct := 0.0
	if s.Total > 0 {
		pct = 100 * float64(s.Processed) / float64(s.Total)
	}
	args := []any{
		"percent", int(pct),
		"processed", s.Processed,
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"rows", humanize.Comma(s.RowsWritten),
		"rate_per_sec", s.Rate,
	}
	if s.ETA != "" {
		args = append(args, "eta", s.ETA)
	}
	if len(s.SilentIDs) > 0 {
		args = append(args, "silent_workers", s.SilentIDs)
	}
	if len(s.WriterFatal) > 0 {
		args = append(args, "writer_fatal", s.WriterFatal)
		slog.Error("ingest progress", args...)
		return
	}
	slog.Info("ingest progress", args...)
}

func (m *Monitor) terminalReport() {
	s := m.Snapshot()
	elapsed := time.Since(s.StartedAt).Round(time.Second)
	successRate := 0.0
	if s.Processed > 0 {
		successRate = 100 * float64(s.Succeeded) / float64(s.Processed)
	}
	slog.Info("ingest finished",
		"elapsed", elapsed,
		"processed", s.Processed,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"success_rate_pct", successRate,
		"rows_written", humanize.Comma(s.RowsWritten))
}
