package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfalcone/docmill/internal/domain"
	"github.com/mfalcone/docmill/internal/extract"
)

// WorkerOptions tunes the extraction worker pool.
type WorkerOptions struct {
	ExtractTimeout    time.Duration
	HeartbeatInterval time.Duration
	MemCheck          MemCheck
	// AttemptFor returns how many times path has already been attempted,
	// so retried results carry their history.
	AttemptFor func(path string) int
}

// RunWorkers starts n extraction workers reading from items. Successful
// results are routed to writerIns[workerID%len(writerIns)] so one worker
// always feeds the same writer shard; every outcome (success or failure)
// also goes to outcomes for checkpoint recording. Heartbeats, per-item
// progress, and exit notices go to msgs.
//
// RunWorkers returns when items is closed and drained, or ctx is cancelled.
// Per-file failures never propagate out of a worker; the only way a worker
// leaves early is a tripped memory guard, which frees its slot without
// stopping the pool.
func RunWorkers(
	ctx context.Context,
	n int,
	ex *extract.Registry,
	items <-chan domain.WorkItem,
	writerIns []chan<- domain.ProcessingResult,
	outcomes chan<- domain.ProcessingResult,
	msgs chan<- domain.WorkerMessage,
	opts WorkerOptions,
) {
	var g errgroup.Group
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error {
			w := &worker{
				id:      id,
				shard:   writerIns[id%len(writerIns)],
				ex:      ex,
				items:   items,
				results: outcomes,
				msgs:    msgs,
				opts:    opts,
			}
			w.run(ctx)
			return nil
		})
	}
	g.Wait()
}

type worker struct {
	id      int
	shard   chan<- domain.ProcessingResult
	ex      *extract.Registry
	items   <-chan domain.WorkItem
	results chan<- domain.ProcessingResult
	msgs    chan<- domain.WorkerMessage
	opts    WorkerOptions
}

func (w *worker) run(ctx context.Context) {
	defer w.send(ctx, domain.WorkerMessage{Kind: domain.MsgShutdown, SenderID: w.id, At: time.Now()})

	hb := time.NewTicker(w.opts.HeartbeatInterval)
	defer hb.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			w.send(ctx, domain.WorkerMessage{Kind: domain.MsgHeartbeat, SenderID: w.id, At: time.Now()})
		case item, ok := <-w.items:
			if !ok {
				return
			}
			res := w.process(ctx, item)

			memFatal := false
			if rss, exceeded := w.opts.MemCheck(); exceeded {
				// The in-flight item is recorded as memory-exceeded even if
				// extraction itself succeeded, then this slot exits.
				res = domain.ProcessingResult{
					Item:     item,
					Err:      domain.Errf(domain.KindMemoryExceeded, "resident memory %d bytes over budget", rss),
					Elapsed:  res.Elapsed,
					Attempt:  res.Attempt,
					WorkerID: w.id,
				}
				memFatal = true
				slog.Error("worker memory budget exceeded, releasing slot",
					"worker", w.id, "rss_bytes", rss, "path", item.Path)
			}

			w.deliver(ctx, res)
			if memFatal {
				return
			}
		}
	}
}

// process runs one item through the extractor with timeout and panic
// containment. It always returns a classified result, never panics.
func (w *worker) process(ctx context.Context, item domain.WorkItem) domain.ProcessingResult {
	start := time.Now()
	res := domain.ProcessingResult{
		Item:     item,
		WorkerID: w.id,
		Attempt:  w.opts.AttemptFor(item.Path),
	}

	rows, err := w.extractGuarded(ctx, item.Path)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Err = domain.Classify(err)
		return res
	}
	res.Rows = rows
	return res
}

// extractGuarded invokes the extractor on a separate goroutine so a wedged
// extraction cannot block the worker past its deadline, and converts a
// panic into an error instead of crashing the slot.
func (w *worker) extractGuarded(parent context.Context, path string) ([]domain.ExtractedRow, error) {
	ctx, cancel := context.WithTimeout(parent, w.opts.ExtractTimeout)
	defer cancel()

	type outcome struct {
		rows []domain.ExtractedRow
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()
		rows, err := w.ex.Extract(ctx, path)
		done <- outcome{rows: rows, err: err}
	}()

	select {
	case o := <-done:
		return o.rows, o.err
	case <-ctx.Done():
		// The extraction goroutine is abandoned; extractors check ctx
		// periodically and unwind on their own.
		return nil, ctx.Err()
	}
}

// deliver routes a result: rows to the writer shard on success, the outcome
// to the orchestrator either way, and a progress message to the monitor.
func (w *worker) deliver(ctx context.Context, res domain.ProcessingResult) {
	if res.OK() && len(res.Rows) > 0 {
		select {
		case w.shard <- res:
		case <-ctx.Done():
			return
		}
	}

	select {
	case w.results <- res:
	case <-ctx.Done():
		return
	}

	msg := domain.WorkerMessage{
		Kind:     domain.MsgProgress,
		SenderID: w.id,
		At:       time.Now(),
		Path:     res.Item.Path,
		OK:       res.OK(),
		Rows:     len(res.Rows),
	}
	if res.Err != nil {
		msg.ErrKind = res.Err.Kind
	}
	w.send(ctx, msg)
}

func (w *worker) send(ctx context.Context, msg domain.WorkerMessage) {
	select {
	case w.msgs <- msg:
	case <-ctx.Done():
	}
}
