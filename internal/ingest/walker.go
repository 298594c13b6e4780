package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mfalcone/docmill/internal/domain"
)

// ErrorReporter records a non-fatal enumeration error (unreadable
// directory, vanished file).
type ErrorReporter func(path, stage, errMsg string)

// dirQueue is an unbounded, concurrency-safe queue of directory paths.
// It tracks a pending counter so Walk knows when traversal is complete.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller owns the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int // next item to pop; avoids O(n) re-slicing
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when the queue is closed and empty.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = "" // release the string so GC can collect it
	q.head++
	// Compact once enough items have been consumed so the backing array
	// does not grow without bound on deep trees.
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child directories
// have been pushed. When pending reaches 0 the queue closes.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.Close()
	}
}

// Close releases every blocked Pop. Used on normal completion and on
// cancellation, when pending directories will never be consumed.
func (q *dirQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Walk traverses root concurrently with numWorkers goroutines and sends a
// WorkItem for every regular file whose extension is in includeExts.
// Symlinks and irregular files are skipped; excludePaths prunes both files
// and whole subtrees. Walk closes out when traversal finishes.
func Walk(ctx context.Context, root string, includeExts []string, excludePaths map[string]struct{}, numWorkers int, out chan<- domain.WorkItem, report ErrorReporter) {
	defer close(out)

	exts := make(map[string]struct{}, len(includeExts))
	for _, e := range includeExts {
		exts[strings.ToLower(e)] = struct{}{}
	}

	q := newDirQueue()
	q.pending.Add(1)
	q.Push(root)

	if numWorkers < 1 {
		numWorkers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkerWorker(ctx, q, exts, excludePaths, out, report)
		}()
	}
	wg.Wait()
}

// walkerWorker pops directories from q, enqueues subdirectories
// (incrementing pending first), sends matching files to out, then calls
// q.Done() for the directory it consumed.
func walkerWorker(ctx context.Context, q *dirQueue, exts, excludePaths map[string]struct{}, out chan<- domain.WorkItem, report ErrorReporter) {
	for {
		select {
		case <-ctx.Done():
			q.Close()
			return
		default:
		}

		dir, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			report(dir, "walk", err.Error())
			q.Done()
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if _, excluded := excludePaths[path]; excluded {
				continue
			}

			if entry.IsDir() {
				// Increment BEFORE pushing so pending never hits zero early.
				q.pending.Add(1)
				q.Push(path)
				continue
			}

			if entry.Type()&fs.ModeSymlink != 0 || !entry.Type().IsRegular() {
				continue
			}

			if _, want := exts[strings.ToLower(filepath.Ext(path))]; !want {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				report(path, "walk", err.Error())
				continue
			}

			select {
			case <-ctx.Done():
				q.Close()
				return
			case out <- domain.WorkItem{Path: path, Size: info.Size()}:
			}
		}

		q.Done()
	}
}

// Enumerate runs Walk to completion and returns the collected items. The
// orchestrator enumerates up front so totals are known before feeding.
func Enumerate(ctx context.Context, root string, includeExts, excludePaths []string, numWorkers int, report ErrorReporter) []domain.WorkItem {
	excludes := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		excludes[p] = struct{}{}
	}

	out := make(chan domain.WorkItem, 1000)
	go Walk(ctx, root, includeExts, excludes, numWorkers, out, report)

	var items []domain.WorkItem
	for it := range out {
		items = append(items, it)
	}
	return items
}
