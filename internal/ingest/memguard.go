package ingest

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// MemCheck reports the current resident set size and whether it exceeds
// the configured budget. Workers call it after every item; a true result
// makes the worker record the in-flight item as memory-exceeded and exit
// its slot to shed whatever leaked.
type MemCheck func() (rssBytes uint64, exceeded bool)

// NewMemoryGuard builds a MemCheck that samples this process's RSS via
// gopsutil. Workers are goroutines in one address space, so the budget is
// perWorkerLimitMB across all live worker slots rather than a per-slot
// measurement. A zero limit disables the guard.
func NewMemoryGuard(perWorkerLimitMB, workers int) MemCheck {
	if perWorkerLimitMB <= 0 || workers <= 0 {
		return func() (uint64, bool) { return 0, false }
	}
	budget := uint64(perWorkerLimitMB) * uint64(workers) * 1024 * 1024

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Sampling unavailable (restricted /proc); run unguarded.
		return func() (uint64, bool) { return 0, false }
	}

	return func() (uint64, bool) {
		mi, err := proc.MemoryInfo()
		if err != nil || mi == nil {
			return 0, false
		}
		return mi.RSS, mi.RSS > budget
	}
}
