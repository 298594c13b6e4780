package resource

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Reservations taken off the top of declared capacity before workers are
// sized. Values in megabytes unless noted.
const (
	defaultWriters = 2
	reservedCores  = 2 // monitor + OS overhead, on top of writer cores

	osReservedMB     = 4096
	writerPoolMB     = 2048
	workerMemFloorMB = 256
	workerMemCeilMB  = 1024
)

// Plan is the sizing decision for one run.
type Plan struct {
	Workers          int
	Writers          int
	WorkerMemLimitMB int
}

// Compute sizes the worker and writer pools from declared host capacity.
// Pure function: absurd inputs degrade to minimums rather than erroring.
func Compute(cores int, ramMB int) Plan {
	if cores < 1 {
		cores = 1
	}
	if ramMB < 1 {
		ramMB = 1
	}

	writers := defaultWriters
	if writers > cores {
		writers = 1
	}

	workers := cores - writers - reservedCores
	if workers < 1 {
		workers = 1
	}

	available := ramMB - osReservedMB - writerPoolMB
	perWorker := available / workers
	if perWorker < workerMemFloorMB {
		perWorker = workerMemFloorMB
	}
	if perWorker > workerMemCeilMB {
		perWorker = workerMemCeilMB
	}

	return Plan{
		Workers:          workers,
		Writers:          writers,
		WorkerMemLimitMB: perWorker,
	}
}

// Detect reads host capacity and returns the computed plan. Falls back to
// runtime.NumCPU and a conservative RAM guess when probing fails (e.g. in
// restricted containers).
func Detect() Plan {
	cores, err := cpu.Counts(true)
	if err != nil || cores < 1 {
		cores = runtime.NumCPU()
	}

	ramMB := 8192
	if vm, err := mem.VirtualMemory(); err == nil {
		ramMB = int(vm.Total / (1024 * 1024))
	}

	return Compute(cores, ramMB)
}
