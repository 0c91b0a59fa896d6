package config

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MaxAutoWorkers caps auto-sized pools. More than 16 parallel range
// requests against a single CDN host stops paying off.
const MaxAutoWorkers = 16

// AutoWorkers picks a worker count from the machine: twice the logical CPU
// count, reduced so that in-flight chunk buffers fit comfortably in
// available memory, capped at MaxAutoWorkers. Falls back to runtime.NumCPU
// when gopsutil cannot read the host stats.
func AutoWorkers(chunkSize int64) int {
	logical, err := cpu.Counts(true)
	if err != nil || logical < 1 {
		logical = runtime.NumCPU()
	}

	workers := logical * 2
	if workers > MaxAutoWorkers {
		workers = MaxAutoWorkers
	}

	if vm, err := mem.VirtualMemory(); err == nil && chunkSize > 0 {
		// Budget at most a quarter of available memory for in-flight chunks.
		byMemory := int(int64(vm.Available) / 4 / chunkSize)
		if byMemory < workers {
			workers = byMemory
		}
	}

	if workers < 1 {
		workers = 1
	}
	return workers
}
