package observability

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot is the payload GET /health reports alongside
// backing-store connectivity: goroutine count, memory, and CPU/load,
// per spec §6. Grounded on the teacher's gopsutil usage in
// `internal/api/middleware/cpu_optimization.go`
// (`cpu.Percent`/`cpu.Times`).
type ResourceSnapshot struct {
	Goroutines     int       `json:"goroutines"`
	MemAllocBytes  uint64    `json:"memAllocBytes"`
	MemTotalBytes  uint64    `json:"memTotalBytes"`
	MemUsedPercent float64   `json:"memUsedPercent"`
	CPUPercent     float64   `json:"cpuPercent"`
	LoadAverage1   float64   `json:"loadAverage1"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// CaptureResourceSnapshot gathers a point-in-time resource reading,
// bounded by ctx's deadline. Individual collector failures (e.g. load
// average is unsupported on some platforms) are tolerated — the
// snapshot degrades gracefully rather than failing the health check.
func CaptureResourceSnapshot(ctx context.Context) ResourceSnapshot {
	snap := ResourceSnapshot{
		Goroutines: runtime.NumGoroutine(),
		CapturedAt: time.Now(),
	}

	var rtm runtime.MemStats
	runtime.ReadMemStats(&rtm)
	snap.MemAllocBytes = rtm.Alloc

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemTotalBytes = vm.Total
		snap.MemUsedPercent = vm.UsedPercent
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAverage1 = avg.Load1
	}

	return snap
}
