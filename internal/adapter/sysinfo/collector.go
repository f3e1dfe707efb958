package sysinfo

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot is the resource usage of the console process and its host.
type Snapshot struct {
	CollectedAt   time.Time `json:"collected_at"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSSMB   float64   `json:"memory_rss_mb"`
	Goroutines    int       `json:"goroutines"`
	NetBytesSent  uint64    `json:"net_bytes_sent"`
	NetBytesRecv  uint64    `json:"net_bytes_recv"`
	NetErrorsIn   uint64    `json:"net_errors_in"`
	NetErrorsOut  uint64    `json:"net_errors_out"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// Collector samples the current process.
type Collector struct {
	proc    *process.Process
	started time.Time
	now     func() time.Time
}

func NewCollector() (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}
	return &Collector{proc: proc, started: time.Now(), now: time.Now}, nil
}

// Collect returns a fresh snapshot. Network counters are summed over all
// interfaces; a failure there leaves them at zero.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		CollectedAt:   c.now().UTC(),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(c.now().Sub(c.started).Seconds()),
	}

	cpu, err := c.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("failed to read CPU usage: %w", err)
	}
	snap.CPUPercent = cpu

	mem, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("failed to read memory usage: %w", err)
	}
	snap.MemoryRSSMB = float64(mem.RSS) / (1024 * 1024)

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		snap.NetBytesSent = counters[0].BytesSent
		snap.NetBytesRecv = counters[0].BytesRecv
		snap.NetErrorsIn = counters[0].Errin
		snap.NetErrorsOut = counters[0].Errout
	}

	return snap, nil
}
