package slave

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fourdrec/fourdrec/internal/bus"
)

// StatsCollector gathers host-level resource usage for SLAVE_STATUS
// heartbeats. Each metric is best effort; a probe failure leaves its field
// zero rather than suppressing the report.
type StatsCollector struct {
	hostname string
	drives   []string
}

// NewStatsCollector builds a collector reporting the given record drives.
func NewStatsCollector(hostname string, drives []string) *StatsCollector {
	return &StatsCollector{hostname: hostname, drives: drives}
}

// Collect gathers current usage. CPU percent is measured against the
// previous call, so the first report after start reads zero.
func (c *StatsCollector) Collect(ctx context.Context) bus.SlaveStatus {
	status := bus.SlaveStatus{Hostname: c.hostname}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status.MemoryPercent = memInfo.UsedPercent
	}
	for _, drive := range c.drives {
		usage, err := disk.UsageWithContext(ctx, drive)
		if err != nil {
			continue
		}
		status.Disks = append(status.Disks, bus.DiskUsage{
			Path:        drive,
			UsedPercent: usage.UsedPercent,
			FreeBytes:   usage.Free,
		})
	}
	return status
}
