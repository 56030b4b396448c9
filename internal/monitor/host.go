package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/br00tm/infrawatch/internal/models"
)

const cpuSampleInterval = 500 * time.Millisecond

// hostStats reads percentages from the local machine.
type hostStats interface {
	Hostname(ctx context.Context) (string, error)
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
}

type gopsutilStats struct{}

func (gopsutilStats) Hostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	return info.Hostname, nil
}

func (gopsutilStats) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("no cpu sample")
	}
	return pct[0], nil
}

func (gopsutilStats) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (gopsutilStats) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// HostCollector reports node cpu_usage, memory_usage and disk_usage.
type HostCollector struct {
	stats    hostStats
	diskPath string
	now      func() time.Time
}

func NewHostCollector() *HostCollector {
	return &HostCollector{stats: gopsutilStats{}, diskPath: "/", now: time.Now}
}

func (c *HostCollector) Name() string { return "host" }

// Collect returns whichever readings succeeded, with the first failure.
func (c *HostCollector) Collect(ctx context.Context) ([]models.Metric, error) {
	source, err := c.stats.Hostname(ctx)
	if err != nil || source == "" {
		source = "localhost"
	}
	now := c.now().UTC()

	readings := []struct {
		name       string
		metricType models.MetricType
		read       func() (float64, error)
	}{
		{"cpu_usage", models.MetricTypeCPU, func() (float64, error) { return c.stats.CPUPercent(ctx) }},
		{"memory_usage", models.MetricTypeMemory, func() (float64, error) { return c.stats.MemoryPercent(ctx) }},
		{"disk_usage", models.MetricTypeDisk, func() (float64, error) { return c.stats.DiskPercent(ctx, c.diskPath) }},
	}

	var (
		samples  []models.Metric
		firstErr error
	)
	for _, r := range readings {
		value, err := r.read()
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", r.name, err)
			}
			continue
		}
		samples = append(samples, models.Metric{
			Name:       r.name,
			Value:      value,
			Timestamp:  now,
			MetricType: r.metricType,
			Unit:       "percent",
			Source:     source,
			Labels:     models.Labels{"host": source},
		})
	}
	return samples, firstErr
}
