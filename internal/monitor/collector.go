// Package monitor holds the background jobs that feed and maintain the
// metrics store: collectors, the processing sweep, retention cleanup and
// the system health check.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/retry"
	"github.com/br00tm/infrawatch/internal/telemetry"
)

const (
	defaultMaxConcurrent = 5
	retryAttempts        = 3
	retryDelay           = time.Second
)

// Collector produces one batch of metric samples per call.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]models.Metric, error)
}

// MetricWriter is the write side of the metrics repository.
type MetricWriter interface {
	InsertBatch(ctx context.Context, metrics []models.Metric) (int, error)
}

// CollectJob returns a scheduler run function that stores everything c
// collects. A partial batch is stored even when Collect also reports an error.
func CollectJob(c Collector, store MetricWriter, log zerolog.Logger, metrics *telemetry.Metrics) func(ctx context.Context) error {
	log = log.With().Str("collector", c.Name()).Logger()
	return func(ctx context.Context) error {
		samples, err := c.Collect(ctx)
		if err != nil && len(samples) == 0 {
			return fmt.Errorf("collector %s: %w", c.Name(), err)
		}
		if err != nil {
			log.Warn().Err(err).Int("samples", len(samples)).Msg("Collection partially failed")
		}

		n, insertErr := store.InsertBatch(ctx, samples)
		if insertErr != nil {
			return fmt.Errorf("collector %s: %w", c.Name(), insertErr)
		}
		metrics.Ingested("metric", n)
		log.Debug().Int("samples", n).Msg("Samples stored")
		return nil
	}
}

// dockerAPI is the subset of the docker client used for stats.
type dockerAPI interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error)
}

// DockerCollector reads one stats snapshot per running container.
type DockerCollector struct {
	docker dockerAPI
	sem    *semaphore.Weighted
	retry  retry.Policy
	log    zerolog.Logger
	now    func() time.Time
}

func NewDockerCollector(maxConcurrent int, log zerolog.Logger) (*DockerCollector, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerCollector(cli, maxConcurrent, log), nil
}

func newDockerCollector(api dockerAPI, maxConcurrent int, log zerolog.Logger) *DockerCollector {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &DockerCollector{
		docker: api,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		retry:  retry.Policy{MaxAttempts: retryAttempts, Backoff: retry.Fixed(retryDelay)},
		log:    log.With().Str("component", "docker_collector").Logger(),
		now:    time.Now,
	}
}

func (c *DockerCollector) Name() string { return "docker" }

func (c *DockerCollector) Collect(ctx context.Context) ([]models.Metric, error) {
	containers, err := c.docker.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		samples []models.Metric
		errs    []error
	)
	for _, container := range containers {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(container types.Container) {
			defer wg.Done()
			defer c.sem.Release(1)

			stats, err := c.containerStatsWithRetry(ctx, container.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("container %s: %w", shortID(container.ID), err))
				return
			}
			samples = append(samples, c.toMetrics(container, stats)...)
		}(container)
	}
	wg.Wait()

	c.log.Debug().Int("containers", len(containers)).Int("samples", len(samples)).Int("errors", len(errs)).Msg("Docker stats collected")
	return samples, errors.Join(errs...)
}

func (c *DockerCollector) containerStatsWithRetry(ctx context.Context, id string) (*types.StatsJSON, error) {
	var stats *types.StatsJSON
	err := c.retry.Do(ctx, "container_stats", func(ctx context.Context) error {
		s, err := c.containerStats(ctx, id)
		if err != nil {
			return err
		}
		stats = s
		return nil
	})
	return stats, err
}

func (c *DockerCollector) containerStats(ctx context.Context, id string) (*types.StatsJSON, error) {
	resp, err := c.docker.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return &stats, nil
}

func (c *DockerCollector) toMetrics(container types.Container, stats *types.StatsJSON) []models.Metric {
	name := containerName(container)
	labels := models.Labels{
		"container_id":   shortID(container.ID),
		"container_name": name,
		"image":          container.Image,
	}
	now := c.now().UTC()

	var diskIO uint64
	for _, s := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(s.Op) {
		case "read", "write":
			diskIO += s.Value
		}
	}

	sample := func(metric string, metricType models.MetricType, value float64, unit string) models.Metric {
		return models.Metric{
			Name:       metric,
			Value:      value,
			Timestamp:  now,
			MetricType: metricType,
			Unit:       unit,
			Source:     name,
			Labels:     labels.Clone(),
		}
	}

	return []models.Metric{
		sample("cpu_usage", models.MetricTypeCPU, calculateCPUPercentUnix(stats), "percent"),
		sample("memory_usage", models.MetricTypeMemory, calculateMemoryPercent(stats), "percent"),
		sample("network_rx_bytes", models.MetricTypeNetwork, float64(calculateNetworkRx(stats.Networks)), "bytes"),
		sample("network_tx_bytes", models.MetricTypeNetwork, float64(calculateNetworkTx(stats.Networks)), "bytes"),
		sample("disk_io_bytes", models.MetricTypeDisk, float64(diskIO), "bytes"),
	}
}

func calculateCPUPercentUnix(stats *types.StatsJSON) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if systemDelta > 0 && cpuDelta > 0 {
		return (cpuDelta / systemDelta) * cpus * 100.0
	}
	return 0
}

func calculateMemoryPercent(stats *types.StatsJSON) float64 {
	if stats.MemoryStats.Limit == 0 {
		return 0
	}
	return float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100.0
}

func calculateNetworkRx(networks map[string]types.NetworkStats) uint64 {
	var rx uint64
	for _, network := range networks {
		rx += network.RxBytes
	}
	return rx
}

func calculateNetworkTx(networks map[string]types.NetworkStats) uint64 {
	var tx uint64
	for _, network := range networks {
		tx += network.TxBytes
	}
	return tx
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	return shortID(c.ID)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
