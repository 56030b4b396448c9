package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sync/errgroup"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/models"
)

const (
	defaultScrapeTimeout = 10 * time.Second
	maxConcurrentScrapes = 4
)

// PrometheusCollector scrapes text exposition endpoints. Counter, gauge and
// untyped samples become custom metrics; histograms and summaries are skipped.
type PrometheusCollector struct {
	targets []config.PrometheusTarget
	client  *http.Client
	now     func() time.Time
}

func NewPrometheusCollector(targets []config.PrometheusTarget, client *http.Client) *PrometheusCollector {
	if client == nil {
		client = &http.Client{Timeout: defaultScrapeTimeout}
	}
	return &PrometheusCollector{targets: targets, client: client, now: time.Now}
}

func (c *PrometheusCollector) Name() string { return "prometheus" }

// Collect scrapes every target concurrently. A failing target does not
// discard samples from the others.
func (c *PrometheusCollector) Collect(ctx context.Context) ([]models.Metric, error) {
	var (
		mu      sync.Mutex
		samples []models.Metric
		errs    []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentScrapes)
	for _, target := range c.targets {
		target := target
		g.Go(func() error {
			got, err := c.scrape(ctx, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("target %s: %w", targetName(target), err))
				return nil
			}
			samples = append(samples, got...)
			return nil
		})
	}
	_ = g.Wait()

	return samples, errors.Join(errs...)
}

func (c *PrometheusCollector) scrape(ctx context.Context, target config.PrometheusTarget) ([]models.Metric, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	families, err := parseExposition(resp.Body)
	if err != nil {
		return nil, err
	}
	return familiesToMetrics(families, target, c.now().UTC()), nil
}

// parseExposition accepts a partial parse as long as something was decoded.
func parseExposition(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil && len(families) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return families, nil
}

func familiesToMetrics(families map[string]*dto.MetricFamily, target config.PrometheusTarget, now time.Time) []models.Metric {
	source := targetName(target)
	var out []models.Metric
	for name, family := range families {
		for _, m := range family.GetMetric() {
			var value float64
			switch {
			case m.Counter != nil:
				value = m.Counter.GetValue()
			case m.Gauge != nil:
				value = m.Gauge.GetValue()
			case m.Untyped != nil:
				value = m.Untyped.GetValue()
			default:
				continue
			}

			labels := models.Labels{"target": source}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}

			ts := now
			if m.TimestampMs != nil {
				ts = time.UnixMilli(m.GetTimestampMs()).UTC()
			}
			out = append(out, models.Metric{
				Name:       name,
				Value:      value,
				Timestamp:  ts,
				MetricType: models.MetricTypeCustom,
				Source:     source,
				Namespace:  target.Namespace,
				Cluster:    target.Cluster,
				Labels:     labels,
			})
		}
	}
	return out
}

func targetName(t config.PrometheusTarget) string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}
