package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
)

// MaxWindowSamples bounds how many samples one condition looks at.
const MaxWindowSamples = 10

type Sample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricStore is the read side of the metrics repository.
type MetricStore interface {
	Recent(ctx context.Context, name string, since time.Time, scope database.Scope, limit int) ([]models.Metric, error)
}

type WindowQuery struct {
	MetricName string
	Since      time.Duration
	// At is the end of the window; zero means now.
	At        time.Time
	Namespace string
	Cluster   string
}

type WindowReader struct {
	store MetricStore
	limit int
	now   func() time.Time
}

func NewWindowReader(store MetricStore) *WindowReader {
	return &WindowReader{store: store, limit: MaxWindowSamples, now: time.Now}
}

// ReadWindow returns the newest samples of q.MetricName inside the window,
// newest first. An empty window is not an error.
func (r *WindowReader) ReadWindow(ctx context.Context, q WindowQuery) ([]Sample, error) {
	at := q.At
	if at.IsZero() {
		at = r.now()
	}
	since := at.Add(-q.Since).UTC()

	rows, err := r.store.Recent(ctx, q.MetricName, since, database.Scope{
		Namespace: q.Namespace,
		Cluster:   q.Cluster,
	}, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read window for %s: %w", q.MetricName, err)
	}

	samples := make([]Sample, 0, len(rows))
	for _, m := range rows {
		samples = append(samples, Sample{Value: m.Value, Timestamp: m.Timestamp.UTC()})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.After(samples[j].Timestamp)
	})
	if len(samples) > r.limit {
		samples = samples[:r.limit]
	}
	return samples, nil
}
