package alert

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/queue"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type memMetrics struct {
	samples []models.Metric
}

func (m *memMetrics) add(name string, age time.Duration, values ...float64) {
	for i, v := range values {
		m.samples = append(m.samples, models.Metric{
			Name:      name,
			Value:     v,
			Timestamp: testNow.Add(-age - time.Duration(i)*time.Second),
		})
	}
}

func (m *memMetrics) Recent(_ context.Context, name string, since time.Time, scope database.Scope, limit int) ([]models.Metric, error) {
	switch name {
	case "broken":
		return nil, errors.New("store unavailable")
	case "explode":
		panic("corrupt sample")
	}
	var out []models.Metric
	for _, s := range m.samples {
		if s.Name != name || s.Timestamp.Before(since) {
			continue
		}
		if scope.Namespace != "" && models.ScopeOr(s.Namespace) != scope.Namespace {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRules struct {
	mu      sync.Mutex
	rules   []models.AlertRule
	alerts  []models.Alert
	listErr error
	hang    bool
}

func (m *memRules) ListEnabled(ctx context.Context) ([]models.AlertRule, error) {
	if m.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.AlertRule
	for _, r := range m.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRules) Fire(_ context.Context, rule *models.AlertRule, alert *models.Alert, firedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID != rule.ID {
			continue
		}
		if m.rules[i].TriggerCount != rule.TriggerCount {
			return database.ErrRuleAlreadyFired
		}
		m.rules[i].TriggerCount++
		m.rules[i].LastTriggered = &firedAt
		alert.ID = uint(len(m.alerts) + 1)
		m.alerts = append(m.alerts, *alert)
		rule.TriggerCount++
		rule.LastTriggered = &firedAt
		return nil
	}
	return database.ErrNotFound
}

func (m *memRules) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

func cpuRule(id uint) models.AlertRule {
	return models.AlertRule{
		ID:       id,
		Name:     "High CPU",
		Enabled:  true,
		Severity: models.SeverityCritical,
		Conditions: []models.AlertCondition{
			{MetricName: "cpu_usage", Operator: models.OperatorGT, Threshold: 80, DurationSeconds: 60},
		},
		LabelsFilter:         models.Labels{"team": "infra"},
		NotificationChannels: []models.ChannelKind{models.ChannelDiscord},
		CooldownMinutes:      5,
	}
}

func newTestEngine(rules *memRules, metrics *memMetrics, q queue.Queue) *Engine {
	return NewEngine(rules, metrics, q, zerolog.Nop(), WithClock(func() time.Time { return testNow }))
}

func TestEvaluateOperators(t *testing.T) {
	samples := []Sample{{Value: 70}, {Value: 80}}

	cases := []struct {
		op        models.Operator
		threshold float64
		want      bool
	}{
		{models.OperatorGT, 80, false},
		{models.OperatorLT, 80, true},
		{models.OperatorGTE, 75, true},
		{models.OperatorLTE, 75, true},
		{models.OperatorEQ, 75, true},
		{models.OperatorEQ, 75.0001, false},
		{models.OperatorNE, 75, false},
		{models.OperatorNE, 74, true},
		{models.Operator("between"), 75, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Evaluate(samples, tc.op, tc.threshold), "%s %v", tc.op, tc.threshold)
	}
}

func TestEvaluateWithoutSamplesIsNeverMet(t *testing.T) {
	for _, op := range []models.Operator{
		models.OperatorGT, models.OperatorLT, models.OperatorGTE,
		models.OperatorLTE, models.OperatorEQ, models.OperatorNE,
	} {
		assert.False(t, Evaluate(nil, op, 0), string(op))
		assert.False(t, Evaluate([]Sample{}, op, -1e9), string(op))
	}
	_, ok := Mean(nil)
	assert.False(t, ok)
}

func TestReadWindow(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
	metrics.add("cpu_usage", 5*time.Minute, 99)
	reader := NewWindowReader(metrics)

	samples, err := reader.ReadWindow(context.Background(), WindowQuery{MetricName: "cpu_usage", Since: time.Minute, At: testNow})
	require.NoError(t, err)
	require.Len(t, samples, MaxWindowSamples)
	assert.Equal(t, 1.0, samples[0].Value)
	assert.True(t, samples[0].Timestamp.After(samples[1].Timestamp))

	empty, err := reader.ReadWindow(context.Background(), WindowQuery{MetricName: "nothing", Since: time.Minute, At: testNow})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestCooldownGate(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 85, 85, 85)

	recent := testNow.Add(-2 * time.Minute)
	rule := cpuRule(1)
	rule.LastTriggered = &recent
	rule.TriggerCount = 1
	rules := &memRules{rules: []models.AlertRule{rule}}

	res, err := newTestEngine(rules, metrics, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{RulesChecked: 1, RulesSkipped: 1}, res)
	assert.Zero(t, rules.alertCount())

	old := testNow.Add(-6 * time.Minute)
	rules.rules[0].LastTriggered = &old

	res, err = newTestEngine(rules, metrics, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlertsCreated)
	assert.Equal(t, 1, rules.alertCount())
}

func TestZeroCooldownFallsBackToDefault(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 90)

	last := testNow.Add(-4 * time.Minute)
	rule := cpuRule(1)
	rule.CooldownMinutes = 0
	rule.LastTriggered = &last
	rules := &memRules{rules: []models.AlertRule{rule}}

	res, err := newTestEngine(rules, metrics, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesSkipped)
}

func TestAllConditionsMustHold(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 90, 95)
	metrics.add("memory_usage", time.Second, 40)

	rule := cpuRule(1)
	rule.Conditions = append(rule.Conditions, models.AlertCondition{
		MetricName: "memory_usage", Operator: models.OperatorGT, Threshold: 50, DurationSeconds: 60,
	})
	rules := &memRules{rules: []models.AlertRule{rule}}

	res, err := newTestEngine(rules, metrics, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.AlertsCreated)

	rules.rules[0].Conditions[1].Threshold = 30
	res, err = newTestEngine(rules, metrics, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlertsCreated)
	assert.Equal(t, 1, rules.alertCount())
}

func TestMissingDataNeverFires(t *testing.T) {
	rule := cpuRule(1)
	rule.Conditions[0].Operator = models.OperatorLT
	rule.Conditions[0].Threshold = 1e9
	rules := &memRules{rules: []models.AlertRule{rule}}

	res, err := newTestEngine(rules, &memMetrics{}, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.AlertsCreated)
}

func TestSamplesOutsideWindowIgnored(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", 2*time.Minute, 99, 99)

	rules := &memRules{rules: []models.AlertRule{cpuRule(1)}}
	res, err := newTestEngine(rules, metrics, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.AlertsCreated)
}

func TestRuleWithoutConditionsNeverFires(t *testing.T) {
	rule := cpuRule(1)
	rule.Conditions = nil
	rules := &memRules{rules: []models.AlertRule{rule}}

	res, err := newTestEngine(rules, &memMetrics{}, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesChecked)
	assert.Zero(t, res.AlertsCreated)
}

func TestFaultyRuleDoesNotAbortCycle(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 85)

	broken := cpuRule(1)
	broken.Name = "Broken"
	broken.Conditions[0].MetricName = "broken"
	exploding := cpuRule(2)
	exploding.Name = "Exploding"
	exploding.Conditions[0].MetricName = "explode"
	healthy := cpuRule(3)
	rules := &memRules{rules: []models.AlertRule{broken, exploding, healthy}}

	res, err := newTestEngine(rules, metrics, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{RulesChecked: 3, AlertsCreated: 1, RuleErrors: 2}, res)
}

func TestListFailureFailsCycle(t *testing.T) {
	rules := &memRules{listErr: errors.New("connection refused")}

	_, err := newTestEngine(rules, &memMetrics{}, nil).RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHungRuleStoreTimesOut(t *testing.T) {
	rules := &memRules{hang: true}
	engine := NewEngine(rules, &memMetrics{}, nil, zerolog.Nop(), WithRuleTimeout(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunCycle(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle stayed blocked on the rule store")
	}
}

func TestFiredAlertShapeAndJob(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 80, 90)

	rule := cpuRule(7)
	rule.Description = "cpu is hot"
	rule.NamespaceFilter = ""
	rules := &memRules{rules: []models.AlertRule{rule}}
	q := queue.NewChannelQueue(4)

	var observed []models.Alert
	engine := NewEngine(rules, metrics, q, zerolog.Nop(),
		WithClock(func() time.Time { return testNow }),
		WithAlertObserver(func(a models.Alert) { observed = append(observed, a) }),
	)

	res, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.AlertsCreated)

	a := rules.alerts[0]
	assert.Equal(t, "Alert: High CPU", a.Title)
	assert.Equal(t, "cpu is hot", a.Description)
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Equal(t, models.AlertStatusActive, a.Status)
	assert.Equal(t, models.AlertSourceRule, a.Source)
	require.NotNil(t, a.RuleID)
	assert.Equal(t, uint(7), *a.RuleID)
	assert.Equal(t, models.Labels{"team": "infra"}, a.Labels)
	assert.Equal(t, models.DefaultScope, a.Namespace)
	assert.Equal(t, "High CPU", a.Metadata["rule_name"])
	assert.Equal(t, testNow, a.CreatedAt)

	require.NotNil(t, rules.rules[0].LastTriggered)
	assert.Equal(t, testNow, *rules.rules[0].LastTriggered)
	assert.Equal(t, 1, rules.rules[0].TriggerCount)

	require.Len(t, observed, 1)
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.ChannelKind{models.ChannelDiscord}, job.Channels)
	assert.Equal(t, a.ID, job.Alert.ID)
}

func TestClosedQueueKeepsAlert(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 99)
	rules := &memRules{rules: []models.AlertRule{cpuRule(1)}}
	q := queue.NewChannelQueue(1)
	require.NoError(t, q.Close())

	res, err := newTestEngine(rules, metrics, q).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlertsCreated)
	assert.Equal(t, 1, rules.alertCount())
}

func TestConcurrentCyclesFireOnce(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 99)
	rules := &memRules{rules: []models.AlertRule{cpuRule(1)}}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := newTestEngine(rules, metrics, nil).RunCycle(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rules.alertCount())
}

func TestDryRun(t *testing.T) {
	metrics := &memMetrics{}
	metrics.add("cpu_usage", time.Second, 70, 80)
	rules := &memRules{}
	engine := newTestEngine(rules, metrics, nil)

	rule := cpuRule(1)
	res, err := engine.DryRun(context.Background(), &rule)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	require.Len(t, res.Conditions, 1)
	require.NotNil(t, res.Conditions[0].Mean)
	assert.Equal(t, 75.0, *res.Conditions[0].Mean)
	assert.Equal(t, 2, res.Conditions[0].Samples)

	rule.Conditions[0].Threshold = 70
	res, err = engine.DryRun(context.Background(), &rule)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Zero(t, rules.alertCount())
}
