package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/queue"
	"github.com/br00tm/infrawatch/internal/telemetry"
)

const DefaultRuleTimeout = 10 * time.Second

// RuleStore is the part of the rule repository the engine needs.
type RuleStore interface {
	ListEnabled(ctx context.Context) ([]models.AlertRule, error)
	Fire(ctx context.Context, rule *models.AlertRule, alert *models.Alert, firedAt time.Time) error
}

type CycleResult struct {
	RulesChecked  int `json:"rules_checked"`
	AlertsCreated int `json:"alerts_created"`
	RulesSkipped  int `json:"rules_skipped"`
	RuleErrors    int `json:"rule_errors"`
}

// ConditionResult is the outcome of one condition of a rule.
type ConditionResult struct {
	MetricName string          `json:"metric_name"`
	Operator   models.Operator `json:"operator"`
	Threshold  float64         `json:"threshold"`
	Samples    int             `json:"samples"`
	Mean       *float64        `json:"mean"`
	Met        bool            `json:"met"`
}

// DryRunResult reports what a rule would do at the current time.
type DryRunResult struct {
	Triggered  bool              `json:"triggered"`
	InCooldown bool              `json:"in_cooldown"`
	Conditions []ConditionResult `json:"conditions"`
}

type outcome int

const (
	outcomeNotMet outcome = iota
	outcomeCooldown
	outcomeFired
	outcomeAlreadyFired
)

type Engine struct {
	rules       RuleStore
	window      *WindowReader
	queue       queue.Queue
	log         zerolog.Logger
	metrics     *telemetry.Metrics
	ruleTimeout time.Duration
	now         func() time.Time
	onAlert     func(models.Alert)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.window.now = now
	}
}

func WithRuleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ruleTimeout = d
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAlertObserver registers fn to be called for every alert the engine creates.
func WithAlertObserver(fn func(models.Alert)) Option {
	return func(e *Engine) { e.onAlert = fn }
}

func NewEngine(rules RuleStore, metrics MetricStore, q queue.Queue, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		rules:       rules,
		window:      NewWindowReader(metrics),
		queue:       q,
		log:         log.With().Str("component", "alert_engine").Logger(),
		ruleTimeout: DefaultRuleTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunCycle evaluates every enabled rule once. Failures inside a single
// rule are logged and counted; only failing to load the rules is returned.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveCycle(time.Since(start)) }()

	rules, err := e.listEnabled(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("failed to load enabled rules: %w", err)
	}

	result := CycleResult{RulesChecked: len(rules)}
	now := e.now().UTC()

	for i := range rules {
		if ctx.Err() != nil {
			e.log.Warn().Err(ctx.Err()).Int("remaining", len(rules)-i).Msg("Evaluation cycle interrupted")
			break
		}
		rule := &rules[i]
		e.metrics.RuleChecked()

		out, err := e.evaluateIsolated(ctx, rule, now)
		if err != nil {
			result.RuleErrors++
			e.metrics.RuleError()
			e.log.Error().Err(err).Uint("rule_id", rule.ID).Str("rule", rule.Name).Msg("Rule evaluation failed")
			continue
		}
		switch out {
		case outcomeFired:
			result.AlertsCreated++
		case outcomeCooldown:
			result.RulesSkipped++
		}
	}

	e.log.Info().
		Int("rules_checked", result.RulesChecked).
		Int("alerts_created", result.AlertsCreated).
		Int("rules_skipped", result.RulesSkipped).
		Int("rule_errors", result.RuleErrors).
		Dur("took", time.Since(start)).
		Msg("Evaluation cycle finished")
	return result, nil
}

// listEnabled loads the rules under the per-rule timeout.
func (e *Engine) listEnabled(ctx context.Context) ([]models.AlertRule, error) {
	ctx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()
	return e.rules.ListEnabled(ctx)
}

// evaluateIsolated runs one rule under its own timeout and turns a panic
// into an error.
func (e *Engine) evaluateIsolated(ctx context.Context, rule *models.AlertRule, now time.Time) (out outcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating rule: %v", r)
		}
	}()
	return e.evaluateRule(ctx, rule, now)
}

func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule, now time.Time) (outcome, error) {
	log := e.log.With().Uint("rule_id", rule.ID).Str("rule", rule.Name).Logger()

	if rule.InCooldown(now) {
		log.Debug().Str("reason", "cooldown").Time("last_triggered", *rule.LastTriggered).Msg("Rule skipped")
		return outcomeCooldown, nil
	}
	if len(rule.Conditions) == 0 {
		log.Debug().Str("reason", "no_conditions").Msg("Rule skipped")
		return outcomeNotMet, nil
	}

	results := make([]ConditionResult, 0, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		res, err := e.evaluateCondition(ctx, rule, cond, now)
		if err != nil {
			return outcomeNotMet, err
		}
		results = append(results, res)
		if !res.Met {
			reason := "threshold_not_met"
			if res.Samples == 0 {
				reason = "no_data"
			}
			log.Debug().Str("reason", reason).Str("metric", cond.MetricName).Msg("Rule not triggered")
			return outcomeNotMet, nil
		}
	}

	return e.fire(ctx, rule, results, now)
}

func (e *Engine) evaluateCondition(ctx context.Context, rule *models.AlertRule, cond models.AlertCondition, now time.Time) (ConditionResult, error) {
	samples, err := e.window.ReadWindow(ctx, WindowQuery{
		MetricName: cond.MetricName,
		Since:      cond.Window(),
		At:         now,
		Namespace:  rule.NamespaceFilter,
		Cluster:    rule.ClusterFilter,
	})
	if err != nil {
		return ConditionResult{}, err
	}

	res := ConditionResult{
		MetricName: cond.MetricName,
		Operator:   cond.Operator,
		Threshold:  cond.Threshold,
		Samples:    len(samples),
		Met:        Evaluate(samples, cond.Operator, cond.Threshold),
	}
	if mean, ok := Mean(samples); ok {
		res.Mean = &mean
	}
	return res, nil
}

func (e *Engine) fire(ctx context.Context, rule *models.AlertRule, results []ConditionResult, now time.Time) (outcome, error) {
	firedAt := now.Truncate(time.Microsecond)
	alert := buildAlert(rule, results)
	alert.CreatedAt = firedAt
	alert.UpdatedAt = firedAt

	if err := e.rules.Fire(ctx, rule, alert, firedAt); err != nil {
		if errors.Is(err, database.ErrRuleAlreadyFired) {
			e.log.Debug().Uint("rule_id", rule.ID).Str("rule", rule.Name).Str("reason", "already_fired").Msg("Rule fired by a concurrent cycle")
			return outcomeAlreadyFired, nil
		}
		return outcomeNotMet, fmt.Errorf("failed to record alert: %w", err)
	}

	e.metrics.AlertCreated(string(alert.Severity))
	e.log.Info().
		Uint("rule_id", rule.ID).
		Str("rule", rule.Name).
		Uint("alert_id", alert.ID).
		Str("severity", string(alert.Severity)).
		Msg("Alert created")

	if e.onAlert != nil {
		e.onAlert(*alert)
	}
	e.enqueue(ctx, rule, alert)
	return outcomeFired, nil
}

func (e *Engine) enqueue(ctx context.Context, rule *models.AlertRule, alert *models.Alert) {
	if e.queue == nil || len(rule.NotificationChannels) == 0 {
		return
	}
	job := queue.NewJob(*alert, rule.NotificationChannels)
	if err := e.queue.Enqueue(ctx, job); err != nil {
		e.log.Error().Err(err).Uint("alert_id", alert.ID).Str("job_id", job.ID).Msg("Failed to enqueue notification")
		return
	}
	e.log.Debug().Uint("alert_id", alert.ID).Str("job_id", job.ID).Msg("Notification enqueued")
}

func buildAlert(rule *models.AlertRule, results []ConditionResult) *models.Alert {
	ruleID := rule.ID
	conditions := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		c := map[string]interface{}{
			"metric_name": r.MetricName,
			"operator":    string(r.Operator),
			"threshold":   r.Threshold,
		}
		if r.Mean != nil {
			c["mean"] = *r.Mean
		}
		conditions = append(conditions, c)
	}

	return &models.Alert{
		Title:       "Alert: " + rule.Name,
		Description: rule.Description,
		Severity:    rule.Severity,
		Status:      models.AlertStatusActive,
		Source:      models.AlertSourceRule,
		Namespace:   models.ScopeOr(rule.NamespaceFilter),
		Cluster:     models.ScopeOr(rule.ClusterFilter),
		Labels:      rule.LabelsFilter.Clone(),
		Metadata: models.Metadata{
			"rule_name":     rule.Name,
			"trigger_count": rule.TriggerCount + 1,
			"conditions":    conditions,
		},
		RuleID: &ruleID,
	}
}

// DryRun evaluates every condition of rule without creating anything.
func (e *Engine) DryRun(ctx context.Context, rule *models.AlertRule) (*DryRunResult, error) {
	now := e.now().UTC()
	result := &DryRunResult{
		InCooldown: rule.InCooldown(now),
		Conditions: make([]ConditionResult, 0, len(rule.Conditions)),
	}

	all := len(rule.Conditions) > 0
	for _, cond := range rule.Conditions {
		res, err := e.evaluateCondition(ctx, rule, cond, now)
		if err != nil {
			return nil, err
		}
		all = all && res.Met
		result.Conditions = append(result.Conditions, res)
	}
	result.Triggered = all && !result.InCooldown
	return result, nil
}
