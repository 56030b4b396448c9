package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
)

var (
	ErrRuleExists   = errors.New("rule with this name already exists")
	ErrInvalidRule  = errors.New("invalid rule")
	ErrInvalidAlert = errors.New("invalid alert")
)

// ValidationError lists every problem found in a rule or alert. It
// matches Err with errors.Is.
type ValidationError struct {
	Err      error
	Problems []string
}

func invalidRule(problems ...string) *ValidationError {
	return &ValidationError{Err: ErrInvalidRule, Problems: problems}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == e.Err }

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks yaml for .yaml/.yml files and json otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

func FormatFromContentType(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatJSON
	}
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return FormatYAML
	}
	return FormatJSON
}

// ApplyDefaults fills the optional fields a rule may omit.
func ApplyDefaults(rule *models.AlertRule) {
	if rule.Severity == "" {
		rule.Severity = models.SeverityWarning
	}
	if rule.CooldownMinutes == 0 {
		rule.CooldownMinutes = models.DefaultCooldownMinutes
	}
	for i := range rule.Conditions {
		if rule.Conditions[i].DurationSeconds == 0 {
			rule.Conditions[i].DurationSeconds = models.DefaultDurationSeconds
		}
	}
	if rule.NotificationChannels == nil {
		rule.NotificationChannels = []models.ChannelKind{}
	}
}

// ValidateRule returns a *ValidationError when rule cannot be stored.
func ValidateRule(rule *models.AlertRule) error {
	var problems []string
	if strings.TrimSpace(rule.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !rule.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("unknown severity %q", rule.Severity))
	}
	if rule.CooldownMinutes < 1 {
		problems = append(problems, "cooldown_minutes must be at least 1")
	}
	for i, c := range rule.Conditions {
		if strings.TrimSpace(c.MetricName) == "" {
			problems = append(problems, fmt.Sprintf("conditions[%d]: metric_name is required", i))
		}
		if !c.Operator.Valid() {
			problems = append(problems, fmt.Sprintf("conditions[%d]: unknown operator %q", i, c.Operator))
		}
		if c.DurationSeconds < 0 {
			problems = append(problems, fmt.Sprintf("conditions[%d]: duration_seconds must not be negative", i))
		}
	}
	for _, ch := range rule.NotificationChannels {
		if !ch.Valid() {
			problems = append(problems, fmt.Sprintf("unknown notification channel %q", ch))
		}
	}

	if len(problems) > 0 {
		return invalidRule(problems...)
	}
	return nil
}

// DecodeRules parses a list of rules. YAML goes through the JSON field
// names so both formats share one schema.
func DecodeRules(data []byte, format Format) ([]models.AlertRule, error) {
	if format == FormatYAML {
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		data = converted
	}

	var rules []models.AlertRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	// Rules that do not mention enabled are enabled.
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil && len(raw) == len(rules) {
		for i := range rules {
			if _, ok := raw[i]["enabled"]; !ok {
				rules[i].Enabled = true
			}
		}
	}
	return rules, nil
}

func EncodeRules(rules []models.AlertRule, format Format) ([]byte, error) {
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	if format != FormatYAML {
		return data, nil
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	return out, nil
}

type RuleManager struct {
	repo *database.RuleRepository
	log  zerolog.Logger
}

func NewRuleManager(repo *database.RuleRepository, log zerolog.Logger) *RuleManager {
	return &RuleManager{
		repo: repo,
		log:  log.With().Str("component", "rule_manager").Logger(),
	}
}

func (rm *RuleManager) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	ApplyDefaults(rule)
	if err := ValidateRule(rule); err != nil {
		return err
	}

	_, err := rm.repo.GetByName(ctx, rule.Name)
	switch {
	case err == nil:
		return ErrRuleExists
	case !errors.Is(err, database.ErrNotFound):
		return err
	}

	if err := rm.repo.Create(ctx, rule); err != nil {
		return err
	}
	rm.log.Info().Uint("rule_id", rule.ID).Str("rule", rule.Name).Msg("Rule created")
	return nil
}

func (rm *RuleManager) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	ApplyDefaults(rule)
	if err := ValidateRule(rule); err != nil {
		return err
	}

	existing, err := rm.repo.GetByName(ctx, rule.Name)
	switch {
	case err == nil && existing.ID != rule.ID:
		return ErrRuleExists
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return err
	}
	return rm.repo.Update(ctx, rule)
}

func (rm *RuleManager) DeleteRule(ctx context.Context, id uint) error {
	if err := rm.repo.Delete(ctx, id); err != nil {
		return err
	}
	rm.log.Info().Uint("rule_id", id).Msg("Rule deleted")
	return nil
}

func (rm *RuleManager) GetRule(ctx context.Context, id uint) (*models.AlertRule, error) {
	return rm.repo.Get(ctx, id)
}

func (rm *RuleManager) ListRules(ctx context.Context, enabled *bool) ([]models.AlertRule, error) {
	return rm.repo.List(ctx, enabled)
}

func (rm *RuleManager) EnableRule(ctx context.Context, id uint) error {
	return rm.repo.SetEnabled(ctx, id, true)
}

func (rm *RuleManager) DisableRule(ctx context.Context, id uint) error {
	return rm.repo.SetEnabled(ctx, id, false)
}

// DefaultRules is the starter rule set installed into an empty store.
func DefaultRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:        "High CPU Usage",
			Description: "Alert when CPU usage is above 90%",
			Enabled:     true,
			Severity:    models.SeverityWarning,
			Conditions: []models.AlertCondition{
				{MetricName: "cpu_usage", Operator: models.OperatorGT, Threshold: 90, DurationSeconds: 300},
			},
			CooldownMinutes: 30,
		},
		{
			Name:        "High Memory Usage",
			Description: "Alert when memory usage is above 95%",
			Enabled:     true,
			Severity:    models.SeverityCritical,
			Conditions: []models.AlertCondition{
				{MetricName: "memory_usage", Operator: models.OperatorGT, Threshold: 95, DurationSeconds: 180},
			},
			CooldownMinutes: 15,
		},
		{
			Name:        "Low Disk Space",
			Description: "Alert when disk usage is above 90%",
			Enabled:     true,
			Severity:    models.SeverityError,
			Conditions: []models.AlertCondition{
				{MetricName: "disk_usage", Operator: models.OperatorGT, Threshold: 90, DurationSeconds: 300},
			},
			CooldownMinutes: 60,
		},
	}
}

// CreateDefaultRules installs DefaultRules when no rule exists yet.
func (rm *RuleManager) CreateDefaultRules(ctx context.Context) (int, error) {
	n, err := rm.repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	created := 0
	for _, rule := range DefaultRules() {
		rule := rule
		if err := rm.CreateRule(ctx, &rule); err != nil {
			return created, fmt.Errorf("failed to create default rule %s: %w", rule.Name, err)
		}
		created++
	}
	return created, nil
}

// ImportRules validates every rule and then upserts them by name in one
// transaction. Nothing is written when any rule is invalid.
func (rm *RuleManager) ImportRules(ctx context.Context, data []byte, format Format) (created, updated int, err error) {
	rules, err := DecodeRules(data, format)
	if err != nil {
		return 0, 0, invalidRule(err.Error())
	}

	seen := make(map[string]bool, len(rules))
	var problems []string
	for i := range rules {
		ApplyDefaults(&rules[i])
		if verr := ValidateRule(&rules[i]); verr != nil {
			var ve *ValidationError
			if errors.As(verr, &ve) {
				for _, p := range ve.Problems {
					problems = append(problems, fmt.Sprintf("rules[%d]: %s", i, p))
				}
			}
			continue
		}
		if seen[rules[i].Name] {
			problems = append(problems, fmt.Sprintf("rules[%d]: duplicate name %q", i, rules[i].Name))
		}
		seen[rules[i].Name] = true
	}
	if len(problems) > 0 {
		return 0, 0, invalidRule(problems...)
	}

	created, updated, err = rm.repo.Import(ctx, rules)
	if err != nil {
		return 0, 0, err
	}
	rm.log.Info().Int("created", created).Int("updated", updated).Msg("Rules imported")
	return created, updated, nil
}

func (rm *RuleManager) ImportRulesFromFile(ctx context.Context, filename string) (created, updated int, err error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read file: %w", err)
	}
	return rm.ImportRules(ctx, data, FormatFromPath(filename))
}

// ExportRules writes every rule ordered by name.
func (rm *RuleManager) ExportRules(ctx context.Context, format Format) ([]byte, error) {
	rules, err := rm.repo.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules: %w", err)
	}
	return EncodeRules(rules, format)
}

func (rm *RuleManager) ExportRulesToFile(ctx context.Context, filename string) error {
	data, err := rm.ExportRules(ctx, FormatFromPath(filename))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
