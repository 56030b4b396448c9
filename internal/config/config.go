package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DevJWTSecret is used when no secret is configured. Never use it in production.
const DevJWTSecret = "infrawatch-dev-secret"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Log           LogConfig           `mapstructure:"log"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Collectors    CollectorsConfig    `mapstructure:"collectors"`
}

type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type AlertingConfig struct {
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval"`
	RuleTimeout        time.Duration `mapstructure:"rule_timeout"`
	CycleRetryAttempts int           `mapstructure:"cycle_retry_attempts"`
	CycleRetryDelay    time.Duration `mapstructure:"cycle_retry_delay"`
	RulesFile          string        `mapstructure:"rules_file"`
	CreateDefaultRules bool          `mapstructure:"create_default_rules"`
}

type NotificationsConfig struct {
	Timeout               time.Duration  `mapstructure:"timeout"`
	DispatchRetryAttempts int            `mapstructure:"dispatch_retry_attempts"`
	DispatchRetryDelay    time.Duration  `mapstructure:"dispatch_retry_delay"`
	RatePerSecond         float64        `mapstructure:"rate_per_second"`
	Burst                 int            `mapstructure:"burst"`
	QueueSize             int            `mapstructure:"queue_size"`
	Telegram              TelegramConfig `mapstructure:"telegram"`
	Discord               DiscordConfig  `mapstructure:"discord"`
	Slack                 SlackConfig    `mapstructure:"slack"`
	Webhook               WebhookConfig  `mapstructure:"webhook"`
	Email                 EmailConfig    `mapstructure:"email"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIURL   string `mapstructure:"api_url"`
}

type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type SlackConfig struct {
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
	APIURL  string `mapstructure:"api_url"`
}

type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

type EmailConfig struct {
	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPUser     string   `mapstructure:"smtp_user"`
	SMTPPassword string   `mapstructure:"smtp_password"`
	From         string   `mapstructure:"from"`
	To           []string `mapstructure:"to"`
}

type ProcessingConfig struct {
	MetricsInterval        time.Duration `mapstructure:"metrics_interval"`
	LogAggregationInterval time.Duration `mapstructure:"log_aggregation_interval"`
	HealthInterval         time.Duration `mapstructure:"health_interval"`
}

type RetentionConfig struct {
	MetricsDays        int `mapstructure:"metrics_days"`
	LogsDays           int `mapstructure:"logs_days"`
	ResolvedAlertsDays int `mapstructure:"resolved_alerts_days"`
	LogStatsDays       int `mapstructure:"log_stats_days"`
	CleanupHour        int `mapstructure:"cleanup_hour"`
}

type CollectorsConfig struct {
	Docker     DockerCollectorConfig     `mapstructure:"docker"`
	Host       HostCollectorConfig       `mapstructure:"host"`
	Prometheus PrometheusCollectorConfig `mapstructure:"prometheus"`
}

type DockerCollectorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

type HostCollectorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type PrometheusCollectorConfig struct {
	Enabled  bool               `mapstructure:"enabled"`
	Interval time.Duration      `mapstructure:"interval"`
	Targets  []PrometheusTarget `mapstructure:"targets"`
}

type PrometheusTarget struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Cluster   string `mapstructure:"cluster"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.jwt_secret", DevJWTSecret)
	v.SetDefault("server.token_ttl", 24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/infrawatch.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("alerting.evaluation_interval", 60*time.Second)
	v.SetDefault("alerting.rule_timeout", 10*time.Second)
	v.SetDefault("alerting.cycle_retry_attempts", 3)
	v.SetDefault("alerting.cycle_retry_delay", 60*time.Second)
	v.SetDefault("alerting.create_default_rules", true)

	v.SetDefault("notifications.timeout", 10*time.Second)
	v.SetDefault("notifications.dispatch_retry_attempts", 3)
	v.SetDefault("notifications.dispatch_retry_delay", 30*time.Second)
	v.SetDefault("notifications.rate_per_second", 1.0)
	v.SetDefault("notifications.burst", 5)
	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("notifications.telegram.api_url", "https://api.telegram.org")
	v.SetDefault("notifications.email.smtp_port", 587)

	v.SetDefault("processing.metrics_interval", 30*time.Second)
	v.SetDefault("processing.log_aggregation_interval", 300*time.Second)
	v.SetDefault("processing.health_interval", 60*time.Second)

	v.SetDefault("retention.metrics_days", 7)
	v.SetDefault("retention.logs_days", 30)
	v.SetDefault("retention.resolved_alerts_days", 90)
	v.SetDefault("retention.log_stats_days", 7)
	v.SetDefault("retention.cleanup_hour", 3)

	v.SetDefault("collectors.docker.enabled", false)
	v.SetDefault("collectors.docker.interval", 30*time.Second)
	v.SetDefault("collectors.docker.max_concurrent", 5)
	v.SetDefault("collectors.host.enabled", false)
	v.SetDefault("collectors.host.interval", 30*time.Second)
	v.SetDefault("collectors.prometheus.enabled", false)
	v.SetDefault("collectors.prometheus.interval", 30*time.Second)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/infrawatch")
	}

	v.SetEnvPrefix("INFRAWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Loader keeps the viper instance so the file can be watched after Load.
type Loader struct {
	v *viper.Viper
}

func NewLoader(path string) *Loader {
	return &Loader{v: newViper(path)}
}

// Load reads the config file if one exists and applies env overrides.
// A missing file is not an error; defaults apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch re-reads the file on change and hands the fresh config to fn.
// Invalid intermediate states are dropped.
func (l *Loader) Watch(fn func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			return
		}
		if cfg.Validate() != nil {
			return
		}
		fn(&cfg)
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	v := viper.New()
	setDefaults(v)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Retention.CleanupHour < 0 || c.Retention.CleanupHour > 23 {
		return fmt.Errorf("invalid retention.cleanup_hour %d", c.Retention.CleanupHour)
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	for _, t := range c.Collectors.Prometheus.Targets {
		if t.URL == "" {
			return fmt.Errorf("prometheus target %q has no url", t.Name)
		}
	}
	return nil
}

// MinInterval is the shortest accepted job interval. A bare number in YAML
// decodes as nanoseconds and lands below it.
const MinInterval = time.Second

func (c *Config) validateIntervals() error {
	intervals := []struct {
		key string
		d   time.Duration
	}{
		{"alerting.evaluation_interval", c.Alerting.EvaluationInterval},
		{"processing.metrics_interval", c.Processing.MetricsInterval},
		{"processing.log_aggregation_interval", c.Processing.LogAggregationInterval},
		{"processing.health_interval", c.Processing.HealthInterval},
		{"collectors.docker.interval", c.Collectors.Docker.Interval},
		{"collectors.host.interval", c.Collectors.Host.Interval},
		{"collectors.prometheus.interval", c.Collectors.Prometheus.Interval},
	}
	for _, i := range intervals {
		if i.d < MinInterval {
			return fmt.Errorf("invalid %s %s: must be at least %s (use a unit, e.g. 60s)", i.key, i.d, MinInterval)
		}
	}
	return nil
}
