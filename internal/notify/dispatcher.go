package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/telemetry"
)

const DefaultTimeout = 10 * time.Second

type DispatchStatus string

const (
	StatusSuccess DispatchStatus = "success"
	StatusPartial DispatchStatus = "partial"
	StatusFailed  DispatchStatus = "failed"
	StatusEmpty   DispatchStatus = "empty"
)

type ChannelResult struct {
	Delivered bool   `json:"delivered"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

type DispatchResult struct {
	Status   DispatchStatus                       `json:"status"`
	Channels map[models.ChannelKind]ChannelResult `json:"channels"`
}

type DispatcherConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Dispatcher fans one alert out to several channels. Every channel is
// attempted regardless of how the others fare.
type Dispatcher struct {
	notifiers map[models.ChannelKind]Notifier
	limiters  map[models.ChannelKind]*rate.Limiter
	timeout   time.Duration
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

func NewDispatcher(cfg DispatcherConfig, log zerolog.Logger, metrics *telemetry.Metrics, notifiers ...Notifier) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := &Dispatcher{
		notifiers: make(map[models.ChannelKind]Notifier, len(notifiers)),
		limiters:  make(map[models.ChannelKind]*rate.Limiter, len(notifiers)),
		timeout:   cfg.Timeout,
		log:       log.With().Str("component", "dispatcher").Logger(),
		metrics:   metrics,
	}
	for _, n := range notifiers {
		d.notifiers[n.Kind()] = n
		if cfg.RatePerSecond > 0 {
			burst := cfg.Burst
			if burst < 1 {
				burst = 1
			}
			d.limiters[n.Kind()] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
		}
	}
	return d
}

// New builds a dispatcher with a notifier for every channel kind.
func New(cfg config.NotificationsConfig, log zerolog.Logger, metrics *telemetry.Metrics) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	return NewDispatcher(DispatcherConfig{
		Timeout:       timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}, log, metrics,
		NewTelegramNotifier(cfg.Telegram, client),
		NewDiscordNotifier(cfg.Discord, client),
		NewSlackNotifier(cfg.Slack, client),
		NewWebhookNotifier(cfg.Webhook, client),
		NewEmailNotifier(cfg.Email),
	)
}

// Dispatch renders alert once and sends it to each distinct channel in
// order. Delivery failures are reported in the result, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.Alert, channels []models.ChannelKind) (*DispatchResult, error) {
	if d == nil || d.notifiers == nil {
		return nil, errors.New("dispatcher not initialised")
	}

	result := &DispatchResult{Channels: make(map[models.ChannelKind]ChannelResult, len(channels))}
	msg := RenderMessage(alert)

	delivered := 0
	for _, kind := range channels {
		if _, seen := result.Channels[kind]; seen {
			continue
		}
		res := d.deliver(ctx, kind, msg)
		if res.Delivered {
			delivered++
		}
		result.Channels[kind] = res
	}

	switch {
	case len(result.Channels) == 0:
		result.Status = StatusEmpty
	case delivered == len(result.Channels):
		result.Status = StatusSuccess
	case delivered == 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusPartial
	}
	return result, nil
}

func (d *Dispatcher) deliver(ctx context.Context, kind models.ChannelKind, msg Message) (res ChannelResult) {
	log := d.log.With().Str("channel", string(kind)).Uint("alert_id", msg.AlertID).Logger()

	notifier, ok := d.notifiers[kind]
	if !ok {
		log.Warn().Str("reason", "unsupported").Msg("Notification skipped")
		d.metrics.Notification(string(kind), "failed")
		return ChannelResult{Error: ErrUnsupportedChannel.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.send(ctx, kind, notifier, msg)
	switch {
	case err == nil:
		log.Info().Msg("Notification sent")
		d.metrics.Notification(string(kind), "delivered")
		return ChannelResult{Delivered: true}
	case errors.Is(err, ErrNotConfigured):
		log.Warn().Str("reason", "not_configured").Msg("Notification skipped")
		d.metrics.Notification(string(kind), "skipped")
		return ChannelResult{Skipped: true, Error: err.Error()}
	default:
		log.Error().Err(err).Str("reason", "delivery_failed").Msg("Notification failed")
		d.metrics.Notification(string(kind), "failed")
		return ChannelResult{Error: err.Error()}
	}
}

func (d *Dispatcher) send(ctx context.Context, kind models.ChannelKind, notifier Notifier, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()

	if limiter := d.limiters[kind]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limited: %w", err)
		}
	}
	return notifier.Send(ctx, msg)
}
