package notify

import (
	"context"
	"net/http"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/models"
)

// WebhookNotifier posts alerts to a generic HTTP endpoint.
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
}

func NewWebhookNotifier(cfg config.WebhookConfig, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{cfg: cfg, client: clientOrDefault(client)}
}

func (n *WebhookNotifier) Kind() models.ChannelKind { return models.ChannelWebhook }

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	if n.cfg.URL == "" {
		return ErrNotConfigured
	}
	return postJSON(ctx, n.client, n.cfg.URL, map[string]string{
		"source":  "infrawatch",
		"message": msg.Body,
	})
}
