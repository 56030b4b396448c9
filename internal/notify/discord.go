package notify

import (
	"context"
	"net/http"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/models"
)

type DiscordNotifier struct {
	cfg    config.DiscordConfig
	client *http.Client
}

func NewDiscordNotifier(cfg config.DiscordConfig, client *http.Client) *DiscordNotifier {
	return &DiscordNotifier{cfg: cfg, client: clientOrDefault(client)}
}

func (n *DiscordNotifier) Kind() models.ChannelKind { return models.ChannelDiscord }

func (n *DiscordNotifier) Send(ctx context.Context, msg Message) error {
	if n.cfg.WebhookURL == "" {
		return ErrNotConfigured
	}
	return postJSON(ctx, n.client, n.cfg.WebhookURL, map[string]string{
		"content":  msg.Body,
		"username": "InfraWatch",
	})
}
