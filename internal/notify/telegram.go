package notify

import (
	"context"
	"net/http"
	"strings"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/models"
)

const defaultTelegramAPI = "https://api.telegram.org"

type TelegramNotifier struct {
	cfg    config.TelegramConfig
	client *http.Client
}

func NewTelegramNotifier(cfg config.TelegramConfig, client *http.Client) *TelegramNotifier {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTelegramAPI
	}
	return &TelegramNotifier{cfg: cfg, client: clientOrDefault(client)}
}

func (n *TelegramNotifier) Kind() models.ChannelKind { return models.ChannelTelegram }

func (n *TelegramNotifier) Send(ctx context.Context, msg Message) error {
	if n.cfg.BotToken == "" || n.cfg.ChatID == "" {
		return ErrNotConfigured
	}
	url := strings.TrimRight(n.cfg.APIURL, "/") + "/bot" + n.cfg.BotToken + "/sendMessage"
	return postJSON(ctx, n.client, url, map[string]string{
		"chat_id":    n.cfg.ChatID,
		"text":       msg.Body,
		"parse_mode": "Markdown",
	})
}
