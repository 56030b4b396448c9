package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/models"
)

type SlackNotifier struct {
	cfg    config.SlackConfig
	client *slack.Client
}

func NewSlackNotifier(cfg config.SlackConfig, httpClient *http.Client) *SlackNotifier {
	opts := []slack.Option{slack.OptionHTTPClient(clientOrDefault(httpClient))}
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackNotifier{
		cfg:    cfg,
		client: slack.New(cfg.Token, opts...),
	}
}

func (n *SlackNotifier) Kind() models.ChannelKind { return models.ChannelSlack }

func (n *SlackNotifier) Send(ctx context.Context, msg Message) error {
	if n.cfg.Token == "" || n.cfg.Channel == "" {
		return ErrNotConfigured
	}

	attachment := slack.Attachment{
		Color:  getAlertColor(msg.Severity),
		Title:  msg.Title,
		Text:   msg.Body,
		Footer: "InfraWatch",
		Fields: []slack.AttachmentField{
			{
				Title: "Severity",
				Value: strings.ToUpper(string(msg.Severity)),
				Short: true,
			},
			{
				Title: "Alert",
				Value: fmt.Sprintf("#%d", msg.AlertID),
				Short: true,
			},
		},
		Ts: json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}

	_, _, err := n.client.PostMessageContext(ctx, n.cfg.Channel,
		slack.MsgOptionText(getAlertEmoji(msg.Severity)+" "+msg.Title, false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	return nil
}

func getAlertColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "#FF0000"
	case models.SeverityError:
		return "#FF6600"
	case models.SeverityWarning:
		return "#FFA500"
	case models.SeverityInfo:
		return "#0000FF"
	default:
		return "#808080"
	}
}

func getAlertEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return ":rotating_light:"
	case models.SeverityError:
		return ":red_circle:"
	case models.SeverityWarning:
		return ":warning:"
	case models.SeverityInfo:
		return ":information_source:"
	default:
		return ":bell:"
	}
}
