package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"

	"gopkg.in/gomail.v2"

	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/models"
)

const emailSubject = "InfraWatch Alert"

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	cfg    config.EmailConfig
	sender mailSender
}

// ErrInsecureSMTP is returned when the server offers no TLS, so the
// credentials would travel in plaintext.
var ErrInsecureSMTP = errors.New("smtp server did not offer STARTTLS; refusing to authenticate in plaintext")

// tlsOnlyAuth refuses to authenticate on a session that is not encrypted.
// gomail only upgrades when the server advertises STARTTLS.
type tlsOnlyAuth struct {
	smtp.Auth
}

func (a tlsOnlyAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, ErrInsecureSMTP
	}
	return a.Auth.Start(server)
}

// NewEmailNotifier sends through SMTP. Port 465 uses implicit TLS; any other
// port must upgrade with STARTTLS.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	dialer.SSL = cfg.SMTPPort == 465
	dialer.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost, MinVersion: tls.VersionTLS12}
	dialer.Auth = tlsOnlyAuth{Auth: smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)}
	return &EmailNotifier{cfg: cfg, sender: dialer}
}

func (n *EmailNotifier) Kind() models.ChannelKind { return models.ChannelEmail }

func (n *EmailNotifier) configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.SMTPPassword != ""
}

func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if !n.configured() {
		return ErrNotConfigured
	}

	from := n.cfg.From
	if from == "" {
		from = n.cfg.SMTPUser
	}
	to := n.cfg.To
	if len(to) == 0 {
		to = []string{n.cfg.SMTPUser}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", emailSubject)
	m.SetBody("text/plain", msg.PlainBody())

	// gomail has no context support, so the send is abandoned on timeout.
	done := make(chan error, 1)
	go func() { done <- n.sender.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}
}
