package notification

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/model"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg        config.SMTPConfig
	auth       smtp.Auth
	recipients []string
	sendMail   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier. Authentication is skipped when
// no username is configured, for relays that accept unauthenticated mail.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	n := &EmailNotifier{cfg: cfg, sendMail: smtp.SendMail}
	if cfg.Username != "" {
		// PlainAuth will not send credentials until the server identifies itself as a trusted one.
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	for _, r := range strings.Split(cfg.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			n.recipients = append(n.recipients, r)
		}
	}
	return n
}

// Send sends an HTML email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	if len(n.recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.sendMail(addr, n.auth, n.cfg.From, n.recipients, buildMessage(n.cfg.From, n.recipients, subject, body)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	return []byte("To: " + strings.Join(to, ", ") + "\r\n" +
		"From: " + from + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)
}
