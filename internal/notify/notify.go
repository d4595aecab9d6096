// Package notify sends the operator-facing email alerts the strategy
// raises at each decision point: trade entry, order lifecycle events, and
// periodic reports.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog/log"
)

// Notifier is the alerting surface the coordinator and scheduler call into.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// SMTPConfig holds the mail relay credentials and addressing.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	// Enabled gates whether Notify actually dials out; false is useful in
	// dry-run/paper-trading deployments where alerts should only log.
	Enabled bool
}

// SMTPNotifier sends mail over STARTTLS using net/smtp. No third-party mail
// client appears anywhere in the reference corpus; net/smtp plus
// smtp.PlainAuth covers the one relay this system talks to without pulling
// in a dependency nothing else here would otherwise need.
type SMTPNotifier struct {
	cfg SMTPConfig
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) Notify(ctx context.Context, subject, body string) error {
	log.Info().Str("subject", subject).Msg(body)

	if !n.cfg.Enabled {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.cfg.From, n.cfg.To, subject, body)

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{n.cfg.To}, []byte(msg)); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}
	return nil
}

// NoopNotifier discards every notification except for a log line. Used in
// tests and in configurations with mail disabled.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, subject, body string) error {
	log.Debug().Str("subject", subject).Msg(body)
	return nil
}
