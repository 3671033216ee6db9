// Package alert notifies operators about memory subsystem failures that
// degrade silently at the turn level, such as repeated ingestion errors.
package alert

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/contextmem/contextmem/pkg/config"
)

// Alerter sends an operator notification.
type Alerter interface {
	Alert(subject, message string) error
}

// EmailAlerter implements Alerter over SMTP.
type EmailAlerter struct {
	cfg config.AlertConfig
}

// NewEmailAlerter builds an alerter from configuration.
func NewEmailAlerter(cfg config.AlertConfig) *EmailAlerter {
	return &EmailAlerter{cfg: cfg}
}

// Alert sends an email with the given subject and message. A disabled
// configuration makes this a no-op.
func (a *EmailAlerter) Alert(subject, message string) error {
	if !a.cfg.Enabled {
		return nil
	}

	auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)

	to := a.cfg.To
	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", strings.Join(to, ","), subject, message))

	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)

	if err := smtp.SendMail(addr, auth, a.cfg.From, to, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// NopAlerter discards alerts.
type NopAlerter struct{}

func (NopAlerter) Alert(subject, message string) error { return nil }
