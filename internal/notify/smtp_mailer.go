package notify

import (
	"fmt"
	"net/smtp"

	"github.com/sddhantjaiii/callorch/internal/config"
)

// SMTPMailer is the sole Mailer implementation, a thin wrapper over
// net/smtp. No library in the reference corpus covers outbound mail
// delivery, so this is one of the few ambient concerns built on the
// standard library rather than a third-party client (see DESIGN.md).
type SMTPMailer struct {
	cfg config.EmailConfig
}

// NewSMTPMailer constructs a Mailer from EmailConfig.
func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send delivers a plain-text email. Auth is omitted here since most
// deployments relay through an unauthenticated internal relay; production
// SMTP credentials can be layered on by wrapping smtp.PlainAuth.
func (m *SMTPMailer) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.cfg.From, to, subject, body)
	if err := smtp.SendMail(addr, nil, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}
