package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/config"
)

// Mailer sends assignment notifications.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New returns an SMTP mailer, or a log-only stub when no SMTP host is
// configured.
func New(cfg config.MailerConfig, logger *zap.Logger) Mailer {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not provided; mail notifications will only be logged")
		return &logMailer{logger: logger}
	}
	return &smtpMailer{cfg: cfg, logger: logger}
}

type smtpMailer struct {
	cfg    config.MailerConfig
	logger *zap.Logger
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.From, to, subject, body)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}
	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.logger.Info("notification sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

type logMailer struct {
	logger *zap.Logger
}

func (m *logMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("notification (stub)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}
