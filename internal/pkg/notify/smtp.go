package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// LoadSMTPConfig reads SMTP_* from the environment.
func LoadSMTPConfig() SMTPConfig {
	cfg := SMTPConfig{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   env.GetEnv("SMTP_SENDER", ""),
	}
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
		log.Warnf("[Notify] SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return cfg
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport sends HTML mail through a plain SMTP relay.
type SMTPTransport struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, sendMail: smtp.SendMail}
}

// NewTransportFromEnv returns SMTP when SMTP_HOST is set and the log
// transport otherwise.
func NewTransportFromEnv() Transport {
	cfg := LoadSMTPConfig()
	if cfg.Host == "" {
		log.Warn("[Notify] SMTP_HOST not set, messages are only logged")
		return LogTransport{}
	}
	return NewSMTPTransport(cfg)
}

func (t *SMTPTransport) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Email == "" {
		return ErrNoAddress
	}

	var auth smtp.Auth
	if t.cfg.Username != "" && t.cfg.Password != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%s", t.cfg.Host, t.cfg.Port)
	raw := buildMessage(t.cfg.Sender, to, msg)

	// net/smtp has no context support; the call is abandoned on cancellation.
	done := make(chan error, 1)
	go func() {
		done <- t.sendMail(addr, auth, t.cfg.Sender, []string{to.Email}, raw)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			log.Errorf("[Notify] SMTP send to %s failed: %v", to.Email, err)
			return err
		}
		log.Infof("[Notify] Email sent to %s via %s", to.Email, addr)
		return nil
	}
}

func buildMessage(sender string, to Recipient, msg Message) []byte {
	rcpt := to.Email
	if to.Name != "" {
		rcpt = fmt.Sprintf("%s <%s>", to.Name, to.Email)
	}
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, rcpt, msg.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			msg.Body,
	)
}
