// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds outbound mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	// SSL selects implicit TLS (port 465). When false, STARTTLS is required.
	SSL     bool
	Timeout time.Duration
}

// Validate checks that the configuration is usable.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return oops.Code("SMTP_INVALID_CONFIG").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("SMTP_INVALID_CONFIG").With("port", c.Port).Errorf("smtp port out of range")
	}
	if c.Sender == "" {
		return oops.Code("SMTP_INVALID_CONFIG").Errorf("smtp sender is required")
	}
	if (c.Username == "") != (c.Password == "") {
		return oops.Code("SMTP_INVALID_CONFIG").Errorf("smtp username and password must be set together")
	}
	return nil
}

// SMTPSender delivers messages through an SMTP server.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	s := &SMTPSender{cfg: cfg}
	s.send = s.dialAndSend
	return s, nil
}

// Send builds a plain-text email and hands it to the server. Address errors
// are permanent; connection and server errors are retryable.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.Sender); err != nil {
		return Permanent(oops.Code("SMTP_INVALID_SENDER").With("sender", s.cfg.Sender).Wrap(err))
	}
	if err := m.To(msg.To); err != nil {
		return Permanent(oops.Code("SMTP_INVALID_RECIPIENT").With("kind", string(msg.Kind)).Wrap(err))
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := s.send(ctx, m); err != nil {
		return oops.Code("SMTP_SEND_FAILED").
			With("host", s.cfg.Host).
			With("port", s.cfg.Port).
			Wrap(err)
	}
	return nil
}

func (s *SMTPSender) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return Permanent(oops.Code("SMTP_CLIENT_FAILED").Wrap(err))
	}
	return client.DialAndSendWithContext(ctx, msg)
}
