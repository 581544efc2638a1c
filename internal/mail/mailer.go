// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package mail provides the outbound verification-mail collaborator.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Mailer dispatches verification mails and screens addresses against the
// configured allow policy. IsAllowedMail is synchronous and never touches the
// network; SendVerificationMail blocks on SMTP and must run on a worker
// context.
type Mailer interface {
	SendVerificationMail(ctx context.Context, email, token, displayName string) error
	IsAllowedMail(email string) bool
}

// SMTPConfig holds the transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPMailer sends verification mails over SMTP. Addresses are screened
// against glob patterns; an address is allowed when any pattern matches.
type SMTPMailer struct {
	cfg     SMTPConfig
	allowed []glob.Glob
}

// NewSMTPMailer creates an SMTPMailer. Invalid patterns are rejected so a
// typo in the allow list fails at startup, not per-mail.
func NewSMTPMailer(cfg SMTPConfig, allowedPatterns []string) (*SMTPMailer, error) {
	globs := make([]glob.Glob, 0, len(allowedPatterns))
	for _, pattern := range allowedPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("MAIL_INVALID_PATTERN").
				With("pattern", pattern).
				Wrap(err)
		}
		globs = append(globs, g)
	}
	return &SMTPMailer{cfg: cfg, allowed: globs}, nil
}

// IsAllowedMail reports whether the address passes basic shape validation
// and matches the allow policy.
func (m *SMTPMailer) IsAllowedMail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	lowered := strings.ToLower(email)
	for _, g := range m.allowed {
		if g.Match(lowered) {
			return true
		}
	}
	return false
}

// SendVerificationMail dispatches the confirmation token to the address.
func (m *SMTPMailer) SendVerificationMail(_ context.Context, email, token, displayName string) error {
	subject := "Confirm your e-mail address"
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\n"+
			"To confirm this e-mail address for your account, run the following in game:\r\n\r\n"+
			"    /confirmmail %s\r\n\r\n"+
			"The code expires shortly. If you did not request this, ignore this mail.\r\n",
		displayName, token)

	msg := m.buildMessage(email, subject, body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{email}, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("host", m.cfg.Host).
			Wrap(err)
	}
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject, body string) []byte {
	var buf bytes.Buffer

	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
	}

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)

	return buf.Bytes()
}
