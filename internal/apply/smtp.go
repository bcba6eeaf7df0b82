package apply

import (
	"bytes"
	"context"
	"fmt"

	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	goimap "github.com/inboxsift/backend/internal/imap"
)

// ReplySender delivers a built reply to its recipient.
type ReplySender interface {
	Send(ctx context.Context, tenant, to string, raw []byte) error
}

// SMTPSender submits replies over SMTP, authenticating with the tenant's
// OAuth access token.
type SMTPSender struct {
	server string
	tokens goimap.TokenSource
	log    *logrus.Logger
}

// NewSMTPSender creates a sender for the given server address (host:port,
// STARTTLS submission port).
func NewSMTPSender(server string, tokens goimap.TokenSource, log *logrus.Logger) *SMTPSender {
	return &SMTPSender{server: server, tokens: tokens, log: log}
}

// Send submits the message from the tenant's address to a single recipient.
func (s *SMTPSender) Send(ctx context.Context, tenant, to string, raw []byte) error {
	token, err := s.tokens.AccessToken(ctx, tenant)
	if err != nil {
		return fmt.Errorf("failed to obtain access token for smtp: %w", err)
	}

	auth := goimap.NewXOAuth2(tenant, token)
	if err := smtp.SendMail(s.server, auth, tenant, []string{to}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp submission failed: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"tenant": tenant,
		"to":     to,
	}).Debug("Message submitted over SMTP")
	return nil
}
