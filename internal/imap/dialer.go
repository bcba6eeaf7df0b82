package imap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// TokenSource hands out a tenant's current OAuth access token.
type TokenSource interface {
	AccessToken(ctx context.Context, tenant string) (string, error)
}

// Dialer dials the configured IMAP server and authenticates as a tenant with
// XOAUTH2.
type Dialer struct {
	server string
	useTLS bool
	tokens TokenSource
	log    *logrus.Logger
}

// NewDialer creates a dialer for the given server address.
func NewDialer(server string, useTLS bool, tokens TokenSource, log *logrus.Logger) *Dialer {
	return &Dialer{server: server, useTLS: useTLS, tokens: tokens, log: log}
}

// Dial establishes an authenticated session for the tenant.
func (d *Dialer) Dial(ctx context.Context, tenant string) (*Session, error) {
	token, err := d.tokens.AccessToken(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	c, err := Dial(d.server, d.useTLS)
	if err != nil {
		return nil, err
	}

	if err := AuthenticateXOAUTH2(c, tenant, token); err != nil {
		_ = c.Logout()
		return nil, err
	}

	return NewSession(c, d.log.WithField("tenant", tenant)), nil
}
