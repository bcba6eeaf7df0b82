package apply

import (
	"context"

	"github.com/inboxsift/backend/internal/imap"
)

var _ MailSession = (*imap.Session)(nil)

// IMAPDialer adapts the IMAP dialer to the applier's Dialer interface.
type IMAPDialer struct {
	inner *imap.Dialer
}

// NewIMAPDialer wraps an IMAP dialer.
func NewIMAPDialer(inner *imap.Dialer) *IMAPDialer {
	return &IMAPDialer{inner: inner}
}

// Dial establishes an authenticated session for the tenant.
func (d *IMAPDialer) Dial(ctx context.Context, tenant string) (MailSession, error) {
	return d.inner.Dial(ctx, tenant)
}
