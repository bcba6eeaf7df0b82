// Package credentials manages per-tenant mail store credentials: sealed
// refresh tokens at rest and short-lived access tokens refreshed on demand.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/crypto"
	"github.com/inboxsift/backend/internal/db"
)

// ErrRefreshCooldown is returned when a refresh is requested while a recent
// refresh attempt for the same tenant is still inside the cooldown window and
// no usable token exists.
var ErrRefreshCooldown = errors.New("token refresh in cooldown")

// expiryBuffer is subtracted from the token expiry so a token nearing its end
// is refreshed before a long IDLE cycle can outlive it.
const expiryBuffer = 5 * time.Minute

// TokenExchanger swaps a refresh token for a fresh access token. Implemented
// by the provider-specific OAuth client.
type TokenExchanger interface {
	Exchange(ctx context.Context, refreshToken string) (accessToken string, expiresAt time.Time, err error)
}

// Manager hands out valid access tokens, refreshing through the exchanger
// when the stored token is expired or close to expiry. Refreshes are
// serialized per tenant and rate-limited by a cooldown window.
type Manager struct {
	tenants   *db.TenantStore
	encryptor *crypto.Encryptor
	exchanger TokenExchanger
	cooldown  time.Duration
	log       *logrus.Logger

	mu     sync.Mutex
	states map[string]*tenantState
}

type tenantState struct {
	mu          sync.Mutex
	lastAttempt time.Time
}

// NewManager creates a credentials manager. cooldown bounds how often a
// single tenant's refresh token may be exchanged.
func NewManager(tenants *db.TenantStore, encryptor *crypto.Encryptor, exchanger TokenExchanger, cooldown time.Duration, log *logrus.Logger) *Manager {
	return &Manager{
		tenants:   tenants,
		encryptor: encryptor,
		exchanger: exchanger,
		cooldown:  cooldown,
		log:       log,
		states:    make(map[string]*tenantState),
	}
}

// AccessToken returns a currently valid access token for the tenant,
// refreshing it first if the stored one is missing or about to expire.
func (m *Manager) AccessToken(ctx context.Context, address string) (string, error) {
	refreshEnc, accessToken, expiresAt, err := m.tenants.Credentials(ctx, address)
	if err != nil {
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}

	if tokenUsable(accessToken, expiresAt) {
		return accessToken, nil
	}

	return m.refresh(ctx, address, refreshEnc, accessToken)
}

// Fingerprint returns a stable digest of an access token, so callers can
// detect a token change without holding the raw token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// StoreRefreshToken seals and persists a new refresh token for the tenant,
// replacing any previous credentials.
func (m *Manager) StoreRefreshToken(ctx context.Context, address, displayName, refreshToken string) error {
	sealed, err := m.encryptor.Seal(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to seal refresh token: %w", err)
	}
	if err := m.tenants.Upsert(ctx, address, displayName, sealed, "", time.Time{}); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (m *Manager) refresh(ctx context.Context, address string, refreshEnc []byte, staleToken string) (string, error) {
	state := m.state(address)
	state.mu.Lock()
	defer state.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	_, accessToken, expiresAt, err := m.tenants.Credentials(ctx, address)
	if err != nil {
		return "", fmt.Errorf("failed to reload credentials: %w", err)
	}
	if tokenUsable(accessToken, expiresAt) {
		return accessToken, nil
	}

	if since := time.Since(state.lastAttempt); since < m.cooldown {
		if staleToken != "" {
			m.log.WithFields(logrus.Fields{
				"tenant":   address,
				"cooldown": m.cooldown,
			}).Warn("Token refresh in cooldown, reusing stale token")
			return staleToken, nil
		}
		return "", ErrRefreshCooldown
	}
	state.lastAttempt = time.Now()

	if len(refreshEnc) == 0 {
		return "", fmt.Errorf("no refresh token stored for %s", address)
	}
	refreshToken, err := m.encryptor.Open(refreshEnc)
	if err != nil {
		return "", fmt.Errorf("failed to unseal refresh token: %w", err)
	}

	newToken, newExpiry, err := m.exchanger.Exchange(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}

	if err := m.tenants.UpdateAccessToken(ctx, address, newToken, newExpiry); err != nil {
		// The token is still usable for this session even if persisting failed.
		m.log.WithField("tenant", address).WithError(err).Warn("Failed to persist refreshed access token")
	}

	m.log.WithFields(logrus.Fields{
		"tenant":     address,
		"expires_at": newExpiry,
	}).Info("Access token refreshed")

	return newToken, nil
}

func (m *Manager) state(address string) *tenantState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[address]
	if !ok {
		state = &tenantState{}
		m.states[address] = state
	}
	return state
}

func tokenUsable(token string, expiresAt *time.Time) bool {
	if token == "" {
		return false
	}
	if expiresAt == nil {
		return false
	}
	return time.Now().Before(expiresAt.Add(-expiryBuffer))
}
