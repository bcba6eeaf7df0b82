package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inboxsift/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTenantNotFound is returned when a requested tenant cannot be found.
var ErrTenantNotFound = errors.New("tenant not found")

// TenantStore persists tenant records, their credentials, and their
// per-tenant watermarks.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a TenantStore backed by the given pool.
func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

// Upsert creates a tenant, or reactivates an existing one and replaces its
// stored credentials. Deactivated tenants keep their data; this is the only
// path back to active.
func (s *TenantStore) Upsert(ctx context.Context, address, displayName string, refreshTokenEnc []byte, accessToken string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (address, display_name, refresh_token_enc, access_token, token_expires_at, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (address) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			access_token = EXCLUDED.access_token,
			token_expires_at = EXCLUDED.token_expires_at,
			active = TRUE
	`, address, displayName, refreshTokenEnc, accessToken, expiresAt)

	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}

	return nil
}

// Get returns a tenant by mailbox address.
func (s *TenantStore) Get(ctx context.Context, address string) (*models.Tenant, error) {
	var tenant models.Tenant

	err := s.pool.QueryRow(ctx, `
		SELECT id, address, display_name, access_token, token_expires_at, active, monitoring, watermark, created_at
		FROM tenants
		WHERE address = $1
	`, address).Scan(
		&tenant.ID,
		&tenant.Address,
		&tenant.DisplayName,
		&tenant.AccessToken,
		&tenant.TokenExpiresAt,
		&tenant.Active,
		&tenant.Monitoring,
		&tenant.Watermark,
		&tenant.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}

// ListActive returns all tenants flagged active.
func (s *TenantStore) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, address, display_name, access_token, token_expires_at, active, monitoring, watermark, created_at
		FROM tenants
		WHERE active
		ORDER BY created_at
	`)

	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var tenant models.Tenant
		if err := rows.Scan(
			&tenant.ID,
			&tenant.Address,
			&tenant.DisplayName,
			&tenant.AccessToken,
			&tenant.TokenExpiresAt,
			&tenant.Active,
			&tenant.Monitoring,
			&tenant.Watermark,
			&tenant.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, &tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// SetMonitoring records whether a monitor is currently running for the tenant.
func (s *TenantStore) SetMonitoring(ctx context.Context, address string, monitoring bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tenants SET monitoring = $2 WHERE address = $1
	`, address, monitoring)

	if err != nil {
		return fmt.Errorf("failed to set monitoring flag: %w", err)
	}

	return nil
}

// Deactivate stops monitoring for a tenant but keeps all stored data.
func (s *TenantStore) Deactivate(ctx context.Context, address string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tenants SET active = FALSE, monitoring = FALSE WHERE address = $1
	`, address)

	if err != nil {
		return fmt.Errorf("failed to deactivate tenant: %w", err)
	}

	return nil
}

// Credentials returns the sealed refresh token and the current access token
// for a tenant.
func (s *TenantStore) Credentials(ctx context.Context, address string) ([]byte, string, *time.Time, error) {
	var refreshTokenEnc []byte
	var accessToken string
	var expiresAt *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT refresh_token_enc, access_token, token_expires_at
		FROM tenants
		WHERE address = $1
	`, address).Scan(&refreshTokenEnc, &accessToken, &expiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil, ErrTenantNotFound
	}

	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return refreshTokenEnc, accessToken, expiresAt, nil
}

// UpdateAccessToken stores a freshly issued access token.
func (s *TenantStore) UpdateAccessToken(ctx context.Context, address, accessToken string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tenants SET access_token = $2, token_expires_at = $3 WHERE address = $1
	`, address, accessToken, expiresAt)

	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}

	return nil
}

// GetWatermark returns the highest fully processed UID for a tenant, or nil
// when the tenant was never initialized.
func (s *TenantStore) GetWatermark(ctx context.Context, address string) (*int64, error) {
	var watermark *int64

	err := s.pool.QueryRow(ctx, `
		SELECT watermark FROM tenants WHERE address = $1
	`, address).Scan(&watermark)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	return watermark, nil
}

// AdvanceWatermark sets the tenant's watermark. This is an unconditional
// last-writer-wins set: the monitor's sequential per-tenant processing is what
// guarantees monotonicity, not the store.
func (s *TenantStore) AdvanceWatermark(ctx context.Context, address string, uid int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tenants SET watermark = $2, watermark_updated_at = now() WHERE address = $1
	`, address, uid)

	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	return nil
}

// InitializeWatermarkFromLatest sets the watermark to the highest UID
// currently visible in the mailbox, meaning "everything up to now is already
// seen". The NULL guard makes a racing second call a no-op, so a supervisor
// restart cannot rewind an initialized tenant.
func (s *TenantStore) InitializeWatermarkFromLatest(ctx context.Context, address string, maxUID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tenants
		SET watermark = $2, watermark_updated_at = now()
		WHERE address = $1 AND watermark IS NULL
	`, address, maxUID)

	if err != nil {
		return fmt.Errorf("failed to initialize watermark: %w", err)
	}

	return nil
}
