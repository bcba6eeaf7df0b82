package monitor

import (
	"context"
	"time"

	"github.com/inboxsift/backend/internal/db"
	"github.com/inboxsift/backend/internal/models"
)

// MailSession is the part of an IMAP session the monitor consumes. Satisfied
// by *imap.Session.
type MailSession interface {
	SelectFolder(name string) (uint32, error)
	SearchAllUIDs() ([]int64, error)
	SearchSinceUID(watermark int64) ([]int64, error)
	SearchByHeader(name, value string) ([]int64, error)
	FetchMessage(uid int64) (*models.MailMessage, error)
	SiblingUIDs(uid int64) ([]int64, error)
	WaitForNotification(ctx context.Context, timeout time.Duration) (bool, error)
	Keepalive() error
	Close() error
}

// Dialer establishes an authenticated mail session for a tenant.
type Dialer interface {
	Dial(ctx context.Context, tenant string) (MailSession, error)
}

// TokenSource hands out the tenant's current access token. The monitor uses
// it to detect token rotation while a long-lived connection is open.
type TokenSource interface {
	AccessToken(ctx context.Context, tenant string) (string, error)
}

// WatermarkStore persists the per-tenant high-water mark. Satisfied by
// *db.TenantStore.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, tenant string) (*int64, error)
	AdvanceWatermark(ctx context.Context, tenant string, uid int64) error
	InitializeWatermarkFromLatest(ctx context.Context, tenant string, baseline int64) error
}

// ThreadStore is the durable conversation store. Satisfied by
// *db.ThreadStore.
type ThreadStore interface {
	UpsertMember(ctx context.Context, member models.Member, subject string) (db.AdmitResult, error)
	GetConversation(ctx context.Context, tenant, conversationID string, limit int) (*models.ConversationView, error)
	DedupKeys(ctx context.Context, tenant, conversationID string) (map[models.DedupKey]struct{}, error)
	HasMember(ctx context.Context, tenant string, uid int64, folder string) (bool, error)
	HasConversation(ctx context.Context, tenant, conversationID string) (bool, error)
}

// Classifier is the downstream enrichment pipeline. A classification failure
// never blocks admission; the thread simply stays unclassified.
type Classifier interface {
	Classify(ctx context.Context, tenant string, view *models.ConversationView) error
}

// Events receives per-tenant notifications about stored thread changes.
// Satisfied by *websocket.Hub.
type Events interface {
	Send(tenant string, payload []byte)
}
