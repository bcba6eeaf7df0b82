package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/inboxsift/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConversationNotFound is returned when a requested conversation cannot be found.
var ErrConversationNotFound = errors.New("conversation not found")

// AdmitResult reports the outcome of a member upsert.
type AdmitResult int

const (
	// Admitted means a new member row was stored.
	Admitted AdmitResult = iota
	// Duplicate means the (uid, folder) pair was already present; nothing changed.
	Duplicate
)

// ThreadStore persists conversations and their member messages. Member writes
// are append-only and unordered; chronological ordering is applied at read time.
type ThreadStore struct {
	pool *pgxpool.Pool
}

// NewThreadStore creates a ThreadStore backed by the given pool.
func NewThreadStore(pool *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{pool: pool}
}

// UpsertMember admits a member into its conversation. Re-submitting an
// already-present (uid, folder) pair for the same conversation is a no-op
// returning Duplicate, not an error. The conversation record is created on
// first admit; its subject is taken from that first message and kept.
func (s *ThreadStore) UpsertMember(ctx context.Context, member models.Member, subject string) (AdmitResult, error) {
	var memberID string

	err := s.pool.QueryRow(ctx, `
		INSERT INTO members (tenant, conversation_id, uid, folder, message_id, sent_at, sender, body_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant, conversation_id, uid, folder) DO NOTHING
		RETURNING id
	`,
		member.Tenant,
		member.ConversationID,
		member.UID,
		member.Folder,
		member.MessageID,
		member.SentAt,
		member.Sender,
		member.BodyText,
	).Scan(&memberID)

	if errors.Is(err, pgx.ErrNoRows) {
		return Duplicate, nil
	}

	if err != nil {
		return Duplicate, fmt.Errorf("failed to admit member: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (tenant, conversation_id, subject)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant, conversation_id) DO UPDATE SET
			updated_at = now()
	`, member.Tenant, member.ConversationID, subject)

	if err != nil {
		return Admitted, fmt.Errorf("failed to update conversation: %w", err)
	}

	return Admitted, nil
}

// GetConversation returns the most recent limit members of a conversation in
// chronological order, with the total member count and how many older members
// exist beyond the window. Members with an unparseable or absent send date
// sort after all dated members, in arrival order among themselves.
func (s *ThreadStore) GetConversation(ctx context.Context, tenant, conversationID string, limit int) (*models.ConversationView, error) {
	var subject string
	err := s.pool.QueryRow(ctx, `
		SELECT subject FROM conversations WHERE tenant = $1 AND conversation_id = $2
	`, tenant, conversationID).Scan(&subject)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT tenant, conversation_id, uid, folder, message_id, sent_at, sender, body_text
		FROM members
		WHERE tenant = $1 AND conversation_id = $2
		ORDER BY sent_at ASC NULLS LAST, admitted_seq ASC
	`, tenant, conversationID)

	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(
			&m.Tenant,
			&m.ConversationID,
			&m.UID,
			&m.Folder,
			&m.MessageID,
			&m.SentAt,
			&m.Sender,
			&m.BodyText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	total := len(members)
	window := members
	if limit > 0 && total > limit {
		window = members[total-limit:]
	}

	return &models.ConversationView{
		ConversationID: conversationID,
		Subject:        subject,
		Members:        window,
		TotalMembers:   total,
		OlderCount:     total - len(window),
	}, nil
}

// DedupKeys returns the true on-disk (uid, folder) key set of a conversation.
// The reconciler diffs mail-store search results against this.
func (s *ThreadStore) DedupKeys(ctx context.Context, tenant, conversationID string) (map[models.DedupKey]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uid, folder FROM members WHERE tenant = $1 AND conversation_id = $2
	`, tenant, conversationID)

	if err != nil {
		return nil, fmt.Errorf("failed to get dedup keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[models.DedupKey]struct{})
	for rows.Next() {
		var key models.DedupKey
		if err := rows.Scan(&key.UID, &key.Folder); err != nil {
			return nil, fmt.Errorf("failed to scan dedup key: %w", err)
		}
		keys[key] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dedup keys: %w", err)
	}

	return keys, nil
}

// HasMember reports whether the (uid, folder) pair is already stored for the
// tenant in any conversation. The monitor uses this to skip redundant delta
// entries across reconnects.
func (s *ThreadStore) HasMember(ctx context.Context, tenant string, uid int64, folder string) (bool, error) {
	var exists bool

	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM members WHERE tenant = $1 AND uid = $2 AND folder = $3)
	`, tenant, uid, folder).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check member existence: %w", err)
	}

	return exists, nil
}

// HasConversation reports whether a conversation exists for the tenant. Sent
// mail referencing an unknown conversation is dropped by the monitor.
func (s *ThreadStore) HasConversation(ctx context.Context, tenant, conversationID string) (bool, error) {
	var exists bool

	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE tenant = $1 AND conversation_id = $2)
	`, tenant, conversationID).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check conversation existence: %w", err)
	}

	return exists, nil
}
