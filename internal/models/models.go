package models

import (
	"strings"
	"time"
)

// Tenant is one monitored mailbox.
type Tenant struct {
	ID             string     `json:"id"`
	Address        string     `json:"address"`
	DisplayName    string     `json:"display_name"`
	AccessToken    string     `json:"-"`
	TokenExpiresAt *time.Time `json:"-"`
	Active         bool       `json:"active"`
	Monitoring     bool       `json:"monitoring"`
	Watermark      *int64     `json:"watermark"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Conversation groups related messages for one tenant.
type Conversation struct {
	ID             string    `json:"id"`
	Tenant         string    `json:"tenant"`
	ConversationID string    `json:"conversation_id"`
	Subject        string    `json:"subject"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Member is one mail item belonging to exactly one conversation and tenant.
// Members are immutable once stored; duplicate admits are no-ops.
type Member struct {
	Tenant         string     `json:"tenant"`
	ConversationID string     `json:"conversation_id"`
	UID            int64      `json:"uid"`
	Folder         string     `json:"folder"`
	MessageID      string     `json:"message_id"`
	SentAt         *time.Time `json:"sent_at"`
	Sender         string     `json:"sender"`
	BodyText       string     `json:"body_text"`
}

// DedupKey identifies a member within a conversation. The same UID can appear
// once per folder.
type DedupKey struct {
	UID    int64
	Folder string
}

// ConversationView is the bounded, chronologically ordered window handed to the
// classification pipeline.
type ConversationView struct {
	ConversationID string   `json:"conversation_id"`
	Subject        string   `json:"subject"`
	Members        []Member `json:"members"`
	TotalMembers   int      `json:"total_members"`
	OlderCount     int      `json:"older_count"`
}

// MailMessage is a message as fetched and parsed from the mail store.
type MailMessage struct {
	UID            int64
	Folder         string
	MessageID      string
	ThreadIDHeader string
	InReplyTo      string
	References     string
	SentAt         *time.Time
	Sender         string
	Subject        string
	BodyText       string
}

// HasReplyReference reports whether the message carries an In-Reply-To or
// References header. Sent mail without one cannot be attributed to a
// monitored conversation.
func (m *MailMessage) HasReplyReference() bool {
	return strings.TrimSpace(m.InReplyTo) != "" || strings.TrimSpace(m.References) != ""
}

// ToMember converts a parsed mail message into a stored conversation member.
func (m *MailMessage) ToMember(tenant, conversationID string) Member {
	return Member{
		Tenant:         tenant,
		ConversationID: conversationID,
		UID:            m.UID,
		Folder:         m.Folder,
		MessageID:      m.MessageID,
		SentAt:         m.SentAt,
		Sender:         m.Sender,
		BodyText:       m.BodyText,
	}
}
