// Package apply writes classification verdicts back to the tenant's mailbox:
// intent and sentiment labels as IMAP keyword flags, and generated replies as
// drafts or direct SMTP sends.
package apply

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/models"
	"github.com/inboxsift/backend/internal/pipeline"
)

// MailSession is the slice of an IMAP session the applier needs.
type MailSession interface {
	SelectFolder(name string) (uint32, error)
	AddKeyword(uid int64, keyword string) error
	Append(folder string, flags []string, raw []byte) error
	Close() error
}

// Dialer opens an authenticated mail session for a tenant.
type Dialer interface {
	Dial(ctx context.Context, tenant string) (MailSession, error)
}

// Config controls where verdicts land.
type Config struct {
	DraftsFolder string
	// SMTPServer enables direct sending of generated replies. When empty,
	// replies are saved as drafts instead.
	SMTPServer string
}

// Applier applies classification results to the mailbox the messages came
// from. Label failures on individual messages are logged and skipped; a
// failed reply save fails the whole application.
type Applier struct {
	dialer Dialer
	sender ReplySender
	cfg    Config
	log    *logrus.Logger
}

// NewApplier creates an applier. sender may be nil when Config.SMTPServer is
// empty.
func NewApplier(dialer Dialer, sender ReplySender, cfg Config, log *logrus.Logger) *Applier {
	return &Applier{dialer: dialer, sender: sender, cfg: cfg, log: log}
}

// Apply labels every stored member of the conversation and handles the reply
// draft, if the verdict carries one.
func (a *Applier) Apply(ctx context.Context, tenant string, view *models.ConversationView, result *pipeline.ClassificationResult) error {
	session, err := a.dialer.Dial(ctx, tenant)
	if err != nil {
		return fmt.Errorf("failed to connect for label application: %w", err)
	}
	defer func() { _ = session.Close() }()

	intentLabel := pipeline.IntentLabel(result.Intent)
	sentimentLabel := pipeline.SentimentLabel(result.Sentiment)

	log := a.log.WithFields(logrus.Fields{
		"tenant":          tenant,
		"conversation_id": view.ConversationID,
	})

	a.applyLabels(log, session, view, intentLabel, sentimentLabel)

	if result.ReplyDraft == "" {
		return nil
	}
	return a.handleReply(ctx, log, session, tenant, view, result.ReplyDraft)
}

// applyLabels sets the intent and sentiment keywords on every member,
// folder by folder. A member that cannot be flagged is skipped.
func (a *Applier) applyLabels(log *logrus.Entry, session MailSession, view *models.ConversationView, labels ...string) {
	byFolder := make(map[string][]models.Member)
	for _, member := range view.Members {
		byFolder[member.Folder] = append(byFolder[member.Folder], member)
	}

	for folder, members := range byFolder {
		if _, err := session.SelectFolder(folder); err != nil {
			log.WithError(err).WithField("folder", folder).Warn("Failed to select folder for labeling")
			continue
		}
		for _, member := range members {
			for _, label := range labels {
				if err := session.AddKeyword(member.UID, label); err != nil {
					log.WithError(err).WithFields(logrus.Fields{
						"folder": folder,
						"uid":    member.UID,
						"label":  label,
					}).Warn("Failed to apply label")
				}
			}
		}
	}
}

// handleReply saves the reply as an IMAP draft, or sends it directly when an
// SMTP server is configured.
func (a *Applier) handleReply(ctx context.Context, log *logrus.Entry, session MailSession, tenant string, view *models.ConversationView, reply string) error {
	latest := latestMember(view)
	if latest == nil {
		log.Warn("Conversation has no members to reply to")
		return nil
	}

	draft, err := BuildReply(tenant, latest, view.Subject, reply)
	if err != nil {
		return fmt.Errorf("failed to build reply: %w", err)
	}

	if a.cfg.SMTPServer != "" && a.sender != nil {
		// RCPT takes the bare address, not the display form.
		_, recipient := splitAddress(latest.Sender)
		if err := a.sender.Send(ctx, tenant, recipient, draft); err != nil {
			return fmt.Errorf("failed to send reply: %w", err)
		}
		log.WithField("to", recipient).Info("Reply sent")
		return nil
	}

	if err := session.Append(a.cfg.DraftsFolder, []string{`\Draft`}, draft); err != nil {
		return fmt.Errorf("failed to save reply draft: %w", err)
	}
	log.WithField("folder", a.cfg.DraftsFolder).Info("Reply draft saved")
	return nil
}

// latestMember returns the newest member of the view. Members arrive in
// chronological order, so that is the last one.
func latestMember(view *models.ConversationView) *models.Member {
	if len(view.Members) == 0 {
		return nil
	}
	return &view.Members[len(view.Members)-1]
}
