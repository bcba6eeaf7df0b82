package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/db"
	"github.com/inboxsift/backend/internal/models"
	"github.com/inboxsift/backend/internal/retry"
)

// Processor drives a single new message through admission: dedup check,
// fetch, conversation id derivation, sent-mail gating, thread store admit,
// backfill reconciliation, classification handoff, and finally the watermark
// advance. The watermark is advanced last so a crash mid-cycle re-targets the
// same UID instead of losing it.
type Processor struct {
	threads    ThreadStore
	watermarks WatermarkStore
	reconciler *Reconciler
	classifier Classifier
	events     Events
	viewWindow int

	// sleep is replaceable in tests so retry delays do not run in real time.
	sleep func(time.Duration)
}

// NewProcessor wires the admission pipeline.
func NewProcessor(threads ThreadStore, watermarks WatermarkStore, reconciler *Reconciler, classifier Classifier, events Events, viewWindow int) *Processor {
	return &Processor{
		threads:    threads,
		watermarks: watermarks,
		reconciler: reconciler,
		classifier: classifier,
		events:     events,
		viewWindow: viewWindow,
		sleep:      time.Sleep,
	}
}

// ProcessUID handles one new message end to end. sentFolder marks which
// folder is "sent-like" for gating. The returned error is nil for every
// outcome that should not abort the drain cycle, including intentional drops.
func (p *Processor) ProcessUID(ctx context.Context, log *logrus.Entry, session MailSession, tenant string, uid int64, watchFolder, sentFolder string, folders []string) error {
	log = log.WithFields(logrus.Fields{"uid": uid, "folder": watchFolder})

	// A reconnect can recompute an already-drained delta; admitted members
	// are skipped without refetching. A failed check falls through to the
	// admit path, which is idempotent anyway.
	hasExec := retry.DurableStore[bool]()
	hasExec.Sleep = p.sleep
	has, _ := hasExec.Execute(log, "thread store dedup check", func() (bool, error) {
		return p.threads.HasMember(ctx, tenant, uid, watchFolder)
	})
	if has {
		log.Debug("Message already admitted, skipping")
		return p.advanceWatermark(ctx, log, tenant, uid)
	}

	fetchExec := retry.RemoteAPI[*models.MailMessage]()
	fetchExec.Sleep = p.sleep
	msg, err := fetchExec.Execute(log, "fetch message", func() (*models.MailMessage, error) {
		return session.FetchMessage(uid)
	})
	if err != nil || msg == nil {
		// Fallback is log-and-continue: leave the watermark alone so the
		// next cycle retries this UID.
		return nil
	}

	conversationID := deriveConversationID(msg, log)
	log = log.WithField("conversation_id", conversationID)

	if watchFolder == sentFolder {
		admit, err := p.gateSentMessage(ctx, log, tenant, msg, conversationID)
		if err != nil {
			return err
		}
		if !admit {
			return p.advanceWatermark(ctx, log, tenant, uid)
		}
	}

	// Admission failure must be visible: an Admitted-looking zero value
	// would let the watermark move past a message the store never saw.
	admitExec := retry.DurableStore[db.AdmitResult]()
	admitExec.Fallback = retry.Propagate
	admitExec.Sleep = p.sleep
	result, err := admitExec.Execute(log, "thread store admit", func() (db.AdmitResult, error) {
		return p.threads.UpsertMember(ctx, msg.ToMember(tenant, conversationID), msg.Subject)
	})
	if err != nil {
		// Not admitted; the watermark must not move past this UID.
		return nil
	}
	if result == db.Admitted {
		log.Info("Message admitted")
	}

	backfilled, err := p.reconciler.Reconcile(ctx, log, session, tenant, conversationID, msg, folders)
	if err != nil {
		log.WithError(err).Warn("Reconciliation failed, continuing")
	} else if backfilled > 0 {
		log.WithField("backfilled", backfilled).Info("Backfilled conversation members")
	}
	// Reconciliation moves folder selection; restore the watch folder.
	if _, err := session.SelectFolder(watchFolder); err != nil {
		return err
	}

	p.classify(ctx, log, tenant, conversationID)
	p.publish(tenant, conversationID, uid)

	return p.advanceWatermark(ctx, log, tenant, uid)
}

// gateSentMessage decides whether a sent-folder message may be admitted.
// Unthreaded sent mail is dropped on purpose: without a reply reference and
// an existing conversation it cannot be attributed to a monitored thread.
func (p *Processor) gateSentMessage(ctx context.Context, log *logrus.Entry, tenant string, msg *models.MailMessage, conversationID string) (bool, error) {
	if !msg.HasReplyReference() {
		log.Debug("Sent message has no reply reference, dropping")
		return false, nil
	}

	// A store failure here must not look like "conversation unknown", or a
	// legitimate reply would be dropped with the watermark advanced past it.
	existsExec := retry.DurableStore[bool]()
	existsExec.Fallback = retry.Propagate
	existsExec.Sleep = p.sleep
	exists, err := existsExec.Execute(log, "conversation existence check", func() (bool, error) {
		return p.threads.HasConversation(ctx, tenant, conversationID)
	})
	if err != nil {
		return false, err
	}
	if !exists {
		log.Debug("Sent message references unknown conversation, dropping")
		return false, nil
	}

	return true, nil
}

// classify hands the materialized view to the downstream pipeline. Exhausted
// retries degrade to an unclassified thread, never to a failed cycle.
func (p *Processor) classify(ctx context.Context, log *logrus.Entry, tenant, conversationID string) {
	if p.classifier == nil {
		return
	}
	viewExec := retry.DurableStore[*models.ConversationView]()
	viewExec.Sleep = p.sleep
	view, err := viewExec.Execute(log, "materialize conversation view", func() (*models.ConversationView, error) {
		return p.threads.GetConversation(ctx, tenant, conversationID, p.viewWindow)
	})
	if err != nil || view == nil {
		return
	}

	classifyExec := retry.RemoteAPI[struct{}]()
	classifyExec.Sleep = p.sleep
	_, _ = classifyExec.Execute(log, "classify conversation", func() (struct{}, error) {
		return struct{}{}, p.classifier.Classify(ctx, tenant, view)
	})
}

// advanceWatermark records the UID as fully processed. A storage failure is
// logged and swallowed: the thread store already has the message and the
// duplicate write will be retried by the next cycle.
func (p *Processor) advanceWatermark(ctx context.Context, log *logrus.Entry, tenant string, uid int64) error {
	exec := retry.DurableStore[struct{}]()
	exec.Fallback = retry.LogAndContinue
	exec.Sleep = p.sleep
	_, _ = exec.Execute(log, "advance watermark", func() (struct{}, error) {
		return struct{}{}, p.watermarks.AdvanceWatermark(ctx, tenant, uid)
	})
	return nil
}

// publish notifies event subscribers that a conversation changed.
func (p *Processor) publish(tenant, conversationID string, uid int64) {
	if p.events == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
		UID            int64  `json:"uid"`
	}{
		Type:           "thread_updated",
		ConversationID: conversationID,
		UID:            uid,
	})
	if err != nil {
		return
	}
	p.events.Send(tenant, payload)
}
