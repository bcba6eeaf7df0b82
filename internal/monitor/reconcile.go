package monitor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/models"
)

// Reconciler backfills conversations: it finds messages that exist in the
// mail store but are missing from the thread store and admits them. A
// conversation is expected to span the inbox and sent folders, so both are
// scanned.
type Reconciler struct {
	threads ThreadStore
}

// NewReconciler creates a reconciler over the given thread store.
func NewReconciler(threads ThreadStore) *Reconciler {
	return &Reconciler{threads: threads}
}

// Reconcile scans the given folders for members of the conversation that the
// thread store does not have yet and admits them. The triggering message is
// skipped (the caller admits it itself). Admission is best-effort per item:
// a single fetch or store failure is logged and skipped. A folder that cannot
// be selected or searched is logged and skipped as a whole. The return value
// is the number of members admitted.
func (r *Reconciler) Reconcile(ctx context.Context, log *logrus.Entry, session MailSession, tenant, conversationID string, trigger *models.MailMessage, folders []string) (int, error) {
	existing, err := r.threads.DedupKeys(ctx, tenant, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load dedup keys: %w", err)
	}

	admitted := 0
	for _, folder := range folders {
		n, err := r.reconcileFolder(ctx, log, session, tenant, conversationID, trigger, folder, existing)
		if err != nil {
			log.WithFields(logrus.Fields{
				"folder":          folder,
				"conversation_id": conversationID,
			}).WithError(err).Warn("Skipping folder during reconciliation")
			continue
		}
		admitted += n
	}

	return admitted, nil
}

func (r *Reconciler) reconcileFolder(ctx context.Context, log *logrus.Entry, session MailSession, tenant, conversationID string, trigger *models.MailMessage, folder string, existing map[models.DedupKey]struct{}) (int, error) {
	if _, err := session.SelectFolder(folder); err != nil {
		return 0, err
	}

	uids, err := r.searchConversation(session, conversationID, trigger, folder)
	if err != nil {
		return 0, err
	}

	admitted := 0
	for _, uid := range uids {
		key := models.DedupKey{UID: uid, Folder: folder}
		if _, ok := existing[key]; ok {
			continue
		}
		if trigger != nil && uid == trigger.UID && folder == trigger.Folder {
			continue
		}

		msg, err := session.FetchMessage(uid)
		if err != nil {
			log.WithFields(logrus.Fields{
				"uid":    uid,
				"folder": folder,
			}).WithError(err).Warn("Failed to fetch backfill candidate, skipping")
			continue
		}

		member := msg.ToMember(tenant, conversationID)
		if _, err := r.threads.UpsertMember(ctx, member, msg.Subject); err != nil {
			log.WithFields(logrus.Fields{
				"uid":    uid,
				"folder": folder,
			}).WithError(err).Warn("Failed to admit backfill candidate, skipping")
			continue
		}

		existing[key] = struct{}{}
		admitted++
	}

	return admitted, nil
}

// searchConversation finds all UIDs in the selected folder that belong to the
// conversation. Thread-id-keyed conversations search by the store's thread id
// header. Message-id-keyed conversations can only find the one known message
// by header, so the reply chain is widened with server-side REFERENCES
// threading when the triggering message lives in this folder.
func (r *Reconciler) searchConversation(session MailSession, conversationID string, trigger *models.MailMessage, folder string) ([]int64, error) {
	if threadIDPattern.MatchString(conversationID) {
		return session.SearchByHeader("X-GM-THRID", conversationID)
	}

	uids, err := session.SearchByHeader("Message-ID", conversationID)
	if err != nil {
		return nil, err
	}

	if trigger != nil && trigger.Folder == folder && trigger.HasReplyReference() {
		siblings, err := session.SiblingUIDs(trigger.UID)
		if err != nil {
			return nil, err
		}
		uids = mergeUIDs(uids, siblings)
	}

	return uids, nil
}

func mergeUIDs(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	merged := make([]int64, 0, len(a)+len(b))
	for _, uid := range a {
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			merged = append(merged, uid)
		}
	}
	for _, uid := range b {
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			merged = append(merged, uid)
		}
	}
	return merged
}
