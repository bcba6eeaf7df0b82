package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxsift/backend/internal/models"
)

const (
	testTenant   = "alice@example.com"
	inboxFolder  = "INBOX"
	sentFolder   = "[Gmail]/Sent Mail"
	testThreadID = "555000111"
)

func testEntry() *logrus.Entry {
	log, _ := logrustest.NewNullLogger()
	return logrus.NewEntry(log)
}

func threadMsg(uid int64, folder string) *models.MailMessage {
	sentAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(uid) * time.Hour)
	return &models.MailMessage{
		UID:            uid,
		Folder:         folder,
		MessageID:      fmt.Sprintf("<m-%d@example.com>", uid),
		ThreadIDHeader: testThreadID,
		SentAt:         &sentAt,
		Subject:        "Thread subject",
	}
}

func TestReconcileConvergence(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession()
	threads := newFakeThreadStore()
	reconciler := NewReconciler(threads)

	// Five matching messages across two folders.
	session.add(inboxFolder, threadMsg(1, inboxFolder))
	session.add(inboxFolder, threadMsg(2, inboxFolder))
	session.add(inboxFolder, threadMsg(3, inboxFolder))
	session.add(sentFolder, threadMsg(10, sentFolder))
	session.add(sentFolder, threadMsg(11, sentFolder))

	// Two already admitted.
	_, err := threads.UpsertMember(ctx, threadMsg(1, inboxFolder).ToMember(testTenant, testThreadID), "Thread subject")
	require.NoError(t, err)
	_, err = threads.UpsertMember(ctx, threadMsg(10, sentFolder).ToMember(testTenant, testThreadID), "Thread subject")
	require.NoError(t, err)

	admitted, err := reconciler.Reconcile(ctx, testEntry(), session, testTenant, testThreadID, nil, []string{inboxFolder, sentFolder})
	require.NoError(t, err)
	assert.Equal(t, 3, admitted)
	assert.Equal(t, 5, threads.memberCount(testTenant, testThreadID))

	// A second pass is a pure no-op.
	admitted, err = reconciler.Reconcile(ctx, testEntry(), session, testTenant, testThreadID, nil, []string{inboxFolder, sentFolder})
	require.NoError(t, err)
	assert.Equal(t, 0, admitted)
	assert.Equal(t, 5, threads.memberCount(testTenant, testThreadID))
}

func TestReconcileSkipsTriggeringMessage(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession()
	threads := newFakeThreadStore()
	reconciler := NewReconciler(threads)

	trigger := threadMsg(3, inboxFolder)
	session.add(inboxFolder, threadMsg(1, inboxFolder))
	session.add(inboxFolder, trigger)

	admitted, err := reconciler.Reconcile(ctx, testEntry(), session, testTenant, testThreadID, trigger, []string{inboxFolder})
	require.NoError(t, err)
	assert.Equal(t, 1, admitted)

	// The trigger itself was not admitted by the reconciler.
	has, err := threads.HasMember(ctx, testTenant, 3, inboxFolder)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestReconcileSkipsBrokenFolder(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession()
	threads := newFakeThreadStore()
	reconciler := NewReconciler(threads)

	session.add(inboxFolder, threadMsg(1, inboxFolder))
	session.add(sentFolder, threadMsg(10, sentFolder))
	session.selectErr[sentFolder] = fmt.Errorf("folder gone")

	admitted, err := reconciler.Reconcile(ctx, testEntry(), session, testTenant, testThreadID, nil, []string{inboxFolder, sentFolder})
	require.NoError(t, err)
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, threads.memberCount(testTenant, testThreadID))
}

func TestReconcileSkipsFailedFetch(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession()
	threads := newFakeThreadStore()
	reconciler := NewReconciler(threads)

	session.add(inboxFolder, threadMsg(1, inboxFolder))
	session.add(inboxFolder, threadMsg(2, inboxFolder))
	session.fetchErr[2] = fmt.Errorf("fetch failed")

	admitted, err := reconciler.Reconcile(ctx, testEntry(), session, testTenant, testThreadID, nil, []string{inboxFolder})
	require.NoError(t, err)
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, threads.memberCount(testTenant, testThreadID))
}

func TestReconcileMessageIDKeyedUsesReplyChain(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession()
	threads := newFakeThreadStore()
	reconciler := NewReconciler(threads)

	root := &models.MailMessage{UID: 1, MessageID: "<root@example.com>", Subject: "Hello"}
	reply := &models.MailMessage{
		UID:       2,
		MessageID: "<reply@example.com>",
		InReplyTo: "<root@example.com>",
		Subject:   "Re: Hello",
	}
	session.add(inboxFolder, root)
	session.add(inboxFolder, reply)

	conversationID := "<root@example.com>"
	admitted, err := reconciler.Reconcile(ctx, testEntry(), session, testTenant, conversationID, reply, []string{inboxFolder})
	require.NoError(t, err)

	// The reply chain pulled in the root; the trigger itself was skipped.
	assert.Equal(t, 1, admitted)
	has, err := threads.HasMember(ctx, testTenant, 1, inboxFolder)
	require.NoError(t, err)
	assert.True(t, has)
}
