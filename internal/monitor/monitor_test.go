package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxsift/backend/internal/models"
)

func newTestMonitor(dialer Dialer, tokens TokenSource, threads *fakeThreadStore, watermarks *fakeWatermarkStore, classifier *fakeClassifier) *Monitor {
	cfg := Config{
		WatchFolder:       inboxFolder,
		SentFolder:        sentFolder,
		IdleTimeout:       30 * time.Millisecond,
		ReconnectDelay:    time.Millisecond,
		MaxReconnectTries: 3,
	}
	processor := newTestProcessor(threads, watermarks, classifier)
	m := New(testTenant, cfg, dialer, tokens, watermarks, processor, testEntry())
	m.sleep = func(time.Duration) {}
	return m
}

func waitDone(t *testing.T, m *Monitor) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop in time")
	}
}

func TestMonitorFreshTenantScenario(t *testing.T) {
	// Fresh tenant: no watermark, one message in the mailbox.
	session := newFakeSession()
	session.add(inboxFolder, &models.MailMessage{
		UID:       10,
		MessageID: "conv-A",
		Subject:   "Hello",
	})

	threads := newFakeThreadStore()
	watermarks := newFakeWatermarkStore()
	classifier := &fakeClassifier{}
	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	tokens := &fakeTokenSource{token: "token-1"}

	m := newTestMonitor(dialer, tokens, threads, watermarks, classifier)
	go m.Run()

	assert.Eventually(t, func() bool {
		wm := watermarks.get(testTenant)
		return wm != nil && *wm == 10
	}, 2*time.Second, 5*time.Millisecond, "watermark should reach 10")

	m.Stop()
	waitDone(t, m)

	assert.Equal(t, 1, threads.memberCount(testTenant, "conv-A"))
	assert.Equal(t, 1, classifier.callCount())
	assert.Equal(t, StateStopped, m.State())
	assert.True(t, session.closed)
}

func TestMonitorProcessesNotification(t *testing.T) {
	session := newFakeSession()
	session.add(inboxFolder, threadMsg(10, inboxFolder))

	threads := newFakeThreadStore()
	watermarks := newFakeWatermarkStore()
	classifier := &fakeClassifier{}
	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	tokens := &fakeTokenSource{token: "token-1"}

	m := newTestMonitor(dialer, tokens, threads, watermarks, classifier)
	go m.Run()

	assert.Eventually(t, func() bool {
		wm := watermarks.get(testTenant)
		return wm != nil && *wm == 10
	}, 2*time.Second, 5*time.Millisecond)

	// A new message arrives and the server notifies.
	session.add(inboxFolder, threadMsg(11, inboxFolder))
	session.notify <- true

	assert.Eventually(t, func() bool {
		wm := watermarks.get(testTenant)
		return wm != nil && *wm == 11
	}, 2*time.Second, 5*time.Millisecond, "notification should trigger a drain")

	m.Stop()
	waitDone(t, m)

	assert.Equal(t, 2, threads.memberCount(testTenant, testThreadID))
}

func TestMonitorGivesUpAfterConnectFailures(t *testing.T) {
	threads := newFakeThreadStore()
	watermarks := newFakeWatermarkStore()
	classifier := &fakeClassifier{}
	dialer := &fakeDialer{err: fmt.Errorf("connection refused")}
	tokens := &fakeTokenSource{token: "token-1"}

	m := newTestMonitor(dialer, tokens, threads, watermarks, classifier)
	go m.Run()

	waitDone(t, m)

	assert.Equal(t, 3, dialer.dials)
	assert.Equal(t, 1, m.FatalErrors())
	assert.Equal(t, StateStopped, m.State())
}

func TestMonitorReconnectsOnTokenRotation(t *testing.T) {
	first := newFakeSession()
	first.add(inboxFolder, threadMsg(10, inboxFolder))
	second := newFakeSession()
	second.add(inboxFolder, threadMsg(10, inboxFolder))
	second.add(inboxFolder, threadMsg(11, inboxFolder))

	threads := newFakeThreadStore()
	watermarks := newFakeWatermarkStore()
	classifier := &fakeClassifier{}
	dialer := &fakeDialer{sessions: []*fakeSession{first, second}}
	tokens := &fakeTokenSource{token: "token-1"}

	m := newTestMonitor(dialer, tokens, threads, watermarks, classifier)
	go m.Run()

	assert.Eventually(t, func() bool {
		wm := watermarks.get(testTenant)
		return wm != nil && *wm == 10
	}, 2*time.Second, 5*time.Millisecond)

	tokens.set("token-2")

	assert.Eventually(t, func() bool {
		return first.closed
	}, 2*time.Second, 5*time.Millisecond, "rotated token should force a reconnect")

	assert.Eventually(t, func() bool {
		wm := watermarks.get(testTenant)
		return wm != nil && *wm == 11
	}, 2*time.Second, 5*time.Millisecond, "the new session should drain the backlog")

	m.Stop()
	waitDone(t, m)

	require.Equal(t, 2, dialer.dials)
}

func TestMonitorQuietTimeoutSendsKeepalive(t *testing.T) {
	session := newFakeSession()
	session.add(inboxFolder, threadMsg(10, inboxFolder))

	threads := newFakeThreadStore()
	watermarks := newFakeWatermarkStore()
	classifier := &fakeClassifier{}
	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	tokens := &fakeTokenSource{token: "token-1"}

	m := newTestMonitor(dialer, tokens, threads, watermarks, classifier)
	go m.Run()

	assert.Eventually(t, func() bool {
		wm := watermarks.get(testTenant)
		return wm != nil && *wm == 10
	}, 2*time.Second, 5*time.Millisecond)
	searchesAfterDrain := session.searches()

	// Each quiet idle timeout sends a keep-alive instead of draining.
	assert.Eventually(t, func() bool {
		return session.keepalives() >= 2
	}, 2*time.Second, 5*time.Millisecond, "idle timeouts should send keep-alives")
	assert.Equal(t, searchesAfterDrain, session.searches(), "a quiet mailbox should not be re-searched")

	m.Stop()
	waitDone(t, m)
}

func TestMonitorReconnectsOnKeepaliveFailure(t *testing.T) {
	first := newFakeSession()
	first.keepaliveErr = fmt.Errorf("connection reset")
	first.add(inboxFolder, threadMsg(10, inboxFolder))
	second := newFakeSession()
	second.add(inboxFolder, threadMsg(10, inboxFolder))

	threads := newFakeThreadStore()
	watermarks := newFakeWatermarkStore()
	classifier := &fakeClassifier{}
	dialer := &fakeDialer{sessions: []*fakeSession{first, second}}
	tokens := &fakeTokenSource{token: "token-1"}

	m := newTestMonitor(dialer, tokens, threads, watermarks, classifier)
	go m.Run()

	assert.Eventually(t, func() bool {
		return first.closed && dialer.dialCount() == 2
	}, 2*time.Second, 5*time.Millisecond, "a failed keep-alive should force a reconnect")

	m.Stop()
	waitDone(t, m)

	assert.Equal(t, StateStopped, m.State())
}

func TestMonitorStopIsCooperative(t *testing.T) {
	session := newFakeSession()
	threads := newFakeThreadStore()
	watermarks := newFakeWatermarkStore()
	classifier := &fakeClassifier{}
	dialer := &fakeDialer{sessions: []*fakeSession{session}}
	tokens := &fakeTokenSource{token: "token-1"}

	m := newTestMonitor(dialer, tokens, threads, watermarks, classifier)
	go m.Run()

	// Stop while the monitor is blocked in idle-wait.
	assert.Eventually(t, func() bool {
		return m.State() == StateIdleWait
	}, 2*time.Second, time.Millisecond)

	m.Stop()
	waitDone(t, m)

	assert.Equal(t, StateStopped, m.State())
	assert.True(t, session.closed)
	// Stop is idempotent.
	m.Stop()
}
