package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/credentials"
	"github.com/inboxsift/backend/internal/retry"
)

// State is the monitor's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdleWait
	StateDraining
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdleWait:
		return "idle-wait"
	case StateDraining:
		return "draining"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// notifySearchRetryDelay is the single short wait before re-searching when a
// notification arrived but the search came back empty (the message can land
// a moment after the unilateral update).
const notifySearchRetryDelay = 2 * time.Second

// Config carries the per-monitor tuning knobs.
type Config struct {
	WatchFolder       string
	SentFolder        string
	IdleTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectTries int
}

// Monitor owns one tenant's live mailbox connection and runs the
// notify/drain loop. All of its I/O is synchronous; concurrency across
// tenants comes from running one Monitor goroutine each.
type Monitor struct {
	tenant     string
	cfg        Config
	dialer     Dialer
	tokens     TokenSource
	watermarks WatermarkStore
	processor  *Processor
	log        *logrus.Entry

	state  atomic.Int32
	fatals atomic.Int32

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	// wmMu serializes read-maybe-initialize-advance watermark cycles in case
	// two workers for the same tenant briefly coexist during a supervisor
	// restart race.
	wmMu sync.Mutex

	tokenFingerprint string

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// New creates a monitor for one tenant. Call Run on its own goroutine.
func New(tenant string, cfg Config, dialer Dialer, tokens TokenSource, watermarks WatermarkStore, processor *Processor, log *logrus.Entry) *Monitor {
	return &Monitor{
		tenant:     tenant,
		cfg:        cfg,
		dialer:     dialer,
		tokens:     tokens,
		watermarks: watermarks,
		processor:  processor,
		log:        log,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		sleep:      time.Sleep,
	}
}

// Tenant returns the monitored tenant address.
func (m *Monitor) Tenant() string { return m.tenant }

// State returns the current lifecycle state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// FatalErrors returns the count of consecutive failed cycles. It resets on
// the first successful drain.
func (m *Monitor) FatalErrors() int { return int(m.fatals.Load()) }

// Done is closed when the monitor goroutine has fully exited.
func (m *Monitor) Done() <-chan struct{} { return m.doneCh }

// Stop requests a cooperative shutdown. The request is honored at the next
// loop iteration boundary; Done signals completion.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) setState(s State) { m.state.Store(int32(s)) }

func (m *Monitor) stopping() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// Run drives the connection lifecycle until Stop is called or connecting
// gives up for the cycle. It blocks; run it on a dedicated goroutine.
func (m *Monitor) Run() {
	defer close(m.doneCh)
	defer m.setState(StateStopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-m.doneCh:
		}
	}()

	for {
		if m.stopping() {
			return
		}

		session, ok := m.connect(ctx)
		if !ok {
			if !m.stopping() {
				// Give up for this cycle; the supervisor sweep will start
				// a fresh monitor.
				m.fatals.Add(1)
				m.log.Warn("Connection attempts exhausted, monitor exiting")
			}
			return
		}

		m.serve(ctx, session)

		if m.stopping() {
			return
		}
		m.setState(StateReconnecting)
		m.sleep(m.cfg.ReconnectDelay)
	}
}

// connect dials with bounded retry: attempt × base delay between tries,
// giving up after the configured attempt count.
func (m *Monitor) connect(ctx context.Context) (MailSession, bool) {
	m.setState(StateConnecting)

	for attempt := 1; attempt <= m.cfg.MaxReconnectTries; attempt++ {
		if m.stopping() {
			return nil, false
		}

		session, err := m.dialer.Dial(ctx, m.tenant)
		if err == nil {
			m.recordTokenFingerprint(ctx)
			m.log.WithField("attempt", attempt).Info("Connected to mail store")
			return session, true
		}

		m.log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": m.cfg.MaxReconnectTries,
		}).WithError(err).Warn("Failed to connect to mail store")

		if attempt < m.cfg.MaxReconnectTries {
			m.sleep(time.Duration(attempt) * m.cfg.ReconnectDelay)
		}
	}

	return nil, false
}

// serve runs drain/idle cycles on an established session until the session
// breaks, the token rotates, or a stop is requested.
func (m *Monitor) serve(ctx context.Context, session MailSession) {
	defer func() { _ = session.Close() }()

	if _, err := session.SelectFolder(m.cfg.WatchFolder); err != nil {
		m.log.WithError(err).Warn("Failed to select watch folder")
		return
	}

	first := true
	notified := false
	for {
		if m.stopping() {
			return
		}
		if m.tokenChanged(ctx) {
			m.log.Info("Access token rotated, reconnecting")
			return
		}

		if first || notified {
			first = false
			m.setState(StateDraining)
			if err := m.drain(ctx, session, notified); err != nil {
				m.fatals.Add(1)
				m.log.WithError(err).Warn("Drain cycle failed, reconnecting")
				return
			}
			m.fatals.Store(0)
		} else {
			// Quiet timeout: a NOOP checks the connection without burning a
			// full drain cycle on an unchanged mailbox.
			if err := session.Keepalive(); err != nil {
				m.log.WithError(err).Warn("Keep-alive failed, reconnecting")
				return
			}
		}

		if m.stopping() {
			return
		}

		m.setState(StateIdleWait)
		var err error
		notified, err = session.WaitForNotification(ctx, m.cfg.IdleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.WithError(err).Warn("Idle wait failed, reconnecting")
			return
		}
	}
}

// drain computes the new-message delta and processes each UID in ascending
// order. With no watermark the tenant starts from "now": only the newest
// message is processed and a baseline is recorded just below it, so a crash
// between search and admit re-targets the same message next cycle.
func (m *Monitor) drain(ctx context.Context, session MailSession, notified bool) error {
	m.wmMu.Lock()
	defer m.wmMu.Unlock()

	uids, err := m.delta(ctx, session)
	if err != nil {
		return err
	}

	if len(uids) == 0 && notified {
		// The notification may have outrun the search index.
		m.sleep(notifySearchRetryDelay)
		uids, err = m.delta(ctx, session)
		if err != nil {
			return err
		}
	}

	// A shared cycle id ties every processed UID's log lines together.
	log := m.log.WithField("cycle", uuid.NewString())

	folders := []string{m.cfg.WatchFolder, m.cfg.SentFolder}
	for _, uid := range uids {
		if m.stopping() {
			return nil
		}
		if err := m.processor.ProcessUID(ctx, log, session, m.tenant, uid, m.cfg.WatchFolder, m.cfg.SentFolder, folders); err != nil {
			return err
		}
	}

	return nil
}

func (m *Monitor) delta(ctx context.Context, session MailSession) ([]int64, error) {
	watermark := m.loadWatermark(ctx)

	if watermark == nil {
		all, err := session.SearchAllUIDs()
		if err != nil {
			return nil, err
		}
		uids := computeDelta(nil, all)
		if len(uids) > 0 {
			m.initializeBaseline(ctx, uids[0]-1)
		}
		return uids, nil
	}

	since, err := session.SearchSinceUID(*watermark)
	if err != nil {
		return nil, err
	}
	return computeDelta(watermark, since), nil
}

func durableStoreExec[T any](m *Monitor) *retry.Executor[T] {
	exec := retry.DurableStore[T]()
	exec.Sleep = m.sleep
	return exec
}

// loadWatermark reads the stored watermark under retry. A store that stays
// unreachable is treated as an absent watermark rather than a failed cycle.
func (m *Monitor) loadWatermark(ctx context.Context) *int64 {
	exec := durableStoreExec[*int64](m)
	watermark, _ := exec.Execute(m.log, "load watermark", func() (*int64, error) {
		return m.watermarks.GetWatermark(ctx, m.tenant)
	})
	return watermark
}

func (m *Monitor) initializeBaseline(ctx context.Context, baseline int64) {
	exec := durableStoreExec[struct{}](m)
	_, _ = exec.Execute(m.log, "initialize watermark baseline", func() (struct{}, error) {
		return struct{}{}, m.watermarks.InitializeWatermarkFromLatest(ctx, m.tenant, baseline)
	})
}

// recordTokenFingerprint remembers which access token the live connection
// was authenticated with.
func (m *Monitor) recordTokenFingerprint(ctx context.Context) {
	token, err := m.tokens.AccessToken(ctx, m.tenant)
	if err != nil {
		m.tokenFingerprint = ""
		return
	}
	m.tokenFingerprint = credentials.Fingerprint(token)
}

// tokenChanged reports whether the tenant's access token differs from the
// one the live connection authenticated with. Servers drop OAuth sessions
// whose token has been revoked, so a rotation forces a clean reconnect.
func (m *Monitor) tokenChanged(ctx context.Context) bool {
	if m.tokenFingerprint == "" {
		return false
	}
	token, err := m.tokens.AccessToken(ctx, m.tenant)
	if err != nil {
		return false
	}
	return credentials.Fingerprint(token) != m.tokenFingerprint
}
