package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/models"
)

// TenantLister provides the set of tenants that should be monitored.
// Satisfied by *db.TenantStore.
type TenantLister interface {
	ListActive(ctx context.Context) ([]*models.Tenant, error)
	SetMonitoring(ctx context.Context, address string, monitoring bool) error
}

// MonitorFactory builds a monitor for a tenant. The supervisor owns the
// returned monitor's lifecycle.
type MonitorFactory func(tenant string) *Monitor

// Supervisor keeps one running monitor per active tenant. A periodic sweep
// starts monitors for newly activated tenants, resurrects monitors that have
// died, and stops monitors for deactivated tenants. Monitors that are merely
// failing are left alone: transient recovery is the monitor's own job, only
// a fully exited goroutine is replaced.
type Supervisor struct {
	tenants       TenantLister
	factory       MonitorFactory
	sweepInterval time.Duration
	stopTimeout   time.Duration
	log           *logrus.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewSupervisor creates a supervisor. stopTimeout bounds how long StopAll
// waits for monitors to drain.
func NewSupervisor(tenants TenantLister, factory MonitorFactory, sweepInterval, stopTimeout time.Duration, log *logrus.Logger) *Supervisor {
	return &Supervisor{
		tenants:       tenants,
		factory:       factory,
		sweepInterval: sweepInterval,
		stopTimeout:   stopTimeout,
		log:           log,
		monitors:      make(map[string]*Monitor),
	}
}

// Run sweeps immediately, then on every tick, until the context is canceled.
// On cancellation all monitors are stopped with a bounded wait. Run blocks;
// use Status from other goroutines for observability.
func (s *Supervisor) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.StopAll()
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep reconciles running monitors against the active tenant set.
func (s *Supervisor) sweep(ctx context.Context) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to list active tenants, skipping sweep")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]struct{}, len(tenants))
	for _, tenant := range tenants {
		active[tenant.Address] = struct{}{}
	}

	// Stop monitors whose tenant is no longer active.
	for address, m := range s.monitors {
		if _, ok := active[address]; ok {
			continue
		}
		s.log.WithField("tenant", address).Info("Tenant deactivated, stopping monitor")
		m.Stop()
		delete(s.monitors, address)
		if err := s.tenants.SetMonitoring(ctx, address, false); err != nil {
			s.log.WithField("tenant", address).WithError(err).Warn("Failed to clear monitoring flag")
		}
	}

	// Start monitors for new tenants and resurrect dead ones.
	for address := range active {
		m, ok := s.monitors[address]
		if ok {
			select {
			case <-m.Done():
				s.log.WithFields(logrus.Fields{
					"tenant":       address,
					"fatal_errors": m.FatalErrors(),
				}).Info("Monitor died, resurrecting")
			default:
				continue
			}
		}

		s.start(ctx, address)
	}
}

func (s *Supervisor) start(ctx context.Context, address string) {
	m := s.factory(address)
	s.monitors[address] = m
	go m.Run()

	if err := s.tenants.SetMonitoring(ctx, address, true); err != nil {
		s.log.WithField("tenant", address).WithError(err).Warn("Failed to set monitoring flag")
	}
	s.log.WithField("tenant", address).Info("Monitor started")
}

// StopAll requests every monitor to stop and waits up to the stop timeout
// for them to drain. Stragglers are logged and abandoned.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.monitors {
		m.Stop()
	}

	deadline := time.After(s.stopTimeout)
	for address, m := range s.monitors {
		select {
		case <-m.Done():
			delete(s.monitors, address)
		case <-deadline:
			s.log.WithField("tenant", address).Warn("Monitor did not stop within timeout")
		}
	}
}

// MonitorStatus is a point-in-time snapshot of one monitor.
type MonitorStatus struct {
	Tenant      string `json:"tenant"`
	State       string `json:"state"`
	FatalErrors int    `json:"fatal_errors"`
}

// Status reports each monitor's state. Snapshot only; monitors keep moving.
func (s *Supervisor) Status() []MonitorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]MonitorStatus, 0, len(s.monitors))
	for address, m := range s.monitors {
		statuses = append(statuses, MonitorStatus{
			Tenant:      address,
			State:       m.State().String(),
			FatalErrors: m.FatalErrors(),
		})
	}
	return statuses
}
