package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/monitor"
	"github.com/inboxsift/backend/internal/pipeline"
)

// StatusReporter exposes a snapshot of the running monitors.
type StatusReporter interface {
	Status() []monitor.MonitorStatus
}

// StatusHandler serves /api/v1/status with per-tenant monitor state.
type StatusHandler struct {
	supervisor StatusReporter
	log        *logrus.Logger
}

// NewStatusHandler creates a new StatusHandler instance.
func NewStatusHandler(supervisor StatusReporter, log *logrus.Logger) *StatusHandler {
	return &StatusHandler{supervisor: supervisor, log: log}
}

func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses := h.supervisor.Status()
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Tenant < statuses[j].Tenant
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"monitors": statuses}); err != nil {
		h.log.WithError(err).Warn("Failed to encode status response")
	}
}

// HealthHandler serves /healthz for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// LabelsHandler serves /api/v1/labels: the label names and display colors
// dashboard clients render keyword flags with.
func LabelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"labels": pipeline.Palette()})
}
