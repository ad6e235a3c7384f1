package conversion

import (
	"time"

	"github.com/core-tools/hsu-renderer/pkg/browser"
	"github.com/core-tools/hsu-renderer/pkg/metrics"
)

// HealthSnapshot is the detailed health view exposed to health-check probes
// and polling dashboards.
type HealthSnapshot struct {
	Alive          bool   `json:"alive"`
	State          string `json:"state"`
	Generation     int64  `json:"generation"`
	BrowserVersion string `json:"browser_version,omitempty"`
	Pid            int    `json:"pid,omitempty"`

	UptimeSeconds float64 `json:"uptime_seconds"`

	HealthMonitorEnabled bool      `json:"health_monitor_enabled"`
	LastHealthCheck      time.Time `json:"last_health_check"`
	LastHealthOutcome    bool      `json:"last_health_outcome"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	TotalRestarts        uint64    `json:"total_restarts"`

	QueueDepth    int `json:"queue_depth"`
	ActiveCount   int `json:"active_count"`
	MaxConcurrent int `json:"max_concurrent"`

	Metrics metrics.Snapshot `json:"metrics"`
}

// HealthSnapshot assembles the current health view. Non-blocking: it reads
// cached state only and never touches the browser control connection, so it
// is safe to call at high frequency.
func (o *Orchestrator) HealthSnapshot() HealthSnapshot {
	healthState := o.health.State()
	queueDepth, active := o.gate.Snapshot()
	metricsSnap := o.recorder.Snapshot()

	snapshot := HealthSnapshot{
		Alive:          o.browser.State() == browser.StateRunning,
		State:          string(o.browser.State()),
		Generation:     o.browser.Generation(),
		BrowserVersion: o.browser.Version(),
		Pid:            o.browser.Pid(),

		HealthMonitorEnabled: healthState.Enabled,
		LastHealthCheck:      healthState.LastCheck,
		LastHealthOutcome:    healthState.LastOutcome,
		ConsecutiveFailures:  healthState.ConsecutiveFailures,
		TotalRestarts:        metricsSnap.TotalRestarts,

		QueueDepth:    queueDepth,
		ActiveCount:   active,
		MaxConcurrent: o.gate.Limit(),

		Metrics: metricsSnap,
	}

	if startedAt := o.browser.StartedAt(); snapshot.Alive && !startedAt.IsZero() {
		snapshot.UptimeSeconds = time.Since(startedAt).Seconds()
	}

	return snapshot
}

// MetricsText renders all metrics in the prometheus text exposition format.
func (o *Orchestrator) MetricsText() (string, error) {
	return o.recorder.Text()
}
