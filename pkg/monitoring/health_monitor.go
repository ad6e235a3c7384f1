package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/browser"
	"github.com/core-tools/hsu-renderer/pkg/logging"
	"github.com/core-tools/hsu-renderer/pkg/metrics"
)

// maxConsecutiveFailures is the streak length that triggers a restart.
// Deliberately fixed rather than configurable.
const maxConsecutiveFailures = 3

// HealthState is a snapshot of the monitor's view of browser health.
type HealthState struct {
	Enabled             bool
	LastCheck           time.Time
	LastOutcome         bool
	ConsecutiveFailures int
}

// HealthMonitor periodically probes the browser and restarts it after a
// streak of failed probes. It never holds a conversion slot; health checks
// are not conversions.
type HealthMonitor interface {
	// Start launches the probe loop. No-op when the monitor is disabled.
	Start(ctx context.Context)

	// Stop cancels the loop and waits for it to finish.
	Stop()

	// State returns a copy of the current health state. Non-blocking.
	State() HealthState

	// CheckNow performs a single on-demand probe, updating state and
	// metrics the same way the periodic loop does.
	CheckNow(ctx context.Context) bool
}

// Config for the health monitor.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

type healthMonitor struct {
	config   Config
	browser  browser.Browser
	recorder *metrics.Recorder
	logger   logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state HealthState
}

// NewHealthMonitor creates a monitor over the given browser handle. The
// recorder is shared with the orchestrator; restarts from either path
// increment the same restart counter by design.
func NewHealthMonitor(config Config, b browser.Browser, recorder *metrics.Recorder, logger logging.Logger) HealthMonitor {
	return &healthMonitor{
		config:   config,
		browser:  b,
		recorder: recorder,
		logger:   logger,
		state:    HealthState{Enabled: config.Enabled},
	}
}

func (h *healthMonitor) Start(ctx context.Context) {
	if !h.config.Enabled {
		h.logger.Infof("Health monitoring disabled by configuration")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.logger.Infof("Starting health monitor, interval: %v", h.config.Interval)
	h.wg.Add(1)
	go h.loop(loopCtx)
}

func (h *healthMonitor) Stop() {
	if h.cancel == nil {
		return
	}
	h.logger.Infof("Stopping health monitor...")
	h.cancel()
	h.wg.Wait()
	h.cancel = nil
	h.logger.Infof("Health monitor stopped")
}

func (h *healthMonitor) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *healthMonitor) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugf("Health monitor loop stopping")
			return
		case <-ticker.C:
			h.CheckNow(ctx)
		}
	}
}

// CheckNow probes the browser once. A success resets the failure streak; the
// third consecutive failure triggers a restart and resets the streak
// regardless of the restart's own outcome. A restart here races with
// in-flight conversions on purpose: they detect the generation change, fail
// fast, and are retried by the orchestrator.
func (h *healthMonitor) CheckNow(ctx context.Context) bool {
	alive := h.browser.IsAlive()
	h.recorder.RecordHealthCheck(alive)

	h.mu.Lock()
	h.state.LastCheck = time.Now()
	h.state.LastOutcome = alive
	if alive {
		h.state.ConsecutiveFailures = 0
		h.mu.Unlock()
		h.logger.Debugf("Health check passed")
		return true
	}
	h.state.ConsecutiveFailures++
	failures := h.state.ConsecutiveFailures
	shouldRestart := failures >= maxConsecutiveFailures
	if shouldRestart {
		h.state.ConsecutiveFailures = 0
	}
	h.mu.Unlock()

	h.logger.Warnf("Health check failed (%d/%d consecutive failures)", failures, maxConsecutiveFailures)

	if shouldRestart {
		h.logger.Errorf("Browser health degraded after %d consecutive failures, restarting...", failures)
		h.recorder.RecordRestart()
		if err := h.browser.Restart(ctx); err != nil {
			h.logger.Errorf("Failed to restart browser after health degradation: %v", err)
		} else {
			h.recorder.SetGeneration(h.browser.Generation())
			h.logger.Infof("Browser restarted after health degradation, generation: %d", h.browser.Generation())
		}
	}
	return false
}
