package resources

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/browser"
	"github.com/core-tools/hsu-renderer/pkg/logging"
	"github.com/core-tools/hsu-renderer/pkg/metrics"
	"github.com/core-tools/hsu-renderer/pkg/processstate"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = 15 * time.Second

// Sampler periodically samples CPU and memory of the managed browser
// process and records the values into the shared metrics recorder. The PID
// is re-resolved on every tick, so restarts are picked up automatically.
type Sampler struct {
	interval time.Duration
	browser  browser.Browser
	recorder *metrics.Recorder
	logger   logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tracked *process.Process
	self    *process.Process
}

// NewSampler creates a sampler over the given browser handle.
func NewSampler(interval time.Duration, b browser.Browser, recorder *metrics.Recorder, logger logging.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warnf("Could not attach to own process for sampling: %v", err)
	}
	return &Sampler{
		interval: interval,
		browser:  b,
		recorder: recorder,
		logger:   logger,
		self:     self,
	}
}

// Start launches the sampling loop.
func (s *Sampler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Infof("Starting resource sampler, interval: %v", s.interval)
	s.wg.Add(1)
	go s.loop(loopCtx)
}

// Stop cancels the loop and waits for it to finish.
func (s *Sampler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.logger.Infof("Resource sampler stopped")
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debugf("Resource sampler loop stopping")
			return
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect takes one CPU/memory sample of the service process and of the
// browser process. A missing browser process is expected during restarts and
// only logged at debug level.
func (s *Sampler) collect() {
	s.collectSelf()

	pid := s.browser.Pid()
	if pid <= 0 {
		s.logger.Debugf("No browser process to sample")
		return
	}
	if running, err := processstate.IsProcessRunning(pid); !running {
		s.logger.Debugf("Browser process %d not running, skipping sample, err: %v", pid, err)
		return
	}

	proc, err := s.trackedProcess(pid)
	if err != nil {
		s.logger.Warnf("Could not attach to browser process %d for sampling: %v", pid, err)
		return
	}

	cpuPercent, err := proc.Percent(0)
	if err != nil {
		s.logger.Warnf("Failed to sample CPU for pid %d: %v", pid, err)
		return
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		s.logger.Warnf("Failed to sample memory for pid %d: %v", pid, err)
		return
	}

	s.recorder.RecordResourceSample(cpuPercent, memInfo.RSS)
	s.logger.Debugf("Browser resource sample, pid: %d, cpu: %.1f%%, rss: %dMB",
		pid, cpuPercent, memInfo.RSS/(1024*1024))
}

func (s *Sampler) collectSelf() {
	if s.self == nil {
		return
	}
	cpuPercent, err := s.self.Percent(0)
	if err != nil {
		s.logger.Warnf("Failed to sample own CPU: %v", err)
		return
	}
	memInfo, err := s.self.MemoryInfo()
	if err != nil {
		s.logger.Warnf("Failed to sample own memory: %v", err)
		return
	}
	s.recorder.RecordServiceSample(cpuPercent, memInfo.RSS)
}

// trackedProcess returns a cached process handle for the PID, recreating it
// after a restart so CPU deltas are measured against the right process.
func (s *Sampler) trackedProcess(pid int) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracked != nil && int(s.tracked.Pid) == pid {
		return s.tracked, nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	s.tracked = proc
	return proc, nil
}
