package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/errors"
	"github.com/core-tools/hsu-renderer/pkg/logging"
	"github.com/core-tools/hsu-renderer/pkg/processstate"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

const (
	aliveProbeTimeout = 3 * time.Second
	exitPollInterval  = 100 * time.Millisecond
)

// chromium is the rod-backed Browser implementation. At most one live
// subprocess exists per handle; restart replaces it wholesale.
type chromium struct {
	options Options
	logger  logging.Logger

	// restartMu serializes whole restart sequences so two concurrent
	// restart triggers collapse into one effective restart.
	restartMu sync.Mutex

	// mu guards the fields below. Never held across a subprocess operation.
	mu         sync.Mutex
	state      State
	generation int64
	pid        int
	version    string
	startedAt  time.Time
	launcher   *launcher.Launcher
	browser    *rod.Browser
}

// NewChromium creates a stopped browser handle. Call Start to spawn the
// subprocess.
func NewChromium(options Options, logger logging.Logger) Browser {
	return &chromium{
		options: options.withDefaults(),
		logger:  logger,
		state:   StateStopped,
	}
}

func (c *chromium) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		state := c.state
		c.mu.Unlock()
		c.logger.Warnf("Browser start requested in state %s, ignoring", state)
		return nil
	}
	c.state = StateStarting
	c.mu.Unlock()

	c.logger.Infof("Starting browser process...")

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-software-rasterizer").
		Set("disable-dev-shm-usage").
		Set("disable-web-security").
		Set(flags.Flag("disable-features"), "IsolateOrigins,site-per-process").
		Set("hide-scrollbars")
	if c.options.Bin != "" {
		l = l.Bin(c.options.Bin)
	}

	startupCtx, cancel := context.WithTimeout(ctx, c.options.StartupTimeout)
	defer cancel()

	controlURL, err := l.Context(startupCtx).Launch()
	if err != nil {
		c.setStopped()
		return errors.NewStartupError("browser process did not announce a control endpoint", err).
			WithContext("startup_timeout", c.options.StartupTimeout.String())
	}
	if !strings.HasPrefix(controlURL, "ws://") && !strings.HasPrefix(controlURL, "wss://") {
		l.Kill()
		l.Cleanup()
		c.setStopped()
		return errors.NewStartupError("browser announced a malformed control endpoint", nil).
			WithContext("control_url", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Timeout(c.options.StartupTimeout).Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		c.setStopped()
		return errors.NewStartupError("failed to connect to browser control endpoint", err)
	}

	version := ""
	if info, err := b.Version(); err == nil {
		version = info.Product
		if i := strings.IndexByte(version, '/'); i >= 0 {
			version = version[i+1:]
		}
	} else {
		c.logger.Warnf("Could not read browser version: %v", err)
	}

	c.mu.Lock()
	c.generation++
	c.state = StateRunning
	c.launcher = l
	c.browser = b
	c.pid = l.PID()
	c.version = version
	c.startedAt = time.Now()
	generation := c.generation
	pid := c.pid
	c.mu.Unlock()

	c.logger.Infof("Browser started, pid: %d, generation: %d, version: %s", pid, generation, version)
	return nil
}

func (c *chromium) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		c.logger.Debugf("Browser stop requested on a stopped handle, ignoring")
		return nil
	}
	c.state = StateStopping
	b := c.browser
	l := c.launcher
	pid := c.pid
	c.mu.Unlock()

	c.logger.Infof("Stopping browser process, pid: %d", pid)

	if b != nil {
		if err := b.Close(); err != nil {
			c.logger.Warnf("Graceful browser close failed, pid: %d, error: %v", pid, err)
		}
	}

	exited := c.waitForExit(ctx, pid)
	if !exited {
		c.logger.Warnf("Browser did not exit within grace period %v, force-killing pid %d",
			c.options.StopGracePeriod, pid)
		if l != nil {
			l.Kill()
		}
	}
	if l != nil {
		l.Cleanup()
	}

	c.setStopped()
	c.logger.Infof("Browser stopped, pid: %d", pid)
	return nil
}

func (c *chromium) Restart(ctx context.Context) error {
	observed := c.Generation()

	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	// Another caller may have completed a restart while this one waited for
	// the lock; if so the process has already been replaced.
	if c.Generation() != observed && c.State() == StateRunning {
		c.logger.Infof("Browser already restarted by a concurrent trigger, generation: %d", c.Generation())
		return nil
	}

	c.logger.Infof("Restarting browser, generation: %d", observed)

	if err := c.Stop(ctx); err != nil {
		c.logger.Warnf("Stop during restart reported error: %v", err)
	}
	return c.Start(ctx)
}

func (c *chromium) IsAlive() bool {
	c.mu.Lock()
	state := c.state
	pid := c.pid
	b := c.browser
	c.mu.Unlock()

	if state != StateRunning || b == nil {
		return false
	}

	if running, err := processstate.IsProcessRunning(pid); !running {
		c.logger.Debugf("Liveness probe: pid %d not running, err: %v", pid, err)
		return false
	}

	// No-op CDP round trip; far cheaper than a conversion.
	if _, err := b.Timeout(aliveProbeTimeout).Version(); err != nil {
		c.logger.Debugf("Liveness probe: control round trip failed: %v", err)
		return false
	}
	return true
}

func (c *chromium) OpenChannel(ctx context.Context) (Channel, error) {
	c.mu.Lock()
	if c.state != StateRunning || c.browser == nil {
		state := c.state
		c.mu.Unlock()
		return nil, errors.NewProcessError("browser is not running", nil).
			WithContext("state", string(state))
	}
	b := c.browser
	generation := c.generation
	c.mu.Unlock()

	page, err := b.Context(ctx).Page(pageCreateTarget())
	if err != nil {
		// A restart between the state check and the page open surfaces here.
		if c.Generation() != generation {
			return nil, errors.NewStaleGenerationError("browser generation changed while opening channel", err).
				WithContext("generation", generation)
		}
		return nil, errors.NewProcessError("failed to open conversion channel", err)
	}

	return &pageChannel{
		owner:      c,
		page:       page,
		generation: generation,
		scale:      c.options.DeviceScaleFactor,
		logger:     c.logger,
	}, nil
}

func (c *chromium) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *chromium) Generation() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *chromium) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

func (c *chromium) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *chromium) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// setStopped clears all process state. The pid is cleared before any new one
// can be assigned by a subsequent Start.
func (c *chromium) setStopped() {
	c.mu.Lock()
	c.state = StateStopped
	c.browser = nil
	c.launcher = nil
	c.pid = 0
	c.version = ""
	c.mu.Unlock()
}

// waitForExit polls for process termination up to the grace period.
func (c *chromium) waitForExit(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return true
	}

	deadline := time.Now().Add(c.options.StopGracePeriod)
	for time.Now().Before(deadline) {
		if running, _ := processstate.IsProcessRunning(pid); !running {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(exitPollInterval):
		}
	}
	return false
}
