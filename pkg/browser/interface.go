package browser

import (
	"context"
	"time"
)

// State is the lifecycle state of the managed browser process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// RenderRequest describes one markup-to-image conversion.
type RenderRequest struct {
	// Markup is the SVG document to rasterize.
	Markup string
	// Width and Height are the target image dimensions in pixels.
	Width  int
	Height int
	// ScaleFactor overrides the browser's device scale factor for this
	// request; 0 means use the configured default.
	ScaleFactor float64
}

// Channel is a per-request logical sub-connection (a browser tab) opened
// against one generation. It must be closed by the caller on all paths,
// including errors, to avoid leaking tabs.
type Channel interface {
	// Render rasterizes the request on this channel. Fails with a
	// stale-generation error when the browser has been restarted since the
	// channel was opened.
	Render(ctx context.Context, req RenderRequest) ([]byte, error)

	// Generation returns the browser generation this channel was opened under.
	Generation() int64

	// Close releases the underlying tab. Idempotent.
	Close() error
}

// Browser owns the lifecycle of one external rendering-engine subprocess.
// It carries no queuing or retry logic; callers compose those on top.
type Browser interface {
	// Start spawns the subprocess and waits for its control endpoint to
	// become usable. Fails with a startup error if the process exits early
	// or never becomes ready within the startup timeout.
	Start(ctx context.Context) error

	// Stop requests graceful termination, waits a bounded grace period,
	// then force-kills. Calling Stop on a stopped handle is a no-op.
	Stop(ctx context.Context) error

	// Restart performs Stop followed by Start, incrementing the generation.
	// Internally serialized: concurrent restart triggers collapse into one
	// effective restart.
	Restart(ctx context.Context) error

	// IsAlive is a lightweight liveness probe: process existence plus a
	// no-op round trip over the control connection.
	IsAlive() bool

	// OpenChannel opens a fresh tab scoped to a single conversion.
	OpenChannel(ctx context.Context) (Channel, error)

	State() State
	Generation() int64
	Pid() int
	Version() string
	StartedAt() time.Time
}

// Options configures the browser process handle.
type Options struct {
	// Bin is an optional path to a pre-installed browser binary; empty means
	// let the launcher resolve (and download if needed) its own build.
	Bin string

	// StartupTimeout bounds how long Start waits for a usable control
	// endpoint.
	StartupTimeout time.Duration

	// StopGracePeriod bounds how long Stop waits for the process to exit
	// after a graceful close before force-killing it.
	StopGracePeriod time.Duration

	// DeviceScaleFactor is the default scale factor for conversion channels.
	DeviceScaleFactor float64
}

const (
	DefaultStartupTimeout    = 30 * time.Second
	DefaultStopGracePeriod   = 5 * time.Second
	DefaultDeviceScaleFactor = 1.0
)

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.StopGracePeriod <= 0 {
		o.StopGracePeriod = DefaultStopGracePeriod
	}
	if o.DeviceScaleFactor <= 0 {
		o.DeviceScaleFactor = DefaultDeviceScaleFactor
	}
	return o
}
