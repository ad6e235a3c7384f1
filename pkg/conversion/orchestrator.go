package conversion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/browser"
	"github.com/core-tools/hsu-renderer/pkg/errors"
	"github.com/core-tools/hsu-renderer/pkg/gate"
	"github.com/core-tools/hsu-renderer/pkg/logging"
	"github.com/core-tools/hsu-renderer/pkg/metrics"
	"github.com/core-tools/hsu-renderer/pkg/monitoring"
	"github.com/core-tools/hsu-renderer/pkg/resources"
)

// Orchestrator is the single public entry point for conversions. It composes
// admission control, per-conversion timeout, retry-with-restart and
// proactive restarts over one managed browser instance.
type Orchestrator struct {
	config   Config
	browser  browser.Browser
	gate     *gate.Gate
	recorder *metrics.Recorder
	health   monitoring.HealthMonitor
	sampler  *resources.Sampler
	logger   logging.Logger

	// countMu guards the per-generation conversion counter driving
	// proactive restarts.
	countMu         sync.Mutex
	conversionCount int
	countGeneration int64
}

// NewOrchestrator wires an orchestrator over the given browser handle.
// The config must already be normalized.
func NewOrchestrator(config Config, b browser.Browser, recorder *metrics.Recorder, logger logging.Logger) *Orchestrator {
	healthEnabled := config.HealthCheckEnabled != nil && *config.HealthCheckEnabled

	return &Orchestrator{
		config:   config,
		browser:  b,
		gate:     gate.New(config.MaxConcurrentConversions, recorder, logger),
		recorder: recorder,
		health: monitoring.NewHealthMonitor(monitoring.Config{
			Enabled:  healthEnabled,
			Interval: config.HealthCheckInterval,
		}, b, recorder, logger),
		sampler: resources.NewSampler(config.ResourceSampleInterval, b, recorder, logger),
		logger:  logger,
	}
}

// Start brings up the browser and the background loops. A browser startup
// failure is fatal: the service must not accept traffic without a working
// browser, so the error is returned as-is for the caller to abort on.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.browser.Start(ctx); err != nil {
		return err
	}
	o.recorder.SetGeneration(o.browser.Generation())

	o.health.Start(ctx)
	o.sampler.Start(ctx)

	o.logger.Infof("Conversion orchestrator started, concurrency: %d, timeout: %v, retries: %d",
		o.config.MaxConcurrentConversions, o.config.ConversionTimeout, o.config.MaxRetries)
	return nil
}

// Stop shuts down background loops first so no health probe races the
// browser teardown, then stops the browser itself.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.health.Stop()
	o.sampler.Stop()
	return o.browser.Stop(ctx)
}

// Convert renders the request via the managed browser.
//
// The call acquires a gate slot (failing with a queue-timeout error under
// sustained saturation), then makes up to MaxRetries+1 attempts, restarting
// the browser between attempts. The slot is released exactly once on every
// exit path; conversion channels are closed on every path.
func (o *Orchestrator) Convert(ctx context.Context, req browser.RenderRequest) ([]byte, error) {
	if err := o.maybeProactiveRestart(ctx); err != nil {
		return nil, err
	}

	slot, err := o.gate.Acquire(ctx, o.config.ConversionTimeout)
	if err != nil {
		// Overload is surfaced immediately; retrying here would only make
		// the saturation worse.
		return nil, err
	}
	defer o.gate.Release(slot)

	attempts := o.config.MaxRetries + 1
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := o.attempt(ctx, req)
		if err == nil {
			o.recorder.RecordSuccess(time.Since(start))
			o.noteConversion()
			return data, nil
		}

		if errors.IsValidationError(err) {
			// Bad input, not a browser failure; no retry, no restart.
			return nil, err
		}
		if ctx.Err() != nil || errors.IsCancelledError(err) {
			o.logger.Infof("Conversion cancelled on attempt %d/%d", attempt, attempts)
			return nil, errors.NewCancelledError("conversion cancelled", err)
		}

		lastErr = err
		o.recorder.RecordAttemptFailure()
		o.logger.Warnf("Conversion attempt %d/%d failed: %v", attempt, attempts, err)

		if attempt < attempts {
			// The next attempt must not proceed until the browser has been
			// replaced, so the restart is synchronous.
			o.recorder.RecordRestart()
			if rerr := o.browser.Restart(ctx); rerr != nil {
				o.logger.Errorf("Browser restart between attempts failed: %v", rerr)
				o.recorder.RecordFailure()
				return nil, errors.NewConversionError("browser restart failed during retry", rerr)
			}
			o.recorder.SetGeneration(o.browser.Generation())
			o.resetConversionCount()
		}
	}

	o.recorder.RecordFailure()
	return nil, errors.NewConversionError(
		fmt.Sprintf("conversion failed after %d attempts", attempts), lastErr)
}

// attempt opens a channel on the current generation, renders with the hard
// per-conversion timeout, and always closes the channel.
func (o *Orchestrator) attempt(ctx context.Context, req browser.RenderRequest) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.config.ConversionTimeout)
	defer cancel()

	channel, err := o.browser.OpenChannel(attemptCtx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := channel.Close(); cerr != nil {
			o.logger.Warnf("Error closing conversion channel: %v", cerr)
		}
	}()

	return channel.Render(attemptCtx, req)
}

// maybeProactiveRestart restarts the browser before the next conversion once
// the per-generation conversion count reaches the configured threshold. This
// bounds engine-internal state growth on a predictable cadence, independent
// of failure handling.
func (o *Orchestrator) maybeProactiveRestart(ctx context.Context) error {
	threshold := o.config.RestartAfterConversions
	if threshold <= 0 {
		return nil
	}

	o.countMu.Lock()
	o.syncGenerationLocked()
	trigger := o.conversionCount >= threshold
	if trigger {
		o.conversionCount = 0
	}
	o.countMu.Unlock()

	if !trigger {
		return nil
	}

	o.logger.Infof("Conversion count reached threshold %d, restarting browser...", threshold)
	o.recorder.RecordRestart()
	if err := o.browser.Restart(ctx); err != nil {
		return errors.NewConversionError("proactive browser restart failed", err)
	}
	o.recorder.SetGeneration(o.browser.Generation())
	o.logger.Infof("Browser restarted proactively, generation: %d", o.browser.Generation())
	return nil
}

func (o *Orchestrator) noteConversion() {
	o.countMu.Lock()
	defer o.countMu.Unlock()
	o.syncGenerationLocked()
	o.conversionCount++
}

func (o *Orchestrator) resetConversionCount() {
	o.countMu.Lock()
	defer o.countMu.Unlock()
	o.conversionCount = 0
	o.countGeneration = o.browser.Generation()
}

// syncGenerationLocked zeroes the counter when the generation has moved
// under us (health-monitor or retry restarts).
func (o *Orchestrator) syncGenerationLocked() {
	if generation := o.browser.Generation(); generation != o.countGeneration {
		o.countGeneration = generation
		o.conversionCount = 0
	}
}
