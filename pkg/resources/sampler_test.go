package resources

import (
	"context"
	"testing"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/browser"
	"github.com/core-tools/hsu-renderer/pkg/logging"
	"github.com/core-tools/hsu-renderer/pkg/metrics"

	"github.com/stretchr/testify/assert"
)

// stoppedBrowser reports no live process, so only self-sampling runs.
type stoppedBrowser struct{}

func (stoppedBrowser) Start(ctx context.Context) error                      { return nil }
func (stoppedBrowser) Stop(ctx context.Context) error                       { return nil }
func (stoppedBrowser) Restart(ctx context.Context) error                    { return nil }
func (stoppedBrowser) IsAlive() bool                                        { return false }
func (stoppedBrowser) OpenChannel(ctx context.Context) (browser.Channel, error) { return nil, nil }
func (stoppedBrowser) State() browser.State                                 { return browser.StateStopped }
func (stoppedBrowser) Generation() int64                                    { return 0 }
func (stoppedBrowser) Pid() int                                             { return 0 }
func (stoppedBrowser) Version() string                                      { return "" }
func (stoppedBrowser) StartedAt() time.Time                                 { return time.Time{} }

func TestSampler_SamplesOwnProcess(t *testing.T) {
	recorder := metrics.NewRecorder()
	s := NewSampler(10*time.Millisecond, stoppedBrowser{}, recorder, logging.NewLogger("", logging.LogFuncs{}))

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	snapshot := recorder.Snapshot()
	assert.Positive(t, snapshot.ServiceMemoryBytes)

	// No browser process, so no browser samples
	assert.Zero(t, snapshot.CurrentMemoryBytes)
}

func TestSampler_DefaultInterval(t *testing.T) {
	s := NewSampler(0, stoppedBrowser{}, metrics.NewRecorder(), logging.NewLogger("", logging.LogFuncs{}))
	assert.Equal(t, DefaultInterval, s.interval)
}

func TestSampler_StopWithoutStart(t *testing.T) {
	s := NewSampler(time.Second, stoppedBrowser{}, metrics.NewRecorder(), logging.NewLogger("", logging.LogFuncs{}))
	assert.NotPanics(t, s.Stop)
}
