package browser

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/errors"
	"github.com/core-tools/hsu-renderer/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{})
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()

	assert.Equal(t, DefaultStartupTimeout, o.StartupTimeout)
	assert.Equal(t, DefaultStopGracePeriod, o.StopGracePeriod)
	assert.Equal(t, DefaultDeviceScaleFactor, o.DeviceScaleFactor)
}

func TestOptions_WithDefaultsKeepsExplicitValues(t *testing.T) {
	o := Options{
		Bin:               "/usr/bin/chromium",
		StartupTimeout:    10 * time.Second,
		StopGracePeriod:   2 * time.Second,
		DeviceScaleFactor: 2.0,
	}.withDefaults()

	assert.Equal(t, "/usr/bin/chromium", o.Bin)
	assert.Equal(t, 10*time.Second, o.StartupTimeout)
	assert.Equal(t, 2*time.Second, o.StopGracePeriod)
	assert.Equal(t, 2.0, o.DeviceScaleFactor)
}

func TestChromium_InitialState(t *testing.T) {
	b := NewChromium(Options{}, nopLogger())

	assert.Equal(t, StateStopped, b.State())
	assert.Zero(t, b.Generation())
	assert.Zero(t, b.Pid())
	assert.Empty(t, b.Version())
	assert.False(t, b.IsAlive())
}

func TestChromium_StopOnStoppedHandleIsNoOp(t *testing.T) {
	b := NewChromium(Options{}, nopLogger())

	require.NoError(t, b.Stop(context.Background()))
	assert.Equal(t, StateStopped, b.State())
}

func TestChromium_OpenChannelWhenStopped(t *testing.T) {
	b := NewChromium(Options{}, nopLogger())

	_, err := b.OpenChannel(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
}

func TestPageChannel_RenderAfterClose(t *testing.T) {
	ch := &pageChannel{logger: nopLogger()}

	_, err := ch.Render(context.Background(), RenderRequest{Markup: "<svg/>", Width: 10, Height: 10})

	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
}

func TestPageChannel_CloseIdempotent(t *testing.T) {
	ch := &pageChannel{logger: nopLogger()}

	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
}

func TestPageChannel_CheckGeneration(t *testing.T) {
	owner := &chromium{generation: 2}

	current := &pageChannel{owner: owner, generation: 2}
	assert.NoError(t, current.checkGeneration())

	stale := &pageChannel{owner: owner, generation: 1}
	err := stale.checkGeneration()
	require.Error(t, err)
	assert.True(t, errors.IsStaleGenerationError(err))
}

func TestPageChannel_RenderErrorClassification(t *testing.T) {
	owner := &chromium{generation: 1}
	ch := &pageChannel{owner: owner, generation: 1}

	t.Run("deadline exceeded becomes timeout", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		err := ch.renderError(ctx, "render step failed", assert.AnError)
		assert.True(t, errors.IsTimeoutError(err))
	})

	t.Run("generation moved becomes stale", func(t *testing.T) {
		movedOwner := &chromium{generation: 2}
		staleCh := &pageChannel{owner: movedOwner, generation: 1}

		err := staleCh.renderError(context.Background(), "render step failed", assert.AnError)
		assert.True(t, errors.IsStaleGenerationError(err))
	})

	t.Run("anything else becomes process error", func(t *testing.T) {
		err := ch.renderError(context.Background(), "render step failed", assert.AnError)
		assert.True(t, errors.IsProcessError(err))
	})
}

func TestWrapMarkup(t *testing.T) {
	req := RenderRequest{Markup: `<svg xmlns="http://www.w3.org/2000/svg"/>`, Width: 640, Height: 480}

	html := wrapMarkup(req)

	assert.Contains(t, html, "width: 640px")
	assert.Contains(t, html, "height: 480px")
	assert.Contains(t, html, "data:image/svg+xml;base64,")

	encoded := base64.StdEncoding.EncodeToString([]byte(req.Markup))
	assert.Contains(t, html, encoded)
}
