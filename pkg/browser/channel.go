package browser

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/core-tools/hsu-renderer/pkg/errors"
	"github.com/core-tools/hsu-renderer/pkg/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// pageChannel is a Channel backed by one browser tab. It remembers the
// generation it was opened under and refuses to render once superseded.
type pageChannel struct {
	owner      *chromium
	page       *rod.Page
	generation int64
	scale      float64
	logger     logging.Logger
}

func pageCreateTarget() proto.TargetCreateTarget {
	return proto.TargetCreateTarget{URL: "about:blank"}
}

func (ch *pageChannel) Generation() int64 {
	return ch.generation
}

func (ch *pageChannel) Render(ctx context.Context, req RenderRequest) ([]byte, error) {
	if ch.page == nil {
		return nil, errors.NewProcessError("conversion channel is closed", nil)
	}
	if err := ch.checkGeneration(); err != nil {
		return nil, err
	}
	if req.Markup == "" {
		return nil, errors.NewValidationError("markup cannot be empty", nil)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, errors.NewValidationError("image dimensions must be positive", nil).
			WithContext("width", req.Width).
			WithContext("height", req.Height)
	}

	scale := req.ScaleFactor
	if scale <= 0 {
		scale = ch.scale
	}

	page := ch.page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Width,
		Height:            req.Height,
		DeviceScaleFactor: scale,
		Mobile:            false,
	}); err != nil {
		return nil, ch.renderError(ctx, "failed to set viewport", err)
	}

	// Transparent default background so the screenshot keeps alpha.
	alpha := 0.0
	if err := (proto.EmulationSetDefaultBackgroundColorOverride{
		Color: &proto.DOMRGBA{R: 0, G: 0, B: 0, A: &alpha},
	}).Call(page); err != nil {
		return nil, ch.renderError(ctx, "failed to set background override", err)
	}

	if err := page.SetDocumentContent(wrapMarkup(req)); err != nil {
		return nil, ch.renderError(ctx, "failed to load document", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, ch.renderError(ctx, "document never finished loading", err)
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, ch.renderError(ctx, "failed to capture image", err)
	}
	return data, nil
}

func (ch *pageChannel) Close() error {
	if ch.page == nil {
		return nil
	}
	page := ch.page
	ch.page = nil
	if err := page.Close(); err != nil {
		ch.logger.Warnf("Error closing conversion channel: %v", err)
		return errors.NewProcessError("failed to close conversion channel", err)
	}
	return nil
}

// checkGeneration fails fast when the browser has been restarted since this
// channel was opened, instead of blocking on a dead connection.
func (ch *pageChannel) checkGeneration() error {
	current := ch.owner.Generation()
	if current != ch.generation {
		return errors.NewStaleGenerationError("conversion channel generation superseded", nil).
			WithContext("channel_generation", ch.generation).
			WithContext("current_generation", current)
	}
	return nil
}

// renderError classifies a failed render step: deadline overruns become
// timeout errors, supersession becomes a stale-generation error, everything
// else a process error. All three are retryable for the orchestrator.
func (ch *pageChannel) renderError(ctx context.Context, message string, cause error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(message, cause)
	}
	if genErr := ch.checkGeneration(); genErr != nil {
		return genErr
	}
	return errors.NewProcessError(message, cause)
}

// wrapMarkup embeds the SVG markup in a minimal HTML document sized exactly
// to the requested dimensions. The data URL avoids any network fetch.
func wrapMarkup(req RenderRequest) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(req.Markup))
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
html, body { width: %dpx; height: %dpx; overflow: hidden; }
body { background: transparent; display: flex; align-items: center; justify-content: center; }
img { display: block; max-width: 100%%; max-height: 100%%; }
</style>
</head>
<body>
<img src="data:image/svg+xml;base64,%s" alt="" />
</body>
</html>`, req.Width, req.Height, encoded)
}
