package browser

import (
	"context"
	"fmt"
	"math"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/pagestash/pagestash/capture"
	"github.com/pagestash/pagestash/schema"
)

// Capabilities implements the capture boundary interfaces (DimensionProbe,
// ScrollController, Snapshotter) over a *Tab surface handle.
type Capabilities struct{}

var (
	_ capture.DimensionProbe   = Capabilities{}
	_ capture.ScrollController = Capabilities{}
	_ capture.Snapshotter      = Capabilities{}
)

// extentJS reads the scrollable extent without side effects. scrollHeight
// disagrees between body and documentElement across doctype modes, so the
// larger of the two wins.
const extentJS = `({
	totalHeight: Math.max(
		document.documentElement ? document.documentElement.scrollHeight : 0,
		document.body ? document.body.scrollHeight : 0),
	viewportWidth: window.innerWidth,
	viewportHeight: window.innerHeight,
	scrollOffset: window.scrollY
})`

type extentMetrics struct {
	TotalHeight    float64 `json:"totalHeight"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
	ScrollOffset   float64 `json:"scrollOffset"`
}

func tabFrom(surface capture.Surface) (*Tab, error) {
	tab, ok := surface.(*Tab)
	if !ok || tab == nil {
		return nil, fmt.Errorf("surface %T is not a browser tab", surface)
	}
	return tab, nil
}

// Probe reads the surface extent and current scroll offset.
func (Capabilities) Probe(ctx context.Context, surface capture.Surface) (schema.SurfaceExtent, error) {
	tab, err := tabFrom(surface)
	if err != nil {
		return schema.SurfaceExtent{}, err
	}
	runCtx, cancel := tab.runContext(ctx)
	defer cancel()
	var m extentMetrics
	if err := chromedp.Run(runCtx, chromedp.Evaluate(extentJS, &m)); err != nil {
		return schema.SurfaceExtent{}, err
	}
	return roundExtent(m), nil
}

func roundExtent(m extentMetrics) schema.SurfaceExtent {
	return schema.SurfaceExtent{
		TotalHeight:         int(math.Round(m.TotalHeight)),
		ViewportWidth:       int(math.Round(m.ViewportWidth)),
		ViewportHeight:      int(math.Round(m.ViewportHeight)),
		InitialScrollOffset: int(math.Round(m.ScrollOffset)),
	}
}

// SetScroll moves the vertical scroll offset. The browser gives no paint
// completion signal; callers settle-wait before capturing.
func (Capabilities) SetScroll(ctx context.Context, surface capture.Surface, y int) error {
	tab, err := tabFrom(surface)
	if err != nil {
		return err
	}
	runCtx, cancel := tab.runContext(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(scrollJS(y), nil))
}

func scrollJS(y int) string {
	return fmt.Sprintf("window.scrollTo(0, %d)", y)
}

// CaptureVisible snapshots the currently visible viewport as PNG bytes.
func (Capabilities) CaptureVisible(ctx context.Context, surface capture.Surface) ([]byte, error) {
	tab, err := tabFrom(surface)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := tab.runContext(ctx)
	defer cancel()
	var buf []byte
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Title reads the document title, for the page-save payload.
func (Capabilities) Title(ctx context.Context, surface capture.Surface) (string, error) {
	tab, err := tabFrom(surface)
	if err != nil {
		return "", err
	}
	runCtx, cancel := tab.runContext(ctx)
	defer cancel()
	var title string
	if err := chromedp.Run(runCtx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// Text reads the rendered body text, for the page-save payload.
func (Capabilities) Text(ctx context.Context, surface capture.Surface) (string, error) {
	tab, err := tabFrom(surface)
	if err != nil {
		return "", err
	}
	runCtx, cancel := tab.runContext(ctx)
	defer cancel()
	var text string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", err
	}
	return text, nil
}
