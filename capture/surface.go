// Package capture drives the scroll-then-snapshot protocol that turns a
// scrollable surface into one full-page image.
package capture

import (
	"context"

	"github.com/pagestash/pagestash/schema"
)

// Surface is an opaque handle to the scrollable surface being captured.
// The boundary capabilities below agree on its concrete type; the
// orchestrator never looks inside it.
type Surface any

// DimensionProbe reads the surface's scrollable extent and viewport size.
// Probe must be free of side effects.
type DimensionProbe interface {
	Probe(ctx context.Context, surface Surface) (schema.SurfaceExtent, error)
}

// ScrollController moves the surface's vertical scroll offset. SetScroll
// is fire-and-forget: the host gives no completion signal, which is why
// the orchestrator waits a settle delay before snapshotting.
type ScrollController interface {
	SetScroll(ctx context.Context, surface Surface, y int) error
}

// Snapshotter is the host capture primitive. It returns only the
// currently visible region, is rate-limited externally, and may fail
// transiently; the orchestrator self-throttles and retries.
type Snapshotter interface {
	CaptureVisible(ctx context.Context, surface Surface) ([]byte, error)
}
