package capture

import (
	"context"
	"time"

	"github.com/pagestash/pagestash/compose"
	"pkt.systems/pslog"
)

// CompositorProvider hands out the shared compositor, provisioning it on
// first use.
type CompositorProvider interface {
	EnsureReady(ctx context.Context) (compose.Compositor, error)
}

// Deps captures the orchestrator's collaborators. Probe, Scroller,
// Snapshotter and Compositors are required; Logger and Sleep are optional.
type Deps struct {
	Probe       DimensionProbe
	Scroller    ScrollController
	Snapshotter Snapshotter
	Compositors CompositorProvider
	Logger      pslog.Logger
	// Sleep performs cancellation-aware delays. Tests inject a recorder
	// here so sessions run without wall-clock waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
