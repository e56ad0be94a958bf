package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pagestash/pagestash/internal/logx"
	"github.com/pagestash/pagestash/schema"
	"pkt.systems/pslog"
)

// Orchestrator runs the capture state machine: decide single-shot versus
// tiled, drive the scroll-then-snapshot loop with retry and throttling,
// compose, and leave the scroll offset as it was found. One session runs
// at a time; concurrent Capture calls queue behind the session mutex.
type Orchestrator struct {
	policy      schema.CapturePolicy
	probe       DimensionProbe
	scroller    ScrollController
	snap        Snapshotter
	compositors CompositorProvider
	logger      pslog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// NewOrchestrator validates deps, normalizes the policy and constructs
// the orchestrator.
func NewOrchestrator(policy schema.CapturePolicy, deps Deps) (*Orchestrator, error) {
	normalized, err := schema.NormalizeCapturePolicy(policy)
	if err != nil {
		return nil, err
	}
	if deps.Probe == nil {
		return nil, errors.New("missing dimension probe")
	}
	if deps.Scroller == nil {
		return nil, errors.New("missing scroll controller")
	}
	if deps.Snapshotter == nil {
		return nil, errors.New("missing snapshotter")
	}
	if deps.Compositors == nil {
		return nil, errors.New("missing compositor provider")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Orchestrator{
		policy:      normalized,
		probe:       deps.Probe,
		scroller:    deps.Scroller,
		snap:        deps.Snapshotter,
		compositors: deps.Compositors,
		logger:      logger,
		sleep:       sleep,
	}, nil
}

// Capture produces one full-surface image. Callers treat the result as an
// optional enrichment: every failure comes back as a typed error, never a
// partial image.
func (o *Orchestrator) Capture(ctx context.Context, surface Surface) (schema.ImageBlob, error) {
	if ctx == nil {
		return schema.ImageBlob{}, errors.New("missing context")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	sess := newSession(o.logger)
	sess.transition(schema.StatusProbingExtent)
	extent, err := o.probe.Probe(ctx, surface)
	if err != nil {
		sess.transition(schema.StatusFailed)
		return schema.ImageBlob{}, fmt.Errorf("%w: %v", schema.ErrExtentProbe, err)
	}
	if err := extent.Validate(); err != nil {
		sess.transition(schema.StatusFailed)
		return schema.ImageBlob{}, err
	}
	sess.extent = extent

	if extent.TotalHeight <= extent.ViewportHeight {
		return o.captureSingle(ctx, surface, sess)
	}

	blob, err := o.captureTiled(ctx, surface, sess)

	// The scroll offset is externally owned; it is restored on success
	// and failure alike. Cancellation must not skip restoration.
	sess.transition(schema.StatusRestoringScroll)
	if rerr := o.scroller.SetScroll(context.WithoutCancel(ctx), surface, extent.InitialScrollOffset); rerr != nil {
		if err == nil {
			err = fmt.Errorf("%w: %v", schema.ErrScrollRestore, rerr)
		} else {
			sess.log.Warn("scroll restore failed", "offset", extent.InitialScrollOffset, "err", rerr)
		}
	}

	if err != nil {
		sess.transition(schema.StatusFailed)
		return schema.ImageBlob{}, err
	}
	sess.transition(schema.StatusDone)
	sess.log.Info("capture complete", "mode", "tiled", "tiles", len(sess.tiles), "bytes", len(blob.Data))
	return blob, nil
}

// captureSingle handles surfaces that fit in one viewport: exactly one
// snapshot call, no scrolling, no compositor involvement.
func (o *Orchestrator) captureSingle(ctx context.Context, surface Surface, sess *session) (schema.ImageBlob, error) {
	sess.transition(schema.StatusCapturingSingle)
	img, err := o.snapshotWithRetry(ctx, surface, sess, 0)
	if err != nil {
		sess.transition(schema.StatusFailed)
		return schema.ImageBlob{}, err
	}
	sess.transition(schema.StatusDone)
	sess.log.Info("capture complete", "mode", "single", "bytes", len(img))
	return schema.ImageBlob{Format: schema.FormatPNG, Data: img}, nil
}

func (o *Orchestrator) captureTiled(ctx context.Context, surface Surface, sess *session) (schema.ImageBlob, error) {
	extent := sess.extent
	tileCount := extent.TileCount()
	composeHeight := extent.TotalHeight
	if o.policy.MaxTiles > 0 && tileCount > o.policy.MaxTiles {
		sess.log.Warn("tile count capped", "tiles", tileCount, "max", o.policy.MaxTiles)
		tileCount = o.policy.MaxTiles
		composeHeight = tileCount * extent.ViewportHeight
	}
	sess.log.Info("tiled capture start",
		"tiles", tileCount,
		"total_height", extent.TotalHeight,
		"viewport", fmt.Sprintf("%dx%d", extent.ViewportWidth, extent.ViewportHeight))

	for i := 0; i < tileCount; i++ {
		if err := ctx.Err(); err != nil {
			return schema.ImageBlob{}, cancelled(err)
		}
		offset := i * extent.ViewportHeight
		sess.transitionTile(schema.StatusCapturingTile, i, 1)
		if err := o.scroller.SetScroll(ctx, surface, offset); err != nil {
			return schema.ImageBlob{}, fmt.Errorf("%w: scroll to %d: %v", schema.ErrPrimitiveFailed, offset, err)
		}
		// SetScroll has no completion signal; give the surface time to
		// reflow and paint or the snapshot sees stale content.
		if err := o.sleep(ctx, o.policy.SettleDelay); err != nil {
			return schema.ImageBlob{}, cancelled(err)
		}
		img, err := o.snapshotWithRetry(ctx, surface, sess, i)
		if err != nil {
			return schema.ImageBlob{}, err
		}
		sess.tiles = append(sess.tiles, schema.Tile{Index: i, Image: img, TargetOffsetY: offset})
		if i < tileCount-1 {
			// The primitive is rate-limited by its host; pacing here is
			// mandatory, a violation shows up as primitive failures.
			if err := o.sleep(ctx, o.policy.InterCaptureDelay); err != nil {
				return schema.ImageBlob{}, cancelled(err)
			}
		}
	}

	sess.transition(schema.StatusComposing)
	compositor, err := o.compositors.EnsureReady(ctx)
	if err != nil {
		return schema.ImageBlob{}, err
	}
	return compositor.Compose(ctx, sess.tiles, extent.ViewportWidth, composeHeight)
}

// snapshotWithRetry calls the capture primitive with bounded retries and
// exponential backoff. Retries are invisible to the caller on eventual
// success.
func (o *Orchestrator) snapshotWithRetry(ctx context.Context, surface Surface, sess *session, index int) ([]byte, error) {
	backoff := o.policy.SnapshotBackoffBase
	var lastErr error
	for attempt := 1; attempt <= o.policy.SnapshotAttempts; attempt++ {
		if attempt > 1 {
			sess.transitionTile(schema.StatusRetryingTile, index, attempt)
			if err := o.sleep(ctx, backoff); err != nil {
				return nil, cancelled(err)
			}
			backoff *= 2
			if backoff > o.policy.SnapshotBackoffMax {
				backoff = o.policy.SnapshotBackoffMax
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, o.policy.SnapshotTimeout)
		img, err := o.snap.CaptureVisible(callCtx, surface)
		cancel()
		if err == nil {
			return img, nil
		}
		lastErr = err
		logx.WithTile(sess.log, index).Warn("snapshot attempt failed", "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
	}
	return nil, fmt.Errorf("%w: tile %d after %d attempts: %v", schema.ErrPrimitiveFailed, index, o.policy.SnapshotAttempts, lastErr)
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %v", schema.ErrCancelled, err)
}
