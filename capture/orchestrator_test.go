package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pagestash/pagestash/compose"
	"github.com/pagestash/pagestash/schema"
)

type fakeSurface struct{ name string }

type fakeProbe struct {
	extent schema.SurfaceExtent
	err    error
	calls  int
}

func (p *fakeProbe) Probe(_ context.Context, _ Surface) (schema.SurfaceExtent, error) {
	p.calls++
	if p.err != nil {
		return schema.SurfaceExtent{}, p.err
	}
	return p.extent, nil
}

type fakeScroller struct {
	mu      sync.Mutex
	offsets []int
	current int
	errOn   func(y int) error
}

func (s *fakeScroller) SetScroll(_ context.Context, _ Surface, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errOn != nil {
		if err := s.errOn(y); err != nil {
			return err
		}
	}
	s.offsets = append(s.offsets, y)
	s.current = y
	return nil
}

func (s *fakeScroller) visited() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.offsets...)
}

// fakeSnapshotter returns bytes naming the scroll offset it observed, and
// consumes a scripted error queue first.
type fakeSnapshotter struct {
	scroller *fakeScroller
	errs     []error
	calls    int
	active   atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeSnapshotter) CaptureVisible(_ context.Context, _ Surface) ([]byte, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	offset := 0
	if f.scroller != nil {
		offset = f.scroller.current
	}
	return []byte(fmt.Sprintf("img@%d", offset)), nil
}

type fakeCompositor struct {
	tiles  []schema.Tile
	width  int
	height int
	calls  int
	err    error
	blob   schema.ImageBlob
}

func (c *fakeCompositor) Compose(_ context.Context, tiles []schema.Tile, width, totalHeight int) (schema.ImageBlob, error) {
	c.calls++
	c.tiles = append([]schema.Tile(nil), tiles...)
	c.width, c.height = width, totalHeight
	if c.err != nil {
		return schema.ImageBlob{}, c.err
	}
	return c.blob, nil
}

type fakeProvider struct {
	compositor compose.Compositor
	err        error
	calls      int
}

func (p *fakeProvider) EnsureReady(_ context.Context) (compose.Compositor, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.compositor, nil
}

// sleepRecorder captures requested delays without waiting, and can run a
// hook before returning.
type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
	before    func(call int, d time.Duration)
	calls     int
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.durations = append(r.durations, d)
	hook := r.before
	r.mu.Unlock()
	if hook != nil {
		hook(call, d)
	}
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.durations...)
}

type harness struct {
	probe      *fakeProbe
	scroller   *fakeScroller
	snap       *fakeSnapshotter
	compositor *fakeCompositor
	provider   *fakeProvider
	sleeps     *sleepRecorder
	orch       *Orchestrator
}

func testPolicy() schema.CapturePolicy {
	return schema.CapturePolicy{
		SettleDelay:         5 * time.Millisecond,
		InterCaptureDelay:   7 * time.Millisecond,
		SnapshotAttempts:    3,
		SnapshotBackoffBase: 11 * time.Millisecond,
		SnapshotBackoffMax:  33 * time.Millisecond,
	}
}

func newHarness(t *testing.T, policy schema.CapturePolicy, extent schema.SurfaceExtent) *harness {
	t.Helper()
	h := &harness{
		probe:      &fakeProbe{extent: extent},
		scroller:   &fakeScroller{current: extent.InitialScrollOffset},
		compositor: &fakeCompositor{blob: schema.ImageBlob{Format: schema.FormatPNG, Data: []byte("composed")}},
		sleeps:     &sleepRecorder{},
	}
	h.snap = &fakeSnapshotter{scroller: h.scroller}
	h.provider = &fakeProvider{compositor: h.compositor}
	orch, err := NewOrchestrator(policy, Deps{
		Probe:       h.probe,
		Scroller:    h.scroller,
		Snapshotter: h.snap,
		Compositors: h.provider,
		Sleep:       h.sleeps.sleep,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.orch = orch
	return h
}

func TestNewOrchestratorValidatesDeps(t *testing.T) {
	complete := Deps{
		Probe:       &fakeProbe{},
		Scroller:    &fakeScroller{},
		Snapshotter: &fakeSnapshotter{},
		Compositors: &fakeProvider{},
	}
	if _, err := NewOrchestrator(schema.CapturePolicy{}, complete); err != nil {
		t.Fatalf("complete deps rejected: %v", err)
	}
	missing := []Deps{
		{Scroller: complete.Scroller, Snapshotter: complete.Snapshotter, Compositors: complete.Compositors},
		{Probe: complete.Probe, Snapshotter: complete.Snapshotter, Compositors: complete.Compositors},
		{Probe: complete.Probe, Scroller: complete.Scroller, Compositors: complete.Compositors},
		{Probe: complete.Probe, Scroller: complete.Scroller, Snapshotter: complete.Snapshotter},
	}
	for i, deps := range missing {
		if _, err := NewOrchestrator(schema.CapturePolicy{}, deps); err == nil {
			t.Fatalf("case %d: expected error for missing dep", i)
		}
	}
}

func TestCaptureSingleShot(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 600, ViewportWidth: 800, ViewportHeight: 600, InitialScrollOffset: 0}
	h := newHarness(t, testPolicy(), extent)

	blob, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if h.snap.calls != 1 {
		t.Fatalf("snapshot calls = %d, want 1", h.snap.calls)
	}
	if got := h.scroller.visited(); len(got) != 0 {
		t.Fatalf("scroll offsets visited = %v, want none", got)
	}
	if h.provider.calls != 0 {
		t.Fatalf("compositor provisioned %d times, want 0", h.provider.calls)
	}
	if blob.Format != schema.FormatPNG || string(blob.Data) != "img@0" {
		t.Fatalf("blob = %q/%q", blob.Format, blob.Data)
	}
	if got := h.sleeps.recorded(); len(got) != 0 {
		t.Fatalf("sleeps = %v, want none", got)
	}
}

func TestCaptureTiledVisitsOffsetsInOrder(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1500, ViewportWidth: 800, ViewportHeight: 600, InitialScrollOffset: 42}
	h := newHarness(t, testPolicy(), extent)

	blob, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	wantOffsets := []int{0, 600, 1200, 42}
	got := h.scroller.visited()
	if len(got) != len(wantOffsets) {
		t.Fatalf("offsets = %v, want %v", got, wantOffsets)
	}
	for i, want := range wantOffsets {
		if got[i] != want {
			t.Fatalf("offsets = %v, want %v", got, wantOffsets)
		}
	}
	if h.snap.calls != 3 {
		t.Fatalf("snapshot calls = %d, want 3", h.snap.calls)
	}
	if h.compositor.calls != 1 {
		t.Fatalf("compose calls = %d, want 1", h.compositor.calls)
	}
	if h.compositor.width != 800 || h.compositor.height != 1500 {
		t.Fatalf("compose canvas = %dx%d, want 800x1500", h.compositor.width, h.compositor.height)
	}
	for i, tile := range h.compositor.tiles {
		if tile.Index != i || tile.TargetOffsetY != i*600 {
			t.Fatalf("tile %d = %+v", i, tile)
		}
		if want := fmt.Sprintf("img@%d", i*600); string(tile.Image) != want {
			t.Fatalf("tile %d image = %q, want %q", i, tile.Image, want)
		}
	}
	if string(blob.Data) != "composed" {
		t.Fatalf("blob = %q, want composed output", blob.Data)
	}
	// settle, throttle, settle, throttle, settle: no throttle after the
	// last tile.
	wantSleeps := []time.Duration{
		5 * time.Millisecond, 7 * time.Millisecond,
		5 * time.Millisecond, 7 * time.Millisecond,
		5 * time.Millisecond,
	}
	gotSleeps := h.sleeps.recorded()
	if len(gotSleeps) != len(wantSleeps) {
		t.Fatalf("sleeps = %v, want %v", gotSleeps, wantSleeps)
	}
	for i, want := range wantSleeps {
		if gotSleeps[i] != want {
			t.Fatalf("sleeps = %v, want %v", gotSleeps, wantSleeps)
		}
	}
}

func TestCaptureRetryInvisibleOnEventualSuccess(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1500, ViewportWidth: 800, ViewportHeight: 600}
	clean := newHarness(t, testPolicy(), extent)
	want, err := clean.orch.Capture(context.Background(), fakeSurface{"page"})
	if err != nil {
		t.Fatalf("clean capture: %v", err)
	}

	flaky := newHarness(t, testPolicy(), extent)
	flaky.snap.errs = []error{errors.New("rate limited"), errors.New("rate limited")}
	got, err := flaky.orch.Capture(context.Background(), fakeSurface{"page"})
	if err != nil {
		t.Fatalf("flaky capture: %v", err)
	}
	if string(got.Data) != string(want.Data) {
		t.Fatalf("flaky blob %q differs from clean blob %q", got.Data, want.Data)
	}
	if len(flaky.compositor.tiles) != len(clean.compositor.tiles) {
		t.Fatalf("tile counts differ: %d vs %d", len(flaky.compositor.tiles), len(clean.compositor.tiles))
	}
	for i := range clean.compositor.tiles {
		if string(flaky.compositor.tiles[i].Image) != string(clean.compositor.tiles[i].Image) {
			t.Fatalf("tile %d differs after retries", i)
		}
	}
	if flaky.snap.calls != 5 {
		t.Fatalf("snapshot calls = %d, want 5 (3 tiles + 2 retries)", flaky.snap.calls)
	}
	// Backoff doubles from the base and the throttle still applies.
	gotSleeps := flaky.sleeps.recorded()
	wantPrefix := []time.Duration{
		5 * time.Millisecond,  // settle tile 0
		11 * time.Millisecond, // backoff attempt 2
		22 * time.Millisecond, // backoff attempt 3
		7 * time.Millisecond,  // throttle
	}
	for i, want := range wantPrefix {
		if gotSleeps[i] != want {
			t.Fatalf("sleeps = %v, want prefix %v", gotSleeps, wantPrefix)
		}
	}
}

func TestCaptureBackoffIsCapped(t *testing.T) {
	policy := testPolicy()
	policy.SnapshotAttempts = 4
	policy.SnapshotBackoffMax = 20 * time.Millisecond
	extent := schema.SurfaceExtent{TotalHeight: 600, ViewportWidth: 800, ViewportHeight: 600}
	h := newHarness(t, policy, extent)
	h.snap.errs = []error{errors.New("busy"), errors.New("busy"), errors.New("busy")}

	if _, err := h.orch.Capture(context.Background(), fakeSurface{"page"}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	want := []time.Duration{11 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond}
	got := h.sleeps.recorded()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", got, want)
		}
	}
}

func TestCaptureAbortsAfterExhaustedRetries(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1500, ViewportWidth: 800, ViewportHeight: 600, InitialScrollOffset: 77}
	h := newHarness(t, testPolicy(), extent)
	h.snap.errs = []error{errors.New("down"), errors.New("down"), errors.New("down")}

	_, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if !errors.Is(err, schema.ErrPrimitiveFailed) {
		t.Fatalf("error = %v, want ErrPrimitiveFailed", err)
	}
	if h.snap.calls != 3 {
		t.Fatalf("snapshot calls = %d, want 3", h.snap.calls)
	}
	if h.provider.calls != 0 {
		t.Fatalf("compositor provisioned despite aborted session")
	}
	offsets := h.scroller.visited()
	if len(offsets) == 0 || offsets[len(offsets)-1] != 77 {
		t.Fatalf("offsets = %v, want trailing restore to 77", offsets)
	}
}

func TestCaptureRestoresScrollOnComposeFailure(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1200, ViewportWidth: 800, ViewportHeight: 600, InitialScrollOffset: 5}
	h := newHarness(t, testPolicy(), extent)
	h.compositor.err = &schema.TileDecodeError{Index: 1, Err: errors.New("bad png")}

	_, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if !errors.Is(err, schema.ErrCompositionFailed) {
		t.Fatalf("error = %v, want ErrCompositionFailed", err)
	}
	var decodeErr *schema.TileDecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Index != 1 {
		t.Fatalf("error = %v, want TileDecodeError(1)", err)
	}
	offsets := h.scroller.visited()
	if offsets[len(offsets)-1] != 5 {
		t.Fatalf("offsets = %v, want trailing restore to 5", offsets)
	}
}

func TestCaptureScrollRestoreFailureIsSoleFailure(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1200, ViewportWidth: 800, ViewportHeight: 600, InitialScrollOffset: 60}
	h := newHarness(t, testPolicy(), extent)
	h.scroller.errOn = func(y int) error {
		if y == 60 {
			return errors.New("surface gone")
		}
		return nil
	}

	_, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if !errors.Is(err, schema.ErrScrollRestore) {
		t.Fatalf("error = %v, want ErrScrollRestore", err)
	}
}

func TestCaptureScrollRestoreFailureDoesNotMaskPrimary(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1200, ViewportWidth: 800, ViewportHeight: 600, InitialScrollOffset: 60}
	h := newHarness(t, testPolicy(), extent)
	h.snap.errs = []error{errors.New("down"), errors.New("down"), errors.New("down")}
	h.scroller.errOn = func(y int) error {
		if y == 60 {
			return errors.New("surface gone")
		}
		return nil
	}

	_, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if !errors.Is(err, schema.ErrPrimitiveFailed) {
		t.Fatalf("error = %v, want primary ErrPrimitiveFailed", err)
	}
	if errors.Is(err, schema.ErrScrollRestore) {
		t.Fatalf("restore failure masked the primary error: %v", err)
	}
}

func TestCaptureCancelledStopsBeforeNextTile(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 2400, ViewportWidth: 800, ViewportHeight: 600, InitialScrollOffset: 9}
	h := newHarness(t, testPolicy(), extent)
	ctx, cancel := context.WithCancel(context.Background())
	h.sleeps.before = func(call int, d time.Duration) {
		// Cancel during the first inter-capture throttle.
		if d == 7*time.Millisecond {
			cancel()
		}
	}

	_, err := h.orch.Capture(ctx, fakeSurface{"page"})
	if !errors.Is(err, schema.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if h.snap.calls != 1 {
		t.Fatalf("snapshot calls = %d, want 1 (stopped before next tile)", h.snap.calls)
	}
	offsets := h.scroller.visited()
	if offsets[len(offsets)-1] != 9 {
		t.Fatalf("offsets = %v, want trailing restore to 9 despite cancellation", offsets)
	}
}

func TestCaptureProbeFailure(t *testing.T) {
	h := newHarness(t, testPolicy(), schema.SurfaceExtent{})
	h.probe.err = errors.New("no metrics")
	_, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if !errors.Is(err, schema.ErrExtentProbe) {
		t.Fatalf("error = %v, want ErrExtentProbe", err)
	}
	if h.snap.calls != 0 {
		t.Fatalf("snapshot called despite probe failure")
	}
}

func TestCaptureRejectsInvalidExtent(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 100, ViewportWidth: 800, ViewportHeight: 600}
	h := newHarness(t, testPolicy(), extent)
	_, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if !errors.Is(err, schema.ErrExtentProbe) {
		t.Fatalf("error = %v, want ErrExtentProbe", err)
	}
}

func TestCaptureCapsTileCount(t *testing.T) {
	policy := testPolicy()
	policy.MaxTiles = 2
	extent := schema.SurfaceExtent{TotalHeight: 1500, ViewportWidth: 800, ViewportHeight: 600}
	h := newHarness(t, policy, extent)

	if _, err := h.orch.Capture(context.Background(), fakeSurface{"page"}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if h.snap.calls != 2 {
		t.Fatalf("snapshot calls = %d, want 2", h.snap.calls)
	}
	if h.compositor.height != 1200 {
		t.Fatalf("compose height = %d, want 1200 for capped capture", h.compositor.height)
	}
}

func TestCaptureProvisionFailurePropagates(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1200, ViewportWidth: 800, ViewportHeight: 600}
	h := newHarness(t, testPolicy(), extent)
	h.provider.err = schema.ErrProvisionTimeout

	_, err := h.orch.Capture(context.Background(), fakeSurface{"page"})
	if !errors.Is(err, schema.ErrProvisionTimeout) {
		t.Fatalf("error = %v, want ErrProvisionTimeout", err)
	}
	offsets := h.scroller.visited()
	if offsets[len(offsets)-1] != 0 {
		t.Fatalf("offsets = %v, want trailing restore", offsets)
	}
}

func TestCaptureSerializesConcurrentSessions(t *testing.T) {
	extent := schema.SurfaceExtent{TotalHeight: 1200, ViewportWidth: 800, ViewportHeight: 600}
	h := newHarness(t, testPolicy(), extent)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.Capture(context.Background(), fakeSurface{"page"})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
	}
	if max := h.snap.maxSeen.Load(); max > 1 {
		t.Fatalf("snapshot calls interleaved: max concurrency %d", max)
	}
	if h.snap.calls != 4 {
		t.Fatalf("snapshot calls = %d, want 4 (two full sessions)", h.snap.calls)
	}
}
