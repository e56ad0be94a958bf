package schema

import (
	"testing"
	"time"
)

func TestNormalizeCapturePolicyDefaults(t *testing.T) {
	p, err := NormalizeCapturePolicy(CapturePolicy{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.SettleDelay != DefaultSettleDelay {
		t.Fatalf("settle delay = %v, want %v", p.SettleDelay, DefaultSettleDelay)
	}
	if p.InterCaptureDelay != DefaultInterCaptureDelay {
		t.Fatalf("inter-capture delay = %v, want %v", p.InterCaptureDelay, DefaultInterCaptureDelay)
	}
	if p.SnapshotAttempts != DefaultSnapshotAttempts {
		t.Fatalf("attempts = %d, want %d", p.SnapshotAttempts, DefaultSnapshotAttempts)
	}
	if p.SnapshotBackoffBase != DefaultSnapshotBackoffBase || p.SnapshotBackoffMax != DefaultSnapshotBackoffMax {
		t.Fatalf("backoff = %v/%v", p.SnapshotBackoffBase, p.SnapshotBackoffMax)
	}
	if p.ProvisionTimeout != DefaultProvisionTimeout {
		t.Fatalf("provision timeout = %v", p.ProvisionTimeout)
	}
}

func TestNormalizeCapturePolicyKeepsOverrides(t *testing.T) {
	in := CapturePolicy{
		SettleDelay:       50 * time.Millisecond,
		InterCaptureDelay: 10 * time.Millisecond,
		SnapshotAttempts:  5,
		MaxTiles:          12,
	}
	p, err := NormalizeCapturePolicy(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.SettleDelay != in.SettleDelay || p.InterCaptureDelay != in.InterCaptureDelay {
		t.Fatalf("delays overridden: %+v", p)
	}
	if p.SnapshotAttempts != 5 || p.MaxTiles != 12 {
		t.Fatalf("attempts/max tiles overridden: %+v", p)
	}
}

func TestNormalizeCapturePolicyRejectsInvalid(t *testing.T) {
	cases := []CapturePolicy{
		{SettleDelay: -time.Second},
		{InterCaptureDelay: -time.Second},
		{SnapshotAttempts: -1},
		{MaxTiles: -1},
		{SnapshotBackoffBase: 2 * time.Second, SnapshotBackoffMax: time.Second},
	}
	for i, c := range cases {
		if _, err := NormalizeCapturePolicy(c); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestSurfaceExtentValidate(t *testing.T) {
	good := SurfaceExtent{TotalHeight: 1500, ViewportWidth: 800, ViewportHeight: 600}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid extent rejected: %v", err)
	}
	bad := SurfaceExtent{TotalHeight: 300, ViewportWidth: 800, ViewportHeight: 600}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for total height below viewport")
	}
	negative := SurfaceExtent{TotalHeight: 100, ViewportWidth: -1, ViewportHeight: 0}
	if err := negative.Validate(); err == nil {
		t.Fatalf("expected error for negative viewport")
	}
}

func TestSurfaceExtentTileCount(t *testing.T) {
	cases := []struct {
		total, viewport, want int
	}{
		{600, 600, 1},
		{1500, 600, 3},
		{1200, 600, 2},
		{1201, 600, 3},
		{600, 0, 0},
	}
	for _, c := range cases {
		e := SurfaceExtent{TotalHeight: c.total, ViewportHeight: c.viewport}
		if got := e.TileCount(); got != c.want {
			t.Fatalf("tile count for %d/%d = %d, want %d", c.total, c.viewport, got, c.want)
		}
	}
}
