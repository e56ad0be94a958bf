package schema

import (
	"errors"
	"time"
)

// CapturePolicy tunes the orchestrator's timing and retry behavior. The
// delay defaults are empirical values matched to typical browser paint and
// screenshot rate limits; they are policy, not invariants.
type CapturePolicy struct {
	// SettleDelay is how long to wait after moving the scroll offset
	// before snapshotting, so reflow and paint can complete.
	SettleDelay time.Duration
	// InterCaptureDelay throttles consecutive snapshot calls to respect
	// the primitive's external rate limit.
	InterCaptureDelay time.Duration
	// SnapshotAttempts bounds retries of a failed snapshot call.
	SnapshotAttempts int
	// SnapshotBackoffBase and SnapshotBackoffMax shape the exponential
	// backoff between snapshot attempts.
	SnapshotBackoffBase time.Duration
	SnapshotBackoffMax  time.Duration
	// SnapshotTimeout bounds a single snapshot call.
	SnapshotTimeout time.Duration
	// ProvisionTimeout bounds waiting for the compositor resource.
	ProvisionTimeout time.Duration
	// DecodeTimeout bounds the tile decode phase of composition.
	DecodeTimeout time.Duration
	// MaxTiles caps how many tiles a session will capture. Zero means
	// unbounded.
	MaxTiles int
}

// Default timing policy.
const (
	DefaultSettleDelay         = 500 * time.Millisecond
	DefaultInterCaptureDelay   = 1100 * time.Millisecond
	DefaultSnapshotAttempts    = 3
	DefaultSnapshotBackoffBase = time.Second
	DefaultSnapshotBackoffMax  = 3 * time.Second
	DefaultSnapshotTimeout     = 10 * time.Second
	DefaultProvisionTimeout    = 5 * time.Second
	DefaultDecodeTimeout       = 10 * time.Second
)

// NormalizeCapturePolicy applies defaults and validates the policy.
func NormalizeCapturePolicy(p CapturePolicy) (CapturePolicy, error) {
	if p.SettleDelay < 0 || p.InterCaptureDelay < 0 {
		return CapturePolicy{}, errors.New("capture delays must not be negative")
	}
	if p.SnapshotAttempts < 0 || p.MaxTiles < 0 {
		return CapturePolicy{}, errors.New("snapshot attempts and max tiles must not be negative")
	}
	if p.SettleDelay == 0 {
		p.SettleDelay = DefaultSettleDelay
	}
	if p.InterCaptureDelay == 0 {
		p.InterCaptureDelay = DefaultInterCaptureDelay
	}
	if p.SnapshotAttempts == 0 {
		p.SnapshotAttempts = DefaultSnapshotAttempts
	}
	if p.SnapshotBackoffBase <= 0 {
		p.SnapshotBackoffBase = DefaultSnapshotBackoffBase
	}
	if p.SnapshotBackoffMax <= 0 {
		p.SnapshotBackoffMax = DefaultSnapshotBackoffMax
	}
	if p.SnapshotBackoffMax < p.SnapshotBackoffBase {
		return CapturePolicy{}, errors.New("snapshot backoff max must not be below base")
	}
	if p.SnapshotTimeout <= 0 {
		p.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if p.ProvisionTimeout <= 0 {
		p.ProvisionTimeout = DefaultProvisionTimeout
	}
	if p.DecodeTimeout <= 0 {
		p.DecodeTimeout = DefaultDecodeTimeout
	}
	return p, nil
}
