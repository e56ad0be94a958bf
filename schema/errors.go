package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrExtentProbe indicates the surface extent could not be read.
	ErrExtentProbe = errors.New("extent probe failed")
	// ErrPrimitiveFailed indicates the snapshot primitive failed after
	// all retry attempts were exhausted.
	ErrPrimitiveFailed = errors.New("snapshot primitive failed")
	// ErrCompositionFailed indicates tile composition failed.
	ErrCompositionFailed = errors.New("composition failed")
	// ErrCancelled indicates the session was cancelled before completion.
	ErrCancelled = errors.New("capture cancelled")
	// ErrScrollRestore indicates the original scroll offset could not be
	// restored. It propagates only when it is the sole failure of a session.
	ErrScrollRestore = errors.New("scroll restore failed")
	// ErrProvisionFailed indicates compositor provisioning failed.
	ErrProvisionFailed = errors.New("compositor provisioning failed")
	// ErrProvisionTimeout indicates a caller gave up waiting for an
	// in-flight provisioning attempt.
	ErrProvisionTimeout = errors.New("compositor provisioning timed out")
	// ErrCompositorExists reports a creation race: the rendering resource
	// already exists on the host. Callers treat it as success after
	// re-discovery.
	ErrCompositorExists = errors.New("compositor already exists")
)

// TileDecodeError reports which tile failed to decode during composition.
type TileDecodeError struct {
	Index int
	Err   error
}

func (e *TileDecodeError) Error() string {
	return fmt.Sprintf("tile %d decode failed: %v", e.Index, e.Err)
}

func (e *TileDecodeError) Unwrap() error { return ErrCompositionFailed }

// Cause returns the underlying decode error.
func (e *TileDecodeError) Cause() error { return e.Err }
