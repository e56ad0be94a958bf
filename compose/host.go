package compose

import (
	"context"
	"errors"
	"sync"

	"github.com/pagestash/pagestash/schema"
)

// The process-wide compositor slot. Shared by every ProcessHost so that
// capture sessions across the process converge on one rendering resource.
var (
	processMu         sync.Mutex
	processCompositor Compositor
)

// ProcessHost hosts the singleton compositor inside the current process.
// It satisfies Host with the same discovery semantics an external resource
// host would have: Lookup finds a previously created instance, Create
// fails with ErrCompositorExists when one is already registered.
type ProcessHost struct {
	// New builds the compositor backing the slot. Defaults to NewRaster.
	New func() (Compositor, error)
}

// Lookup reports the process-wide compositor when present.
func (h ProcessHost) Lookup(ctx context.Context) (Compositor, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	processMu.Lock()
	defer processMu.Unlock()
	if processCompositor == nil {
		return nil, false, nil
	}
	return processCompositor, true, nil
}

// Create builds and registers the process-wide compositor.
func (h ProcessHost) Create(ctx context.Context) (Compositor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	factory := h.New
	if factory == nil {
		factory = func() (Compositor, error) { return NewRaster(), nil }
	}
	handle, err := factory()
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, errors.New("compositor factory returned nil")
	}
	processMu.Lock()
	defer processMu.Unlock()
	if processCompositor != nil {
		return nil, schema.ErrCompositorExists
	}
	processCompositor = handle
	return handle, nil
}

// resetProcessHost clears the process slot. Tests only.
func resetProcessHost() {
	processMu.Lock()
	processCompositor = nil
	processMu.Unlock()
}
