package compose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pagestash/pagestash/schema"
	"pkt.systems/pslog"
)

// Host is the environment able to host the singleton rendering resource.
// Lookup re-discovers an existing resource without side effects; Create
// provisions it and reports ErrCompositorExists when racing an external
// creator.
type Host interface {
	Lookup(ctx context.Context) (Compositor, bool, error)
	Create(ctx context.Context) (Compositor, error)
}

type managerState int

const (
	stateUninitialized managerState = iota
	stateProvisioning
	stateReady
	stateFailed
)

// attempt is one provisioning attempt. Waiters hold a reference and read
// the outcome after done closes, so every concurrent caller observes the
// same result.
type attempt struct {
	done   chan struct{}
	handle Compositor
	err    error
}

// Manager guards lazy single-flight provisioning of the compositor
// resource. The handle is created at most once per process lifetime (or
// per failure-then-retry cycle) and is never torn down.
type Manager struct {
	host    Host
	timeout time.Duration
	logger  pslog.Logger

	mu      sync.Mutex
	state   managerState
	handle  Compositor
	current *attempt
}

// ManagerOption tunes a Manager.
type ManagerOption func(*Manager)

// WithProvisionTimeout bounds both a provisioning attempt and how long a
// waiter blocks on someone else's attempt.
func WithProvisionTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger pslog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a resource manager over the given host.
func NewManager(host Host, opts ...ManagerOption) (*Manager, error) {
	if host == nil {
		return nil, errors.New("missing host")
	}
	m := &Manager{
		host:    host,
		timeout: schema.DefaultProvisionTimeout,
		logger:  pslog.Ctx(context.Background()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// EnsureReady returns the compositor handle, provisioning it on first use.
// Exactly one caller provisions; the rest block on that attempt's outcome,
// bounded by the provision timeout. A failed attempt leaves the manager
// retryable: the next EnsureReady call starts a fresh attempt.
func (m *Manager) EnsureReady(ctx context.Context) (Compositor, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	m.mu.Lock()
	switch m.state {
	case stateReady:
		handle := m.handle
		m.mu.Unlock()
		return handle, nil
	case stateProvisioning:
		att := m.current
		m.mu.Unlock()
		deadline := time.NewTimer(m.timeout)
		defer deadline.Stop()
		select {
		case <-att.done:
			return att.handle, att.err
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", schema.ErrCancelled, ctx.Err())
		case <-deadline.C:
			// The attempt may still resolve for later callers; this
			// caller gives up.
			return nil, schema.ErrProvisionTimeout
		}
	default: // stateUninitialized, stateFailed
		att := &attempt{done: make(chan struct{})}
		m.state = stateProvisioning
		m.current = att
		m.mu.Unlock()
		return m.provision(ctx, att)
	}
}

func (m *Manager) provision(ctx context.Context, att *attempt) (Compositor, error) {
	handle, err := m.acquire(ctx)

	m.mu.Lock()
	att.handle, att.err = handle, err
	if err != nil {
		m.state = stateFailed
		m.logger.Warn("compositor provisioning failed", "err", err)
	} else {
		m.state = stateReady
		m.handle = handle
		m.logger.Debug("compositor ready")
	}
	m.current = nil
	m.mu.Unlock()
	close(att.done)
	return handle, err
}

// acquire performs the single creation side effect: re-discover first to
// tolerate an externally created resource, then create, treating a
// creation race as success after re-lookup.
func (m *Manager) acquire(ctx context.Context) (Compositor, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if handle, ok, err := m.host.Lookup(ctx); err != nil {
		return nil, fmt.Errorf("%w: lookup: %v", schema.ErrProvisionFailed, err)
	} else if ok {
		if handle == nil {
			return nil, fmt.Errorf("%w: host reported an unusable existing compositor", schema.ErrProvisionFailed)
		}
		return handle, nil
	}

	handle, err := m.host.Create(ctx)
	if errors.Is(err, schema.ErrCompositorExists) {
		existing, ok, lerr := m.host.Lookup(ctx)
		if lerr != nil || !ok || existing == nil {
			return nil, fmt.Errorf("%w: compositor reported existing but not found", schema.ErrProvisionFailed)
		}
		return existing, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, schema.ErrProvisionTimeout
		}
		return nil, fmt.Errorf("%w: create: %v", schema.ErrProvisionFailed, err)
	}
	if handle == nil {
		return nil, fmt.Errorf("%w: host created a nil compositor", schema.ErrProvisionFailed)
	}
	return handle, nil
}
