// Package pathlock implements the naming server's path-lock manager
// (§4.D): per-path shared/exclusive locks acquired with ancestor-chain
// locking, so that deadlock across any set of concurrently locked paths
// is impossible and so ancestors cannot be deleted or renamed out from
// under an in-progress operation.
//
// Each path's lock is a sync.RWMutex. Go's documented RWMutex semantics
// already give the fairness policy §4.D asks for: once a writer (our X)
// is blocked waiting for the mutex, new readers (our S) queue behind it
// rather than continuing to starve the writer. Shared locks on ancestors
// are always acquired before the target mode on the path itself, in
// path-prefix order (nspath.Path.Ancestors), which is what makes the
// acquisition order across any set of operations a fixed total order and
// therefore free of cycles in the wait-for graph.
package pathlock

import (
	"sync"
	"time"

	"github.com/nicolagi/dfs/internal/metrics"
	"github.com/nicolagi/dfs/internal/nspath"
)

// Mode is the lock mode requested on a single path.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Hooks lets callers observe successful lock acquisitions without the
// lock manager needing to know anything about tree state. The registry
// package (§4.E) implements Hooks to run the access-accounting and
// replication/invalidation policy of §4.D on top of this package's pure
// locking mechanics.
type Hooks interface {
	// OnLocked is called once a lock in the given mode has been granted on
	// p, including for ancestors traversed on the way to a deeper path. It
	// must not itself call back into the Manager: it runs with the lock
	// held, and the manager is not reentrant.
	OnLocked(p nspath.Path, mode Mode)
}

// NopHooks implements Hooks with no-ops, for callers (and tests) that
// only need locking mechanics.
type NopHooks struct{}

func (NopHooks) OnLocked(nspath.Path, Mode) {}

type entry struct {
	rw  sync.RWMutex
	refCount int
}

// Manager is the path-lock manager. The zero value is not usable; use
// New.
type Manager struct {
	hooks Hooks

	mu    sync.Mutex
	table map[string]*entry
}

// New returns a Manager. hooks may be nil, equivalent to NopHooks.
func New(hooks Hooks) *Manager {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Manager{hooks: hooks, table: make(map[string]*entry)}
}

// Handle represents a chain of locks held on behalf of one logical
// operation. Release with Unlock, exactly once.
type Handle struct {
	mgr  *Manager
	held []heldLock
}

type heldLock struct {
	key   string
	entry *entry
	mode  Mode
}

// Lock acquires S on every proper ancestor of p, in root-to-leaf order,
// then mode on p itself, per §4.D. It always eventually succeeds; there
// is no cancellation or timeout in the core (§5).
func (m *Manager) Lock(p nspath.Path, mode Mode) *Handle {
	h := &Handle{mgr: m}
	for _, ancestor := range p.Ancestors() {
		h.held = append(h.held, m.acquire(ancestor, Shared))
	}
	h.held = append(h.held, m.acquire(p, mode))
	return h
}

func (m *Manager) acquire(p nspath.Path, mode Mode) heldLock {
	key := p.String()

	m.mu.Lock()
	e, ok := m.table[key]
	if !ok {
		e = &entry{}
		m.table[key] = e
	}
	e.refCount++
	m.mu.Unlock()

	start := time.Now()
	if mode == Shared {
		e.rw.RLock()
	} else {
		e.rw.Lock()
	}
	metrics.LockWaitSeconds.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	metrics.LocksHeld.WithLabelValues(mode.String()).Inc()
	m.hooks.OnLocked(p, mode)
	return heldLock{key: key, entry: e, mode: mode}
}

// Unlock releases every lock in the handle, in reverse acquisition order
// (leaf to root), as §4.D requires.
func (h *Handle) Unlock() {
	for i := len(h.held) - 1; i >= 0; i-- {
		h.mgr.release(h.held[i])
	}
	h.held = nil
}

func (m *Manager) release(hl heldLock) {
	if hl.mode == Shared {
		hl.entry.rw.RUnlock()
	} else {
		hl.entry.rw.Unlock()
	}
	metrics.LocksHeld.WithLabelValues(hl.mode.String()).Dec()
	m.mu.Lock()
	hl.entry.refCount--
	if hl.entry.refCount == 0 {
		delete(m.table, hl.key)
	}
	m.mu.Unlock()
}

// TableSize reports the number of paths currently tracked in the lock
// table (held or awaited by at least one goroutine). Exposed for tests
// and diagnostics verifying the table is garbage-collected when idle.
func (m *Manager) TableSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}
