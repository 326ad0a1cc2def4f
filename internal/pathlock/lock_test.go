package pathlock_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/pathlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAncestorsLockedSharedBeforeTarget(t *testing.T) {
	defer leaktest.Check(t)()

	m := pathlock.New(nil)
	p := nspath.MustParse("/a/b/c")

	h := m.Lock(p, pathlock.Exclusive)

	// While p is held exclusively, a concurrent shared lock on an
	// ancestor must still succeed: ancestors are only ever S-locked by
	// this handle, never X.
	done := make(chan struct{})
	go func() {
		ah := m.Lock(nspath.MustParse("/a"), pathlock.Shared)
		ah.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ancestor shared lock did not succeed concurrently with descendant exclusive lock")
	}

	h.Unlock()
}

func TestExclusiveExcludesConcurrentExclusive(t *testing.T) {
	defer leaktest.Check(t)()

	m := pathlock.New(nil)
	p := nspath.MustParse("/hot")

	h := m.Lock(p, pathlock.Exclusive)

	acquired := make(chan struct{})
	go func() {
		h2 := m.Lock(p, pathlock.Exclusive)
		close(acquired)
		h2.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second exclusive lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	h.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second exclusive lock never acquired after first released")
	}
}

// Property 8 (applied to the lock layer): with N concurrent S-lockers and
// one X-locker on the same path, none is permanently denied.
func TestNoStarvationUnderMixedConcurrency(t *testing.T) {
	defer leaktest.Check(t)()

	m := pathlock.New(nil)
	p := nspath.MustParse("/hot")

	const readers = 20
	var wg sync.WaitGroup
	var completed int32

	wg.Add(readers + 1)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h := m.Lock(p, pathlock.Shared)
				h.Unlock()
			}
			atomic.AddInt32(&completed, 1)
		}()
	}
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			h := m.Lock(p, pathlock.Exclusive)
			h.Unlock()
		}
		atomic.AddInt32(&completed, 1)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deadlock or starvation: only %d of %d goroutines completed", atomic.LoadInt32(&completed), readers+1)
	}
	assert.EqualValues(t, readers+1, completed)
}

func TestTableGarbageCollectedWhenIdle(t *testing.T) {
	m := pathlock.New(nil)
	h := m.Lock(nspath.MustParse("/a/b"), pathlock.Shared)
	assert.Equal(t, 3, m.TableSize()) // "/", "/a", "/a/b"
	h.Unlock()
	assert.Equal(t, 0, m.TableSize())
}

type countingHooks struct {
	mu    sync.Mutex
	calls []pathlock.Mode
}

func (h *countingHooks) OnLocked(_ nspath.Path, mode pathlock.Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, mode)
}

func TestHooksFireForEveryLockInChain(t *testing.T) {
	hooks := &countingHooks{}
	m := pathlock.New(hooks)
	h := m.Lock(nspath.MustParse("/a/b/c"), pathlock.Exclusive)
	h.Unlock()
	require.Len(t, hooks.calls, 4) // "/", "/a", "/a/b", then "/a/b/c"
	assert.Equal(t, pathlock.Shared, hooks.calls[0])
	assert.Equal(t, pathlock.Shared, hooks.calls[1])
	assert.Equal(t, pathlock.Shared, hooks.calls[2])
	assert.Equal(t, pathlock.Exclusive, hooks.calls[3])
}
