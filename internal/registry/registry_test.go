package registry_test

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/nstree"
	"github.com/nicolagi/dfs/internal/registry"
)

// fakeServer is an in-memory storage server implementing nstree.Reader
// and nstree.Commander directly, so registry tests don't need a real
// RPC-connected storage server.
type fakeServer struct {
	address string
	mu      sync.Mutex
	files   map[string][]byte
}

func newFakeServer(address string) *fakeServer {
	return &fakeServer{address: address, files: make(map[string][]byte)}
}

func (s *fakeServer) Size(p nspath.Path) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p.String()]
	if !ok {
		return 0, apierr.New(apierr.NotFound)
	}
	return int64(len(data)), nil
}

func (s *fakeServer) Read(p nspath.Path, offset, length int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p.String()]
	if !ok {
		return nil, apierr.New(apierr.NotFound)
	}
	if offset < 0 || length < 0 || offset+length > int64(len(data)) {
		return nil, apierr.New(apierr.Bounds)
	}
	out := make([]byte, length)
	copy(out, data[offset:offset+length])
	return out, nil
}

func (s *fakeServer) Write(p nspath.Path, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.files[p.String()]
	if !ok {
		return apierr.New(apierr.NotFound)
	}
	end := offset + int64(len(data))
	if int64(len(existing)) < end {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], data)
	s.files[p.String()] = existing
	return nil
}

func (s *fakeServer) Create(p nspath.Path) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p.String()]; ok {
		return false, nil
	}
	s.files[p.String()] = nil
	return true, nil
}

func (s *fakeServer) Delete(p nspath.Path) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p.String()]; !ok {
		return false, nil
	}
	delete(s.files, p.String())
	return true, nil
}

func (s *fakeServer) Copy(p nspath.Path, source nstree.Reader) (bool, error) {
	size, err := source.Size(p)
	if err != nil {
		return false, err
	}
	data, err := source.Read(p, 0, size)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.files[p.String()] = append([]byte(nil), data...)
	s.mu.Unlock()
	return true, nil
}

func newRegistry() *registry.Registry {
	return registry.New(rand.New(rand.NewSource(1)))
}

func mustRegister(t *testing.T, r *registry.Registry, address string, paths ...nspath.Path) (*fakeServer, []nspath.Path) {
	t.Helper()
	s := newFakeServer(address)
	for _, p := range paths {
		_, _ = s.Create(p)
	}
	dups, err := r.Register(address, s, s, paths)
	require.NoError(t, err)
	return s, dups
}

// S1: create /a/b/c; expect list(/) = ["a"], list(/a) = ["b"],
// isDirectory(/a/b) = true, isDirectory(/a/b/c) = false.
func TestScenarioS1(t *testing.T) {
	r := newRegistry()
	mustRegister(t, r, "s1")

	require.NoError(t, r.CreateDirectory(nspath.MustParse("/a")))
	require.NoError(t, r.CreateDirectory(nspath.MustParse("/a/b")))
	require.NoError(t, r.CreateFile(nspath.MustParse("/a/b/c")))

	children, err := r.List(nspath.Root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, children)

	children, err = r.List(nspath.MustParse("/a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, children)

	isDir, err := r.IsDirectory(nspath.MustParse("/a/b"))
	require.NoError(t, err)
	assert.True(t, isDir)

	isDir, err = r.IsDirectory(nspath.MustParse("/a/b/c"))
	require.NoError(t, err)
	assert.False(t, isDir)
}

// S2: two storage servers register with overlapping lists ["/x","/y"] and
// ["/y","/z"]. The second receives ["/y"] as duplicates; tree has files
// /x,/y,/z; /y has one replica (first server).
func TestScenarioS2(t *testing.T) {
	r := newRegistry()
	_, dups1 := mustRegister(t, r, "s1", nspath.MustParse("/x"), nspath.MustParse("/y"))
	assert.Empty(t, dups1)

	_, dups2 := mustRegister(t, r, "s2", nspath.MustParse("/y"), nspath.MustParse("/z"))
	require.Len(t, dups2, 1)
	assert.Equal(t, "/y", dups2[0].String())

	for _, p := range []string{"/x", "/y", "/z"} {
		isDir, err := r.IsDirectory(nspath.MustParse(p))
		require.NoError(t, err)
		assert.False(t, isDir)
	}

	count, err := r.ReplicaCount(nspath.MustParse("/y"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegisterRejectsDuplicateAddress(t *testing.T) {
	r := newRegistry()
	mustRegister(t, r, "s1")
	s := newFakeServer("s1")
	_, err := r.Register("s1", s, s, nil)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.AlreadyRegistered))
}

func TestRegisterRejectsNullArguments(t *testing.T) {
	r := newRegistry()
	_, err := r.Register("", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.NullArgument))
}

// S3: createFile(/f) with no storage servers registered -> illegal-state;
// after one registers, retry returns true.
func TestScenarioS3(t *testing.T) {
	r := newRegistry()
	err := r.CreateFile(nspath.MustParse("/f"))
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.IllegalState))

	mustRegister(t, r, "s1")
	require.NoError(t, r.CreateFile(nspath.MustParse("/f")))
}

// Property 9: after createFile(p) returns true followed by getStorage(p),
// a read(p,0,0) succeeds on the returned server.
func TestCreateFileThenGetStorageThenRead(t *testing.T) {
	r := newRegistry()
	mustRegister(t, r, "s1")
	p := nspath.MustParse("/f")
	require.NoError(t, r.CreateFile(p))

	reader, err := r.GetStorage(p)
	require.NoError(t, err)
	_, err = reader.Read(p, 0, 0)
	require.NoError(t, err)
}

// S5: after 25 S-locks on /hot, the replica set of /hot has size >= 2.
// After one X-lock on /hot, the replica set has size 1.
func TestScenarioS5Replication(t *testing.T) {
	r := registry.New(rand.New(rand.NewSource(1)), registry.WithReplicationThreshold(20))
	mustRegister(t, r, "s1")
	mustRegister(t, r, "s2")

	p := nspath.MustParse("/hot")
	require.NoError(t, r.CreateFile(p))

	for i := 0; i < 25; i++ {
		tok, err := r.Lock(p, false)
		require.NoError(t, err)
		require.NoError(t, r.Unlock(tok))
	}

	// Replication is scheduled asynchronously (§4.D) once the threshold is
	// crossed, so poll briefly for the replica set to grow to >= 2 rather
	// than asserting on it immediately.
	deadline := time.Now().Add(time.Second)
	var count int
	for time.Now().Before(deadline) {
		var err error
		count, err = r.ReplicaCount(p)
		require.NoError(t, err)
		if count >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.GreaterOrEqual(t, count, 2, "replica set did not grow after crossing the replication threshold")

	// An X-lock invalidates all but one replica, synchronously (§4.D).
	tok, err := r.Lock(p, true)
	require.NoError(t, err)
	require.NoError(t, r.Unlock(tok))

	count, err = r.ReplicaCount(p)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// S6: delete /a where /a/b/c exists; all replicas of /a/b/c receive
// delete; tree has only root.
func TestScenarioS6Delete(t *testing.T) {
	r := newRegistry()
	s, _ := mustRegister(t, r, "s1")

	require.NoError(t, r.CreateDirectory(nspath.MustParse("/a")))
	require.NoError(t, r.CreateDirectory(nspath.MustParse("/a/b")))
	require.NoError(t, r.CreateFile(nspath.MustParse("/a/b/c")))

	require.NoError(t, r.Delete(nspath.MustParse("/a")))

	_, err := s.Size(nspath.MustParse("/a/b/c"))
	assert.True(t, apierr.Is(err, apierr.NotFound))

	children, err := r.List(nspath.Root)
	require.NoError(t, err)
	assert.Empty(t, children)
}

// Property 7: concurrent createFile attempts at the same path: exactly
// one returns true (no error), all others return false (an error);
// after completion, exactly one file node exists.
func TestConcurrentCreateFileSamePath(t *testing.T) {
	defer leaktest.Check(t)()

	r := newRegistry()
	mustRegister(t, r, "s1")
	p := nspath.MustParse("/contested")

	const attempts = 10
	var wg sync.WaitGroup
	var succeeded int32
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if err := r.CreateFile(p); err == nil {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded)
	isDir, err := r.IsDirectory(p)
	require.NoError(t, err)
	assert.False(t, isDir)
}
