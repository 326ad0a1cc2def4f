// Package registry is the naming server's core: it composes the
// directory-tree store (internal/nstree), the path-lock manager
// (internal/pathlock) and the storage-server registry, and implements the
// service operations of §4.E of the specification on top of them. It is
// the thing an RPC-facing layer (internal/rpcapi) wraps.
package registry

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/metrics"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/nstree"
	"github.com/nicolagi/dfs/internal/pathlock"
)

// Registry is the naming server. The zero value is not usable; use New.
type Registry struct {
	tree *nstree.Store
	lock *pathlock.Manager

	replicationThreshold int

	mu       sync.Mutex
	rng      *rand.Rand
	servers  []nstree.Replica
	commands map[string]bool // command-stub address -> registered
	handles  map[string]*pathlock.Handle
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithReplicationThreshold overrides the default access-count threshold
// (Open Question ii of §9, resolved to 20) that triggers asynchronous
// replication. See config.Naming.ReplicationThreshold.
func WithReplicationThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.replicationThreshold = n
		}
	}
}

// New returns a Registry with an empty tree and storage registry. rng
// seeds both the tree's replica-selection RNG and the registry's
// storage-placement RNG; per the design notes, seeding policy is
// implementation-defined but must not produce identical sequences across
// naming-server processes, so callers should seed with something
// process-specific (time, pid) rather than a fixed constant in
// production.
func New(rng *rand.Rand, opts ...Option) *Registry {
	r := &Registry{
		tree:                 nstree.New(rng),
		rng:                  rng,
		commands:             make(map[string]bool),
		replicationThreshold: 20,
	}
	r.lock = pathlock.New(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnLocked implements pathlock.Hooks: it runs the access-accounting and
// replication/invalidation policy of §4.D on every successful lock grant.
// It must not call back into r.lock (the manager is not reentrant); it
// only touches r.tree and r.servers.
func (r *Registry) OnLocked(p nspath.Path, mode pathlock.Mode) {
	isDir, err := r.tree.IsDirectory(p)
	if err != nil || isDir {
		return
	}
	switch mode {
	case pathlock.Shared:
		r.onSharedLock(p)
	case pathlock.Exclusive:
		r.onExclusiveLock(p)
	}
}

func (r *Registry) onSharedLock(p nspath.Path) {
	count, err := r.tree.BumpAccessCount(p)
	if err != nil {
		return
	}
	if count < r.replicationThreshold {
		return
	}
	le := log.WithFields(log.Fields{"path": p, "accessCount": count})
	candidate, ok := r.pickUnusedServer(p)
	if !ok {
		le.Debug("replication threshold crossed, but no spare storage server available")
		return
	}
	// Replication is asynchronous per §4.D: it must not block the S-lock
	// holder that tripped the threshold.
	metrics.ReplicationEvents.WithLabelValues("scheduled").Inc()
	go r.replicate(p, candidate)
	if err := r.tree.ResetAccessCount(p); err != nil {
		le.WithError(err).Debug("failed to reset access count after scheduling replication")
	}
}

func (r *Registry) replicate(p nspath.Path, target nstree.Replica) {
	le := log.WithFields(log.Fields{"path": p, "target": target.Address})
	source, err := r.tree.PickReplica(p)
	if err != nil {
		le.WithError(err).Debug("replication aborted: source replica vanished")
		return
	}
	ok, err := target.Command.Copy(p, source.Read)
	if err != nil {
		le.WithError(err).Debug("replication copy failed")
		return
	}
	if !ok {
		le.Debug("replication copy reported failure")
		return
	}
	if err := r.tree.AddReplica(p, target); err != nil {
		le.WithError(err).Debug("failed to record new replica after successful copy")
		return
	}
	le.Debug("replication complete")
}

func (r *Registry) onExclusiveLock(p nspath.Path) {
	replicas, err := r.tree.ReplicasOf(p)
	if err != nil || len(replicas) <= 1 {
		return
	}
	survivor := replicas[0]
	victims := replicas[1:]
	le := log.WithFields(log.Fields{"path": p, "survivor": survivor.Address, "invalidated": len(victims)})

	var g errgroup.Group
	for _, victim := range victims {
		victim := victim
		g.Go(func() error {
			_, err := victim.Command.Delete(p)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		le.WithError(err).Debug("one or more replica invalidations failed")
	}
	if err := r.tree.SetReplicas(p, []nstree.Replica{survivor}); err != nil {
		le.WithError(err).Debug("failed to shrink replica set after invalidation")
		return
	}
	if err := r.tree.ResetAccessCount(p); err != nil {
		le.WithError(err).Debug("failed to reset access count after invalidation")
	}
	metrics.ReplicationEvents.WithLabelValues("invalidated").Inc()
	le.Debug("replicas invalidated on exclusive lock")
}

// pickUnusedServer returns a registered storage server that is not
// already a replica of p, if one exists.
func (r *Registry) pickUnusedServer(p nspath.Path) (nstree.Replica, bool) {
	existing, err := r.tree.ReplicasOf(p)
	if err != nil {
		return nstree.Replica{}, false
	}
	have := make(map[string]bool, len(existing))
	for _, rep := range existing {
		have[rep.Address] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []nstree.Replica
	for _, s := range r.servers {
		if !have[s.Address] {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nstree.Replica{}, false
	}
	return candidates[r.rng.Intn(len(candidates))], true
}

// recordOp instruments a service operation with metrics.ServiceOps,
// keyed by method and outcome ("ok" or an apierr.Kind string). Call as
// `defer recordOp(method, &err)()` at the top of a method with a named
// error return.
func recordOp(method string, err *error) func() {
	return func() {
		metrics.ServiceOps.WithLabelValues(method, metrics.Outcome(*err)).Inc()
	}
}

// IsDirectory implements the isDirectory service operation of §4.E.
func (r *Registry) IsDirectory(p nspath.Path) (isDir bool, err error) {
	defer recordOp("isDirectory", &err)()
	h := r.lock.Lock(p, pathlock.Shared)
	defer h.Unlock()
	return r.tree.IsDirectory(p)
}

// List implements the list service operation.
func (r *Registry) List(dir nspath.Path) (names []string, err error) {
	defer recordOp("list", &err)()
	h := r.lock.Lock(dir, pathlock.Shared)
	defer h.Unlock()
	return r.tree.Children(dir)
}

// GetStorage implements the getStorage service operation: an S-lock on p,
// requiring p to be a file, returning pickReplica(p)'s read stub.
func (r *Registry) GetStorage(p nspath.Path) (reader nstree.Reader, err error) {
	const method = "registry.Registry.GetStorage"
	defer recordOp("getStorage", &err)()
	h := r.lock.Lock(p, pathlock.Shared)
	defer h.Unlock()
	isDir, err := r.tree.IsDirectory(p)
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, apierr.Errorf(method, apierr.NotFound, "%s is a directory", p)
	}
	replica, err := r.tree.PickReplica(p)
	if err != nil {
		return nil, err
	}
	return replica.Read, nil
}

// GetStorageAddress is GetStorage's RPC-facing counterpart: rather than an
// in-process Reader, it returns the dial address of the chosen replica's
// storage server, which an RPC client uses to reach the replica's
// StorageReadService directly (§6).
func (r *Registry) GetStorageAddress(p nspath.Path) (address string, err error) {
	const method = "registry.Registry.GetStorageAddress"
	defer recordOp("getStorage", &err)()
	h := r.lock.Lock(p, pathlock.Shared)
	defer h.Unlock()
	isDir, err := r.tree.IsDirectory(p)
	if err != nil {
		return "", err
	}
	if isDir {
		return "", apierr.Errorf(method, apierr.NotFound, "%s is a directory", p)
	}
	replica, err := r.tree.PickReplica(p)
	if err != nil {
		return "", err
	}
	return replica.Address, nil
}

// CreateFile implements createFile: picks a storage server uniformly at
// random, issues create(p) on it, and on success inserts the file node.
func (r *Registry) CreateFile(p nspath.Path) (err error) {
	const method = "registry.Registry.CreateFile"
	defer recordOp("createFile", &err)()
	parent, err := p.Parent()
	if err != nil {
		return apierr.Wrap(method, apierr.IllegalArgument, err)
	}
	h := r.lock.Lock(parent, pathlock.Exclusive)
	defer h.Unlock()

	if isDir, err := r.tree.IsDirectory(parent); err != nil || !isDir {
		return apierr.Errorf(method, apierr.NotFound, "parent %s is not a directory", parent)
	}
	server, ok := r.anyServer()
	if !ok {
		return apierr.Errorf(method, apierr.IllegalState, "no storage servers registered")
	}
	ok, err = server.Command.Create(p)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Errorf(method, apierr.IllegalArgument, "%s already exists on storage server %s", p, server.Address)
	}
	if err := r.tree.InsertFile(p, server); err != nil {
		// Roll back the storage-side create, per §5's rollback requirement.
		_, _ = server.Command.Delete(p)
		return err
	}
	return nil
}

// CreateDirectory implements createDirectory.
func (r *Registry) CreateDirectory(p nspath.Path) (err error) {
	const method = "registry.Registry.CreateDirectory"
	defer recordOp("createDirectory", &err)()
	parent, err := p.Parent()
	if err != nil {
		return apierr.Wrap(method, apierr.IllegalArgument, err)
	}
	h := r.lock.Lock(parent, pathlock.Exclusive)
	defer h.Unlock()
	if isDir, err := r.tree.IsDirectory(parent); err != nil || !isDir {
		return apierr.Errorf(method, apierr.NotFound, "parent %s is not a directory", parent)
	}
	return r.tree.InsertDirectory(p)
}

// Delete implements delete: all-or-nothing removal (Open Question i of
// §9, resolved: no partial tree mutation on partial replica failure).
func (r *Registry) Delete(p nspath.Path) (err error) {
	defer recordOp("delete", &err)()
	h := r.lock.Lock(p, pathlock.Exclusive)
	defer h.Unlock()

	files, err := r.tree.FilesUnder(p)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, file := range files {
		file := file
		replicas, err := r.tree.ReplicasOf(file)
		if err != nil {
			return err
		}
		for _, replica := range replicas {
			replica := replica
			g.Go(func() error {
				_, err := replica.Command.Delete(file)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return apierr.Wrap("registry.Registry.Delete", apierr.Transport, err)
	}
	return r.tree.Remove(p)
}

// Lock implements the lock(p, exclusive) service operation. It returns an
// opaque token identifying the held lock chain, since the RPC surface
// cannot carry a *pathlock.Handle across the wire; pass the token to
// Unlock exactly once to release it.
func (r *Registry) Lock(p nspath.Path, exclusive bool) (token string, err error) {
	const method = "registry.Registry.Lock"
	defer recordOp("lock", &err)()
	if !r.tree.Exists(p) {
		return "", apierr.Errorf(method, apierr.NotFound, "%s", p)
	}
	mode := pathlock.Shared
	if exclusive {
		mode = pathlock.Exclusive
	}
	h := r.lock.Lock(p, mode)
	return r.storeHandle(h), nil
}

// Unlock implements the unlock(p, exclusive) service operation, releasing
// the lock chain identified by a token previously returned by Lock.
func (r *Registry) Unlock(token string) (err error) {
	const method = "registry.Registry.Unlock"
	defer recordOp("unlock", &err)()
	h, ok := r.takeHandle(token)
	if !ok {
		return apierr.Errorf(method, apierr.IllegalArgument, "unknown lock token")
	}
	h.Unlock()
	return nil
}

// ReplicaCount reports the current size of file p's replica set, for
// callers (tests, diagnostics) that need to observe the access-accounting
// policy's effect on replication without reaching into the tree package
// directly.
func (r *Registry) ReplicaCount(p nspath.Path) (int, error) {
	replicas, err := r.tree.ReplicasOf(p)
	if err != nil {
		return 0, err
	}
	return len(replicas), nil
}

func (r *Registry) storeHandle(h *pathlock.Handle) string {
	token := randomToken()
	r.mu.Lock()
	if r.handles == nil {
		r.handles = make(map[string]*pathlock.Handle)
	}
	r.handles[token] = h
	r.mu.Unlock()
	return token
}

func (r *Registry) takeHandle(token string) (*pathlock.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[token]
	if ok {
		delete(r.handles, token)
	}
	return h, ok
}

func randomToken() string {
	var b [16]byte
	_, _ = cryptorand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (r *Registry) anyServer() (nstree.Replica, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.servers) == 0 {
		return nstree.Replica{}, false
	}
	return r.servers[r.rng.Intn(len(r.servers))], true
}
