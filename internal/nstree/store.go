package nstree

import (
	"math/rand"
	"sync"

	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/nspath"
)

// Store is the naming server's directory tree: a mapping from path to
// node. The path-lock manager (internal/pathlock) is the sole arbiter of
// the *logical* invariants in §3.2 — callers are expected to hold the
// locks §4.C and §4.E call for before invoking any method here — but Go
// maps are not safe for concurrent access even to disjoint keys, and §5
// allows operations on disjoint subtrees to run concurrently. So Store
// additionally guards its own map with a coarse mutex, held only for the
// duration of each individual call; this is a memory-safety concern
// layered underneath the path-lock manager's semantic one, not a
// replacement for it.
type Store struct {
	mu    sync.Mutex
	nodes map[string]*Node
	rng   *rand.Rand
}

// New returns a Store containing just the root directory (invariant 1 of
// §3.2).
func New(rng *rand.Rand) *Store {
	s := &Store{nodes: make(map[string]*Node), rng: rng}
	s.nodes[nspath.Root.String()] = newDirNode(nspath.Root)
	return s
}

func (s *Store) get(p nspath.Path) *Node {
	return s.nodes[p.String()]
}

func (s *Store) exists(p nspath.Path) bool {
	return s.get(p) != nil
}

// Exists reports whether p is known to the tree, of either kind.
func (s *Store) Exists(p nspath.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(p)
}

// IsDirectory reports the kind of p. It fails not-found if p is absent.
func (s *Store) IsDirectory(p nspath.Path) (bool, error) {
	const method = "nstree.Store.IsDirectory"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil {
		return false, kindErr(method, p)
	}
	return n.IsDirectory(), nil
}

// Children returns the immediate child component names of directory p.
func (s *Store) Children(p nspath.Path) ([]string, error) {
	const method = "nstree.Store.Children"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil || !n.IsDirectory() {
		return nil, kindErr(method, p)
	}
	names := make([]string, 0, len(n.dir.children))
	for name := range n.dir.children {
		names = append(names, name)
	}
	return names, nil
}

// ReplicasOf returns the non-empty replica set of file p.
func (s *Store) ReplicasOf(p nspath.Path) ([]Replica, error) {
	const method = "nstree.Store.ReplicasOf"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil || n.IsDirectory() {
		return nil, kindErr(method, p)
	}
	out := make([]Replica, len(n.file.replicas))
	copy(out, n.file.replicas)
	return out, nil
}

// PickReplica chooses one replica of file p uniformly at random, so that
// repeated calls across many paths distribute load across the registered
// storage servers (§4.C).
func (s *Store) PickReplica(p nspath.Path) (Replica, error) {
	const method = "nstree.Store.PickReplica"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil || n.IsDirectory() {
		return Replica{}, kindErr(method, p)
	}
	i := s.rng.Intn(len(n.file.replicas))
	return n.file.replicas[i], nil
}

// BumpAccessCount increments file p's access counter and returns the new
// value, so that the lock manager's replication policy (§4.D) can decide,
// on every successful S-lock of a file, whether to schedule replication.
func (s *Store) BumpAccessCount(p nspath.Path) (int, error) {
	const method = "nstree.Store.BumpAccessCount"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil || n.IsDirectory() {
		return 0, kindErr(method, p)
	}
	n.file.accessCount++
	return n.file.accessCount, nil
}

// ResetAccessCount zeroes the access counter of file p, called by the
// lock manager once it has acted on a replication or invalidation
// decision (§4.D).
func (s *Store) ResetAccessCount(p nspath.Path) error {
	const method = "nstree.Store.ResetAccessCount"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil || n.IsDirectory() {
		return kindErr(method, p)
	}
	n.file.accessCount = 0
	return nil
}

// AddReplica extends file p's replica set with an additional replica, as
// part of the lock manager's replication policy.
func (s *Store) AddReplica(p nspath.Path, r Replica) error {
	const method = "nstree.Store.AddReplica"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil || n.IsDirectory() {
		return kindErr(method, p)
	}
	n.file.replicas = append(n.file.replicas, r)
	return nil
}

// SetReplicas replaces file p's replica set wholesale, used by the lock
// manager's invalidation policy (an X-lock shrinks the set to one
// survivor) and is validated against invariant 4 of §3.2 (never empty).
func (s *Store) SetReplicas(p nspath.Path, replicas []Replica) error {
	const method = "nstree.Store.SetReplicas"
	if len(replicas) == 0 {
		return apierr.Errorf(method, apierr.IllegalArgument, "refusing to leave %s with no replicas", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil || n.IsDirectory() {
		return kindErr(method, p)
	}
	n.file.replicas = replicas
	return nil
}

// InsertFile inserts a new file node at p with the given sole replica. It
// requires parent(p) to exist as a directory and p to be absent (§4.C).
func (s *Store) InsertFile(p nspath.Path, replica Replica) error {
	const method = "nstree.Store.InsertFile"
	s.mu.Lock()
	defer s.mu.Unlock()
	dirNode, name, err := s.resolveForInsert(method, p)
	if err != nil {
		return err
	}
	s.nodes[p.String()] = newFileNode(p, replica)
	dirNode.dir.children[name] = p
	return nil
}

// InsertDirectory inserts a new, empty directory node at p. Same parent
// preconditions as InsertFile.
func (s *Store) InsertDirectory(p nspath.Path) error {
	const method = "nstree.Store.InsertDirectory"
	s.mu.Lock()
	defer s.mu.Unlock()
	dirNode, name, err := s.resolveForInsert(method, p)
	if err != nil {
		return err
	}
	s.nodes[p.String()] = newDirNode(p)
	dirNode.dir.children[name] = p
	return nil
}

// resolveForInsert must be called with s.mu held.
func (s *Store) resolveForInsert(method string, p nspath.Path) (parentNode *Node, name string, err error) {
	if p.IsRoot() {
		return nil, "", apierr.Errorf(method, apierr.IllegalArgument, "cannot insert root")
	}
	if s.exists(p) {
		return nil, "", apierr.Errorf(method, apierr.IllegalArgument, "%s already exists", p)
	}
	parent, err := p.Parent()
	if err != nil {
		return nil, "", apierr.Wrap(method, apierr.IllegalArgument, err)
	}
	parentNode = s.get(parent)
	if parentNode == nil || !parentNode.IsDirectory() {
		return nil, "", apierr.Errorf(method, apierr.NotFound, "parent %s is not a directory", parent)
	}
	name, err = p.Last()
	if err != nil {
		return nil, "", apierr.Wrap(method, apierr.IllegalArgument, err)
	}
	return parentNode, name, nil
}

// Remove deletes p from the tree. For a directory, the whole subtree is
// removed; the caller is responsible for issuing delete commands to every
// replica of every file in the subtree beforehand (§4.C). The root
// cannot be removed.
func (s *Store) Remove(p nspath.Path) error {
	const method = "nstree.Store.Remove"
	if p.IsRoot() {
		return apierr.Errorf(method, apierr.IllegalArgument, "cannot remove root")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil {
		return kindErr(method, p)
	}
	s.removeSubtree(n)
	parent, _ := p.Parent()
	if parentNode := s.get(parent); parentNode != nil && parentNode.IsDirectory() {
		name, _ := p.Last()
		delete(parentNode.dir.children, name)
	}
	return nil
}

// removeSubtree must be called with s.mu held.
func (s *Store) removeSubtree(n *Node) {
	if n.IsDirectory() {
		for _, childPath := range n.dir.children {
			if child := s.get(childPath); child != nil {
				s.removeSubtree(child)
			}
		}
	}
	delete(s.nodes, n.path.String())
}

// FilesUnder returns every file path in the subtree rooted at p,
// including p itself if it is a file. Used by delete (§4.E) to know
// which replicas to contact before mutating the tree.
func (s *Store) FilesUnder(p nspath.Path) ([]nspath.Path, error) {
	const method = "nstree.Store.FilesUnder"
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.get(p)
	if n == nil {
		return nil, kindErr(method, p)
	}
	var out []nspath.Path
	var walk func(*Node)
	walk = func(n *Node) {
		if !n.IsDirectory() {
			out = append(out, n.path)
			return
		}
		for _, childPath := range n.dir.children {
			if child := s.get(childPath); child != nil {
				walk(child)
			}
		}
	}
	walk(n)
	return out, nil
}
