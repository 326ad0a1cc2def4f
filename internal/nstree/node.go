// Package nstree implements the naming server's in-memory directory tree:
// a mapping from path to node, where each node is either a file (backed by
// a non-empty set of storage-server replicas) or a directory (backed by a
// set of child paths). It follows the teacher codebase's general shape for
// representing a filesystem tree (internal/tree/node.go) but, per the
// design notes, the file/directory dichotomy is modeled as a tagged sum
// rather than a single struct carrying both variants' fields: a node
// carries exactly one of *fileState or *dirState, never both.
package nstree

import (
	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/nspath"
)

// Replica identifies one storage server's copy of a file: a read stub and
// a command stub, plus an address used to tell replicas apart for
// deduplication and re-registration checks (§3.3).
type Replica struct {
	Address string
	Read    Reader
	Command Commander
}

// Reader and Commander mirror diskfs.Reader/diskfs.Commander so that
// nstree does not need to import the storage server's implementation
// package; an RPC client wrapper implements these against a remote
// storage server (see internal/rpcapi).
type Reader interface {
	Size(p nspath.Path) (int64, error)
	Read(p nspath.Path, offset, length int64) ([]byte, error)
	Write(p nspath.Path, offset int64, data []byte) error
}

type Commander interface {
	Create(p nspath.Path) (bool, error)
	Delete(p nspath.Path) (bool, error)
	Copy(p nspath.Path, source Reader) (bool, error)
}

type kind int

const (
	fileKind kind = iota
	dirKind
)

type fileState struct {
	replicas    []Replica
	accessCount int
}

type dirState struct {
	// children maps component name to full child path. A full path is
	// kept, not just the name, per the design notes: the tree resolves
	// children by lookup, never by pointer, so there is no cyclic
	// ownership between nodes.
	children map[string]nspath.Path
}

// Node is a tagged sum: exactly one of file or dir is non-nil.
type Node struct {
	path nspath.Path
	file *fileState
	dir  *dirState
}

func newFileNode(path nspath.Path, replica Replica) *Node {
	return &Node{path: path, file: &fileState{replicas: []Replica{replica}}}
}

func newDirNode(path nspath.Path) *Node {
	return &Node{path: path, dir: &dirState{children: make(map[string]nspath.Path)}}
}

// Path returns the node's full path.
func (n *Node) Path() nspath.Path { return n.path }

// IsDirectory reports whether n is a directory node.
func (n *Node) IsDirectory() bool { return n.dir != nil }

// replicas panics if called on a directory node; callers must check
// IsDirectory first. Kept unexported: Store.ReplicasOf is the public,
// checked accessor.
func (n *Node) replicas() []Replica {
	return n.file.replicas
}

func kindErr(method string, path nspath.Path) error {
	return apierr.Errorf(method, apierr.NotFound, "%s", path)
}
