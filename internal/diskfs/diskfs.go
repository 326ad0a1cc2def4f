// Package diskfs implements a storage server's file command layer: the
// create/delete/read/write/copy operations on files rooted at a host
// directory, as described by §4.B of the specification. It mirrors the
// on-disk conventions of the teacher codebase's internal/storage.DiskStore
// (internal/storage/disk.go) — a flat local directory as the backing
// state, no separate metadata file — generalized from content-addressed
// keys to hierarchical paths.
package diskfs

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/metrics"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/nstree"
)

// Reader and Commander are aliases, not new interface types, for
// nstree.Reader/nstree.Commander: *Root must satisfy those exact
// interfaces so it can be registered directly as the naming server's
// in-process local replica (and so rpcapi's services, written against
// nstree.Reader/nstree.Commander, can wrap it without a shim), the same
// interface-identity reasoning as rpcapi.StorageReadBackend.
type Reader = nstree.Reader

type Commander = nstree.Commander

// Root implements Reader and Commander over a fixed host directory. All
// operations on a given path are serialized against concurrent calls to
// this same Root via a per-path mutex set; the naming server's path-lock
// manager is what provides the cross-server discipline (§4.B, last
// paragraph).
type Root struct {
	dir string
	mu  pathMutexes
}

// New returns a Root rooted at dir. The directory is created if absent.
func New(dir string) (*Root, error) {
	const method = "diskfs.New"
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, apierr.Wrap(method, apierr.Transport, err)
	}
	return &Root{dir: dir}, nil
}

func (r *Root) hostPath(p nspath.Path) string {
	return filepath.Join(append([]string{r.dir}, p.Components()...)...)
}

// Size returns the byte length of the file at p.
func (r *Root) Size(p nspath.Path) (int64, error) {
	const method = "diskfs.Root.Size"
	unlock := r.mu.lock(p)
	defer unlock()
	fi, err := os.Stat(r.hostPath(p))
	if err != nil || fi.IsDir() {
		return 0, apierr.Errorf(method, apierr.NotFound, "%s", p)
	}
	return fi.Size(), nil
}

// Read returns exactly length bytes from p starting at offset.
func (r *Root) Read(p nspath.Path, offset, length int64) ([]byte, error) {
	const method = "diskfs.Root.Read"
	if offset < 0 || length < 0 {
		return nil, apierr.Errorf(method, apierr.Bounds, "offset=%d length=%d", offset, length)
	}
	unlock := r.mu.lock(p)
	defer unlock()

	f, err := os.Open(r.hostPath(p))
	if err != nil {
		return nil, apierr.Errorf(method, apierr.NotFound, "%s", p)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		return nil, apierr.Errorf(method, apierr.NotFound, "%s", p)
	}
	if offset+length > fi.Size() {
		return nil, apierr.Errorf(method, apierr.Bounds, "offset=%d length=%d size=%d", offset, length, fi.Size())
	}
	buf := make([]byte, length)
	if length > 0 {
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return nil, apierr.Wrap(method, apierr.Transport, err)
		}
	}
	return buf, nil
}

// Write writes data at offset, zero-filling any gap between the current
// size and offset. It never truncates existing bytes past the written
// range (Open Question iii of §9, resolved: overwrite in place).
func (r *Root) Write(p nspath.Path, offset int64, data []byte) error {
	const method = "diskfs.Root.Write"
	if offset < 0 {
		return apierr.Errorf(method, apierr.Bounds, "offset=%d", offset)
	}
	if data == nil {
		return apierr.Errorf(method, apierr.NullArgument, "data")
	}
	unlock := r.mu.lock(p)
	defer unlock()

	f, err := os.OpenFile(r.hostPath(p), os.O_RDWR, 0666)
	if err != nil {
		return apierr.Errorf(method, apierr.NotFound, "%s", p)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		return apierr.Errorf(method, apierr.NotFound, "%s", p)
	}
	if offset > fi.Size() {
		if err := f.Truncate(offset); err != nil {
			return apierr.Wrap(method, apierr.Transport, err)
		}
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		return apierr.Wrap(method, apierr.Transport, err)
	}
	return nil
}

// Create creates an empty regular file at p, including any missing
// ancestor directories. It fails on root, returns false (not an error) if
// p already exists, and returns false on any host I/O failure.
func (r *Root) Create(p nspath.Path) (ok bool, err error) {
	const method = "diskfs.Root.Create"
	defer func() { metrics.StorageCommandOps.WithLabelValues("create", metrics.Outcome(err)).Inc() }()
	if p.IsRoot() {
		return false, apierr.Errorf(method, apierr.IllegalArgument, "cannot create root")
	}
	unlock := r.mu.lock(p)
	defer unlock()

	host := r.hostPath(p)
	if _, err := os.Stat(host); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(host), 0777); err != nil {
		return false, nil
	}
	f, err := os.OpenFile(host, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return false, nil
	}
	_ = f.Close()
	return true, nil
}

// Delete removes the file or directory subtree at p. It fails on root.
// It returns false if p does not exist, or if a directory could not be
// fully removed.
func (r *Root) Delete(p nspath.Path) (ok bool, err error) {
	const method = "diskfs.Root.Delete"
	defer func() { metrics.StorageCommandOps.WithLabelValues("delete", metrics.Outcome(err)).Inc() }()
	if p.IsRoot() {
		return false, apierr.Errorf(method, apierr.IllegalArgument, "cannot delete root")
	}
	unlock := r.mu.lock(p)
	defer unlock()

	host := r.hostPath(p)
	fi, err := os.Stat(host)
	if err != nil {
		return false, nil
	}
	if !fi.IsDir() {
		if err := os.Remove(host); err != nil {
			return false, nil
		}
		return true, nil
	}
	if err := os.RemoveAll(host); err != nil {
		return false, nil
	}
	if _, err := os.Stat(host); err == nil {
		return false, nil
	}
	return true, nil
}

// Copy replicates p from a remote Reader: fetch size then the full byte
// range, create (truncating any prior local content), then write.
// Returns true iff the replica now exists with identical bytes.
func (r *Root) Copy(p nspath.Path, source Reader) (ok bool, err error) {
	const method = "diskfs.Root.Copy"
	defer func() { metrics.StorageCommandOps.WithLabelValues("copy", metrics.Outcome(err)).Inc() }()
	if source == nil {
		return false, apierr.Errorf(method, apierr.NullArgument, "source")
	}
	size, err := source.Size(p)
	if err != nil {
		return false, err
	}
	data, err := source.Read(p, 0, size)
	if err != nil {
		return false, err
	}
	if ok, err := r.Delete(p); err != nil {
		return false, err
	} else if !ok {
		// Not existing locally yet is fine; only a failed removal of an
		// existing file is fatal to the copy.
		if _, statErr := os.Stat(r.hostPath(p)); statErr == nil {
			return false, nil
		}
	}
	if ok, err := r.Create(p); err != nil || !ok {
		return false, err
	}
	if err := r.Write(p, 0, data); err != nil {
		return false, err
	}
	return true, nil
}

// List returns one Path per non-directory entry found under dir on the
// host filesystem, relative to dir, as described by §4.A. Symbolic links
// are not followed: filepath.Walk reports each link as a non-directory
// entry, so it is listed like a regular file, even if it points at a
// directory.
func List(dir string) ([]nspath.Path, error) {
	var out []nspath.Path
	err := filepath.Walk(dir, func(host string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, host)
		if err != nil {
			return err
		}
		p, err := nspath.New(splitRel(rel)...)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func splitRel(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}
