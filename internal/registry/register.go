package registry

import (
	log "github.com/sirupsen/logrus"

	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/nstree"
	"github.com/nicolagi/dfs/internal/pathlock"
)

// Register implements the registration & dedup handshake of §4.E. A
// storage server calls this once at startup with its read stub, command
// stub, an address identifying it (used for dedup of the command stub),
// and the list of paths it already holds on local disk. The returned
// paths are the ones the storage server must delete locally: this
// registry already has a replica of each (first registrant wins; no
// replication is inferred at registration time).
func (r *Registry) Register(address string, read nstree.Reader, command nstree.Commander, paths []nspath.Path) ([]nspath.Path, error) {
	const method = "registry.Registry.Register"
	if address == "" || read == nil || command == nil {
		return nil, apierr.Errorf(method, apierr.NullArgument, "read stub, command stub or address missing")
	}

	r.mu.Lock()
	if r.commands[address] {
		r.mu.Unlock()
		return nil, apierr.Errorf(method, apierr.AlreadyRegistered, "%s", address)
	}
	r.commands[address] = true
	replica := nstree.Replica{Address: address, Read: read, Command: command}
	r.servers = append(r.servers, replica)
	r.mu.Unlock()

	log.WithFields(log.Fields{"address": address, "paths": len(paths)}).Info("storage server registering")

	var duplicates []nspath.Path
	for _, p := range paths {
		if p.IsRoot() {
			continue
		}
		dup, err := r.registerPath(p, replica)
		if err != nil {
			return nil, err
		}
		if dup {
			duplicates = append(duplicates, p)
		}
	}
	return duplicates, nil
}

// registerPath creates any missing ancestor directories, then inserts p
// as a file with replica as its sole replica if p is absent, or reports p
// as a duplicate if it already exists as a file.
func (r *Registry) registerPath(p nspath.Path, replica nstree.Replica) (duplicate bool, err error) {
	if err := r.ensureAncestors(p); err != nil {
		return false, err
	}

	h := r.lock.Lock(p, pathlock.Exclusive)
	defer h.Unlock()

	if r.tree.Exists(p) {
		if isDir, _ := r.tree.IsDirectory(p); isDir {
			// A directory was registered where a file was advertised; leave
			// the tree's directory node as-is and treat the advertised path
			// as a duplicate so the storage server prunes its local copy.
			return true, nil
		}
		return true, nil
	}
	if err := r.tree.InsertFile(p, replica); err != nil {
		return false, err
	}
	return false, nil
}

// ensureAncestors creates, in root-to-leaf order, any ancestor directory
// of p that the tree does not already know about. Each creation is its
// own X-locked operation on that ancestor, as §4.E requires.
func (r *Registry) ensureAncestors(p nspath.Path) error {
	for _, ancestor := range p.Ancestors() {
		if ancestor.IsRoot() {
			continue
		}
		if r.tree.Exists(ancestor) {
			continue
		}
		h := r.lock.Lock(ancestor, pathlock.Exclusive)
		err := func() error {
			if r.tree.Exists(ancestor) {
				return nil
			}
			return r.tree.InsertDirectory(ancestor)
		}()
		h.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
