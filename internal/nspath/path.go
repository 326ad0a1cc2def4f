// Package nspath implements the naming server's path value: an immutable,
// canonical, slash-delimited sequence of components, together with the
// ordering the path-lock manager relies on to acquire ancestor chains
// without deadlock.
package nspath

import (
	"strings"

	"github.com/nicolagi/dfs/internal/apierr"
)

// Path is an immutable sequence of path components. The zero value is the
// root directory. Path holds a slice internally, so it is not comparable
// with ==; use Equal.
type Path struct {
	components []string
}

// Root is the empty path, denoting the root directory.
var Root = Path{}

// Parse validates and parses s into a Path. It requires a leading "/",
// rejects ":" anywhere in the string, and drops empty components so that
// "//a///b" parses the same as "/a/b".
func Parse(s string) (Path, error) {
	const method = "nspath.Parse"
	if s == "" || s[0] != '/' {
		return Path{}, apierr.Errorf(method, apierr.IllegalArgument, "path %q must start with /", s)
	}
	if strings.Contains(s, ":") {
		return Path{}, apierr.Errorf(method, apierr.IllegalArgument, "path %q must not contain ':'", s)
	}
	var components []string
	for _, c := range strings.Split(s, "/") {
		if c != "" {
			components = append(components, c)
		}
	}
	return Path{components: components}, nil
}

// MustParse is Parse, panicking on error. It exists for tests and for
// constructing well-known paths (e.g. configuration defaults) from
// literals known to be valid at compile time.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// New builds a Path directly from already-validated components, e.g. when
// appending a single component to an existing path. Each component must be
// non-empty and must not contain "/" or ":".
func New(components ...string) (Path, error) {
	const method = "nspath.New"
	out := make([]string, 0, len(components))
	for _, c := range components {
		if c == "" {
			return Path{}, apierr.Errorf(method, apierr.IllegalArgument, "empty component")
		}
		if strings.ContainsAny(c, "/:") {
			return Path{}, apierr.Errorf(method, apierr.IllegalArgument, "component %q contains '/' or ':'", c)
		}
		out = append(out, c)
	}
	return Path{components: out}, nil
}

// IsRoot reports whether p is the root directory.
func (p Path) IsRoot() bool {
	return len(p.components) == 0
}

// Components returns the path's components left to right. The returned
// slice must not be mutated by the caller.
func (p Path) Components() []string {
	return p.components
}

// Parent returns the path's parent. It fails for the root path.
func (p Path) Parent() (Path, error) {
	const method = "nspath.Path.Parent"
	if p.IsRoot() {
		return Path{}, apierr.Errorf(method, apierr.IllegalArgument, "root has no parent")
	}
	return Path{components: p.components[:len(p.components)-1]}, nil
}

// Last returns the final component of p. It fails for the root path.
func (p Path) Last() (string, error) {
	const method = "nspath.Path.Last"
	if p.IsRoot() {
		return "", apierr.Errorf(method, apierr.IllegalArgument, "root has no last component")
	}
	return p.components[len(p.components)-1], nil
}

// Child returns the path obtained by appending name to p.
func (p Path) Child(name string) (Path, error) {
	const method = "nspath.Path.Child"
	if name == "" || strings.ContainsAny(name, "/:") {
		return Path{}, apierr.Errorf(method, apierr.IllegalArgument, "invalid component %q", name)
	}
	out := make([]string, len(p.components)+1)
	copy(out, p.components)
	out[len(p.components)] = name
	return Path{components: out}, nil
}

// Ancestors returns the chain root, a1, ..., an for p, excluding p itself,
// in root-to-leaf order. This is exactly the lock order of §4.D: acquire
// S on every entry here, in order, before acquiring the target mode on p.
func (p Path) Ancestors() []Path {
	chain := make([]Path, 0, len(p.components))
	for i := range p.components {
		chain = append(chain, Path{components: p.components[:i]})
	}
	return chain
}

// IsSubpath reports whether other's components are a prefix of p's, i.e.
// other is p itself or an ancestor of p.
func (p Path) IsSubpath(other Path) bool {
	if len(other.components) > len(p.components) {
		return false
	}
	for i, c := range other.components {
		if p.components[i] != c {
			return false
		}
	}
	return true
}

// Equal reports component-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p.components) != len(other.components) {
		return false
	}
	for i, c := range p.components {
		if other.components[i] != c {
			return false
		}
	}
	return true
}

// String serializes p: "/" for root, else "/" followed by components
// joined by "/".
func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	return "/" + strings.Join(p.components, "/")
}

// Compare gives the total order used for deadlock-avoidance: lexicographic
// over the serialized form. Since ancestors serialize as strict prefixes
// of their descendants' serialized form, and a strict prefix always
// compares less, Compare(a, p) < 0 for any ancestor a of p.
func (p Path) Compare(other Path) int {
	return strings.Compare(p.String(), other.String())
}

// Hash derives a hash from the serialized form. Path holds a slice
// internally and so is not itself comparable with ==; components that
// need to key a map by path (the tree store, the lock table) key by
// p.String() instead and do not call Hash.
func (p Path) Hash() uint64 {
	// FNV-1a over the serialized form.
	var h uint64 = 14695981039346656037
	s := p.String()
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
