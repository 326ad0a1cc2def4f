package ndiff

import (
	"sort"
	"strings"

	"github.com/nicolagi/dfs/internal/nspath"
)

// Lister is the read-only subset of the naming server's Service interface
// (§4.E) a snapshot needs: enough to walk the whole tree without taking
// any lock beyond what the service itself takes internally. *rpcapi.NamingClient
// satisfies this.
type Lister interface {
	IsDirectory(p nspath.Path) (bool, error)
	List(dir nspath.Path) ([]string, error)
}

// Snapshot recursively walks the tree reachable from root through l and
// serializes it to deterministic, line-oriented text: one line per path,
// sorted by path, prefixed with "F " for a file or "D " for a directory. Two
// trees converge to the same metadata iff their snapshots are textually
// identical, which is what makes this comparable with a generic
// unified-diff engine.
func Snapshot(l Lister, root nspath.Path) (string, error) {
	var lines []string
	if err := walk(l, root, &lines); err != nil {
		return "", err
	}
	// Order by the path after the two-byte "F "/"D " prefix, not by the
	// whole line, so a directory's entries follow it.
	sort.Slice(lines, func(i, j int) bool { return lines[i][2:] < lines[j][2:] })
	return strings.Join(lines, "\n") + "\n", nil
}

func walk(l Lister, p nspath.Path, lines *[]string) error {
	isDir, err := l.IsDirectory(p)
	if err != nil {
		return err
	}
	if !isDir {
		*lines = append(*lines, "F "+p.String())
		return nil
	}
	*lines = append(*lines, "D "+p.String())
	names, err := l.List(p)
	if err != nil {
		return err
	}
	for _, name := range names {
		child, err := p.Child(name)
		if err != nil {
			return err
		}
		if err := walk(l, child, lines); err != nil {
			return err
		}
	}
	return nil
}
