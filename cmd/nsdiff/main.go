// Command nsdiff is the supplemented read-only admin tool of SPEC_FULL.md
// §12: given two naming-server addresses, it recursively lists both
// trees, serializes each to deterministic line-oriented text, and prints
// a unified diff of the two. It takes no locks beyond the read-only
// service calls a client is allowed, and mutates nothing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nicolagi/dfs/internal/ndiff"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/rpcapi"
)

func main() {
	net := flag.String("net", "tcp", "Network for both naming-server addresses.")
	context := flag.Int("context", 3, "Lines of context around each diff hunk.")
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: nsdiff [-net tcp] [-context 3] <naming-addr-a> <naming-addr-b>")
		os.Exit(2)
	}

	out, err := run(*net, args[0], args[1], *context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nsdiff: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(out)
}

func run(net, addrA, addrB string, contextLines int) (string, error) {
	a, err := rpcapi.DialNaming(net, addrA)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", addrA, err)
	}
	b, err := rpcapi.DialNaming(net, addrB)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", addrB, err)
	}

	snapA, err := ndiff.Snapshot(a, nspath.Root)
	if err != nil {
		return "", fmt.Errorf("snapshotting %s: %w", addrA, err)
	}
	snapB, err := ndiff.Snapshot(b, nspath.Root)
	if err != nil {
		return "", fmt.Errorf("snapshotting %s: %w", addrB, err)
	}

	return ndiff.Unified(ndiff.StringNode(snapA), ndiff.StringNode(snapB), contextLines)
}
