// Package ndiff adapts the teacher codebase's generic unified-diff engine
// (diff/unified.go, diff/hunk.go, diff/node.go, built on
// github.com/andreyvit/diff) to the supplemented tree-diff admin tool of
// SPEC_FULL.md §12: it snapshots a naming server's tree to deterministic
// line-oriented text and prints a unified diff between two such
// snapshots. The Node/hunk/ring-buffer machinery below is the teacher's
// own diff engine, domain-agnostic already, kept close to verbatim since
// this package's only adaptation is what feeds into it (a tree snapshot,
// not an arbitrary file's bytes).
package ndiff

import "bytes"

// Node is one side of a two-way comparison: a named chunk of content,
// plus a shortcut for deciding two nodes are identical without comparing
// their full content.
type Node interface {
	// SameAs is an optional shortcut to comparing nodes. This could be
	// implemented, for instance, if the nodes to compare contain hashes
	// of their content. If no shortcut is possible, return false.
	SameAs(Node) bool

	// Content returns the content of the node.
	Content() (string, error)
}

// ByteNode is a Node over a raw byte slice.
type ByteNode []byte

func (b ByteNode) SameAs(node Node) bool {
	other, ok := node.(ByteNode)
	if !ok {
		return false
	}
	return bytes.Equal(b, other)
}

func (b ByteNode) Content() (string, error) {
	return string(b), nil
}

// StringNode is a Node over a string, the form a tree snapshot's
// serialized text naturally takes.
type StringNode string

func (s StringNode) SameAs(node Node) bool {
	other, ok := node.(StringNode)
	if !ok {
		return false
	}
	return string(s) == string(other)
}

func (s StringNode) Content() (string, error) {
	return string(s), nil
}
