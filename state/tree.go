package state

import (
	"fmt"
	"strings"
	"sync"
)

// Quark identifies an attribute. Quarks are assigned densely from 0 in creation
// order and stay stable for the lifetime of the tree.
type Quark int

const (
	// RootQuark is the implicit parent of top-level attributes.
	RootQuark Quark = -1
	// InvalidQuark is returned by optional lookups that found nothing.
	InvalidQuark Quark = -2
)

// PathSeparator joins path segments in FullPath.
const PathSeparator = "/"

type attributeNode struct {
	name     string
	parent   Quark
	children map[string]Quark
	ordered  []Quark // creation order
}

// AttributeTree is the hierarchical namespace of attributes.
// Lookups may run concurrently with attribute creation.
type AttributeTree struct {
	mu    sync.RWMutex
	nodes []attributeNode
	root  attributeNode
}

// NewAttributeTree creates an empty tree.
func NewAttributeTree() *AttributeTree {
	return &AttributeTree{
		nodes: make([]attributeNode, 0),
		root:  attributeNode{parent: InvalidQuark, children: make(map[string]Quark)},
	}
}

func (t *AttributeTree) node(q Quark) *attributeNode {
	if q == RootQuark {
		return &t.root
	}
	if q < 0 || int(q) >= len(t.nodes) {
		return nil
	}
	return &t.nodes[q]
}

// QuarkAbsoluteAndAdd returns the quark at path from the root, creating missing attributes.
func (t *AttributeTree) QuarkAbsoluteAndAdd(path ...string) Quark {
	return t.QuarkRelativeAndAdd(RootQuark, path...)
}

// QuarkRelativeAndAdd returns the quark at path under parent, creating missing attributes.
// Calling it twice with the same arguments returns the same quark.
// Panics if parent does not exist.
func (t *AttributeTree) QuarkRelativeAndAdd(parent Quark, path ...string) Quark {
	if q, ok := t.lookup(parent, path); ok {
		return q
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	current := parent
	for _, name := range path {
		n := t.node(current)
		if n == nil {
			panic(fmt.Sprintf("attribute tree: unknown parent quark %d", current))
		}
		child, ok := n.children[name]
		if !ok {
			child = Quark(len(t.nodes))
			n.children[name] = child
			n.ordered = append(n.ordered, child)
			// n may be invalidated by the append below
			t.nodes = append(t.nodes, attributeNode{
				name:     name,
				parent:   current,
				children: make(map[string]Quark),
			})
		}
		current = child
	}
	return current
}

func (t *AttributeTree) lookup(parent Quark, path []string) (Quark, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	current := parent
	for _, name := range path {
		n := t.node(current)
		if n == nil {
			return InvalidQuark, false
		}
		child, ok := n.children[name]
		if !ok {
			return InvalidQuark, false
		}
		current = child
	}
	if t.node(current) == nil {
		return InvalidQuark, false
	}
	return current, true
}

// QuarkAbsolute returns the quark at path from the root without creating anything.
func (t *AttributeTree) QuarkAbsolute(path ...string) (Quark, error) {
	return t.QuarkRelative(RootQuark, path...)
}

// QuarkRelative returns the quark at path under parent without creating anything.
func (t *AttributeTree) QuarkRelative(parent Quark, path ...string) (Quark, error) {
	q, ok := t.lookup(parent, path)
	if !ok {
		return InvalidQuark, fmt.Errorf("%q under quark %d: %w", strings.Join(path, PathSeparator), parent, ErrAttributeNotFound)
	}
	return q, nil
}

// OptQuarkRelative is QuarkRelative returning InvalidQuark instead of an error.
func (t *AttributeTree) OptQuarkRelative(parent Quark, path ...string) Quark {
	q, _ := t.lookup(parent, path)
	return q
}

// Parent returns the parent of q, RootQuark for top-level attributes.
func (t *AttributeTree) Parent(q Quark) Quark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.node(q)
	if n == nil {
		return InvalidQuark
	}
	return n.parent
}

// Name returns the last path segment of q.
func (t *AttributeTree) Name(q Quark) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.node(q)
	if n == nil {
		return ""
	}
	return n.name
}

// SubAttributes returns the children of q in creation order, depth-first when recursive.
func (t *AttributeTree) SubAttributes(q Quark, recursive bool) []Quark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]Quark, 0)
	t.collect(q, recursive, &result)
	return result
}

func (t *AttributeTree) collect(q Quark, recursive bool, out *[]Quark) {
	n := t.node(q)
	if n == nil {
		return
	}
	for _, child := range n.ordered {
		*out = append(*out, child)
		if recursive {
			t.collect(child, true, out)
		}
	}
}

// PathSegments returns the names from the root down to q.
func (t *AttributeTree) PathSegments(q Quark) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	segments := make([]string, 0)
	for current := q; current >= 0; {
		n := t.node(current)
		if n == nil {
			return nil
		}
		segments = append(segments, n.name)
		current = n.parent
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments
}

// FullPath returns the segments of q joined with PathSeparator.
func (t *AttributeTree) FullPath(q Quark) string {
	return strings.Join(t.PathSegments(q), PathSeparator)
}

// NumAttributes returns the number of quarks created so far.
func (t *AttributeTree) NumAttributes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
