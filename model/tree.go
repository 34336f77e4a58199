package model

import (
	"strings"

	"github.com/facet-io/facet/errors"
)

// EntityTree is a rooted tree whose nodes optionally hold an entity and
// whose edges are named. A node's path is the "/"-joined key chain from the
// root (the root itself has an empty path).
type EntityTree struct {
	hierarchyBase
	root *TreeNode
}

// NewEntityTree creates a named tree with an empty root node.
func NewEntityTree(name string) *EntityTree {
	return &EntityTree{
		hierarchyBase: hierarchyBase{name: name},
		root: &TreeNode{
			children: make(map[string]*TreeNode),
		},
	}
}

func (t *EntityTree) Type() HierarchyType { return HierarchyTree }

// Root returns the tree's root node. The root always exists.
func (t *EntityTree) Root() *TreeNode { return t.root }

// NodeAt resolves a "/"-joined path from the root; the empty path is the
// root itself.
func (t *EntityTree) NodeAt(path string) (*TreeNode, bool) {
	if path == "" {
		return t.root, true
	}
	node := t.root
	for _, key := range strings.Split(path, "/") {
		child, ok := node.children[key]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// Walk visits every node in pre-order, passing each node and its path.
// Children are visited in key-insertion order.
func (t *EntityTree) Walk(fn func(path string, n *TreeNode) error) error {
	return t.root.walk("", fn)
}

// Len returns the number of nodes including the root.
func (t *EntityTree) Len() int {
	n := 0
	_ = t.Walk(func(string, *TreeNode) error {
		n++
		return nil
	})
	return n
}

// TreeNode is one node of an EntityTree: an optional entity plus named
// child edges.
type TreeNode struct {
	entity   *Entity
	parent   *TreeNode
	key      string
	children map[string]*TreeNode
	keys     []string
}

// Entity returns the entity held by this node, or nil.
func (n *TreeNode) Entity() *Entity { return n.entity }

// SetEntity attaches an entity to this node.
func (n *TreeNode) SetEntity(e *Entity) { n.entity = e }

// Key returns the edge name under which this node hangs; empty for roots.
func (n *TreeNode) Key() string { return n.key }

// Parent returns the parent node, or nil for the root.
func (n *TreeNode) Parent() *TreeNode { return n.parent }

// Path returns the "/"-joined key chain from the root to this node.
func (n *TreeNode) Path() string {
	if n.parent == nil {
		return ""
	}
	parentPath := n.parent.Path()
	if parentPath == "" {
		return n.key
	}
	return parentPath + "/" + n.key
}

// AddChild creates and attaches a child node under the given key.
func (n *TreeNode) AddChild(key string) (*TreeNode, error) {
	if key == "" || strings.Contains(key, "/") {
		return nil, errors.NewValidationError("invalid tree node key %q", key)
	}
	if _, exists := n.children[key]; exists {
		return nil, errors.NewValidationError("tree node already has child %q", key)
	}
	child := &TreeNode{
		parent:   n,
		key:      key,
		children: make(map[string]*TreeNode),
	}
	n.children[key] = child
	n.keys = append(n.keys, key)
	return child, nil
}

// Child returns the child under key, or nil.
func (n *TreeNode) Child(key string) *TreeNode { return n.children[key] }

// ChildKeys returns the child edge names in insertion order.
func (n *TreeNode) ChildKeys() []string {
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// adoptChildren grafts another node's children onto n. Used when loading
// content into a hierarchy whose root node pre-exists.
func (n *TreeNode) adoptChildren(from *TreeNode) {
	for _, key := range from.keys {
		child := from.children[key]
		child.parent = n
		n.children[key] = child
		n.keys = append(n.keys, key)
	}
}

// AdoptChildren moves every child of from under n, preserving order.
func (n *TreeNode) AdoptChildren(from *TreeNode) { n.adoptChildren(from) }

func (n *TreeNode) walk(path string, fn func(string, *TreeNode) error) error {
	if err := fn(path, n); err != nil {
		return err
	}
	for _, key := range n.keys {
		childPath := key
		if path != "" {
			childPath = path + "/" + key
		}
		if err := n.children[key].walk(childPath, fn); err != nil {
			return err
		}
	}
	return nil
}
