// Package semantics exports accessibility information derived from the
// reconciled output tree. Primitives opt in by carrying "role" and
// "label" attributes; everything else is structural and its children are
// hoisted to the nearest semantic ancestor.
package semantics

import (
	"fmt"

	"github.com/go-loom/loom/pkg/compose"
)

// Node is one accessibility node.
type Node struct {
	// ID uniquely identifies the node within one TreeUpdate.
	ID int64 `json:"id"`

	// Scope is the id of the scope that produced the underlying primitive.
	Scope compose.ScopeID `json:"scope"`

	// Role names what the node is ("button", "heading", ...).
	Role string `json:"role,omitempty"`

	// Label is the text a screen reader announces for the node.
	Label string `json:"label,omitempty"`

	// Children are the semantic descendants, with non-semantic
	// intermediate primitives collapsed away.
	Children []*Node `json:"children,omitempty"`
}

// IsEmpty reports whether the node contributes any semantic information.
func (n *Node) IsEmpty() bool {
	return n.Role == "" && n.Label == ""
}

// TreeUpdate is one full semantics tree handed to a platform exporter.
type TreeUpdate struct {
	Root  *Node `json:"root"`
	Count int   `json:"count"`
}

// IsEmpty reports whether the update carries any nodes.
func (u *TreeUpdate) IsEmpty() bool {
	return u == nil || u.Root == nil
}

// Build derives a semantics tree from a reconciled output tree. The
// result has a synthetic root so consumers always receive exactly one
// tree; a nil or fully non-semantic input yields an update with an empty
// root and Count 0.
func Build(tree *compose.Resolved) *TreeUpdate {
	b := &builder{}
	root := &Node{ID: b.nextID()}
	if tree != nil {
		root.Scope = tree.Scope
		root.Children = b.collect(tree)
	}
	return &TreeUpdate{Root: root, Count: b.count}
}

type builder struct {
	ids   int64
	count int
}

func (b *builder) nextID() int64 {
	id := b.ids
	b.ids++
	return id
}

// collect returns the semantic nodes found at or below r. A primitive
// with a role or label becomes a node and claims its subtree's semantic
// descendants as children; otherwise its children are hoisted upward.
func (b *builder) collect(r *compose.Resolved) []*Node {
	role := attrString(r.Attrs, "role")
	label := attrString(r.Attrs, "label")

	if role == "" && label == "" {
		var out []*Node
		for _, child := range r.Children {
			out = append(out, b.collect(child)...)
		}
		return out
	}

	node := &Node{
		ID:    b.nextID(),
		Scope: r.Scope,
		Role:  role,
		Label: label,
	}
	b.count++
	for _, child := range r.Children {
		node.Children = append(node.Children, b.collect(child)...)
	}
	return []*Node{node}
}

func attrString(attrs compose.Attrs, key string) string {
	if attrs == nil {
		return ""
	}
	switch v := attrs[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
