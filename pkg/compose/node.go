// Package compose provides the scope, hook, and recomposition engine.
package compose

// Composable is a unit of application state that produces an output
// subtree when composed. Implementations receive access only to their own
// scope; data owned by ancestors must be passed in explicitly as fields,
// either by value or as a [Ref].
//
// A composable must not retain the *Scope beyond the duration of one
// Compose call. State that must survive recomposition belongs in hook
// slots ([UseState], [UseRef]) or travels through [Handle] and [Ref],
// which stay valid across calls and detect staleness.
type Composable interface {
	Compose(cx *Scope) Node
}

// Attrs carries declarative attributes attached to a primitive node.
// The engine never interprets these; they are consumed downstream by the
// layout, render, and accessibility collaborators.
type Attrs map[string]any

// Node is one entry in a composable's output tree: either a [Primitive]
// renderable leaf or an [Embed] hosting a nested composable in its own
// child scope. A nil Node is a valid empty output.
type Node interface {
	isNode()
}

// Primitive is a renderable leaf value. Its Kind and Attrs are opaque to
// the engine. Children are ordered; a child may be another Primitive or
// an Embed.
type Primitive struct {
	Kind     string
	Key      any
	Attrs    Attrs
	Children []Node
}

func (Primitive) isNode() {}

// Embed places a nested composable into the output tree. The composable
// is given its own scope, allocated on first appearance and reconciled on
// subsequent passes by key (if non-nil) or by position among its unkeyed
// siblings.
type Embed struct {
	Key     any
	Content Composable
}

func (Embed) isNode() {}

// Resolved is one node of the reconciled output tree handed to downstream
// consumers after a pass. Embeds have been substituted by the output of
// their child scopes; every node carries the id of the scope that
// composed it.
type Resolved struct {
	Kind     string      `json:"kind"`
	Key      any         `json:"key,omitempty"`
	Attrs    Attrs       `json:"attrs,omitempty"`
	Scope    ScopeID     `json:"scope"`
	Children []*Resolved `json:"children,omitempty"`
}

// Walk visits r and its descendants depth-first pre-order. The visitor
// returns false to stop descending into a node's children.
func (r *Resolved) Walk(visit func(*Resolved) bool) {
	if r == nil {
		return
	}
	if !visit(r) {
		return
	}
	for _, child := range r.Children {
		child.Walk(visit)
	}
}

// Count returns the number of nodes in the subtree rooted at r.
func (r *Resolved) Count() int {
	n := 0
	r.Walk(func(*Resolved) bool {
		n++
		return true
	})
	return n
}
