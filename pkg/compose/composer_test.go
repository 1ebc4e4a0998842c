package compose

import (
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-loom/loom/pkg/errors"
)

func TestComposer_MountProducesResolvedTree(t *testing.T) {
	_, _, composer := newTestComposer()

	calls := 0
	root := fnComposable{fn: func(cx *Scope) Node {
		return Primitive{
			Kind: "column",
			Children: []Node{
				Embed{Content: probeLeaf{Name: "a", Calls: &calls}},
				Embed{Content: probeLeaf{Name: "b", Calls: &calls}},
			},
		}
	}}

	id, err := composer.Mount(root)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	tree := composer.Resolved()
	want := &Resolved{
		Kind:  "column",
		Scope: id,
		Children: []*Resolved{
			{Kind: "leaf", Attrs: Attrs{"name": "a"}},
			{Kind: "leaf", Attrs: Attrs{"name": "b"}},
		},
	}
	diff := cmp.Diff(want, tree,
		cmpopts.EquateComparable(ScopeID{}),
		cmpopts.IgnoreFields(Resolved{}, "Scope"),
	)
	if diff != "" {
		t.Errorf("resolved tree mismatch (-want +got):\n%s", diff)
	}
	if calls != 2 {
		t.Errorf("expected 2 leaf composes, got %d", calls)
	}
}

func TestComposer_MemoSkipsUnchangedSubtrees(t *testing.T) {
	_, _, composer := newTestComposer()

	leafCalls := 0
	var handle Handle[int]
	root := fnComposable{fn: func(cx *Scope) Node {
		handle = UseState(cx, func() int { return 0 })
		return Primitive{
			Kind: "row",
			Children: []Node{
				Embed{Content: probeLeaf{Name: "stable", Calls: &leafCalls}},
			},
		}
	}}

	composer.Mount(root)
	if leafCalls != 1 {
		t.Fatalf("expected 1 initial leaf compose, got %d", leafCalls)
	}

	// The root recomposes, but the leaf's inputs are unchanged: zero
	// compose invocations below the changed root.
	handle.Set(1)
	composer.RunPass()
	if leafCalls != 1 {
		t.Errorf("expected memoized leaf to be skipped, got %d composes", leafCalls)
	}
}

func TestComposer_ChangedInputsRecomposeChild(t *testing.T) {
	_, _, composer := newTestComposer()

	leafCalls := 0
	var handle Handle[string]
	root := fnComposable{fn: func(cx *Scope) Node {
		handle = UseState(cx, func() string { return "a" })
		name, _ := handle.Get()
		return Primitive{
			Kind:     "row",
			Children: []Node{Embed{Content: probeLeaf{Name: name, Calls: &leafCalls}}},
		}
	}}

	composer.Mount(root)
	handle.Set("b")
	composer.RunPass()

	if leafCalls != 2 {
		t.Errorf("expected child recompose on input change, got %d composes", leafCalls)
	}
	if n := findAttr(composer.Resolved(), "name", "b"); n == nil {
		t.Error("expected updated leaf output in resolved tree")
	}
}

func TestComposer_TypeChangeDestroysOldScope(t *testing.T) {
	store, _, composer := newTestComposer()

	useOther := false
	var gate Handle[int]
	root := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		var child Node
		if useOther {
			child = Embed{Content: otherChild{Label: "x"}}
		} else {
			child = Embed{Content: labelChild{Label: "x"}}
		}
		return Primitive{Kind: "box", Children: []Node{child}}
	}}

	composer.Mount(root)
	before := store.Len()

	useOther = true
	gate.Set(1)
	composer.RunPass()

	if store.Len() != before {
		t.Errorf("expected same live count after swap, got %d want %d", store.Len(), before)
	}
	tree := composer.Resolved()
	if findAttr(tree, "sticky", "x") != nil {
		t.Error("old scope's hook state must not survive a type change")
	}
	if n := findAttr(tree, "input", "x"); n == nil || n.Kind != "other" {
		t.Errorf("expected new child output, got %+v", n)
	}
}

func TestComposer_UnkeyedReorderIsContentChange(t *testing.T) {
	_, _, composer := newTestComposer()

	labels := []string{"a", "b"}
	var gate Handle[int]
	root := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		return Primitive{
			Kind: "list",
			Children: []Node{
				Embed{Content: labelChild{Label: labels[0]}},
				Embed{Content: labelChild{Label: labels[1]}},
			},
		}
	}}

	composer.Mount(root)

	labels = []string{"b", "a"}
	gate.Set(1)
	tree := composer.RunPass()

	// Position 0's scope is reused with new inputs: its hook state is
	// whatever position 0 held before, unchanged by the swap.
	list := tree.Children
	if len(list) != 2 {
		t.Fatalf("expected 2 children, got %d", len(list))
	}
	if list[0].Attrs["sticky"] != "a" || list[0].Attrs["input"] != "b" {
		t.Errorf("position 0: got sticky=%v input=%v, want sticky=a input=b", list[0].Attrs["sticky"], list[0].Attrs["input"])
	}
	if list[1].Attrs["sticky"] != "b" || list[1].Attrs["input"] != "a" {
		t.Errorf("position 1: got sticky=%v input=%v, want sticky=b input=a", list[1].Attrs["sticky"], list[1].Attrs["input"])
	}
}

func TestComposer_KeyedReorderMovesState(t *testing.T) {
	_, _, composer := newTestComposer()

	order := []string{"a", "b"}
	var gate Handle[int]
	root := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		children := make([]Node, len(order))
		for i, label := range order {
			children[i] = Embed{Key: label, Content: labelChild{Label: label}}
		}
		return Primitive{Kind: "list", Children: children}
	}}

	composer.Mount(root)

	order = []string{"b", "a"}
	gate.Set(1)
	tree := composer.RunPass()

	list := tree.Children
	if len(list) != 2 {
		t.Fatalf("expected 2 children, got %d", len(list))
	}
	// State travels with the key: position 0 now shows b's state.
	if list[0].Attrs["sticky"] != "b" {
		t.Errorf("position 0 sticky = %v, want b", list[0].Attrs["sticky"])
	}
	if list[1].Attrs["sticky"] != "a" {
		t.Errorf("position 1 sticky = %v, want a", list[1].Attrs["sticky"])
	}
}

func TestComposer_PartialKeysMatchKeyedFirstThenPositional(t *testing.T) {
	_, _, composer := newTestComposer()

	// First pass: [keyed(k), unkeyed(u1), unkeyed(u2)].
	// Second pass: [unkeyed(u1'), keyed(k'), unkeyed(u2')].
	// The keyed child matches by key; the two unkeyed children match
	// positionally among themselves regardless of the keyed child moving.
	flip := false
	var gate Handle[int]
	root := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		keyed := Embed{Key: "k", Content: labelChild{Label: "keyed"}}
		u1 := Embed{Content: labelChild{Label: "u1"}}
		u2 := Embed{Content: labelChild{Label: "u2"}}
		var children []Node
		if flip {
			children = []Node{u1, keyed, u2}
		} else {
			children = []Node{keyed, u1, u2}
		}
		return Primitive{Kind: "list", Children: children}
	}}

	composer.Mount(root)

	flip = true
	gate.Set(1)
	tree := composer.RunPass()

	list := tree.Children
	if len(list) != 3 {
		t.Fatalf("expected 3 children, got %d", len(list))
	}
	if list[0].Attrs["sticky"] != "u1" {
		t.Errorf("first unkeyed sticky = %v, want u1", list[0].Attrs["sticky"])
	}
	if list[1].Attrs["sticky"] != "keyed" {
		t.Errorf("keyed sticky = %v, want keyed", list[1].Attrs["sticky"])
	}
	if list[2].Attrs["sticky"] != "u2" {
		t.Errorf("second unkeyed sticky = %v, want u2", list[2].Attrs["sticky"])
	}
}

func TestComposer_RemovedChildIsDestroyed(t *testing.T) {
	store, _, composer := newTestComposer()

	var childHandle Handle[int]
	show := true
	var gate Handle[int]
	child := fnComposable{fn: func(cx *Scope) Node {
		childHandle = UseState(cx, func() int { return 5 })
		return Primitive{Kind: "child"}
	}}
	root := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		if !show {
			return Primitive{Kind: "empty"}
		}
		return Primitive{Kind: "box", Children: []Node{Embed{Content: child}}}
	}}

	composer.Mount(root)
	before := store.Len()

	show = false
	gate.Set(1)
	composer.RunPass()

	if store.Len() != before-1 {
		t.Errorf("expected child scope destroyed: %d live, want %d", store.Len(), before-1)
	}
	_, err := childHandle.Get()
	var stale *errors.StaleReferenceError
	if !stderrors.As(err, &stale) {
		t.Fatalf("expected StaleReferenceError from destroyed child's handle, got %v", err)
	}
}

func TestComposer_DestroyedChildPendingDirtyIsDropped(t *testing.T) {
	_, sched, composer := newTestComposer()

	var childHandle Handle[int]
	childComposes := 0
	show := true
	var gate Handle[int]
	child := fnComposable{fn: func(cx *Scope) Node {
		childComposes++
		childHandle = UseState(cx, func() int { return 0 })
		return Primitive{Kind: "child"}
	}}
	root := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		if !show {
			return nil
		}
		return Primitive{Kind: "box", Children: []Node{Embed{Content: child}}}
	}}

	composer.Mount(root)

	// Both the child and its parent go dirty; the parent's diff removes
	// the child, so the child's pending marker must be dropped and no
	// recompose attempted on the dead id.
	childHandle.Update(func(p *int) { *p++ })
	show = false
	gate.Set(1)
	composer.RunPass()

	if childComposes != 1 {
		t.Errorf("destroyed child must not recompose: got %d composes", childComposes)
	}
	if sched.Pending() != 0 {
		t.Errorf("expected drained scheduler, got %d pending", sched.Pending())
	}
}

func TestComposer_AncestorAndDescendantDirtyComposeOnce(t *testing.T) {
	_, _, composer := newTestComposer()

	childComposes := 0
	var childHandle Handle[string]
	var rootHandle Handle[int]
	child := fnComposable{fn: func(cx *Scope) Node {
		childComposes++
		childHandle = UseState(cx, func() string { return "" })
		return Primitive{Kind: "child"}
	}}
	root := fnComposable{fn: func(cx *Scope) Node {
		rootHandle = UseState(cx, func() int { return 0 })
		return Primitive{Kind: "box", Children: []Node{Embed{Content: child}}}
	}}

	composer.Mount(root)
	if childComposes != 1 {
		t.Fatalf("expected 1 initial child compose, got %d", childComposes)
	}

	childHandle.Set("x")
	rootHandle.Set(1)
	composer.RunPass()

	// The parent's diff recomposes the child (fnComposable inputs never
	// compare equal); the pass must not compose it a second time.
	if childComposes != 2 {
		t.Errorf("expected exactly 1 child compose in the pass, got %d", childComposes-1)
	}
}

func TestComposer_FailureRetainsPreviousOutputAndPassContinues(t *testing.T) {
	handler := &captureHandler{}
	errors.SetHandler(handler)
	defer errors.SetHandler(nil)

	_, _, composer := newTestComposer()

	boom := false
	var sibHandle Handle[int]
	var gate Handle[int]
	failing := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		if boom {
			panic("compose exploded")
		}
		return Primitive{Kind: "good"}
	}}
	sibling := fnComposable{fn: func(cx *Scope) Node {
		sibHandle = UseState(cx, func() int { return 0 })
		n, _ := sibHandle.Get()
		return Primitive{Kind: "sibling", Attrs: Attrs{"n": n}}
	}}
	root := fnComposable{fn: func(cx *Scope) Node {
		return Primitive{Kind: "box", Children: []Node{
			Embed{Content: failing},
			Embed{Content: sibling},
		}}
	}}

	composer.Mount(root)

	boom = true
	gate.Set(1)
	sibHandle.Set(7)
	tree := composer.RunPass()

	if len(handler.composeErrors) != 1 {
		t.Fatalf("expected 1 reported compose error, got %d", len(handler.composeErrors))
	}
	if handler.composeErrors[0].Recovered != "compose exploded" {
		t.Errorf("unexpected recovered value: %v", handler.composeErrors[0].Recovered)
	}

	// The failing scope keeps its previous output; the sibling's
	// recompose still happened in the same pass.
	if findAttr(tree, "n", 7) == nil {
		t.Error("sibling must recompose despite the failing scope")
	}
	found := false
	tree.Walk(func(r *Resolved) bool {
		if r.Kind == "good" {
			found = true
		}
		return true
	})
	if !found {
		t.Error("failing scope's previous output must be retained")
	}
}

func TestComposer_MemoizedEqualToControlsSkip(t *testing.T) {
	_, _, composer := newTestComposer()

	calls := 0
	var gate Handle[int]
	root := fnComposable{fn: func(cx *Scope) Node {
		gate = UseState(cx, func() int { return 0 })
		return Primitive{Kind: "box", Children: []Node{
			Embed{Content: alwaysEqualChild{Calls: &calls}},
		}}
	}}

	composer.Mount(root)
	gate.Set(1)
	composer.RunPass()

	if calls != 1 {
		t.Errorf("EqualTo returning true must skip the child, got %d composes", calls)
	}
}

// alwaysEqualChild implements Memoized, reporting its inputs unchanged.
type alwaysEqualChild struct {
	Calls *int
}

func (a alwaysEqualChild) Compose(cx *Scope) Node {
	*a.Calls++
	return Primitive{Kind: "leaf"}
}

func (a alwaysEqualChild) EqualTo(prev Composable) bool { return true }
