package compose

import (
	stderrors "errors"
	"testing"

	"github.com/go-loom/loom/pkg/errors"
)

type refPoint struct {
	X, Y int
}

func TestOwnedRef_DerefAndValue(t *testing.T) {
	r := OwnedRef(refPoint{X: 1, Y: 2})
	if !r.Owned() {
		t.Fatal("expected owned reference")
	}
	if !r.Source().IsZero() {
		t.Errorf("owned reference must have zero source, got %v", r.Source())
	}

	p, err := r.Deref()
	if err != nil {
		t.Fatalf("Deref: %v", err)
	}
	if p.X != 1 || p.Y != 2 {
		t.Errorf("unexpected value %+v", *p)
	}

	v, err := r.Value()
	if err != nil || v != (refPoint{X: 1, Y: 2}) {
		t.Errorf("Value = %+v, %v", v, err)
	}
}

func TestBorrowedRef_TracksCellAndGoesStale(t *testing.T) {
	_, _, composer := newTestComposer()

	var handle Handle[refPoint]
	root := fnComposable{fn: func(cx *Scope) Node {
		handle = UseState(cx, func() refPoint { return refPoint{X: 3} })
		return Primitive{Kind: "root"}
	}}
	composer.Mount(root)

	ref := handle.Ref()
	if ref.Owned() {
		t.Fatal("expected borrowed reference")
	}
	if ref.Source() != handle.Scope() {
		t.Errorf("Source = %v, want %v", ref.Source(), handle.Scope())
	}

	p, err := ref.Deref()
	if err != nil {
		t.Fatalf("Deref: %v", err)
	}
	if p.X != 3 {
		t.Errorf("X = %d, want 3", p.X)
	}

	// The borrow tracks later writes to the cell: the stored value, not a
	// snapshot, is what Deref yields.
	handle.Update(func(pt *refPoint) { pt.X = 9 })
	p, err = ref.Deref()
	if err != nil || p.X != 9 {
		t.Errorf("after update: X = %d, err = %v, want 9", p.X, err)
	}

	composer.Unmount()
	_, err = ref.Deref()
	var stale *errors.StaleReferenceError
	if !stderrors.As(err, &stale) {
		t.Fatalf("expected StaleReferenceError after unmount, got %v", err)
	}
	if stale.Op != "Ref.Deref" {
		t.Errorf("Op = %q, want Ref.Deref", stale.Op)
	}
}

func TestMapRef_ComposesAccessorsAndSharesStaleness(t *testing.T) {
	_, _, composer := newTestComposer()

	var handle Handle[refPoint]
	root := fnComposable{fn: func(cx *Scope) Node {
		handle = UseState(cx, func() refPoint { return refPoint{X: 4, Y: 7} })
		return Primitive{Kind: "root"}
	}}
	composer.Mount(root)

	yRef := MapRef(handle.Ref(), func(p *refPoint) *int { return &p.Y })
	if yRef.Owned() {
		t.Fatal("mapping a borrow must stay borrowed")
	}
	if yRef.Source() != handle.Scope() {
		t.Errorf("mapped Source = %v, want %v", yRef.Source(), handle.Scope())
	}

	y, err := yRef.Value()
	if err != nil || y != 7 {
		t.Fatalf("Value = %d, %v, want 7", y, err)
	}

	handle.Update(func(p *refPoint) { p.Y = 8 })
	if y, _ := yRef.Value(); y != 8 {
		t.Errorf("mapped ref must track the source cell, got %d", y)
	}

	composer.Unmount()
	if _, err := yRef.Deref(); err == nil {
		t.Error("mapped ref must go stale with its source")
	}
}

func TestMapRef_OwnedCopiesSelection(t *testing.T) {
	src := OwnedRef(refPoint{X: 1, Y: 2})
	xRef := MapRef(src, func(p *refPoint) *int { return &p.X })
	if !xRef.Owned() {
		t.Fatal("mapping an owned ref must stay owned")
	}
	if v, err := xRef.Value(); err != nil || v != 1 {
		t.Errorf("Value = %d, %v, want 1", v, err)
	}
}

func TestRef_SameDistinguishesWrites(t *testing.T) {
	_, _, composer := newTestComposer()

	var handle Handle[int]
	root := fnComposable{fn: func(cx *Scope) Node {
		handle = UseState(cx, func() int { return 0 })
		return Primitive{Kind: "root"}
	}}
	composer.Mount(root)

	before := handle.Ref()
	alias := handle.Ref()
	if !before.Same(alias) {
		t.Error("two borrows of the same unwritten cell must compare Same")
	}

	handle.Set(1)
	after := handle.Ref()
	if before.Same(after) {
		t.Error("a borrow captured before a write must not compare Same with one captured after")
	}

	if !OwnedRef(5).Same(OwnedRef(5)) {
		t.Error("equal owned values must compare Same")
	}
	if OwnedRef(5).Same(OwnedRef(6)) {
		t.Error("unequal owned values must not compare Same")
	}
	if OwnedRef(5).Same(handle.Ref()) {
		t.Error("owned and borrowed must never compare Same")
	}
}
