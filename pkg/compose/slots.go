package compose

import (
	"fmt"
	"reflect"

	"github.com/go-loom/loom/pkg/errors"
)

// Scope is the per-instance context handed to a composable's Compose
// call. It exposes the hook primitives and must not be retained past the
// call; durable access to state travels through [Handle] and [Ref].
type Scope struct {
	c  *Composer
	sc *scope
}

// ID returns the id of this scope.
func (cx *Scope) ID() ScopeID { return cx.sc.id }

type slotKind uint8

const (
	slotState slotKind = iota
	slotRef
	slotMemo
	slotCleanup
)

func (k slotKind) String() string {
	switch k {
	case slotState:
		return "state"
	case slotRef:
		return "ref"
	case slotMemo:
		return "memo"
	default:
		return "cleanup"
	}
}

// cleanupFunc marks a slot value as a destroy-time cleanup.
type cleanupFunc func()

// slot is one positional typed storage cell bound to a scope by call
// order. value holds *T for state and ref slots, a *memoEntry for memo
// slots, and a cleanupFunc for cleanup slots.
type slot struct {
	kind  slotKind
	typ   reflect.Type
	value any
	dirty bool

	// writeGen counts mutations through handles; refs snapshot it so
	// memoization can tell an unchanged borrow from a rewritten one.
	writeGen uint64
}

// nextSlot consumes the next positional slot of the current composition,
// creating it on first reach. The call sequence within one scope must be
// identical across recompositions: a kind or type divergence, or a call
// past the sealed slot count, panics with a HookMismatchError which the
// composer recovers and reports without reusing the incompatible slot.
func nextSlot(cx *Scope, kind slotKind, typ reflect.Type, create func() any) (*slot, int) {
	sc := cx.sc
	if sc.phase != PhaseComposing {
		panic(fmt.Sprintf("compose: hook called outside of a compose invocation (scope %s, phase %s)", sc.id, sc.phase))
	}

	idx := sc.cursor
	sc.cursor++

	if idx >= len(sc.slots) {
		if sc.sealed {
			panic(&errors.HookMismatchError{
				Scope:  sc.id.String(),
				Slot:   idx,
				Reason: fmt.Sprintf("composition requested %s slot beyond the %d recorded", kind, len(sc.slots)),
			})
		}
		sc.slots = append(sc.slots, slot{kind: kind, typ: typ, value: create()})
		return &sc.slots[idx], idx
	}

	existing := &sc.slots[idx]
	if existing.kind != kind || existing.typ != typ {
		panic(&errors.HookMismatchError{
			Scope: sc.id.String(),
			Slot:  idx,
			Want:  fmt.Sprintf("%s %s", existing.kind, existing.typ),
			Got:   fmt.Sprintf("%s %s", kind, typ),
		})
	}
	return existing, idx
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// UseState binds the next slot position to a mutable state cell and
// returns a [Handle] to it. init runs only on the first composition; on
// every subsequent composition the existing value is preserved and the
// same cell is returned.
func UseState[T any](cx *Scope, init func() T) Handle[T] {
	_, idx := nextSlot(cx, slotState, typeOf[T](), func() any {
		p := new(T)
		*p = init()
		return p
	})
	return Handle[T]{c: cx.c, scope: cx.sc.id, slot: idx}
}

// UseRef binds the next slot position to a non-reactive instance cell and
// returns a stable pointer to it. Writes through the pointer do not mark
// the scope dirty; use it for caches, controllers, and other values whose
// changes need no recomposition.
func UseRef[T any](cx *Scope, init func() T) *T {
	s, _ := nextSlot(cx, slotRef, typeOf[T](), func() any {
		p := new(T)
		*p = init()
		return p
	})
	return s.value.(*T)
}

type memoEntry struct {
	dep   any
	value any
}

// UseMemo returns a slot-cached value, recomputing it only when dep
// differs from the previous composition's dep. Comparison uses == for
// comparable deps and reflect.DeepEqual otherwise.
func UseMemo[T any](cx *Scope, dep any, compute func() T) T {
	s, _ := nextSlot(cx, slotMemo, typeOf[T](), func() any {
		return &memoEntry{dep: dep, value: compute()}
	})
	entry := s.value.(*memoEntry)
	if !equalDeps(entry.dep, dep) {
		entry.dep = dep
		entry.value = compute()
	}
	return entry.value.(T)
}

// UseCleanup registers f to run when the scope is destroyed. Cleanups run
// in reverse registration order. f is captured on the first composition;
// later compositions keep the original.
func UseCleanup(cx *Scope, f func()) {
	nextSlot(cx, slotCleanup, nil, func() any {
		return cleanupFunc(f)
	})
}

func equalDeps(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Handle is a capability referencing exactly one state cell in one scope
// generation. Holding a handle grants the right to read the current value
// and to request mutations; it never grants ownership. Once the owning
// scope is destroyed the handle is stale: every operation returns a
// StaleReferenceError instead of touching a recycled slot.
type Handle[T any] struct {
	c     *Composer
	scope ScopeID
	slot  int
}

// Scope returns the id of the owning scope.
func (h Handle[T]) Scope() ScopeID { return h.scope }

// Get returns a copy of the cell's current value.
func (h Handle[T]) Get() (T, error) {
	p, _, err := h.cell("Handle.Get")
	if err != nil {
		var zero T
		return zero, err
	}
	return *p, nil
}

// Update applies fn to the cell's value in place, marks the slot dirty,
// and enqueues the owning scope for recomposition. The mutation itself is
// synchronous; the recomposition is deferred to the next scheduler pass,
// so multiple updates before a pass coalesce into one recompose.
func (h Handle[T]) Update(fn func(*T)) error {
	p, s, err := h.cell("Handle.Update")
	if err != nil {
		return err
	}
	fn(p)
	s.dirty = true
	s.writeGen++
	h.c.invalidate(h.scope)
	return nil
}

// Set replaces the cell's value.
func (h Handle[T]) Set(value T) error {
	return h.Update(func(p *T) { *p = value })
}

// Ref returns a borrowed, generation-checked read-only view of the cell.
func (h Handle[T]) Ref() Ref[T] {
	genAt := uint64(0)
	if _, s, err := h.cell("Handle.Ref"); err == nil {
		genAt = s.writeGen
	}
	c, id, idx := h.c, h.scope, h.slot
	return Ref[T]{
		scope: id,
		slot:  idx,
		genAt: genAt,
		resolve: func() (*T, error) {
			sc, err := c.store.get(id)
			if err != nil {
				return nil, &errors.StaleReferenceError{Scope: id.String(), Op: "Ref.Deref"}
			}
			return sc.slots[idx].value.(*T), nil
		},
	}
}

func (h Handle[T]) cell(op string) (*T, *slot, error) {
	if h.c == nil {
		return nil, nil, &errors.StaleReferenceError{Scope: h.scope.String(), Op: op}
	}
	sc, err := h.c.store.get(h.scope)
	if err != nil {
		return nil, nil, &errors.StaleReferenceError{Scope: h.scope.String(), Op: op}
	}
	s := &sc.slots[h.slot]
	return s.value.(*T), s, nil
}
