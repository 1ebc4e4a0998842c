package compose

import (
	"reflect"

	"github.com/go-loom/loom/pkg/errors"
)

// Ref is a read-only view of a value of type T, polymorphic over two
// variants: owned (holds its own copy) and borrowed (holds a scope
// binding plus an accessor chain into that scope's state). A composable
// can be handed either without knowing which.
//
// A borrowed Ref never aliases its source mutably and never outlives it
// silently: every Deref re-resolves the source scope, and once the
// scope's generation has advanced the dereference fails with a
// StaleReferenceError instead of returning recycled data.
type Ref[T any] struct {
	owned bool
	value T

	scope   ScopeID
	slot    int
	genAt   uint64
	resolve func() (*T, error)
}

// OwnedRef wraps a value in an owned reference. Owned references are
// never stale.
func OwnedRef[T any](value T) Ref[T] {
	return Ref[T]{owned: true, value: value}
}

// Owned reports whether the reference holds its own copy of the value.
func (r Ref[T]) Owned() bool { return r.owned }

// Source returns the id of the scope a borrowed reference is bound to,
// or the zero id for owned references.
func (r Ref[T]) Source() ScopeID {
	if r.owned {
		return ScopeID{}
	}
	return r.scope
}

// Deref returns a pointer to the current value. The pointee must be
// treated as read-only; mutation goes through [Handle.Update] on the
// owning scope, never through a Ref. For a borrowed reference the source
// scope's generation is re-validated on every call.
func (r Ref[T]) Deref() (*T, error) {
	if r.owned {
		v := r.value
		return &v, nil
	}
	if r.resolve == nil {
		return nil, &errors.StaleReferenceError{Scope: r.scope.String(), Op: "Ref.Deref"}
	}
	return r.resolve()
}

// Value returns a copy of the current value.
func (r Ref[T]) Value() (T, error) {
	p, err := r.Deref()
	if err != nil {
		var zero T
		return zero, err
	}
	return *p, nil
}

// Same reports whether two references denote the same unchanged data:
// owned references compare by value; borrowed references compare by
// scope, slot, and the write generation observed at capture time. It is
// the comparison composables should use in EqualTo implementations so
// that memoization can skip subtrees whose borrows did not change.
func (r Ref[T]) Same(other Ref[T]) bool {
	if r.owned != other.owned {
		return false
	}
	if r.owned {
		return reflect.DeepEqual(r.value, other.value)
	}
	return r.scope == other.scope && r.slot == other.slot && r.genAt == other.genAt
}

// MapRef derives a reference to a sub-field selected by the pure accessor
// f, composing it with the source's accessor chain. The result keeps the
// same scope and generation binding, so it goes stale exactly when its
// source does. No copy of the underlying value is made for borrowed
// references.
func MapRef[T, U any](r Ref[T], f func(*T) *U) Ref[U] {
	if r.owned {
		// Owned values have no scope to go stale; the selected field is
		// copied into a new owned reference.
		v := r.value
		return Ref[U]{
			owned: true,
			value: *f(&v),
		}
	}
	parent := r.resolve
	scope := r.scope
	return Ref[U]{
		scope: scope,
		slot:  r.slot,
		genAt: r.genAt,
		resolve: func() (*U, error) {
			if parent == nil {
				return nil, &errors.StaleReferenceError{Scope: scope.String(), Op: "Ref.Deref"}
			}
			p, err := parent()
			if err != nil {
				return nil, err
			}
			return f(p), nil
		},
	}
}
