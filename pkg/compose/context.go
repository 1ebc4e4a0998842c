package compose

import (
	"reflect"

	"github.com/go-loom/loom/pkg/errors"
)

// Provide makes a value of type T available to this scope's descendants
// through [UseContext]. The value is created once, on the first
// composition, and lives in a hook slot so it follows the positional call
// sequence invariant like any other hook. The returned pointer is stable
// for the lifetime of the scope.
func Provide[T any](cx *Scope, init func() T) *T {
	p := UseRef(cx, init)
	sc := cx.sc
	if sc.contexts == nil {
		sc.contexts = make(map[reflect.Type]any)
	}
	sc.contexts[typeOf[T]()] = p
	return p
}

// UseContext returns the nearest ancestor-provided value of type T,
// walking the parent chain from this scope upward. The returned pointer
// is a read-only view into the providing scope's slot; it stays valid as
// long as that scope lives.
func UseContext[T any](cx *Scope) (*T, error) {
	want := typeOf[T]()
	current := cx.sc
	for {
		if current.contexts != nil {
			if v, ok := current.contexts[want]; ok {
				return v.(*T), nil
			}
		}
		if current.parent.IsZero() {
			return nil, &errors.ContextError{Type: want.String(), Scope: cx.sc.id.String()}
		}
		parent, err := cx.c.store.get(current.parent)
		if err != nil {
			return nil, err
		}
		current = parent
	}
}
