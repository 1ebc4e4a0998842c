package compose

import (
	"github.com/go-loom/loom/pkg/errors"
)

// fnComposable wraps a compose function for tests. The function field
// defeats input equality, so these always recompose with their parent.
type fnComposable struct {
	fn func(cx *Scope) Node
}

func (f fnComposable) Compose(cx *Scope) Node {
	if f.fn == nil {
		return nil
	}
	return f.fn(cx)
}

// probeLeaf is a plain-data composable that counts its compose calls
// through a shared pointer, keeping instances DeepEqual-comparable so
// memoization can skip them.
type probeLeaf struct {
	Name  string
	Calls *int
}

func (p probeLeaf) Compose(cx *Scope) Node {
	*p.Calls++
	return Primitive{Kind: "leaf", Attrs: Attrs{"name": p.Name}}
}

// labelChild stores the label it was first composed with in hook state,
// exposing both the sticky state and the current input in its output.
type labelChild struct {
	Label string
}

func (w labelChild) Compose(cx *Scope) Node {
	initial := UseState(cx, func() string { return w.Label })
	sticky, _ := initial.Get()
	return Primitive{Kind: "label", Attrs: Attrs{"sticky": sticky, "input": w.Label}}
}

// otherChild has a distinct declared type for type-change scenarios.
type otherChild struct {
	Label string
}

func (w otherChild) Compose(cx *Scope) Node {
	return Primitive{Kind: "other", Attrs: Attrs{"input": w.Label}}
}

// captureHandler records reported errors for assertions.
type captureHandler struct {
	composeErrors []*errors.ComposeError
	panics        []*errors.PanicError
}

func (h *captureHandler) HandleComposeError(err *errors.ComposeError) {
	h.composeErrors = append(h.composeErrors, err)
}

func (h *captureHandler) HandlePanic(err *errors.PanicError) {
	h.panics = append(h.panics, err)
}

// newTestComposer builds a store, scheduler, and composer wired together.
func newTestComposer() (*Store, *Scheduler, *Composer) {
	store := NewStore()
	sched := NewScheduler()
	return store, sched, NewComposer(store, sched)
}

// findAttr returns the first resolved node whose attrs contain key=value.
func findAttr(tree *Resolved, key string, value any) *Resolved {
	var found *Resolved
	tree.Walk(func(r *Resolved) bool {
		if found != nil {
			return false
		}
		if r.Attrs != nil && r.Attrs[key] == value {
			found = r
			return false
		}
		return true
	})
	return found
}
