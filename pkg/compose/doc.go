// Package compose implements the reactive composition engine: scope
// allocation, positional hook-state storage, dirty tracking with batched
// incremental recomposition, and generation-checked borrowing of ancestor
// state.
//
// # Core Types
//
// Composable is an immutable description of a unit of UI state. Composing
// it under a [Scope] produces a [Node] tree of opaque primitives and
// embedded child composables.
//
// Store owns one allocation record per live composable instance. Ids are
// generational, so handles and references held past a scope's destruction
// fail with a typed staleness error instead of reading recycled memory.
//
// Composer invokes compose functions on dirty scopes, diffs new output
// against old to reuse, create, or destroy child scopes, and assembles
// the reconciled [Resolved] tree consumed by the renderer, layout, and
// accessibility collaborators.
//
// Scheduler batches mutation notifications; one pass recomposes each
// affected scope exactly once, ancestors before descendants.
//
// # Hooks
//
// Within one scope's compose function the sequence of hook calls must be
// identical across every recomposition: same count, same order, same
// types. Positional matching is what lets slots survive recomposition
// without named keys; a divergence fails with HookMismatchError rather
// than silently shifting state to the wrong call.
//
//	type counter struct{ Label string }
//
//	func (c counter) Compose(cx *compose.Scope) compose.Node {
//	    count := compose.UseState(cx, func() int { return 0 })
//	    n, _ := count.Get()
//	    return compose.Primitive{
//	        Kind:  "text",
//	        Attrs: compose.Attrs{"label": fmt.Sprintf("%s: %d", c.Label, n)},
//	    }
//	}
//
// Mutations go through [Handle.Update]: the value changes synchronously,
// the owning scope is enqueued, and recomposition happens on the next
// scheduler pass, coalescing any number of updates into one recompose.
//
// # Borrowing
//
// A descendant reads ancestor state through [Ref]: either an owned copy
// or a borrowed view bound to the source scope's generation. Borrowed
// refs are zero-copy and re-validated on every Deref; after the source
// scope is destroyed they fail with StaleReferenceError. [MapRef] derives
// sub-field views by composing accessors, keeping the same binding.
package compose
