package compose

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/go-loom/loom/pkg/errors"
)

// Memoized lets a composable customize the input comparison used for
// memoization. Composables carrying borrowed [Ref] fields should
// implement it with [Ref.Same], since function-valued fields defeat the
// default reflect.DeepEqual comparison and force a recompose.
type Memoized interface {
	Composable

	// EqualTo reports whether this composable's declared inputs equal
	// those of prev, the instance from the previous pass. prev is
	// guaranteed to have the same dynamic type.
	EqualTo(prev Composable) bool
}

// Composer drives composition and reconciliation over a scope store. It
// invokes compose functions on dirty scopes, diffs the new output tree
// against the previous one to decide which child scopes are reused,
// created, or torn down, and assembles the reconciled tree handed to
// downstream consumers.
//
// All methods are confined to the composition thread.
type Composer struct {
	store *Store
	sched *Scheduler
	root  ScopeID

	// composed tracks scopes already recomposed in the current pass so a
	// scope recomposes at most once per pass, whether reached from the
	// dirty batch or recursively from an ancestor's diff.
	composed map[ScopeID]struct{}

	passes           uint64
	totalComposes    uint64
	lastPassComposes int
}

// NewComposer creates a composer over store, reporting dirty scopes to
// sched. Destroyed scopes have their pending dirty markers dropped
// immediately.
func NewComposer(store *Store, sched *Scheduler) *Composer {
	c := &Composer{
		store:    store,
		sched:    sched,
		composed: make(map[ScopeID]struct{}),
	}
	store.OnDestroy = sched.Forget
	return c
}

// Store returns the underlying scope store.
func (c *Composer) Store() *Store { return c.store }

// Root returns the root scope id, or the zero id before Mount.
func (c *Composer) Root() ScopeID { return c.root }

// Passes returns the number of completed scheduler passes.
func (c *Composer) Passes() uint64 { return c.passes }

// TotalComposes returns the number of compose invocations since Mount.
func (c *Composer) TotalComposes() uint64 { return c.totalComposes }

// LastPassComposes returns the compose invocations of the latest pass.
func (c *Composer) LastPassComposes() int { return c.lastPassComposes }

// Mount allocates the root scope for content and composes the initial
// tree. If the initial composition fails the failure is reported through
// the error handler and also returned; the scope stays mounted with an
// empty output.
func (c *Composer) Mount(content Composable) (ScopeID, error) {
	if !c.root.IsZero() {
		return ScopeID{}, fmt.Errorf("compose: already mounted (root %s)", c.root)
	}
	id, err := c.store.Allocate(ScopeID{})
	if err != nil {
		return ScopeID{}, err
	}
	sc, _ := c.store.get(id)
	sc.comp = content
	c.root = id
	c.composeScope(sc)
	return id, sc.lastErr
}

// Unmount destroys the root scope and all its descendants.
func (c *Composer) Unmount() error {
	if c.root.IsZero() {
		return nil
	}
	root := c.root
	c.root = ScopeID{}
	return c.store.Destroy(root)
}

// RunPass drains the dirty batch, recomposes each still-live scope
// exactly once with ancestors before descendants, and returns the fully
// reconciled tree. Scopes destroyed mid-pass by an ancestor's diff are
// skipped as benign no-ops. Mutations arriving during the pass land in
// the next batch.
func (c *Composer) RunPass() *Resolved {
	batch := c.sched.take()
	clear(c.composed)
	c.lastPassComposes = 0

	// Ancestors first: when parent and child are both dirty, composing
	// the parent may recompose or destroy the child, and the child must
	// not be recomposed twice (or at all, if destroyed).
	type entry struct {
		id    ScopeID
		depth int
	}
	entries := make([]entry, 0, len(batch))
	for _, id := range batch {
		sc, err := c.store.get(id)
		if err != nil {
			continue
		}
		entries = append(entries, entry{id: id, depth: sc.depth})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].depth < entries[j].depth
	})

	for _, e := range entries {
		if _, done := c.composed[e.id]; done {
			continue
		}
		sc, err := c.store.get(e.id)
		if err != nil {
			// Destroyed by an earlier scope's diff in this pass.
			continue
		}
		if !sc.dirty {
			continue
		}
		c.composeScope(sc)
	}

	c.passes++
	return c.Resolved()
}

// Resolved assembles the current reconciled tree from the root scope's
// last composed output. No compose functions are invoked.
func (c *Composer) Resolved() *Resolved {
	if c.root.IsZero() {
		return nil
	}
	sc, err := c.store.get(c.root)
	if err != nil {
		return nil
	}
	return c.resolveScope(sc)
}

// invalidate marks a scope dirty and enqueues it. A no-op for dead ids
// and for scopes already marked this batch.
func (c *Composer) invalidate(id ScopeID) {
	sc, err := c.store.get(id)
	if err != nil {
		return
	}
	if sc.dirty {
		return
	}
	sc.dirty = true
	c.sched.Notify(id)
}

// composeScope runs one scope through a composition cycle: invoke its
// compose function, reconcile child scopes against the previous output,
// and record the new output tree. On failure the previous output and
// children are retained (last-known-good) and the failure is reported;
// the pass continues.
func (c *Composer) composeScope(sc *scope) {
	c.composed[sc.id] = struct{}{}
	c.totalComposes++
	c.lastPassComposes++

	sc.dirty = false
	sc.phase = PhaseComposing
	sc.cursor = 0

	node, err := c.invoke(sc)
	sc.phase = PhaseIdle
	if err != nil {
		sc.lastErr = err
		ce, ok := err.(*errors.ComposeError)
		if !ok {
			ce = &errors.ComposeError{
				Composable: composableName(sc.comp),
				Scope:      sc.id.String(),
				Err:        err,
			}
		}
		errors.ReportComposeError(ce)
		return
	}
	sc.lastErr = nil
	sc.sealed = true
	c.reconcile(sc, node)
	sc.node = node
}

// invoke calls the scope's compose function with panic recovery. Hook
// mismatches surface as HookMismatchError; any other panic is wrapped in
// a ComposeError with a captured stack.
func (c *Composer) invoke(sc *scope) (node Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			node = nil
			if hm, ok := r.(*errors.HookMismatchError); ok {
				err = hm
				return
			}
			err = &errors.ComposeError{
				Composable: composableName(sc.comp),
				Scope:      sc.id.String(),
				Recovered:  r,
				StackTrace: errors.CaptureStack(),
			}
		}
	}()

	cx := &Scope{c: c, sc: sc}
	node = sc.comp.Compose(cx)

	// A composition that stops short of the recorded slot count skipped a
	// hook; shifting the remaining slots would hand state to the wrong
	// caller, so this fails instead.
	if sc.sealed && sc.cursor != len(sc.slots) {
		return nil, &errors.HookMismatchError{
			Scope:  sc.id.String(),
			Slot:   sc.cursor,
			Reason: fmt.Sprintf("composition reached %d of %d recorded slots", sc.cursor, len(sc.slots)),
		}
	}
	return node, nil
}

// reconcile matches the Embeds of the new output tree against the
// scope's existing children and reuses, creates, or destroys child
// scopes accordingly.
//
// Matching rule: keyed children match by key first and require the same
// declared type; the remaining unkeyed children match strictly
// positionally among themselves, in order. A keyed child never consumes a
// positional slot. Without keys, reordering reads as the content at each
// position changing, never as a move. A type change at a matched position
// destroys the old scope (hook state included) and allocates a fresh one.
func (c *Composer) reconcile(sc *scope, node Node) {
	embeds := collectEmbeds(node)

	type oldChild struct {
		id   ScopeID
		key  any
		typ  reflect.Type
		used bool
	}
	olds := make([]oldChild, 0, len(sc.children))
	oldByKey := make(map[any]int)
	var oldUnkeyed []int
	for _, id := range sc.children {
		child, err := c.store.get(id)
		if err != nil {
			continue
		}
		entry := oldChild{id: id, key: child.key, typ: reflect.TypeOf(child.comp)}
		olds = append(olds, entry)
		if entry.key != nil {
			if _, dup := oldByKey[entry.key]; !dup {
				oldByKey[entry.key] = len(olds) - 1
			}
		} else {
			oldUnkeyed = append(oldUnkeyed, len(olds)-1)
		}
	}

	next := make([]ScopeID, 0, len(embeds))
	unkeyedPos := 0
	for _, em := range embeds {
		typ := reflect.TypeOf(em.Content)
		match := -1
		if em.Key != nil {
			if j, ok := oldByKey[em.Key]; ok && !olds[j].used && olds[j].typ == typ {
				match = j
			}
		} else {
			if unkeyedPos < len(oldUnkeyed) {
				if j := oldUnkeyed[unkeyedPos]; !olds[j].used && olds[j].typ == typ {
					match = j
				}
			}
			unkeyedPos++
		}

		if match >= 0 {
			olds[match].used = true
			child, err := c.store.get(olds[match].id)
			if err != nil {
				continue
			}
			changed := !equalInputs(child.comp, em.Content)
			child.comp = em.Content
			child.key = em.Key
			next = append(next, child.id)
			if _, done := c.composed[child.id]; done {
				continue
			}
			if changed || child.dirty {
				c.composeScope(child)
			}
			continue
		}

		id, err := c.store.Allocate(sc.id)
		if err != nil {
			continue
		}
		child, _ := c.store.get(id)
		child.comp = em.Content
		child.key = em.Key
		next = append(next, id)
		c.composeScope(child)
	}

	for i := range olds {
		if !olds[i].used && c.store.Contains(olds[i].id) {
			c.store.Destroy(olds[i].id)
		}
	}
	sc.children = next
}

// resolveScope builds the reconciled subtree for one scope by walking its
// last composed raw tree and substituting each Embed with the output of
// the corresponding child scope.
func (c *Composer) resolveScope(sc *scope) *Resolved {
	if sc.node == nil {
		return nil
	}
	embedIdx := 0
	var walk func(Node) *Resolved
	walk = func(n Node) *Resolved {
		switch v := n.(type) {
		case Primitive:
			res := &Resolved{
				Kind:  v.Kind,
				Key:   v.Key,
				Attrs: v.Attrs,
				Scope: sc.id,
			}
			for _, childNode := range v.Children {
				if childNode == nil {
					continue
				}
				if r := walk(childNode); r != nil {
					res.Children = append(res.Children, r)
				}
			}
			return res
		case Embed:
			if embedIdx >= len(sc.children) {
				return nil
			}
			id := sc.children[embedIdx]
			embedIdx++
			child, err := c.store.get(id)
			if err != nil {
				return nil
			}
			return c.resolveScope(child)
		}
		return nil
	}
	return walk(sc.node)
}

// collectEmbeds gathers the Embed nodes of one scope's output in document
// order, without descending into the embeds themselves.
func collectEmbeds(node Node) []Embed {
	var out []Embed
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case Embed:
			out = append(out, v)
		case Primitive:
			for _, child := range v.Children {
				if child != nil {
					walk(child)
				}
			}
		}
	}
	if node != nil {
		walk(node)
	}
	return out
}

// equalInputs reports whether a reused child's declared inputs are
// unchanged from the previous pass, enabling the memoization skip. The
// dynamic types are already known to match.
func equalInputs(prev, next Composable) bool {
	if prev == nil || next == nil {
		return false
	}
	if m, ok := next.(Memoized); ok {
		return m.EqualTo(prev)
	}
	return reflect.DeepEqual(prev, next)
}

func composableName(c Composable) string {
	if c == nil {
		return "<nil>"
	}
	return reflect.TypeOf(c).String()
}
