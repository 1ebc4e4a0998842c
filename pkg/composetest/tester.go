// Package composetest provides a harness for testing composables without
// a host runtime. It mounts a root, drives scheduler passes on demand, and
// offers finders over the reconciled output tree.
package composetest

import (
	"fmt"
	"testing"

	"github.com/go-loom/loom/pkg/compose"
)

// Tester owns an isolated composer for one test. Passes run only when
// Pump is called, so tests control exactly when recomposition happens.
type Tester struct {
	t        *testing.T
	store    *compose.Store
	sched    *compose.Scheduler
	composer *compose.Composer
	tree     *compose.Resolved
}

// NewTester mounts root on a fresh composer and registers cleanup with t.
// Mount failures fail the test immediately.
func NewTester(t *testing.T, root compose.Composable) *Tester {
	t.Helper()
	store := compose.NewStore()
	sched := compose.NewScheduler()
	composer := compose.NewComposer(store, sched)

	if _, err := composer.Mount(root); err != nil {
		t.Fatalf("composetest: mount failed: %v", err)
	}
	t.Cleanup(func() { composer.Unmount() })

	return &Tester{
		t:        t,
		store:    store,
		sched:    sched,
		composer: composer,
		tree:     composer.Resolved(),
	}
}

// Composer returns the underlying composer.
func (ts *Tester) Composer() *compose.Composer { return ts.composer }

// Store returns the underlying scope store.
func (ts *Tester) Store() *compose.Store { return ts.store }

// Tree returns the current reconciled tree without running a pass.
func (ts *Tester) Tree() *compose.Resolved { return ts.tree }

// Pending returns the number of scopes awaiting recomposition.
func (ts *Tester) Pending() int { return ts.sched.Pending() }

// Pump runs one scheduler pass and returns the reconciled tree.
func (ts *Tester) Pump() *compose.Resolved {
	ts.tree = ts.composer.RunPass()
	return ts.tree
}

// PumpUntilClean pumps until no scope is dirty, failing the test after
// maxPasses. Use it when a composable mutates its own state during
// composition and needs several passes to settle.
func (ts *Tester) PumpUntilClean(maxPasses int) *compose.Resolved {
	ts.t.Helper()
	for i := 0; i < maxPasses; i++ {
		ts.Pump()
		if ts.sched.Pending() == 0 {
			return ts.tree
		}
	}
	ts.t.Fatalf("composetest: composition did not settle after %d passes (%d scopes still pending)", maxPasses, ts.sched.Pending())
	return nil
}

// Find returns all nodes of the current tree matched by the finder.
func (ts *Tester) Find(f Finder) Result {
	var matches []*compose.Resolved
	ts.tree.Walk(func(r *compose.Resolved) bool {
		if f.Matches(r) {
			matches = append(matches, r)
		}
		return true
	})
	return Result{nodes: matches, finder: f, t: ts.t}
}

// Result wraps finder matches with accessors that fail the test on
// missing nodes instead of panicking.
type Result struct {
	nodes  []*compose.Resolved
	finder Finder
	t      *testing.T
}

// Exists reports whether at least one node matched.
func (r Result) Exists() bool { return len(r.nodes) > 0 }

// Count returns the number of matches.
func (r Result) Count() int { return len(r.nodes) }

// All returns the matches in traversal order.
func (r Result) All() []*compose.Resolved { return r.nodes }

// First returns the first match, failing the test if there is none.
func (r Result) First() *compose.Resolved {
	r.t.Helper()
	if len(r.nodes) == 0 {
		r.t.Fatalf("composetest: no nodes matched %s", describe(r.finder))
	}
	return r.nodes[0]
}

// Attr returns the named attribute of the first match.
func (r Result) Attr(key string) any {
	r.t.Helper()
	return r.First().Attrs[key]
}

func describe(f Finder) string {
	if f == nil {
		return "<nil finder>"
	}
	return f.Description()
}

// Finder selects nodes of a reconciled tree.
type Finder interface {
	Matches(r *compose.Resolved) bool
	Description() string
}

type kindFinder struct{ kind string }

func (f kindFinder) Matches(r *compose.Resolved) bool { return r.Kind == f.kind }
func (f kindFinder) Description() string              { return fmt.Sprintf("kind %q", f.kind) }

// ByKind matches primitives by their kind string.
func ByKind(kind string) Finder { return kindFinder{kind: kind} }

type keyFinder struct{ key any }

func (f keyFinder) Matches(r *compose.Resolved) bool { return r.Key == f.key }
func (f keyFinder) Description() string              { return fmt.Sprintf("key %v", f.key) }

// ByKey matches nodes carrying the given reconciliation key.
func ByKey(key any) Finder { return keyFinder{key: key} }

type attrFinder struct {
	name  string
	value any
}

func (f attrFinder) Matches(r *compose.Resolved) bool {
	return r.Attrs != nil && r.Attrs[f.name] == f.value
}

func (f attrFinder) Description() string {
	return fmt.Sprintf("attr %s=%v", f.name, f.value)
}

// ByAttr matches nodes whose attrs contain name=value.
func ByAttr(name string, value any) Finder { return attrFinder{name: name, value: value} }

type scopeFinder struct{ id compose.ScopeID }

func (f scopeFinder) Matches(r *compose.Resolved) bool { return r.Scope == f.id }
func (f scopeFinder) Description() string              { return fmt.Sprintf("scope %s", f.id) }

// ByScope matches nodes composed by the given scope.
func ByScope(id compose.ScopeID) Finder { return scopeFinder{id: id} }
