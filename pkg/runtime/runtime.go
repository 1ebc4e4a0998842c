// Package runtime hosts a composition on a single cooperative thread. It
// owns the frame loop: external events are marshalled in through Dispatch,
// each frame drains the dispatch queue, runs one scheduler pass, and hands
// the reconciled tree to the configured consumers.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-loom/loom/pkg/compose"
	"github.com/go-loom/loom/pkg/errors"
	"github.com/go-loom/loom/pkg/semantics"
)

// Renderer consumes the reconciled output tree after each pass. The tree
// is a one-way handoff; the renderer must not retain mutable access into
// the composition.
type Renderer interface {
	RenderTree(tree *compose.Resolved)
}

// SemanticsSink consumes accessibility updates derived from the output
// tree after each pass.
type SemanticsSink interface {
	UpdateSemantics(update *semantics.TreeUpdate)
}

// Options configures a Runtime.
type Options struct {
	// Renderer receives the reconciled tree after every pass. Optional.
	Renderer Renderer

	// Semantics receives derived accessibility updates after every pass.
	// Optional.
	Semantics SemanticsSink

	// InspectorAddr is the listen address for the HTTP inspector
	// (e.g. "localhost:7353"). Empty disables the inspector.
	InspectorAddr string

	// Handler, if set, is installed as the global error handler for the
	// duration of Run.
	Handler errors.Handler
}

// Stats is a snapshot of runtime counters, served by the inspector.
type Stats struct {
	Instance         string  `json:"instance"`
	UptimeMs         int64   `json:"uptimeMs"`
	Passes           uint64  `json:"passes"`
	TotalComposes    uint64  `json:"totalComposes"`
	LastPassComposes int     `json:"lastPassComposes"`
	LastPassMs       float64 `json:"lastPassMs"`
	LiveScopes       int     `json:"liveScopes"`
	PendingScopes    int     `json:"pendingScopes"`
}

// Runtime drives one mounted composition. All composition work happens on
// the goroutine calling Run (or StepFrame); Dispatch is the only entry
// point safe from other goroutines.
type Runtime struct {
	id   uuid.UUID
	opts Options

	// mu guards the composer and store. Held for the duration of a frame
	// and by inspector handlers reading tree snapshots between frames.
	mu       sync.Mutex
	store    *compose.Store
	sched    *compose.Scheduler
	composer *compose.Composer

	frameCh chan struct{}

	dispatchMu    sync.Mutex
	dispatchQueue []func()

	startedAt    time.Time
	lastPassNano int64

	inspector *inspector
}

// New creates a runtime with a fresh composer wired to the given options.
func New(opts Options) *Runtime {
	store := compose.NewStore()
	sched := compose.NewScheduler()
	r := &Runtime{
		id:        uuid.New(),
		opts:      opts,
		store:     store,
		sched:     sched,
		composer:  compose.NewComposer(store, sched),
		frameCh:   make(chan struct{}, 1),
		startedAt: time.Now(),
	}
	// Wire frame scheduling so a mutation through any handle requests a
	// frame under on-demand scheduling.
	sched.OnNeedsPass = r.requestFrame
	return r
}

// ID returns the runtime's instance id.
func (r *Runtime) ID() uuid.UUID { return r.id }

// Composer returns the underlying composer. Callers must only touch it
// from the composition goroutine.
func (r *Runtime) Composer() *compose.Composer { return r.composer }

// Mount mounts the root composable and validates the scope store. A
// parent-link cycle or broken link reported by validation is
// unrecoverable and fails the mount.
func (r *Runtime) Mount(root compose.Composable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.composer.Mount(root); err != nil {
		return err
	}
	return r.store.Validate()
}

// Dispatch schedules a callback to run on the composition goroutine at
// the start of the next frame. Safe to call from any goroutine; this is
// how hosts feed external events into handles without racing a pass.
func (r *Runtime) Dispatch(callback func()) {
	if callback == nil {
		return
	}
	r.dispatchMu.Lock()
	r.dispatchQueue = append(r.dispatchQueue, callback)
	r.dispatchMu.Unlock()
	r.requestFrame()
}

func (r *Runtime) requestFrame() {
	select {
	case r.frameCh <- struct{}{}:
	default:
	}
}

func (r *Runtime) drainDispatchQueue() []func() {
	r.dispatchMu.Lock()
	callbacks := append([]func(){}, r.dispatchQueue...)
	r.dispatchQueue = nil
	r.dispatchMu.Unlock()
	return callbacks
}

// StepFrame runs one frame: drain dispatched callbacks, run a scheduler
// pass if any scope is dirty, and publish the resulting tree to the
// consumers. Returns the current reconciled tree.
func (r *Runtime) StepFrame() *compose.Resolved {
	r.mu.Lock()

	for _, callback := range r.drainDispatchQueue() {
		runCallback(callback)
	}

	passed := false
	var tree *compose.Resolved
	if r.sched.Pending() > 0 {
		start := time.Now()
		tree = r.composer.RunPass()
		r.lastPassNano = time.Since(start).Nanoseconds()
		passed = true
	} else {
		tree = r.composer.Resolved()
	}
	r.mu.Unlock()

	if passed {
		r.publish(tree)
	}
	return tree
}

func runCallback(callback func()) {
	defer errors.Recover("runtime.Dispatch")
	callback()
}

// publish hands the tree to the consumers. Each consumer is isolated: a
// panic in one is reported and does not reach the others or the loop.
func (r *Runtime) publish(tree *compose.Resolved) {
	if r.opts.Renderer != nil {
		func() {
			defer errors.Recover("runtime.Renderer")
			r.opts.Renderer.RenderTree(tree)
		}()
	}
	if r.opts.Semantics != nil {
		update := semantics.Build(tree)
		func() {
			defer errors.Recover("runtime.Semantics")
			r.opts.Semantics.UpdateSemantics(update)
		}()
	}
}

// Run mounts root and serves frames until ctx is cancelled. The initial
// tree is published before the loop starts so consumers never observe a
// mounted-but-unrendered state. On cancellation the composition is
// unmounted and all scopes destroyed.
func (r *Runtime) Run(ctx context.Context, root compose.Composable) error {
	if r.opts.Handler != nil {
		errors.SetHandler(r.opts.Handler)
		defer errors.SetHandler(nil)
	}

	if err := r.Mount(root); err != nil {
		return err
	}

	if r.opts.InspectorAddr != "" {
		insp, err := startInspector(r, r.opts.InspectorAddr)
		if err != nil {
			return err
		}
		r.inspector = insp
		defer insp.stop()
	}

	r.mu.Lock()
	tree := r.composer.Resolved()
	r.mu.Unlock()
	r.publish(tree)

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			err := r.composer.Unmount()
			r.mu.Unlock()
			return err
		case <-r.frameCh:
			r.StepFrame()
		}
	}
}

// Stats returns a snapshot of the runtime counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Instance:         r.id.String(),
		UptimeMs:         time.Since(r.startedAt).Milliseconds(),
		Passes:           r.composer.Passes(),
		TotalComposes:    r.composer.TotalComposes(),
		LastPassComposes: r.composer.LastPassComposes(),
		LastPassMs:       float64(r.lastPassNano) / 1e6,
		LiveScopes:       r.store.Len(),
		PendingScopes:    r.sched.Pending(),
	}
}
