package compose

import (
	"fmt"
	"reflect"

	"github.com/go-loom/loom/pkg/errors"
)

// ScopeID identifies one live composable instance. Ids are generational:
// the index half is reused after destruction, the generation half is
// incremented, so an id held past its scope's destruction fails lookup
// instead of silently resolving to a new occupant. The zero ScopeID is
// never allocated and identifies "no scope" (e.g. the root's parent).
type ScopeID struct {
	index      uint32
	generation uint32
}

// IsZero reports whether the id is the invalid zero id.
func (id ScopeID) IsZero() bool {
	return id.index == 0
}

// Index returns the arena index half of the id.
func (id ScopeID) Index() uint32 { return id.index }

// Generation returns the generation half of the id.
func (id ScopeID) Generation() uint32 { return id.generation }

func (id ScopeID) String() string {
	if id.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d.%d", id.index, id.generation)
}

// MarshalText encodes the id as "index.generation" for JSON output.
func (id ScopeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// Phase is the lifecycle state of a scope.
type Phase int

const (
	// PhaseUnmounted is the phase before Mount and after destruction.
	PhaseUnmounted Phase = iota
	// PhaseComposing means the scope's compose function is running.
	PhaseComposing
	// PhaseIdle means the scope holds a composed output and awaits changes.
	PhaseIdle
	// PhaseDestroying means the scope is being torn down.
	PhaseDestroying
)

func (p Phase) String() string {
	switch p {
	case PhaseComposing:
		return "composing"
	case PhaseIdle:
		return "idle"
	case PhaseDestroying:
		return "destroying"
	default:
		return "unmounted"
	}
}

// scope is the allocation record for one live composable instance.
type scope struct {
	id     ScopeID
	parent ScopeID
	depth  int
	phase  Phase
	dirty  bool

	// comp is the current composable instance; key is its reconciliation
	// key from the parent's Embed (nil for the root and unkeyed children).
	comp Composable
	key  any

	// slots are the positional hook cells. sealed is set after the first
	// successful composition, freezing the expected call sequence.
	slots  []slot
	cursor int
	sealed bool

	// node is the last successfully composed raw output tree; children
	// are the child scopes for its Embeds, in document order.
	node     Node
	children []ScopeID

	// contexts holds values provided by this scope to its descendants.
	contexts map[reflect.Type]any

	lastErr error
}

// ScopeInfo is a read-only snapshot of a scope record, used by the
// inspector and tests.
type ScopeInfo struct {
	ID         ScopeID   `json:"id"`
	Parent     ScopeID   `json:"parent"`
	Depth      int       `json:"depth"`
	Phase      string    `json:"phase"`
	Dirty      bool      `json:"dirty"`
	Slots      int       `json:"slots"`
	Composable string    `json:"composable"`
	Children   []ScopeID `json:"children,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Store owns one allocation record per live scope. It is a generational
// arena: destroyed indices are recycled with a bumped generation, which is
// what lets handles and mapped references detect staleness lazily instead
// of being nulled out eagerly.
//
// Store is not safe for concurrent use; all access is confined to the
// composition thread.
type Store struct {
	slots []storeSlot
	free  []uint32
	live  int

	// OnDestroy, if set, is called for every scope id removed by Destroy,
	// descendants first. The composer uses it to drop pending dirty
	// markers for destroyed scopes.
	OnDestroy func(ScopeID)
}

type storeSlot struct {
	generation uint32
	sc         *scope
}

// NewStore creates an empty scope store.
func NewStore() *Store {
	// Index 0 stays vacant so the zero ScopeID is never valid.
	return &Store{slots: make([]storeSlot, 1)}
}

// Len returns the number of live scopes.
func (s *Store) Len() int { return s.live }

// Allocate creates a scope with a fresh id under parent. A zero parent id
// allocates a root scope. Returns UnknownScopeError if parent is not live.
func (s *Store) Allocate(parent ScopeID) (ScopeID, error) {
	depth := 0
	if !parent.IsZero() {
		p, err := s.get(parent)
		if err != nil {
			return ScopeID{}, err
		}
		depth = p.depth + 1
	}

	var index uint32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, storeSlot{})
		index = uint32(len(s.slots) - 1)
	}

	id := ScopeID{index: index, generation: s.slots[index].generation}
	s.slots[index].sc = &scope{
		id:     id,
		parent: parent,
		depth:  depth,
		phase:  PhaseUnmounted,
	}
	s.live++
	return id, nil
}

// Contains reports whether id names a live scope.
func (s *Store) Contains(id ScopeID) bool {
	_, err := s.get(id)
	return err == nil
}

// Info returns a snapshot of the scope record for id, or
// UnknownScopeError if the id was destroyed or never allocated.
func (s *Store) Info(id ScopeID) (ScopeInfo, error) {
	sc, err := s.get(id)
	if err != nil {
		return ScopeInfo{}, err
	}
	info := ScopeInfo{
		ID:       sc.id,
		Parent:   sc.parent,
		Depth:    sc.depth,
		Phase:    sc.phase.String(),
		Dirty:    sc.dirty,
		Slots:    len(sc.slots),
		Children: append([]ScopeID(nil), sc.children...),
	}
	if sc.comp != nil {
		info.Composable = reflect.TypeOf(sc.comp).String()
	}
	if sc.lastErr != nil {
		info.LastError = sc.lastErr.Error()
	}
	return info, nil
}

// Scopes returns snapshots of every live scope in index order. Used by
// the inspector.
func (s *Store) Scopes() []ScopeInfo {
	out := make([]ScopeInfo, 0, s.live)
	for index := 1; index < len(s.slots); index++ {
		sc := s.slots[index].sc
		if sc == nil {
			continue
		}
		if info, err := s.Info(sc.id); err == nil {
			out = append(out, info)
		}
	}
	return out
}

// Destroy tears down the scope and all its descendants, descendants
// first. Hook cleanups run in reverse registration order. The destroyed
// indices get a bumped generation, so any held handle or reference bound
// to the old id becomes detectably stale on its next dereference.
func (s *Store) Destroy(id ScopeID) error {
	sc, err := s.get(id)
	if err != nil {
		return err
	}
	s.destroy(sc)
	return nil
}

func (s *Store) destroy(sc *scope) {
	sc.phase = PhaseDestroying
	for _, child := range sc.children {
		if c, err := s.get(child); err == nil {
			s.destroy(c)
		}
	}
	sc.children = nil

	// Cleanups run LIFO, mirroring registration order within compose.
	for i := len(sc.slots) - 1; i >= 0; i-- {
		if fn, ok := sc.slots[i].value.(cleanupFunc); ok && fn != nil {
			fn()
		}
	}
	sc.slots = nil
	sc.phase = PhaseUnmounted

	index := sc.id.index
	s.slots[index].sc = nil
	s.slots[index].generation++
	s.free = append(s.free, index)
	s.live--

	if s.OnDestroy != nil {
		s.OnDestroy(sc.id)
	}
}

// Validate checks the structural invariants of the store: every parent
// link must resolve to a live scope and the parent chain must be acyclic.
// A violation is unrecoverable; callers must treat it as fatal.
func (s *Store) Validate() error {
	for index := 1; index < len(s.slots); index++ {
		sc := s.slots[index].sc
		if sc == nil {
			continue
		}
		seen := map[ScopeID]struct{}{sc.id: {}}
		path := []string{sc.id.String()}
		current := sc.parent
		for !current.IsZero() {
			if _, dup := seen[current]; dup {
				return &errors.CycleError{Scope: current.String(), Path: path}
			}
			seen[current] = struct{}{}
			path = append(path, current.String())
			p, err := s.get(current)
			if err != nil {
				return fmt.Errorf("scope %s: broken parent link: %w", sc.id, err)
			}
			current = p.parent
		}
	}
	return nil
}

func (s *Store) get(id ScopeID) (*scope, error) {
	if id.index == 0 || int(id.index) >= len(s.slots) {
		return nil, &errors.UnknownScopeError{Scope: id.String()}
	}
	slot := s.slots[id.index]
	if slot.sc == nil || slot.generation != id.generation {
		return nil, &errors.UnknownScopeError{Scope: id.String()}
	}
	return slot.sc, nil
}
