package compose

import "sync"

// Scheduler collects mutation notifications into a dirty set and hands
// the batch to the composer once per pass. Notifications for the same
// scope coalesce: a scope is enqueued at most once per batch no matter
// how many mutations hit it.
//
// Composition itself is single-threaded, but Notify may be reached from
// handles held by callbacks queued off-thread, so the dirty set is
// mutex-guarded.
type Scheduler struct {
	mu      sync.Mutex
	queue   []ScopeID
	pending map[ScopeID]struct{}

	// OnNeedsPass is called whenever a scope is newly enqueued,
	// signalling the host that a pass should be scheduled. This enables
	// on-demand pass scheduling instead of continuous polling.
	OnNeedsPass func()
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[ScopeID]struct{})}
}

// Notify adds a scope id to the dirty set. Duplicate notifications before
// the next pass are coalesced.
func (s *Scheduler) Notify(id ScopeID) {
	if id.IsZero() {
		return
	}
	s.mu.Lock()
	if _, dup := s.pending[id]; dup {
		s.mu.Unlock()
		return
	}
	s.pending[id] = struct{}{}
	s.queue = append(s.queue, id)
	needsPass := s.OnNeedsPass
	s.mu.Unlock()

	if needsPass != nil {
		needsPass()
	}
}

// Forget drops a pending dirty marker. Called when a scope is destroyed
// mid-flight so no recompose is attempted on a dead id.
func (s *Scheduler) Forget(id ScopeID) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Pending returns the number of scopes awaiting recomposition.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// take drains the current batch. Notifications arriving after take starts
// land in the next batch; entries forgotten since enqueueing are skipped.
func (s *Scheduler) take() []ScopeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	batch := make([]ScopeID, 0, len(s.queue))
	for _, id := range s.queue {
		if _, ok := s.pending[id]; ok {
			batch = append(batch, id)
		}
	}
	s.queue = s.queue[:0]
	clear(s.pending)
	return batch
}
