package cursor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/imposter/pkg/config"
)

// MemoryStore keeps cursors in process memory.
//
// Expiry is checked lazily on every access, so an idle cursor is
// unreachable as soon as its window elapses. The sweeper only reclaims
// memory for cursors nobody asks for again; an unread idle cursor is held
// for at most one sweep interval past its window.
type MemoryStore struct {
	opts    options
	entries sync.Map // uint64 -> *entry
	nextID  atomic.Uint64
	open    atomic.Int64

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

type entry struct {
	mu      sync.Mutex
	state   State
	removed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{opts: o}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, route *config.RouteConfig) (uint64, error) {
	if route == nil {
		return 0, fmt.Errorf("creating cursor: nil route")
	}
	id := s.nextID.Add(1)
	s.entries.Store(id, &entry{state: State{
		ID:         id,
		Route:      route,
		LastAccess: s.opts.now(),
	}})
	s.open.Add(1)
	return id, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uint64) (State, error) {
	e, ok := s.load(id)
	if !ok {
		return State{}, &NotFoundError{ID: id}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.opts.now()
	if e.removed || s.expireLocked(e, now) {
		return State{}, &NotFoundError{ID: id}
	}
	e.state.LastAccess = now
	return e.state, nil
}

// Advance implements Store.
func (s *MemoryStore) Advance(_ context.Context, id uint64, from, to int) error {
	e, ok := s.load(id)
	if !ok {
		return &NotFoundError{ID: id}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.opts.now()
	if e.removed || s.expireLocked(e, now) {
		return &NotFoundError{ID: id}
	}
	if to < from {
		return fmt.Errorf("%w: cursor %d, %d to %d", ErrBackwardAdvance, id, from, to)
	}
	if e.state.Position != from {
		return fmt.Errorf("%w: cursor %d at %d, expected %d", ErrPositionChanged, id, e.state.Position, from)
	}
	e.state.Position = to
	e.state.LastAccess = now
	return nil
}

// Evict implements Store.
func (s *MemoryStore) Evict(_ context.Context, id uint64) error {
	e, ok := s.load(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.removeLocked(e, ReasonExhausted)
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(context.Context) (int, error) {
	return int(s.open.Load()), nil
}

// Sweep removes every cursor whose idle window has elapsed and returns the
// number removed.
func (s *MemoryStore) Sweep() int {
	now := s.opts.now()
	removed := 0
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed && s.expireLocked(e, now) {
			removed++
		}
		e.mu.Unlock()
		return true
	})
	if removed > 0 {
		s.opts.log.Debug("swept idle cursors", "count", removed)
	}
	return removed
}

// StartSweeper runs Sweep every interval until Close is called. Calling it
// again while a sweeper is running has no effect.
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultCursorSweepInterval
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			}
		}
	}(s.sweepStop, s.sweepDone)
}

// Close stops the sweeper. Open cursors are kept.
func (s *MemoryStore) Close() error {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepStop != nil {
		close(s.sweepStop)
		<-s.sweepDone
		s.sweepStop, s.sweepDone = nil, nil
	}
	return nil
}

func (s *MemoryStore) load(id uint64) (*entry, bool) {
	v, ok := s.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// expireLocked removes e if its idle window has elapsed at now.
func (s *MemoryStore) expireLocked(e *entry, now time.Time) bool {
	if now.Sub(e.state.LastAccess) <= s.opts.idleTimeout {
		return false
	}
	s.removeLocked(e, ReasonIdle)
	return true
}

func (s *MemoryStore) removeLocked(e *entry, reason string) {
	if e.removed {
		return
	}
	e.removed = true
	s.entries.Delete(e.state.ID)
	s.open.Add(-1)
	s.opts.log.Debug("cursor evicted", "id", e.state.ID, "reason", reason)
	if s.opts.onEvict != nil {
		s.opts.onEvict(e.state.ID, reason)
	}
}
