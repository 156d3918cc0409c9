package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/vjranagit/tsviz/pkg/types"
)

// EventKind identifies the mutation that produced an Event
type EventKind int

const (
	Upserted EventKind = iota
	Removed
	Edited
	Toggled
	Restored
)

func (k EventKind) String() string {
	switch k {
	case Upserted:
		return "upserted"
	case Removed:
		return "removed"
	case Edited:
		return "edited"
	case Toggled:
		return "toggled"
	case Restored:
		return "restored"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to subscribers after every mutation
type Event struct {
	Kind     EventKind
	SeriesID string
	Revision uint64
}

// Persistent reports whether the change has to survive a reload.
func (e Event) Persistent() bool {
	return e.Kind != Toggled
}

// Store holds the uploaded series in insertion order
type Store struct {
	mu       sync.RWMutex
	order    []string
	series   map[string]*types.Series
	revision uint64

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

// New creates an empty store
func New() *Store {
	return &Store{
		series: make(map[string]*types.Series),
		subs:   make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every subsequent mutation. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify runs subscribers in registration order. Must not hold s.mu.
func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Upsert inserts a series or replaces the one with the same ID in place.
func (s *Store) Upsert(series types.Series) {
	s.mu.Lock()
	cp := series.Clone()
	if _, exists := s.series[series.ID]; !exists {
		s.order = append(s.order, series.ID)
	}
	s.series[series.ID] = &cp
	rev := s.bumpLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: Upserted, SeriesID: series.ID, Revision: rev})
}

// Restore loads series without treating them as user edits. Used at startup.
func (s *Store) Restore(series []types.Series) {
	s.mu.Lock()
	for _, sr := range series {
		cp := sr.Clone()
		if _, exists := s.series[sr.ID]; !exists {
			s.order = append(s.order, sr.ID)
		}
		s.series[sr.ID] = &cp
	}
	rev := s.bumpLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: Restored, Revision: rev})
}

// Remove deletes a series. Removing an unknown ID is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	if _, exists := s.series[id]; !exists {
		s.mu.Unlock()
		return
	}
	delete(s.series, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	rev := s.bumpLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: Removed, SeriesID: id, Revision: rev})
}

// SetEnabled toggles inclusion of a series in the chart view
func (s *Store) SetEnabled(id string, enabled bool) error {
	return s.mutate(id, Toggled, func(sr *types.Series) error {
		sr.Enabled = enabled
		return nil
	})
}

// Rename sets the display name. An empty name falls back to the ID.
func (s *Store) Rename(id, name string) error {
	return s.mutate(id, Edited, func(sr *types.Series) error {
		if name == "" {
			name = sr.ID
		}
		sr.Name = name
		return nil
	})
}

// Recolor sets the display color, which must be a #rrggbb hex string.
func (s *Store) Recolor(id, color string) error {
	c, err := colorful.Hex(color)
	if err != nil {
		return fmt.Errorf("%w: %q", types.ErrInvalidColor, color)
	}
	return s.mutate(id, Edited, func(sr *types.Series) error {
		sr.Color = c.Hex()
		return nil
	})
}

func (s *Store) mutate(id string, kind EventKind, fn func(*types.Series) error) error {
	s.mu.Lock()
	sr, ok := s.series[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrSeriesNotFound, id)
	}
	if err := fn(sr); err != nil {
		s.mu.Unlock()
		return err
	}
	rev := s.bumpLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: kind, SeriesID: id, Revision: rev})
	return nil
}

// Get returns a copy of the series with the given ID
func (s *Store) Get(id string) (types.Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[id]
	if !ok {
		return types.Series{}, false
	}
	return sr.Clone(), true
}

// List returns copies of all series in insertion order
func (s *Store) List() []types.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Series, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.series[id].Clone())
	}
	return out
}

// Enabled returns copies of the enabled series in insertion order
func (s *Store) Enabled() []types.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Series, 0, len(s.order))
	for _, id := range s.order {
		if sr := s.series[id]; sr.Enabled {
			out = append(out, sr.Clone())
		}
	}
	return out
}

// Len returns the number of series
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Revision increases on every mutation
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *Store) bumpLocked() uint64 {
	s.revision++
	return s.revision
}
