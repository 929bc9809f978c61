// README: In-memory keyed ride store with per-ride locking.
package ride

import (
	"sync"

	"dispatch/internal/types"
)

// entry pairs a ride record with its own mutex so that mutations on one
// ride never serialize mutations on another. The entry lock covers the
// whole read-validate-write cycle: concurrent readers never see a
// half-written snapshot.
type entry struct {
	mu   sync.Mutex
	ride Ride
}

// Store is the authoritative mapping from ride id to ride record. The
// store-level lock guards only map lookup and insert; per-ride work
// happens under the entry lock.
type Store struct {
	mu    sync.RWMutex
	rides map[types.ID]*entry
}

func NewStore() *Store {
	return &Store{}
}

// ensure lazily creates the map. Guarded by s.mu so that concurrent
// first access initializes exactly once.
func (s *Store) ensure() {
	if s.rides == nil {
		s.rides = make(map[types.ID]*entry)
	}
}

// Put inserts a new ride. Fails with ErrExists if the id is taken.
func (s *Store) Put(r Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure()
	if _, ok := s.rides[r.ID]; ok {
		return ErrExists
	}
	s.rides[r.ID] = &entry{ride: r.clone()}
	return nil
}

// Snapshot returns a deep copy of the current record.
func (s *Store) Snapshot(id types.ID) (Ride, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Ride{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ride.clone(), nil
}

// Update runs fn on the authoritative record under the ride's lock. fn
// sees the current state and may mutate it in place; returning an error
// aborts the update and leaves the record untouched. On success Update
// returns a deep copy of the new state, for use outside the lock.
//
// fn must not block on I/O: event publication, archiving, and any other
// slow work belong after Update returns.
func (s *Store) Update(id types.ID, fn func(*Ride) error) (Ride, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Ride{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	working := e.ride.clone()
	if err := fn(&working); err != nil {
		return Ride{}, err
	}
	e.ride = working
	return working.clone(), nil
}

func (s *Store) lookup(id types.ID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.rides[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}
