package coordinator

import (
	"errors"
	"sync"
	"time"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// ErrUnavailable is returned for a (student, domain) pair that has never
// fetched successfully. It is distinct from an empty snapshot, which is a
// successful fetch that returned nothing.
var ErrUnavailable = errors.New("domain has no successful snapshot yet")

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT STORE
// ══════════════════════════════════════════════════════════════════════════════

// domainState is the retained state of one (student, domain) pair. Exactly
// the previous and the current snapshot are kept; older generations are
// discarded on replacement.
type domainState struct {
	previous *snapshot.DomainSnapshot
	current  *snapshot.DomainSnapshot

	// changes is the diff computed when current replaced previous.
	changes []snapshot.ChangeRecord

	lastSuccess time.Time
	lastAttempt time.Time
	lastError   error
}

type stateKey struct {
	student student.ID
	domain  snapshot.Domain
}

// Store holds the two-generation snapshot window for every polled
// (student, domain) pair. All state is in memory; a restart starts from a
// clean baseline, which is deliberate: snapshots are cheap to refetch and a
// stale persisted baseline would report phantom changes.
type Store struct {
	mu     sync.RWMutex
	states map[stateKey]*domainState
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{states: make(map[stateKey]*domainState)}
}

// Replace installs a freshly fetched snapshot as the current one, shifting
// the old current to previous, and returns the diff between the two. The
// replacement is atomic under the store lock; readers never observe a torn
// pair. The first successful fetch establishes the baseline and reports no
// changes.
func (s *Store) Replace(snap snapshot.DomainSnapshot) []snapshot.ChangeRecord {
	key := stateKey{student: snap.Student, domain: snap.Domain}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.states[key]
	if state == nil {
		state = &domainState{}
		s.states[key] = state
	}

	var changes []snapshot.ChangeRecord
	if state.current != nil {
		changes = snapshot.Diff(*state.current, snap)
	}

	state.previous = state.current
	state.current = &snap
	state.changes = changes
	state.lastSuccess = snap.FetchedAt
	state.lastAttempt = snap.FetchedAt
	state.lastError = nil

	return changes
}

// RecordFailure notes a failed fetch for the pair. The retained snapshots
// stay untouched: stale data remains available, only the error bookkeeping
// moves.
func (s *Store) RecordFailure(id student.ID, domain snapshot.Domain, err error) {
	key := stateKey{student: id, domain: domain}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.states[key]
	if state == nil {
		state = &domainState{}
		s.states[key] = state
	}
	state.lastAttempt = time.Now()
	state.lastError = err
}

// Snapshot returns the current snapshot of the pair. ErrUnavailable means
// the pair never fetched successfully.
func (s *Store) Snapshot(id student.ID, domain snapshot.Domain) (snapshot.DomainSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.states[stateKey{student: id, domain: domain}]
	if state == nil || state.current == nil {
		return snapshot.DomainSnapshot{}, ErrUnavailable
	}
	return *state.current, nil
}

// Previous returns the snapshot the current one replaced, if any.
func (s *Store) Previous(id student.ID, domain snapshot.Domain) (snapshot.DomainSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.states[stateKey{student: id, domain: domain}]
	if state == nil || state.previous == nil {
		return snapshot.DomainSnapshot{}, false
	}
	return *state.previous, true
}

// Changes returns the diff computed at the last successful replacement.
func (s *Store) Changes(id student.ID, domain snapshot.Domain) []snapshot.ChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.states[stateKey{student: id, domain: domain}]
	if state == nil {
		return nil
	}
	out := make([]snapshot.ChangeRecord, len(state.changes))
	copy(out, state.changes)
	return out
}

// EntitySnapshot assembles the current snapshots of one student across the
// given domains under a single lock, so the result is a consistent view.
// Domains without a successful fetch are absent from the map.
func (s *Store) EntitySnapshot(id student.ID, domains []snapshot.Domain) snapshot.EntitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity := snapshot.EntitySnapshot{
		Student: id,
		Taken:   time.Now(),
		Domains: make(map[snapshot.Domain]snapshot.DomainSnapshot, len(domains)),
	}
	for _, domain := range domains {
		state := s.states[stateKey{student: id, domain: domain}]
		if state != nil && state.current != nil {
			entity.Domains[domain] = *state.current
		}
	}
	return entity
}

// DomainStatus describes the health of one (student, domain) pair.
type DomainStatus struct {
	Available   bool
	LastSuccess time.Time
	LastAttempt time.Time
	LastError   error
}

// Status returns the health of the pair. An unknown pair reports a zero
// status with Available false.
func (s *Store) Status(id student.ID, domain snapshot.Domain) DomainStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.states[stateKey{student: id, domain: domain}]
	if state == nil {
		return DomainStatus{}
	}
	return DomainStatus{
		Available:   state.current != nil,
		LastSuccess: state.lastSuccess,
		LastAttempt: state.lastAttempt,
		LastError:   state.lastError,
	}
}
