// Package state tracks the observed runtime state of every service in a run.
//
// The Store has exactly one writer, the lifecycle orchestrator; status
// queries read concurrently. Snapshots are deep copies so readers never
// observe a torn write.
package state

import (
	"sync"
	"time"
)

// RuntimeState is the mutable per-service record.
type RuntimeState struct {
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastProbe    string    `json:"last_probe,omitempty"`
	RestartCount int       `json:"restart_count"`
	Degraded     bool      `json:"degraded,omitempty"`
	Err          string    `json:"error,omitempty"`
}

// Entry pairs a service name with its state for ordered snapshots.
type Entry struct {
	Service string       `json:"service"`
	State   RuntimeState `json:"state"`
}

// Store is created at run start and discarded at run end.
type Store struct {
	mu    sync.RWMutex
	order []string
	bySvc map[string]RuntimeState
}

// NewStore seeds every named service as Pending, preserving order for
// Snapshot output.
func NewStore(services []string) *Store {
	s := &Store{
		order: append([]string(nil), services...),
		bySvc: make(map[string]RuntimeState, len(services)),
	}
	for _, name := range services {
		s.bySvc[name] = RuntimeState{Status: StatusPending}
	}
	return s
}

// Get returns the current state for a service. The bool is false for
// unknown services.
func (s *Store) Get(name string) (RuntimeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.bySvc[name]
	return rs, ok
}

// Set replaces the state for a service. Unknown names are appended, keeping
// Snapshot ordering stable for the rest.
func (s *Store) Set(name string, rs RuntimeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySvc[name]; !ok {
		s.order = append(s.order, name)
	}
	s.bySvc[name] = rs
}

// Update applies fn to the current state of a service and stores the result.
// It exists so orchestrator steps can adjust one field without racing their
// own earlier writes.
func (s *Store) Update(name string, fn func(RuntimeState) RuntimeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySvc[name]; !ok {
		s.order = append(s.order, name)
	}
	s.bySvc[name] = fn(s.bySvc[name])
}

// Snapshot returns every service's state in declaration order.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, Entry{Service: name, State: s.bySvc[name]})
	}
	return out
}
