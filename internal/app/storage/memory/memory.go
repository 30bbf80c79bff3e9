// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/policy"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/storage"
)

// Store is the in-memory implementation of all storage interfaces.
type Store struct {
	mu          sync.RWMutex
	events      []settlement.Event
	policy      policy.ReservePolicy
	policySaved bool
	assignments []auth.Assignment
}

var _ storage.EventStore = (*Store)(nil)
var _ storage.PolicyStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// EventStore implementation ---------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, evt settlement.Event) (settlement.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Detail = cloneDetail(evt.Detail)
	s.events = append(s.events, evt)
	return cloneEvent(evt), nil
}

func (s *Store) ListEvents(_ context.Context, limit int) ([]settlement.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(settlement.Event) bool { return true }), nil
}

func (s *Store) ListEventsByType(_ context.Context, typ settlement.EventType, limit int) ([]settlement.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(evt settlement.Event) bool { return evt.Type == typ }), nil
}

// collect walks events newest first. Callers hold the lock.
func (s *Store) collect(limit int, match func(settlement.Event) bool) []settlement.Event {
	var out []settlement.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if !match(s.events[i]) {
			continue
		}
		out = append(out, cloneEvent(s.events[i]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// PolicyStore implementation --------------------------------------------------

func (s *Store) SavePolicy(_ context.Context, p policy.ReservePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
	s.policySaved = true
	return nil
}

func (s *Store) LoadPolicy(_ context.Context) (policy.ReservePolicy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy, s.policySaved, nil
}

// RoleStore implementation ----------------------------------------------------

func (s *Store) SaveAssignments(_ context.Context, assignments []auth.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = make([]auth.Assignment, len(assignments))
	copy(s.assignments, assignments)
	return nil
}

func (s *Store) LoadAssignments(_ context.Context) ([]auth.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Assignment, len(s.assignments))
	copy(out, s.assignments)
	return out, nil
}

func cloneEvent(evt settlement.Event) settlement.Event {
	evt.Detail = cloneDetail(evt.Detail)
	return evt
}

func cloneDetail(detail map[string]int64) map[string]int64 {
	if detail == nil {
		return nil
	}
	out := make(map[string]int64, len(detail))
	for k, v := range detail {
		out[k] = v
	}
	return out
}
