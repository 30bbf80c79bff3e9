// Package storage defines the persistence interfaces for the bridge layer.
// Implementations live in the memory and postgres subpackages; nil stores
// default to the in-memory implementation at application wiring.
package storage

import (
	"context"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/policy"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/settlement"
)

// EventStore persists the append-only settlement event feed.
type EventStore interface {
	AppendEvent(ctx context.Context, evt settlement.Event) (settlement.Event, error)
	// ListEvents returns the most recent events, newest first. limit <= 0
	// means no limit.
	ListEvents(ctx context.Context, limit int) ([]settlement.Event, error)
	ListEventsByType(ctx context.Context, typ settlement.EventType, limit int) ([]settlement.Event, error)
}

// PolicyStore persists the reserve policy snapshot so parameter updates
// survive restarts.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p policy.ReservePolicy) error
	// LoadPolicy returns the stored snapshot; found is false when none was
	// ever saved.
	LoadPolicy(ctx context.Context) (p policy.ReservePolicy, found bool, err error)
}

// RoleStore persists role assignments granted at runtime.
type RoleStore interface {
	SaveAssignments(ctx context.Context, assignments []auth.Assignment) error
	LoadAssignments(ctx context.Context) ([]auth.Assignment, error)
}
