// Package settlement defines the audit event records emitted by the reserve
// engine. The feed is append-only; records are never mutated after emission.
package settlement

import "time"

// EventType identifies the operation that produced an event.
type EventType string

const (
	EventTransferReleased    EventType = "transfer.released"
	EventReserveReplenished  EventType = "reserve.replenished"
	EventReserveWithdrawn    EventType = "reserve.withdrawn"
	EventFeesUpdated         EventType = "fees.updated"
	EventLimitsUpdated       EventType = "limits.updated"
	EventThresholdsUpdated   EventType = "thresholds.updated"
	EventEngineHalted        EventType = "engine.halted"
	EventEngineResumed       EventType = "engine.resumed"
	EventRoleGranted         EventType = "role.granted"
	EventRoleRevoked         EventType = "role.revoked"
)

// Event is a single audit record. TransferID is the caller-supplied
// correlation token on release events; the engine does not deduplicate it, so
// a reused id correlates multiple distinct records.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// Actor is the authenticated identity that triggered the operation, empty
	// for automatic breaker transitions.
	Actor string `json:"actor,omitempty"`

	TransferID string `json:"transfer_id,omitempty"`
	Recipient  string `json:"recipient,omitempty"`

	// Role names the granted or revoked role on role events.
	Role string `json:"role,omitempty"`

	// Amount is the net amount moved for transfers, the gross amount for
	// replenish/withdraw, zero for policy and breaker events.
	Amount int64 `json:"amount,omitempty"`
	Fee    int64 `json:"fee,omitempty"`

	// NewReserve is the custodial balance observed after the operation, where
	// the operation moved value.
	NewReserve int64 `json:"new_reserve,omitempty"`

	// Detail carries operation-specific fields, e.g. updated policy values.
	Detail map[string]int64 `json:"detail,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
