// Package settlement implements the reserve-backed transfer settlement
// engine: the state machine gatekeeping outbound releases against the live
// custodial reserve, the mutable reserve policy, and the circuit breaker
// tied to reserve health.
//
// Every mutating operation is serialized by a single mutex so each call
// observes a consistent (policy, halt state, reserve) snapshot and its
// effects are applied without interleaving. The reserve balance itself is
// never cached across calls; each decision re-reads it from the token
// collaborator.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/bridge_layer/internal/app/auth"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/policy"
	"github.com/R3E-Network/bridge_layer/internal/app/domain/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/metrics"
	"github.com/R3E-Network/bridge_layer/internal/app/storage"
	"github.com/R3E-Network/bridge_layer/pkg/logger"
)

// Token is the narrow interface to the fungible value token the engine moves
// value through. Outbound transfers originate from the engine's custodial
// account; TransferFrom pulls replenishment funds from an operator's account.
type Token interface {
	Transfer(ctx context.Context, to string, amount int64) (bool, error)
	TransferFrom(ctx context.Context, from, to string, amount int64) (bool, error)
	BalanceOf(ctx context.Context, holder string) (int64, error)
}

// Config collects the engine's collaborators and initial role assignments.
type Config struct {
	Token   Token
	Custody string

	Events   storage.EventStore
	Policies storage.PolicyStore // optional; policy updates survive restarts when set
	Roles    storage.RoleStore   // optional; runtime grants survive restarts when set

	// Fees defaults to BasisPointFee.
	Fees FeeStrategy

	// WithdrawRole designates which role may draw down the reserve. Defaults
	// to admin; deployments that want operators to manage treasury set it
	// explicitly.
	WithdrawRole auth.Role

	Admins    []string
	Operators []string

	Log *logger.Logger
}

// Service is the settlement engine instance.
type Service struct {
	mu sync.Mutex

	token   Token
	custody string

	events   storage.EventStore
	policies storage.PolicyStore
	roleSink storage.RoleStore

	roles        *auth.Registry
	fees         FeeStrategy
	withdrawRole auth.Role

	policy policy.ReservePolicy
	halted bool

	log *logger.Logger
}

// Release is the receipt returned for a successful release.
type Release struct {
	EventID     string    `json:"event_id"`
	TransferID  string    `json:"transfer_id"`
	Recipient   string    `json:"recipient"`
	GrossAmount int64     `json:"gross_amount"`
	FeeAmount   int64     `json:"fee_amount"`
	NetAmount   int64     `json:"net_amount"`
	NewReserve  int64     `json:"new_reserve"`
	Halted      bool      `json:"halted"`
	Timestamp   time.Time `json:"timestamp"`
}

// Status is the public reserve health snapshot.
type Status struct {
	CurrentReserve int64 `json:"current_reserve"`
	EffectiveMax   int64 `json:"effective_max_transfer_amount"`
	Active         bool  `json:"active"`
}

// New builds an engine. The token collaborator and event store are required;
// a persisted policy snapshot, when present and valid, overrides defaults.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Token == nil {
		return nil, fmt.Errorf("%w: token collaborator required", ErrInvalidConstruction)
	}
	if strings.TrimSpace(cfg.Custody) == "" {
		return nil, fmt.Errorf("%w: custody account required", ErrInvalidConstruction)
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("%w: event store required", ErrInvalidConstruction)
	}

	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("settlement")
	}

	fees := cfg.Fees
	if fees == nil {
		fees = BasisPointFee{}
	}

	withdrawRole := cfg.WithdrawRole
	if withdrawRole == "" {
		withdrawRole = auth.RoleAdmin
	}

	svc := &Service{
		token:        cfg.Token,
		custody:      strings.TrimSpace(cfg.Custody),
		events:       cfg.Events,
		policies:     cfg.Policies,
		roleSink:     cfg.Roles,
		roles:        auth.NewRegistry(),
		fees:         fees,
		withdrawRole: withdrawRole,
		policy:       policy.Default(),
		log:          log,
	}

	if cfg.Policies != nil {
		stored, found, err := cfg.Policies.LoadPolicy(ctx)
		if err != nil {
			return nil, fmt.Errorf("load policy snapshot: %w", err)
		}
		if found {
			if err := stored.Validate(); err != nil {
				log.WithError(err).Warn("persisted policy snapshot invalid; using defaults")
			} else {
				svc.policy = stored
			}
		}
	}

	if cfg.Roles != nil {
		stored, err := cfg.Roles.LoadAssignments(ctx)
		if err != nil {
			return nil, fmt.Errorf("load role assignments: %w", err)
		}
		svc.roles.Restore(stored)
	}
	for _, identity := range cfg.Admins {
		svc.roles.Grant(identity, auth.RoleAdmin)
	}
	for _, identity := range cfg.Operators {
		svc.roles.Grant(identity, auth.RoleOperator)
	}
	if len(svc.roles.Assignments()) == 0 {
		return nil, fmt.Errorf("%w: at least one admin identity required", ErrInvalidConstruction)
	}

	metrics.SetHalted(false)
	return svc, nil
}

// =============================================================================
// Settlement operations
// =============================================================================

// ReleaseTransfer releases netAmount = gross - fee from the reserve to the
// recipient, after an operator attested to an equivalent inbound transfer on
// the other domain. transferID is a caller-supplied correlation token; the
// engine does not deduplicate it, so a reused id yields a second, distinct
// audit event correlated to the same id.
func (s *Service) ReleaseTransfer(ctx context.Context, actor, transferID, recipient string, gross int64) (Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleOperator); err != nil {
		return Release{}, err
	}
	if s.halted {
		metrics.ObserveRelease("halted", 0, 0)
		return Release{}, ErrHalted
	}
	if strings.TrimSpace(recipient) == "" {
		return Release{}, ErrInvalidRecipient
	}
	if gross < s.policy.MinTransferAmount {
		metrics.ObserveRelease("rejected", 0, 0)
		return Release{}, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, gross, s.policy.MinTransferAmount)
	}

	preReserve, err := s.reserveLocked(ctx)
	if err != nil {
		return Release{}, err
	}
	if max := s.policy.EffectiveMax(preReserve); gross > max {
		metrics.ObserveRelease("rejected", 0, 0)
		return Release{}, fmt.Errorf("%w: %d > %d", ErrExceedsMaximum, gross, max)
	}
	if gross > preReserve {
		metrics.ObserveRelease("rejected", 0, 0)
		return Release{}, fmt.Errorf("%w: %d > %d", ErrInsufficientReserve, gross, preReserve)
	}

	fee := s.fees.Fee(s.policy, gross)
	net := gross - fee

	ok, err := s.token.Transfer(ctx, recipient, net)
	if err != nil {
		metrics.ObserveRelease("transfer_failed", 0, 0)
		return Release{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !ok {
		metrics.ObserveRelease("transfer_failed", 0, 0)
		return Release{}, ErrTransferFailed
	}

	// The pre-read value is stale now; re-read to decide halting.
	postReserve, err := s.reserveLocked(ctx)
	if err != nil {
		s.log.WithError(err).Warn("post-release reserve read failed; deriving from pre-release value")
		postReserve = preReserve - net
	}

	evt := s.emitLocked(ctx, settlement.Event{
		Type:       settlement.EventTransferReleased,
		Actor:      actor,
		TransferID: transferID,
		Recipient:  recipient,
		Amount:     net,
		Fee:        fee,
		NewReserve: postReserve,
	})

	if preReserve < s.policy.EmergencyThreshold || postReserve < s.policy.EmergencyThreshold {
		s.haltLocked(ctx, postReserve)
	}

	metrics.ObserveRelease("released", net, fee)
	return Release{
		EventID:     evt.ID,
		TransferID:  transferID,
		Recipient:   recipient,
		GrossAmount: gross,
		FeeAmount:   fee,
		NetAmount:   net,
		NewReserve:  postReserve,
		Halted:      s.halted,
		Timestamp:   evt.Timestamp,
	}, nil
}

// Replenish pulls amount from the operator's account into custody. Callable
// while halted; a replenishment that lifts the reserve back over the
// emergency threshold resumes the engine automatically.
func (s *Service) Replenish(ctx context.Context, actor string, amount int64) (settlement.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleOperator); err != nil {
		return settlement.Event{}, err
	}
	if amount <= 0 {
		return settlement.Event{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	ok, err := s.token.TransferFrom(ctx, actor, s.custody, amount)
	if err != nil {
		return settlement.Event{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !ok {
		return settlement.Event{}, ErrTransferFailed
	}

	newReserve, err := s.reserveLocked(ctx)
	if err != nil {
		return settlement.Event{}, err
	}

	if s.halted && newReserve >= s.policy.EmergencyThreshold {
		s.resumeLocked(ctx, "", newReserve)
	}

	return s.emitLocked(ctx, settlement.Event{
		Type:       settlement.EventReserveReplenished,
		Actor:      actor,
		Amount:     amount,
		NewReserve: newReserve,
	}), nil
}

// Withdraw draws amount out of the reserve to an external account. Gated on
// the configured treasury role. Callable while halted.
func (s *Service) Withdraw(ctx context.Context, actor, to string, amount int64) (settlement.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, s.withdrawRole); err != nil {
		return settlement.Event{}, err
	}
	if amount <= 0 {
		return settlement.Event{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if strings.TrimSpace(to) == "" {
		return settlement.Event{}, ErrInvalidRecipient
	}

	preReserve, err := s.reserveLocked(ctx)
	if err != nil {
		return settlement.Event{}, err
	}
	if amount > preReserve {
		return settlement.Event{}, fmt.Errorf("%w: %d > %d", ErrInsufficientReserve, amount, preReserve)
	}

	ok, err := s.token.Transfer(ctx, to, amount)
	if err != nil {
		return settlement.Event{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !ok {
		return settlement.Event{}, ErrTransferFailed
	}

	newReserve, err := s.reserveLocked(ctx)
	if err != nil {
		s.log.WithError(err).Warn("post-withdraw reserve read failed; deriving from pre-withdraw value")
		newReserve = preReserve - amount
	}

	evt := s.emitLocked(ctx, settlement.Event{
		Type:       settlement.EventReserveWithdrawn,
		Actor:      actor,
		Recipient:  to,
		Amount:     amount,
		NewReserve: newReserve,
	})

	if preReserve < s.policy.EmergencyThreshold || newReserve < s.policy.EmergencyThreshold {
		s.haltLocked(ctx, newReserve)
	}

	return evt, nil
}

// =============================================================================
// Breaker controls
// =============================================================================

// Pause opens the circuit breaker explicitly.
func (s *Service) Pause(ctx context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if s.halted {
		return nil
	}
	s.halted = true
	metrics.SetHalted(true)
	s.log.WithField("actor", actor).Warn("engine paused")
	s.emitLocked(ctx, settlement.Event{Type: settlement.EventEngineHalted, Actor: actor})
	return nil
}

// Unpause closes the breaker. Manual resume cannot override the safety
// floor: it fails unless the live reserve clears the emergency threshold.
func (s *Service) Unpause(ctx context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if !s.halted {
		return nil
	}

	reserve, err := s.reserveLocked(ctx)
	if err != nil {
		return err
	}
	if reserve < s.policy.EmergencyThreshold {
		return fmt.Errorf("%w: %d < %d", ErrBelowEmergencyThreshold, reserve, s.policy.EmergencyThreshold)
	}
	s.resumeLocked(ctx, actor, reserve)
	return nil
}

// =============================================================================
// Policy updates
// =============================================================================

// UpdateFees replaces both fee rates atomically.
func (s *Service) UpdateFees(ctx context.Context, actor string, baseBps, dynamicBps int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if err := policy.ValidateFees(baseBps, dynamicBps); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	s.policy.BaseFeeBps = baseBps
	s.policy.DynamicFeeBps = dynamicBps
	s.emitLocked(ctx, settlement.Event{
		Type:  settlement.EventFeesUpdated,
		Actor: actor,
		Detail: map[string]int64{
			"base_fee_bps":    baseBps,
			"dynamic_fee_bps": dynamicBps,
		},
	})
	s.persistPolicyLocked(ctx)
	return nil
}

// UpdateTransferLimits replaces both transfer bounds atomically.
func (s *Service) UpdateTransferLimits(ctx context.Context, actor string, min, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if err := policy.ValidateLimits(min, max); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	s.policy.MinTransferAmount = min
	s.policy.MaxTransferAmount = max
	s.emitLocked(ctx, settlement.Event{
		Type:  settlement.EventLimitsUpdated,
		Actor: actor,
		Detail: map[string]int64{
			"min_transfer_amount": min,
			"max_transfer_amount": max,
		},
	})
	s.persistPolicyLocked(ctx)
	return nil
}

// UpdateReserveThresholds replaces all three reserve thresholds atomically.
func (s *Service) UpdateReserveThresholds(ctx context.Context, actor string, reserveThreshold, lowReserveMax, emergencyThreshold int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if err := policy.ValidateThresholds(reserveThreshold, lowReserveMax, emergencyThreshold, s.policy.MaxTransferAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	s.policy.ReserveThreshold = reserveThreshold
	s.policy.LowReserveMaxAmount = lowReserveMax
	s.policy.EmergencyThreshold = emergencyThreshold
	s.emitLocked(ctx, settlement.Event{
		Type:  settlement.EventThresholdsUpdated,
		Actor: actor,
		Detail: map[string]int64{
			"reserve_threshold":      reserveThreshold,
			"low_reserve_max_amount": lowReserveMax,
			"emergency_threshold":    emergencyThreshold,
		},
	})
	s.persistPolicyLocked(ctx)
	return nil
}

// =============================================================================
// Role management
// =============================================================================

// GrantRole grants a role. Granting a role already held is a no-op.
func (s *Service) GrantRole(ctx context.Context, actor, identity string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if strings.TrimSpace(identity) == "" {
		return ErrInvalidRecipient
	}
	if s.roles.Grant(identity, role) {
		s.emitLocked(ctx, settlement.Event{
			Type:      settlement.EventRoleGranted,
			Actor:     actor,
			Recipient: identity,
			Role:      string(role),
		})
		s.persistRolesLocked(ctx)
	}
	return nil
}

// RevokeRole revokes a role. Revoking a role not held is a no-op.
func (s *Service) RevokeRole(ctx context.Context, actor, identity string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roles.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if s.roles.Revoke(identity, role) {
		s.emitLocked(ctx, settlement.Event{
			Type:      settlement.EventRoleRevoked,
			Actor:     actor,
			Recipient: identity,
			Role:      string(role),
		})
		s.persistRolesLocked(ctx)
	}
	return nil
}

// HasRole reports role membership.
func (s *Service) HasRole(identity string, role auth.Role) bool {
	return s.roles.Has(identity, role)
}

// =============================================================================
// Queries
// =============================================================================

// CalculateFee quotes the fee for a gross amount under the current policy.
func (s *Service) CalculateFee(amount int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fees.Fee(s.policy, amount)
}

// EffectiveMaxTransferAmount returns the currently applicable per-transfer
// ceiling, reduced when the live reserve is under the reserve threshold.
func (s *Service) EffectiveMaxTransferAmount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reserve, err := s.reserveLocked(ctx)
	if err != nil {
		return 0, err
	}
	return s.policy.EffectiveMax(reserve), nil
}

// ReserveStatus reports the live reserve, effective ceiling and breaker
// state.
func (s *Service) ReserveStatus(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reserve, err := s.reserveLocked(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		CurrentReserve: reserve,
		EffectiveMax:   s.policy.EffectiveMax(reserve),
		Active:         !s.halted,
	}, nil
}

// CurrentReserveAmount reads the live custodial balance.
func (s *Service) CurrentReserveAmount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(ctx)
}

// Policy returns a snapshot of the current reserve policy.
func (s *Service) Policy() policy.ReservePolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Halted reports the breaker state.
func (s *Service) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// =============================================================================
// Internals (callers hold s.mu)
// =============================================================================

func (s *Service) reserveLocked(ctx context.Context) (int64, error) {
	balance, err := s.token.BalanceOf(ctx, s.custody)
	if err != nil {
		return 0, fmt.Errorf("read reserve: %w", err)
	}
	metrics.SetReserve(balance)
	return balance, nil
}

// emitLocked appends an audit event. Emission is best-effort once value has
// moved: a store failure is logged, never propagated, because the transfer
// cannot be rolled back.
func (s *Service) emitLocked(ctx context.Context, evt settlement.Event) settlement.Event {
	evt.Timestamp = time.Now().UTC()
	stored, err := s.events.AppendEvent(ctx, evt)
	if err != nil {
		s.log.WithError(err).WithField("type", string(evt.Type)).Error("append audit event failed")
		return evt
	}
	return stored
}

func (s *Service) haltLocked(ctx context.Context, reserve int64) {
	if s.halted {
		return
	}
	s.halted = true
	metrics.SetHalted(true)
	s.log.WithFields(map[string]any{
		"reserve":             reserve,
		"emergency_threshold": s.policy.EmergencyThreshold,
	}).Warn("reserve under emergency threshold; engine halted")
	s.emitLocked(ctx, settlement.Event{
		Type:       settlement.EventEngineHalted,
		NewReserve: reserve,
	})
}

func (s *Service) resumeLocked(ctx context.Context, actor string, reserve int64) {
	s.halted = false
	metrics.SetHalted(false)
	s.log.WithField("reserve", reserve).Info("reserve recovered; engine resumed")
	s.emitLocked(ctx, settlement.Event{
		Type:       settlement.EventEngineResumed,
		Actor:      actor,
		NewReserve: reserve,
	})
}

func (s *Service) persistPolicyLocked(ctx context.Context) {
	if s.policies == nil {
		return
	}
	if err := s.policies.SavePolicy(ctx, s.policy); err != nil {
		s.log.WithError(err).Warn("persist policy snapshot failed")
	}
}

func (s *Service) persistRolesLocked(ctx context.Context) {
	if s.roleSink == nil {
		return
	}
	if err := s.roleSink.SaveAssignments(ctx, s.roles.Assignments()); err != nil {
		s.log.WithError(err).Warn("persist role assignments failed")
	}
}
