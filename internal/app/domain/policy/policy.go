// Package policy defines the mutable reserve policy governing outbound
// releases: fee rates, per-transfer limits and reserve safety thresholds.
package policy

import "fmt"

const (
	// BpsDenominator is the basis point scaling factor for fee math.
	BpsDenominator = 10_000
	// MaxFeeBps caps the combined base and dynamic fee rate (5%).
	MaxFeeBps = 500
)

// Default policy parameters applied at engine construction. Amounts are in
// base token units.
const (
	DefaultBaseFeeBps          = 100
	DefaultDynamicFeeBps       = 50
	DefaultMinTransferAmount   = 10_000
	DefaultMaxTransferAmount   = 10_000_000
	DefaultReserveThreshold    = 1_000_000
	DefaultLowReserveMaxAmount = 100_000
	DefaultEmergencyThreshold  = 100_000
)

// ReservePolicy is the single policy instance read by every transfer and
// written only through privileged updates. All fields are base token units
// except the fee rates, which are basis points.
type ReservePolicy struct {
	BaseFeeBps    int64 `json:"base_fee_bps"`
	DynamicFeeBps int64 `json:"dynamic_fee_bps"`

	MinTransferAmount int64 `json:"min_transfer_amount"`
	MaxTransferAmount int64 `json:"max_transfer_amount"`

	// ReserveThreshold is the reserve level below which the effective max
	// transfer amount drops to LowReserveMaxAmount.
	ReserveThreshold    int64 `json:"reserve_threshold"`
	LowReserveMaxAmount int64 `json:"low_reserve_max_amount"`

	// EmergencyThreshold is the reserve level below which the engine halts.
	EmergencyThreshold int64 `json:"emergency_threshold"`
}

// Default returns the policy applied when no persisted snapshot exists.
func Default() ReservePolicy {
	return ReservePolicy{
		BaseFeeBps:          DefaultBaseFeeBps,
		DynamicFeeBps:       DefaultDynamicFeeBps,
		MinTransferAmount:   DefaultMinTransferAmount,
		MaxTransferAmount:   DefaultMaxTransferAmount,
		ReserveThreshold:    DefaultReserveThreshold,
		LowReserveMaxAmount: DefaultLowReserveMaxAmount,
		EmergencyThreshold:  DefaultEmergencyThreshold,
	}
}

// ValidateFees checks a fee rate update against the combined ceiling.
func ValidateFees(baseBps, dynamicBps int64) error {
	if baseBps < 0 || dynamicBps < 0 {
		return fmt.Errorf("fee rates must be non-negative")
	}
	if baseBps+dynamicBps > MaxFeeBps {
		return fmt.Errorf("combined fee rate %d bps exceeds ceiling %d bps", baseBps+dynamicBps, MaxFeeBps)
	}
	return nil
}

// ValidateLimits checks a transfer limit update.
func ValidateLimits(min, max int64) error {
	if min <= 0 {
		return fmt.Errorf("minimum transfer amount must be positive")
	}
	if max < min {
		return fmt.Errorf("maximum transfer amount %d below minimum %d", max, min)
	}
	return nil
}

// ValidateThresholds checks a threshold update. maxTransfer is the currently
// configured maximum transfer amount, which bounds the low-reserve ceiling.
func ValidateThresholds(reserveThreshold, lowReserveMax, emergencyThreshold, maxTransfer int64) error {
	if emergencyThreshold <= 0 {
		return fmt.Errorf("emergency threshold must be positive")
	}
	if reserveThreshold < emergencyThreshold {
		return fmt.Errorf("reserve threshold %d below emergency threshold %d", reserveThreshold, emergencyThreshold)
	}
	if lowReserveMax > maxTransfer {
		return fmt.Errorf("low-reserve ceiling %d above maximum transfer amount %d", lowReserveMax, maxTransfer)
	}
	return nil
}

// Validate checks the policy as a whole. Used when loading a persisted
// snapshot.
func (p ReservePolicy) Validate() error {
	if err := ValidateFees(p.BaseFeeBps, p.DynamicFeeBps); err != nil {
		return err
	}
	if err := ValidateLimits(p.MinTransferAmount, p.MaxTransferAmount); err != nil {
		return err
	}
	return ValidateThresholds(p.ReserveThreshold, p.LowReserveMaxAmount, p.EmergencyThreshold, p.MaxTransferAmount)
}

// Fee computes the fee for a gross amount. Both terms are floored
// independently; collapsing them into a single combined rate changes the
// rounding and therefore the settled amounts.
func (p ReservePolicy) Fee(amount int64) int64 {
	base := amount * p.BaseFeeBps / BpsDenominator
	dynamic := amount * p.DynamicFeeBps / BpsDenominator
	return base + dynamic
}

// EffectiveMax returns the per-transfer ceiling applicable at the given
// reserve level.
func (p ReservePolicy) EffectiveMax(reserve int64) int64 {
	if reserve < p.ReserveThreshold {
		return p.LowReserveMaxAmount
	}
	return p.MaxTransferAmount
}
