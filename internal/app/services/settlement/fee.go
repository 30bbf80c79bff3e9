package settlement

import "github.com/R3E-Network/bridge_layer/internal/app/domain/policy"

// FeeStrategy computes the fee retained in the reserve for a gross release
// amount. Strategies read the current policy; they never mutate it.
type FeeStrategy interface {
	Fee(p policy.ReservePolicy, amount int64) int64
}

// ZeroFee disables fees entirely. Deployments without a fee programme run
// the same engine with this strategy.
type ZeroFee struct{}

func (ZeroFee) Fee(policy.ReservePolicy, int64) int64 { return 0 }

// BasisPointFee applies the policy's base and dynamic rates, each floored
// independently.
type BasisPointFee struct{}

func (BasisPointFee) Fee(p policy.ReservePolicy, amount int64) int64 {
	return p.Fee(amount)
}
