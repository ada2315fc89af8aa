// Package feemath holds the integer fee, buffer, and slippage arithmetic
// shared by every flow builder. All functions operate on token smallest
// units and round the way the on-chain router rounds: fees and buffers
// round up (under-provisioning reverts on chain, surplus is refunded),
// slippage bounds floor-divide on the 10000 fixed-point scale.
package feemath

import (
	"math"
	"math/big"
)

const (
	// BpsScale is the fixed-point denominator shared with the router contracts.
	BpsScale = 10000
	// MinutesPerYear matches the contract's interest accrual window constant.
	MinutesPerYear = 525600
)

var bpsScale = big.NewInt(BpsScale)

// FlashLoanFee returns the lender fee on amount at feeBps, rounded up.
// The lender contract rounds its fee up, so the off-chain figure must
// never come in below it.
func FlashLoanFee(amount *big.Int, feeBps int64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || feeBps <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(feeBps))
	return ceilDiv(fee, bpsScale)
}

// InterestBufferBps converts an annual borrow rate (in basis points) into
// the extra basis points needed to cover interest accrued while an order
// waits up to executionMinutes to fill. The ceiling guarantees a one bp
// minimum for any non-zero accrual; a zero rate or zero window buffers
// nothing.
func InterestBufferBps(annualRateBps, executionMinutes int64) int64 {
	if annualRateBps <= 0 || executionMinutes <= 0 {
		return 0
	}
	product := new(big.Int).Mul(big.NewInt(annualRateBps), big.NewInt(executionMinutes))
	return ceilDiv(product, big.NewInt(MinutesPerYear)).Int64()
}

// BufferedAmount returns principal plus principal*bufferBps/10000, the
// buffer term floor-divided exactly as the contract computes it.
func BufferedAmount(principal *big.Int, bufferBps int64) *big.Int {
	if principal == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Set(principal)
	if bufferBps <= 0 {
		return out
	}
	term := new(big.Int).Mul(principal, big.NewInt(bufferBps))
	term.Quo(term, bpsScale)
	return out.Add(out, term)
}

// MinOut bounds a quoted swap output from below at slippageBps tolerance.
func MinOut(quoted *big.Int, slippageBps int64) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 {
		return big.NewInt(0)
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	if slippageBps >= BpsScale {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(quoted, big.NewInt(BpsScale-slippageBps))
	return out.Quo(out, bpsScale)
}

// MaxIn bounds a quoted swap input from above at slippageBps tolerance.
func MaxIn(quoted *big.Int, slippageBps int64) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 {
		return big.NewInt(0)
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	out := new(big.Int).Mul(quoted, big.NewInt(BpsScale+slippageBps))
	return out.Quo(out, bpsScale)
}

// QuoteShortfall reports a swap quote that cannot cover the amount a flow
// must repay. It is data for the caller to surface, not an error:
// submission stays disabled until a better quote or a higher slippage
// tolerance arrives.
type QuoteShortfall struct {
	Required *big.Int `json:"required"`
	Quoted   *big.Int `json:"quoted"`
	Ratio    float64  `json:"ratio"`
}

// Shortfall returns nil when quoted covers required.
func Shortfall(required, quoted *big.Int) *QuoteShortfall {
	if required == nil || quoted == nil {
		return nil
	}
	if quoted.Cmp(required) >= 0 {
		return nil
	}
	ratio := math.Inf(1)
	if quoted.Sign() > 0 {
		ratio, _ = new(big.Rat).SetFrac(required, quoted).Float64()
	}
	return &QuoteShortfall{
		Required: new(big.Int).Set(required),
		Quoted:   new(big.Int).Set(quoted),
		Ratio:    ratio,
	}
}

func ceilDiv(num, den *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}
