package flow

import (
	"math/big"

	"github.com/leverlabs/lever-cli/internal/engine/chunk"
	"github.com/leverlabs/lever-cli/internal/engine/feemath"
	"github.com/leverlabs/lever-cli/internal/engine/flashloan"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	"github.com/leverlabs/lever-cli/internal/engine/protocol"
)

// BuildCollateralSwap replaces the collateral under an open position:
// flash-borrow the replacement collateral sized to what the swap is
// guaranteed to produce, deposit it before anything else so the position
// never thins mid-flight, withdraw the old collateral, and swap it to
// settle the flash loan.
//
// The quote must be exact-input over the withdrawn collateral. With isMax
// the full old-collateral balance is withdrawn and any remainder the swap
// does not consume is swept back to the user.
func BuildCollateralSwap(req Request, quote Quote, plan flashloan.Plan, adapter protocol.Adapter) (*Result, error) {
	req.Operation = OperationCollateralSwap
	if req.Mode == "" {
		req.Mode = instruction.ModeMarket
	}
	if adapter == nil {
		return nil, nil
	}
	provider, ok, err := resolvePlan(req, quote, plan)
	if err != nil || !ok {
		return nil, err
	}
	if req.Mode == instruction.ModeProgressive {
		return collateralSwapChunks(req, quote, plan, provider, adapter)
	}
	if !quote.swapReady() {
		return nil, nil
	}
	return collateralSwapMarket(req, quote, plan, provider, adapter)
}

func collateralSwapMarket(req Request, quote Quote, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter) (*Result, error) {
	p := instruction.NewProgram(req.Mode.OutputBase())
	principalIdx, err := appendFlashDraw(p, plan, plan.TotalAmount)
	if err != nil {
		return nil, err
	}
	if _, err := adapter.DepositCollateral(p, req.BuyToken, instruction.OutputRef(principalIdx), req.User); err != nil {
		return nil, err
	}

	var withdrawnIdx int
	if req.IsMax {
		withdrawnIdx, err = adapter.WithdrawAllCollateral(p, req.SellToken, req.User, req.Router)
	} else {
		withdrawnIdx, err = adapter.WithdrawCollateral(p, req.SellToken, instruction.Literal(req.TargetAmount), req.Router)
	}
	if err != nil {
		return nil, err
	}

	repayment := chunk.Breakdown(plan.ChunkSizes[0], provider.FeeBps).Repayment
	boughtIdx, err := appendSwapLeg(p, req, quote, instruction.OutputRef(withdrawnIdx), repayment)
	if err != nil {
		return nil, err
	}
	push, err := instruction.PushToken(req.BuyToken, plan.LenderAddress, instruction.OutputRef(boughtIdx))
	if err != nil {
		return nil, err
	}
	if _, err := p.Append(push); err != nil {
		return nil, err
	}
	if req.IsMax {
		sweep, err := instruction.PushToken(req.SellToken, req.User, instruction.Sweep())
		if err != nil {
			return nil, err
		}
		if _, err := p.Append(sweep); err != nil {
			return nil, err
		}
	}

	return &Result{
		Operation:    OperationCollateralSwap,
		Mode:         req.Mode,
		Instructions: p.Instructions(),
		Shortfall:    feemath.Shortfall(repayment, quote.OutAmount),
	}, nil
}

func collateralSwapChunks(req Request, quote Quote, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter) (*Result, error) {
	oldChunks, err := chunk.Split(req.TargetAmount, plan.NumChunks)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, plan.NumChunks)
	for i, size := range plan.ChunkSizes {
		last := i == plan.NumChunks-1
		p := instruction.NewProgram(req.Mode.OutputBase())
		principalIdx, err := appendFlashDraw(p, plan, size)
		if err != nil {
			return nil, err
		}
		if _, err := adapter.DepositCollateral(p, req.BuyToken, instruction.OutputRef(principalIdx), req.User); err != nil {
			return nil, err
		}
		if req.IsMax && last {
			_, err = adapter.WithdrawAllCollateral(p, req.SellToken, req.User, req.Router)
		} else {
			_, err = adapter.WithdrawCollateral(p, req.SellToken, instruction.Literal(oldChunks[i]), req.Router)
		}
		if err != nil {
			return nil, err
		}
		preLen := p.Len()

		push, err := instruction.PushToken(req.BuyToken, req.Settlement, instruction.OutputRef(instruction.HarnessBoughtIndex))
		if err != nil {
			return nil, err
		}
		if _, err := p.Append(push); err != nil {
			return nil, err
		}
		if req.IsMax && last {
			sweep, err := instruction.PushToken(req.SellToken, req.User, instruction.Sweep())
			if err != nil {
				return nil, err
			}
			if _, err := p.Append(sweep); err != nil {
				return nil, err
			}
		}

		all := p.Instructions()
		chunks = append(chunks, Chunk{
			Pre:                           all[:preLen],
			Post:                          all[preLen:],
			FlashLoanRepaymentOutputIndex: instruction.HarnessBoughtIndex,
		})
	}

	return &Result{
		Operation: OperationCollateralSwap,
		Mode:      req.Mode,
		Chunks:    chunks,
		Shortfall: feemath.Shortfall(totalRepayment(plan, provider), quote.OutAmount),
	}, nil
}

// totalRepayment sums the exact per-chunk repayments, which is what the
// swap proceeds must cover across the whole progressive execution.
func totalRepayment(plan flashloan.Plan, provider flashloan.Provider) *big.Int {
	total := new(big.Int)
	for _, size := range plan.ChunkSizes {
		total.Add(total, chunk.Breakdown(size, provider.FeeBps).Repayment)
	}
	return total
}
