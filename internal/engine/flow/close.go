package flow

import (
	"math/big"

	"github.com/leverlabs/lever-cli/internal/engine/chunk"
	"github.com/leverlabs/lever-cli/internal/engine/feemath"
	"github.com/leverlabs/lever-cli/internal/engine/flashloan"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	"github.com/leverlabs/lever-cli/internal/engine/protocol"
)

// BuildClosePosition unwinds a position: flash-borrow the debt asset
// inflated by the interest buffer, repay, withdraw the collateral backing
// the repaid debt, and swap just enough of it to settle the flash loan.
// Collateral the swap does not consume is always swept back to the user;
// with isMax the repay sweeps the whole debt and its refund follows.
//
// TargetAmount is the debt principal to repay. The quote must be
// exact-output over the flash repayment, selling collateral; its InAmount
// sizes the collateral withdrawal for partial closes.
func BuildClosePosition(req Request, quote Quote, plan flashloan.Plan, adapter protocol.Adapter) (*Result, error) {
	req.Operation = OperationClose
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
	// Partial closes withdraw a computed amount of collateral; only a
	// full close can lean on the adapter's withdraw-everything path.
	needsInAmount := !req.IsMax || plan.NumChunks > 1
	if needsInAmount && (quote.InAmount == nil || quote.InAmount.Sign() <= 0) {
		return nil, nil
	}
	if req.Mode == instruction.ModeProgressive {
		return closeChunks(req, quote, plan, provider, adapter)
	}
	if !quote.swapReady() {
		return nil, nil
	}
	return closeMarket(req, quote, plan, provider, adapter)
}

func closeMarket(req Request, quote Quote, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter) (*Result, error) {
	p := instruction.NewProgram(req.Mode.OutputBase())
	principalIdx, err := appendFlashDraw(p, plan, plan.TotalAmount)
	if err != nil {
		return nil, err
	}

	repaySrc := instruction.OutputRef(principalIdx)
	if req.IsMax {
		repaySrc = instruction.Sweep()
	}
	refundIdx, err := adapter.Repay(p, req.BuyToken, repaySrc, req.User)
	if err != nil {
		return nil, err
	}

	var withdrawnIdx int
	if req.IsMax {
		withdrawnIdx, err = adapter.WithdrawAllCollateral(p, req.SellToken, req.User, req.Router)
	} else {
		withdrawAmount := feemath.MaxIn(quote.InAmount, req.SlippageBps)
		withdrawnIdx, err = adapter.WithdrawCollateral(p, req.SellToken, instruction.Literal(withdrawAmount), req.Router)
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
		refund, err := instruction.PushToken(req.BuyToken, req.User, instruction.OutputRef(refundIdx))
		if err != nil {
			return nil, err
		}
		if _, err := p.Append(refund); err != nil {
			return nil, err
		}
	}
	sweep, err := instruction.PushToken(req.SellToken, req.User, instruction.Sweep())
	if err != nil {
		return nil, err
	}
	if _, err := p.Append(sweep); err != nil {
		return nil, err
	}

	return &Result{
		Operation:    OperationClose,
		Mode:         req.Mode,
		Instructions: p.Instructions(),
		Shortfall:    feemath.Shortfall(repayment, quote.OutAmount),
	}, nil
}

func closeChunks(req Request, quote Quote, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter) (*Result, error) {
	var collateralChunks []*big.Int
	if !req.IsMax || plan.NumChunks > 1 {
		var err error
		collateralChunks, err = chunk.Split(feemath.MaxIn(quote.InAmount, req.SlippageBps), plan.NumChunks)
		if err != nil {
			return nil, err
		}
	}

	chunks := make([]Chunk, 0, plan.NumChunks)
	for i, size := range plan.ChunkSizes {
		last := i == plan.NumChunks-1
		p := instruction.NewProgram(req.Mode.OutputBase())
		principalIdx, err := appendFlashDraw(p, plan, size)
		if err != nil {
			return nil, err
		}

		repaySrc := instruction.OutputRef(principalIdx)
		if req.IsMax {
			repaySrc = instruction.Sweep()
		}
		refundIdx, err := adapter.Repay(p, req.BuyToken, repaySrc, req.User)
		if err != nil {
			return nil, err
		}
		if req.IsMax && last {
			_, err = adapter.WithdrawAllCollateral(p, req.SellToken, req.User, req.Router)
		} else {
			_, err = adapter.WithdrawCollateral(p, req.SellToken, instruction.Literal(collateralChunks[i]), req.Router)
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
		if req.IsMax {
			refund, err := instruction.PushToken(req.BuyToken, req.User, instruction.OutputRef(refundIdx))
			if err != nil {
				return nil, err
			}
			if _, err := p.Append(refund); err != nil {
				return nil, err
			}
		}
		sweep, err := instruction.PushToken(req.SellToken, req.User, instruction.Sweep())
		if err != nil {
			return nil, err
		}
		if _, err := p.Append(sweep); err != nil {
			return nil, err
		}

		all := p.Instructions()
		chunks = append(chunks, Chunk{
			Pre:                           all[:preLen],
			Post:                          all[preLen:],
			FlashLoanRepaymentOutputIndex: instruction.HarnessBoughtIndex,
		})
	}

	return &Result{
		Operation: OperationClose,
		Mode:      req.Mode,
		Chunks:    chunks,
		Shortfall: feemath.Shortfall(totalRepayment(plan, provider), quote.OutAmount),
	}, nil
}
