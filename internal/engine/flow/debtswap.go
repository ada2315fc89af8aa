package flow

import (
	"math/big"

	"github.com/leverlabs/lever-cli/internal/engine/chunk"
	"github.com/leverlabs/lever-cli/internal/engine/feemath"
	"github.com/leverlabs/lever-cli/internal/engine/flashloan"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	"github.com/leverlabs/lever-cli/internal/engine/protocol"
)

// BuildDebtSwap moves debt from one asset to another without touching
// collateral: flash-borrow the new debt asset, swap it for the old debt
// plus the interest it accrues while the operation executes, repay the
// old debt, and borrow the flash repayment in the new asset.
//
// The quote must be exact-output over RequiredBuyAmount(req). With isMax
// the repay sweeps the full outstanding debt and the refund is pushed
// back to the user.
func BuildDebtSwap(req Request, quote Quote, plan flashloan.Plan, adapter protocol.Adapter) (*Result, error) {
	req.Operation = OperationDebtSwap
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
	if quote.OutAmount == nil || quote.OutAmount.Sign() <= 0 {
		return nil, nil
	}
	required := RequiredBuyAmount(req)
	shortfall := feemath.Shortfall(required, quote.OutAmount)
	if req.Mode == instruction.ModeProgressive {
		return debtSwapChunks(req, plan, provider, adapter, shortfall)
	}
	if !quote.swapReady() {
		return nil, nil
	}
	return debtSwapMarket(req, quote, plan, provider, adapter, required, shortfall)
}

func debtSwapMarket(req Request, quote Quote, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter, required *big.Int, shortfall *feemath.QuoteShortfall) (*Result, error) {
	p := instruction.NewProgram(req.Mode.OutputBase())
	principalIdx, err := appendFlashDraw(p, plan, plan.TotalAmount)
	if err != nil {
		return nil, err
	}
	boughtIdx, err := appendSwapLeg(p, req, quote, instruction.OutputRef(principalIdx), required)
	if err != nil {
		return nil, err
	}

	repaySrc := instruction.OutputRef(boughtIdx)
	if req.IsMax {
		repaySrc = instruction.Sweep()
	}
	refundIdx, err := adapter.Repay(p, req.BuyToken, repaySrc, req.User)
	if err != nil {
		return nil, err
	}

	repayment := chunk.Breakdown(plan.ChunkSizes[0], provider.FeeBps).Repayment
	borrowIdx, err := adapter.Borrow(p, req.SellToken, instruction.Literal(repayment), req.User)
	if err != nil {
		return nil, err
	}
	push, err := instruction.PushToken(req.SellToken, plan.LenderAddress, instruction.OutputRef(borrowIdx))
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

	return &Result{
		Operation:    OperationDebtSwap,
		Mode:         req.Mode,
		Instructions: p.Instructions(),
		Shortfall:    shortfall,
	}, nil
}

func debtSwapChunks(req Request, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter, shortfall *feemath.QuoteShortfall) (*Result, error) {
	chunks := make([]Chunk, 0, plan.NumChunks)
	for _, size := range plan.ChunkSizes {
		p := instruction.NewProgram(req.Mode.OutputBase())
		if _, err := appendFlashDraw(p, plan, size); err != nil {
			return nil, err
		}
		preLen := p.Len()

		repaySrc := instruction.OutputRef(instruction.HarnessBoughtIndex)
		if req.IsMax {
			repaySrc = instruction.Sweep()
		}
		refundIdx, err := adapter.Repay(p, req.BuyToken, repaySrc, req.User)
		if err != nil {
			return nil, err
		}
		repayment := chunk.Breakdown(size, provider.FeeBps).Repayment
		borrowIdx, err := adapter.Borrow(p, req.SellToken, instruction.Literal(repayment), req.User)
		if err != nil {
			return nil, err
		}
		push, err := instruction.PushToken(req.SellToken, req.Settlement, instruction.OutputRef(borrowIdx))
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

		all := p.Instructions()
		chunks = append(chunks, Chunk{
			Pre:                           all[:preLen],
			Post:                          all[preLen:],
			FlashLoanRepaymentOutputIndex: borrowIdx,
		})
	}
	return &Result{Operation: OperationDebtSwap, Mode: req.Mode, Chunks: chunks, Shortfall: shortfall}, nil
}
