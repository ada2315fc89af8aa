package flow

import (
	"github.com/leverlabs/lever-cli/internal/engine/chunk"
	"github.com/leverlabs/lever-cli/internal/engine/feemath"
	"github.com/leverlabs/lever-cli/internal/engine/flashloan"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	"github.com/leverlabs/lever-cli/internal/engine/protocol"
)

// BuildMultiply opens or increases a leveraged position: flash-borrow the
// debt asset, optionally pull the user's margin on top, swap the combined
// amount into collateral, deposit it, and borrow exactly the flash
// repayment against the grown position.
//
// The quote must be exact-input over the flash amount plus margin. In
// progressive mode the settlement harness performs the swap, so no call
// data is needed and the margin is pulled in the first chunk only.
func BuildMultiply(req Request, quote Quote, plan flashloan.Plan, adapter protocol.Adapter) (*Result, error) {
	req.Operation = OperationMultiply
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
		return multiplyChunks(req, plan, provider, adapter)
	}
	if quote.OutAmount == nil || quote.OutAmount.Sign() <= 0 || !quote.swapReady() {
		return nil, nil
	}
	return multiplyMarket(req, quote, plan, provider, adapter)
}

func multiplyMarket(req Request, quote Quote, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter) (*Result, error) {
	p := instruction.NewProgram(req.Mode.OutputBase())
	principalIdx, err := appendFlashDraw(p, plan, plan.TotalAmount)
	if err != nil {
		return nil, err
	}

	sell := instruction.OutputRef(principalIdx)
	if req.MarginAmount != nil && req.MarginAmount.Sign() > 0 {
		pull, err := instruction.PullToken(req.SellToken, req.User, instruction.Literal(req.MarginAmount))
		if err != nil {
			return nil, err
		}
		marginIdx, err := p.Append(pull)
		if err != nil {
			return nil, err
		}
		sum, err := instruction.Add(instruction.OutputRef(principalIdx), instruction.OutputRef(marginIdx))
		if err != nil {
			return nil, err
		}
		sumIdx, err := p.Append(sum)
		if err != nil {
			return nil, err
		}
		sell = instruction.OutputRef(sumIdx)
	}

	boughtIdx, err := appendSwapLeg(p, req, quote, sell, feemath.MinOut(quote.OutAmount, req.SlippageBps))
	if err != nil {
		return nil, err
	}
	if _, err := adapter.DepositCollateral(p, req.BuyToken, instruction.OutputRef(boughtIdx), req.User); err != nil {
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

	return &Result{
		Operation:    OperationMultiply,
		Mode:         req.Mode,
		Instructions: p.Instructions(),
	}, nil
}

func multiplyChunks(req Request, plan flashloan.Plan, provider flashloan.Provider, adapter protocol.Adapter) (*Result, error) {
	chunks := make([]Chunk, 0, plan.NumChunks)
	for i, size := range plan.ChunkSizes {
		p := instruction.NewProgram(req.Mode.OutputBase())
		if _, err := appendFlashDraw(p, plan, size); err != nil {
			return nil, err
		}
		if i == 0 && req.MarginAmount != nil && req.MarginAmount.Sign() > 0 {
			pull, err := instruction.PullToken(req.SellToken, req.User, instruction.Literal(req.MarginAmount))
			if err != nil {
				return nil, err
			}
			if _, err := p.Append(pull); err != nil {
				return nil, err
			}
		}
		preLen := p.Len()

		if _, err := adapter.DepositCollateral(p, req.BuyToken, instruction.OutputRef(instruction.HarnessBoughtIndex), req.User); err != nil {
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

		all := p.Instructions()
		chunks = append(chunks, Chunk{
			Pre:                           all[:preLen],
			Post:                          all[preLen:],
			FlashLoanRepaymentOutputIndex: borrowIdx,
		})
	}
	return &Result{Operation: OperationMultiply, Mode: req.Mode, Chunks: chunks}, nil
}
