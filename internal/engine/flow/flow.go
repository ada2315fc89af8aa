// Package flow builds the instruction sequences behind composite
// leveraged-lending operations: multiply, debt swap, collateral swap, and
// close. Builders are pure functions over already-resolved inputs (swap
// quote, flash-loan plan, protocol adapter): identical inputs produce
// identical instruction lists, and a missing input yields a nil result
// rather than an error, so callers simply rebuild as data arrives.
package flow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leverlabs/lever-cli/internal/engine/feemath"
	"github.com/leverlabs/lever-cli/internal/engine/flashloan"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	"github.com/leverlabs/lever-cli/internal/engine/protocol"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
)

// Operation names a position operation.
type Operation string

const (
	OperationMultiply       Operation = "multiply"
	OperationDebtSwap       Operation = "debt-swap"
	OperationCollateralSwap Operation = "collateral-swap"
	OperationClose          Operation = "close"
)

// Operations returns the supported operations in display order.
func Operations() []Operation {
	return []Operation{OperationMultiply, OperationDebtSwap, OperationCollateralSwap, OperationClose}
}

// Request describes one position operation. SellToken and BuyToken are
// swap-oriented: the flow sells SellToken and receives BuyToken, whichever
// side the flash loan is drawn on. TargetAmount is the operation's primary
// amount in smallest units: additional debt exposure for multiply, debt
// moved for a debt swap, collateral moved for a collateral swap, debt
// principal repaid for a close.
type Request struct {
	Operation     Operation                 `json:"operation"`
	Protocol      string                    `json:"protocol"`
	Context       protocol.Context          `json:"context"`
	SellToken     common.Address            `json:"sell_token"`
	BuyToken      common.Address            `json:"buy_token"`
	MarginAmount  *big.Int                  `json:"margin_amount,omitempty"`
	TargetAmount  *big.Int                  `json:"target_amount"`
	SlippageBps   int64                     `json:"slippage_bps"`
	RateBps       int64                     `json:"rate_bps"`
	WindowMinutes int64                     `json:"window_minutes"`
	IsMax         bool                      `json:"is_max"`
	Mode          instruction.ExecutionMode `json:"mode"`
	User          common.Address            `json:"user"`
	Router        common.Address            `json:"router"`
	Settlement    common.Address            `json:"settlement,omitempty"`
}

// Quote is an already-resolved aggregator quote, fed in as plain data.
// OutAmount is the quoted buy-side output; InAmount is the sell-side
// input an exact-output quote requires. CallData executes against
// SwapTarget and is embedded verbatim, opaque to the engine.
type Quote struct {
	OutAmount  *big.Int       `json:"out_amount,omitempty"`
	InAmount   *big.Int       `json:"in_amount,omitempty"`
	SwapTarget common.Address `json:"swap_target,omitempty"`
	CallData   []byte         `json:"call_data,omitempty"`
	SourceUSD  float64        `json:"source_usd,omitempty"`
	DestUSD    float64        `json:"dest_usd,omitempty"`
}

// Chunk is one progressive-execution settlement: Pre runs before the
// harness performs the swap, Post runs after it with the harness's
// actual-sold and actual-bought outputs available at indices 0 and 1.
// FlashLoanRepaymentOutputIndex names the virtual output whose value
// settles the chunk's flash loan.
type Chunk struct {
	Pre                           []instruction.Instruction `json:"pre"`
	Post                          []instruction.Instruction `json:"post"`
	FlashLoanRepaymentOutputIndex int                       `json:"flash_loan_repayment_output_index"`
}

// Result is one built flow. Market execution fills Instructions;
// progressive execution fills Chunks, one per flash-loan chunk, each a
// self-contained settlement whose numbering restarts at the harness base.
// Shortfall is advisory data: when set, the quoted swap output cannot
// cover what the flow must produce and submission should stay blocked
// until the quote improves or the slippage tolerance is raised.
type Result struct {
	Operation    Operation                 `json:"operation"`
	Mode         instruction.ExecutionMode `json:"mode"`
	Instructions []instruction.Instruction `json:"instructions,omitempty"`
	Chunks       []Chunk                   `json:"chunks,omitempty"`
	Shortfall    *feemath.QuoteShortfall   `json:"quote_shortfall,omitempty"`
}

// Build dispatches to the builder for the request's operation.
func Build(req Request, quote Quote, plan flashloan.Plan, adapter protocol.Adapter) (*Result, error) {
	switch req.Operation {
	case OperationMultiply:
		return BuildMultiply(req, quote, plan, adapter)
	case OperationDebtSwap:
		return BuildDebtSwap(req, quote, plan, adapter)
	case OperationCollateralSwap:
		return BuildCollateralSwap(req, quote, plan, adapter)
	case OperationClose:
		return BuildClosePosition(req, quote, plan, adapter)
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown position operation: %q", string(req.Operation)))
	}
}

// FlashAmount computes the flash-loan principal the flow for req will
// draw, or nil when an input it depends on is not resolved yet. Callers
// size the flash plan with this amount before building; the builder
// recomputes it and rejects a plan sized differently.
func FlashAmount(req Request, quote Quote) (*big.Int, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	switch req.Operation {
	case OperationMultiply:
		if req.TargetAmount == nil || req.TargetAmount.Sign() <= 0 {
			return nil, nil
		}
		return new(big.Int).Set(req.TargetAmount), nil
	case OperationDebtSwap:
		// Flash the worst-case cost of buying the old debt back.
		if quote.InAmount == nil || quote.InAmount.Sign() <= 0 {
			return nil, nil
		}
		return feemath.MaxIn(quote.InAmount, req.SlippageBps), nil
	case OperationCollateralSwap:
		// Flash only what the swap is guaranteed to produce, so the
		// position is never over-collateralized on borrowed funds.
		if quote.OutAmount == nil || quote.OutAmount.Sign() <= 0 {
			return nil, nil
		}
		return feemath.MinOut(quote.OutAmount, req.SlippageBps), nil
	case OperationClose:
		if req.TargetAmount == nil || req.TargetAmount.Sign() <= 0 {
			return nil, nil
		}
		buffer := feemath.InterestBufferBps(req.RateBps, req.WindowMinutes)
		return feemath.BufferedAmount(req.TargetAmount, buffer), nil
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown position operation: %q", string(req.Operation)))
	}
}

// RequiredBuyAmount is the exact buy-side amount a debt swap must obtain
// from its swap: the moved debt plus the interest it accrues while the
// operation executes. Callers quote exact-output against it.
func RequiredBuyAmount(req Request) *big.Int {
	if req.TargetAmount == nil || req.TargetAmount.Sign() <= 0 {
		return nil
	}
	buffer := feemath.InterestBufferBps(req.RateBps, req.WindowMinutes)
	return feemath.BufferedAmount(req.TargetAmount, buffer)
}

func (r Request) validate() error {
	if r.SlippageBps < 0 || r.SlippageBps >= feemath.BpsScale {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("slippage must be in [0, %d) bps, got %d", feemath.BpsScale, r.SlippageBps))
	}
	if r.RateBps < 0 {
		return clierr.New(clierr.CodeUsage, "borrow rate cannot be negative")
	}
	if r.WindowMinutes < 0 {
		return clierr.New(clierr.CodeUsage, "execution window cannot be negative")
	}
	if r.MarginAmount != nil && r.MarginAmount.Sign() < 0 {
		return clierr.New(clierr.CodeUsage, "margin amount cannot be negative")
	}
	if r.SellToken != (common.Address{}) && r.SellToken == r.BuyToken {
		return clierr.New(clierr.CodeUsage, "sell and buy tokens must differ")
	}
	switch r.Mode {
	case "", instruction.ModeMarket, instruction.ModeProgressive:
		return nil
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown execution mode: %q", string(r.Mode)))
	}
}

// ready reports whether the request carries everything a builder needs
// regardless of operation. Missing pieces are the caller's inputs still
// resolving, not errors.
func (r Request) ready() bool {
	if r.TargetAmount == nil || r.TargetAmount.Sign() <= 0 {
		return false
	}
	if r.SellToken == (common.Address{}) || r.BuyToken == (common.Address{}) {
		return false
	}
	if r.User == (common.Address{}) || r.Router == (common.Address{}) {
		return false
	}
	if r.Mode == instruction.ModeProgressive && r.Settlement == (common.Address{}) {
		return false
	}
	return true
}

// swapReady reports whether the quote can back a market-mode swap
// instruction. Progressive mode never needs call data: the settlement
// harness performs the swap itself.
func (q Quote) swapReady() bool {
	return q.SwapTarget != (common.Address{}) && len(q.CallData) > 0
}

func planReady(plan flashloan.Plan) bool {
	if plan.ProviderID == "" || plan.LenderAddress == (common.Address{}) {
		return false
	}
	if plan.TotalAmount == nil || plan.TotalAmount.Sign() <= 0 {
		return false
	}
	return plan.NumChunks >= 1 && len(plan.ChunkSizes) == plan.NumChunks
}

// flashToken is the asset a flow draws from the flash lender: the sell
// side for multiply and debt swap, the buy side for collateral swap and
// close, where the swap itself produces the repayment.
func flashToken(req Request) common.Address {
	switch req.Operation {
	case OperationCollateralSwap, OperationClose:
		return req.BuyToken
	default:
		return req.SellToken
	}
}

// resolvePlan cross-checks the flash plan against the flow's own sizing
// and resolves its provider. ok=false with a nil error is the not-ready
// signal; a plan that disagrees with the flow is a wiring bug upstream
// and fails hard before any instruction is built.
func resolvePlan(req Request, quote Quote, plan flashloan.Plan) (flashloan.Provider, bool, error) {
	flash, err := FlashAmount(req, quote)
	if err != nil {
		return flashloan.Provider{}, false, err
	}
	if flash == nil || !req.ready() || !planReady(plan) {
		return flashloan.Provider{}, false, nil
	}
	if plan.TotalAmount.Cmp(flash) != 0 {
		return flashloan.Provider{}, false, clierr.New(clierr.CodeInternal,
			fmt.Sprintf("flash plan total %s does not match the flow sizing %s", plan.TotalAmount, flash))
	}
	if plan.Token != flashToken(req) {
		return flashloan.Provider{}, false, clierr.New(clierr.CodeInternal,
			fmt.Sprintf("flash plan token %s is not the flow's flash asset %s", plan.Token, flashToken(req)))
	}
	if req.Mode != instruction.ModeProgressive && plan.NumChunks != 1 {
		return flashloan.Provider{}, false, clierr.New(clierr.CodeUsage, "market execution requires a single-chunk flash plan")
	}
	provider, ok := flashloan.ProviderByID(plan.ProviderID)
	if !ok {
		return flashloan.Provider{}, false, clierr.New(clierr.CodeInternal,
			fmt.Sprintf("flash plan names an unknown provider: %s", plan.ProviderID))
	}
	return provider, true, nil
}

// appendFlashDraw materializes the flash principal and draws the loan
// against it, returning the principal's output index.
func appendFlashDraw(p *instruction.Program, plan flashloan.Plan, amount *big.Int) (int, error) {
	materialize, err := instruction.MaterializeOutput(amount)
	if err != nil {
		return 0, err
	}
	principalIdx, err := p.Append(materialize)
	if err != nil {
		return 0, err
	}
	draw, err := instruction.FlashLoan(plan.LenderAddress, plan.Token, instruction.OutputRef(principalIdx))
	if err != nil {
		return 0, err
	}
	if _, err := p.Append(draw); err != nil {
		return 0, err
	}
	return principalIdx, nil
}

// appendSwapLeg approves the aggregator for the sell amount and swaps,
// returning the bought output's index.
func appendSwapLeg(p *instruction.Program, req Request, quote Quote, sell instruction.AmountSource, minBuy *big.Int) (int, error) {
	approve, err := instruction.Approve(req.SellToken, quote.SwapTarget, sell)
	if err != nil {
		return 0, err
	}
	if _, err := p.Append(approve); err != nil {
		return 0, err
	}
	swap, err := instruction.Swap(req.SellToken, req.BuyToken, sell, minBuy, quote.SwapTarget, quote.CallData)
	if err != nil {
		return 0, err
	}
	return p.Append(swap)
}
