package flow

import (
	"math/big"
	"testing"

	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	"github.com/leverlabs/lever-cli/internal/engine/protocol"
)

func collateralSwapRequest() Request {
	return Request{
		Operation:    OperationCollateralSwap,
		SellToken:    flowColl,
		BuyToken:     flowDebt,
		TargetAmount: big.NewInt(1000),
		SlippageBps:  50,
		User:         flowUser,
		Router:       flowRouter,
		Settlement:   flowSettlement,
	}
}

func TestCollateralSwapMarketDepositsBeforeWithdraw(t *testing.T) {
	req := collateralSwapRequest()
	plan := testPlan(t, "morpho", flowDebt, 1990, 1)
	res, err := BuildCollateralSwap(req, testQuote(2000, 0), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildCollateralSwap failed: %v", err)
	}
	if res.Shortfall != nil {
		t.Fatalf("quote covers the repayment, shortfall should be nil: %+v", res.Shortfall)
	}

	// Outputs: principal=0, withdrawn=1, bought=2.
	assertOpcodes(t, res.Instructions,
		instruction.OpMaterializeOutput,
		instruction.OpFlashLoan,
		instruction.OpDepositCollateral,
		instruction.OpWithdrawCollateral,
		instruction.OpApprove,
		instruction.OpSwap,
		instruction.OpPushToken,
	)
	if refs := res.Instructions[2].References(); len(refs) != 1 || refs[0] != 0 {
		t.Fatalf("deposit should consume the flash principal: %v", refs)
	}
	if refs := res.Instructions[5].References(); len(refs) != 1 || refs[0] != 1 {
		t.Fatalf("swap should sell the withdrawn collateral: %v", refs)
	}
	if refs := res.Instructions[6].References(); len(refs) != 1 || refs[0] != 2 {
		t.Fatalf("repayment push should reference the swap output: %v", refs)
	}

	amount, slot := unpackAmount(t, res.Instructions[3])
	if amount.Int64() != 1000 || slot != 255 {
		t.Fatalf("withdraw should use the literal target: %s slot %d", amount, slot)
	}
	// Fee-less provider: the swap only has to produce the principal.
	if min := swapMinBuy(t, res.Instructions[5]); min.Int64() != 1990 {
		t.Fatalf("swap min buy = %s, want the flash repayment 1990", min)
	}
}

func TestCollateralSwapMaxSweepsOldCollateral(t *testing.T) {
	req := collateralSwapRequest()
	req.IsMax = true
	plan := testPlan(t, "morpho", flowDebt, 1990, 1)
	res, err := BuildCollateralSwap(req, testQuote(2000, 0), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildCollateralSwap failed: %v", err)
	}

	// Standard pool: withdraw-all stays a single max-uint withdraw.
	withdraw := res.Instructions[3]
	amount, slot := unpackAmount(t, withdraw)
	if amount.Cmp(instruction.MaxUint256) != 0 || slot != 255 {
		t.Fatalf("max withdraw should be a sweep literal, got %s slot %d", amount, slot)
	}

	last := res.Instructions[len(res.Instructions)-1]
	if last.Opcode != instruction.OpPushToken {
		t.Fatalf("expected a trailing sweep push, got %s", last.Opcode)
	}
	if got := pushTarget(t, last); got != flowUser {
		t.Fatalf("sweep targets %s, want the user", got)
	}
	if refs := last.References(); len(refs) != 0 {
		t.Fatalf("sweep push should not reference an output: %v", refs)
	}
}

func TestCollateralSwapMaxOnShareMarketQueriesBalance(t *testing.T) {
	ctx, err := protocol.ShareMarketContext(protocol.MarketParams{
		LoanToken:       flowDebt,
		CollateralToken: flowColl,
		Oracle:          flowAggregator,
		Irm:             flowRouter,
		Lltv:            big.NewInt(860000000000000000),
	})
	if err != nil {
		t.Fatalf("packing market params: %v", err)
	}
	adapter, err := protocol.New(protocol.ProtocolMorphoBlue, ctx)
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}

	req := collateralSwapRequest()
	req.IsMax = true
	plan := testPlan(t, "morpho", flowDebt, 1990, 1)
	res, err := BuildCollateralSwap(req, testQuote(2000, 0), plan, adapter)
	if err != nil {
		t.Fatalf("BuildCollateralSwap failed: %v", err)
	}

	// Share-based markets cannot sweep: the balance query feeds the
	// withdraw, shifting all later outputs up by one.
	assertOpcodes(t, res.Instructions,
		instruction.OpMaterializeOutput,
		instruction.OpFlashLoan,
		instruction.OpDepositCollateral,
		instruction.OpGetSupplyBalance,
		instruction.OpWithdrawCollateral,
		instruction.OpApprove,
		instruction.OpSwap,
		instruction.OpPushToken,
		instruction.OpPushToken,
	)
	if refs := res.Instructions[4].References(); len(refs) != 1 || refs[0] != 1 {
		t.Fatalf("withdraw should reference the queried balance: %v", refs)
	}
	if refs := res.Instructions[6].References(); len(refs) != 1 || refs[0] != 2 {
		t.Fatalf("swap should sell the withdrawn collateral: %v", refs)
	}
	if refs := res.Instructions[7].References(); len(refs) != 1 || refs[0] != 3 {
		t.Fatalf("repayment push should reference the swap output: %v", refs)
	}
}

func TestCollateralSwapFlashFeeRaisesMinBuy(t *testing.T) {
	req := collateralSwapRequest()
	plan := testPlan(t, "aave", flowDebt, 1990, 1)
	res, err := BuildCollateralSwap(req, testQuote(2000, 0), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildCollateralSwap failed: %v", err)
	}

	// 5bps on 1990 rounds up to 1: the swap must now produce 1991.
	if min := swapMinBuy(t, res.Instructions[5]); min.Int64() != 1991 {
		t.Fatalf("swap min buy = %s, want 1991", min)
	}
}

func TestCollateralSwapProgressiveChunks(t *testing.T) {
	req := collateralSwapRequest()
	req.Mode = instruction.ModeProgressive
	plan := testPlan(t, "morpho", flowDebt, 1990, 3)

	res, err := BuildCollateralSwap(req, testQuote(2000, 0), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildCollateralSwap failed: %v", err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(res.Chunks))
	}

	// The old collateral splits on its own schedule: 333/333/334.
	wantWithdraw := []int64{333, 333, 334}
	for i, c := range res.Chunks {
		assertOpcodes(t, c.Pre,
			instruction.OpMaterializeOutput,
			instruction.OpFlashLoan,
			instruction.OpDepositCollateral,
			instruction.OpWithdrawCollateral,
		)
		assertOpcodes(t, c.Post, instruction.OpPushToken)
		if c.FlashLoanRepaymentOutputIndex != instruction.HarnessBoughtIndex {
			t.Fatalf("chunk %d repayment index = %d, want the harness bought output", i, c.FlashLoanRepaymentOutputIndex)
		}
		amount, _ := unpackAmount(t, c.Pre[3])
		if amount.Int64() != wantWithdraw[i] {
			t.Fatalf("chunk %d withdraws %s, want %d", i, amount, wantWithdraw[i])
		}
		if refs := c.Post[0].References(); len(refs) != 1 || refs[0] != instruction.HarnessBoughtIndex {
			t.Fatalf("chunk %d repayment push should reference the harness bought output: %v", i, refs)
		}
		if got := pushTarget(t, c.Post[0]); got != flowSettlement {
			t.Fatalf("chunk %d repayment push targets %s, want the settlement contract", i, got)
		}
	}
}

func TestCollateralSwapProgressiveMaxSweepsOnLastChunk(t *testing.T) {
	req := collateralSwapRequest()
	req.Mode = instruction.ModeProgressive
	req.IsMax = true
	plan := testPlan(t, "morpho", flowDebt, 1990, 2)

	res, err := BuildCollateralSwap(req, testQuote(2000, 0), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildCollateralSwap failed: %v", err)
	}

	first, last := res.Chunks[0], res.Chunks[1]
	amount, _ := unpackAmount(t, first.Pre[3])
	if amount.Int64() != 500 {
		t.Fatalf("first chunk withdraws %s, want the literal half", amount)
	}
	amount, _ = unpackAmount(t, last.Pre[3])
	if amount.Cmp(instruction.MaxUint256) != 0 {
		t.Fatalf("last chunk should withdraw-all, got %s", amount)
	}
	if n := len(last.Post); n != 2 {
		t.Fatalf("last chunk should append the user sweep, got %d post instructions", n)
	}
	if got := pushTarget(t, last.Post[1]); got != flowUser {
		t.Fatalf("sweep targets %s, want the user", got)
	}
}
