package flow

import (
	"math"
	"math/big"
	"testing"

	"github.com/leverlabs/lever-cli/internal/engine/instruction"
)

func debtSwapRequest() Request {
	return Request{
		Operation:    OperationDebtSwap,
		SellToken:    flowDebt,
		BuyToken:     flowColl,
		TargetAmount: big.NewInt(1000),
		SlippageBps:  50,
		User:         flowUser,
		Router:       flowRouter,
		Settlement:   flowSettlement,
	}
}

func TestDebtSwapMarketLayout(t *testing.T) {
	req := debtSwapRequest()
	plan := testPlan(t, "morpho", flowDebt, 1005, 1)
	res, err := BuildDebtSwap(req, testQuote(1000, 1000), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildDebtSwap failed: %v", err)
	}
	if res.Shortfall != nil {
		t.Fatalf("quote covers the debt, shortfall should be nil: %+v", res.Shortfall)
	}

	// Outputs: principal=0, bought=1, repay refund=2, borrow=3.
	assertOpcodes(t, res.Instructions,
		instruction.OpMaterializeOutput,
		instruction.OpFlashLoan,
		instruction.OpApprove,
		instruction.OpSwap,
		instruction.OpRepay,
		instruction.OpBorrow,
		instruction.OpPushToken,
	)
	if refs := res.Instructions[4].References(); len(refs) != 1 || refs[0] != 1 {
		t.Fatalf("repay should consume the swapped-in old debt: %v", refs)
	}
	if refs := res.Instructions[6].References(); len(refs) != 1 || refs[0] != 3 {
		t.Fatalf("repayment push should reference the borrow output: %v", refs)
	}
	if got := pushTarget(t, res.Instructions[6]); got != plan.LenderAddress {
		t.Fatalf("repayment push targets %s, want the lender %s", got, plan.LenderAddress)
	}

	// Fee-less provider: borrow exactly the flash principal.
	amount, slot := unpackAmount(t, res.Instructions[5])
	if amount.Int64() != 1005 || slot != 255 {
		t.Fatalf("unexpected borrow amount: %s slot %d", amount, slot)
	}
}

func TestDebtSwapMaxSweepsDebtAndRefunds(t *testing.T) {
	req := debtSwapRequest()
	req.IsMax = true
	plan := testPlan(t, "morpho", flowDebt, 1005, 1)
	res, err := BuildDebtSwap(req, testQuote(1000, 1000), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildDebtSwap failed: %v", err)
	}

	if n := len(res.Instructions); n != 8 {
		t.Fatalf("expected the refund push as an 8th instruction, got %d", n)
	}
	repay := res.Instructions[4]
	amount, slot := unpackAmount(t, repay)
	if amount.Cmp(instruction.MaxUint256) != 0 || slot != 255 {
		t.Fatalf("max repay should be a sweep literal, got %s slot %d", amount, slot)
	}
	if refs := repay.References(); len(refs) != 0 {
		t.Fatalf("sweep repay should not reference an output: %v", refs)
	}

	refund := res.Instructions[7]
	if refund.Opcode != instruction.OpPushToken {
		t.Fatalf("expected a refund push, got %s", refund.Opcode)
	}
	if refs := refund.References(); len(refs) != 1 || refs[0] != 2 {
		t.Fatalf("refund should reference the repay surplus: %v", refs)
	}
	if got := pushTarget(t, refund); got != flowUser {
		t.Fatalf("refund targets %s, want the user", got)
	}
}

func TestDebtSwapShortfall(t *testing.T) {
	req := debtSwapRequest()
	req.TargetAmount = big.NewInt(100)
	req.SlippageBps = 0
	plan := testPlan(t, "morpho", flowDebt, 100, 1)

	res, err := BuildDebtSwap(req, testQuote(98, 100), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildDebtSwap failed: %v", err)
	}
	sf := res.Shortfall
	if sf == nil {
		t.Fatal("a 98/100 quote must report a shortfall")
	}
	if sf.Required.Int64() != 100 || sf.Quoted.Int64() != 98 {
		t.Fatalf("shortfall = %s/%s, want 100/98", sf.Required, sf.Quoted)
	}
	if math.Abs(sf.Ratio-100.0/98.0) > 1e-9 {
		t.Fatalf("shortfall ratio = %v, want ~1.0204", sf.Ratio)
	}

	// The instructions are still built so the caller can decide.
	if len(res.Instructions) == 0 {
		t.Fatal("shortfall result should still carry the flow")
	}
}

func TestDebtSwapBufferedTargetRaisesRequirement(t *testing.T) {
	req := debtSwapRequest()
	req.TargetAmount = big.NewInt(1_000_000)
	req.RateBps = 500
	req.WindowMinutes = 30
	plan := testPlan(t, "morpho", flowDebt, 1005, 1)

	// 500bps over 30 minutes buffers by 1bp: required becomes 1000100,
	// so a quote at the bare target now falls short.
	res, err := BuildDebtSwap(req, testQuote(1_000_000, 1000), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildDebtSwap failed: %v", err)
	}
	if res.Shortfall == nil || res.Shortfall.Required.Int64() != 1_000_100 {
		t.Fatalf("expected a buffered requirement of 1000100, got %+v", res.Shortfall)
	}
}

func TestDebtSwapProgressiveChunks(t *testing.T) {
	req := debtSwapRequest()
	req.Mode = instruction.ModeProgressive
	req.IsMax = true
	plan := testPlan(t, "morpho", flowDebt, 1005, 3)

	res, err := BuildDebtSwap(req, testQuote(1005, 1000), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildDebtSwap failed: %v", err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(res.Chunks))
	}

	for i, c := range res.Chunks {
		assertOpcodes(t, c.Pre, instruction.OpMaterializeOutput, instruction.OpFlashLoan)
		assertOpcodes(t, c.Post,
			instruction.OpRepay,
			instruction.OpBorrow,
			instruction.OpPushToken,
			instruction.OpPushToken,
		)
		// Outputs: principal=2, refund=3, borrow=4.
		if c.FlashLoanRepaymentOutputIndex != 4 {
			t.Fatalf("chunk %d repayment index = %d, want 4", i, c.FlashLoanRepaymentOutputIndex)
		}
		if got := pushTarget(t, c.Post[2]); got != flowSettlement {
			t.Fatalf("chunk %d repayment push targets %s, want the settlement contract", i, got)
		}
		if refs := c.Post[3].References(); len(refs) != 1 || refs[0] != 3 {
			t.Fatalf("chunk %d refund should reference the repay surplus: %v", i, refs)
		}
	}
}

func TestDebtSwapProgressiveConsumesHarnessOutput(t *testing.T) {
	req := debtSwapRequest()
	req.Mode = instruction.ModeProgressive
	plan := testPlan(t, "morpho", flowDebt, 1005, 2)

	res, err := BuildDebtSwap(req, testQuote(1005, 1000), plan, testAdapter(t))
	if err != nil {
		t.Fatalf("BuildDebtSwap failed: %v", err)
	}
	for i, c := range res.Chunks {
		repay := c.Post[0]
		if refs := repay.References(); len(refs) != 1 || refs[0] != instruction.HarnessBoughtIndex {
			t.Fatalf("chunk %d repay should consume the harness bought output: %v", i, refs)
		}
	}
}
