package flashloan

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
)

var testToken = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func liquid(amount int64) Snapshot {
	return Snapshot{
		"morpho":   big.NewInt(amount),
		"balancer": big.NewInt(amount),
		"aave":     big.NewInt(amount),
	}
}

func TestSelectPrefersNativeLender(t *testing.T) {
	sel := Select(Query{Token: testToken, Amount: big.NewInt(1000), ChainID: 1, Mode: instruction.ModeMarket}, liquid(10000))
	if sel.NoLiquidity != nil {
		t.Fatalf("unexpected no-liquidity condition: %+v", sel.NoLiquidity)
	}
	if len(sel.Eligible) != 3 {
		t.Fatalf("expected all three lenders eligible, got %d", len(sel.Eligible))
	}
	if sel.Default == nil || sel.Default.ID != "morpho" {
		t.Fatalf("expected morpho default, got %+v", sel.Default)
	}
}

func TestSelectFallsBackWhenNativeIlliquid(t *testing.T) {
	snap := liquid(10000)
	snap["morpho"] = big.NewInt(999)
	sel := Select(Query{Token: testToken, Amount: big.NewInt(1000), ChainID: 1, Mode: instruction.ModeMarket}, snap)
	if sel.Default == nil || sel.Default.ID != "balancer" {
		t.Fatalf("expected balancer default, got %+v", sel.Default)
	}
	for _, p := range sel.Eligible {
		if p.ID == "morpho" {
			t.Fatal("did not expect illiquid morpho to stay eligible")
		}
	}
}

func TestSelectSkipsLendersAbsentFromSnapshot(t *testing.T) {
	snap := Snapshot{"aave": big.NewInt(10000)}
	sel := Select(Query{Token: testToken, Amount: big.NewInt(1000), ChainID: 1, Mode: instruction.ModeMarket}, snap)
	if sel.Default == nil || sel.Default.ID != "aave" {
		t.Fatalf("expected aave default when only aave is known liquid, got %+v", sel.Default)
	}
	if len(sel.Eligible) != 1 {
		t.Fatalf("expected one eligible lender, got %d", len(sel.Eligible))
	}
}

func TestSelectProgressiveRequiresChunkSupport(t *testing.T) {
	// No liquidity snapshot at all: progressive eligibility must not
	// depend on it.
	sel := Select(Query{Token: testToken, Amount: big.NewInt(1000000), ChainID: 1, Mode: instruction.ModeProgressive}, nil)
	if sel.NoLiquidity != nil {
		t.Fatalf("unexpected no-liquidity condition: %+v", sel.NoLiquidity)
	}
	if sel.Default == nil || sel.Default.ID != "morpho" {
		t.Fatalf("expected morpho default, got %+v", sel.Default)
	}
	for _, p := range sel.Eligible {
		if !p.SupportsChunks {
			t.Fatalf("lender %s without chunk support marked eligible", p.ID)
		}
	}
}

func TestSelectNoLiquidityIsDataNotError(t *testing.T) {
	sel := Select(Query{Token: testToken, Amount: big.NewInt(1000), ChainID: 1, Mode: instruction.ModeMarket}, liquid(10))
	if sel.NoLiquidity == nil {
		t.Fatal("expected no-liquidity condition")
	}
	if sel.Default != nil || len(sel.Eligible) != 0 {
		t.Fatalf("expected empty selection, got %+v", sel)
	}
	if sel.NoLiquidity.Amount.Int64() != 1000 || sel.NoLiquidity.ChainID != 1 {
		t.Fatalf("unexpected condition payload: %+v", sel.NoLiquidity)
	}
}

func TestSelectUnknownChainHasNoLenders(t *testing.T) {
	sel := Select(Query{Token: testToken, Amount: big.NewInt(1), ChainID: 999999, Mode: instruction.ModeProgressive}, nil)
	if sel.NoLiquidity == nil {
		t.Fatal("expected no-liquidity condition on a chain with no deployments")
	}
}

func TestSelectMorphoOnlyOnDeployedChains(t *testing.T) {
	// Morpho is not deployed on arbitrum; balancer takes the default.
	sel := Select(Query{Token: testToken, Amount: big.NewInt(1000), ChainID: 42161, Mode: instruction.ModeProgressive}, nil)
	if sel.Default == nil || sel.Default.ID != "balancer" {
		t.Fatalf("expected balancer default on arbitrum, got %+v", sel.Default)
	}
}

func TestBuildPlanFeeLess(t *testing.T) {
	plan, err := BuildPlan("morpho", 1, testToken, big.NewInt(1000), 3)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if plan.NumChunks != 3 || len(plan.ChunkSizes) != 3 {
		t.Fatalf("unexpected chunk shape: %+v", plan)
	}
	want := []int64{333, 333, 334}
	for i, w := range want {
		if plan.ChunkSizes[i].Int64() != w {
			t.Fatalf("chunk %d = %s, want %d", i, plan.ChunkSizes[i], w)
		}
	}
	if plan.FeePerChunk.Sign() != 0 {
		t.Fatalf("fee-less lender produced fee %s", plan.FeePerChunk)
	}
	if plan.LenderAddress == (common.Address{}) {
		t.Fatal("expected resolved lender address")
	}
}

func TestBuildPlanFixedFee(t *testing.T) {
	plan, err := BuildPlan("aave", 1, testToken, big.NewInt(1000), 1)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	// ceil(1000 * 5 / 10000) = 1.
	if plan.FeePerChunk.Int64() != 1 {
		t.Fatalf("expected 1 unit fee, got %s", plan.FeePerChunk)
	}
	if plan.TotalAmount.Int64() != 1000 || plan.ChunkSizes[0].Int64() != 1000 {
		t.Fatalf("unexpected plan amounts: %+v", plan)
	}
}

func TestBuildPlanRejectsBadInput(t *testing.T) {
	if _, err := BuildPlan("unknown", 1, testToken, big.NewInt(1000), 1); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
	if _, err := BuildPlan("morpho", 42161, testToken, big.NewInt(1000), 1); err == nil {
		t.Fatal("expected undeployed lender chain to fail")
	}
	if _, err := BuildPlan("morpho", 1, common.Address{}, big.NewInt(1000), 1); err == nil {
		t.Fatal("expected zero token address to fail")
	}
	if _, err := BuildPlan("morpho", 1, testToken, big.NewInt(1000), 0); err == nil {
		t.Fatal("expected zero chunk count to fail")
	}
}

func TestFeeZeroForEveryProvider(t *testing.T) {
	for _, p := range Providers() {
		if got := Fee(p.ID, big.NewInt(0)); got.Sign() != 0 {
			t.Fatalf("fee on zero amount for %s = %s", p.ID, got)
		}
	}
}
