package execution

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/model"
)

func expectCode(t *testing.T, err error, code clierr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", code)
	}
	typed, ok := clierr.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if typed.Code != code {
		t.Fatalf("expected code %d, got %d (%v)", code, typed.Code, err)
	}
}

func TestValidateForSubmissionReadyMarketPlan(t *testing.T) {
	plan := marketTestPlan()
	if err := ValidateForSubmission(plan); err != nil {
		t.Fatalf("ready market plan rejected: %v", err)
	}
}

func TestValidateForSubmissionShortfall(t *testing.T) {
	plan := marketTestPlan()
	plan.Status = PlanStatusBlocked
	plan.Shortfall = &model.QuoteShortfall{
		RequiredBaseUnits: "1000",
		QuotedBaseUnits:   "900",
		Ratio:             0.9,
	}
	expectCode(t, ValidateForSubmission(plan), clierr.CodeQuoteShortfall)
}

func TestValidateForSubmissionProgressiveNeedsAllowedURL(t *testing.T) {
	plan := marketTestPlan()
	plan.Mode = "progressive"
	plan.Instructions = nil
	plan.Chunks = []model.PlanChunk{{FlashLoanRepaymentOutputIndex: 4}}
	plan.SettlementURL = "https://evil.example.com/orders"
	expectCode(t, ValidateForSubmission(plan), clierr.CodeBlocked)

	plan.SettlementURL = "http://127.0.0.1:8080/orders"
	if err := ValidateForSubmission(plan); err != nil {
		t.Fatalf("loopback settlement endpoint rejected: %v", err)
	}

	plan.SettlementURL = ""
	if err := ValidateForSubmission(plan); err != nil {
		t.Fatalf("default settlement endpoint rejected: %v", err)
	}
}

func TestValidateBatchAcceptsBuiltBatch(t *testing.T) {
	plan := marketTestPlan()
	batch, err := BuildCallBatch(plan)
	if err != nil {
		t.Fatalf("BuildCallBatch failed: %v", err)
	}
	if err := ValidateBatch(plan, batch, Constraints{}); err != nil {
		t.Fatalf("built batch rejected: %v", err)
	}
}

func TestValidateBatchForeignSpender(t *testing.T) {
	plan := marketTestPlan()
	batch, err := BuildCallBatch(plan)
	if err != nil {
		t.Fatalf("BuildCallBatch failed: %v", err)
	}
	data, err := batchERC20ABI.Pack("approve",
		common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		big.NewInt(1000000000))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	batch.Calls[0].Data = hexutil.Encode(data)
	expectCode(t, ValidateBatch(plan, batch, Constraints{}), clierr.CodePlanPolicy)
}

func TestValidateBatchApprovalExceedsMargin(t *testing.T) {
	plan := marketTestPlan()
	batch, err := BuildCallBatch(plan)
	if err != nil {
		t.Fatalf("BuildCallBatch failed: %v", err)
	}
	router := common.HexToAddress(batch.Calls[1].Target)
	data, err := batchERC20ABI.Pack("approve", router, big.NewInt(2000000000))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	batch.Calls[0].Data = hexutil.Encode(data)
	expectCode(t, ValidateBatch(plan, batch, Constraints{}), clierr.CodePlanPolicy)

	if err := ValidateBatch(plan, batch, Constraints{AllowMaxApproval: true}); err != nil {
		t.Fatalf("--allow-max-approval should bypass the bound: %v", err)
	}
}

func TestValidateBatchApprovalWithoutMargin(t *testing.T) {
	plan := marketTestPlan()
	batch, err := BuildCallBatch(plan)
	if err != nil {
		t.Fatalf("BuildCallBatch failed: %v", err)
	}
	plan.Margin = nil
	expectCode(t, ValidateBatch(plan, batch, Constraints{}), clierr.CodePlanPolicy)
}

func TestValidateBatchUnexpectedSelector(t *testing.T) {
	plan := marketTestPlan()
	batch, err := BuildCallBatch(plan)
	if err != nil {
		t.Fatalf("BuildCallBatch failed: %v", err)
	}
	batch.Calls[1].Data = "0xdeadbeef"
	expectCode(t, ValidateBatch(plan, batch, Constraints{}), clierr.CodePlanPolicy)
}

func TestValidateBatchInstructionCallOffRouter(t *testing.T) {
	plan := marketTestPlan()
	batch, err := BuildCallBatch(plan)
	if err != nil {
		t.Fatalf("BuildCallBatch failed: %v", err)
	}
	batch.Calls[1].Target = "0x000000000000000000000000000000000000dEaD"
	expectCode(t, ValidateBatch(plan, batch, Constraints{}), clierr.CodePlanPolicy)
}

func TestValidateBatchRejectsNativeValue(t *testing.T) {
	plan := marketTestPlan()
	batch, err := BuildCallBatch(plan)
	if err != nil {
		t.Fatalf("BuildCallBatch failed: %v", err)
	}
	batch.Calls[1].Value = "1"
	expectCode(t, ValidateBatch(plan, batch, Constraints{}), clierr.CodePlanPolicy)
}
