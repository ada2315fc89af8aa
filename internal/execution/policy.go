package execution

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/registry"
)

var (
	policyApproveSelector = batchERC20ABI.Methods["approve"].ID
	policyRunSelector     = routerRunABI.Methods["run"].ID
)

// Constraints relax individual batch policy checks.
type Constraints struct {
	AllowMaxApproval bool
}

// ValidateForSubmission gates a stored plan before it is estimated or
// turned into an order. A blocked plan never passes: its quote does not
// cover what the flow must produce, and submitting it would revert
// on-chain.
func ValidateForSubmission(plan model.Plan) error {
	if plan.Shortfall != nil {
		return clierr.New(clierr.CodeQuoteShortfall, fmt.Sprintf(
			"quoted swap output covers %.4f of the required amount (%s of %s); rebuild with a higher --slippage-bps or wait for a better quote",
			plan.Shortfall.Ratio, plan.Shortfall.QuotedBaseUnits, plan.Shortfall.RequiredBaseUnits))
	}
	if plan.Status == PlanStatusBlocked {
		return clierr.New(clierr.CodeQuoteShortfall, "plan is blocked; rebuild it before submitting")
	}
	switch plan.Mode {
	case string(instruction.ModeMarket):
		if len(plan.Instructions) == 0 {
			return clierr.New(clierr.CodeUsage, "plan has no instructions to execute")
		}
	case string(instruction.ModeProgressive):
		if len(plan.Chunks) == 0 {
			return clierr.New(clierr.CodeUsage, "progressive plan has no chunks")
		}
		if !registry.IsAllowedSettlementURL(plan.SettlementURL) {
			return clierr.New(clierr.CodeBlocked, fmt.Sprintf("settlement endpoint %q is not an allowed order settlement URL", plan.SettlementURL))
		}
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("plan has unknown execution mode %q", plan.Mode))
	}
	return nil
}

// ValidateBatch checks a call batch against the plan it was built from:
// every call targets where the plan says it should, and approvals stay
// within the margin the plan pulls.
func ValidateBatch(plan model.Plan, batch CallBatch, constraints Constraints) error {
	chain, err := id.ParseChain(plan.ChainID)
	if err != nil || chain.EVMChainID == 0 {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("plan has unresolved chain id %q", plan.ChainID))
	}
	router, ok := registry.LeverageRouter(chain.EVMChainID)
	if !ok {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no leverage router deployment on %s", plan.ChainID))
	}

	for i := range batch.Calls {
		call := batch.Calls[i]
		if !common.IsHexAddress(strings.TrimSpace(call.Target)) {
			return clierr.New(clierr.CodePlanPolicy, fmt.Sprintf("call %s has invalid target address", call.Label))
		}
		value, err := parseNonNegativeBaseUnits(call.Value)
		if err != nil || value.Sign() != 0 {
			return clierr.New(clierr.CodePlanPolicy, fmt.Sprintf("call %s must not carry native value", call.Label))
		}
		data, err := decodeHex(call.Data)
		if err != nil || len(data) < 4 {
			return clierr.New(clierr.CodePlanPolicy, fmt.Sprintf("call %s has invalid calldata", call.Label))
		}
		switch {
		case bytes.Equal(data[:4], policyApproveSelector):
			if err := validateApprovalCall(plan, call, router, data, constraints); err != nil {
				return err
			}
		case bytes.Equal(data[:4], policyRunSelector):
			if !strings.EqualFold(common.HexToAddress(call.Target).Hex(), common.HexToAddress(router).Hex()) {
				return clierr.New(clierr.CodePlanPolicy, "instruction call does not target the canonical leverage router")
			}
		default:
			return clierr.New(clierr.CodePlanPolicy, fmt.Sprintf("call %s uses an unexpected method selector", call.Label))
		}
	}
	return nil
}

func validateApprovalCall(plan model.Plan, call Call, router string, data []byte, constraints Constraints) error {
	args, err := batchERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodePlanPolicy, "approval calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodePlanPolicy, "approval has invalid spender")
	}
	if !strings.EqualFold(spender.Hex(), common.HexToAddress(router).Hex()) {
		return clierr.New(clierr.CodePlanPolicy, "approval spender is not the leverage router")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodePlanPolicy, "approval has invalid amount")
	}
	if constraints.AllowMaxApproval {
		return nil
	}
	if plan.Margin == nil {
		return clierr.New(clierr.CodePlanPolicy, "plan pulls no margin but the batch approves one; use --allow-max-approval to override")
	}
	margin, ok := parsePositiveBaseUnits(plan.Margin.AmountBaseUnits)
	if !ok {
		return clierr.New(clierr.CodePlanPolicy, "cannot validate approval bounds for non-numeric margin; use --allow-max-approval to override")
	}
	if amount.Cmp(margin) > 0 {
		return clierr.New(
			clierr.CodePlanPolicy,
			fmt.Sprintf("approval amount %s exceeds plan margin %s; use --allow-max-approval to override", amount.String(), margin.String()),
		)
	}
	return nil
}

func parsePositiveBaseUnits(value string) (*big.Int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, false
	}
	return parsed, true
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}
