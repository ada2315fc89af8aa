package execution

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/registry"
)

// Call is one submittable transaction of a plan's batch.
type Call struct {
	Label  string `json:"label"`
	Target string `json:"target"`
	Data   string `json:"data"`
	Value  string `json:"value"`
}

// CallBatch is a market plan rendered as the ordered transactions a wallet
// submits: an ERC20 approval for pulled margin when the plan needs one,
// then the single router call that runs the whole instruction list.
type CallBatch struct {
	PlanID  string `json:"plan_id"`
	ChainID string `json:"chain_id"`
	From    string `json:"from"`
	Calls   []Call `json:"calls"`
}

const (
	CallLabelApproveMargin = "approve-margin"
	CallLabelRun           = "run-instructions"
)

var (
	batchERC20ABI = mustBatchABI(registry.ERC20MinimalABI)
	routerRunABI  = mustBatchABI(registry.RouterExecuteABI)
)

func mustBatchABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// routerInstruction is the wire tuple the router's run entry point takes.
type routerInstruction struct {
	Kind       uint8    `abi:"kind"`
	ProtocolId [32]byte `abi:"protocolId"`
	Data       []byte   `abi:"data"`
}

// BuildCallBatch converts a built market plan into its transaction batch.
// Progressive plans are rejected: their chunks execute through the order
// settlement harness, not from the user's wallet.
func BuildCallBatch(plan model.Plan) (CallBatch, error) {
	if plan.Mode != string(instruction.ModeMarket) {
		return CallBatch{}, clierr.New(clierr.CodeUsage, "progressive plans settle through the order harness; call batches cover market plans")
	}
	if len(plan.Instructions) == 0 {
		return CallBatch{}, clierr.New(clierr.CodeUsage, "plan has no instructions to execute")
	}
	chain, err := id.ParseChain(plan.ChainID)
	if err != nil || chain.EVMChainID == 0 {
		return CallBatch{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("plan has unresolved chain id %q", plan.ChainID))
	}
	router, ok := registry.LeverageRouter(chain.EVMChainID)
	if !ok {
		return CallBatch{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no leverage router deployment on %s", plan.ChainID))
	}
	user := strings.TrimSpace(plan.User)
	if !common.IsHexAddress(user) {
		return CallBatch{}, clierr.New(clierr.CodeUsage, "plan is missing the acting user address")
	}

	batch := CallBatch{
		PlanID:  plan.PlanID,
		ChainID: plan.ChainID,
		From:    common.HexToAddress(user).Hex(),
	}

	if approve, ok, err := marginApproveCall(plan, router); err != nil {
		return CallBatch{}, err
	} else if ok {
		batch.Calls = append(batch.Calls, approve)
	}

	runData, err := packRunCall(plan.Instructions)
	if err != nil {
		return CallBatch{}, err
	}
	batch.Calls = append(batch.Calls, Call{
		Label:  CallLabelRun,
		Target: common.HexToAddress(router).Hex(),
		Data:   hexutil.Encode(runData),
		Value:  "0",
	})
	return batch, nil
}

// marginApproveCall builds the approval the router's margin pull depends
// on. Margin is pulled in the plan's sell asset.
func marginApproveCall(plan model.Plan, router string) (Call, bool, error) {
	if plan.Margin == nil {
		return Call{}, false, nil
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(plan.Margin.AmountBaseUnits), 10)
	if !ok || amount.Sign() < 0 {
		return Call{}, false, clierr.New(clierr.CodeUsage, "plan margin is not a valid base-units amount")
	}
	if amount.Sign() == 0 {
		return Call{}, false, nil
	}
	token, err := assetAddress(plan.SellAssetID)
	if err != nil {
		return Call{}, false, clierr.Wrap(clierr.CodeUsage, "resolve margin token", err)
	}
	data, err := batchERC20ABI.Pack("approve", common.HexToAddress(router), amount)
	if err != nil {
		return Call{}, false, clierr.Wrap(clierr.CodeInternal, "pack margin approval", err)
	}
	return Call{
		Label:  CallLabelApproveMargin,
		Target: token.Hex(),
		Data:   hexutil.Encode(data),
		Value:  "0",
	}, true, nil
}

func packRunCall(instructions []model.Instruction) ([]byte, error) {
	tuples := make([]routerInstruction, 0, len(instructions))
	for i, ins := range instructions {
		tuple, err := wireInstruction(ins)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("encode instruction %d", i), err)
		}
		tuples = append(tuples, tuple)
	}
	data, err := routerRunABI.Pack("run", tuples)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack router call", err)
	}
	return data, nil
}

func wireInstruction(ins model.Instruction) (routerInstruction, error) {
	params, err := hexutil.Decode(strings.TrimSpace(ins.Params))
	if err != nil {
		return routerInstruction{}, fmt.Errorf("decode params: %w", err)
	}
	switch instruction.Kind(ins.Kind) {
	case instruction.KindRouter:
		return routerInstruction{Kind: 0, Data: params}, nil
	case instruction.KindProtocol:
		if strings.TrimSpace(ins.ProtocolID) == "" {
			return routerInstruction{}, fmt.Errorf("protocol instruction is missing its protocol id")
		}
		return routerInstruction{Kind: 1, ProtocolId: ProtocolWireID(ins.ProtocolID), Data: params}, nil
	default:
		return routerInstruction{}, fmt.Errorf("unknown instruction kind %q", ins.Kind)
	}
}

// ProtocolWireID is the keccak hash of a protocol id, the form the router
// dispatches protocol instructions by.
func ProtocolWireID(protocolID string) [32]byte {
	return crypto.Keccak256Hash([]byte(strings.ToLower(strings.TrimSpace(protocolID))))
}

func assetAddress(assetID string) (common.Address, error) {
	_, ref, ok := strings.Cut(strings.TrimSpace(assetID), "/erc20:")
	if !ok || !common.IsHexAddress(ref) {
		return common.Address{}, fmt.Errorf("asset id %q has no erc20 address", assetID)
	}
	return common.HexToAddress(ref), nil
}
