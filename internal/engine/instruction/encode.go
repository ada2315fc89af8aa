package instruction

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/registry"
)

// useLiteralSlot is the wire sentinel for "ignore the slot, use the
// literal amount". It never leaves this file: callers express the same
// intent through the AmountSource sum type.
const useLiteralSlot = 0xFF

var routerABI = mustInstructionABI(registry.RouterInstructionsABI)

func mustInstructionABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EncodeAmount lowers an AmountSource to the (value, slot) pair the wire
// format carries. Output references must fit the uint8 slot below the
// literal sentinel.
func EncodeAmount(a AmountSource) (*big.Int, uint8, error) {
	if !a.IsOutputRef() {
		v := a.Amount()
		if v.Sign() < 0 {
			return nil, 0, clierr.New(clierr.CodeUsage, "instruction amount must not be negative")
		}
		return v, useLiteralSlot, nil
	}
	idx := a.OutputIndex()
	if idx < 0 || idx >= useLiteralSlot {
		return nil, 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("output reference %d does not fit the wire format", idx))
	}
	return a.Amount(), uint8(idx), nil
}

// Approve authorizes spender to move amount of token held by the router.
func Approve(token, spender common.Address, amount AmountSource) (Instruction, error) {
	if err := requireAddress("token", token); err != nil {
		return Instruction{}, err
	}
	if err := requireAddress("spender", spender); err != nil {
		return Instruction{}, err
	}
	value, slot, err := EncodeAmount(amount)
	if err != nil {
		return Instruction{}, err
	}
	params, err := routerABI.Pack("approve", token, spender, value, slot)
	if err != nil {
		return Instruction{}, clierr.Wrap(clierr.CodeInternal, "pack approve params", err)
	}
	return Instruction{Kind: KindRouter, Opcode: OpApprove, Params: params, refs: refsOf(amount)}, nil
}

// PullToken moves amount of token from a user wallet into the router and
// retains the moved amount as a virtual output.
func PullToken(token, from common.Address, amount AmountSource) (Instruction, error) {
	if err := requireAddress("token", token); err != nil {
		return Instruction{}, err
	}
	if err := requireAddress("from", from); err != nil {
		return Instruction{}, err
	}
	value, slot, err := EncodeAmount(amount)
	if err != nil {
		return Instruction{}, err
	}
	params, err := routerABI.Pack("pullToken", token, from, value, slot)
	if err != nil {
		return Instruction{}, clierr.Wrap(clierr.CodeInternal, "pack pullToken params", err)
	}
	return Instruction{Kind: KindRouter, Opcode: OpPullToken, Params: params, refs: refsOf(amount)}, nil
}

// PushToken moves amount of token out of the router.
func PushToken(token, to common.Address, amount AmountSource) (Instruction, error) {
	if err := requireAddress("token", token); err != nil {
		return Instruction{}, err
	}
	if err := requireAddress("to", to); err != nil {
		return Instruction{}, err
	}
	value, slot, err := EncodeAmount(amount)
	if err != nil {
		return Instruction{}, err
	}
	params, err := routerABI.Pack("pushToken", token, to, value, slot)
	if err != nil {
		return Instruction{}, clierr.Wrap(clierr.CodeInternal, "pack pushToken params", err)
	}
	return Instruction{Kind: KindRouter, Opcode: OpPushToken, Params: params, refs: refsOf(amount)}, nil
}

// Add sums two amounts into a new virtual output.
func Add(a, b AmountSource) (Instruction, error) {
	valueA, slotA, err := EncodeAmount(a)
	if err != nil {
		return Instruction{}, err
	}
	valueB, slotB, err := EncodeAmount(b)
	if err != nil {
		return Instruction{}, err
	}
	params, err := routerABI.Pack("add", valueA, slotA, valueB, slotB)
	if err != nil {
		return Instruction{}, clierr.Wrap(clierr.CodeInternal, "pack add params", err)
	}
	return Instruction{Kind: KindRouter, Opcode: OpAdd, Params: params, refs: refsOf(a, b)}, nil
}

// FlashLoan draws amount of token from lender. The drawn funds land in the
// router balance; the amount itself is expected to already be a virtual
// output (see MaterializeOutput), so this instruction retains nothing.
func FlashLoan(lender, token common.Address, amount AmountSource) (Instruction, error) {
	if err := requireAddress("lender", lender); err != nil {
		return Instruction{}, err
	}
	if err := requireAddress("token", token); err != nil {
		return Instruction{}, err
	}
	value, slot, err := EncodeAmount(amount)
	if err != nil {
		return Instruction{}, err
	}
	params, err := routerABI.Pack("flashLoan", lender, token, value, slot)
	if err != nil {
		return Instruction{}, clierr.Wrap(clierr.CodeInternal, "pack flashLoan params", err)
	}
	return Instruction{Kind: KindRouter, Opcode: OpFlashLoan, Params: params, refs: refsOf(amount)}, nil
}

// MaterializeOutput retains a literal amount as a virtual output so later
// instructions can reference it by slot.
func MaterializeOutput(amount *big.Int) (Instruction, error) {
	if amount == nil || amount.Sign() < 0 {
		return Instruction{}, clierr.New(clierr.CodeUsage, "materialized amount must be a non-negative value")
	}
	params, err := routerABI.Pack("materializeOutput", new(big.Int).Set(amount))
	if err != nil {
		return Instruction{}, clierr.Wrap(clierr.CodeInternal, "pack materializeOutput params", err)
	}
	return Instruction{Kind: KindRouter, Opcode: OpMaterializeOutput, Params: params}, nil
}

// Swap executes opaque aggregator calldata against swapTarget, selling at
// most sellAmount of sellToken, and retains the bought buyToken amount as
// a virtual output. The router reverts when the measured output lands
// below minBuyAmount.
func Swap(sellToken, buyToken common.Address, sellAmount AmountSource, minBuyAmount *big.Int, swapTarget common.Address, swapCallData []byte) (Instruction, error) {
	if err := requireAddress("sell token", sellToken); err != nil {
		return Instruction{}, err
	}
	if err := requireAddress("buy token", buyToken); err != nil {
		return Instruction{}, err
	}
	if err := requireAddress("swap target", swapTarget); err != nil {
		return Instruction{}, err
	}
	if minBuyAmount == nil || minBuyAmount.Sign() < 0 {
		return Instruction{}, clierr.New(clierr.CodeUsage, "swap requires a non-negative minimum output")
	}
	if len(swapCallData) == 0 {
		return Instruction{}, clierr.New(clierr.CodeUsage, "swap requires aggregator call data")
	}
	value, slot, err := EncodeAmount(sellAmount)
	if err != nil {
		return Instruction{}, err
	}
	params, err := routerABI.Pack("swap", sellToken, buyToken, value, slot, new(big.Int).Set(minBuyAmount), swapTarget, swapCallData)
	if err != nil {
		return Instruction{}, clierr.Wrap(clierr.CodeInternal, "pack swap params", err)
	}
	return Instruction{Kind: KindRouter, Opcode: OpSwap, Params: params, refs: refsOf(sellAmount)}, nil
}

// Protocol wraps pre-packed params as a protocol-dispatched instruction.
// The params are packed by the protocol adapter against its family ABI;
// amounts carries every AmountSource that went into them so output
// references stay validated.
func Protocol(protocolID string, op Opcode, params []byte, amounts ...AmountSource) (Instruction, error) {
	if strings.TrimSpace(protocolID) == "" {
		return Instruction{}, clierr.New(clierr.CodeUsage, "protocol instruction requires a protocol id")
	}
	if !op.IsProtocolOp() {
		return Instruction{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("opcode %s is not a protocol operation", op))
	}
	if len(params) == 0 {
		return Instruction{}, clierr.New(clierr.CodeUsage, "protocol instruction requires packed params")
	}
	return Instruction{
		Kind:       KindProtocol,
		Opcode:     op,
		ProtocolID: protocolID,
		Params:     params,
		refs:       refsOf(amounts...),
	}, nil
}

func requireAddress(name string, addr common.Address) error {
	if addr == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("instruction requires a %s address", name))
	}
	return nil
}

func refsOf(amounts ...AmountSource) []int {
	var refs []int
	for _, a := range amounts {
		if a.IsOutputRef() {
			refs = append(refs, a.OutputIndex())
		}
	}
	return refs
}
