// Package instruction models the router's low-level operation list: typed
// constructors encode operation parameters into opaque calldata, and the
// Program arena tracks the off-chain mirror of the on-chain virtual output
// numbering so later instructions can consume earlier results by index.
package instruction

type Kind string

const (
	KindRouter   Kind = "router"
	KindProtocol Kind = "protocol"
)

// Opcode names double as the ABI method names the params are packed
// against.
type Opcode string

const (
	OpApprove            Opcode = "approve"
	OpPullToken          Opcode = "pullToken"
	OpPushToken          Opcode = "pushToken"
	OpAdd                Opcode = "add"
	OpFlashLoan          Opcode = "flashLoan"
	OpMaterializeOutput  Opcode = "materializeOutput"
	OpSwap               Opcode = "swap"
	OpDeposit            Opcode = "deposit"
	OpWithdraw           Opcode = "withdraw"
	OpBorrow             Opcode = "borrow"
	OpRepay              Opcode = "repay"
	OpDepositCollateral  Opcode = "depositCollateral"
	OpWithdrawCollateral Opcode = "withdrawCollateral"
	OpGetSupplyBalance   Opcode = "getSupplyBalance"
)

// ProducesOutput reports whether the opcode advances the virtual output
// numbering. The table is fixed per opcode and must mirror the router
// contract exactly: an instruction that fully consumes its input without
// retaining a result does not advance the counter, and repay always
// retains its refund even when the refund is zero.
func (o Opcode) ProducesOutput() bool {
	switch o {
	case OpPullToken, OpAdd, OpMaterializeOutput, OpSwap,
		OpWithdraw, OpBorrow, OpRepay, OpWithdrawCollateral, OpGetSupplyBalance:
		return true
	default:
		return false
	}
}

// IsProtocolOp reports whether the opcode is dispatched to a lending
// protocol module rather than handled by the router itself.
func (o Opcode) IsProtocolOp() bool {
	switch o {
	case OpDeposit, OpWithdraw, OpBorrow, OpRepay,
		OpDepositCollateral, OpWithdrawCollateral, OpGetSupplyBalance:
		return true
	default:
		return false
	}
}

// Instruction is one operation in an execution. Params is the opaque
// ABI-packed calldata (selector included) the router or protocol module
// executes; it is built once by a constructor and never mutated.
type Instruction struct {
	Kind       Kind   `json:"kind"`
	Opcode     Opcode `json:"opcode"`
	ProtocolID string `json:"protocol_id,omitempty"`
	Params     []byte `json:"params"`

	refs []int
}

// References returns the virtual output slots the instruction consumes, in
// parameter order.
func (i Instruction) References() []int {
	out := make([]int, len(i.refs))
	copy(out, i.refs)
	return out
}
