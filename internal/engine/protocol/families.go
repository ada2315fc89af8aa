package protocol

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
)

// standardPool covers protocols with one pool-wide balance per asset.
// Collateral operations share the deposit/withdraw accounting, and a full
// withdrawal is the max-uint sweep literal the pool contract resolves to
// the current balance.
type standardPool struct {
	id     string
	market []byte
}

func (a *standardPool) ID() string     { return a.id }
func (a *standardPool) Family() Family { return FamilyStandardPool }

func (a *standardPool) Deposit(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpDeposit, asset, amount, onBehalfOf)
}

func (a *standardPool) Withdraw(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpWithdraw, asset, amount, to)
}

func (a *standardPool) Borrow(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpBorrow, asset, amount, onBehalfOf)
}

func (a *standardPool) Repay(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpRepay, asset, amount, onBehalfOf)
}

func (a *standardPool) DepositCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpDepositCollateral, asset, amount, onBehalfOf)
}

func (a *standardPool) WithdrawCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpWithdrawCollateral, asset, amount, to)
}

func (a *standardPool) WithdrawAllCollateral(p *instruction.Program, asset common.Address, user, to common.Address) (int, error) {
	return a.WithdrawCollateral(p, asset, instruction.Sweep(), to)
}

func (a *standardPool) SupplyBalance(p *instruction.Program, asset common.Address, user common.Address) (int, error) {
	if err := requireAddress("asset", asset); err != nil {
		return 0, err
	}
	if err := requireAddress("user", user); err != nil {
		return 0, err
	}
	params, err := standardPoolABI.Pack(string(instruction.OpGetSupplyBalance), a.market, asset, user)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "pack getSupplyBalance params", err)
	}
	ins, err := instruction.Protocol(a.id, instruction.OpGetSupplyBalance, params)
	if err != nil {
		return 0, err
	}
	return p.Append(ins)
}

func (a *standardPool) appendAmountOp(p *instruction.Program, op instruction.Opcode, asset common.Address, amount instruction.AmountSource, account common.Address) (int, error) {
	if err := requireAddress("asset", asset); err != nil {
		return 0, err
	}
	if err := requireAddress("account", account); err != nil {
		return 0, err
	}
	value, slot, err := instruction.EncodeAmount(amount)
	if err != nil {
		return 0, err
	}
	params, err := standardPoolABI.Pack(string(op), a.market, asset, value, slot, account)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s params", op), err)
	}
	ins, err := instruction.Protocol(a.id, op, params, amount)
	if err != nil {
		return 0, err
	}
	return p.Append(ins)
}

// subAccountVault covers vault-scoped protocols: every operation carries
// the (borrow vault, collateral vault, sub-account) triple and the vaults
// imply their assets.
type subAccountVault struct {
	id              string
	borrowVault     common.Address
	collateralVault common.Address
	subAccount      uint8
}

func (a *subAccountVault) ID() string     { return a.id }
func (a *subAccountVault) Family() Family { return FamilySubAccountVault }

func (a *subAccountVault) Deposit(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpDeposit, amount)
}

func (a *subAccountVault) Withdraw(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpWithdraw, amount)
}

func (a *subAccountVault) Borrow(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpBorrow, amount)
}

func (a *subAccountVault) Repay(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpRepay, amount)
}

func (a *subAccountVault) DepositCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpDepositCollateral, amount)
}

func (a *subAccountVault) WithdrawCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpWithdrawCollateral, amount)
}

func (a *subAccountVault) WithdrawAllCollateral(p *instruction.Program, asset common.Address, user, to common.Address) (int, error) {
	return a.WithdrawCollateral(p, asset, instruction.Sweep(), to)
}

func (a *subAccountVault) SupplyBalance(p *instruction.Program, asset common.Address, user common.Address) (int, error) {
	params, err := vaultABI.Pack(string(instruction.OpGetSupplyBalance), a.borrowVault, a.collateralVault, a.subAccount)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "pack getSupplyBalance params", err)
	}
	ins, err := instruction.Protocol(a.id, instruction.OpGetSupplyBalance, params)
	if err != nil {
		return 0, err
	}
	return p.Append(ins)
}

func (a *subAccountVault) appendAmountOp(p *instruction.Program, op instruction.Opcode, amount instruction.AmountSource) (int, error) {
	value, slot, err := instruction.EncodeAmount(amount)
	if err != nil {
		return 0, err
	}
	params, err := vaultABI.Pack(string(op), a.borrowVault, a.collateralVault, a.subAccount, value, slot)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s params", op), err)
	}
	ins, err := instruction.Protocol(a.id, op, params, amount)
	if err != nil {
		return 0, err
	}
	return p.Append(ins)
}

// shareBasedMarket covers protocols whose positions are share-accounted
// against one isolated market. The collateral balance is not knowable
// off-chain at execution time, so a full withdrawal first queries the
// supply balance and references the result.
type shareBasedMarket struct {
	id     string
	params MarketParams
}

func (a *shareBasedMarket) ID() string     { return a.id }
func (a *shareBasedMarket) Family() Family { return FamilyShareBasedMarket }

func (a *shareBasedMarket) Deposit(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpDeposit, amount, onBehalfOf)
}

func (a *shareBasedMarket) Withdraw(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpWithdraw, amount, to)
}

func (a *shareBasedMarket) Borrow(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpBorrow, amount, onBehalfOf)
}

func (a *shareBasedMarket) Repay(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpRepay, amount, onBehalfOf)
}

func (a *shareBasedMarket) DepositCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpDepositCollateral, amount, onBehalfOf)
}

func (a *shareBasedMarket) WithdrawCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error) {
	return a.appendAmountOp(p, instruction.OpWithdrawCollateral, amount, to)
}

func (a *shareBasedMarket) WithdrawAllCollateral(p *instruction.Program, asset common.Address, user, to common.Address) (int, error) {
	balanceIdx, err := a.SupplyBalance(p, asset, user)
	if err != nil {
		return 0, err
	}
	return a.WithdrawCollateral(p, asset, instruction.OutputRef(balanceIdx), to)
}

func (a *shareBasedMarket) SupplyBalance(p *instruction.Program, asset common.Address, user common.Address) (int, error) {
	if err := requireAddress("user", user); err != nil {
		return 0, err
	}
	params, err := shareABI.Pack(string(instruction.OpGetSupplyBalance), a.params, user)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "pack getSupplyBalance params", err)
	}
	ins, err := instruction.Protocol(a.id, instruction.OpGetSupplyBalance, params)
	if err != nil {
		return 0, err
	}
	return p.Append(ins)
}

func (a *shareBasedMarket) appendAmountOp(p *instruction.Program, op instruction.Opcode, amount instruction.AmountSource, account common.Address) (int, error) {
	if err := requireAddress("account", account); err != nil {
		return 0, err
	}
	value, slot, err := instruction.EncodeAmount(amount)
	if err != nil {
		return 0, err
	}
	params, err := shareABI.Pack(string(op), a.params, value, slot, account)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s params", op), err)
	}
	ins, err := instruction.Protocol(a.id, op, params, amount)
	if err != nil {
		return 0, err
	}
	return p.Append(ins)
}
