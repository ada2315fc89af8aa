// Package protocol renders lending operations into protocol-dispatched
// instructions. The protocol set is closed: every supported protocol id
// maps to one of three families (pool-wide accounting, sub-account vault
// scoping, share-based markets), and flow builders depend only on the
// Adapter interface.
package protocol

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/registry"
)

type Family string

const (
	FamilyStandardPool     Family = "standard_pool"
	FamilySubAccountVault  Family = "sub_account_vault"
	FamilyShareBasedMarket Family = "share_based_market"
)

const (
	ProtocolAaveV3     = "aave-v3"
	ProtocolSpark      = "spark"
	ProtocolEulerV2    = "euler-v2"
	ProtocolMorphoBlue = "morpho-blue"
)

var familyByProtocol = map[string]Family{
	ProtocolAaveV3:     FamilyStandardPool,
	ProtocolSpark:      FamilyStandardPool,
	ProtocolEulerV2:    FamilySubAccountVault,
	ProtocolMorphoBlue: FamilyShareBasedMarket,
}

// FamilyOf returns the family for a protocol id, or "" when the id is not
// in the supported set.
func FamilyOf(protocolID string) Family {
	return familyByProtocol[strings.ToLower(strings.TrimSpace(protocolID))]
}

// ProtocolIDs returns the supported protocol ids.
func ProtocolIDs() []string {
	return []string{ProtocolAaveV3, ProtocolSpark, ProtocolEulerV2, ProtocolMorphoBlue}
}

// Context identifies the position scope an adapter operates on: opaque
// market bytes for market-addressed families, or the vault triple for
// vault-scoped ones.
type Context struct {
	Market          []byte         `json:"market,omitempty"`
	BorrowVault     common.Address `json:"borrow_vault,omitempty"`
	CollateralVault common.Address `json:"collateral_vault,omitempty"`
	SubAccountIndex uint8          `json:"sub_account_index,omitempty"`
}

// MarketContext wraps opaque market bytes.
func MarketContext(market []byte) Context {
	return Context{Market: append([]byte(nil), market...)}
}

// VaultContext identifies a vault-scoped position.
func VaultContext(borrowVault, collateralVault common.Address, subAccountIndex uint8) Context {
	return Context{
		BorrowVault:     borrowVault,
		CollateralVault: collateralVault,
		SubAccountIndex: subAccountIndex,
	}
}

// MarketParams are the share-based market components. Field names follow
// the ABI tuple so params pack directly.
type MarketParams struct {
	LoanToken       common.Address `json:"loan_token"`
	CollateralToken common.Address `json:"collateral_token"`
	Oracle          common.Address `json:"oracle"`
	Irm             common.Address `json:"irm"`
	Lltv            *big.Int       `json:"lltv"`
}

// ShareMarketContext packs market params into the opaque market bytes a
// share-based adapter expects.
func ShareMarketContext(params MarketParams) (Context, error) {
	if err := validateMarketParams(params); err != nil {
		return Context{}, err
	}
	packed, err := marketParamsArgs.Pack(params)
	if err != nil {
		return Context{}, clierr.Wrap(clierr.CodeInternal, "pack share market context", err)
	}
	return Context{Market: packed}, nil
}

// Adapter is the lending capability every flow builder composes against.
// Every method appends to the program and returns the produced virtual
// output index, or -1 when the operation retains nothing.
type Adapter interface {
	ID() string
	Family() Family
	Deposit(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error)
	Withdraw(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error)
	Borrow(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error)
	Repay(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error)
	DepositCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, onBehalfOf common.Address) (int, error)
	WithdrawCollateral(p *instruction.Program, asset common.Address, amount instruction.AmountSource, to common.Address) (int, error)
	WithdrawAllCollateral(p *instruction.Program, asset common.Address, user, to common.Address) (int, error)
	SupplyBalance(p *instruction.Program, asset common.Address, user common.Address) (int, error)
}

// New constructs the adapter for a protocol id, validating the context
// shape the family requires. A malformed context is a wiring error on the
// caller's side and fails here, before any instruction is built.
func New(protocolID string, ctx Context) (Adapter, error) {
	id := strings.ToLower(strings.TrimSpace(protocolID))
	switch FamilyOf(id) {
	case FamilyStandardPool:
		if len(ctx.Market) == 0 {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("protocol %s requires market bytes in its context", id))
		}
		return &standardPool{id: id, market: append([]byte(nil), ctx.Market...)}, nil
	case FamilySubAccountVault:
		if ctx.BorrowVault == (common.Address{}) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("protocol %s requires a borrow vault address", id))
		}
		if ctx.CollateralVault == (common.Address{}) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("protocol %s requires a collateral vault address", id))
		}
		return &subAccountVault{
			id:              id,
			borrowVault:     ctx.BorrowVault,
			collateralVault: ctx.CollateralVault,
			subAccount:      ctx.SubAccountIndex,
		}, nil
	case FamilyShareBasedMarket:
		params, err := decodeMarketParams(ctx.Market)
		if err != nil {
			return nil, err
		}
		return &shareBasedMarket{id: id, params: params}, nil
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown lending protocol: %s", protocolID))
	}
}

var (
	standardPoolABI  = mustProtocolABI(registry.StandardPoolInstructionsABI)
	vaultABI         = mustProtocolABI(registry.SubAccountVaultInstructionsABI)
	shareABI         = mustProtocolABI(registry.ShareBasedMarketInstructionsABI)
	marketParamsArgs = mustMarketParamsArgs()
)

func mustProtocolABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustMarketParamsArgs() abi.Arguments {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "loanToken", Type: "address"},
		{Name: "collateralToken", Type: "address"},
		{Name: "oracle", Type: "address"},
		{Name: "irm", Type: "address"},
		{Name: "lltv", Type: "uint256"},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}

func validateMarketParams(params MarketParams) error {
	if params.LoanToken == (common.Address{}) || params.CollateralToken == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "share market context requires loan and collateral token addresses")
	}
	if params.Lltv == nil || params.Lltv.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "share market context requires a positive lltv")
	}
	return nil
}

func decodeMarketParams(market []byte) (MarketParams, error) {
	if len(market) == 0 {
		return MarketParams{}, clierr.New(clierr.CodeUsage, "share market context requires market bytes")
	}
	values, err := marketParamsArgs.Unpack(market)
	if err != nil {
		return MarketParams{}, clierr.Wrap(clierr.CodeUsage, "decode share market context", err)
	}
	if len(values) != 1 {
		return MarketParams{}, clierr.New(clierr.CodeUsage, "share market context is malformed")
	}
	params := *abi.ConvertType(values[0], new(MarketParams)).(*MarketParams)
	if err := validateMarketParams(params); err != nil {
		return MarketParams{}, err
	}
	return params, nil
}

func requireAddress(name string, addr common.Address) error {
	if addr == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("lending operation requires a %s address", name))
	}
	return nil
}
