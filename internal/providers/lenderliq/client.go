package lenderliq

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/leverlabs/lever-cli/internal/engine/flashloan"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/registry"
)

const erc20BalanceABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var erc20ABI = mustERC20ABI(erc20BalanceABI)

func mustERC20ABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// SnapshotRequest names the token whose flash liquidity should be read.
// Required, when set, marks lenders that cannot cover that draw as
// ineligible in the report.
type SnapshotRequest struct {
	Chain    id.Chain
	Token    id.Asset
	RPCURL   string
	Required *big.Int
}

type Client struct {
	now func() time.Time
}

func New() *Client {
	return &Client{now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "lenders",
		Type:        "liquidity",
		RequiresKey: false,
		Capabilities: []string{
			"lenders.liquidity",
		},
	}
}

// Snapshot reads each flash lender's balance of the token over JSON-RPC.
// It returns one report row per lender in preference order plus the
// liquidity snapshot the lender selector consumes. Lenders that are not
// deployed on the chain, or whose balance query fails, appear in the
// report but not in the snapshot.
func (c *Client) Snapshot(ctx context.Context, req SnapshotRequest) ([]model.LenderLiquidity, flashloan.Snapshot, error) {
	if req.Chain.EVMChainID == 0 {
		return nil, nil, clierr.New(clierr.CodeUsage, "lender snapshot requires a resolved chain")
	}
	token := strings.ToLower(strings.TrimSpace(req.Token.Address))
	if !common.IsHexAddress(token) {
		return nil, nil, clierr.New(clierr.CodeUsage, "lender snapshot requires a token with an on-chain address")
	}
	rpcURL := strings.TrimSpace(req.RPCURL)
	if rpcURL == "" {
		return nil, nil, clierr.New(clierr.CodeUsage, "lender snapshot requires an rpc url")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("dial rpc %s", rpcURL), err)
	}
	defer client.Close()

	tokenAddr := common.HexToAddress(token)
	fetchedAt := c.now().UTC().Format(time.RFC3339)
	snap := flashloan.Snapshot{}
	rows := make([]model.LenderLiquidity, 0, len(flashloan.Providers()))
	for _, p := range flashloan.Providers() {
		row := model.LenderLiquidity{
			Provider:  p.ID,
			ChainID:   req.Chain.CAIP2,
			Token:     token,
			FetchedAt: fetchedAt,
		}

		lender, deployed := registry.FlashLender(p.ID, req.Chain.EVMChainID)
		if !deployed {
			row.Reason = fmt.Sprintf("not deployed on %s", req.Chain.Slug)
			rows = append(rows, row)
			continue
		}
		row.LenderAddress = strings.ToLower(lender)
		if req.Required != nil {
			row.FeeBaseUnits = flashloan.Fee(p.ID, req.Required).String()
		}

		balance, err := c.balanceOf(ctx, client, tokenAddr, common.HexToAddress(lender))
		if err != nil {
			row.Reason = fmt.Sprintf("balance query failed: %v", err)
			rows = append(rows, row)
			continue
		}
		snap[p.ID] = balance
		row.AvailableBaseUnits = balance.String()
		if req.Required != nil && balance.Cmp(req.Required) < 0 {
			row.Reason = "insufficient liquidity"
		} else {
			row.Eligible = true
		}
		rows = append(rows, row)
	}
	return rows, snap, nil
}

func (c *Client) balanceOf(ctx context.Context, client *ethclient.Client, token, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned a non-integer value")
	}
	return balance, nil
}
