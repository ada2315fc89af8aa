package morpho

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"time"

	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/httpx"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/providers"
	"github.com/leverlabs/lever-cli/internal/registry"
)

const defaultEndpoint = registry.MorphoGraphQLEndpoint

type Client struct {
	http     *httpx.Client
	endpoint string
	now      func() time.Time
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, endpoint: defaultEndpoint, now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "morpho",
		Type:        "rates+markets",
		RequiresKey: false,
		Capabilities: []string{
			"rates.borrow",
			"markets.resolve",
		},
	}
}

const marketsQuery = `query Markets($first:Int,$where:MarketFilters,$orderBy:MarketOrderBy,$orderDirection:OrderDirection){
  markets(first:$first, where:$where, orderBy:$orderBy, orderDirection:$orderDirection){
    items{
      id
      uniqueKey
      lltv
      oracleAddress
      irmAddress
      loanAsset{ address symbol decimals chain{ id network } }
      collateralAsset{ address symbol }
      state{ borrowApy utilization supplyAssetsUsd }
    }
  }
}`

type marketsResponse struct {
	Data struct {
		Markets struct {
			Items []morphoMarket `json:"items"`
		} `json:"markets"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type morphoMarket struct {
	ID            string       `json:"id"`
	UniqueKey     string       `json:"uniqueKey"`
	LLTV          bigintString `json:"lltv"`
	OracleAddress string       `json:"oracleAddress"`
	IRMAddress    string       `json:"irmAddress"`
	LoanAsset     struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
		Chain    struct {
			ID      int64  `json:"id"`
			Network string `json:"network"`
		} `json:"chain"`
	} `json:"loanAsset"`
	CollateralAsset *struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"collateralAsset"`
	State struct {
		BorrowAPY       float64 `json:"borrowApy"`
		Utilization     float64 `json:"utilization"`
		SupplyAssetsUSD float64 `json:"supplyAssetsUsd"`
	} `json:"state"`
}

// BorrowRates reports current variable borrow rates across the listed
// markets lending the asset, deepest market first.
func (c *Client) BorrowRates(ctx context.Context, protocol string, chain id.Chain, asset id.Asset) ([]model.BorrowRate, error) {
	if !matchesProtocol(protocol) {
		return nil, clierr.New(clierr.CodeUnsupported, "morpho adapter supports only protocol=morpho-blue")
	}
	markets, err := c.fetchMarkets(ctx, chain, asset, "")
	if err != nil {
		return nil, err
	}

	out := make([]model.BorrowRate, 0, len(markets))
	for _, m := range markets {
		out = append(out, model.BorrowRate{
			Protocol:    "morpho-blue",
			ChainID:     chain.CAIP2,
			AssetID:     canonicalAssetID(asset, m.LoanAsset.Address),
			RateBps:     int64(math.Round(m.State.BorrowAPY * 10000)),
			RateAPY:     m.State.BorrowAPY * 100,
			Utilization: m.State.Utilization,
			SourceURL:   "https://app.morpho.org",
			FetchedAt:   c.now().UTC().Format(time.RFC3339),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RateBps != out[j].RateBps {
			return out[i].RateBps > out[j].RateBps
		}
		return out[i].AssetID < out[j].AssetID
	})
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnsupported, "no morpho borrow rate for requested chain/asset")
	}
	return out, nil
}

// ResolveShareMarket finds the deepest listed market for a loan/collateral
// pair, or looks one up by unique key, and returns the immutable
// parameters the on-chain adapter is constructed from.
func (c *Client) ResolveShareMarket(ctx context.Context, req providers.ShareMarketRequest) (model.ShareMarket, error) {
	markets, err := c.fetchMarkets(ctx, req.Chain, req.LoanAsset, req.MarketID)
	if err != nil {
		return model.ShareMarket{}, err
	}

	wantCollateral := normalizeEVMAddress(req.Collateral.Address)
	var best *morphoMarket
	for i := range markets {
		m := &markets[i]
		if m.CollateralAsset == nil {
			continue
		}
		if req.MarketID != "" && !strings.EqualFold(strings.TrimSpace(m.UniqueKey), strings.TrimSpace(req.MarketID)) {
			continue
		}
		if wantCollateral != "" && normalizeEVMAddress(m.CollateralAsset.Address) != wantCollateral {
			continue
		}
		if best == nil || m.State.SupplyAssetsUSD > best.State.SupplyAssetsUSD {
			best = m
		}
	}
	if best == nil {
		return model.ShareMarket{}, clierr.New(clierr.CodeUnsupported, "no morpho market for requested loan/collateral pair")
	}

	lltv := best.LLTV.normalized()
	if lltv == "0" {
		return model.ShareMarket{}, clierr.New(clierr.CodeUnavailable, "morpho market missing lltv")
	}
	oracle := normalizeEVMAddress(best.OracleAddress)
	irm := normalizeEVMAddress(best.IRMAddress)
	if oracle == "" || irm == "" {
		return model.ShareMarket{}, clierr.New(clierr.CodeUnavailable, "morpho market missing oracle or irm address")
	}

	return model.ShareMarket{
		Protocol:        "morpho-blue",
		ChainID:         req.Chain.CAIP2,
		MarketID:        strings.TrimSpace(best.UniqueKey),
		LoanToken:       normalizeEVMAddress(best.LoanAsset.Address),
		CollateralToken: normalizeEVMAddress(best.CollateralAsset.Address),
		Oracle:          oracle,
		IRM:             irm,
		LLTV:            lltv,
		BorrowRateBps:   int64(math.Round(best.State.BorrowAPY * 10000)),
		SupplyAssetsUSD: best.State.SupplyAssetsUSD,
		SourceURL:       "https://app.morpho.org",
		FetchedAt:       c.now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *Client) fetchMarkets(ctx context.Context, chain id.Chain, loanAsset id.Asset, marketID string) ([]morphoMarket, error) {
	if chain.EVMChainID == 0 {
		return nil, clierr.New(clierr.CodeUsage, "morpho requires a resolved chain")
	}
	where := map[string]any{
		"chainId_in": []int64{chain.EVMChainID},
		"listed":     true,
	}
	if key := strings.TrimSpace(marketID); key != "" {
		where["uniqueKey_in"] = []string{key}
	} else if addr := strings.TrimSpace(loanAsset.Address); addr != "" {
		where["loanAssetAddress_in"] = []string{strings.ToLower(addr)}
	}
	body, err := json.Marshal(map[string]any{
		"query": marketsQuery,
		"variables": map[string]any{
			"first":          100,
			"orderBy":        "SupplyAssetsUsd",
			"orderDirection": "Desc",
			"where":          where,
		},
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "marshal morpho query", err)
	}

	var resp marketsResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.endpoint, body, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("morpho graphql error: %s", resp.Errors[0].Message))
	}
	if len(resp.Data.Markets.Items) == 0 {
		return nil, clierr.New(clierr.CodeUnsupported, "morpho has no market for requested chain/asset")
	}
	return resp.Data.Markets.Items, nil
}

func matchesProtocol(protocol string) bool {
	p := strings.ToLower(strings.TrimSpace(protocol))
	return p == "" || p == "morpho" || p == "morpho-blue"
}

func canonicalAssetID(asset id.Asset, address string) string {
	addr := normalizeEVMAddress(address)
	if addr == "" {
		return asset.AssetID
	}
	return fmt.Sprintf("%s/erc20:%s", asset.ChainID, addr)
}

type bigintString string

func (b *bigintString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*b = "0"
		return nil
	}
	if strings.HasPrefix(raw, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = bigintString(strings.TrimSpace(s))
		return nil
	}
	*b = bigintString(raw)
	return nil
}

func (b bigintString) normalized() string {
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return "0"
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() <= 0 {
		return "0"
	}
	return n.String()
}

func normalizeEVMAddress(address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return ""
	}
	return addr
}
