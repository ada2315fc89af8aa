package aave

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/httpx"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/registry"
)

const defaultEndpoint = registry.AaveGraphQLEndpoint

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
		Name:        "aave",
		Type:        "rates",
		RequiresKey: false,
		Capabilities: []string{
			"rates.borrow",
		},
	}
}

const reservesQuery = `query Markets($request: MarketsRequest!) {
  markets(request: $request) {
    name
    chain { chainId name }
    reserves {
      underlyingToken { address symbol decimals }
      borrowInfo { apy { value } utilizationRate { value } }
    }
  }
}`

type marketsResponse struct {
	Data struct {
		Markets []aaveMarket `json:"markets"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type aaveMarket struct {
	Name  string `json:"name"`
	Chain struct {
		ChainID int64  `json:"chainId"`
		Name    string `json:"name"`
	} `json:"chain"`
	Reserves []aaveReserve `json:"reserves"`
}

type aaveReserve struct {
	UnderlyingToken struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"underlyingToken"`
	BorrowInfo *struct {
		APY struct {
			Value string `json:"value"`
		} `json:"apy"`
		UtilizationRate struct {
			Value string `json:"value"`
		} `json:"utilizationRate"`
	} `json:"borrowInfo"`
}

// BorrowRates reports the current variable borrow rate of each reserve
// matching the asset. Rates come back as fractions and are published in
// both bps and percent.
func (c *Client) BorrowRates(ctx context.Context, protocol string, chain id.Chain, asset id.Asset) ([]model.BorrowRate, error) {
	if !matchesProtocol(protocol) {
		return nil, clierr.New(clierr.CodeUnsupported, "aave adapter supports only protocol=aave-v3")
	}
	markets, err := c.fetchMarkets(ctx, chain)
	if err != nil {
		return nil, err
	}

	out := make([]model.BorrowRate, 0)
	for _, m := range markets {
		for _, r := range m.Reserves {
			if !matchesReserveAsset(r, asset) {
				continue
			}
			if r.BorrowInfo == nil {
				continue
			}
			rate := parseFloat(r.BorrowInfo.APY.Value)
			out = append(out, model.BorrowRate{
				Protocol:    "aave-v3",
				ChainID:     chain.CAIP2,
				AssetID:     canonicalAssetID(asset, r.UnderlyingToken.Address),
				RateBps:     int64(math.Round(rate * 10000)),
				RateAPY:     rate * 100,
				Utilization: parseFloat(r.BorrowInfo.UtilizationRate.Value),
				SourceURL:   "https://app.aave.com",
				FetchedAt:   c.now().UTC().Format(time.RFC3339),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RateBps != out[j].RateBps {
			return out[i].RateBps > out[j].RateBps
		}
		return out[i].AssetID < out[j].AssetID
	})
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnsupported, "no aave borrow rate for requested chain/asset")
	}
	return out, nil
}

func (c *Client) fetchMarkets(ctx context.Context, chain id.Chain) ([]aaveMarket, error) {
	body, err := json.Marshal(map[string]any{
		"query": reservesQuery,
		"variables": map[string]any{
			"request": map[string]any{
				"chainIds": []int64{chain.EVMChainID},
			},
		},
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "marshal aave query", err)
	}

	var resp marketsResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.endpoint, body, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("aave graphql error: %s", resp.Errors[0].Message))
	}
	if len(resp.Data.Markets) == 0 {
		return nil, clierr.New(clierr.CodeUnsupported, "aave has no market for requested chain")
	}
	return resp.Data.Markets, nil
}

func matchesProtocol(protocol string) bool {
	p := strings.ToLower(strings.TrimSpace(protocol))
	return p == "" || p == "aave" || p == "aave-v3"
}

func matchesReserveAsset(r aaveReserve, asset id.Asset) bool {
	if strings.EqualFold(strings.TrimSpace(r.UnderlyingToken.Address), strings.TrimSpace(asset.Address)) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.UnderlyingToken.Symbol), strings.TrimSpace(asset.Symbol))
}

func canonicalAssetID(asset id.Asset, address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" {
		return asset.AssetID
	}
	return fmt.Sprintf("%s/erc20:%s", asset.ChainID, addr)
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
