package oneinch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/httpx"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/providers"
)

const defaultBase = "https://api.1inch.dev"

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: defaultBase, apiKey: apiKey, now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "1inch",
		Type:          "swap",
		RequiresKey:   true,
		KeyEnvVarName: "LEVER_1INCH_API_KEY",
		Capabilities: []string{
			"swap.quote",
			"swap.calldata",
		},
		CapabilityAuth: []model.ProviderCapabilityAuth{
			{
				Capability: "swap.quote",
				KeyEnvVar:  "LEVER_1INCH_API_KEY",
			},
		},
	}
}

type quoteResponse struct {
	DstAmount string  `json:"dstAmount"`
	Gas       float64 `json:"gas"`
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To   string `json:"to"`
		Data string `json:"data"`
	} `json:"tx"`
}

func (c *Client) QuoteSwap(ctx context.Context, req providers.SwapQuoteRequest) (model.SwapQuote, error) {
	if req.Chain.EVMChainID == 0 {
		return model.SwapQuote{}, clierr.New(clierr.CodeUsage, "1inch swap quotes require a resolved chain")
	}
	if c.apiKey == "" {
		return model.SwapQuote{}, clierr.New(clierr.CodeAuth, "missing required API key for 1inch (LEVER_1INCH_API_KEY)")
	}
	if req.TradeType == providers.SwapTradeTypeExactOutput {
		return model.SwapQuote{}, clierr.New(clierr.CodeUnsupported, "1inch supports only --type exact-input")
	}
	chainID := strconv.FormatInt(req.Chain.EVMChainID, 10)

	dstAmount := ""
	var tx *model.SwapTransaction
	if req.Swapper != "" {
		vals := url.Values{}
		vals.Set("src", req.FromAsset.Address)
		vals.Set("dst", req.ToAsset.Address)
		vals.Set("amount", req.AmountBaseUnits)
		vals.Set("from", req.Swapper)
		vals.Set("origin", req.Swapper)
		vals.Set("disableEstimate", "true")
		if req.SlippagePct != nil {
			vals.Set("slippage", strconv.FormatFloat(*req.SlippagePct, 'f', -1, 64))
		} else {
			vals.Set("slippage", "1")
		}

		var resp swapResponse
		if err := c.getJSON(ctx, fmt.Sprintf("%s/swap/v6.0/%s/swap?%s", c.baseURL, chainID, vals.Encode()), &resp); err != nil {
			return model.SwapQuote{}, err
		}
		if resp.DstAmount == "" {
			return model.SwapQuote{}, clierr.New(clierr.CodeUnavailable, "1inch swap missing destination amount")
		}
		if resp.Tx.To == "" || resp.Tx.Data == "" {
			return model.SwapQuote{}, clierr.New(clierr.CodeUnavailable, "1inch swap missing transaction calldata")
		}
		dstAmount = resp.DstAmount
		tx = &model.SwapTransaction{To: resp.Tx.To, Data: resp.Tx.Data}
	} else {
		vals := url.Values{}
		vals.Set("src", req.FromAsset.Address)
		vals.Set("dst", req.ToAsset.Address)
		vals.Set("amount", req.AmountBaseUnits)
		vals.Set("includeGas", "true")

		var resp quoteResponse
		if err := c.getJSON(ctx, fmt.Sprintf("%s/swap/v6.0/%s/quote?%s", c.baseURL, chainID, vals.Encode()), &resp); err != nil {
			return model.SwapQuote{}, err
		}
		if resp.DstAmount == "" {
			return model.SwapQuote{}, clierr.New(clierr.CodeUnavailable, "1inch quote missing destination amount")
		}
		dstAmount = resp.DstAmount
	}

	return model.SwapQuote{
		Provider:    "1inch",
		ChainID:     req.Chain.CAIP2,
		FromAssetID: req.FromAsset.AssetID,
		ToAssetID:   req.ToAsset.AssetID,
		TradeType:   string(providers.SwapTradeTypeExactInput),
		InputAmount: model.AmountInfo{
			AmountBaseUnits: req.AmountBaseUnits,
			AmountDecimal:   req.AmountDecimal,
			Decimals:        req.FromAsset.Decimals,
		},
		EstimatedOut: model.AmountInfo{
			AmountBaseUnits: dstAmount,
			AmountDecimal:   id.FormatDecimalCompat(dstAmount, req.ToAsset.Decimals),
			Decimals:        req.ToAsset.Decimals,
		},
		EstimatedGasUSD: 0,
		PriceImpactPct:  0,
		Route:           "1inch",
		Transaction:     tx,
		SourceURL:       "https://app.1inch.io",
		FetchedAt:       c.now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build 1inch request", err)
	}
	hReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	_, err = c.http.DoJSON(ctx, hReq, out)
	return err
}
