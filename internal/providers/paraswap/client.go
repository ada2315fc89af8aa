package paraswap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/httpx"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/providers"
)

const defaultBase = "https://api.paraswap.io"

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

// New builds a ParaSwap client. The API key is optional; when present it
// is sent on every request to lift the anonymous rate limit.
func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient, baseURL: defaultBase, apiKey: apiKey, now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "paraswap",
		Type:          "swap",
		RequiresKey:   false,
		KeyEnvVarName: "LEVER_PARASWAP_API_KEY",
		Capabilities: []string{
			"swap.quote",
			"swap.calldata",
		},
	}
}

// pricesResponse keeps the priceRoute raw because the transactions
// endpoint wants it echoed back verbatim.
type pricesResponse struct {
	PriceRoute json.RawMessage `json:"priceRoute"`
	Error      string          `json:"error"`
}

type priceRoute struct {
	SrcAmount  string `json:"srcAmount"`
	DestAmount string `json:"destAmount"`
	GasCostUSD string `json:"gasCostUSD"`
	SrcUSD     string `json:"srcUSD"`
	DestUSD    string `json:"destUSD"`
}

type transactionsResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Error string `json:"error"`
}

func (c *Client) QuoteSwap(ctx context.Context, req providers.SwapQuoteRequest) (model.SwapQuote, error) {
	if req.Chain.EVMChainID == 0 {
		return model.SwapQuote{}, clierr.New(clierr.CodeUsage, "paraswap swap quotes require a resolved chain")
	}
	tradeType := req.TradeType
	if tradeType == "" {
		tradeType = providers.SwapTradeTypeExactInput
	}
	side := "SELL"
	if tradeType == providers.SwapTradeTypeExactOutput {
		side = "BUY"
	}
	chainID := strconv.FormatInt(req.Chain.EVMChainID, 10)

	vals := url.Values{}
	vals.Set("srcToken", req.FromAsset.Address)
	vals.Set("destToken", req.ToAsset.Address)
	vals.Set("srcDecimals", strconv.Itoa(req.FromAsset.Decimals))
	vals.Set("destDecimals", strconv.Itoa(req.ToAsset.Decimals))
	vals.Set("amount", req.AmountBaseUnits)
	vals.Set("side", side)
	vals.Set("network", chainID)

	var prices pricesResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/prices?%s", c.baseURL, vals.Encode()), nil, &prices); err != nil {
		return model.SwapQuote{}, err
	}
	if prices.Error != "" {
		return model.SwapQuote{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("paraswap prices error: %s", prices.Error))
	}
	if len(prices.PriceRoute) == 0 {
		return model.SwapQuote{}, clierr.New(clierr.CodeUnavailable, "paraswap prices missing price route")
	}
	var route priceRoute
	if err := json.Unmarshal(prices.PriceRoute, &route); err != nil {
		return model.SwapQuote{}, clierr.Wrap(clierr.CodeUnavailable, "decode paraswap price route", err)
	}
	if route.DestAmount == "" || route.SrcAmount == "" {
		return model.SwapQuote{}, clierr.New(clierr.CodeUnavailable, "paraswap price route missing amounts")
	}

	var tx *model.SwapTransaction
	if req.Swapper != "" {
		built, err := c.buildTransaction(ctx, chainID, req, route, prices.PriceRoute)
		if err != nil {
			return model.SwapQuote{}, err
		}
		tx = built
	}

	inputAmountBase := req.AmountBaseUnits
	inputAmountDecimal := req.AmountDecimal
	if tradeType == providers.SwapTradeTypeExactOutput {
		inputAmountBase = route.SrcAmount
		inputAmountDecimal = id.FormatDecimalCompat(route.SrcAmount, req.FromAsset.Decimals)
	}

	return model.SwapQuote{
		Provider:    "paraswap",
		ChainID:     req.Chain.CAIP2,
		FromAssetID: req.FromAsset.AssetID,
		ToAssetID:   req.ToAsset.AssetID,
		TradeType:   string(tradeType),
		InputAmount: model.AmountInfo{
			AmountBaseUnits: inputAmountBase,
			AmountDecimal:   inputAmountDecimal,
			Decimals:        req.FromAsset.Decimals,
		},
		EstimatedOut: model.AmountInfo{
			AmountBaseUnits: route.DestAmount,
			AmountDecimal:   id.FormatDecimalCompat(route.DestAmount, req.ToAsset.Decimals),
			Decimals:        req.ToAsset.Decimals,
		},
		EstimatedGasUSD: parseUSD(route.GasCostUSD),
		PriceImpactPct:  0,
		SourceUSD:       parseUSD(route.SrcUSD),
		DestUSD:         parseUSD(route.DestUSD),
		Route:           "paraswap",
		Transaction:     tx,
		SourceURL:       "https://app.paraswap.io",
		FetchedAt:       c.now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *Client) buildTransaction(ctx context.Context, chainID string, req providers.SwapQuoteRequest, route priceRoute, rawRoute json.RawMessage) (*model.SwapTransaction, error) {
	slippageBps := int64(100)
	if req.SlippagePct != nil {
		slippageBps = int64(*req.SlippagePct * 100)
	}
	body, err := json.Marshal(map[string]any{
		"srcToken":     req.FromAsset.Address,
		"destToken":    req.ToAsset.Address,
		"srcDecimals":  req.FromAsset.Decimals,
		"destDecimals": req.ToAsset.Decimals,
		"srcAmount":    route.SrcAmount,
		"slippage":     slippageBps,
		"priceRoute":   rawRoute,
		"userAddress":  req.Swapper,
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "marshal paraswap transaction request", err)
	}

	var resp transactionsResponse
	url := fmt.Sprintf("%s/transactions/%s?ignoreChecks=true", c.baseURL, chainID)
	if err := c.doJSON(ctx, http.MethodPost, url, body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("paraswap transactions error: %s", resp.Error))
	}
	if resp.To == "" || resp.Data == "" {
		return nil, clierr.New(clierr.CodeUnavailable, "paraswap transactions missing calldata")
	}
	return &model.SwapTransaction{To: resp.To, Data: resp.Data}, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["X-API-KEY"] = c.apiKey
	}
	if body != nil {
		_, err := httpx.DoBodyJSON(ctx, c.http, method, url, body, headers, out)
		return err
	}
	hReq, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build paraswap request", err)
	}
	for k, v := range headers {
		hReq.Header.Set(k, v)
	}
	_, err = c.http.DoJSON(ctx, hReq, out)
	return err
}

func parseUSD(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
