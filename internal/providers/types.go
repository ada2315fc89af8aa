package providers

import (
	"context"

	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

type SwapProvider interface {
	Provider
	QuoteSwap(ctx context.Context, req SwapQuoteRequest) (model.SwapQuote, error)
}

type SwapTradeType string

const (
	SwapTradeTypeExactInput  SwapTradeType = "exact-input"
	SwapTradeTypeExactOutput SwapTradeType = "exact-output"
)

// SwapQuoteRequest asks an aggregator for a price. When Swapper is set the
// aggregator is also asked to build calldata executable by that address;
// providers that cannot build calldata return a quote without a transaction.
type SwapQuoteRequest struct {
	Chain           id.Chain
	FromAsset       id.Asset
	ToAsset         id.Asset
	AmountBaseUnits string
	AmountDecimal   string
	TradeType       SwapTradeType
	SlippagePct     *float64
	Swapper         string
}

// BorrowRateProvider reports a lending protocol's current variable borrow
// rate, used to size interest buffers on flash principals.
type BorrowRateProvider interface {
	Provider
	BorrowRates(ctx context.Context, protocol string, chain id.Chain, asset id.Asset) ([]model.BorrowRate, error)
}

// ShareMarketRequest selects share-accounted markets by loan/collateral
// pair or directly by market id.
type ShareMarketRequest struct {
	Chain      id.Chain
	LoanAsset  id.Asset
	Collateral id.Asset
	MarketID   string
}

// ShareMarketResolver looks up the on-chain parameters of a
// share-accounted market so its protocol adapter can be constructed.
type ShareMarketResolver interface {
	Provider
	ResolveShareMarket(ctx context.Context, req ShareMarketRequest) (model.ShareMarket, error)
}
