package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name           string                   `json:"name"`
	Type           string                   `json:"type"`
	RequiresKey    bool                     `json:"requires_key"`
	Capabilities   []string                 `json:"capabilities"`
	KeyEnvVarName  string                   `json:"key_env_var,omitempty"`
	CapabilityAuth []ProviderCapabilityAuth `json:"capability_auth,omitempty"`
}

type ProviderCapabilityAuth struct {
	Capability  string `json:"capability"`
	KeyEnvVar   string `json:"key_env_var"`
	Description string `json:"description,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// SwapTransaction is the aggregator-built execution leg of a quote. Empty
// when the aggregator was asked for a price only.
type SwapTransaction struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type SwapQuote struct {
	Provider        string           `json:"provider"`
	ChainID         string           `json:"chain_id"`
	FromAssetID     string           `json:"from_asset_id"`
	ToAssetID       string           `json:"to_asset_id"`
	TradeType       string           `json:"trade_type"`
	InputAmount     AmountInfo       `json:"input_amount"`
	EstimatedOut    AmountInfo       `json:"estimated_out"`
	EstimatedGasUSD float64          `json:"estimated_gas_usd"`
	PriceImpactPct  float64          `json:"price_impact_pct"`
	SourceUSD       float64          `json:"source_usd,omitempty"`
	DestUSD         float64          `json:"dest_usd,omitempty"`
	Route           string           `json:"route"`
	Transaction     *SwapTransaction `json:"transaction,omitempty"`
	SourceURL       string           `json:"source_url,omitempty"`
	FetchedAt       string           `json:"fetched_at"`
}

// BorrowRate is a protocol's current variable borrow rate for one asset,
// used to size the interest buffer on flash principals.
type BorrowRate struct {
	Protocol    string  `json:"protocol"`
	ChainID     string  `json:"chain_id"`
	AssetID     string  `json:"asset_id"`
	RateBps     int64   `json:"rate_bps"`
	RateAPY     float64 `json:"rate_apy"`
	Utilization float64 `json:"utilization,omitempty"`
	SourceURL   string  `json:"source_url,omitempty"`
	FetchedAt   string  `json:"fetched_at"`
}

// ShareMarket identifies a share-accounted lending market and the immutable
// parameters its protocol adapter needs to target it on chain.
type ShareMarket struct {
	Protocol        string  `json:"protocol"`
	ChainID         string  `json:"chain_id"`
	MarketID        string  `json:"market_id"`
	LoanToken       string  `json:"loan_token"`
	CollateralToken string  `json:"collateral_token"`
	Oracle          string  `json:"oracle"`
	IRM             string  `json:"irm"`
	LLTV            string  `json:"lltv"`
	BorrowRateBps   int64   `json:"borrow_rate_bps"`
	SupplyAssetsUSD float64 `json:"supply_assets_usd,omitempty"`
	SourceURL       string  `json:"source_url,omitempty"`
	FetchedAt       string  `json:"fetched_at"`
}

// LenderLiquidity is a flash lender's drawable balance of one token.
type LenderLiquidity struct {
	Provider           string `json:"provider"`
	ChainID            string `json:"chain_id"`
	Token              string `json:"token"`
	LenderAddress      string `json:"lender_address"`
	AvailableBaseUnits string `json:"available_base_units"`
	FeeBaseUnits       string `json:"fee_base_units,omitempty"`
	Eligible           bool   `json:"eligible"`
	Reason             string `json:"reason,omitempty"`
	FetchedAt          string `json:"fetched_at"`
}

// Instruction is the wire form of one engine instruction.
type Instruction struct {
	Kind       string `json:"kind"`
	Opcode     string `json:"opcode"`
	ProtocolID string `json:"protocol_id,omitempty"`
	Params     string `json:"params"`
	References []int  `json:"references,omitempty"`
}

type PlanChunk struct {
	Pre                           []Instruction `json:"pre"`
	Post                          []Instruction `json:"post"`
	FlashLoanRepaymentOutputIndex int           `json:"flash_loan_repayment_output_index"`
}

type FlashLoanPlan struct {
	Provider       string   `json:"provider"`
	LenderAddress  string   `json:"lender_address"`
	Token          string   `json:"token"`
	TotalBaseUnits string   `json:"total_base_units"`
	FeeBps         int64    `json:"fee_bps"`
	NumChunks      int      `json:"num_chunks"`
	ChunkSizes     []string `json:"chunk_sizes"`
}

type QuoteShortfall struct {
	RequiredBaseUnits string  `json:"required_base_units"`
	QuotedBaseUnits   string  `json:"quoted_base_units"`
	Ratio             float64 `json:"ratio"`
}

// Plan is the full output of a flow build: everything a caller needs to
// submit the operation, plus the inputs it was built from.
type Plan struct {
	PlanID        string          `json:"plan_id"`
	Operation     string          `json:"operation"`
	Mode          string          `json:"mode"`
	ChainID       string          `json:"chain_id"`
	Protocol      string          `json:"protocol"`
	User          string          `json:"user"`
	SellAssetID   string          `json:"sell_asset_id"`
	BuyAssetID    string          `json:"buy_asset_id"`
	Target        AmountInfo      `json:"target"`
	Margin        *AmountInfo     `json:"margin,omitempty"`
	IsMax         bool            `json:"is_max,omitempty"`
	SlippageBps   int64           `json:"slippage_bps"`
	FlashLoan     FlashLoanPlan   `json:"flash_loan"`
	Quote         *SwapQuote      `json:"quote,omitempty"`
	Instructions  []Instruction   `json:"instructions,omitempty"`
	Chunks        []PlanChunk     `json:"chunks,omitempty"`
	SettlementURL string          `json:"settlement_url,omitempty"`
	Shortfall     *QuoteShortfall `json:"shortfall,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
}
