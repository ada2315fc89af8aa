// Package flashloan selects a flash lender for an operation and turns the
// choice into a concrete draw plan. Selection is pure: it works off a
// liquidity snapshot resolved upstream and returns data, never an error,
// when nothing is eligible.
package flashloan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leverlabs/lever-cli/internal/engine/chunk"
	"github.com/leverlabs/lever-cli/internal/engine/feemath"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/registry"
)

type Kind string

const (
	// KindNative is a lending-protocol-native lender with zero fee.
	KindNative Kind = "native"
	// KindPooled is a general liquidity pool lender.
	KindPooled Kind = "pooled"
	// KindFixedFee is the fixed basis-point fallback lender.
	KindFixedFee Kind = "fixed_fee"
)

// Provider describes one flash lender. SupportsChunks marks lenders wired
// into the settlement harness's per-chunk callback flow.
type Provider struct {
	ID             string `json:"id"`
	Kind           Kind   `json:"kind"`
	FeeBps         int64  `json:"fee_bps"`
	SupportsChunks bool   `json:"supports_chunks"`
}

// providers is the closed lender set in default-preference order:
// native before pooled before fixed-fee.
var providers = []Provider{
	{ID: "morpho", Kind: KindNative, FeeBps: 0, SupportsChunks: true},
	{ID: "balancer", Kind: KindPooled, FeeBps: 0, SupportsChunks: true},
	{ID: "aave", Kind: KindFixedFee, FeeBps: 5, SupportsChunks: false},
}

// Providers returns the lender set in preference order.
func Providers() []Provider {
	out := make([]Provider, len(providers))
	copy(out, providers)
	return out
}

// ProviderByID returns the lender description for id.
func ProviderByID(id string) (Provider, bool) {
	for _, p := range providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// Fee returns the lender fee charged on amount.
func Fee(providerID string, amount *big.Int) *big.Int {
	p, ok := ProviderByID(providerID)
	if !ok {
		return big.NewInt(0)
	}
	return feemath.FlashLoanFee(amount, p.FeeBps)
}

// Snapshot holds lender liquidity for one token on one chain, keyed by
// provider id. A missing entry means liquidity is unknown and the lender
// is not considered for immediate execution.
type Snapshot map[string]*big.Int

// Query describes the draw an operation needs.
type Query struct {
	Token   common.Address
	Amount  *big.Int
	ChainID int64
	Mode    instruction.ExecutionMode
}

// NoLiquidityCondition reports that no eligible lender exists. Callers
// must keep submission disabled while it is set.
type NoLiquidityCondition struct {
	Token   string   `json:"token"`
	Amount  *big.Int `json:"amount"`
	ChainID int64    `json:"chain_id"`
	Reason  string   `json:"reason"`
}

// Selection is the selector result: the eligible lenders in preference
// order, the default pick, or the no-liquidity condition.
type Selection struct {
	Eligible    []Provider            `json:"eligible"`
	Default     *Provider             `json:"default,omitempty"`
	NoLiquidity *NoLiquidityCondition `json:"no_liquidity,omitempty"`
}

// Select filters the lender set for the query. Immediate (market)
// execution requires snapshot liquidity at or above the amount;
// progressive execution skips the liquidity check, since fills revalidate
// it chunk by chunk, but requires harness chunk support.
func Select(q Query, snap Snapshot) Selection {
	var eligible []Provider
	for _, p := range providers {
		if _, deployed := registry.FlashLender(p.ID, q.ChainID); !deployed {
			continue
		}
		if q.Mode == instruction.ModeProgressive {
			if !p.SupportsChunks {
				continue
			}
		} else {
			liquidity, ok := snap[p.ID]
			if !ok || liquidity == nil || q.Amount == nil || liquidity.Cmp(q.Amount) < 0 {
				continue
			}
		}
		eligible = append(eligible, p)
	}

	if len(eligible) == 0 {
		amount := new(big.Int)
		if q.Amount != nil {
			amount.Set(q.Amount)
		}
		return Selection{
			NoLiquidity: &NoLiquidityCondition{
				Token:   q.Token.Hex(),
				Amount:  amount,
				ChainID: q.ChainID,
				Reason:  fmt.Sprintf("no flash lender can serve %s of %s on chain %d", amount, q.Token.Hex(), q.ChainID),
			},
		}
	}

	def := eligible[0]
	return Selection{Eligible: eligible, Default: &def}
}

// Plan is a concrete flash loan draw: which lender, how much in total, and
// how the total splits across chunks. FeePerChunk is computed on the
// largest chunk so it never under-provisions any iteration; flows bake
// exact per-chunk repayments from the individual sizes.
type Plan struct {
	ProviderID    string         `json:"provider_id"`
	LenderAddress common.Address `json:"lender_address"`
	Token         common.Address `json:"token"`
	TotalAmount   *big.Int       `json:"total_amount"`
	FeePerChunk   *big.Int       `json:"fee_per_chunk"`
	NumChunks     int            `json:"num_chunks"`
	ChunkSizes    []*big.Int     `json:"chunk_sizes"`
}

// BuildPlan splits total across numChunks draws from the given lender.
func BuildPlan(providerID string, chainID int64, token common.Address, total *big.Int, numChunks int) (Plan, error) {
	p, ok := ProviderByID(providerID)
	if !ok {
		return Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown flash lender: %s", providerID))
	}
	lender, ok := registry.FlashLender(p.ID, chainID)
	if !ok {
		return Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("flash lender %s is not deployed on chain %d", p.ID, chainID))
	}
	if token == (common.Address{}) {
		return Plan{}, clierr.New(clierr.CodeUsage, "flash loan requires a token address")
	}
	sizes, err := chunk.Split(total, numChunks)
	if err != nil {
		return Plan{}, err
	}
	// The last chunk absorbs the split remainder and is never smaller
	// than the others.
	feePerChunk := feemath.FlashLoanFee(sizes[len(sizes)-1], p.FeeBps)
	return Plan{
		ProviderID:    p.ID,
		LenderAddress: common.HexToAddress(lender),
		Token:         token,
		TotalAmount:   new(big.Int).Set(total),
		FeePerChunk:   feePerChunk,
		NumChunks:     numChunks,
		ChunkSizes:    sizes,
	}, nil
}
