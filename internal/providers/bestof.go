package providers

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/model"
)

// quoteFanOutLimit caps concurrent aggregator calls.
const quoteFanOutLimit = 4

// QuoteOutcome pairs one aggregator's answer with the provider that gave it.
type QuoteOutcome struct {
	Provider string
	Quote    model.SwapQuote
	Err      error
	Elapsed  time.Duration
}

// QuoteAll asks every aggregator for the same quote concurrently and
// returns one outcome per provider, in input order. Individual failures
// are captured per outcome; the fan-out itself never fails.
func QuoteAll(ctx context.Context, req SwapQuoteRequest, sources []SwapProvider) []QuoteOutcome {
	out := make([]QuoteOutcome, len(sources))
	var g errgroup.Group
	g.SetLimit(quoteFanOutLimit)
	for i, p := range sources {
		out[i].Provider = p.Info().Name
		g.Go(func() error {
			start := time.Now()
			quote, err := p.QuoteSwap(ctx, req)
			out[i].Quote = quote
			out[i].Err = err
			out[i].Elapsed = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// BestQuote reduces fan-out outcomes to a single winner. Exact-input
// quotes compete on the largest output, exact-output quotes on the
// smallest input. Ties break on provider name, so reduction over the
// same outcomes always picks the same winner.
func BestQuote(tradeType SwapTradeType, outcomes []QuoteOutcome) (model.SwapQuote, error) {
	if tradeType == "" {
		tradeType = SwapTradeTypeExactInput
	}

	var (
		best       model.SwapQuote
		bestAmount *big.Int
		failures   []string
	)
	for _, o := range outcomes {
		if o.Err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", o.Provider, o.Err))
			continue
		}
		amount, ok := competingAmount(tradeType, o.Quote)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: quote missing a usable amount", o.Provider))
			continue
		}
		if bestAmount == nil || better(tradeType, amount, bestAmount) ||
			(amount.Cmp(bestAmount) == 0 && o.Quote.Provider < best.Provider) {
			best = o.Quote
			bestAmount = amount
		}
	}
	if bestAmount == nil {
		if len(failures) == 0 {
			return model.SwapQuote{}, clierr.New(clierr.CodeUsage, "no swap aggregators configured")
		}
		return model.SwapQuote{}, clierr.New(clierr.CodeUnavailable,
			fmt.Sprintf("no aggregator returned a usable quote: %s", strings.Join(failures, "; ")))
	}
	return best, nil
}

func competingAmount(tradeType SwapTradeType, quote model.SwapQuote) (*big.Int, bool) {
	raw := quote.EstimatedOut.AmountBaseUnits
	if tradeType == SwapTradeTypeExactOutput {
		raw = quote.InputAmount.AmountBaseUnits
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

func better(tradeType SwapTradeType, candidate, incumbent *big.Int) bool {
	if tradeType == SwapTradeTypeExactOutput {
		return candidate.Cmp(incumbent) < 0
	}
	return candidate.Cmp(incumbent) > 0
}
