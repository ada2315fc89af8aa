package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/providers"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	root := &cobra.Command{Use: "quote", Short: "Swap quote commands"}
	var providerArg, chainArg, fromAssetArg, toAssetArg, tradeTypeArg, swapperArg string
	var amountBase, amountDecimal string
	var slippageBps int64
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Quote a swap across all configured aggregators and return the best answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			fromAsset, err := id.ParseAsset(fromAssetArg, chain)
			if err != nil {
				return err
			}
			toAsset, err := id.ParseAsset(toAssetArg, chain)
			if err != nil {
				return err
			}
			tradeType, err := parseTradeType(tradeTypeArg)
			if err != nil {
				return err
			}
			swapper := strings.TrimSpace(swapperArg)
			if swapper != "" && !common.IsHexAddress(swapper) {
				return clierr.New(clierr.CodeUsage, "--swapper must be a hex address")
			}

			// The amount is denominated in the asset the trade fixes.
			decimals := fromAsset.Decimals
			if tradeType == providers.SwapTradeTypeExactOutput {
				decimals = toAsset.Decimals
			}
			if decimals <= 0 {
				decimals = 18
			}
			base, decimal, err := id.NormalizeAmount(amountBase, amountDecimal, decimals)
			if err != nil {
				return err
			}

			pct := float64(s.resolveSlippageBps(slippageBps)) / 100
			reqStruct := providers.SwapQuoteRequest{
				Chain:           chain,
				FromAsset:       fromAsset,
				ToAsset:         toAsset,
				AmountBaseUnits: base,
				AmountDecimal:   decimal,
				TradeType:       tradeType,
				SlippagePct:     &pct,
				Swapper:         swapper,
			}
			key := cacheKey(trimRootPath(cmd.CommandPath()), map[string]any{
				"provider":   strings.ToLower(strings.TrimSpace(providerArg)),
				"chain":      chain.CAIP2,
				"from":       fromAsset.AssetID,
				"to":         toAsset.AssetID,
				"amount":     base,
				"trade_type": string(tradeType),
				"swapper":    strings.ToLower(swapper),
			})
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, 15*time.Second, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				run, err := s.fetchBestQuote(ctx, reqStruct, providerArg)
				if err != nil {
					return nil, run.statuses, run.warnings, run.partial, err
				}
				return run.best, run.statuses, run.warnings, run.partial, nil
			})
		},
	}
	cmd.Flags().StringVar(&providerArg, "provider", "", "Restrict to one aggregator (1inch|paraswap|uniswap|fibrous)")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain identifier")
	cmd.Flags().StringVar(&fromAssetArg, "from-asset", "", "Input asset")
	cmd.Flags().StringVar(&toAssetArg, "to-asset", "", "Output asset")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&tradeTypeArg, "trade-type", "exact-input", "Trade type (exact-input|exact-output)")
	cmd.Flags().StringVar(&swapperArg, "swapper", "", "Address that will execute the swap (enables calldata)")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", -1, "Slippage tolerance override in basis points")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from-asset")
	_ = cmd.MarkFlagRequired("to-asset")
	root.AddCommand(cmd)
	return root
}

// quoteFanOut is one best-of round: the winning quote plus per-aggregator
// diagnostics for the envelope.
type quoteFanOut struct {
	best     model.SwapQuote
	statuses []model.ProviderStatus
	warnings []string
	partial  bool
}

func (s *runtimeState) fetchBestQuote(ctx context.Context, req providers.SwapQuoteRequest, providerFilter string) (quoteFanOut, error) {
	sources := s.swapProviders
	if name := strings.ToLower(strings.TrimSpace(providerFilter)); name != "" {
		var filtered []providers.SwapProvider
		for _, p := range sources {
			if strings.ToLower(p.Info().Name) == name {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			return quoteFanOut{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported swap provider: %s", providerFilter))
		}
		sources = filtered
	}

	outcomes := providers.QuoteAll(ctx, req, sources)
	run := quoteFanOut{statuses: make([]model.ProviderStatus, 0, len(outcomes))}
	for _, o := range outcomes {
		run.statuses = append(run.statuses, model.ProviderStatus{Name: o.Provider, Status: statusFromErr(o.Err), LatencyMS: o.Elapsed.Milliseconds()})
		if o.Err == nil {
			continue
		}
		// An aggregator that cannot serve the asked trade type is a
		// non-participant, not a failure.
		if cErr, ok := clierr.As(o.Err); ok && cErr.Code == clierr.CodeUnsupported {
			continue
		}
		run.partial = true
		run.warnings = append(run.warnings, fmt.Sprintf("aggregator %s failed: %v", o.Provider, o.Err))
	}
	best, err := providers.BestQuote(req.TradeType, outcomes)
	if err != nil {
		return run, err
	}
	run.best = best
	return run, nil
}

func parseTradeType(input string) (providers.SwapTradeType, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "exact-input", "exact-in", "sell":
		return providers.SwapTradeTypeExactInput, nil
	case "exact-output", "exact-out", "buy":
		return providers.SwapTradeTypeExactOutput, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown trade type: %s", input))
	}
}

func (s *runtimeState) resolveSlippageBps(flagValue int64) int64 {
	if flagValue >= 0 {
		return flagValue
	}
	return s.settings.SlippageBps
}
