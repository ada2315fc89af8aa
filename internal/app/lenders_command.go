package app

import (
	"context"
	"math/big"
	"strings"
	"time"

	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/providers/lenderliq"
	"github.com/leverlabs/lever-cli/internal/registry"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newLendersCommand() *cobra.Command {
	root := &cobra.Command{Use: "lenders", Short: "Flash lender commands"}
	var chainArg, assetArg, rpcURL string
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flash lenders and their drawable liquidity for a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, asset, err := parseChainAsset(chainArg, assetArg)
			if err != nil {
				return err
			}
			var required *big.Int
			if strings.TrimSpace(amountBase) != "" || strings.TrimSpace(amountDecimal) != "" {
				decimals := asset.Decimals
				if decimals <= 0 {
					decimals = 18
				}
				base, _, err := id.NormalizeAmount(amountBase, amountDecimal, decimals)
				if err != nil {
					return err
				}
				parsed, ok := new(big.Int).SetString(base, 10)
				if !ok {
					return clierr.New(clierr.CodeUsage, "amount is not a valid integer")
				}
				required = parsed
			}
			resolvedRPC, err := registry.ResolveRPCURL(rpcURL, chain.EVMChainID)
			if err != nil {
				return err
			}
			reqStruct := lenderliq.SnapshotRequest{
				Chain:    chain,
				Token:    asset,
				RPCURL:   resolvedRPC,
				Required: required,
			}
			requiredKey := ""
			if required != nil {
				requiredKey = required.String()
			}
			key := cacheKey(trimRootPath(cmd.CommandPath()), map[string]any{
				"chain":    chain.CAIP2,
				"token":    asset.AssetID,
				"required": requiredKey,
				"rpc":      strings.TrimSpace(rpcURL),
			})
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, 30*time.Second, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				rows, _, err := s.lenderLiq.Snapshot(ctx, reqStruct)
				status := []model.ProviderStatus{{Name: s.lenderLiq.Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
				return rows, status, nil, false, err
			})
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain identifier")
	cmd.Flags().StringVar(&assetArg, "asset", "", "Token to be flash borrowed (symbol/address/CAIP-19)")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Required draw in base units (marks lenders eligible/insufficient)")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Required draw in decimal units")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "JSON-RPC endpoint override")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("asset")
	root.AddCommand(cmd)
	return root
}
