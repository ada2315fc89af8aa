package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/leverlabs/lever-cli/internal/engine/chunk"
	"github.com/leverlabs/lever-cli/internal/engine/flashloan"
	"github.com/leverlabs/lever-cli/internal/engine/flow"
	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	"github.com/leverlabs/lever-cli/internal/engine/protocol"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/execution"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/providers"
	"github.com/leverlabs/lever-cli/internal/providers/lenderliq"
	"github.com/leverlabs/lever-cli/internal/registry"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newPlanCommand() *cobra.Command {
	root := &cobra.Command{Use: "plan", Short: "Build position operation plans"}
	root.AddCommand(s.newPlanMultiplyCommand())
	root.AddCommand(s.newPlanDebtSwapCommand())
	root.AddCommand(s.newPlanCollateralSwapCommand())
	root.AddCommand(s.newPlanCloseCommand())
	return root
}

// planFlags are the inputs shared by every plan subcommand; the asset
// pair and any operation-specific amounts are declared per command.
type planFlags struct {
	chain         string
	protocolID    string
	user          string
	targetBase    string
	targetDecimal string
	slippageBps   int64
	rateBps       int64
	windowMinutes int64
	chunks        int
	progressive   bool
	flashLender   string
	quoteProvider string
	rpcURL        string
	settlementURL string

	market          string
	marketID        string
	borrowVault     string
	collateralVault string
	subAccount      uint8
}

func addPlanFlags(cmd *cobra.Command, f *planFlags) {
	cmd.Flags().StringVar(&f.chain, "chain", "", "Chain identifier")
	cmd.Flags().StringVar(&f.protocolID, "protocol", "", "Lending protocol (aave-v3|spark|euler-v2|morpho-blue)")
	cmd.Flags().StringVar(&f.user, "user", "", "Position owner address")
	cmd.Flags().StringVar(&f.targetBase, "target-amount", "", "Operation amount in base units")
	cmd.Flags().StringVar(&f.targetDecimal, "target-amount-decimal", "", "Operation amount in decimal units")
	cmd.Flags().Int64Var(&f.slippageBps, "slippage-bps", -1, "Slippage tolerance override in basis points")
	cmd.Flags().Int64Var(&f.rateBps, "borrow-rate-bps", -1, "Borrow rate override for interest buffering")
	cmd.Flags().Int64Var(&f.windowMinutes, "window-minutes", -1, "Execution window override in minutes")
	cmd.Flags().IntVar(&f.chunks, "chunks", 1, "Flash-loan chunks (>1 switches to progressive execution)")
	cmd.Flags().BoolVar(&f.progressive, "progressive", false, "Force progressive execution even for one chunk")
	cmd.Flags().StringVar(&f.flashLender, "flash-lender", "", "Pin a flash lender (morpho|balancer|aave)")
	cmd.Flags().StringVar(&f.quoteProvider, "quote-provider", "", "Restrict quoting to one aggregator")
	cmd.Flags().StringVar(&f.rpcURL, "rpc-url", "", "JSON-RPC endpoint override for liquidity checks")
	cmd.Flags().StringVar(&f.settlementURL, "settlement-url", "", "Settlement service override for progressive orders")
	cmd.Flags().StringVar(&f.market, "market", "", "Protocol market bytes as hex (pool protocols)")
	cmd.Flags().StringVar(&f.marketID, "market-id", "", "Share market id (morpho-blue)")
	cmd.Flags().StringVar(&f.borrowVault, "borrow-vault", "", "Borrow vault address (euler-v2)")
	cmd.Flags().StringVar(&f.collateralVault, "collateral-vault", "", "Collateral vault address (euler-v2)")
	cmd.Flags().Uint8Var(&f.subAccount, "sub-account", 0, "Sub-account index (euler-v2)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("user")
}

func (s *runtimeState) newPlanMultiplyCommand() *cobra.Command {
	var f planFlags
	var debtArg, collateralArg string
	var marginBase, marginDecimal string
	cmd := &cobra.Command{
		Use:   "multiply",
		Short: "Plan a leverage increase: flash-borrow debt, swap to collateral, deposit, borrow to repay",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := s.resolvePlanInputs(f, flow.OperationMultiply, debtArg, collateralArg, targetSideSell)
			if err != nil {
				return err
			}
			if strings.TrimSpace(marginBase) != "" || strings.TrimSpace(marginDecimal) != "" {
				margin, err := parseBaseAmount(marginBase, marginDecimal, assetDecimals(in.sellAsset))
				if err != nil {
					return err
				}
				in.margin = margin
			}
			return s.runPlanBuild(trimRootPath(cmd.CommandPath()), in)
		},
	}
	addPlanFlags(cmd, &f)
	cmd.Flags().StringVar(&debtArg, "debt", "", "Debt asset to flash-borrow and sell")
	cmd.Flags().StringVar(&collateralArg, "collateral", "", "Collateral asset to buy and deposit")
	cmd.Flags().StringVar(&marginBase, "margin", "", "Margin pulled from the user, in debt base units")
	cmd.Flags().StringVar(&marginDecimal, "margin-decimal", "", "Margin in debt decimal units")
	_ = cmd.MarkFlagRequired("debt")
	_ = cmd.MarkFlagRequired("collateral")
	return cmd
}

func (s *runtimeState) newPlanDebtSwapCommand() *cobra.Command {
	var f planFlags
	var oldDebtArg, newDebtArg string
	cmd := &cobra.Command{
		Use:   "debt-swap",
		Short: "Plan a debt migration: repay the old debt with flash-borrowed new debt",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := s.resolvePlanInputs(f, flow.OperationDebtSwap, newDebtArg, oldDebtArg, targetSideBuy)
			if err != nil {
				return err
			}
			return s.runPlanBuild(trimRootPath(cmd.CommandPath()), in)
		},
	}
	addPlanFlags(cmd, &f)
	cmd.Flags().StringVar(&oldDebtArg, "old-debt", "", "Debt asset being repaid")
	cmd.Flags().StringVar(&newDebtArg, "new-debt", "", "Debt asset borrowed in its place")
	_ = cmd.MarkFlagRequired("old-debt")
	_ = cmd.MarkFlagRequired("new-debt")
	return cmd
}

func (s *runtimeState) newPlanCollateralSwapCommand() *cobra.Command {
	var f planFlags
	var oldCollateralArg, newCollateralArg string
	cmd := &cobra.Command{
		Use:   "collateral-swap",
		Short: "Plan a collateral rotation: deposit flash-borrowed new collateral, withdraw and sell the old",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := s.resolvePlanInputs(f, flow.OperationCollateralSwap, oldCollateralArg, newCollateralArg, targetSideSell)
			if err != nil {
				return err
			}
			return s.runPlanBuild(trimRootPath(cmd.CommandPath()), in)
		},
	}
	addPlanFlags(cmd, &f)
	cmd.Flags().StringVar(&oldCollateralArg, "old-collateral", "", "Collateral asset being withdrawn")
	cmd.Flags().StringVar(&newCollateralArg, "new-collateral", "", "Collateral asset deposited in its place")
	_ = cmd.MarkFlagRequired("old-collateral")
	_ = cmd.MarkFlagRequired("new-collateral")
	return cmd
}

func (s *runtimeState) newPlanCloseCommand() *cobra.Command {
	var f planFlags
	var collateralArg, debtArg string
	var isMax bool
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Plan a position close: flash-repay debt, withdraw collateral, sell it to settle",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := s.resolvePlanInputs(f, flow.OperationClose, collateralArg, debtArg, targetSideBuy)
			if err != nil {
				return err
			}
			in.isMax = isMax
			return s.runPlanBuild(trimRootPath(cmd.CommandPath()), in)
		},
	}
	addPlanFlags(cmd, &f)
	cmd.Flags().StringVar(&collateralArg, "collateral", "", "Collateral asset withdrawn and sold")
	cmd.Flags().StringVar(&debtArg, "debt", "", "Debt asset being repaid")
	cmd.Flags().BoolVar(&isMax, "max", false, "Close the entire position (withdraw all collateral)")
	_ = cmd.MarkFlagRequired("collateral")
	_ = cmd.MarkFlagRequired("debt")
	return cmd
}

// targetSide names the asset the target amount is denominated in.
type targetSide int

const (
	targetSideSell targetSide = iota
	targetSideBuy
)

type planInputs struct {
	op             flow.Operation
	chain          id.Chain
	protocolID     string
	user           common.Address
	router         common.Address
	settlement     common.Address
	sellAsset      id.Asset
	buyAsset       id.Asset
	target         *big.Int
	targetDecimals int
	margin         *big.Int
	slippageBps    int64
	rateBps        int64
	window         int64
	numChunks      int
	mode           instruction.ExecutionMode
	isMax          bool
	flashLender    string
	quoteProvider  string
	rpcURL         string
	settlementURL  string

	market          string
	marketID        string
	borrowVault     string
	collateralVault string
	subAccount      uint8
}

func (s *runtimeState) resolvePlanInputs(f planFlags, op flow.Operation, sellArg, buyArg string, side targetSide) (planInputs, error) {
	chain, err := id.ParseChain(f.chain)
	if err != nil {
		return planInputs{}, err
	}
	if chain.EVMChainID == 0 {
		return planInputs{}, clierr.New(clierr.CodeUsage, "plan commands require an EVM chain")
	}
	protocolID := strings.ToLower(strings.TrimSpace(f.protocolID))
	if protocol.FamilyOf(protocolID) == "" {
		return planInputs{}, clierr.New(clierr.CodeUsage,
			fmt.Sprintf("unsupported protocol: %s (supported: %s)", f.protocolID, strings.Join(protocol.ProtocolIDs(), ", ")))
	}
	if !common.IsHexAddress(strings.TrimSpace(f.user)) {
		return planInputs{}, clierr.New(clierr.CodeUsage, "--user must be a hex address")
	}
	routerHex, ok := registry.LeverageRouter(chain.EVMChainID)
	if !ok {
		return planInputs{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no leverage router deployed on %s", chain.CAIP2))
	}
	sellAsset, err := id.ParseAsset(sellArg, chain)
	if err != nil {
		return planInputs{}, err
	}
	buyAsset, err := id.ParseAsset(buyArg, chain)
	if err != nil {
		return planInputs{}, err
	}

	numChunks := f.chunks
	if numChunks < 1 || numChunks > s.settings.MaxChunks {
		return planInputs{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("--chunks must be in [1, %d]", s.settings.MaxChunks))
	}
	mode := instruction.ModeMarket
	if f.progressive || numChunks > 1 {
		mode = instruction.ModeProgressive
	}
	var settlement common.Address
	if mode == instruction.ModeProgressive {
		settlementHex, ok := registry.SettlementContract(chain.EVMChainID)
		if !ok {
			return planInputs{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no settlement contract deployed on %s", chain.CAIP2))
		}
		settlement = common.HexToAddress(settlementHex)
		if u := strings.TrimSpace(f.settlementURL); u != "" && !registry.IsAllowedSettlementURL(u) {
			return planInputs{}, clierr.New(clierr.CodeBlocked, "settlement URL is not on the allowed list")
		}
	}

	targetAsset := sellAsset
	if side == targetSideBuy {
		targetAsset = buyAsset
	}
	targetDecimals := assetDecimals(targetAsset)
	target, err := parseBaseAmount(f.targetBase, f.targetDecimal, targetDecimals)
	if err != nil {
		return planInputs{}, err
	}

	window := f.windowMinutes
	if window < 0 {
		window = s.settings.ExecutionWindowMinutes
	}

	quoteProvider := strings.ToLower(strings.TrimSpace(f.quoteProvider))
	if quoteProvider != "" {
		found := false
		for _, p := range s.swapProviders {
			if strings.ToLower(p.Info().Name) == quoteProvider {
				found = true
				break
			}
		}
		if !found {
			return planInputs{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported swap provider: %s", f.quoteProvider))
		}
	}
	flashLender := strings.ToLower(strings.TrimSpace(f.flashLender))
	if flashLender != "" {
		if _, ok := flashloan.ProviderByID(flashLender); !ok {
			return planInputs{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown flash lender: %s", f.flashLender))
		}
	}

	return planInputs{
		op:              op,
		chain:           chain,
		protocolID:      protocolID,
		user:            common.HexToAddress(strings.TrimSpace(f.user)),
		router:          common.HexToAddress(routerHex),
		settlement:      settlement,
		sellAsset:       sellAsset,
		buyAsset:        buyAsset,
		target:          target,
		targetDecimals:  targetDecimals,
		slippageBps:     s.resolveSlippageBps(f.slippageBps),
		rateBps:         f.rateBps,
		window:          window,
		numChunks:       numChunks,
		mode:            mode,
		flashLender:     flashLender,
		quoteProvider:   quoteProvider,
		rpcURL:          f.rpcURL,
		settlementURL:   strings.TrimSpace(f.settlementURL),
		market:          f.market,
		marketID:        f.marketID,
		borrowVault:     f.borrowVault,
		collateralVault: f.collateralVault,
		subAccount:      f.subAccount,
	}, nil
}

func (s *runtimeState) runPlanBuild(commandPath string, in planInputs) error {
	s.resetCommandDiagnostics()
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()

	build := &planBuild{state: s, in: in}
	plan, err := build.run(ctx)
	s.captureCommandDiagnostics(build.warnings, build.statuses, false)
	if err != nil {
		return err
	}

	// The plan is the deliverable; a store failure downgrades to a warning.
	if store, storeErr := s.openPlanStore(); storeErr != nil {
		build.warnings = append(build.warnings, fmt.Sprintf("plan not persisted: %v", storeErr))
	} else if saveErr := store.Save(plan); saveErr != nil {
		build.warnings = append(build.warnings, fmt.Sprintf("plan not persisted: %v", saveErr))
	}
	s.captureCommandDiagnostics(build.warnings, build.statuses, false)
	return s.emitSuccess(commandPath, plan, build.warnings, cacheMetaBypass(), build.statuses, false)
}

// planBuild threads one build through its resolution steps, accumulating
// provider diagnostics for the envelope as it goes.
type planBuild struct {
	state    *runtimeState
	in       planInputs
	statuses []model.ProviderStatus
	warnings []string
}

func (b *planBuild) run(ctx context.Context) (model.Plan, error) {
	protoCtx, share, err := b.resolveProtocolContext(ctx)
	if err != nil {
		return model.Plan{}, err
	}
	adapter, err := protocol.New(b.in.protocolID, protoCtx)
	if err != nil {
		return model.Plan{}, err
	}

	req := b.flowRequest()
	req.Context = protoCtx
	req.RateBps = b.resolveBorrowRate(ctx, share)

	quote := flow.Quote{}
	var swapQuote *model.SwapQuote

	// Debt and collateral swaps size their flash principal from the
	// quote, so they quote before lender selection. Multiply and close
	// know the principal upfront and quote after, once chunk fees exist.
	switch b.in.op {
	case flow.OperationDebtSwap:
		required := flow.RequiredBuyAmount(req)
		quote, swapQuote, err = b.swapQuote(ctx, providers.SwapTradeTypeExactOutput, required, true)
		if err != nil {
			return model.Plan{}, err
		}
	case flow.OperationCollateralSwap:
		quote, swapQuote, err = b.swapQuote(ctx, providers.SwapTradeTypeExactInput, req.TargetAmount, true)
		if err != nil {
			return model.Plan{}, err
		}
	}

	flashAmount, err := flow.FlashAmount(req, quote)
	if err != nil {
		return model.Plan{}, err
	}
	if flashAmount == nil {
		return model.Plan{}, clierr.New(clierr.CodeNotReady, "flash principal cannot be sized from the resolved inputs yet")
	}

	lender, fplan, err := b.selectFlashLender(ctx, flashAmount)
	if err != nil {
		return model.Plan{}, err
	}

	switch b.in.op {
	case flow.OperationMultiply:
		sellIn := new(big.Int).Set(flashAmount)
		if req.MarginAmount != nil {
			sellIn.Add(sellIn, req.MarginAmount)
		}
		quote, swapQuote, err = b.swapQuote(ctx, providers.SwapTradeTypeExactInput, sellIn, b.in.mode == instruction.ModeMarket)
		if err != nil {
			return model.Plan{}, err
		}
	case flow.OperationClose:
		repayment := new(big.Int)
		for _, size := range fplan.ChunkSizes {
			repayment.Add(repayment, chunk.Breakdown(size, lender.FeeBps).Repayment)
		}
		quote, swapQuote, err = b.swapQuote(ctx, providers.SwapTradeTypeExactOutput, repayment, b.in.mode == instruction.ModeMarket)
		if err != nil {
			return model.Plan{}, err
		}
	}

	result, err := flow.Build(req, quote, fplan, adapter)
	if err != nil {
		return model.Plan{}, err
	}
	if result == nil {
		return model.Plan{}, clierr.New(clierr.CodeNotReady, "plan inputs are not fully resolved; retry when quotes and liquidity are available")
	}
	return b.wirePlan(req, result, fplan, lender, swapQuote), nil
}

func (b *planBuild) resolveProtocolContext(ctx context.Context) (protocol.Context, *model.ShareMarket, error) {
	switch protocol.FamilyOf(b.in.protocolID) {
	case protocol.FamilyStandardPool:
		market := strings.TrimSpace(b.in.market)
		if market == "" {
			return protocol.Context{}, nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("--market is required for %s", b.in.protocolID))
		}
		raw := common.FromHex(market)
		if len(raw) == 0 {
			return protocol.Context{}, nil, clierr.New(clierr.CodeUsage, "--market must be non-empty hex bytes")
		}
		return protocol.MarketContext(raw), nil, nil
	case protocol.FamilySubAccountVault:
		if !common.IsHexAddress(strings.TrimSpace(b.in.borrowVault)) || !common.IsHexAddress(strings.TrimSpace(b.in.collateralVault)) {
			return protocol.Context{}, nil, clierr.New(clierr.CodeUsage,
				fmt.Sprintf("--borrow-vault and --collateral-vault are required for %s", b.in.protocolID))
		}
		return protocol.VaultContext(
			common.HexToAddress(strings.TrimSpace(b.in.borrowVault)),
			common.HexToAddress(strings.TrimSpace(b.in.collateralVault)),
			b.in.subAccount,
		), nil, nil
	case protocol.FamilyShareBasedMarket:
		share, err := b.resolveShareMarket(ctx)
		if err != nil {
			return protocol.Context{}, nil, err
		}
		lltv, ok := new(big.Int).SetString(strings.TrimSpace(share.LLTV), 10)
		if !ok {
			return protocol.Context{}, nil, clierr.New(clierr.CodeUnavailable, "share market returned an unparseable LLTV")
		}
		protoCtx, err := protocol.ShareMarketContext(protocol.MarketParams{
			LoanToken:       common.HexToAddress(share.LoanToken),
			CollateralToken: common.HexToAddress(share.CollateralToken),
			Oracle:          common.HexToAddress(share.Oracle),
			Irm:             common.HexToAddress(share.IRM),
			Lltv:            lltv,
		})
		if err != nil {
			return protocol.Context{}, nil, err
		}
		return protoCtx, &share, nil
	default:
		return protocol.Context{}, nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported protocol: %s", b.in.protocolID))
	}
}

func (b *planBuild) resolveShareMarket(ctx context.Context) (model.ShareMarket, error) {
	req := providers.ShareMarketRequest{Chain: b.in.chain, MarketID: strings.TrimSpace(b.in.marketID)}
	if req.MarketID == "" {
		// Only operations with one debt and one collateral side can name
		// the market by pair.
		switch b.in.op {
		case flow.OperationMultiply:
			req.LoanAsset, req.Collateral = b.in.sellAsset, b.in.buyAsset
		case flow.OperationClose:
			req.LoanAsset, req.Collateral = b.in.buyAsset, b.in.sellAsset
		default:
			return model.ShareMarket{}, clierr.New(clierr.CodeUsage, "provide --market-id to select the share market for this operation")
		}
	}
	start := time.Now()
	share, err := b.state.shareResolver.ResolveShareMarket(ctx, req)
	b.statuses = append(b.statuses, model.ProviderStatus{
		Name:      b.state.shareResolver.Info().Name,
		Status:    statusFromErr(err),
		LatencyMS: time.Since(start).Milliseconds(),
	})
	return share, err
}

// resolveBorrowRate picks the rate backing the interest buffer: the flag
// override, then the resolved share market, then the protocol's rate
// provider. Operations that never hold debt across the window skip it.
func (b *planBuild) resolveBorrowRate(ctx context.Context, share *model.ShareMarket) int64 {
	if b.in.rateBps >= 0 {
		return b.in.rateBps
	}
	if b.in.op != flow.OperationDebtSwap && b.in.op != flow.OperationClose {
		return 0
	}
	if share != nil && share.BorrowRateBps > 0 {
		return share.BorrowRateBps
	}
	provider, ok := b.state.rateProviders[b.in.protocolID]
	if !ok {
		b.warnings = append(b.warnings, fmt.Sprintf("no borrow rate source for %s; interest buffer assumes 0 bps", b.in.protocolID))
		return 0
	}
	start := time.Now()
	rates, err := provider.BorrowRates(ctx, b.in.protocolID, b.in.chain, b.in.buyAsset)
	b.statuses = append(b.statuses, model.ProviderStatus{
		Name:      provider.Info().Name,
		Status:    statusFromErr(err),
		LatencyMS: time.Since(start).Milliseconds(),
	})
	if err != nil || len(rates) == 0 {
		b.warnings = append(b.warnings, "borrow rate unavailable; interest buffer assumes 0 bps")
		return 0
	}
	return rates[0].RateBps
}

// swapQuote runs one best-of round for the operation's pair. When the
// quote is load-bearing (flash sizing or market calldata) a failure is
// fatal; otherwise the build continues without price data.
func (b *planBuild) swapQuote(ctx context.Context, tradeType providers.SwapTradeType, amount *big.Int, required bool) (flow.Quote, *model.SwapQuote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return flow.Quote{}, nil, clierr.New(clierr.CodeNotReady, "swap amount cannot be sized from the resolved inputs yet")
	}
	decimals := assetDecimals(b.in.sellAsset)
	if tradeType == providers.SwapTradeTypeExactOutput {
		decimals = assetDecimals(b.in.buyAsset)
	}
	pct := float64(b.in.slippageBps) / 100
	req := providers.SwapQuoteRequest{
		Chain:           b.in.chain,
		FromAsset:       b.in.sellAsset,
		ToAsset:         b.in.buyAsset,
		AmountBaseUnits: amount.String(),
		AmountDecimal:   id.FormatDecimalCompat(amount.String(), decimals),
		TradeType:       tradeType,
		SlippagePct:     &pct,
	}
	if b.in.mode == instruction.ModeMarket {
		req.Swapper = b.in.router.Hex()
	}
	run, err := b.state.fetchBestQuote(ctx, req, b.in.quoteProvider)
	b.statuses = append(b.statuses, run.statuses...)
	b.warnings = append(b.warnings, run.warnings...)
	if err != nil {
		if required {
			return flow.Quote{}, nil, err
		}
		b.warnings = append(b.warnings, fmt.Sprintf("swap quote unavailable, building without price data: %v", err))
		return flow.Quote{}, nil, nil
	}
	return flowQuote(run.best), &run.best, nil
}

func (b *planBuild) selectFlashLender(ctx context.Context, amount *big.Int) (flashloan.Provider, flashloan.Plan, error) {
	flashSide := b.in.sellAsset
	if b.in.op == flow.OperationCollateralSwap || b.in.op == flow.OperationClose {
		flashSide = b.in.buyAsset
	}
	flashToken := common.HexToAddress(flashSide.Address)

	snap := flashloan.Snapshot{}
	if b.in.mode == instruction.ModeMarket {
		rpcURL, err := registry.ResolveRPCURL(b.in.rpcURL, b.in.chain.EVMChainID)
		if err != nil {
			return flashloan.Provider{}, flashloan.Plan{}, err
		}
		start := time.Now()
		_, liquidity, err := b.state.lenderLiq.Snapshot(ctx, lenderliq.SnapshotRequest{
			Chain:    b.in.chain,
			Token:    flashSide,
			RPCURL:   rpcURL,
			Required: amount,
		})
		b.statuses = append(b.statuses, model.ProviderStatus{
			Name:      b.state.lenderLiq.Info().Name,
			Status:    statusFromErr(err),
			LatencyMS: time.Since(start).Milliseconds(),
		})
		if err != nil {
			return flashloan.Provider{}, flashloan.Plan{}, err
		}
		snap = liquidity
	}

	sel := flashloan.Select(flashloan.Query{
		Token:   flashToken,
		Amount:  amount,
		ChainID: b.in.chain.EVMChainID,
		Mode:    b.in.mode,
	}, snap)
	if sel.NoLiquidity != nil {
		return flashloan.Provider{}, flashloan.Plan{}, clierr.New(clierr.CodeNoLiquidity, sel.NoLiquidity.Reason)
	}
	chosen := *sel.Default
	if b.in.flashLender != "" {
		found := false
		for _, p := range sel.Eligible {
			if p.ID == b.in.flashLender {
				chosen = p
				found = true
				break
			}
		}
		if !found {
			return flashloan.Provider{}, flashloan.Plan{}, clierr.New(clierr.CodeNoLiquidity,
				fmt.Sprintf("flash lender %s is not eligible for this draw", b.in.flashLender))
		}
	}

	fplan, err := flashloan.BuildPlan(chosen.ID, b.in.chain.EVMChainID, flashToken, amount, b.in.numChunks)
	if err != nil {
		return flashloan.Provider{}, flashloan.Plan{}, err
	}
	return chosen, fplan, nil
}

func (b *planBuild) flowRequest() flow.Request {
	return flow.Request{
		Operation:     b.in.op,
		Protocol:      b.in.protocolID,
		SellToken:     common.HexToAddress(b.in.sellAsset.Address),
		BuyToken:      common.HexToAddress(b.in.buyAsset.Address),
		MarginAmount:  b.in.margin,
		TargetAmount:  b.in.target,
		SlippageBps:   b.in.slippageBps,
		WindowMinutes: b.in.window,
		IsMax:         b.in.isMax,
		Mode:          b.in.mode,
		User:          b.in.user,
		Router:        b.in.router,
		Settlement:    b.in.settlement,
	}
}

func (b *planBuild) wirePlan(req flow.Request, result *flow.Result, fplan flashloan.Plan, lender flashloan.Provider, swapQuote *model.SwapQuote) model.Plan {
	status := execution.PlanStatusReady
	if result.Shortfall != nil {
		status = execution.PlanStatusBlocked
		b.warnings = append(b.warnings, fmt.Sprintf(
			"swap quote falls short of the required amount (%s quoted for %s); plan stored blocked",
			result.Shortfall.Quoted, result.Shortfall.Required))
	}
	plan := model.Plan{
		PlanID:      execution.NewPlanID(),
		Operation:   string(result.Operation),
		Mode:        string(result.Mode),
		ChainID:     b.in.chain.CAIP2,
		Protocol:    b.in.protocolID,
		User:        req.User.Hex(),
		SellAssetID: b.in.sellAsset.AssetID,
		BuyAssetID:  b.in.buyAsset.AssetID,
		Target:      amountInfo(b.in.target, b.in.targetDecimals),
		IsMax:       req.IsMax,
		SlippageBps: req.SlippageBps,
		FlashLoan: model.FlashLoanPlan{
			Provider:       fplan.ProviderID,
			LenderAddress:  fplan.LenderAddress.Hex(),
			Token:          strings.ToLower(fplan.Token.Hex()),
			TotalBaseUnits: fplan.TotalAmount.String(),
			FeeBps:         lender.FeeBps,
			NumChunks:      fplan.NumChunks,
			ChunkSizes:     wireChunkSizes(fplan.ChunkSizes),
		},
		Quote:         swapQuote,
		Instructions:  wireInstructions(result.Instructions),
		SettlementURL: b.in.settlementURL,
		Status:        status,
		CreatedAt:     b.state.runner.now().UTC().Format(time.RFC3339),
	}
	if req.MarginAmount != nil {
		info := amountInfo(req.MarginAmount, assetDecimals(b.in.sellAsset))
		plan.Margin = &info
	}
	for _, c := range result.Chunks {
		plan.Chunks = append(plan.Chunks, model.PlanChunk{
			Pre:                           wireInstructions(c.Pre),
			Post:                          wireInstructions(c.Post),
			FlashLoanRepaymentOutputIndex: c.FlashLoanRepaymentOutputIndex,
		})
	}
	if result.Shortfall != nil {
		plan.Shortfall = &model.QuoteShortfall{
			RequiredBaseUnits: result.Shortfall.Required.String(),
			QuotedBaseUnits:   result.Shortfall.Quoted.String(),
			Ratio:             result.Shortfall.Ratio,
		}
	}
	return plan
}

func flowQuote(q model.SwapQuote) flow.Quote {
	out := flow.Quote{SourceUSD: q.SourceUSD, DestUSD: q.DestUSD}
	if v, ok := new(big.Int).SetString(strings.TrimSpace(q.EstimatedOut.AmountBaseUnits), 10); ok {
		out.OutAmount = v
	}
	if v, ok := new(big.Int).SetString(strings.TrimSpace(q.InputAmount.AmountBaseUnits), 10); ok {
		out.InAmount = v
	}
	if q.Transaction != nil {
		out.SwapTarget = common.HexToAddress(q.Transaction.To)
		out.CallData = common.FromHex(q.Transaction.Data)
	}
	return out
}

func wireInstructions(items []instruction.Instruction) []model.Instruction {
	out := make([]model.Instruction, 0, len(items))
	for _, ins := range items {
		out = append(out, model.Instruction{
			Kind:       string(ins.Kind),
			Opcode:     string(ins.Opcode),
			ProtocolID: ins.ProtocolID,
			Params:     hexutil.Encode(ins.Params),
			References: ins.References(),
		})
	}
	return out
}

func wireChunkSizes(sizes []*big.Int) []string {
	out := make([]string, 0, len(sizes))
	for _, size := range sizes {
		out = append(out, size.String())
	}
	return out
}

func amountInfo(v *big.Int, decimals int) model.AmountInfo {
	base := v.String()
	return model.AmountInfo{
		AmountBaseUnits: base,
		AmountDecimal:   id.FormatDecimalCompat(base, decimals),
		Decimals:        decimals,
	}
}

func assetDecimals(asset id.Asset) int {
	if asset.Decimals > 0 {
		return asset.Decimals
	}
	return 18
}

func parseBaseAmount(baseUnits, decimal string, decimals int) (*big.Int, error) {
	base, _, err := id.NormalizeAmount(baseUnits, decimal, decimals)
	if err != nil {
		return nil, err
	}
	parsed, ok := new(big.Int).SetString(base, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be a positive integer")
	}
	return parsed, nil
}
