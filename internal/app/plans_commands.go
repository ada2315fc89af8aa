package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leverlabs/lever-cli/internal/engine/flow"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/execution"
	"github.com/leverlabs/lever-cli/internal/httpx"
	"github.com/leverlabs/lever-cli/internal/id"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/registry"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newPlansCommand() *cobra.Command {
	root := &cobra.Command{Use: "plans", Short: "Inspect and execute stored plans"}
	root.AddCommand(s.newPlansListCommand())
	root.AddCommand(s.newPlansShowCommand())
	root.AddCommand(s.newPlansEstimateCommand())
	root.AddCommand(s.newPlansSubmitCommand())
	return root
}

func (s *runtimeState) newPlansListCommand() *cobra.Command {
	var status, operation string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored plans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := strings.ToLower(strings.TrimSpace(status))
			switch filter {
			case "", execution.PlanStatusReady, execution.PlanStatusBlocked:
			default:
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown plan status: %s (expected ready or blocked)", status))
			}
			opFilter := strings.ToLower(strings.TrimSpace(operation))
			if opFilter != "" {
				known := false
				names := make([]string, 0, 4)
				for _, op := range flow.Operations() {
					names = append(names, string(op))
					if string(op) == opFilter {
						known = true
					}
				}
				if !known {
					return clierr.New(clierr.CodeUsage,
						fmt.Sprintf("unknown operation: %s (supported: %s)", operation, strings.Join(names, ", ")))
				}
			}
			store, err := s.openPlanStore()
			if err != nil {
				return err
			}
			plans, err := store.List(filter, opFilter, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list plans", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), plans, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by plan status (ready|blocked)")
	cmd.Flags().StringVar(&operation, "operation", "", "Filter by operation (multiply|debt-swap|collateral-swap|close)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of plans returned")
	return cmd
}

func (s *runtimeState) newPlansShowCommand() *cobra.Command {
	var planID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a stored plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := s.loadPlan(planID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), plan, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&planID, "plan-id", "", "Plan identifier")
	_ = cmd.MarkFlagRequired("plan-id")
	return cmd
}

func (s *runtimeState) newPlansEstimateCommand() *cobra.Command {
	var planID, rpcURL string
	var gasMultiplier float64
	var maxFeeGwei, maxPriorityFeeGwei, blockTag string
	var allowMaxApproval bool
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate gas for a market plan's call batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := s.loadPlan(planID)
			if err != nil {
				return err
			}
			if err := execution.ValidateForSubmission(plan); err != nil {
				return err
			}
			batch, err := execution.BuildCallBatch(plan)
			if err != nil {
				return err
			}
			if err := execution.ValidateBatch(plan, batch, execution.Constraints{AllowMaxApproval: allowMaxApproval}); err != nil {
				return err
			}
			chain, err := id.ParseChain(plan.ChainID)
			if err != nil {
				return err
			}
			resolvedRPC, err := registry.ResolveRPCURL(rpcURL, chain.EVMChainID)
			if err != nil {
				return err
			}
			opts := execution.DefaultEstimateOptions()
			if gasMultiplier > 0 {
				opts.GasMultiplier = gasMultiplier
			}
			opts.MaxFeeGwei = maxFeeGwei
			opts.MaxPriorityFeeGwei = maxPriorityFeeGwei
			if tag := strings.ToLower(strings.TrimSpace(blockTag)); tag != "" {
				opts.BlockTag = execution.EstimateBlockTag(tag)
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			estimate, err := execution.EstimateBatchGas(ctx, batch, resolvedRPC, opts)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), estimate, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&planID, "plan-id", "", "Plan identifier")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "JSON-RPC endpoint override for the plan's chain")
	cmd.Flags().Float64Var(&gasMultiplier, "gas-multiplier", 0, "Gas estimate safety multiplier (default 1.2)")
	cmd.Flags().StringVar(&maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	cmd.Flags().StringVar(&blockTag, "block-tag", "", "Estimate against this block (latest|pending)")
	cmd.Flags().BoolVar(&allowMaxApproval, "allow-max-approval", false, "Permit an unlimited margin approval in the batch")
	_ = cmd.MarkFlagRequired("plan-id")
	return cmd
}

func (s *runtimeState) newPlansSubmitCommand() *cobra.Command {
	var planID string
	var yes, wait bool
	var pollInterval, orderTimeout string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a progressive plan to the settlement service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, "plans submit requires --yes")
			}
			plan, err := s.loadPlan(planID)
			if err != nil {
				return err
			}
			if err := execution.ValidateForSubmission(plan); err != nil {
				return err
			}
			opts := execution.DefaultWaitOptions()
			if v := strings.TrimSpace(pollInterval); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil || d <= 0 {
					return clierr.New(clierr.CodeUsage, "--poll-interval must be a positive duration")
				}
				opts.PollInterval = d
			}
			if v := strings.TrimSpace(orderTimeout); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil || d <= 0 {
					return clierr.New(clierr.CodeUsage, "--order-timeout must be a positive duration")
				}
				opts.Timeout = d
			}

			client := execution.NewSettlementClient(httpx.New(s.settings.Timeout, s.settings.Retries))
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			order, err := client.BuildOrder(ctx, plan)
			cancel()
			if err != nil {
				return err
			}
			if wait {
				// The wait budget rides on top of the per-request timeout so
				// a slow final poll still completes.
				waitCtx, cancelWait := context.WithTimeout(context.Background(), opts.Timeout+s.settings.Timeout)
				defer cancelWait()
				order, err = client.WaitForOrder(waitCtx, plan, order.OrderID, opts)
				if err != nil {
					return err
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), order, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&planID, "plan-id", "", "Plan identifier")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm submission")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll the order until it settles or fails")
	cmd.Flags().StringVar(&pollInterval, "poll-interval", "2s", "Order polling interval")
	cmd.Flags().StringVar(&orderTimeout, "order-timeout", "2m", "Maximum time to wait for settlement")
	_ = cmd.MarkFlagRequired("plan-id")
	return cmd
}

func (s *runtimeState) loadPlan(planID string) (model.Plan, error) {
	trimmed := strings.TrimSpace(planID)
	if trimmed == "" {
		return model.Plan{}, clierr.New(clierr.CodeUsage, "--plan-id is required")
	}
	store, err := s.openPlanStore()
	if err != nil {
		return model.Plan{}, err
	}
	plan, err := store.Get(trimmed)
	if err != nil {
		return model.Plan{}, clierr.Wrap(clierr.CodeUsage, "load plan", err)
	}
	return plan, nil
}
