package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
)

type EstimateBlockTag string

const (
	EstimateBlockTagLatest  EstimateBlockTag = "latest"
	EstimateBlockTagPending EstimateBlockTag = "pending"
)

type EstimateOptions struct {
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	BlockTag           EstimateBlockTag
}

func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{
		GasMultiplier: 1.2,
		BlockTag:      EstimateBlockTagPending,
	}
}

// BatchGasEstimate prices one plan's call batch against a live RPC. The
// fee environment is read once since every call in a batch shares a
// chain; per-call numbers use the padded gas limit.
type BatchGasEstimate struct {
	PlanID                  string            `json:"plan_id"`
	ChainID                 string            `json:"chain_id"`
	EstimatedAt             string            `json:"estimated_at"`
	BlockTag                string            `json:"block_tag"`
	BaseFeePerGasWei        string            `json:"base_fee_per_gas_wei"`
	MaxPriorityFeePerGasWei string            `json:"max_priority_fee_per_gas_wei"`
	MaxFeePerGasWei         string            `json:"max_fee_per_gas_wei"`
	Calls                   []CallGasEstimate `json:"calls"`
	TotalGasLimit           string            `json:"total_gas_limit"`
	LikelyFeeWei            string            `json:"likely_fee_wei"`
	WorstCaseFeeWei         string            `json:"worst_case_fee_wei"`
}

type CallGasEstimate struct {
	Label           string `json:"label"`
	Target          string `json:"target"`
	GasEstimateRaw  string `json:"gas_estimate_raw"`
	GasLimit        string `json:"gas_limit"`
	LikelyFeeWei    string `json:"likely_fee_wei"`
	WorstCaseFeeWei string `json:"worst_case_fee_wei"`
}

func EstimateBatchGas(ctx context.Context, batch CallBatch, rpcURL string, opts EstimateOptions) (BatchGasEstimate, error) {
	if len(batch.Calls) == 0 {
		return BatchGasEstimate{}, clierr.New(clierr.CodeUsage, "batch has no calls to estimate")
	}
	if strings.TrimSpace(rpcURL) == "" {
		return BatchGasEstimate{}, clierr.New(clierr.CodeUsage, "missing rpc url")
	}
	if opts.GasMultiplier <= 1 {
		return BatchGasEstimate{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
	}
	blockTag, err := normalizeEstimateBlockTag(opts.BlockTag)
	if err != nil {
		return BatchGasEstimate{}, err
	}
	from := common.Address{}
	if strings.TrimSpace(batch.From) != "" {
		if !common.IsHexAddress(strings.TrimSpace(batch.From)) {
			return BatchGasEstimate{}, clierr.New(clierr.CodeUsage, "batch has invalid from address")
		}
		from = common.HexToAddress(strings.TrimSpace(batch.From))
	}

	client, err := ethclient.DialContext(ctx, strings.TrimSpace(rpcURL))
	if err != nil {
		return BatchGasEstimate{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return BatchGasEstimate{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	chainKey := fmt.Sprintf("eip155:%d", chainID.Int64())
	if strings.TrimSpace(batch.ChainID) != "" && !strings.EqualFold(strings.TrimSpace(batch.ChainID), chainKey) {
		return BatchGasEstimate{}, clierr.New(clierr.CodePlanPolicy, fmt.Sprintf("batch chain mismatch: rpc serves %s, batch targets %s", chainKey, batch.ChainID))
	}

	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return BatchGasEstimate{}, err
	}
	baseFee, err := baseFeeAtBlockTag(ctx, client, blockTag)
	if err != nil {
		return BatchGasEstimate{}, err
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return BatchGasEstimate{}, err
	}
	effectiveGasPrice := new(big.Int).Add(new(big.Int).Set(baseFee), tipCap)
	if effectiveGasPrice.Cmp(feeCap) > 0 {
		effectiveGasPrice = new(big.Int).Set(feeCap)
	}

	estimate := BatchGasEstimate{
		PlanID:                  batch.PlanID,
		ChainID:                 chainKey,
		EstimatedAt:             time.Now().UTC().Format(time.RFC3339),
		BlockTag:                string(blockTag),
		BaseFeePerGasWei:        baseFee.String(),
		MaxPriorityFeePerGasWei: tipCap.String(),
		MaxFeePerGasWei:         feeCap.String(),
	}
	totalLimit := uint64(0)
	totalLikely := big.NewInt(0)
	totalWorst := big.NewInt(0)

	for _, call := range batch.Calls {
		msg, err := callMsgFor(call, from)
		if err != nil {
			return BatchGasEstimate{}, err
		}
		rawGas, err := estimateGasWithBlockTag(ctx, client, msg, blockTag)
		if err != nil {
			return BatchGasEstimate{}, wrapEVMExecutionError(clierr.CodeEstimate, fmt.Sprintf("estimate gas for %s", call.Label), err)
		}
		gasLimit := uint64(float64(rawGas) * opts.GasMultiplier)
		if gasLimit == 0 {
			return BatchGasEstimate{}, clierr.New(clierr.CodeEstimate, fmt.Sprintf("estimate gas for %s returned zero", call.Label))
		}

		gasLimitBI := new(big.Int).SetUint64(gasLimit)
		likelyFee := new(big.Int).Mul(gasLimitBI, effectiveGasPrice)
		worstFee := new(big.Int).Mul(gasLimitBI, feeCap)

		estimate.Calls = append(estimate.Calls, CallGasEstimate{
			Label:           call.Label,
			Target:          call.Target,
			GasEstimateRaw:  strconvUint64(rawGas),
			GasLimit:        strconvUint64(gasLimit),
			LikelyFeeWei:    likelyFee.String(),
			WorstCaseFeeWei: worstFee.String(),
		})
		totalLimit += gasLimit
		totalLikely.Add(totalLikely, likelyFee)
		totalWorst.Add(totalWorst, worstFee)
	}

	estimate.TotalGasLimit = strconvUint64(totalLimit)
	estimate.LikelyFeeWei = totalLikely.String()
	estimate.WorstCaseFeeWei = totalWorst.String()
	return estimate, nil
}

func callMsgFor(call Call, from common.Address) (ethereum.CallMsg, error) {
	target := strings.TrimSpace(call.Target)
	if !common.IsHexAddress(target) {
		return ethereum.CallMsg{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("call %s has invalid target address", call.Label))
	}
	to := common.HexToAddress(target)
	data, err := decodeHex(call.Data)
	if err != nil {
		return ethereum.CallMsg{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("decode calldata for %s", call.Label), err)
	}
	value, err := parseNonNegativeBaseUnits(call.Value)
	if err != nil {
		return ethereum.CallMsg{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("parse value for %s", call.Label), err)
	}
	return ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}, nil
}

func resolveTipCap(ctx context.Context, client *ethclient.Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	scale := big.NewRat(1_000_000_000, 1)
	rat.Mul(rat, scale)
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func parseNonNegativeBaseUnits(raw string) (*big.Int, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base-units integer")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	return value, nil
}

func normalizeEstimateBlockTag(input EstimateBlockTag) (EstimateBlockTag, error) {
	switch strings.ToLower(strings.TrimSpace(string(input))) {
	case "", string(EstimateBlockTagPending):
		return EstimateBlockTagPending, nil
	case string(EstimateBlockTagLatest):
		return EstimateBlockTagLatest, nil
	default:
		return "", clierr.New(clierr.CodeUsage, "--block-tag must be one of: pending,latest")
	}
}

func estimateGasWithBlockTag(ctx context.Context, client *ethclient.Client, msg ethereum.CallMsg, blockTag EstimateBlockTag) (uint64, error) {
	arg := map[string]any{
		"from": msg.From.Hex(),
	}
	if msg.To != nil {
		arg["to"] = msg.To.Hex()
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}

	var estimated hexutil.Uint64
	if err := client.Client().CallContext(ctx, &estimated, "eth_estimateGas", arg, string(blockTag)); err != nil {
		if blockTag == EstimateBlockTagPending {
			if retryErr := client.Client().CallContext(ctx, &estimated, "eth_estimateGas", arg, string(EstimateBlockTagLatest)); retryErr == nil {
				return uint64(estimated), nil
			}
		}
		fallback, fallbackErr := client.EstimateGas(ctx, msg)
		if fallbackErr == nil {
			return fallback, nil
		}
		return 0, err
	}
	return uint64(estimated), nil
}

func baseFeeAtBlockTag(ctx context.Context, client *ethclient.Client, blockTag EstimateBlockTag) (*big.Int, error) {
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", string(blockTag), false); err != nil {
		if blockTag == EstimateBlockTagPending {
			if retryErr := client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", string(EstimateBlockTagLatest), false); retryErr == nil {
				if block.BaseFeePerGas == nil {
					return big.NewInt(1_000_000_000), nil
				}
				return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
			}
		}
		header, headerErr := client.HeaderByNumber(ctx, nil)
		if headerErr == nil {
			if header.BaseFee == nil {
				return big.NewInt(1_000_000_000), nil
			}
			return new(big.Int).Set(header.BaseFee), nil
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	if block.BaseFeePerGas == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
}

func strconvUint64(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
