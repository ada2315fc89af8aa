package lenderliq

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leverlabs/lever-cli/internal/id"
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// balancesByHolder keys lender addresses (lowercase, no 0x) to balances.
func newBalanceRPCServer(t *testing.T, balancesByHolder map[string]*big.Int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "eth_call":
			var call struct {
				To    string `json:"to"`
				Input string `json:"input"`
			}
			if err := json.Unmarshal(req.Params[0], &call); err != nil {
				writeRPCError(w, req.ID, -32602, "bad call object")
				return
			}
			data := strings.ToLower(strings.TrimPrefix(call.Input, "0x"))
			if !strings.HasPrefix(data, "70a08231") || len(data) < 72 {
				writeRPCError(w, req.ID, -32602, "not a balanceOf call")
				return
			}
			holder := data[len(data)-40:]
			balance, ok := balancesByHolder[holder]
			if !ok {
				writeRPCError(w, req.ID, -32000, "unexpected holder "+holder)
				return
			}
			writeRPCResult(t, w, req.ID, fmt.Sprintf("0x%064x", balance))
		default:
			writeRPCError(w, req.ID, -32601, "method not supported in test: "+req.Method)
		}
	}))
}

func writeRPCResult(t *testing.T, w http.ResponseWriter, id json.RawMessage, result any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"jsonrpc": "2.0", "id": decodeRPCID(id), "result": result}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode rpc result: %v", err)
	}
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      decodeRPCID(id),
		"error":   map[string]any{"code": code, "message": message},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func decodeRPCID(raw json.RawMessage) any {
	if len(raw) == 0 {
		return 1
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return 1
	}
	return out
}

func TestSnapshotReportsEachLender(t *testing.T) {
	// Optimism: morpho is not deployed, balancer and aave are.
	srv := newBalanceRPCServer(t, map[string]*big.Int{
		"ba12222222228d8ba445958a75a0704d566bf2c8": big.NewInt(5000),
		"794a61358d6845594f94dc1db02a252b5b4814ad": big.NewInt(400),
	})
	defer srv.Close()

	chain, _ := id.ParseChain("optimism")
	token, _ := id.ParseAsset("USDC", chain)

	rows, snap, err := New().Snapshot(context.Background(), SnapshotRequest{
		Chain:    chain,
		Token:    token,
		RPCURL:   srv.URL,
		Required: big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	if rows[0].Provider != "morpho" || rows[0].Eligible {
		t.Fatalf("morpho should be ineligible: %+v", rows[0])
	}
	if !strings.Contains(rows[0].Reason, "not deployed") {
		t.Fatalf("unexpected morpho reason %q", rows[0].Reason)
	}

	if rows[1].Provider != "balancer" || !rows[1].Eligible {
		t.Fatalf("balancer should be eligible: %+v", rows[1])
	}
	if rows[1].AvailableBaseUnits != "5000" {
		t.Fatalf("unexpected balancer balance %s", rows[1].AvailableBaseUnits)
	}
	if rows[1].FeeBaseUnits != "0" {
		t.Fatalf("unexpected balancer fee %q", rows[1].FeeBaseUnits)
	}

	if rows[2].Provider != "aave" || rows[2].Eligible {
		t.Fatalf("aave should be ineligible: %+v", rows[2])
	}
	if rows[2].Reason != "insufficient liquidity" {
		t.Fatalf("unexpected aave reason %q", rows[2].Reason)
	}
	// 5 bps on 1000 rounds the half unit up.
	if rows[2].FeeBaseUnits != "1" {
		t.Fatalf("unexpected aave fee %q", rows[2].FeeBaseUnits)
	}

	if len(snap) != 2 {
		t.Fatalf("expected snapshot entries for deployed lenders only, got %d", len(snap))
	}
	if snap["balancer"].Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("unexpected balancer snapshot %s", snap["balancer"])
	}
	if _, ok := snap["morpho"]; ok {
		t.Fatal("undeployed lender must not appear in the snapshot")
	}
}

func TestSnapshotWithoutRequiredMarksDeployedLendersEligible(t *testing.T) {
	srv := newBalanceRPCServer(t, map[string]*big.Int{
		"ba12222222228d8ba445958a75a0704d566bf2c8": big.NewInt(1),
		"794a61358d6845594f94dc1db02a252b5b4814ad": big.NewInt(0),
	})
	defer srv.Close()

	chain, _ := id.ParseChain("optimism")
	token, _ := id.ParseAsset("USDC", chain)

	rows, _, err := New().Snapshot(context.Background(), SnapshotRequest{
		Chain:  chain,
		Token:  token,
		RPCURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !rows[1].Eligible || !rows[2].Eligible {
		t.Fatalf("deployed lenders should be eligible without a required amount: %+v", rows)
	}
	if rows[1].FeeBaseUnits != "" {
		t.Fatalf("fee should be omitted without a required amount, got %q", rows[1].FeeBaseUnits)
	}
}

func TestSnapshotRequiresTokenAddress(t *testing.T) {
	chain, _ := id.ParseChain("ethereum")
	_, _, err := New().Snapshot(context.Background(), SnapshotRequest{
		Chain:  chain,
		Token:  id.Asset{Symbol: "USDC"},
		RPCURL: "http://127.0.0.1:1",
	})
	if err == nil {
		t.Fatal("expected token address error")
	}
}
