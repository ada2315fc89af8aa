package execution

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/leverlabs/lever-cli/internal/model"
)

func TestStoreSaveGetList(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "plans.db"), filepath.Join(dir, "plans.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	plan := model.Plan{
		PlanID:    NewPlanID(),
		Operation: "multiply",
		Mode:      "market",
		ChainID:   "eip155:1",
		Protocol:  "aave-v3",
		Status:    PlanStatusReady,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Instructions: []model.Instruction{
			{Kind: "router", Opcode: "flashLoan", Params: "0x01"},
		},
	}
	if err := store.Save(plan); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(plan.PlanID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PlanID != plan.PlanID {
		t.Fatalf("unexpected plan id: %s", got.PlanID)
	}
	if got.Operation != "multiply" {
		t.Fatalf("unexpected operation: %s", got.Operation)
	}
	if len(got.Instructions) != 1 || got.Instructions[0].Opcode != "flashLoan" {
		t.Fatalf("instructions did not round-trip: %+v", got.Instructions)
	}

	got.Status = PlanStatusBlocked
	if err := store.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	blocked, err := store.List(PlanStatusBlocked, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(blocked) != 1 {
		t.Fatalf("expected one blocked plan, got %d", len(blocked))
	}
	ready, err := store.List(PlanStatusReady, "", 10)
	if err != nil {
		t.Fatalf("List ready failed: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready plans after update, got %d", len(ready))
	}
}

func TestStoreListHonorsLimit(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "plans.db"), filepath.Join(dir, "plans.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for _, planID := range []string{"plan_a", "plan_b", "plan_c"} {
		plan := model.Plan{
			PlanID:    planID,
			Operation: "close",
			Mode:      "market",
			ChainID:   "eip155:8453",
			Status:    PlanStatusReady,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := store.Save(plan); err != nil {
			t.Fatalf("Save %s failed: %v", planID, err)
		}
	}

	plans, err := store.List("", "", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected two plans under the limit, got %d", len(plans))
	}
}

func TestStoreListFiltersByOperation(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "plans.db"), filepath.Join(dir, "plans.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for planID, operation := range map[string]string{"plan_m": "multiply", "plan_c": "close"} {
		plan := model.Plan{
			PlanID:    planID,
			Operation: operation,
			Mode:      "market",
			ChainID:   "eip155:1",
			Status:    PlanStatusReady,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := store.Save(plan); err != nil {
			t.Fatalf("Save %s failed: %v", planID, err)
		}
	}

	closes, err := store.List("", "close", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(closes) != 1 || closes[0].Operation != "close" {
		t.Fatalf("expected the single close plan, got %+v", closes)
	}
	none, err := store.List(PlanStatusBlocked, "close", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no blocked close plans, got %d", len(none))
	}
}

func TestStoreGetMissingPlan(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "plans.db"), filepath.Join(dir, "plans.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.Get("missing"); err == nil {
		t.Fatal("expected missing plan error")
	}
}
