package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
)

// setUnopenableCacheEnv points the cache at a directory so any attempt
// to open it fails; commands that bypass the cache must still succeed.
func setUnopenableCacheEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LEVER_CACHE_PATH", dir)
	t.Setenv("LEVER_CACHE_LOCK_PATH", filepath.Join(dir, "cache.lock"))
}

func setTempPlanStoreEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LEVER_PLANS_PATH", filepath.Join(dir, "plans.db"))
	t.Setenv("LEVER_PLANS_LOCK_PATH", filepath.Join(dir, "plans.lock"))
}

func TestShouldOpenCacheBypassesPlanCommands(t *testing.T) {
	if shouldOpenCache("plan multiply") {
		t.Fatal("did not expect plan multiply to open cache")
	}
	if shouldOpenCache("plan close") {
		t.Fatal("did not expect plan close to open cache")
	}
	if shouldOpenCache("plans list") {
		t.Fatal("did not expect plans list to open cache")
	}
	if shouldOpenCache("plans submit") {
		t.Fatal("did not expect plans submit to open cache")
	}
	if !shouldOpenCache("quote swap") {
		t.Fatal("expected quote swap to open cache")
	}
	if !shouldOpenCache("lenders list") {
		t.Fatal("expected lenders list to open cache")
	}
}

func TestRunnerPlanCommandsInSchema(t *testing.T) {
	paths := []string{
		"plan multiply",
		"plan debt-swap",
		"plan collateral-swap",
		"plan close",
		"plans list",
		"plans estimate",
		"plans submit",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			var stdout bytes.Buffer
			var stderr bytes.Buffer
			r := NewRunnerWithWriters(&stdout, &stderr)
			code := r.Run([]string{"schema", path, "--results-only"})
			if code != 0 {
				t.Fatalf("expected exit 0 for %q, got %d stderr=%s", path, code, stderr.String())
			}
			var doc map[string]any
			if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
				t.Fatalf("failed to parse schema output for %q: %v output=%s", path, err, stdout.String())
			}
			if got, _ := doc["path"].(string); got != fmt.Sprintf("lever %s", path) {
				t.Fatalf("unexpected schema path for %q: got %q", path, got)
			}
		})
	}
}

func TestRunnerPlanMultiplyMissingFlagsIsUsage(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{
		"plan", "multiply",
		"--chain", "ethereum",
		"--debt", "USDC",
		"--collateral", "WETH",
	})
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerPlansListBypassesCacheOpen(t *testing.T) {
	setUnopenableCacheEnv(t)
	setTempPlanStoreEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"plans", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}

	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse plans output json: %v output=%s", err, stdout.String())
	}
}

func TestRunnerPlansShowUnknownPlanIsUsage(t *testing.T) {
	setUnopenableCacheEnv(t)
	setTempPlanStoreEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"plans", "show", "--plan-id", "pl_missing"})
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr.String())
	}
}
