package instruction

import (
	"math/big"
	"testing"
)

func TestCursor(t *testing.T) {
	c := NewCursor(2)
	if c.Next() != 2 {
		t.Fatalf("expected cursor to start at base, got %d", c.Next())
	}
	if got := c.Advance(); got != 2 {
		t.Fatalf("expected first assignment at 2, got %d", got)
	}
	if c.Next() != 3 {
		t.Fatalf("expected cursor at 3 after advance, got %d", c.Next())
	}
}

func TestProgramMarketNumbering(t *testing.T) {
	p := NewProgram(0)

	materialize, err := MaterializeOutput(big.NewInt(1000))
	if err != nil {
		t.Fatalf("MaterializeOutput failed: %v", err)
	}
	idx, err := p.Append(materialize)
	if err != nil {
		t.Fatalf("append materialize: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected materialized output at 0, got %d", idx)
	}

	draw, err := FlashLoan(testSpender, testToken, OutputRef(0))
	if err != nil {
		t.Fatalf("FlashLoan failed: %v", err)
	}
	idx, err = p.Append(draw)
	if err != nil {
		t.Fatalf("append flash loan: %v", err)
	}
	if idx != -1 {
		t.Fatalf("flash loan must not retain an output, got %d", idx)
	}

	pull, err := PullToken(testToken, testUser, Literal(big.NewInt(50)))
	if err != nil {
		t.Fatalf("PullToken failed: %v", err)
	}
	idx, err = p.Append(pull)
	if err != nil {
		t.Fatalf("append pull: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected pulled output at 1, got %d", idx)
	}

	sum, err := Add(OutputRef(0), OutputRef(1))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	idx, err = p.Append(sum)
	if err != nil {
		t.Fatalf("append add: %v", err)
	}
	if idx != 2 {
		t.Fatalf("expected sum output at 2, got %d", idx)
	}
	if p.NextIndex() != 3 || p.Len() != 4 {
		t.Fatalf("unexpected program shape: next=%d len=%d", p.NextIndex(), p.Len())
	}
}

func TestProgramRejectsForwardReference(t *testing.T) {
	p := NewProgram(0)
	push, err := PushToken(testToken, testUser, OutputRef(0))
	if err != nil {
		t.Fatalf("PushToken failed: %v", err)
	}
	if _, err := p.Append(push); err == nil {
		t.Fatal("expected reference to an unproduced output to fail")
	}
}

func TestProgramHarnessBaseTreatsPrependedOutputsAsProduced(t *testing.T) {
	p := NewProgram(2)

	// Outputs 0 and 1 are the harness's actual-sold and actual-bought
	// values, available before any instruction runs.
	push, err := PushToken(testToken, testUser, OutputRef(1))
	if err != nil {
		t.Fatalf("PushToken failed: %v", err)
	}
	if _, err := p.Append(push); err != nil {
		t.Fatalf("append harness reference: %v", err)
	}

	materialize, err := MaterializeOutput(big.NewInt(7))
	if err != nil {
		t.Fatalf("MaterializeOutput failed: %v", err)
	}
	idx, err := p.Append(materialize)
	if err != nil {
		t.Fatalf("append materialize: %v", err)
	}
	if idx != 2 {
		t.Fatalf("expected first produced output at base 2, got %d", idx)
	}
}
