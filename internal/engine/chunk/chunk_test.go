package chunk

import (
	"math/big"
	"testing"
)

func TestSplitRemainderGoesToLastChunk(t *testing.T) {
	sizes, err := Split(big.NewInt(1000), 3)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	want := []int64{333, 333, 334}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(sizes))
	}
	for i, w := range want {
		if sizes[i].Int64() != w {
			t.Fatalf("chunk %d = %s, want %d", i, sizes[i], w)
		}
	}
}

func TestSplitSumsExactly(t *testing.T) {
	totals := []int64{1, 7, 100, 999, 1000000007}
	for _, total := range totals {
		for _, n := range []int{1, 2, 3, 10, 99, 100} {
			sizes, err := Split(big.NewInt(total), n)
			if err != nil {
				t.Fatalf("Split(%d, %d) failed: %v", total, n, err)
			}
			if len(sizes) != n {
				t.Fatalf("Split(%d, %d) returned %d chunks", total, n, len(sizes))
			}
			sum := new(big.Int)
			for _, s := range sizes {
				sum.Add(sum, s)
			}
			if sum.Int64() != total {
				t.Fatalf("Split(%d, %d) sums to %s", total, n, sum)
			}
		}
	}
}

func TestSplitSingleChunkIsWholeTotal(t *testing.T) {
	sizes, err := Split(big.NewInt(123456), 1)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(sizes) != 1 || sizes[0].Int64() != 123456 {
		t.Fatalf("unexpected single-chunk split: %v", sizes)
	}
}

func TestSplitRejectsBadInput(t *testing.T) {
	if _, err := Split(nil, 3); err == nil {
		t.Fatal("expected nil total to fail")
	}
	if _, err := Split(big.NewInt(0), 3); err == nil {
		t.Fatal("expected zero total to fail")
	}
	if _, err := Split(big.NewInt(100), 0); err == nil {
		t.Fatal("expected zero chunk count to fail")
	}
	if _, err := Split(big.NewInt(100), MaxChunks+1); err == nil {
		t.Fatal("expected over-cap chunk count to fail")
	}
}

func TestBreakdownFeeLess(t *testing.T) {
	piece := Breakdown(big.NewInt(333), 0)
	if piece.Fee.Sign() != 0 {
		t.Fatalf("fee-less breakdown carries fee %s", piece.Fee)
	}
	if piece.Repayment.Cmp(piece.Size) != 0 {
		t.Fatalf("fee-less repayment %s differs from size %s", piece.Repayment, piece.Size)
	}
}

func TestBreakdownWithFee(t *testing.T) {
	piece := Breakdown(big.NewInt(1000), 5)
	if piece.Fee.Int64() != 1 {
		t.Fatalf("expected 1 unit fee, got %s", piece.Fee)
	}
	if piece.Repayment.Int64() != 1001 {
		t.Fatalf("expected repayment 1001, got %s", piece.Repayment)
	}
}
