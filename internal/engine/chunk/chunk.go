// Package chunk splits a progressive-execution total into per-iteration
// pieces whose sizes sum exactly back to the total.
package chunk

import (
	"fmt"
	"math/big"

	"github.com/leverlabs/lever-cli/internal/engine/feemath"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
)

// MaxChunks bounds how many iterations a progressive order may split into.
const MaxChunks = 100

// Split divides total into n pieces. Every piece gets the floor share and
// the last piece absorbs the remainder, so the pieces sum to total exactly.
// A single chunk is the whole total, making n=1 identical to an unchunked
// flow.
func Split(total *big.Int, n int) ([]*big.Int, error) {
	if total == nil || total.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "chunk total must be a positive amount")
	}
	if n < 1 || n > MaxChunks {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("chunk count must be between 1 and %d", MaxChunks))
	}
	base, rem := new(big.Int).QuoRem(total, big.NewInt(int64(n)), new(big.Int))
	sizes := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		sizes[i] = new(big.Int).Set(base)
	}
	sizes[n-1].Add(sizes[n-1], rem)
	return sizes, nil
}

// Piece pairs one chunk's size with the lender fee and the repayment owed
// for that iteration.
type Piece struct {
	Size      *big.Int `json:"size"`
	Fee       *big.Int `json:"fee"`
	Repayment *big.Int `json:"repayment"`
}

// Breakdown computes the fee and repayment for one chunk at feeBps.
func Breakdown(size *big.Int, feeBps int64) Piece {
	fee := feemath.FlashLoanFee(size, feeBps)
	return Piece{
		Size:      new(big.Int).Set(size),
		Fee:       fee,
		Repayment: new(big.Int).Add(size, fee),
	}
}
