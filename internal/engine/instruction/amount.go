package instruction

import (
	"fmt"
	"math/big"
)

// MaxUint256 is the on-chain sweep sentinel: the router and the protocol
// modules treat it as "the full available balance".
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// AmountSource is what an instruction's amount parameter resolves to at
// execution time: a literal fixed off-chain, or the virtual output produced
// by an earlier instruction in the same execution. The zero value is a
// literal zero.
type AmountSource struct {
	amount *big.Int
	index  int
	isRef  bool
}

// Literal fixes the amount off-chain.
func Literal(v *big.Int) AmountSource {
	if v == nil {
		v = new(big.Int)
	}
	return AmountSource{amount: new(big.Int).Set(v), index: -1}
}

// Sweep is the literal that moves the full available balance.
func Sweep() AmountSource {
	return Literal(MaxUint256)
}

// OutputRef resolves the amount from the virtual output at index.
func OutputRef(index int) AmountSource {
	return AmountSource{amount: new(big.Int), index: index, isRef: true}
}

func (a AmountSource) IsOutputRef() bool { return a.isRef }

// OutputIndex returns the referenced slot, or -1 for literals.
func (a AmountSource) OutputIndex() int {
	if !a.isRef {
		return -1
	}
	return a.index
}

// Amount returns the literal value. References carry zero here; their
// value exists only at execution time.
func (a AmountSource) Amount() *big.Int {
	if a.amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.amount)
}

func (a AmountSource) String() string {
	if a.isRef {
		return fmt.Sprintf("output:%d", a.index)
	}
	return fmt.Sprintf("literal:%s", a.Amount())
}
