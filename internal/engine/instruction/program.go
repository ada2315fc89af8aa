package instruction

import (
	"fmt"

	clierr "github.com/leverlabs/lever-cli/internal/errors"
)

// ExecutionMode selects how a built flow executes and therefore where its
// virtual output numbering starts.
type ExecutionMode string

const (
	// ModeMarket executes in one transaction triggered by the flash loan
	// itself; numbering starts at 0.
	ModeMarket ExecutionMode = "market"
	// ModeProgressive executes chunk by chunk through the order
	// settlement harness, which prepends two fixed outputs before any
	// instruction runs; numbering starts at 2.
	ModeProgressive ExecutionMode = "progressive"
)

// The settlement harness's prepended outputs for progressive execution.
const (
	HarnessSoldIndex   = 0
	HarnessBoughtIndex = 1
)

// OutputBase returns the first virtual output index for the mode.
func (m ExecutionMode) OutputBase() int {
	if m == ModeProgressive {
		return 2
	}
	return 0
}

// Cursor mirrors the on-chain virtual output numbering: outputs are
// numbered in strict emission order starting at an execution-mode base.
type Cursor struct {
	next int
}

func NewCursor(base int) Cursor {
	return Cursor{next: base}
}

// Next returns the index the next produced output will take.
func (c *Cursor) Next() int {
	return c.next
}

// Advance assigns and returns the next output index.
func (c *Cursor) Advance() int {
	idx := c.next
	c.next++
	return idx
}

// Program is the instruction list under construction plus its output
// cursor. A fresh Program is allocated per build; nothing is shared or
// reused across builds.
type Program struct {
	ins    []Instruction
	cursor Cursor
}

func NewProgram(base int) *Program {
	return &Program{cursor: NewCursor(base)}
}

// Append validates the instruction's output references against the
// numbering so far, assigns the produced output index when the opcode
// retains a result, and returns that index (-1 otherwise). References at
// or past the cursor would resolve to outputs that do not exist yet, so
// they fail here rather than silently mis-targeting on chain. Indices
// below the base are the harness's prepended outputs and are always
// available.
func (p *Program) Append(ins Instruction) (int, error) {
	for _, ref := range ins.refs {
		if ref < 0 || ref >= p.cursor.Next() {
			return 0, clierr.New(clierr.CodeInternal,
				fmt.Sprintf("instruction %s references output %d before it exists (next index is %d)", ins.Opcode, ref, p.cursor.Next()))
		}
	}
	p.ins = append(p.ins, ins)
	if ins.Opcode.ProducesOutput() {
		return p.cursor.Advance(), nil
	}
	return -1, nil
}

// Instructions returns the built list.
func (p *Program) Instructions() []Instruction {
	out := make([]Instruction, len(p.ins))
	copy(out, p.ins)
	return out
}

// NextIndex exposes the cursor position for layout assertions.
func (p *Program) NextIndex() int {
	return p.cursor.Next()
}

func (p *Program) Len() int {
	return len(p.ins)
}
