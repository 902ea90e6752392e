package regalloc

import "fmt"

// These interfaces are implemented by ISA-specific instruction representations so that the analysis and
// allocation can work on any instruction list.

type (
	// Instr is an instruction in a function's instruction list, abstracting away the underlying ISA.
	Instr interface {
		fmt.Stringer

		// Uses returns the register views read by this instruction, including implicit reads and the
		// address registers of memory operands. Cancelling forms whose inputs are identical report none.
		Uses() []Reg
		// Defs returns the register views written by this instruction. avx tells whether the
		// instruction executes in AVX mode so that vector writes can be widened accordingly.
		Defs(avx bool) []Reg
		// Registers returns every register appearing in the operands of this instruction.
		Registers() []Reg
		// Control returns how this instruction affects control flow, and the label it defines or targets.
		Control() (Control, int)
		// Mode returns the SSE/AVX mode requirement of this instruction.
		Mode() Mode
		// FixedOperands returns the registers that this instruction form requires to live in a specific
		// physical register, e.g. the count operand of a variable shift.
		FixedOperands() []FixedOperand
	}

	// Origin is optionally implemented by Instr to report the source location that emitted it.
	Origin interface {
		Origin() string
	}

	// FixedOperand is a register operand that must be bound to the physical register Phys.
	FixedOperand struct {
		Reg  Reg
		Phys uint8
	}
)

// Control classifies the effect of an instruction on the control flow.
type Control byte

const (
	// ControlNone falls through to the next instruction.
	ControlNone Control = iota
	// ControlLabel defines a branch target.
	ControlLabel
	// ControlJump unconditionally transfers control to a label.
	ControlJump
	// ControlCondJump transfers control to a label or falls through.
	ControlCondJump
	// ControlReturn leaves the function.
	ControlReturn
)

// Mode is the SSE/AVX execution mode requirement of an instruction.
type Mode byte

const (
	// ModeNone instructions do not care about the mode.
	ModeNone Mode = iota
	// ModeSSE instructions use legacy-encoded vector registers.
	ModeSSE
	// ModeAVX instructions use VEX or EVEX encoded vector registers.
	ModeAVX
	// ModeReset instructions clear the upper vector state, e.g. VZEROUPPER.
	ModeReset
	// ModeInherit instructions take the mode of the surrounding code.
	ModeInherit
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeSSE:
		return "sse"
	case ModeAVX:
		return "avx"
	case ModeReset:
		return "reset"
	case ModeInherit:
		return "inherit"
	default:
		return "none"
	}
}

func originOf(i Instr) string {
	if o, ok := i.(Origin); ok {
		return o.Origin()
	}
	return ""
}
