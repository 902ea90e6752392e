package regalloc

import "fmt"

// CapacityError is returned when more registers of one kind are simultaneously live than the
// physical register file can hold. Registers are never spilled to memory.
type CapacityError struct {
	Kind   Kind
	Live   int
	Budget int
	Instr  string
	Origin string
}

// Error implements error.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("%d %s registers live at %q%s but only %d are available",
		e.Live, e.Kind, e.Instr, at(e.Origin), e.Budget)
}

// PreBindingError is returned when an operand that requires a fixed physical register cannot get it.
type PreBindingError struct {
	Reg    Reg
	Phys   uint8
	Reason string
	Instr  string
	Origin string
}

// Error implements error.
func (e *PreBindingError) Error() string {
	return fmt.Sprintf("cannot bind %s to physical register %d at %q%s: %s",
		e.Reg.Key(), e.Phys, e.Instr, at(e.Origin), e.Reason)
}

// ModeError is returned when an AVX instruction follows an SSE instruction without an
// intervening instruction that clears the upper vector state.
type ModeError struct {
	Instr  string
	Origin string
	Prev   string
}

// Error implements error.
func (e *ModeError) Error() string {
	return fmt.Sprintf("AVX instruction %q%s follows SSE instruction %q without clearing the vector state",
		e.Instr, at(e.Origin), e.Prev)
}

func at(origin string) string {
	if origin == "" {
		return ""
	}
	return " (" + origin + ")"
}
