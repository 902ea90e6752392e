package function

import (
	"errors"
	"fmt"
)

var (
	// ErrFinalized is returned when instructions are emitted into a closed function.
	ErrFinalized = errors.New("function is closed")
	// ErrBundleFull is returned when a group of instructions that must share a bundle is longer
	// than the bundle.
	ErrBundleFull = errors.New("instructions do not fit in one bundle")
)

// UsageError reports a function built incorrectly by the caller, e.g. a branch to an undefined label.
type UsageError struct {
	Function string
	// Instr is the offending instruction, if any.
	Instr  string
	Origin string
	Reason string
}

// Error implements error.
func (e *UsageError) Error() string {
	msg := "function " + e.Function
	if e.Instr != "" {
		msg += fmt.Sprintf(": %q", e.Instr)
	}
	if e.Origin != "" {
		msg += " (" + e.Origin + ")"
	}
	return msg + ": " + e.Reason
}

// EncodingError reports an instruction which has no encoding for its final operands, or a branch
// whose target is out of range even for the long form.
type EncodingError struct {
	Function string
	Instr    string
	Origin   string
	Err      error
}

// Error implements error.
func (e *EncodingError) Error() string {
	msg := fmt.Sprintf("function %s: cannot encode %q", e.Function, e.Instr)
	if e.Origin != "" {
		msg += " (" + e.Origin + ")"
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *EncodingError) Unwrap() error { return e.Err }
