package jitapi

import "github.com/xyproto/env/v2"

// These consts are used various places in the pipeline.
// Instead of defining them in each file, we define them here so that we can quickly iterate on
// debugging without spending "where do we have debug logging?" time.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	AnalysisLoggingEnabled = false
	RegAllocLoggingEnabled = false
	EncodingLoggingEnabled = false
)

// ----- Output prints -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	PrintRegisterAllocated    = false
	PrintLoweredFunction      = false
	PrintFinalizedMachineCode = false
)

// ----- Validations -----
// These consts must be enabled by default until we reach the point where we can disable them.

const (
	RegAllocValidationEnabled = true
	EncodingValidationEnabled = true
)

// DebugLevelEnv is the environment variable consulted by DefaultDebugLevel.
const DebugLevelEnv = "PEACHJIT_DEBUG"

// DefaultDebugLevel returns the debug level used by functions that do not set one explicitly.
// Level 0 records nothing, level 1 and above records the emitting source location of each instruction.
// The environment is re-read on every call.
func DefaultDebugLevel() int {
	env.Load()
	return env.Int(DebugLevelEnv, 0)
}
