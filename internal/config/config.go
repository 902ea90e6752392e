// Package config holds the options of the assembler front end, read from a TOML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/xyproto/env/v2"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/function"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/jitapi"
)

// FileName is the options file looked up in the working directory.
const FileName = "peachjit.toml"

// Environment variables consulted by FromEnv.
const (
	EnvABI      = "PEACHJIT_ABI"
	EnvDebug    = jitapi.DebugLevelEnv
	EnvBundle   = "PEACHJIT_BUNDLE"
	EnvOptimize = "PEACHJIT_OPTIMIZE"
	EnvFormat   = "PEACHJIT_FORMAT"
)

// Options configures how functions are built and encoded.
type Options struct {
	// ABI is the key of the calling convention, such as "sysv" or "ms-x64".
	ABI string `toml:"abi"`
	// DebugLevel above zero records the source location of emitted instructions.
	DebugLevel int `toml:"debug_level"`
	// BundleSize is zero to use the ABI default, or 16, 32 or 64.
	BundleSize      int  `toml:"bundle_size"`
	OptimizeBundles bool `toml:"optimize_bundles"`
	// Package prefixes function symbols in Go assembly listings.
	Package string `toml:"package"`
	// Format is the listing syntax, "peachpy" or "gnu".
	Format string `toml:"format"`
}

// Default returns the options for the host ABI, or SystemV when the host does not run an x86-64 ABI.
func Default() Options {
	a := abi.Detect()
	if a == nil {
		a = abi.SystemV
	}
	return Options{ABI: a.Key, Format: amd64.SyntaxPeachPy.String()}
}

// Load reads the options file at path over the defaults.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read config file: %w", err)
	}
	o, err := Parse(data)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}

// Parse decodes TOML options over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Options, error) {
	o := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return Options{}, fmt.Errorf("failed to parse config file: %s", serr.String())
		}
		return Options{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return o, o.Validate()
}

// FromEnv returns base with the fields set in the environment replaced.
// The environment is re-read on every call.
func FromEnv(base Options) Options {
	env.Load()
	base.ABI = env.Str(EnvABI, base.ABI)
	base.DebugLevel = env.Int(EnvDebug, base.DebugLevel)
	base.BundleSize = env.Int(EnvBundle, base.BundleSize)
	if env.Has(EnvOptimize) {
		base.OptimizeBundles = env.Bool(EnvOptimize)
	}
	base.Format = env.Str(EnvFormat, base.Format)
	return base
}

// Validate checks that every option has a supported value.
func (o Options) Validate() error {
	if _, err := abi.Lookup(o.ABI); err != nil {
		return err
	}
	if o.DebugLevel < 0 {
		return fmt.Errorf("invalid debug level %d", o.DebugLevel)
	}
	switch o.BundleSize {
	case 0, 16, 32, 64:
	default:
		return fmt.Errorf("invalid bundle size %d: must be 0, 16, 32 or 64", o.BundleSize)
	}
	_, err := amd64.ParseSyntax(o.Format)
	return err
}

// TargetABI returns the ABI named by the options.
func (o Options) TargetABI() (*abi.ABI, error) {
	return abi.Lookup(o.ABI)
}

// Syntax returns the listing syntax named by the options.
func (o Options) Syntax() (amd64.Syntax, error) {
	return amd64.ParseSyntax(o.Format)
}

// FunctionOptions returns the options of functions built under o.
func (o Options) FunctionOptions() function.Options {
	return function.Options{DebugLevel: o.DebugLevel, Package: o.Package}
}

// Encode encodes af with the configured bundling.
func (o Options) Encode(af *function.ABIFunction) (*function.EncodedFunction, error) {
	if o.BundleSize == 0 {
		return af.Encode()
	}
	return af.EncodeBundled(o.BundleSize, o.OptimizeBundles)
}
