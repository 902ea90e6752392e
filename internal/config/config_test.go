package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/function"
	"github.com/peachjit/peachjit/internal/isa/amd64"
)

func TestDefault(t *testing.T) {
	o := Default()
	exp := abi.Detect()
	if exp == nil {
		exp = abi.SystemV
	}
	require.Equal(t, exp.Key, o.ABI)
	require.Equal(t, "peachpy", o.Format)
	require.Zero(t, o.BundleSize)
	require.NoError(t, o.Validate())
}

func TestParse(t *testing.T) {
	o, err := Parse([]byte(`
abi = "gosyso"
debug_level = 1
bundle_size = 32
optimize_bundles = true
package = "kernels"
format = "gnu"
`))
	require.NoError(t, err)
	require.Equal(t, Options{
		ABI:             "gosyso",
		DebugLevel:      1,
		BundleSize:      32,
		OptimizeBundles: true,
		Package:         "kernels",
		Format:          "gnu",
	}, o)

	a, err := o.TargetABI()
	require.NoError(t, err)
	require.Equal(t, abi.GoSysO, a)
	s, err := o.Syntax()
	require.NoError(t, err)
	require.Equal(t, amd64.SyntaxGNU, s)
	require.Equal(t, function.Options{DebugLevel: 1, Package: "kernels"}, o.FunctionOptions())
}

func TestParse_partial(t *testing.T) {
	o, err := Parse([]byte(`abi = "ms-x64"`))
	require.NoError(t, err)
	exp := Default()
	exp.ABI = "ms-x64"
	require.Equal(t, exp, o)
}

func TestParse_errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		input  string
		expErr string
	}{
		{name: "abi", input: `abi = "arm64"`, expErr: `unknown ABI "arm64"`},
		{name: "bundle", input: `bundle_size = 24`, expErr: "invalid bundle size 24: must be 0, 16, 32 or 64"},
		{name: "debug", input: `debug_level = -1`, expErr: "invalid debug level -1"},
		{name: "format", input: `format = "masm"`, expErr: `unknown assembly syntax "masm"`},
		{name: "unknown key", input: `bundle = 32`, expErr: "failed to parse config file"},
		{name: "syntax", input: `abi = `, expErr: "failed to parse config file"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.input))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expErr)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("abi = \"nacl\"\nbundle_size = 64\n"), 0o600))

	o, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "nacl", o.ABI)
	require.Equal(t, 64, o.BundleSize)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config file")

	require.NoError(t, os.WriteFile(path, []byte("abi = \"arm64\"\n"), 0o600))
	_, err = Load(path)
	require.EqualError(t, err, path+`: unknown ABI "arm64"`)
}

func TestFromEnv(t *testing.T) {
	base := Options{ABI: "sysv", Format: "peachpy"}
	require.Equal(t, base, FromEnv(base))

	t.Setenv(EnvABI, "x32")
	t.Setenv(EnvDebug, "2")
	t.Setenv(EnvBundle, "16")
	t.Setenv(EnvOptimize, "true")
	t.Setenv(EnvFormat, "gnu")
	require.Equal(t, Options{
		ABI:             "x32",
		DebugLevel:      2,
		BundleSize:      16,
		OptimizeBundles: true,
		Format:          "gnu",
	}, FromEnv(base))

	// Later changes are seen too.
	t.Setenv(EnvABI, "ms-x64")
	t.Setenv(EnvOptimize, "")
	t.Setenv(EnvFormat, "")
	require.Equal(t, Options{
		ABI:        "ms-x64",
		DebugLevel: 2,
		BundleSize: 16,
		Format:     "peachpy",
	}, FromEnv(base))
}

func TestOptions_Encode(t *testing.T) {
	f, err := function.New("kernel", nil, nil, function.Options{})
	require.NoError(t, err)
	require.NoError(t, f.Emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(1)))
	require.NoError(t, f.Return())
	af, err := f.Finalize(abi.SystemV)
	require.NoError(t, err)

	for _, tc := range []struct {
		name      string
		o         Options
		expBundle int
	}{
		{name: "default", o: Options{}, expBundle: 0},
		{name: "bundled", o: Options{BundleSize: 64}, expBundle: 64},
		{name: "optimized", o: Options{BundleSize: 16, OptimizeBundles: true}, expBundle: 16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e, err := tc.o.Encode(af)
			require.NoError(t, err)
			require.Equal(t, tc.expBundle, e.BundleSize())
		})
	}
}
