package loader

import (
	"encoding/binary"
	"errors"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/function"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/literal"
)

func TestPatch(t *testing.T) {
	sym := &literal.Symbol{Name: "const", Offset: 16, Size: 16}
	for _, tc := range []struct {
		name               string
		codeAddr, dataAddr uint64
		exp                int32
	}{
		{name: "forward", codeAddr: 0x1000, dataAddr: 0x3000, exp: 0x2009},
		{name: "backward", codeAddr: 0x10000, dataAddr: 0x0, exp: -0xfff7},
		{name: "limit", codeAddr: 0x0, dataAddr: 0x7fffffff - 16 + 7, exp: 0x7fffffff},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code := make([]byte, 8)
			relocs := []literal.Relocation{{Offset: 3, Type: literal.RelocationRIPDisp32, Symbol: sym, PC: 7}}
			require.NoError(t, Patch(code, relocs, tc.codeAddr, tc.dataAddr))
			require.Equal(t, tc.exp, int32(binary.LittleEndian.Uint32(code[3:])))
			require.Zero(t, code[7])
		})
	}
}

func TestPatch_errors(t *testing.T) {
	sym := &literal.Symbol{Name: "const", Offset: 0, Size: 16}

	t.Run("overflow", func(t *testing.T) {
		relocs := []literal.Relocation{{Offset: 3, Type: literal.RelocationRIPDisp32, Symbol: sym, PC: 7}}
		err := Patch(make([]byte, 8), relocs, 0x1000, 0x1000+1<<32)
		var oerr *RelocationOverflowError
		require.True(t, errors.As(err, &oerr), err)
		require.Equal(t, int64(1<<32-7), oerr.Displacement)
		require.EqualError(t, err, "relocation at offset 3 to const overflows: displacement 4294967289 does not fit in 32 bits")
	})

	t.Run("type", func(t *testing.T) {
		relocs := []literal.Relocation{{Offset: 0, Type: literal.RelocationType(7), Symbol: sym, PC: 4}}
		require.EqualError(t, Patch(make([]byte, 4), relocs, 0, 0), "relocation at offset 0 has unsupported type 7")
	})

	t.Run("out of range", func(t *testing.T) {
		relocs := []literal.Relocation{{Offset: 2, Type: literal.RelocationRIPDisp32, Symbol: sym, PC: 6}}
		require.Panics(t, func() { _ = Patch(make([]byte, 4), relocs, 0, 0) })
	})
}

// requireSupportedOS skips tests that map executable memory where the loader cannot.
func requireSupportedOS(t *testing.T) {
	switch runtime.GOOS {
	case "windows", "js", "wasip1", "plan9":
		t.Skip()
	}
}

func encodeKernel(t *testing.T) *function.EncodedFunction {
	f, err := function.New("kernel", nil, nil, function.Options{})
	require.NoError(t, err)
	x, y := f.NewXMM(), f.NewXMM()
	for _, step := range []error{
		f.Emit(amd64.MOVAPS, amd64.R(x), amd64.M(amd64.Const(literal.Float32x4(1, 2, 3, 4)))),
		f.Emit(amd64.MOVAPS, amd64.R(y), amd64.M(amd64.Const(literal.Float64x2(0.5, 0.25)))),
		f.Emit(amd64.ADDPS, amd64.R(x), amd64.R(y)),
		f.Return(),
	} {
		require.NoError(t, step)
	}
	af, err := f.Finalize(abi.SystemV)
	require.NoError(t, err)
	e, err := af.Encode()
	require.NoError(t, err)
	return e
}

func TestLoad(t *testing.T) {
	requireSupportedOS(t)

	e := encodeKernel(t)
	require.Equal(t, 2, len(e.Relocations()))

	img, err := Load(e)
	require.NoError(t, err)
	require.Equal(t, "kernel", img.Name())
	require.Equal(t, e.Section().Bytes(), img.Data())

	code := img.Code()
	require.Equal(t, len(e.Code()), len(code))
	entry := img.Entry()
	dataAddr := uintptr(unsafe.Pointer(&img.Data()[0]))
	require.Zero(t, dataAddr%uintptr(pageSize()))

	patched := map[int]bool{}
	for _, r := range e.Relocations() {
		exp := int64(dataAddr) + int64(r.Symbol.Offset) - int64(entry) - int64(r.PC)
		require.Equal(t, int32(exp), int32(binary.LittleEndian.Uint32(code[r.Offset:])))
		for i := 0; i < 4; i++ {
			patched[r.Offset+i] = true
		}
	}
	// Outside of the displacement fields the code is copied verbatim.
	for i, b := range e.Code() {
		if !patched[i] {
			require.Equal(t, b, code[i], "offset %d", i)
		}
	}

	require.NoError(t, img.Release())
	require.True(t, errors.Is(img.Release(), ErrReleased))
	require.Nil(t, img.Code())
	require.Nil(t, img.Data())
	require.Panics(t, func() { img.Entry() })
}

func TestLoad_noConstants(t *testing.T) {
	requireSupportedOS(t)

	f, err := function.New("add", []function.Argument{{Name: "a", Type: abi.Int64}, {Name: "b", Type: abi.Int64}},
		abi.Int64, function.Options{})
	require.NoError(t, err)
	a, b := f.NewGP(8), f.NewGP(8)
	require.NoError(t, f.LoadArgument(a, 0))
	require.NoError(t, f.LoadArgument(b, 1))
	require.NoError(t, f.Emit(amd64.ADD, amd64.R(a), amd64.R(b)))
	require.NoError(t, f.Return(amd64.R(a)))
	af, err := f.Finalize(abi.SystemV)
	require.NoError(t, err)
	e, err := af.Encode()
	require.NoError(t, err)

	img, err := Load(e)
	require.NoError(t, err)
	require.Equal(t, e.Code(), img.Code())
	require.Empty(t, img.Data())
	require.NoError(t, img.Release())
}

type emptyObject struct{}

func (emptyObject) Name() string                      { return "empty" }
func (emptyObject) Code() []byte                      { return nil }
func (emptyObject) Section() *literal.Section         { return literal.NewSection(binary.LittleEndian) }
func (emptyObject) Relocations() []literal.Relocation { return nil }

func TestLoad_zeroLength(t *testing.T) {
	require.PanicsWithError(t, "BUG: Load with zero length code", func() {
		_, _ = Load(emptyObject{})
	})
}
