package function

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/literal"
)

func encode(t *testing.T, f *Function, a *abi.ABI) *EncodedFunction {
	af, err := f.Finalize(a)
	require.NoError(t, err)
	e, err := af.Encode()
	require.NoError(t, err)
	return e
}

// decode disassembles code up to the end of the instructions, skipping the trailing padding.
func decode(t *testing.T, code []byte, length int) []x86asm.Inst {
	var ret []x86asm.Inst
	for off := 0; off < length; {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err, "offset %d", off)
		ret = append(ret, inst)
		off += inst.Len
	}
	return ret
}

func TestEncodedFunction_add(t *testing.T) {
	e := encode(t, newAdd(t), abi.SystemV)
	exp := append([]byte{0x48, 0x01, 0xf7, 0x48, 0x89, 0xf8, 0xc3}, bytes.Repeat([]byte{0xcc}, 9)...)
	require.Equal(t, exp, e.Code())
	require.Equal(t, 1, e.Passes())
	require.Zero(t, e.Padding())
	require.Empty(t, e.Relocations())

	insts := decode(t, e.Code(), 7)
	require.Equal(t, 3, len(insts))
	for i, op := range []x86asm.Op{x86asm.ADD, x86asm.MOV, x86asm.RET} {
		require.Equal(t, op, insts[i].Op)
	}
	require.Equal(t, x86asm.RDI, insts[0].Args[0])
	require.Equal(t, x86asm.RSI, insts[0].Args[1])

	line := func(off int, code, instr string) string {
		return fmt.Sprintf("%06x  %-30s  %s\n", off, code, instr)
	}
	require.Equal(t, "add:\n"+line(0, "4801f7", "ADD rdi, rsi")+line(3, "4889f8", "MOV rax, rdi")+line(6, "c3", "RET"), e.Listing())
}

func TestEncodedFunction_goTail(t *testing.T) {
	for _, a := range []*abi.ABI{abi.GoAsm, abi.GoSysO, abi.GoAsmP32} {
		t.Run(a.Key, func(t *testing.T) {
			code := encode(t, newAdd(t), a).Code()
			require.Equal(t, []byte{0xc3, 0xcc}, code[len(code)-2:])
		})
	}
}

func TestEncodedFunction_branches(t *testing.T) {
	for _, tc := range []struct {
		name      string
		movs      int
		expCode   []byte
		expTarget int
		expPasses int
	}{
		{name: "short", movs: 2, expCode: []byte{0x75, 0x0a}, expTarget: 12, expPasses: 2},
		{name: "long", movs: 40, expCode: []byte{0x0f, 0x85, 0xc8, 0x00, 0x00, 0x00}, expTarget: 206, expPasses: 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFunction(t, "kernel", nil, nil)
			target := f.NewLabel("target")
			require.NoError(t, f.Emit(amd64.JNE, amd64.L(target)))
			for i := 0; i < tc.movs; i++ {
				require.NoError(t, f.Emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(1)))
			}
			require.NoError(t, f.Label(target))
			require.NoError(t, f.Return())

			e := encode(t, f, abi.SystemV)
			require.Equal(t, tc.expCode, e.Code()[:len(tc.expCode)])
			addr, ok := e.LabelAddress(target)
			require.True(t, ok)
			require.Equal(t, tc.expTarget, addr)
			require.Equal(t, byte(0xc3), e.Code()[addr])
			require.Equal(t, tc.expPasses, e.Passes())
		})
	}

	t.Run("backward", func(t *testing.T) {
		f := newTestFunction(t, "kernel", nil, nil)
		top := f.NewLabel("top")
		require.NoError(t, f.Label(top))
		require.NoError(t, f.Emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(1)))
		require.NoError(t, f.Emit(amd64.JNE, amd64.L(top)))
		require.NoError(t, f.Return())

		e := encode(t, f, abi.SystemV)
		require.Equal(t, []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0x75, 0xf9, 0xc3}, e.Code()[:8])
		require.Equal(t, 1, e.Passes())
	})
}

func TestEncodedFunction_align(t *testing.T) {
	f := newTestFunction(t, "kernel", nil, nil)
	loop := f.NewLabel("loop")
	require.NoError(t, f.Emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(1)))
	require.NoError(t, f.Align(16))
	require.NoError(t, f.Label(loop))
	require.NoError(t, f.Emit(amd64.JNE, amd64.L(loop)))
	require.NoError(t, f.Return())

	e := encode(t, f, abi.SystemV)
	addr, ok := e.LabelAddress(loop)
	require.True(t, ok)
	require.Equal(t, 16, addr)
	require.Equal(t, 11, e.Padding())
	require.Equal(t, []byte{0x75, 0xfe, 0xc3}, e.Code()[16:19])

	insts := decode(t, e.Code(), 16)
	require.Equal(t, x86asm.MOV, insts[0].Op)
	for _, inst := range insts[1:] {
		require.Equal(t, x86asm.NOP, inst.Op)
	}
}

func TestEncodedFunction_constants(t *testing.T) {
	f := newTestFunction(t, "kernel", nil, nil)
	x, y, z := f.NewXMM(), f.NewXMM(), f.NewXMM()
	ones := func() amd64.Operand { return amd64.M(amd64.Const(literal.Float32x4(1, 1, 1, 1))) }
	for _, step := range []error{
		f.Emit(amd64.MOVAPS, amd64.R(x), ones()),
		f.Emit(amd64.MOVAPS, amd64.R(y), ones()),
		f.Emit(amd64.ADDPS, amd64.R(x), amd64.R(y)),
		f.Emit(amd64.MOVAPS, amd64.R(z), amd64.M(amd64.Const(literal.Float32x4(2, 2, 2, 2).Named("two")))),
		f.Emit(amd64.ADDPS, amd64.R(x), amd64.R(z)),
		f.Return(),
	} {
		require.NoError(t, step)
	}

	e := encode(t, f, abi.SystemV)
	syms := e.Section().Symbols()
	require.Equal(t, 2, len(syms))
	require.Equal(t, "const", syms[0].Name)
	require.Equal(t, "two", syms[1].Name)
	require.Equal(t, 16, syms[1].Offset)

	relocs := e.Relocations()
	require.Equal(t, 3, len(relocs))
	require.Equal(t, relocs[0].Symbol, relocs[1].Symbol)
	require.Equal(t, syms[1], relocs[2].Symbol)
	for _, r := range relocs {
		require.Equal(t, literal.RelocationRIPDisp32, r.Type)
		require.Equal(t, 4, r.PC-r.Offset)
		require.Zero(t, binary.LittleEndian.Uint32(e.Code()[r.Offset:]))
	}

	listing := e.Listing()
	require.Contains(t, listing, "kernel.const: "+strings.Repeat("0000803f", 4))
	require.Contains(t, listing, "kernel.two: "+strings.Repeat("00000040", 4))
	require.Contains(t, listing, "MOVAPS xmm8, oword [rip + const]")
}

func TestEncodedFunction_nativeClient(t *testing.T) {
	t.Run("return", func(t *testing.T) {
		f := newTestFunction(t, "load", []Argument{{Name: "p", Type: abi.Ptr(abi.Uint32)}}, abi.Uint32)
		p, r := f.NewGP(8), f.NewGP(4)
		require.NoError(t, f.LoadArgument(p, 0))
		require.NoError(t, f.Emit(amd64.MOV, amd64.R(r), amd64.M(amd64.Mem(p, 0).Sized(4))))
		require.NoError(t, f.Return(amd64.R(r)))

		e := encode(t, f, abi.NativeClient)
		require.Equal(t, 32, e.BundleSize())
		exp := []byte{
			0x89, 0xff,             // MOV edi, edi
			0x89, 0xff,             // MOV edi, edi
			0x41, 0x8b, 0x04, 0x3f, // MOV eax, [r15 + rdi]
			0x59,                   // POP rcx
			0x83, 0xe1, 0xe0,       // AND ecx, -32
			0x4c, 0x01, 0xf9,       // ADD rcx, r15
			0xff, 0xe1,             // JMP rcx
		}
		require.Equal(t, append(exp, bytes.Repeat([]byte{0xf4}, 32-len(exp))...), e.Code())
	})

	t.Run("bundles", func(t *testing.T) {
		f := newTestFunction(t, "sum", []Argument{{Name: "p", Type: abi.Ptr(abi.Uint32)}}, abi.Uint32)
		p, acc := f.NewGP(8), f.NewGP(4)
		require.NoError(t, f.LoadArgument(p, 0))
		require.NoError(t, f.Emit(amd64.XOR, amd64.R(acc), amd64.R(acc)))
		for i := 0; i < 20; i++ {
			require.NoError(t, f.Emit(amd64.ADD, amd64.R(acc), amd64.M(amd64.Mem(p, int32(4*i)).Sized(4))))
		}
		require.NoError(t, f.Return(amd64.R(acc)))
		af, err := f.Finalize(abi.NativeClient)
		require.NoError(t, err)

		for _, optimize := range []bool{false, true} {
			e, err := af.EncodeBundled(32, optimize)
			require.NoError(t, err)
			code := e.Code()
			require.Zero(t, len(code)%32)

			var guards int
			for off := 0; off < len(code); {
				if code[off] == 0xf4 {
					off++
					continue
				}
				inst, err := x86asm.Decode(code[off:], 64)
				require.NoError(t, err)
				end := off + inst.Len
				require.Equal(t, off/32, (end-1)/32, "instruction at %#x crosses a bundle", off)
				if inst.Op == x86asm.MOV && inst.Args[0] == x86asm.EDI && inst.Args[1] == x86asm.EDI && off > 2 {
					// Every guard shares its bundle with the access it guards.
					guards++
					require.NotZero(t, end%32, "guard at %#x ends its bundle", off)
				}
				off = end
			}
			require.Equal(t, 20, guards)
		}

		// A group longer than the bundle cannot be placed.
		for i := range af.sticky[:len(af.sticky)-1] {
			af.sticky[i] = true
		}
		_, err = af.EncodeBundled(16, false)
		require.True(t, errors.Is(err, ErrBundleFull), err)
	})
}

func TestEncodedFunction_optimize(t *testing.T) {
	f := newTestFunction(t, "kernel", nil, nil)
	for i := 0; i < 7; i++ {
		require.NoError(t, f.Emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(1)))
	}
	require.NoError(t, f.Return())
	af, err := f.Finalize(abi.SystemV)
	require.NoError(t, err)

	plain, err := af.EncodeBundled(32, false)
	require.NoError(t, err)
	require.Equal(t, 2, plain.Padding())

	optimized, err := af.EncodeBundled(32, true)
	require.NoError(t, err)
	require.Zero(t, optimized.Padding())
	require.LessOrEqual(t, len(optimized.Code()), len(plain.Code()))

	insts := decode(t, optimized.Code(), 38)
	require.Equal(t, 8, len(insts))
	for _, inst := range insts[:7] {
		require.Equal(t, x86asm.MOV, inst.Op)
		require.Equal(t, x86asm.EAX, inst.Args[0])
		require.Equal(t, x86asm.Imm(1), inst.Args[1])
	}
	require.Equal(t, x86asm.RET, insts[7].Op)
	require.Equal(t, 32, optimized.slots[6].offset)
}

func TestEncodedFunction_optimize_smallestGrowthFirst(t *testing.T) {
	// Four 5-byte MOVs and five 2-byte ADDs leave a 2-byte gap before the last MOV. Growing one MOV
	// by two bytes would close it, but two one-byte growths of the ADDs are taken instead.
	f := newTestFunction(t, "kernel", nil, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.Emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(1)))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, f.Emit(amd64.ADD, amd64.R(amd64.EAX), amd64.R(amd64.EBX)))
	}
	require.NoError(t, f.Emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(1)))
	require.NoError(t, f.Return())
	af, err := f.Finalize(abi.SystemV)
	require.NoError(t, err)

	plain, err := af.EncodeBundled(32, false)
	require.NoError(t, err)
	require.Equal(t, 2, plain.Padding())

	optimized, err := af.EncodeBundled(32, true)
	require.NoError(t, err)
	require.Zero(t, optimized.Padding())
	require.Equal(t, 32, optimized.slots[9].offset)

	var lengths []int
	for _, s := range optimized.slots[:9] {
		lengths = append(lengths, len(s.code))
	}
	require.Equal(t, []int{5, 5, 5, 5, 2, 2, 2, 3, 3}, lengths)
	require.Equal(t, []byte{0x40, 0x01, 0xd8}, optimized.slots[8].code)
}

func TestABIFunction_EncodeBundled_invalid(t *testing.T) {
	af, err := newAdd(t).Finalize(abi.SystemV)
	require.NoError(t, err)
	for _, size := range []int{8, 24, 8192} {
		_, err := af.EncodeBundled(size, false)
		require.Error(t, err)
	}
}
