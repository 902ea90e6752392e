package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
	"golang.org/x/arch/x86/x86asm"
)

// TestEncode_decodes checks that the legacy encodings decode to the same mnemonic with the expected length.
func TestEncode_decodes(t *testing.T) {
	for _, tc := range []struct {
		i      *Instruction
		decode string
	}{
		{i: MustNew(ADD, R(RAX), R(RBX)), decode: "ADD"},
		{i: MustNew(ADD, R(R9D), Imm(1000)), decode: "ADD"},
		{i: MustNew(SUB, M(MemIndex(R12, R13, 8, 0x40).Sized(8)), R(R14)), decode: "SUB"},
		{i: MustNew(CMP, R(DIL), Imm(0x7F)), decode: "CMP"},
		{i: MustNew(MOV, R(R11), Imm(-1)), decode: "MOV"},
		{i: MustNew(MOV, M(Mem(RBP, -24).Sized(2)), Imm(0x1234)), decode: "MOV"},
		{i: MustNew(MOVZX, R(R8D), R(SIL)), decode: "MOVZX"},
		{i: MustNew(MOVSXD, R(RAX), M(Mem(R13, 0).Sized(4))), decode: "MOVSXD"},
		{i: MustNew(LEA, R(RAX), M(MemIndex(RegInvalid, RCX, 2, 0))), decode: "LEA"},
		{i: MustNew(TEST, M(Mem(RSP, 0).Sized(1)), Imm(0x80)), decode: "TEST"},
		{i: MustNew(NEG, R(R9)), decode: "NEG"},
		{i: MustNew(IMUL, R(R10), M(Mem(RAX, 8)), Imm(1000)), decode: "IMUL"},
		{i: MustNew(SAR, R(R15D), R(CL)), decode: "SAR"},
		{i: MustNew(ROL, R(AX), Imm(1)), decode: "ROL"},
		{i: MustNew(PUSH, M(Mem(RAX, 0).Sized(8))), decode: "PUSH"},
		{i: MustNew(POP, R(R8)), decode: "POP"},
		{i: MustNew(JMP, R(R11)), decode: "JMP"},
		{i: MustNew(MOVAPS, R(XMM15), M(Mem(RSP, 0x100))), decode: "MOVAPS"},
		{i: MustNew(MOVSD, R(XMM3), M(Mem(RDI, 0).Sized(8))), decode: "MOVSD_XMM"},
		{i: MustNew(PXOR, R(XMM1), R(XMM10)), decode: "PXOR"},
		{i: MustNew(PBLENDVB, R(XMM12), R(XMM1), R(XMM0)), decode: "PBLENDVB"},
		{i: MustNew(PADDD, R(MM3), M(Mem(RAX, 0))), decode: "PADDD"},
		{i: MustNew(MOVQ, M(Mem(RCX, 8)), R(MM7)), decode: "MOVQ"},
		{i: MustNew(EMMS), decode: "EMMS"},
	} {
		t.Run(tc.i.String(), func(t *testing.T) {
			b, err := tc.i.Encode(EncodeOptions{})
			require.NoError(t, err)
			inst, err := x86asm.Decode(b, 64)
			require.NoError(t, err)
			require.Equal(t, tc.decode, inst.Op.String())
			require.Equal(t, len(b), inst.Len)
		})
	}
}

func goAsm(t *testing.T, as obj.As, from, to obj.Addr) []byte {
	b, err := asm.NewBuilder("amd64", 64)
	require.NoError(t, err)
	p := b.NewProg()
	p.As = as
	p.From = from
	p.To = to
	b.AddInstruction(p)
	return b.Assemble()
}

func goReg(r int16) obj.Addr { return obj.Addr{Type: obj.TYPE_REG, Reg: r} }

func goConst(v int64) obj.Addr { return obj.Addr{Type: obj.TYPE_CONST, Offset: v} }

// TestEncode_goAssembler compares encodings with the Go assembler, whose operands are in AT&T order.
func TestEncode_goAssembler(t *testing.T) {
	for _, tc := range []struct {
		name     string
		i        *Instruction
		as       obj.As
		from, to obj.Addr
	}{
		{name: "MOVQ BX, AX", i: MustNew(MOV, R(RAX), R(RBX)), as: x86.AMOVQ, from: goReg(x86.REG_BX), to: goReg(x86.REG_AX)},
		{name: "ADDQ $1, AX", i: MustNew(ADD, R(RAX), Imm(1)), as: x86.AADDQ, from: goConst(1), to: goReg(x86.REG_AX)},
		{name: "ADDQ $0x1000, AX", i: MustNew(ADD, R(RAX), Imm(0x1000)), as: x86.AADDQ, from: goConst(0x1000), to: goReg(x86.REG_AX)},
		{name: "SUBQ $40, DX", i: MustNew(SUB, R(RDX), Imm(40)), as: x86.ASUBQ, from: goConst(40), to: goReg(x86.REG_DX)},
		{
			name: "MOVQ 8(DI), AX", i: MustNew(MOV, R(RAX), M(Mem(RDI, 8))), as: x86.AMOVQ,
			from: obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_DI, Offset: 8}, to: goReg(x86.REG_AX),
		},
		{name: "XORL CX, CX", i: MustNew(XOR, R(ECX), R(ECX)), as: x86.AXORL, from: goReg(x86.REG_CX), to: goReg(x86.REG_CX)},
		{name: "PUSHQ R12", i: MustNew(PUSH, R(R12)), as: x86.APUSHQ, from: goReg(x86.REG_R12)},
		{name: "SHLQ $3, AX", i: MustNew(SHL, R(RAX), Imm(3)), as: x86.ASHLQ, from: goConst(3), to: goReg(x86.REG_AX)},
		{
			name: "LEAQ 16(BX)(CX*4), AX", i: MustNew(LEA, R(RAX), M(MemIndex(RBX, RCX, 4, 16))), as: x86.ALEAQ,
			from: obj.Addr{Type: obj.TYPE_MEM, Reg: x86.REG_BX, Index: x86.REG_CX, Scale: 4, Offset: 16}, to: goReg(x86.REG_AX),
		},
		{name: "MOVAPS X2, X1", i: MustNew(MOVAPS, R(XMM1), R(XMM2)), as: x86.AMOVAPS, from: goReg(x86.REG_X2), to: goReg(x86.REG_X1)},
		{name: "ADDPS X9, X8", i: MustNew(ADDPS, R(XMM8), R(XMM9)), as: x86.AADDPS, from: goReg(x86.REG_X9), to: goReg(x86.REG_X8)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exp := goAsm(t, tc.as, tc.from, tc.to)
			b, err := tc.i.Encode(EncodeOptions{})
			require.NoError(t, err)
			require.True(t, len(exp) >= len(b))
			require.Equal(t, exp[:len(b)], b)
		})
	}
}
