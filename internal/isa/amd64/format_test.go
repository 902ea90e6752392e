package amd64

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peachjit/peachjit/internal/literal"
)

func TestInstruction_Format(t *testing.T) {
	for _, tc := range []struct {
		i       *Instruction
		peachpy string
		gnu     string
	}{
		{i: MustNew(MOV, R(RAX), M(Mem(RSP, 8))), peachpy: "MOV rax, [rsp + 8]", gnu: "mov 8(%rsp), %rax"},
		{i: MustNew(ADD, M(Mem(RAX, 0).Sized(4)), Imm(1)), peachpy: "ADD dword [rax], 1", gnu: "addl $1, (%rax)"},
		{i: MustNew(LEA, R(RAX), M(MemIndex(RBX, RCX, 4, -16))), peachpy: "LEA rax, [rbx + rcx*4 - 16]", gnu: "lea -16(%rbx,%rcx,4), %rax"},
		{i: MustNew(SHL, M(Mem(RDI, 0).Sized(8)), R(CL)), peachpy: "SHL qword [rdi], cl", gnu: "shlq %cl, (%rdi)"},
		{i: MustNew(MOVZX, R(EAX), M(Mem(RSI, 0).Sized(2))), peachpy: "MOVZX eax, word [rsi]", gnu: "movzwl (%rsi), %eax"},
		{i: MustNew(MOVSXD, R(RAX), R(ECX)), peachpy: "MOVSXD rax, ecx", gnu: "movslq %ecx, %rax"},
		{i: MustNew(JE, L(3)), peachpy: "JE L3", gnu: "je L3"},
		{i: MustNew(JMP, R(RCX)), peachpy: "JMP rcx", gnu: "jmp *%rcx"},
		{i: MustNew(RET), peachpy: "RET", gnu: "ret"},
		{i: MustNew(PseudoLabel, L(1)), peachpy: "L1:", gnu: "L1:"},
		{i: MustNew(PseudoAlign, Imm(16)), peachpy: "ALIGN 16", gnu: ".balign 16"},
		{i: MustNew(PseudoLoadArgument, R(v1), Imm(0)), peachpy: "LOAD.ARGUMENT gp64-vreg<1>, 0", gnu: "# LOAD.ARGUMENT gp64-vreg<1>, 0"},
		{
			i:       MustNew(VADDPS, Masked(ZMM0, K1, true), R(ZMM1), R(ZMM2)),
			peachpy: "VADDPS zmm0{k1}{z}, zmm1, zmm2",
			gnu:     "vaddps %zmm2, %zmm1, %zmm0{%k1}{z}",
		},
		{
			i:       MustNew(MOVAPS, R(XMM0), M(Const(literal.Float32x4(1).Named("ones")))),
			peachpy: "MOVAPS xmm0, oword [rip + ones]",
			gnu:     "movaps ones(%rip), %xmm0",
		},
	} {
		t.Run(tc.peachpy, func(t *testing.T) {
			require.Equal(t, tc.peachpy, tc.i.Format(SyntaxPeachPy, nil))
			require.Equal(t, tc.gnu, tc.i.Format(SyntaxGNU, nil))
		})
	}

	named := func(l int) string { return fmt.Sprintf(".Lloop%d", l) }
	require.Equal(t, "JNE .Lloop2", MustNew(JNE, L(2)).Format(SyntaxPeachPy, named))
}

func TestParseSyntax(t *testing.T) {
	for _, tc := range []struct {
		name string
		exp  Syntax
	}{
		{name: "peachpy", exp: SyntaxPeachPy},
		{name: "", exp: SyntaxPeachPy},
		{name: "GNU", exp: SyntaxGNU},
		{name: "att", exp: SyntaxGNU},
	} {
		s, err := ParseSyntax(tc.name)
		require.NoError(t, err)
		require.Equal(t, tc.exp, s)
	}
	_, err := ParseSyntax("masm")
	require.EqualError(t, err, `unknown assembly syntax "masm"`)
	require.Equal(t, "gnu", SyntaxGNU.String())
}
