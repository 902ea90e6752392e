package disasm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/function"
	"github.com/peachjit/peachjit/internal/isa/amd64"
)

// add(a, b int64) int64 for the SystemV ABI, padded to 16 bytes.
var addCode = append([]byte{0x48, 0x01, 0xf7, 0x48, 0x89, 0xf8, 0xc3}, bytes.Repeat([]byte{0xcc}, 9)...)

func TestDecode(t *testing.T) {
	for _, tc := range []struct {
		name   string
		syntax Syntax
		exp    []string
	}{
		{name: "intel", syntax: SyntaxIntel, exp: []string{"add rdi, rsi", "mov rax, rdi", "ret", "(padding)"}},
		{name: "go", syntax: SyntaxGo, exp: []string{"ADDQ SI, DI", "MOVQ DI, AX", "RET", "(padding)"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lines := Decode(addCode, tc.syntax)
			actual := make([]string, len(lines))
			for i, l := range lines {
				require.NoError(t, l.Err)
				actual[i] = l.Text
			}
			require.Equal(t, tc.exp, actual)
			require.Equal(t, 7, lines[3].Offset)
			require.Equal(t, 9, len(lines[3].Bytes))
		})
	}
}

func TestDecode_fill(t *testing.T) {
	// A lone trailing INT3 is decoded as an instruction.
	lines := Decode([]byte{0xc3, 0xcc}, SyntaxIntel)
	require.Equal(t, 2, len(lines))
	require.Equal(t, "int3", lines[1].Text)

	// Mixed fill bytes are not one run.
	lines = Decode([]byte{0xc3, 0xf4, 0xcc, 0xcc}, SyntaxIntel)
	require.Equal(t, 3, len(lines))
	require.Equal(t, "hlt", lines[1].Text)
	require.Equal(t, "(padding)", lines[2].Text)
	require.Equal(t, 2, lines[2].Offset)
}

func TestDecode_truncated(t *testing.T) {
	lines := Decode([]byte{0x90, 0x48}, SyntaxIntel)
	require.Equal(t, 2, len(lines))
	require.Equal(t, "nop", lines[0].Text)
	require.Error(t, lines[1].Err)
	require.Equal(t, "db 0x48", lines[1].Text)

	_, err := Boundaries([]byte{0x90, 0x48})
	require.Error(t, err)
	require.Contains(t, err.Error(), "offset 0x1")
}

func TestListing(t *testing.T) {
	exp := "add:\n" +
		"000000  4801f7                          add rdi, rsi\n" +
		"000003  4889f8                          mov rax, rdi\n" +
		"000006  c3                              ret\n" +
		"000007  cccccccccccccccccc              (padding)\n"
	require.Equal(t, exp, Listing("add", addCode, SyntaxIntel))
}

func TestParseSyntax(t *testing.T) {
	for _, tc := range []struct {
		name string
		exp  Syntax
	}{
		{name: "", exp: SyntaxIntel},
		{name: "Intel", exp: SyntaxIntel},
		{name: "att", exp: SyntaxGNU},
		{name: "go", exp: SyntaxGo},
	} {
		s, err := ParseSyntax(tc.name)
		require.NoError(t, err)
		require.Equal(t, tc.exp, s)
	}
	_, err := ParseSyntax("masm")
	require.EqualError(t, err, `unknown disassembly syntax "masm"`)
}

func TestBoundaries_encodedFunction(t *testing.T) {
	f, err := function.New("sum", []function.Argument{{Name: "p", Type: abi.Ptr(abi.Uint32)}}, abi.Uint32, function.Options{})
	require.NoError(t, err)
	p, acc := f.NewGP(8), f.NewGP(4)
	require.NoError(t, f.LoadArgument(p, 0))
	require.NoError(t, f.Emit(amd64.XOR, amd64.R(acc), amd64.R(acc)))
	for i := 0; i < 4; i++ {
		require.NoError(t, f.Emit(amd64.ADD, amd64.R(acc), amd64.M(amd64.Mem(p, int32(4*i)).Sized(4))))
	}
	require.NoError(t, f.Return(amd64.R(acc)))
	af, err := f.Finalize(abi.SystemV)
	require.NoError(t, err)
	e, err := af.Encode()
	require.NoError(t, err)

	offsets, err := Boundaries(e.Code())
	require.NoError(t, err)
	// XOR, four ADDs and RET, with acc allocated to eax.
	require.Equal(t, 6, len(offsets))
	require.Zero(t, offsets[0])
	require.Equal(t, byte(0xc3), e.Code()[offsets[5]])
}
