package literal

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstant_Encode(t *testing.T) {
	for _, tc := range []struct {
		name       string
		c          *Constant
		size, alig int
		le, be     string
	}{
		{name: "uint32", c: Uint32(0x11223344), size: 4, alig: 4, le: "44332211", be: "11223344"},
		{name: "uint32x2 broadcast", c: Uint32x2(1), size: 8, alig: 8, le: "0100000001000000", be: "0000000100000001"},
		{name: "uint64", c: Uint64(0x0102030405060708), size: 8, alig: 8, le: "0807060504030201", be: "0102030405060708"},
		{name: "float32x4", c: Float32x4(1, 2, 3, 4), size: 16, alig: 16, le: "0000803f000000400000404000008040", be: "3f800000400000004040000040800000"},
		{name: "float64", c: Float64(1), size: 8, alig: 8, le: "000000000000f03f", be: "3ff0000000000000"},
		{name: "extended", c: Raw(make([]byte, 10)), size: 10, alig: 16, le: "00000000000000000000", be: "00000000000000000000"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.size, tc.c.Size)
			require.Equal(t, tc.alig, tc.c.Align)
			require.Equal(t, tc.le, hex.EncodeToString(tc.c.Encode(binary.LittleEndian)))
			require.Equal(t, tc.be, hex.EncodeToString(tc.c.Encode(binary.BigEndian)))
		})
	}
	require.Panics(t, func() { Uint32x4(1, 2, 3) })
	require.Equal(t, 32, Float64x4(2).Size)
	require.Equal(t, "float32(1, 2)", newConstant(ElementFloat32, 2, f32s([]float32{1, 2})).String())
}

func TestSection_Add(t *testing.T) {
	s := NewSection(binary.LittleEndian)
	a := s.Add(Uint32(1).Named("one"))
	b := s.Add(Uint64x2(7, 7))
	c := s.Add(Uint64x2(7).Named("seven"))
	require.Equal(t, &Symbol{Name: "one", Offset: 0, Size: 4}, a)
	require.Equal(t, 16, b.Offset)
	// Equal constants collapse into one symbol.
	require.Same(t, b, c)
	require.Len(t, s.Symbols(), 2)
	require.Equal(t, 32, len(s.Bytes()))
	require.Equal(t, 16, s.Alignment())
	require.True(t, Uint64x2(7).Equal(Uint64x2(7, 7)))
	require.False(t, Uint32x2(7).Equal(Uint64(7)))
	require.True(t, Uint32x2(7).Equal(Uint64(7|7<<32)))
}
