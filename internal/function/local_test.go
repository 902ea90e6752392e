package function

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunction_layoutLocals(t *testing.T) {
	f := newTestFunction(t, "kernel", nil, nil)
	q := f.NewLocal(8, 0)
	y := f.NewLocal(32, 32)
	d := f.NewLocal(4, 0)
	x := f.NewLocal(16, 16)
	require.NoError(t, f.Err())

	layout := f.layoutLocals()
	require.Equal(t, 60, layout.size)
	require.Equal(t, 32, layout.align)

	for _, tc := range []struct {
		name        string
		l           Local
		size, align int
		address     int
	}{
		{name: "ymm", l: y, size: 32, align: 32, address: 0},
		{name: "xmm", l: x, size: 16, align: 16, address: 32},
		{name: "xmm lo", l: x.Lo(), size: 8, align: 8, address: 32},
		{name: "xmm hi", l: x.Hi(), size: 8, align: 8, address: 40},
		{name: "xmm hi lo", l: x.Hi().Lo(), size: 4, align: 4, address: 40},
		{name: "xmm hi hi", l: x.Hi().Hi(), size: 4, align: 4, address: 44},
		{name: "qword", l: q, size: 8, align: 8, address: 48},
		{name: "dword", l: d, size: 4, align: 4, address: 56},
		{name: "ymm hi", l: y.Hi(), size: 16, align: 16, address: 16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.size, tc.l.Size())
			require.Equal(t, tc.align, tc.l.Alignment())
			m := tc.l.Mem()
			require.Equal(t, tc.size, m.Size)
			require.Equal(t, tc.address, layout.address(f, m))
		})
	}

	// Halves are created once.
	require.Equal(t, x.Hi().Mem(), x.Hi().Mem())
	require.NoError(t, f.Err())
}

func TestFunction_NewLocal_errors(t *testing.T) {
	t.Run("size", func(t *testing.T) {
		f := newTestFunction(t, "kernel", nil, nil)
		f.NewLocal(12, 0)
		require.EqualError(t, f.Err(), "function kernel: invalid local variable size 12 or alignment 12")
	})
	t.Run("split", func(t *testing.T) {
		f := newTestFunction(t, "kernel", nil, nil)
		b := f.NewLocal(1, 0)
		b.Hi()
		require.EqualError(t, f.Err(), "function kernel: local variable of size 1 cannot be split")
	})
}
