package function

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/regalloc"
)

func newTestFunction(t *testing.T, name string, args []Argument, result *abi.Type) *Function {
	f, err := New(name, args, result, Options{})
	require.NoError(t, err)
	return f
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name   string
		args   []Argument
		expErr string
	}{
		{name: "kernel", args: []Argument{{Name: "x", Type: abi.Int32}, {Type: abi.Float}}},
		{name: "1kernel", expErr: `function name: invalid name "1kernel"`},
		{name: "kernel", args: []Argument{{Name: "x"}}, expErr: "function kernel: argument 0 has no type"},
		{
			name:   "kernel",
			args:   []Argument{{Name: "x", Type: abi.Int32}, {Name: "x", Type: abi.Int64}},
			expErr: `function kernel: duplicate argument name "x"`,
		},
	} {
		t.Run(tc.expErr, func(t *testing.T) {
			f, err := New(tc.name, tc.args, nil, Options{})
			if tc.expErr != "" {
				require.EqualError(t, err, tc.expErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.name, f.Name())
			require.Equal(t, tc.args, f.Arguments())
			require.Nil(t, f.Result())
		})
	}
}

func TestFunction_registers(t *testing.T) {
	f := newTestFunction(t, "kernel", nil, nil)
	g1, g2 := f.NewGP(8), f.NewGP(4)
	x1, y1 := f.NewXMM(), f.NewYMM()
	require.Equal(t, regalloc.FromVirtual(1, regalloc.MaskGP64), g1)
	require.Equal(t, regalloc.FromVirtual(2, regalloc.MaskGP32), g2)
	// Vector registers of every width share one counter.
	require.Equal(t, regalloc.FromVirtual(1, regalloc.MaskXMM), x1)
	require.Equal(t, regalloc.FromVirtual(2, regalloc.MaskYMM), y1)
	require.Equal(t, regalloc.FromVirtual(1, regalloc.MaskMMX), f.NewMMX())
	require.Equal(t, regalloc.FromVirtual(1, regalloc.MaskK), f.NewK())

	require.Equal(t, amd64.RegInvalid, f.NewGP(3))
	require.EqualError(t, f.Err(), "function kernel: invalid register size 3")
}

func TestFunction_Emit_errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		build  func(f *Function) error
		expErr string
	}{
		{
			name: "invalid operands",
			build: func(f *Function) error {
				return f.Emit(amd64.MOV, amd64.R(amd64.RAX), amd64.R(amd64.EAX))
			},
			expErr: "function kernel: invalid operands for MOV: rax, eax",
		},
		{
			name: "foreign register",
			build: func(f *Function) error {
				other := newTestFunction(t, "other", nil, nil)
				other.NewGP(8)
				return f.Emit(amd64.MOV, amd64.R(other.NewGP(8)), amd64.Imm(1))
			},
			expErr: `function kernel: "MOV gp64-vreg<2>, 1": register gp64-vreg<2> was not created by this function`,
		},
		{
			name: "unknown label",
			build: func(f *Function) error {
				return f.Emit(amd64.JMP, amd64.L(5))
			},
			expErr: `function kernel: "JMP L5": label 5 was not created by this function`,
		},
		{
			name: "label defined twice",
			build: func(f *Function) error {
				l := f.NewLabel("loop")
				require.NoError(t, f.Label(l))
				return f.Label(l)
			},
			expErr: `function kernel: "L0:": label <loop> is defined more than once`,
		},
		{
			name: "argument out of range",
			build: func(f *Function) error {
				return f.LoadArgument(f.NewGP(8), 2)
			},
			expErr: "function kernel: argument 2 out of range",
		},
		{
			name: "argument kind",
			build: func(f *Function) error {
				return f.LoadArgument(f.NewGP(8), 1)
			},
			expErr: "function kernel: argument 1 of type float cannot be loaded into gp64-vreg<1>",
		},
		{
			name: "result without result type",
			build: func(f *Function) error {
				return f.Return(amd64.Imm(1))
			},
			expErr: "function kernel: the function has no result",
		},
		{
			name: "invalid alignment",
			build: func(f *Function) error {
				return f.Align(24)
			},
			expErr: "function kernel: invalid operands: alignment 24 is not a power of two up to 4096",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFunction(t, "kernel", []Argument{{Name: "n", Type: abi.Int64}, {Name: "x", Type: abi.Float}}, nil)
			err := tc.build(f)
			require.EqualError(t, err, tc.expErr)
			var ue *UsageError
			require.True(t, errors.As(err, &ue))

			// The first error sticks.
			require.Equal(t, err, f.Emit(amd64.RET))
			require.Equal(t, err, f.Close())
		})
	}
}

func TestFunction_Close(t *testing.T) {
	t.Run("closed", func(t *testing.T) {
		f := newTestFunction(t, "kernel", nil, nil)
		require.NoError(t, f.Return())
		require.NoError(t, f.Close())
		require.NoError(t, f.Close())
		require.True(t, errors.Is(f.Emit(amd64.RET), ErrFinalized))
	})
	t.Run("undefined label", func(t *testing.T) {
		f := newTestFunction(t, "kernel", nil, nil)
		require.NoError(t, f.Emit(amd64.JMP, amd64.L(f.NewLabel("done"))))
		require.EqualError(t, f.Close(), "function kernel: label <done> is referenced but never defined")
	})
	t.Run("read before write", func(t *testing.T) {
		f := newTestFunction(t, "kernel", nil, nil)
		r := f.NewGP(8)
		require.NoError(t, f.Emit(amd64.ADD, amd64.R(r), amd64.Imm(1)))
		require.NoError(t, f.Return())
		require.EqualError(t, f.Close(), `function kernel: "ADD gp64-vreg<1>, 1": register gp64-vreg<1> is read before it is written`)
	})
	t.Run("mode", func(t *testing.T) {
		f := newTestFunction(t, "kernel", nil, nil)
		x, y := f.NewXMM(), f.NewXMM()
		require.NoError(t, f.Emit(amd64.XORPS, amd64.R(x), amd64.R(x)))
		require.NoError(t, f.Emit(amd64.VXORPS, amd64.R(y), amd64.R(y), amd64.R(y)))
		require.NoError(t, f.Return())
		var me *regalloc.ModeError
		require.True(t, errors.As(f.Close(), &me))
	})
}

func TestFunction_Close_labels(t *testing.T) {
	f := newTestFunction(t, "kernel", nil, nil)
	entry := f.NewLabel("entry")
	unused := f.NewLabel("unused")
	loop1, loop2 := f.NewLabel("loop"), f.NewLabel("loop")
	anon := f.NewLabel("")
	body := f.NewLabel("outer.body")
	r := f.NewGP(4)
	for _, step := range []error{
		f.Label(entry),
		f.Emit(amd64.XOR, amd64.R(r), amd64.R(r)),
		f.Label(loop1),
		f.Emit(amd64.ADD, amd64.R(r), amd64.Imm(1)),
		f.Emit(amd64.CMP, amd64.R(r), amd64.Imm(10)),
		f.Emit(amd64.JNE, amd64.L(loop1)),
		f.Label(unused),
		f.Label(loop2),
		f.Emit(amd64.SUB, amd64.R(r), amd64.Imm(1)),
		f.Emit(amd64.JNE, amd64.L(loop2)),
		f.Emit(amd64.JMP, amd64.L(anon)),
		f.Label(anon),
		f.Emit(amd64.JMP, amd64.L(body)),
		f.Label(body),
		f.Return(),
	} {
		require.NoError(t, step)
	}
	require.NoError(t, f.Close())

	var labels []int
	for _, instr := range f.Instructions() {
		if instr.Op() == amd64.PseudoLabel {
			labels = append(labels, instr.Operands()[0].Label())
		}
	}
	require.Equal(t, []int{entry, loop1, loop2, anon, body}, labels)

	for _, tc := range []struct {
		label int
		exp   string
	}{
		{label: entry, exp: "entry"},
		{label: loop1, exp: "loop0"},
		{label: loop2, exp: "loop1"},
		{label: anon, exp: "__local0"},
		{label: body, exp: "outer.body"},
		{label: unused, exp: "<unused>"},
	} {
		require.Equal(t, tc.exp, f.LabelName(tc.label))
	}
	require.NotNil(t, f.Analysis())
	require.Equal(t, 6, f.Analysis().NumBlocks())
}
