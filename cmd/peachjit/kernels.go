package main

import (
	"fmt"
	"sort"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/function"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/literal"
)

// kernel is a sample function the command line can build.
type kernel struct {
	doc    string
	args   []function.Argument
	result *abi.Type
	// build emits the body. Errors are sticky in the function and checked by the caller.
	build func(f *function.Function)
}

var kernels = map[string]kernel{
	"add": {
		doc:    "add(a, b int64) int64",
		args:   []function.Argument{{Name: "a", Type: abi.Int64}, {Name: "b", Type: abi.Int64}},
		result: abi.Int64,
		build: func(f *function.Function) {
			a, b := f.NewGP(8), f.NewGP(8)
			f.LoadArgument(a, 0)
			f.LoadArgument(b, 1)
			f.Emit(amd64.ADD, amd64.R(a), amd64.R(b))
			f.Return(amd64.R(a))
		},
	},
	"sum": {
		doc:    "sum(p *uint32, n size_t) uint32",
		args:   []function.Argument{{Name: "p", Type: abi.Ptr(abi.Uint32)}, {Name: "n", Type: abi.Size}},
		result: abi.Uint32,
		build: func(f *function.Function) {
			p, n, acc := f.NewGP(8), f.NewGP(8), f.NewGP(4)
			loop, done := f.NewLabel("loop"), f.NewLabel("done")
			f.LoadArgument(p, 0)
			f.LoadArgument(n, 1)
			f.Emit(amd64.XOR, amd64.R(acc), amd64.R(acc))
			f.Align(16)
			f.Label(loop)
			f.Emit(amd64.TEST, amd64.R(n), amd64.R(n))
			f.Emit(amd64.JE, amd64.L(done))
			f.Emit(amd64.ADD, amd64.R(acc), amd64.M(amd64.Mem(p, 0).Sized(4)))
			f.Emit(amd64.ADD, amd64.R(p), amd64.Imm(4))
			f.Emit(amd64.SUB, amd64.R(n), amd64.Imm(1))
			f.Emit(amd64.JMP, amd64.L(loop))
			f.Label(done)
			f.Return(amd64.R(acc))
		},
	},
	"scale4": {
		doc:  "scale4(p *float) doubles p[0:4] with SSE",
		args: []function.Argument{{Name: "p", Type: abi.Ptr(abi.Float)}},
		build: func(f *function.Function) {
			p, x := f.NewGP(8), f.NewXMM()
			f.LoadArgument(p, 0)
			f.Emit(amd64.MOVUPS, amd64.R(x), amd64.M(amd64.Mem(p, 0).Sized(16)))
			f.Emit(amd64.MULPS, amd64.R(x), amd64.M(amd64.Const(literal.Float32x4(2, 2, 2, 2).Named("two"))))
			f.Emit(amd64.MOVUPS, amd64.M(amd64.Mem(p, 0).Sized(16)), amd64.R(x))
			f.Return()
		},
	},
	"scale8": {
		doc:  "scale8(p *float) doubles p[0:8] with AVX",
		args: []function.Argument{{Name: "p", Type: abi.Ptr(abi.Float)}},
		build: func(f *function.Function) {
			p, y := f.NewGP(8), f.NewYMM()
			f.LoadArgument(p, 0)
			f.Emit(amd64.VMOVUPS, amd64.R(y), amd64.M(amd64.Mem(p, 0).Sized(32)))
			f.Emit(amd64.VMULPS, amd64.R(y), amd64.R(y),
				amd64.M(amd64.Const(literal.Float32x8(2, 2, 2, 2, 2, 2, 2, 2).Named("two"))))
			f.Emit(amd64.VMOVUPS, amd64.M(amd64.Mem(p, 0).Sized(32)), amd64.R(y))
			f.Return()
		},
	},
}

func kernelNames() []string {
	names := make([]string, 0, len(kernels))
	for name := range kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildKernel builds the sample named name and binds it to a.
func buildKernel(name string, a *abi.ABI, opts function.Options) (*function.ABIFunction, error) {
	k, ok := kernels[name]
	if !ok {
		return nil, fmt.Errorf("unknown kernel %q", name)
	}
	f, err := function.New(name, k.args, k.result, opts)
	if err != nil {
		return nil, err
	}
	k.build(f)
	if err = f.Err(); err != nil {
		return nil, err
	}
	return f.Finalize(a)
}
