// Package function builds x86-64 functions out of instructions on virtual registers, binds them to
// a calling convention and encodes them into machine code.
//
// The pipeline has three stages, each producing a new value and leaving its input reusable:
//
//	Function --Finalize(abi)--> ABIFunction --Encode--> EncodedFunction
package function

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/jitapi"
	"github.com/peachjit/peachjit/internal/name"
	"github.com/peachjit/peachjit/internal/regalloc"
)

// Argument is a named function parameter.
type Argument struct {
	Name string
	Type *abi.Type
}

// Options configures a Function.
type Options struct {
	// DebugLevel above zero records the source location of every emitted instruction, which is
	// then reported in errors.
	DebugLevel int
	// Package is the Go package the function belongs to, used in listings for the Go ABIs.
	Package string
}

// DefaultOptions returns the options used when none are given, with the debug level taken from the
// environment.
func DefaultOptions() Options {
	return Options{DebugLevel: jitapi.DefaultDebugLevel()}
}

// Function is an ABI-agnostic function under construction. Instructions are appended with Emit and
// the other builder methods until Close is called.
//
// Builder methods record the first error, which is returned by every later call and by Close, so
// callers may check errors once at the end.
type Function struct {
	name   string
	args   []Argument
	result *abi.Type
	opts   Options

	instrs []*amd64.Instruction
	// vregs holds the number of virtual registers created for each register kind.
	vregs  [regalloc.NumKinds]uint32
	labels []label
	locals jitapi.Pool[local]

	err      error
	closed   bool
	analysis *regalloc.Analysis
}

type label struct {
	path    []*name.Name
	defined bool
	used    bool
}

// New returns an empty function with the given signature. result is nil for functions without a
// result.
func New(fname string, args []Argument, result *abi.Type, opts Options) (*Function, error) {
	if err := name.Check(fname); err != nil {
		return nil, fmt.Errorf("function name: %w", err)
	}
	seen := map[string]bool{}
	for i, a := range args {
		if a.Type == nil {
			return nil, fmt.Errorf("function %s: argument %d has no type", fname, i)
		}
		if a.Name == "" {
			continue
		}
		if err := name.Check(a.Name); err != nil {
			return nil, fmt.Errorf("function %s: argument %d: %w", fname, i, err)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("function %s: duplicate argument name %q", fname, a.Name)
		}
		seen[a.Name] = true
	}
	return &Function{
		name:   fname,
		args:   append([]Argument(nil), args...),
		result: result,
		opts:   opts,
		locals: jitapi.NewPool[local](),
	}, nil
}

// Name returns the name of the function.
func (f *Function) Name() string { return f.name }

// Arguments returns the parameters of the function.
func (f *Function) Arguments() []Argument { return f.args }

// Result returns the result type of the function, or nil.
func (f *Function) Result() *abi.Type { return f.result }

// Err returns the first error recorded while building the function.
func (f *Function) Err() error { return f.err }

// Instructions returns the instruction list. It must not be modified.
func (f *Function) Instructions() []*amd64.Instruction { return f.instrs }

// Analysis returns the ABI-agnostic analysis computed by Close.
func (f *Function) Analysis() *regalloc.Analysis { return f.analysis }

func (f *Function) fail(err error) error {
	if f.err == nil {
		f.err = err
	}
	return f.err
}

// caller returns the source location of the code calling the exported method that calls caller.
func (f *Function) caller() string {
	if f.opts.DebugLevel <= 0 {
		return ""
	}
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (f *Function) newVirtual(m regalloc.Mask) amd64.Reg {
	k := m.Kind()
	f.vregs[k]++
	return regalloc.FromVirtual(f.vregs[k], m)
}

// NewGP returns a new virtual general-purpose register of 1, 2, 4 or 8 bytes.
func (f *Function) NewGP(size int) amd64.Reg {
	var m regalloc.Mask
	switch size {
	case 1:
		m = regalloc.MaskGP8
	case 2:
		m = regalloc.MaskGP16
	case 4:
		m = regalloc.MaskGP32
	case 8:
		m = regalloc.MaskGP64
	default:
		f.fail(&UsageError{Function: f.name, Origin: f.caller(), Reason: fmt.Sprintf("invalid register size %d", size)})
		return amd64.RegInvalid
	}
	return f.newVirtual(m)
}

// NewMMX returns a new virtual MMX register.
func (f *Function) NewMMX() amd64.Reg { return f.newVirtual(regalloc.MaskMMX) }

// NewXMM returns a new virtual 128-bit vector register.
func (f *Function) NewXMM() amd64.Reg { return f.newVirtual(regalloc.MaskXMM) }

// NewYMM returns a new virtual 256-bit vector register.
func (f *Function) NewYMM() amd64.Reg { return f.newVirtual(regalloc.MaskYMM) }

// NewZMM returns a new virtual 512-bit vector register.
func (f *Function) NewZMM() amd64.Reg { return f.newVirtual(regalloc.MaskZMM) }

// NewK returns a new virtual AVX-512 opmask register.
func (f *Function) NewK() amd64.Reg { return f.newVirtual(regalloc.MaskK) }

// NewLabel returns a new label. name may be empty, or a dot-separated scoped name whose last part
// is the preferred name of the label. The final name is assigned by Close.
func (f *Function) NewLabel(lname string) int {
	id := len(f.labels)
	var path []*name.Name
	if lname == "" {
		path = []*name.Name{name.Requested("")}
	} else {
		if err := name.CheckScoped(lname); err != nil {
			f.fail(&UsageError{Function: f.name, Origin: f.caller(), Reason: err.Error()})
		}
		parts := strings.Split(lname, ".")
		for _, p := range parts[:len(parts)-1] {
			path = append(path, name.Fixed(p))
		}
		path = append(path, name.Requested(parts[len(parts)-1]))
	}
	f.labels = append(f.labels, label{path: path})
	return id
}

// LabelName returns the name of the label: the assigned name once the function is closed, or a
// placeholder before.
func (f *Function) LabelName(l int) string {
	if l < 0 || l >= len(f.labels) {
		return fmt.Sprintf("L%d", l)
	}
	path := f.labels[l].path
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = n.String()
	}
	return strings.Join(parts, ".")
}

// Label defines the label l at the current position.
func (f *Function) Label(l int) error {
	return f.emit(f.caller(), amd64.PseudoLabel, amd64.L(l))
}

// Emit appends the instruction op with the given operands.
func (f *Function) Emit(op amd64.Op, operands ...amd64.Operand) error {
	return f.emit(f.caller(), op, operands...)
}

// LoadArgument loads the arg-th argument into dst.
func (f *Function) LoadArgument(dst amd64.Reg, arg int) error {
	origin := f.caller()
	if arg < 0 || arg >= len(f.args) {
		return f.fail(&UsageError{Function: f.name, Origin: origin, Reason: fmt.Sprintf("argument %d out of range", arg)})
	}
	if !registerFits(dst, f.args[arg].Type) {
		return f.fail(&UsageError{
			Function: f.name, Origin: origin,
			Reason: fmt.Sprintf("argument %d of type %s cannot be loaded into %s", arg, f.args[arg].Type, amd64.RegName(dst)),
		})
	}
	return f.emit(origin, amd64.PseudoLoadArgument, amd64.R(dst), amd64.Imm(int64(arg)))
}

// registerFits returns true if values of type t can be loaded into r.
func registerFits(r amd64.Reg, t *abi.Type) bool {
	switch {
	case t.IsGeneralPurpose():
		return amd64.IsGP(r)
	case t.IsFloatingPoint():
		return amd64.IsXMM(r)
	case t.IsMask():
		return amd64.IsK(r) || amd64.IsGP(r)
	case t == abi.M64:
		return amd64.IsMMX(r) || amd64.IsXMM(r) || (amd64.IsGP(r) && amd64.Size(r) == 8)
	case t.IsVector():
		return amd64.Size(r) == t.Size(nil)
	}
	return false
}

// StoreResult stores src, a register or an immediate, as the result without returning.
func (f *Function) StoreResult(src amd64.Operand) error {
	origin := f.caller()
	if f.result == nil {
		return f.fail(&UsageError{Function: f.name, Origin: origin, Reason: "the function has no result"})
	}
	return f.emit(origin, amd64.PseudoStoreResult, src)
}

// Return returns from the function, with the optional result operand.
func (f *Function) Return(result ...amd64.Operand) error {
	origin := f.caller()
	if len(result) > 0 && f.result == nil {
		return f.fail(&UsageError{Function: f.name, Origin: origin, Reason: "the function has no result"})
	}
	return f.emit(origin, amd64.PseudoReturn, result...)
}

// Align pads the code with NOPs up to a multiple of n bytes.
func (f *Function) Align(n int) error {
	return f.emit(f.caller(), amd64.PseudoAlign, amd64.Imm(int64(n)))
}

func (f *Function) emit(origin string, op amd64.Op, operands ...amd64.Operand) error {
	if f.closed {
		return fmt.Errorf("emit %s: %w", op, ErrFinalized)
	}
	if f.err != nil {
		return f.err
	}
	instr, err := amd64.New(op, operands...)
	if err != nil {
		return f.fail(&UsageError{Function: f.name, Origin: origin, Reason: err.Error()})
	}
	instr.WithOrigin(origin)
	usage := func(reason string) error {
		return f.fail(&UsageError{Function: f.name, Instr: instr.String(), Origin: origin, Reason: reason})
	}
	for _, o := range operands {
		for _, r := range operandRegisters(o) {
			if r.IsVirtual() && r.Virtual() > f.vregs[r.Kind()] {
				return usage(fmt.Sprintf("register %s was not created by this function", amd64.RegName(r)))
			}
		}
		switch o.Kind() {
		case amd64.OperandKindLabel:
			l := o.Label()
			if l < 0 || l >= len(f.labels) {
				return usage(fmt.Sprintf("label %d was not created by this function", l))
			}
			if op == amd64.PseudoLabel {
				if f.labels[l].defined {
					return usage(fmt.Sprintf("label %s is defined more than once", f.LabelName(l)))
				}
				f.labels[l].defined = true
			} else {
				f.labels[l].used = true
			}
		case amd64.OperandKindMem:
			if m := o.Memory(); m.Local > f.locals.Allocated() || m.Local < 0 {
				return usage("local variable was not created by this function")
			}
		}
	}
	f.instrs = append(f.instrs, instr)
	return nil
}

func operandRegisters(o amd64.Operand) []amd64.Reg {
	switch o.Kind() {
	case amd64.OperandKindReg:
		ret := []amd64.Reg{o.Register()}
		if k, _ := o.Opmask(); k.Valid() {
			ret = append(ret, k)
		}
		return ret
	case amd64.OperandKindMem:
		return o.Memory().Registers()
	}
	return nil
}

// Close ends the construction of the function: it checks that every referenced label is defined,
// removes the labels no branch refers to, assigns the label names and analyzes the instruction list.
// Close is idempotent.
func (f *Function) Close() error {
	if f.closed {
		return f.err
	}
	f.closed = true
	if f.err != nil {
		return f.err
	}
	for l := range f.labels {
		if lb := &f.labels[l]; lb.used && !lb.defined {
			return f.fail(&UsageError{Function: f.name, Reason: fmt.Sprintf("label %s is referenced but never defined", f.LabelName(l))})
		}
	}

	kept := f.instrs[:0]
	for i, instr := range f.instrs {
		if instr.Op() == amd64.PseudoLabel && i > 0 && !f.labels[instr.Operands()[0].Label()].used {
			continue
		}
		kept = append(kept, instr)
	}
	f.instrs = kept

	ns := name.NewNamespace(nil)
	for _, instr := range f.instrs {
		if instr.Op() == amd64.PseudoLabel {
			path := append([]*name.Name{name.Fixed(f.name)}, f.labels[instr.Operands()[0].Label()].path...)
			if err := ns.Add(path...); err != nil {
				return f.fail(&UsageError{Function: f.name, Instr: instr.String(), Reason: err.Error()})
			}
		}
	}
	ns.Assign()

	a, err := regalloc.Analyze(asInstrs(f.instrs))
	if err != nil {
		return f.fail(f.wrap(err))
	}
	for i, instr := range f.instrs {
		if !a.Reachable(i) {
			continue
		}
		if undefined := a.Undefined(i); len(undefined) > 0 {
			return f.fail(&UsageError{
				Function: f.name, Instr: instr.String(), Origin: instr.Origin(),
				Reason: fmt.Sprintf("register %s is read before it is written", amd64.RegName(undefined[0])),
			})
		}
	}
	f.analysis = a
	jitapi.Logger().Debug("closed function",
		zap.String("name", f.name),
		zap.Int("instructions", len(f.instrs)),
		zap.Int("blocks", a.NumBlocks()),
		zap.Int("locals", f.locals.Allocated()))
	return nil
}

// wrap adds the function name to errors of the analysis and allocation.
func (f *Function) wrap(err error) error {
	var ue *UsageError
	if errors.As(err, &ue) {
		return err
	}
	return fmt.Errorf("function %s: %w", f.name, err)
}

func asInstrs(instrs []*amd64.Instruction) []regalloc.Instr {
	ret := make([]regalloc.Instr, len(instrs))
	for i, instr := range instrs {
		ret[i] = instr
	}
	return ret
}
