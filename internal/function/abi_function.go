package function

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/jitapi"
	"github.com/peachjit/peachjit/internal/regalloc"
)

// ABIFunction is a function bound to a calling convention: registers are allocated, the prologue and
// epilogue are generated and every pseudo-instruction is lowered, except for labels and alignment
// directives which are resolved by encoding.
type ABIFunction struct {
	fn     *Function
	name   string
	abi    *abi.ABI
	args   []Argument
	result *abi.Type

	arguments      []Location
	resultLocation Location
	// argumentsSize is the size of the argument frame for the Go ABIs.
	argumentsSize int

	frame      Frame
	clobbered  []amd64.Reg
	allocation regalloc.Allocation
	usesAVX    bool
	usesMMX    bool

	instrs []*amd64.Instruction
	// sticky[i] is set when instrs[i] must be placed in the same bundle as instrs[i+1].
	sticky []bool
}

// Finalize closes the function if needed and binds it to the ABI a. The function itself is not
// modified and can be bound to other ABIs.
func (f *Function) Finalize(a *abi.ABI) (*ABIFunction, error) {
	return f.finalize(a, nil)
}

// finalize is Finalize with the allocatable registers overridden by info when not nil.
func (f *Function) finalize(a *abi.ABI, info *regalloc.RegisterInfo) (*ABIFunction, error) {
	if err := f.Close(); err != nil {
		return nil, err
	}
	usage := func(instr *amd64.Instruction, reason string) error {
		e := &UsageError{Function: f.name, Reason: reason}
		if instr != nil {
			e.Instr, e.Origin = instr.String(), instr.Origin()
		}
		return e
	}

	ret := &ABIFunction{fn: f, name: f.name, abi: a, args: f.args, result: f.result}
	locs, resultOffset, argumentsSize, err := assignArguments(a, f.args, f.result)
	if err != nil {
		return nil, usage(nil, err.Error())
	}
	ret.arguments, ret.argumentsSize = locs, argumentsSize
	if f.result != nil {
		if a.IsGo() {
			ret.resultLocation = Location{Offset: resultOffset}
		} else if ret.resultLocation.Register, err = resultRegister(a, f.result); err != nil {
			return nil, usage(nil, err.Error())
		}
	}
	resultReg := ret.resultLocation.Register
	if resultReg.Valid() && amd64.IsGP(resultReg) {
		resultReg = amd64.RAX
	}

	instrs := make([]*amd64.Instruction, 0, len(f.instrs))
	for _, instr := range f.instrs {
		instr = instr.Clone()
		switch instr.Op() {
		case amd64.PseudoLoadArgument:
			if loc := locs[instr.Operands()[1].Immediate()]; loc.InRegister() {
				instr.SetImplicit([]amd64.Reg{loc.Register}, nil)
			}
		case amd64.PseudoStoreResult:
			switch {
			case resultReg.Valid():
				instr.SetImplicit(nil, []amd64.Reg{resultReg})
			case goImmediateViaRAX(instr):
				instr.SetImplicit(nil, []amd64.Reg{amd64.RAX})
			}
		case amd64.PseudoReturn:
			switch {
			case len(instr.Operands()) == 0 && resultReg.Valid():
				instr.SetImplicit([]amd64.Reg{resultReg}, nil)
			case goImmediateViaRAX(instr):
				instr.SetImplicit(nil, []amd64.Reg{amd64.RAX})
			}
		}
		instrs = append(instrs, instr)
	}

	analysis, err := regalloc.Analyze(asInstrs(instrs))
	if err != nil {
		return nil, f.wrap(err)
	}
	if reachable := dropUnreachable(analysis, instrs); len(reachable) != len(instrs) {
		instrs = reachable
		if analysis, err = regalloc.Analyze(asInstrs(instrs)); err != nil {
			return nil, f.wrap(err)
		}
	}
	if jitapi.AnalysisLoggingEnabled {
		jitapi.Logger().Debug("analysis", zap.String("function", f.name),
			zap.Int("blocks", analysis.NumBlocks()), zap.Int("rounds", analysis.Rounds), zap.Int("changes", analysis.Changes))
	}

	locals := f.layoutLocals()
	realign := locals.align > a.StackAlignment
	if realign && a.Family == abi.FamilyNativeClient {
		return nil, usage(nil, fmt.Sprintf("local variables aligned to %d bytes require a frame pointer, which is reserved in the %s", locals.align, a))
	}
	if info == nil {
		info = a.RegisterInfo(realign)
	}
	allocator := regalloc.NewAllocator(info)
	for _, instr := range instrs {
		if instr.Op() != amd64.PseudoLoadArgument {
			continue
		}
		dst := instr.Operands()[0].Register()
		if loc := locs[instr.Operands()[1].Immediate()]; loc.InRegister() && !loc.ByReference && dst.IsVirtual() && dst.Kind() == loc.Register.Kind() {
			allocator.Hint(dst, loc.Register.Physical())
		}
	}
	allocation, err := allocator.Allocate(analysis)
	if err != nil {
		return nil, f.wrap(err)
	}
	ret.allocation = allocation

	var defined []amd64.Reg
	for i, instr := range instrs {
		if err := instr.Bind(allocation); err != nil {
			return nil, usage(instr, err.Error())
		}
		avx := analysis.Mode(i) == regalloc.ModeAVX
		defined = append(defined, instr.Defs(avx)...)
		if instr.Mode() == regalloc.ModeAVX {
			ret.usesAVX = true
		}
		for _, r := range instr.Registers() {
			if amd64.IsMMX(r) {
				ret.usesMMX = true
			}
		}
	}
	ret.clobbered = a.Clobbered(defined)
	ret.frame = newFrame(a, locals, ret.clobbered, realign)
	if jitapi.RegAllocLoggingEnabled {
		jitapi.Logger().Debug("allocated registers", zap.String("function", f.name),
			zap.Stringer("frame", ret.frame), zap.Int("virtual", len(allocation)))
	}

	if err := ret.lower(instrs, analysis, locals); err != nil {
		return nil, err
	}

	if jitapi.EncodingValidationEnabled {
		for _, instr := range ret.instrs {
			if instr.Op().IsPseudo() || instr.IsBranch() {
				continue
			}
			if _, err := instr.Encode(amd64.EncodeOptions{}); err != nil {
				return nil, &EncodingError{Function: f.name, Instr: instr.String(), Origin: instr.Origin(), Err: err}
			}
		}
	}
	if jitapi.PrintRegisterAllocated {
		fmt.Println("[[[after register allocation for " + f.name + "]]]" + ret.Listing(amd64.SyntaxPeachPy))
	}
	jitapi.Logger().Debug("bound function",
		zap.String("name", f.name),
		zap.String("abi", a.Key),
		zap.Int("instructions", len(ret.instrs)),
		zap.Stringer("frame", ret.frame))
	return ret, nil
}

// goImmediateViaRAX returns true if the result immediate of instr must be stored through rax.
func goImmediateViaRAX(instr *amd64.Instruction) bool {
	ops := instr.Operands()
	if len(ops) != 1 || ops[0].Kind() != amd64.OperandKindImm {
		return false
	}
	v := ops[0].Immediate()
	return v < -1<<31 || v >= 1<<31
}

func dropUnreachable(a *regalloc.Analysis, instrs []*amd64.Instruction) []*amd64.Instruction {
	ret := make([]*amd64.Instruction, 0, len(instrs))
	for i, instr := range instrs {
		if a.Reachable(i) {
			ret = append(ret, instr)
		}
	}
	return ret
}

// lower generates the prologue and expands the pseudo-instructions and local variable references.
func (f *ABIFunction) lower(instrs []*amd64.Instruction, a *regalloc.Analysis, locals localLayout) error {
	l := &lowering{f: f}
	l.append(f.frame.prologue(f.usesAVX)...)
	for i, instr := range instrs {
		l.origin = instr.Origin()
		avx := a.Mode(i) == regalloc.ModeAVX
		switch instr.Op() {
		case amd64.PseudoLoadArgument:
			l.loadArgument(instr, avx)
		case amd64.PseudoStoreResult:
			l.storeResult(instr, instr.Operands()[0], avx)
		case amd64.PseudoReturn:
			if ops := instr.Operands(); len(ops) == 1 {
				l.storeResult(instr, ops[0], avx)
			}
			l.ret()
		default:
			instr = instr.MapMemory(func(m amd64.Memory) amd64.Memory {
				if m.Local == 0 {
					return m
				}
				m.Base = amd64.RSP
				m.Disp += int32(locals.address(f.fn, m))
				m.Local = 0
				return m
			})
			if f.abi.Family == abi.FamilyNativeClient && !instr.Op().IsPseudo() {
				instr = l.sandbox(instr)
			}
			l.append(instr)
		}
		if l.err != nil {
			return l.err
		}
	}
	f.instrs, f.sticky = l.out, l.sticky
	if jitapi.PrintLoweredFunction {
		fmt.Println("[[[lowered " + f.name + "]]]" + f.Listing(amd64.SyntaxPeachPy))
	}
	return nil
}

// Name returns the name of the function.
func (f *ABIFunction) Name() string { return f.name }

// ABI returns the calling convention the function is bound to.
func (f *ABIFunction) ABI() *abi.ABI { return f.abi }

// ArgumentLocations returns where each argument is passed.
func (f *ABIFunction) ArgumentLocations() []Location { return f.arguments }

// ResultLocation returns where the result is returned: a register, or the stack slot for the Go ABIs.
func (f *ABIFunction) ResultLocation() Location { return f.resultLocation }

// Frame returns the stack frame layout.
func (f *ABIFunction) Frame() Frame { return f.frame }

// Clobbered returns the callee-saved registers written by the function, which it saves and restores.
func (f *ABIFunction) Clobbered() []amd64.Reg { return f.clobbered }

// Instructions returns the lowered instruction list. It must not be modified.
func (f *ABIFunction) Instructions() []*amd64.Instruction { return f.instrs }

// LabelName returns the name of the label l.
func (f *ABIFunction) LabelName(l int) string { return f.fn.LabelName(l) }

// Listing returns the assembly listing of the function. For the Go ABIs the listing is a Go assembly
// TEXT block.
func (f *ABIFunction) Listing(s amd64.Syntax) string {
	var b strings.Builder
	if f.abi.IsGo() {
		frame := f.argumentsSize
		sym := f.name
		if pkg := f.fn.opts.Package; pkg != "" {
			sym = pkg + "·" + sym
		} else {
			sym = "·" + sym
		}
		if frame > 0 {
			fmt.Fprintf(&b, "TEXT %s(SB),4,$0-%d\n", sym, frame)
		} else {
			fmt.Fprintf(&b, "TEXT %s(SB),4,$0\n", sym)
		}
	} else {
		b.WriteString(f.name + ":\n")
	}
	for _, instr := range f.instrs {
		switch instr.Op() {
		case amd64.PseudoLabel:
			b.WriteString(f.LabelName(instr.Operands()[0].Label()) + ":\n")
		default:
			b.WriteString("\t" + instr.Format(s, f.LabelName) + "\n")
		}
	}
	if f.abi.IsGo() {
		b.WriteString("\n")
	}
	return b.String()
}
