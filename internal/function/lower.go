package function

import (
	"fmt"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/regalloc"
)

// lowering expands the pseudo-instructions of a bound function into machine instructions.
type lowering struct {
	f      *ABIFunction
	out    []*amd64.Instruction
	sticky []bool
	origin string
	err    error
}

// emit appends op to the output. The first failure is kept and reported by the caller.
func (l *lowering) emit(op amd64.Op, operands ...amd64.Operand) {
	if l.err != nil {
		return
	}
	instr, err := amd64.New(op, operands...)
	if err != nil {
		l.err = fmt.Errorf("lowering: %w", err)
		return
	}
	l.append(instr)
}

func (l *lowering) append(instr ...*amd64.Instruction) {
	for _, i := range instr {
		if i.Origin() == "" {
			i.WithOrigin(l.origin)
		}
		l.out = append(l.out, i)
		l.sticky = append(l.sticky, false)
	}
}

// stick keeps the last emitted instruction in the same bundle as the next one.
func (l *lowering) stick() {
	if len(l.sticky) > 0 {
		l.sticky[len(l.sticky)-1] = true
	}
}

func (l *lowering) fail(instr *amd64.Instruction, reason string, args ...interface{}) {
	if l.err == nil {
		l.err = &UsageError{Function: l.f.name, Instr: instr.String(), Origin: instr.Origin(), Reason: fmt.Sprintf(reason, args...)}
	}
}

func gpView(r amd64.Reg, size int) amd64.Reg { return amd64.GP(r.Physical(), size) }

// loadArgument lowers LOAD.ARGUMENT dst, arg.
func (l *lowering) loadArgument(instr *amd64.Instruction, avx bool) {
	dst := instr.Operands()[0].Register()
	arg := int(instr.Operands()[1].Immediate())
	t := l.f.args[arg].Type
	size, loc := t.Size(l.f.abi), l.f.arguments[arg]
	dstSize := amd64.Size(dst)
	signed := t.IsSignedInteger()

	switch {
	case loc.ByReference:
		op := amd64.MOVUPS
		if avx || amd64.IsYMM(dst) {
			op = amd64.VMOVUPS
		}
		if !amd64.IsXMM(dst) && !amd64.IsYMM(dst) {
			l.fail(instr, "argument %d of type %s cannot be loaded into %s", arg, t, amd64.RegName(dst))
			return
		}
		l.emit(op, amd64.R(dst), amd64.M(amd64.Mem(loc.Register, 0).Sized(size)))
		return
	case dstSize < size:
		l.fail(instr, "register %s is narrower than argument %d of type %s", amd64.RegName(dst), arg, t)
		return
	case loc.InRegister():
		l.loadFromRegister(instr, dst, loc.Register, size, signed, avx)
		return
	}

	mem := l.f.frame.argumentAddress(loc.Offset)
	switch {
	case amd64.IsGP(dst):
		l.extend(dst, amd64.M(mem.Sized(size)), size, signed)
	case amd64.IsXMM(dst) && t.IsFloatingPoint() && size == 4:
		l.emit(amd64.MOVSS, amd64.R(dst), amd64.M(mem.Sized(4)))
	case amd64.IsXMM(dst) && size == 8:
		l.emit(amd64.MOVSD, amd64.R(dst), amd64.M(mem.Sized(8)))
	case amd64.IsXMM(dst) && avx:
		l.emit(amd64.VMOVUPS, amd64.R(dst), amd64.M(mem.Sized(16)))
	case amd64.IsXMM(dst):
		l.emit(amd64.MOVUPS, amd64.R(dst), amd64.M(mem.Sized(16)))
	case amd64.IsYMM(dst):
		l.emit(amd64.VMOVUPS, amd64.R(dst), amd64.M(mem.Sized(32)))
	case amd64.IsMMX(dst):
		l.emit(amd64.MOVQ, amd64.R(dst), amd64.M(mem.Sized(8)))
	case amd64.IsK(dst):
		l.emit(amd64.KMOVW, amd64.R(dst), amd64.M(mem.Sized(2)))
	default:
		l.fail(instr, "argument %d of type %s cannot be loaded into %s", arg, t, amd64.RegName(dst))
	}
}

func (l *lowering) loadFromRegister(instr *amd64.Instruction, dst, src amd64.Reg, size int, signed, avx bool) {
	switch {
	case amd64.IsGP(dst) && amd64.IsGP(src):
		if dst.Physical() == src.Physical() && amd64.Size(dst) <= size {
			return
		}
		l.extend(dst, amd64.R(src), size, signed)
	case dst.Kind() == regalloc.KindVector && src.Kind() == regalloc.KindVector && amd64.Size(dst) == amd64.Size(src):
		switch {
		case dst.Physical() == src.Physical():
		case avx || amd64.IsYMM(dst):
			l.emit(amd64.VMOVAPS, amd64.R(dst), amd64.R(src))
		default:
			l.emit(amd64.MOVAPS, amd64.R(dst), amd64.R(src))
		}
	case dst.Kind() == regalloc.KindVector && amd64.IsXMM(src) && amd64.Size(dst) > 16:
		l.fail(instr, "register %s is wider than the argument register %s", amd64.RegName(dst), amd64.RegName(src))
	default:
		l.fail(instr, "%s cannot be loaded from argument register %s", amd64.RegName(dst), amd64.RegName(src))
	}
}

// extend moves an integer of size bytes from src into the general-purpose register dst, with sign
// or zero extension when dst is wider.
func (l *lowering) extend(dst amd64.Reg, src amd64.Operand, size int, signed bool) {
	dstSize := amd64.Size(dst)
	narrow := func(n int) amd64.Operand {
		if src.Kind() == amd64.OperandKindReg {
			return amd64.R(gpView(src.Register(), n))
		}
		return amd64.M(src.Memory().Sized(n))
	}
	switch {
	case dstSize <= size:
		l.emit(amd64.MOV, amd64.R(dst), narrow(dstSize))
	case size == 4 && signed:
		l.emit(amd64.MOVSXD, amd64.R(dst), src)
	case size == 4:
		l.emit(amd64.MOV, amd64.R(gpView(dst, 4)), src)
	case signed:
		l.emit(amd64.MOVSX, amd64.R(dst), src)
	case dstSize == 8:
		l.emit(amd64.MOVZX, amd64.R(gpView(dst, 4)), src)
	default:
		l.emit(amd64.MOVZX, amd64.R(dst), src)
	}
}

// storeResult moves the result operand of STORE.RESULT and RETURN into the result register.
func (l *lowering) storeResult(instr *amd64.Instruction, src amd64.Operand, avx bool) {
	t := l.f.result
	if l.f.abi.IsGo() {
		l.storeGoResult(instr, src, avx)
		return
	}
	dst := l.f.resultLocation.Register
	size := t.Size(l.f.abi)
	if src.Kind() == amd64.OperandKindImm {
		v := src.Immediate()
		switch {
		case !amd64.IsGP(dst):
			l.fail(instr, "immediate result for type %s", t)
		case v == 0:
			l.emit(amd64.XOR, amd64.R(amd64.EAX), amd64.R(amd64.EAX))
		case size <= 4 && (v < -1<<31 || v >= 1<<32):
			l.fail(instr, "immediate %d does not fit the result type %s", v, t)
		case size <= 4 || (v >= 0 && v < 1<<32):
			l.emit(amd64.MOV, amd64.R(amd64.EAX), amd64.Imm(int64(uint32(v))))
		default:
			l.emit(amd64.MOV, amd64.R(amd64.RAX), amd64.Imm(v))
		}
		return
	}

	r := src.Register()
	switch {
	case amd64.IsGP(dst) && amd64.IsGP(r):
		srcSize := amd64.Size(r)
		switch {
		case srcSize < 4 && t.IsSignedInteger():
			l.emit(amd64.MOVSX, amd64.R(gpView(dst, roundUp(size, 4))), amd64.R(r))
		case srcSize < 4:
			l.emit(amd64.MOVZX, amd64.R(amd64.EAX), amd64.R(r))
		case srcSize == 4 && size == 8 && t.IsSignedInteger():
			l.emit(amd64.MOVSXD, amd64.R(amd64.RAX), amd64.R(r))
		case r.Physical() == 0 && (srcSize == 8 || size <= 4):
		case srcSize == 4 || size <= 4:
			l.emit(amd64.MOV, amd64.R(amd64.EAX), amd64.R(gpView(r, 4)))
		default:
			l.emit(amd64.MOV, amd64.R(amd64.RAX), amd64.R(r))
		}
	case amd64.IsMMX(dst) && amd64.IsMMX(r):
		if r.Physical() != 0 {
			l.emit(amd64.MOVQ, amd64.R(dst), amd64.R(r))
		}
	case dst.Kind() == regalloc.KindVector && r.Kind() == regalloc.KindVector && amd64.Size(dst) == amd64.Size(r):
		switch {
		case r.Physical() == 0:
		case avx || amd64.IsYMM(dst):
			l.emit(amd64.VMOVAPS, amd64.R(dst), amd64.R(r))
		case t == abi.M128d:
			l.emit(amd64.MOVAPD, amd64.R(dst), amd64.R(r))
		case t == abi.M128i:
			l.emit(amd64.MOVDQA, amd64.R(dst), amd64.R(r))
		case t == abi.Float:
			l.emit(amd64.MOVSS, amd64.R(dst), amd64.R(r))
		case t == abi.Double:
			l.emit(amd64.MOVSD, amd64.R(dst), amd64.R(r))
		default:
			l.emit(amd64.MOVAPS, amd64.R(dst), amd64.R(r))
		}
	default:
		l.fail(instr, "%s cannot hold a result of type %s", amd64.RegName(r), t)
	}
}

// storeGoResult stores the result into its stack slot.
func (l *lowering) storeGoResult(instr *amd64.Instruction, src amd64.Operand, avx bool) {
	t := l.f.result
	size := t.Size(l.f.abi)
	slot := l.f.frame.argumentAddress(l.f.resultLocation.Offset).Sized(size)
	if src.Kind() == amd64.OperandKindImm {
		v := src.Immediate()
		switch {
		case !t.IsGeneralPurpose() && !t.IsMask():
			l.fail(instr, "immediate result for type %s", t)
		case size == 8 && (v < -1<<31 || v >= 1<<31):
			l.emit(amd64.MOV, amd64.R(amd64.RAX), amd64.Imm(v))
			l.emit(amd64.MOV, amd64.M(slot), amd64.R(amd64.RAX))
		default:
			l.emit(amd64.MOV, amd64.M(slot), amd64.Imm(v))
		}
		return
	}
	r := src.Register()
	switch {
	case amd64.IsGP(r) && amd64.Size(r) >= size:
		l.emit(amd64.MOV, amd64.M(slot), amd64.R(gpView(r, size)))
	case amd64.IsGP(r):
		l.fail(instr, "register %s is narrower than the result type %s", amd64.RegName(r), t)
	case amd64.IsXMM(r) && size == 4:
		l.emit(amd64.MOVSS, amd64.M(slot), amd64.R(r))
	case amd64.IsXMM(r) && size == 8:
		l.emit(amd64.MOVSD, amd64.M(slot), amd64.R(r))
	case amd64.IsXMM(r) && size == 16 && avx:
		l.emit(amd64.VMOVUPS, amd64.M(slot), amd64.R(r))
	case amd64.IsXMM(r) && size == 16:
		l.emit(amd64.MOVUPS, amd64.M(slot), amd64.R(r))
	case amd64.IsYMM(r) && size == 32:
		l.emit(amd64.VMOVUPS, amd64.M(slot), amd64.R(r))
	case amd64.IsMMX(r):
		l.emit(amd64.MOVQ, amd64.M(slot), amd64.R(r))
	default:
		l.fail(instr, "%s cannot hold a result of type %s", amd64.RegName(r), t)
	}
}

// ret lowers the return sequence: vector state cleanup, epilogue and the return instruction.
func (l *lowering) ret() {
	res := l.f.resultLocation.Register
	if l.f.usesAVX && !amd64.IsYMM(res) && !amd64.IsZMM(res) {
		l.emit(amd64.VZEROUPPER)
	}
	if l.f.usesMMX && !amd64.IsMMX(res) {
		l.emit(amd64.EMMS)
	}
	l.append(l.f.frame.epilogue(l.f.usesAVX)...)
	if l.f.abi.Family != abi.FamilyNativeClient {
		l.emit(amd64.RET)
		return
	}
	// The return address is masked to a bundle boundary within the sandbox.
	l.emit(amd64.POP, amd64.R(amd64.RCX))
	l.emit(amd64.AND, amd64.R(amd64.ECX), amd64.Imm(-32))
	l.stick()
	l.emit(amd64.ADD, amd64.R(amd64.RCX), amd64.R(amd64.R15))
	l.stick()
	l.emit(amd64.JMP, amd64.R(amd64.RCX))
}

// sandbox rewrites the memory operands of instr to stay within the Native Client sandbox: the
// 32-bit address is zero-extended and based at r15.
func (l *lowering) sandbox(instr *amd64.Instruction) *amd64.Instruction {
	var guard amd64.Reg
	rewritten := instr.MapMemory(func(m amd64.Memory) amd64.Memory {
		if m.RIP || l.err != nil {
			return m
		}
		switch {
		case m.Index.Valid():
			l.fail(instr, "indexed addressing is not supported in the Native Client sandbox")
		case !m.Base.Valid():
			l.fail(instr, "absolute addressing is not supported in the Native Client sandbox")
		case m.Base.Key() == amd64.RSP.Key(), m.Base.Key() == amd64.RBP.Key(), m.Base.Key() == amd64.R15.Key():
		default:
			guard = m.Base
			return amd64.Memory{Base: amd64.R15, Index: m.Base, Scale: 1, Disp: m.Disp, Size: m.Size}
		}
		return m
	})
	if guard.Valid() {
		r32 := amd64.R(gpView(guard, 4))
		l.emit(amd64.MOV, r32, r32)
		l.stick()
	}
	return rewritten
}
