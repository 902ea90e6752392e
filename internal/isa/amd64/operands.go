package amd64

import (
	"fmt"
	"strings"

	"github.com/peachjit/peachjit/internal/literal"
	"github.com/peachjit/peachjit/internal/regalloc"
)

// OperandKind is the kind of an instruction operand.
type OperandKind byte

const (
	OperandKindNone OperandKind = iota
	// OperandKindReg is a register, optionally with an AVX-512 opmask.
	OperandKindReg
	// OperandKindMem is a memory address, possibly RIP-relative.
	OperandKindMem
	// OperandKindImm is an immediate value.
	OperandKindImm
	// OperandKindLabel is a branch target.
	OperandKindLabel
)

// Operand is an instruction operand. It is a value type and never mutated once created.
type Operand struct {
	kind    OperandKind
	reg     Reg
	opmask  Reg
	zeroing bool
	mem     Memory
	imm     int64
	label   int
}

// R returns a register operand.
func R(r Reg) Operand { return Operand{kind: OperandKindReg, reg: r} }

// Masked returns a register operand written under the opmask k, with zeroing or merging of the
// masked-out elements.
func Masked(r, k Reg, zeroing bool) Operand {
	return Operand{kind: OperandKindReg, reg: r, opmask: k, zeroing: zeroing}
}

// M returns a memory operand.
func M(m Memory) Operand { return Operand{kind: OperandKindMem, mem: m} }

// Imm returns an immediate operand.
func Imm(v int64) Operand { return Operand{kind: OperandKindImm, imm: v} }

// L returns a label operand.
func L(label int) Operand { return Operand{kind: OperandKindLabel, label: label} }

// Kind returns the kind of the operand.
func (o Operand) Kind() OperandKind { return o.kind }

// Register returns the register of a register operand.
func (o Operand) Register() Reg { return o.reg }

// Opmask returns the opmask register of a masked operand and whether zeroing is used.
func (o Operand) Opmask() (Reg, bool) { return o.opmask, o.zeroing }

// Memory returns the address of a memory operand.
func (o Operand) Memory() Memory { return o.mem }

// Immediate returns the value of an immediate operand.
func (o Operand) Immediate() int64 { return o.imm }

// Label returns the label of a label operand.
func (o Operand) Label() int { return o.label }

// registers returns every register the operand refers to.
func (o Operand) registers() []Reg {
	switch o.kind {
	case OperandKindReg:
		if o.opmask.Valid() {
			return []Reg{o.reg, o.opmask}
		}
		return []Reg{o.reg}
	case OperandKindMem:
		return o.mem.Registers()
	default:
		return nil
	}
}

// mapRegisters returns the operand with every register replaced by f(r).
func (o Operand) mapRegisters(f func(Reg) Reg) Operand {
	switch o.kind {
	case OperandKindReg:
		o.reg = f(o.reg)
		if o.opmask.Valid() {
			o.opmask = f(o.opmask)
		}
	case OperandKindMem:
		if o.mem.Base.Valid() {
			o.mem.Base = f(o.mem.Base)
		}
		if o.mem.Index.Valid() {
			o.mem.Index = f(o.mem.Index)
		}
	}
	return o
}

// Memory is a memory address [Base + Index*Scale + Disp], a RIP-relative reference to a constant,
// or a reference to a stack local that is resolved when the function is bound to an ABI.
type Memory struct {
	Base, Index Reg
	Scale       byte
	Disp        int32

	// Size is the size of the accessed data in bytes, or zero when it is implied by the other operands.
	Size int

	// RIP is set for RIP-relative addresses. Constant, if set, is the referenced literal.
	RIP      bool
	Constant *literal.Constant

	// Local is the 1-based index of the referenced stack local, or zero.
	Local int
}

// Mem returns the address [base + disp].
func Mem(base Reg, disp int32) Memory {
	return Memory{Base: base, Disp: disp}
}

// MemIndex returns the address [base + index*scale + disp]. base may be RegInvalid.
func MemIndex(base, index Reg, scale byte, disp int32) Memory {
	return Memory{Base: base, Index: index, Scale: scale, Disp: disp}
}

// Const returns the RIP-relative address of the constant c, sized as c.
func Const(c *literal.Constant) Memory {
	return Memory{RIP: true, Constant: c, Size: c.Size}
}

// Sized returns the address with the accessed data size set.
func (m Memory) Sized(size int) Memory {
	m.Size = size
	return m
}

// Registers returns the address registers.
func (m Memory) Registers() []Reg {
	var ret []Reg
	if m.Base.Valid() {
		ret = append(ret, m.Base)
	}
	if m.Index.Valid() {
		ret = append(ret, m.Index)
	}
	return ret
}

func (m Memory) scale() byte {
	if m.Scale == 0 {
		return 1
	}
	return m.Scale
}

func (m Memory) validate() error {
	switch m.scale() {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("invalid scale %d", m.Scale)
	}
	if m.RIP && (m.Base.Valid() || m.Index.Valid()) {
		return fmt.Errorf("RIP-relative address cannot have base or index registers")
	}
	if m.Base.Valid() && m.Base.Mask() != regalloc.MaskGP64 {
		return fmt.Errorf("base register %s is not a 64-bit register", RegName(m.Base))
	}
	if m.Index.Valid() {
		if IsGP(m.Index) && m.Index.Mask() != regalloc.MaskGP64 {
			return fmt.Errorf("index register %s is not a 64-bit register", RegName(m.Index))
		}
		if !m.Index.IsVirtual() && m.Index == RSP {
			return fmt.Errorf("rsp cannot be used as an index register")
		}
	}
	return nil
}

// String returns the address in Intel syntax.
func (m Memory) String() string {
	var parts []string
	switch {
	case m.Constant != nil:
		name := m.Constant.Name
		if name == "" {
			name = m.Constant.String()
		}
		parts = append(parts, "rip", name)
	case m.RIP:
		parts = append(parts, "rip")
	case m.Local > 0:
		parts = append(parts, fmt.Sprintf("local%d", m.Local-1))
	}
	if m.Base.Valid() {
		parts = append(parts, RegName(m.Base))
	}
	if m.Index.Valid() {
		if s := m.scale(); s != 1 {
			parts = append(parts, fmt.Sprintf("%s*%d", RegName(m.Index), s))
		} else {
			parts = append(parts, RegName(m.Index))
		}
	}
	ret := "[" + strings.Join(parts, " + ")
	switch {
	case len(parts) == 0:
		ret += fmt.Sprintf("%#x", m.Disp)
	case m.Disp > 0:
		ret += fmt.Sprintf(" + %d", m.Disp)
	case m.Disp < 0:
		ret += fmt.Sprintf(" - %d", -int64(m.Disp))
	}
	ret += "]"
	if w := sizeName(m.Size); w != "" {
		ret = w + " " + ret
	}
	return ret
}

func sizeName(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	case 10:
		return "tword"
	case 16:
		return "oword"
	case 32:
		return "hword"
	case 64:
		return "zword"
	default:
		return ""
	}
}

// String returns the operand in Intel syntax.
func (o Operand) String() string {
	switch o.kind {
	case OperandKindReg:
		s := RegName(o.reg)
		if o.opmask.Valid() {
			s += "{" + RegName(o.opmask) + "}"
			if o.zeroing {
				s += "{z}"
			}
		}
		return s
	case OperandKindMem:
		return o.mem.String()
	case OperandKindImm:
		return fmt.Sprint(o.imm)
	case OperandKindLabel:
		return fmt.Sprintf("L%d", o.label)
	default:
		return "<none>"
	}
}
