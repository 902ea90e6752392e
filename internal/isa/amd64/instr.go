package amd64

import (
	"errors"
	"fmt"

	"github.com/peachjit/peachjit/internal/regalloc"
)

var (
	// ErrInvalidOperands is returned when no form of a mnemonic accepts the given operands.
	ErrInvalidOperands = errors.New("invalid operands")
	// ErrNoEncoding is returned when no encoding of an instruction applies to its physical operands.
	ErrNoEncoding = errors.New("no applicable encoding")
	// ErrBranchOutOfRange is returned when a branch displacement does not fit the chosen encoding.
	ErrBranchOutOfRange = errors.New("branch target out of range")
)

// Instruction is an x86-64 instruction or pseudo-instruction. It implements regalloc.Instr.
type Instruction struct {
	op       Op
	operands []Operand
	form     *form
	origin   string
	// implicitUses and implicitDefs are the register effects added when the instruction is
	// attached to a calling convention.
	implicitUses, implicitDefs []Reg
}

var _ regalloc.Instr = (*Instruction)(nil)

// New returns the instruction op with the given operands, or an error wrapping ErrInvalidOperands.
func New(op Op, operands ...Operand) (*Instruction, error) {
	if op == OpInvalid || op >= numOps {
		return nil, fmt.Errorf("unknown mnemonic %d", op)
	}
	for _, o := range operands {
		if o.kind == OperandKindMem {
			if err := o.mem.validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	i := &Instruction{op: op, operands: operands}
	if op.IsPseudo() {
		if err := validatePseudo(op, operands); err != nil {
			return nil, err
		}
		return i, nil
	}
	for fi := range forms[op] {
		if f := &forms[op][fi]; f.matches(operands) {
			i.form = f
			return i, nil
		}
	}
	return nil, fmt.Errorf("%w for %s: %s", ErrInvalidOperands, op, formatOperands(operands))
}

// MustNew is like New but panics on invalid operands.
func MustNew(op Op, operands ...Operand) *Instruction {
	i, err := New(op, operands...)
	if err != nil {
		panic(err)
	}
	return i
}

func validatePseudo(op Op, operands []Operand) error {
	invalid := fmt.Errorf("%w for %s: %s", ErrInvalidOperands, op, formatOperands(operands))
	switch op {
	case PseudoLabel:
		if len(operands) != 1 || operands[0].kind != OperandKindLabel {
			return invalid
		}
	case PseudoLoadArgument:
		if len(operands) != 2 || operands[0].kind != OperandKindReg || operands[1].kind != OperandKindImm ||
			operands[1].imm < 0 || operands[0].opmask.Valid() {
			return invalid
		}
	case PseudoStoreResult, PseudoReturn:
		if len(operands) > 1 || (op == PseudoStoreResult && len(operands) == 0) {
			return invalid
		}
		if len(operands) == 1 && operands[0].kind != OperandKindReg && operands[0].kind != OperandKindImm {
			return invalid
		}
	case PseudoAlign:
		if len(operands) != 1 || operands[0].kind != OperandKindImm {
			return invalid
		}
		if a := operands[0].imm; a <= 0 || a > 4096 || a&(a-1) != 0 {
			return fmt.Errorf("%w: alignment %d is not a power of two up to 4096", ErrInvalidOperands, a)
		}
	}
	return nil
}

// WithOrigin sets the source location reported in errors about the instruction.
func (i *Instruction) WithOrigin(origin string) *Instruction {
	i.origin = origin
	return i
}

// Origin implements regalloc.Origin.
func (i *Instruction) Origin() string { return i.origin }

// Op returns the mnemonic.
func (i *Instruction) Op() Op { return i.op }

// Operands returns the operands. The returned slice must not be modified.
func (i *Instruction) Operands() []Operand { return i.operands }

// SetImplicit replaces the implicit register effects of the instruction.
func (i *Instruction) SetImplicit(uses, defs []Reg) {
	i.implicitUses, i.implicitDefs = uses, defs
}

// Clone returns a copy of the instruction which can be modified independently.
func (i *Instruction) Clone() *Instruction {
	c := *i
	c.operands = append([]Operand(nil), i.operands...)
	c.implicitUses = append([]Reg(nil), i.implicitUses...)
	c.implicitDefs = append([]Reg(nil), i.implicitDefs...)
	return &c
}

// MapMemory returns a copy of the instruction with every memory operand replaced by f(m).
func (i *Instruction) MapMemory(f func(Memory) Memory) *Instruction {
	c := i.Clone()
	for idx, o := range c.operands {
		if o.kind == OperandKindMem {
			c.operands[idx].mem = f(o.mem)
		}
	}
	return c
}

// cancels returns true if the instruction is a cancelling form applied to identical registers,
// e.g. xor eax, eax, whose result does not depend on the inputs.
func (i *Instruction) cancels() bool {
	if i.form == nil || !i.form.cancelling {
		return false
	}
	a, b := i.form.cancelOperands()
	x, y := i.operands[a], i.operands[b]
	return x.kind == OperandKindReg && y.kind == OperandKindReg && x.reg == y.reg
}

// Uses implements regalloc.Instr.
func (i *Instruction) Uses() []Reg {
	var ret []Reg
	switch i.op {
	case PseudoStoreResult, PseudoReturn:
		for _, o := range i.operands {
			ret = append(ret, o.registers()...)
		}
		return append(ret, i.implicitUses...)
	case PseudoLabel, PseudoLoadArgument, PseudoAlign:
		return append(ret, i.implicitUses...)
	}
	cancels := i.cancels()
	for idx, o := range i.operands {
		switch o.kind {
		case OperandKindMem:
			ret = append(ret, o.mem.Registers()...)
		case OperandKindReg:
			a := i.form.access[idx]
			merging := o.opmask.Valid() && !o.zeroing
			if (a&aR != 0 && !cancels) || (a&aW != 0 && merging) {
				ret = append(ret, o.reg)
			}
			if o.opmask.Valid() {
				ret = append(ret, o.opmask)
			}
		}
	}
	return append(ret, i.implicitUses...)
}

// widen returns the register view actually written by an instruction writing r: 32-bit writes
// clear the upper half of the 64-bit register and AVX writes to XMM registers clear the upper lanes.
func widen(r Reg, avx bool) Reg {
	switch {
	case r.Mask() == regalloc.MaskGP32:
		return r.WithMask(regalloc.MaskGP64)
	case avx && r.Mask() == regalloc.MaskXMM:
		return r.WithMask(regalloc.MaskYMM)
	}
	return r
}

// Defs implements regalloc.Instr.
func (i *Instruction) Defs(avx bool) []Reg {
	var ret []Reg
	switch i.op {
	case PseudoLoadArgument:
		ret = append(ret, widen(i.operands[0].reg, avx))
	case PseudoLabel, PseudoStoreResult, PseudoReturn, PseudoAlign:
	default:
		for idx, o := range i.operands {
			if o.kind == OperandKindReg && i.form.access[idx]&aW != 0 {
				ret = append(ret, widen(o.reg, avx || i.form.mode == regalloc.ModeAVX))
			}
		}
		ret = append(ret, i.form.implicitOut...)
	}
	return append(ret, i.implicitDefs...)
}

// Registers implements regalloc.Instr.
func (i *Instruction) Registers() []Reg {
	var ret []Reg
	for _, o := range i.operands {
		ret = append(ret, o.registers()...)
	}
	if i.form != nil {
		ret = append(ret, i.form.implicitOut...)
	}
	ret = append(ret, i.implicitUses...)
	return append(ret, i.implicitDefs...)
}

// Control implements regalloc.Instr.
func (i *Instruction) Control() (regalloc.Control, int) {
	switch i.op {
	case PseudoLabel:
		return regalloc.ControlLabel, i.operands[0].label
	case PseudoReturn, RET:
		return regalloc.ControlReturn, 0
	case JMP:
		if i.operands[0].kind == OperandKindLabel {
			return regalloc.ControlJump, i.operands[0].label
		}
		return regalloc.ControlReturn, 0
	}
	if _, ok := conditionCodes[i.op]; ok {
		return regalloc.ControlCondJump, i.operands[0].label
	}
	return regalloc.ControlNone, 0
}

// Mode implements regalloc.Instr.
func (i *Instruction) Mode() regalloc.Mode {
	switch i.op {
	case PseudoLabel, PseudoLoadArgument, PseudoStoreResult, PseudoReturn:
		return regalloc.ModeInherit
	case PseudoAlign:
		return regalloc.ModeNone
	}
	return i.form.mode
}

// FixedOperands implements regalloc.Instr.
func (i *Instruction) FixedOperands() []regalloc.FixedOperand {
	if i.form == nil {
		return nil
	}
	var ret []regalloc.FixedOperand
	for idx, t := range i.form.ops {
		if pid, ok := t.fixedPhysical(); ok && i.operands[idx].reg.IsVirtual() {
			ret = append(ret, regalloc.FixedOperand{Reg: i.operands[idx].reg, Phys: pid})
		}
	}
	return ret
}

// String implements fmt.Stringer.
func (i *Instruction) String() string {
	return i.Format(SyntaxPeachPy, nil)
}

// Bind replaces the virtual registers of the instruction with their allocated physical registers.
func (i *Instruction) Bind(a regalloc.Allocation) error {
	var unbound Reg
	bind := func(r Reg) Reg {
		p, ok := a.Bind(r)
		if !ok {
			if !unbound.Valid() {
				unbound = r
			}
			return r
		}
		return p
	}
	for idx, o := range i.operands {
		i.operands[idx] = o.mapRegisters(bind)
	}
	for idx, r := range i.implicitUses {
		i.implicitUses[idx] = bind(r)
	}
	for idx, r := range i.implicitDefs {
		i.implicitDefs[idx] = bind(r)
	}
	if unbound.Valid() {
		return fmt.Errorf("register %s of %s is not allocated", RegName(unbound), i)
	}
	if i.form != nil && !i.form.matches(i.operands) {
		return fmt.Errorf("%w: %s after register allocation", ErrInvalidOperands, i)
	}
	return nil
}

// IsBranch returns true if the instruction targets a label.
func (i *Instruction) IsBranch() bool {
	return i.form != nil && len(i.operands) == 1 && i.operands[0].kind == OperandKindLabel
}

// Encode returns the shortest encoding of a non-branch instruction.
func (i *Instruction) Encode(opts EncodeOptions) ([]byte, error) {
	if i.form == nil {
		return nil, fmt.Errorf("pseudo-instruction %s cannot be encoded", i.op)
	}
	if i.IsBranch() {
		return nil, fmt.Errorf("branch %s must be encoded with its displacement", i)
	}
	var best []byte
	for ei := range i.form.encodings {
		if b, ok := i.form.encodings[ei].encode(i.operands, opts, 0); ok && (best == nil || len(b) < len(best)) {
			best = b
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoEncoding, i)
	}
	return best, nil
}

func (i *Instruction) branchEncoding(long bool) *Encoding {
	want := FlagRel8Label
	if long {
		want = FlagRel32Label
	}
	for ei := range i.form.encodings {
		if e := &i.form.encodings[ei]; e.Flags&want != 0 {
			return e
		}
	}
	panic(fmt.Sprintf("BUG: %s has no branch encoding", i.op))
}

// BranchLength returns the length of the short or long encoding of a branch.
func (i *Instruction) BranchLength(long bool) int {
	e := i.branchEncoding(long)
	return len(e.opcode) + int(e.relSize)
}

// EncodeBranch encodes a branch with the displacement rel from the end of the instruction.
func (i *Instruction) EncodeBranch(long bool, rel int32) ([]byte, error) {
	b, ok := i.branchEncoding(long).encode(i.operands, EncodeOptions{}, rel)
	if !ok {
		return nil, fmt.Errorf("%w: %s with displacement %d", ErrBranchOutOfRange, i, rel)
	}
	return b, nil
}

var lengthOptions = func() (ret []EncodeOptions) {
	for _, minDisp := range []int{0, 1, 4} {
		for _, sib := range []bool{false, true} {
			for _, forceREX := range []bool{false, true} {
				for _, vex3 := range []bool{false, true} {
					ret = append(ret, EncodeOptions{ForceSIB: sib, MinDisp: minDisp, ForceREX: forceREX, ForceVEX3: vex3})
				}
			}
		}
	}
	return
}()

// EncodeLengthOptions returns one encoding of the instruction for every achievable length. It is
// used to pad code with longer but equivalent encodings instead of NOPs.
func (i *Instruction) EncodeLengthOptions() map[int][]byte {
	ret := map[int][]byte{}
	if i.form == nil || i.IsBranch() {
		return ret
	}
	for ei := range i.form.encodings {
		e := &i.form.encodings[ei]
		for _, opts := range lengthOptions {
			if b, ok := e.encode(i.operands, opts, 0); ok {
				if _, seen := ret[len(b)]; !seen {
					ret[len(b)] = b
				}
			}
		}
	}
	return ret
}

// RIPDisplacementOffset returns the offset of the 32-bit displacement within the encoding of an
// instruction with a RIP-relative memory operand.
func RIPDisplacementOffset(code []byte) int {
	i := 0
	switch {
	case code[0] == 0xC5:
		i = 3
	case code[0] == 0xC4:
		i = 4
	case code[0] == 0x8F && code[1]&0x1F >= 8:
		// XOP. A map select below 8 makes 8F the POP opcode.
		i = 4
	case code[0] == 0x62:
		i = 5
	default:
		for ; code[i] == 0x66 || code[i] == 0xF2 || code[i] == 0xF3; i++ {
		}
		if code[i]&0xF0 == 0x40 {
			i++
		}
		if code[i] == 0x0F {
			i++
			if code[i] == 0x38 || code[i] == 0x3A {
				i++
			}
		}
		i++
	}
	if modrm := code[i]; modrm>>6 != 0 || modrm&0b111 != 0b101 {
		panic(fmt.Sprintf("BUG: % x has no RIP-relative operand", code))
	}
	return i + 1
}
