package amd64

import "github.com/peachjit/peachjit/internal/regalloc"

// opType is the type of an operand position in an instruction form.
type opType byte

const (
	tNone opType = iota
	tR8
	tR16
	tR32
	tR64
	tRM8
	tRM16
	tRM32
	tRM64
	// tCL is an 8-bit register which must be bound to cl.
	tCL
	// tM is memory of any size, as in LEA.
	tM
	tM32
	tM64
	tM128
	tM256
	tImm8
	tImm16
	tImm32
	// tImm32s is a 32-bit immediate sign-extended to 64 bits.
	tImm32s
	tImm64
	tXMM
	// tXMM0 is an XMM register which must be bound to xmm0.
	tXMM0
	tXMMM128
	tYMM
	tYMMM256
	tZMM
	// tZMMK is a ZMM destination with an optional opmask.
	tZMMK
	tZMMM512
	tMM
	tMMM64
	tK
	tKM16
	tLabel
)

// memSize returns the memory size of memory-capable operand types.
func (t opType) memSize() (size int, ok bool) {
	switch t {
	case tRM8:
		return 1, true
	case tRM16, tKM16:
		return 2, true
	case tRM32, tM32:
		return 4, true
	case tRM64, tM64, tMMM64:
		return 8, true
	case tM128, tXMMM128:
		return 16, true
	case tM256, tYMMM256:
		return 32, true
	case tZMMM512:
		return 64, true
	case tM:
		return 0, true
	}
	return 0, false
}

// memOnly returns true for operand types which never match a register.
func (t opType) memOnly() bool {
	switch t {
	case tM, tM32, tM64, tM128, tM256:
		return true
	}
	return false
}

// regSize returns the register size of register-capable operand types.
func (t opType) regSize() (size int, ok bool) {
	switch t {
	case tR8, tRM8, tCL:
		return 1, true
	case tR16, tRM16, tKM16:
		return 2, true
	case tR32, tRM32:
		return 4, true
	case tR64, tRM64, tMM, tMMM64, tK:
		return 8, true
	case tXMM, tXMM0, tXMMM128:
		return 16, true
	case tYMM, tYMMM256:
		return 32, true
	case tZMM, tZMMK, tZMMM512:
		return 64, true
	}
	return 0, false
}

func (t opType) regMask() regalloc.Mask {
	switch t {
	case tR16, tRM16:
		return regalloc.MaskGP16
	case tR32, tRM32:
		return regalloc.MaskGP32
	case tR64, tRM64:
		return regalloc.MaskGP64
	case tMM, tMMM64:
		return regalloc.MaskMMX
	case tK, tKM16:
		return regalloc.MaskK
	case tXMM, tXMM0, tXMMM128:
		return regalloc.MaskXMM
	case tYMM, tYMMM256:
		return regalloc.MaskYMM
	case tZMM, tZMMK, tZMMM512:
		return regalloc.MaskZMM
	}
	return 0
}

func (t opType) isVector() bool {
	switch t {
	case tXMM, tXMM0, tXMMM128, tM128, tYMM, tYMMM256, tM256, tZMM, tZMMK, tZMMM512:
		return true
	}
	return false
}

// fixedPhysical returns the physical register an operand type is bound to.
func (t opType) fixedPhysical() (uint8, bool) {
	switch t {
	case tCL:
		return 1, true
	case tXMM0:
		return 0, true
	}
	return 0, false
}

func (t opType) matchRegister(o Operand) bool {
	r := o.reg
	if o.opmask.Valid() && t != tZMMK {
		return false
	}
	switch t {
	case tR8, tRM8:
		return r.Mask() == regalloc.MaskGP8 || r.Mask() == regalloc.MaskGP8High
	case tCL:
		return r.Mask() == regalloc.MaskGP8 && (r.IsVirtual() || r.Physical() == 1)
	case tXMM0:
		return r.Mask() == regalloc.MaskXMM && (r.IsVirtual() || r.Physical() == 0)
	}
	m := t.regMask()
	if m == 0 || r.Mask() != m {
		return false
	}
	// Legacy and VEX encodings only reach the first 16 vector registers.
	if !r.IsVirtual() && r.Physical() >= 16 && t != tZMM && t != tZMMK && t != tZMMM512 {
		return false
	}
	return true
}

// match returns true if the operand o can be passed in position i of form f.
func (f *form) match(i int, o Operand) bool {
	t := f.ops[i]
	switch o.kind {
	case OperandKindReg:
		return !t.memOnly() && t.matchRegister(o)
	case OperandKindMem:
		size, ok := t.memSize()
		if !ok {
			return false
		}
		if o.mem.Size == 0 {
			return t == tM || f.impliesSize(i, size)
		}
		return t == tM || o.mem.Size == size
	case OperandKindImm:
		v := o.imm
		switch t {
		case tImm8:
			return fitsInt(v, 1) || fitsUint(v, 1)
		case tImm16:
			return fitsInt(v, 2) || fitsUint(v, 2)
		case tImm32:
			return fitsInt(v, 4) || fitsUint(v, 4)
		case tImm32s:
			return fitsInt(v, 4)
		case tImm64:
			return true
		}
	case OperandKindLabel:
		return t == tLabel
	}
	return false
}

// impliesSize returns true if the size of an unsized memory operand in position i is implied by
// another register operand of the form.
func (f *form) impliesSize(i int, size int) bool {
	t := f.ops[i]
	for j, o := range f.ops {
		if j == i {
			continue
		}
		if rs, ok := o.regSize(); ok && (rs == size || t.memOnly()) {
			return true
		}
	}
	return false
}

// access describes how an instruction accesses a register operand.
type access byte

const (
	aR access = 1 << iota
	aW

	aNone access = 0
	aRW          = aR | aW
)

// form is one operand signature of a mnemonic with its candidate encodings.
type form struct {
	ops       []opType
	access    []access
	encodings []Encoding
	// cancelling forms have no input dependency when both source operands are the same register.
	cancelling bool
	mode       regalloc.Mode
	// implicitOut are registers written without being operands.
	implicitOut []Reg
}

func (f *form) matches(operands []Operand) bool {
	if len(operands) != len(f.ops) {
		return false
	}
	for i, o := range operands {
		if !f.match(i, o) {
			return false
		}
	}
	return true
}

// cancelOperands returns the positions of the operands compared by a cancelling form.
func (f *form) cancelOperands() (int, int) {
	if len(f.ops) == 3 {
		return 1, 2
	}
	return 0, 1
}

// inferMode returns the instruction set mode of the form from its encodings and operands.
func (f *form) inferMode() regalloc.Mode {
	for _, e := range f.encodings {
		if e.kind != encLegacy {
			return regalloc.ModeAVX
		}
	}
	for _, t := range f.ops {
		if t.isVector() {
			return regalloc.ModeSSE
		}
	}
	return regalloc.ModeNone
}
