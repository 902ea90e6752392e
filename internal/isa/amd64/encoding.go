package amd64

import (
	"encoding/binary"
	"fmt"
)

// EncodingFlags describe the properties of one candidate encoding of an instruction form.
type EncodingFlags uint16

const (
	// FlagAccumulatorOp0 encodings only apply when operand 0 is the accumulator (al, ax, eax or rax).
	FlagAccumulatorOp0 EncodingFlags = 1 << iota
	// FlagRel8Label encodings reach the target label with an 8-bit displacement.
	FlagRel8Label
	// FlagRel32Label encodings reach the target label with a 32-bit displacement.
	FlagRel32Label
	// FlagModRMSIBDisp encodings address a memory operand and can use alternative ModRM forms.
	FlagModRMSIBDisp
	// FlagOptionalREX encodings can carry a redundant REX prefix.
	FlagOptionalREX
	// FlagVEX2 encodings can use either the 2-byte or the 3-byte VEX prefix.
	FlagVEX2
	// FlagImmOne encodings only apply when the immediate operand is 1, which they do not encode.
	FlagImmOne
)

type encodingKind byte

const (
	encLegacy encodingKind = iota
	encVEX
	encEVEX
)

// Encoding is one candidate machine encoding of an instruction form. Operand positions refer to
// the instruction operands, -1 meaning unused.
type Encoding struct {
	Flags EncodingFlags

	kind   encodingKind
	// prefix is the mandatory or operand-size prefix of legacy encodings.
	prefix byte
	w      byte
	opcode []byte

	// mmmmm, l and pp are the opcode map, vector length and implied prefix of VEX and EVEX encodings.
	mmmmm, l, pp byte

	// reg, rm and vvvv are the operands encoded in ModRM.reg, ModRM.rm and VEX.vvvv.
	reg, rm, vvvv int8

	// opreg is the operand added to the last opcode byte.
	opreg int8
	// ext is the opcode extension in ModRM.reg.
	ext   int8

	// imm is the immediate operand encoded in immSize bytes, sign-extended to the operation size if immSext.
	imm     int8
	immSize int8
	immSext bool
	opmask  int8
	disp8N  int32
	rel     int8
	relSize int8
}

func newEncoding(kind encodingKind, opcode ...byte) Encoding {
	return Encoding{kind: kind, opcode: opcode, reg: -1, rm: -1, vvvv: -1, opreg: -1, ext: -1, imm: -1, opmask: -1, rel: -1}
}

func legacy(opcode ...byte) Encoding {
	return newEncoding(encLegacy, opcode...).withFlags(FlagOptionalREX)
}

func vexEnc(mmmmm, pp, l, w byte, opcode byte) Encoding {
	e := newEncoding(encVEX, opcode)
	e.mmmmm, e.pp, e.l, e.w = mmmmm, pp, l, w
	if mmmmm == 0b00001 && w == 0 {
		e.Flags |= FlagVEX2
	}
	return e
}

func evexEnc(mm, pp, ll, w byte, opcode byte, disp8N int32) Encoding {
	e := newEncoding(encEVEX, opcode)
	e.mmmmm, e.pp, e.l, e.w, e.disp8N = mm, pp, ll, w, disp8N
	return e
}

func (e Encoding) withPrefix(p byte) Encoding {
	e.prefix = p
	return e
}

// withW sets REX.W. It makes the REX prefix mandatory.
func (e Encoding) withW() Encoding {
	e.w = 1
	e.Flags &^= FlagOptionalREX
	return e
}

func (e Encoding) modrm(reg, rm int8) Encoding {
	e.reg, e.rm = reg, rm
	e.Flags |= FlagModRMSIBDisp
	return e
}

func (e Encoding) modrmExt(ext, rm int8) Encoding {
	e.ext, e.rm = ext, rm
	e.Flags |= FlagModRMSIBDisp
	return e
}

func (e Encoding) withVVVV(i int8) Encoding {
	e.vvvv = i
	return e
}

func (e Encoding) withOpReg(i int8) Encoding {
	e.opreg = i
	return e
}

func (e Encoding) withImm(i, size int8) Encoding {
	e.imm, e.immSize = i, size
	return e
}

func (e Encoding) withSextImm(i, size int8) Encoding {
	e.imm, e.immSize, e.immSext = i, size, true
	return e
}

func (e Encoding) withImmOne(i int8) Encoding {
	e.imm = i
	e.Flags |= FlagImmOne
	return e
}

func (e Encoding) withOpmask(i int8) Encoding {
	e.opmask = i
	return e
}

func (e Encoding) withRel(i, size int8) Encoding {
	e.rel, e.relSize = i, size
	if size == 1 {
		e.Flags |= FlagRel8Label
	} else {
		e.Flags |= FlagRel32Label
	}
	return e
}

func (e Encoding) withFlags(f EncodingFlags) Encoding {
	e.Flags |= f
	return e
}

// EncodeOptions select among the equivalent encodings of one candidate.
type EncodeOptions struct {
	// ForceSIB uses a SIB byte even when the address does not need one.
	ForceSIB bool
	// MinDisp forces a displacement of at least 1 or 4 bytes.
	MinDisp int
	// ForceREX emits a REX prefix even when no bit is set.
	ForceREX bool
	// ForceVEX3 uses the 3-byte VEX prefix even when the 2-byte one would do.
	ForceVEX3 bool
}

func fitsInt(v int64, size int8) bool {
	switch size {
	case 1:
		return v >= -1<<7 && v < 1<<7
	case 2:
		return v >= -1<<15 && v < 1<<15
	case 4:
		return v >= -1<<31 && v < 1<<31
	default:
		return true
	}
}

func fitsUint(v int64, size int8) bool {
	switch size {
	case 1:
		return v >= 0 && v < 1<<8
	case 2:
		return v >= 0 && v < 1<<16
	case 4:
		return v >= 0 && v < 1<<32
	default:
		return true
	}
}

// applicable returns true if the encoding can encode the given operands, regardless of registers.
func (e *Encoding) applicable(ops []Operand) bool {
	if e.Flags&FlagAccumulatorOp0 != 0 {
		r := ops[0].reg
		if ops[0].kind != OperandKindReg || r.IsVirtual() || r.Physical() != 0 || isHighByte(r) {
			return false
		}
	}
	if e.imm >= 0 {
		v := ops[e.imm].imm
		switch {
		case e.Flags&FlagImmOne != 0:
			if v != 1 {
				return false
			}
		case e.immSext:
			if !fitsInt(v, e.immSize) {
				return false
			}
		default:
			if !fitsInt(v, e.immSize) && !fitsUint(v, e.immSize) {
				return false
			}
		}
	}
	return true
}

// encode returns the bytes of the encoding for the given physical operands. For branch encodings
// rel is the displacement from the end of the instruction. It returns false if the operands cannot
// be encoded this way, e.g. when a high byte register would need a REX prefix.
func (e *Encoding) encode(ops []Operand, opts EncodeOptions, rel int32) ([]byte, bool) {
	if !e.applicable(ops) {
		return nil, false
	}
	for _, op := range ops {
		for _, r := range op.registers() {
			if r.IsVirtual() {
				panic(fmt.Sprintf("BUG: virtual register %s reached the encoder", RegName(r)))
			}
		}
	}
	switch e.kind {
	case encLegacy:
		return e.encodeLegacy(ops, opts, rel)
	case encVEX:
		return e.encodeVEX(ops, opts)
	default:
		return e.encodeEVEX(ops, opts)
	}
}

// extensionBits returns the REX.X and REX.B bits of the rm operand.
func (e *Encoding) extensionBits(ops []Operand) (x, b byte) {
	if e.rm >= 0 {
		switch op := ops[e.rm]; op.kind {
		case OperandKindReg:
			b = hcode(op.reg)
		case OperandKindMem:
			if op.mem.Index.Valid() {
				x = hcode(op.mem.Index)
			}
			if op.mem.Base.Valid() {
				b = hcode(op.mem.Base)
			}
		}
	}
	if e.opreg >= 0 {
		b = hcode(ops[e.opreg].reg)
	}
	return
}

func (e *Encoding) regField(ops []Operand) (field, r byte) {
	if e.reg >= 0 {
		return lcode(ops[e.reg].reg), hcode(ops[e.reg].reg)
	}
	if e.ext >= 0 {
		return byte(e.ext), 0
	}
	return 0, 0
}

func (e *Encoding) appendModRMAndImm(out []byte, ops []Operand, opts EncodeOptions, field byte) []byte {
	if e.rm >= 0 {
		switch op := ops[e.rm]; op.kind {
		case OperandKindReg:
			out = append(out, encodeModRM(0b11, field, lcode(op.reg)))
		case OperandKindMem:
			out = append(out, modrmSIBDisp(field, op.mem, opts.ForceSIB, opts.MinDisp, e.disp8N)...)
		}
	}
	if e.imm >= 0 && e.Flags&FlagImmOne == 0 {
		v := ops[e.imm].imm
		switch e.immSize {
		case 1:
			out = append(out, byte(v))
		case 2:
			out = binary.LittleEndian.AppendUint16(out, uint16(v))
		case 4:
			out = binary.LittleEndian.AppendUint32(out, uint32(v))
		case 8:
			out = binary.LittleEndian.AppendUint64(out, uint64(v))
		}
	}
	return out
}

func (e *Encoding) encodeLegacy(ops []Operand, opts EncodeOptions, rel int32) ([]byte, bool) {
	var needREX, highByte bool
	for _, op := range ops {
		if op.kind != OperandKindReg {
			continue
		}
		if ecode(op.reg) != 0 || op.opmask.Valid() {
			return nil, false
		}
		needREX = needREX || requiresREX(op.reg)
		highByte = highByte || isHighByte(op.reg)
	}

	field, r := e.regField(ops)
	x, b := e.extensionBits(ops)
	needREX = needREX || e.w != 0 || r|x|b != 0
	if needREX && highByte {
		return nil, false
	}

	out := make([]byte, 0, 16)
	if e.prefix != 0 {
		out = append(out, e.prefix)
	}
	if e.w != 0 {
		out = append(out, rex(e.w, r, x, b))
	} else {
		out = append(out, optionalREX(r, x, b, needREX || (opts.ForceREX && !highByte && e.Flags&FlagOptionalREX != 0))...)
	}
	out = append(out, e.opcode...)
	if e.opreg >= 0 {
		out[len(out)-1] += lcode(ops[e.opreg].reg)
	}
	out = e.appendModRMAndImm(out, ops, opts, field)
	switch e.relSize {
	case 1:
		if !lower8willSignExtendTo32(rel) {
			return nil, false
		}
		out = append(out, byte(int8(rel)))
	case 4:
		out = binary.LittleEndian.AppendUint32(out, uint32(rel))
	}
	return out, true
}

func (e *Encoding) vvvvField(ops []Operand) (vvvv, v1 byte) {
	if e.vvvv < 0 {
		return 0, 0
	}
	r := ops[e.vvvv].reg
	return r.Physical() & 0b1111, ecode(r)
}

func (e *Encoding) encodeVEX(ops []Operand, opts EncodeOptions) ([]byte, bool) {
	for _, op := range ops {
		if op.kind == OperandKindReg && (ecode(op.reg) != 0 || op.opmask.Valid() || isHighByte(op.reg)) {
			return nil, false
		}
	}
	field, r := e.regField(ops)
	x, b := e.extensionBits(ops)
	vvvv, _ := e.vvvvField(ops)
	lpp := e.l<<2 | e.pp

	var out []byte
	if e.Flags&FlagVEX2 != 0 {
		out = vex2(lpp, r, x, b, vvvv, opts.ForceVEX3)
	} else {
		out = vex3(0xC4, e.mmmmm, e.w<<7|lpp, r, x, b, vvvv)
	}
	out = append(out, e.opcode...)
	return e.appendModRMAndImm(out, ops, opts, field), true
}

func (e *Encoding) encodeEVEX(ops []Operand, opts EncodeOptions) ([]byte, bool) {
	field, r := e.regField(ops)
	var r1, x, b byte
	if e.reg >= 0 {
		r1 = ecode(ops[e.reg].reg)
	}
	if e.rm >= 0 {
		switch op := ops[e.rm]; op.kind {
		case OperandKindReg:
			b, x = hcode(op.reg), ecode(op.reg)
		case OperandKindMem:
			if op.mem.Index.Valid() {
				x = hcode(op.mem.Index)
			}
			if op.mem.Base.Valid() {
				b = hcode(op.mem.Base)
			}
		}
	}
	vvvv, v1 := e.vvvvField(ops)
	var z, aaa byte
	if e.opmask >= 0 {
		if k, zeroing := ops[e.opmask].Opmask(); k.Valid() {
			aaa = k.Physical()
			if zeroing {
				z = 1
			}
		}
	}
	out := evex(e.mmmmm, e.w<<7|e.pp, z, e.l, 0, aaa, r, x, b, r1, vvvv, v1)
	out = append(out, e.opcode...)
	return e.appendModRMAndImm(out, ops, opts, field), true
}
