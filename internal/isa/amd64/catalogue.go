package amd64

import "github.com/peachjit/peachjit/internal/regalloc"

// Op is an instruction mnemonic or a pseudo-instruction.
type Op uint16

const (
	OpInvalid Op = iota

	// PseudoLabel defines the label given as its only operand.
	PseudoLabel
	// PseudoLoadArgument loads the argument given as its immediate operand into a register.
	PseudoLoadArgument
	// PseudoStoreResult stores its operand as the function result.
	PseudoStoreResult
	// PseudoReturn stores the optional operand as the result and returns.
	PseudoReturn
	// PseudoAlign pads the code to the alignment given as its immediate operand.
	PseudoAlign

	ADD
	OR
	ADC
	SBB
	AND
	SUB
	XOR
	CMP
	MOV
	MOVZX
	MOVSX
	MOVSXD
	LEA
	TEST
	INC
	DEC
	NOT
	NEG
	IMUL
	ROL
	ROR
	SHL
	SAL
	SHR
	SAR
	PUSH
	POP
	RET
	INT3
	HLT
	UD2
	NOP
	JMP
	JO
	JNO
	JB
	JAE
	JE
	JNE
	JBE
	JA
	JS
	JNS
	JP
	JNP
	JL
	JGE
	JLE
	JG

	MOVAPS
	MOVUPS
	MOVAPD
	MOVDQA
	MOVDQU
	MOVSS
	MOVSD
	ADDPS
	ADDPD
	SUBPS
	MULPS
	ANDPS
	ANDNPS
	XORPS
	XORPD
	PXOR
	PADDD
	PCMPEQD
	BLENDVPS
	BLENDVPD
	PBLENDVB

	VMOVAPS
	VMOVUPS
	VADDPS
	VSUBPS
	VMULPS
	VXORPS
	VPXOR
	VZEROUPPER
	VZEROALL

	MOVQ
	EMMS
	KMOVW

	numOps
)

var opNames = [numOps]string{
	OpInvalid:          "INVALID",
	PseudoLabel:        "LABEL",
	PseudoLoadArgument: "LOAD.ARGUMENT",
	PseudoStoreResult:  "STORE.RESULT",
	PseudoReturn:       "RETURN",
	PseudoAlign:        "ALIGN",
	ADD:                "ADD",
	OR:                 "OR",
	ADC:                "ADC",
	SBB:                "SBB",
	AND:                "AND",
	SUB:                "SUB",
	XOR:                "XOR",
	CMP:                "CMP",
	MOV:                "MOV",
	MOVZX:              "MOVZX",
	MOVSX:              "MOVSX",
	MOVSXD:             "MOVSXD",
	LEA:                "LEA",
	TEST:               "TEST",
	INC:                "INC",
	DEC:                "DEC",
	NOT:                "NOT",
	NEG:                "NEG",
	IMUL:               "IMUL",
	ROL:                "ROL",
	ROR:                "ROR",
	SHL:                "SHL",
	SAL:                "SAL",
	SHR:                "SHR",
	SAR:                "SAR",
	PUSH:               "PUSH",
	POP:                "POP",
	RET:                "RET",
	INT3:               "INT3",
	HLT:                "HLT",
	UD2:                "UD2",
	NOP:                "NOP",
	JMP:                "JMP",
	JO:                 "JO",
	JNO:                "JNO",
	JB:                 "JB",
	JAE:                "JAE",
	JE:                 "JE",
	JNE:                "JNE",
	JBE:                "JBE",
	JA:                 "JA",
	JS:                 "JS",
	JNS:                "JNS",
	JP:                 "JP",
	JNP:                "JNP",
	JL:                 "JL",
	JGE:                "JGE",
	JLE:                "JLE",
	JG:                 "JG",
	MOVAPS:             "MOVAPS",
	MOVUPS:             "MOVUPS",
	MOVAPD:             "MOVAPD",
	MOVDQA:             "MOVDQA",
	MOVDQU:             "MOVDQU",
	MOVSS:              "MOVSS",
	MOVSD:              "MOVSD",
	ADDPS:              "ADDPS",
	ADDPD:              "ADDPD",
	SUBPS:              "SUBPS",
	MULPS:              "MULPS",
	ANDPS:              "ANDPS",
	ANDNPS:             "ANDNPS",
	XORPS:              "XORPS",
	XORPD:              "XORPD",
	PXOR:               "PXOR",
	PADDD:              "PADDD",
	PCMPEQD:            "PCMPEQD",
	BLENDVPS:           "BLENDVPS",
	BLENDVPD:           "BLENDVPD",
	PBLENDVB:           "PBLENDVB",
	VMOVAPS:            "VMOVAPS",
	VMOVUPS:            "VMOVUPS",
	VADDPS:             "VADDPS",
	VSUBPS:             "VSUBPS",
	VMULPS:             "VMULPS",
	VXORPS:             "VXORPS",
	VPXOR:              "VPXOR",
	VZEROUPPER:         "VZEROUPPER",
	VZEROALL:           "VZEROALL",
	MOVQ:               "MOVQ",
	EMMS:               "EMMS",
	KMOVW:              "KMOVW",
}

// String implements fmt.Stringer.
func (o Op) String() string {
	if o < numOps && opNames[o] != "" {
		return opNames[o]
	}
	return "INVALID"
}

// IsPseudo returns true for pseudo-instructions, which are lowered or removed before encoding.
func (o Op) IsPseudo() bool {
	return o >= PseudoLabel && o <= PseudoAlign
}

// LookupOp returns the Op with the given mnemonic.
func LookupOp(name string) (Op, bool) {
	for i, n := range opNames {
		if n == name && Op(i) != OpInvalid {
			return Op(i), true
		}
	}
	return OpInvalid, false
}

// conditionCodes maps the conditional jumps to their condition code.
var conditionCodes = map[Op]byte{
	JO: 0x0, JNO: 0x1, JB: 0x2, JAE: 0x3, JE: 0x4, JNE: 0x5, JBE: 0x6, JA: 0x7,
	JS: 0x8, JNS: 0x9, JP: 0xA, JNP: 0xB, JL: 0xC, JGE: 0xD, JLE: 0xE, JG: 0xF,
}

func ops(t ...opType) []opType { return t }

func acc(a ...access) []access { return a }

func fm(ops []opType, access []access, encodings ...Encoding) form {
	return form{ops: ops, access: access, encodings: encodings}
}

func cancelling(forms []form) []form {
	for i := range forms {
		forms[i].cancelling = true
	}
	return forms
}

var forms [numOps][]form

func init() {
	for op, f := range map[Op][]form{
		ADD: alu(0x00, 0, aRW),
		OR:  alu(0x08, 1, aRW),
		ADC: alu(0x10, 2, aRW),
		SBB: cancellingRegisterForms(alu(0x18, 3, aRW)),
		AND: alu(0x20, 4, aRW),
		SUB: cancellingRegisterForms(alu(0x28, 5, aRW)),
		XOR: cancellingRegisterForms(alu(0x30, 6, aRW)),
		CMP: alu(0x38, 7, aR),

		MOV:    movForms(),
		MOVZX:  extendForms(0xB6, 0xB7),
		MOVSX:  extendForms(0xBE, 0xBF),
		MOVSXD: {fm(ops(tR64, tRM32), acc(aW, aR), legacy(0x63).withW().modrm(0, 1))},
		LEA: {
			fm(ops(tR16, tM), acc(aW, aNone), legacy(0x8D).withPrefix(0x66).modrm(0, 1)),
			fm(ops(tR32, tM), acc(aW, aNone), legacy(0x8D).modrm(0, 1)),
			fm(ops(tR64, tM), acc(aW, aNone), legacy(0x8D).withW().modrm(0, 1)),
		},
		TEST: testForms(),
		INC:  unary(0xFE, 0xFF, 0),
		DEC:  unary(0xFE, 0xFF, 1),
		NOT:  unary(0xF6, 0xF7, 2),
		NEG:  unary(0xF6, 0xF7, 3),
		IMUL: imulForms(),
		ROL:  shift(0),
		ROR:  shift(1),
		SHL:  shift(4),
		SAL:  shift(4),
		SHR:  shift(5),
		SAR:  shift(7),
		PUSH: {
			fm(ops(tR64), acc(aR), legacy(0x50).withOpReg(0), legacy(0xFF).modrmExt(6, 0)),
			fm(ops(tRM64), acc(aR), legacy(0xFF).modrmExt(6, 0)),
		},
		POP: {
			fm(ops(tR64), acc(aW), legacy(0x58).withOpReg(0), legacy(0x8F).modrmExt(0, 0)),
			fm(ops(tRM64), acc(aW), legacy(0x8F).modrmExt(0, 0)),
		},
		RET:  {fm(nil, nil, legacy(0xC3))},
		INT3: {fm(nil, nil, legacy(0xCC))},
		HLT:  {fm(nil, nil, legacy(0xF4))},
		UD2:  {fm(nil, nil, legacy(0x0F, 0x0B))},
		NOP:  {fm(nil, nil, legacy(0x90))},
		JMP: {
			fm(ops(tLabel), acc(aNone), legacy(0xEB).withRel(0, 1), legacy(0xE9).withRel(0, 4)),
			fm(ops(tRM64), acc(aR), legacy(0xFF).modrmExt(4, 0)),
		},

		MOVAPS: sseMove(0, 0x28, 0x29),
		MOVUPS: sseMove(0, 0x10, 0x11),
		MOVAPD: sseMove(0x66, 0x28, 0x29),
		MOVDQA: sseMove(0x66, 0x6F, 0x7F),
		MOVDQU: sseMove(0xF3, 0x6F, 0x7F),
		MOVSS:  scalarMove(0xF3, tM32),
		MOVSD:  scalarMove(0xF2, tM64),

		ADDPS:    sse(0, 0x58),
		ADDPD:    sse(0x66, 0x58),
		SUBPS:    sse(0, 0x5C),
		MULPS:    sse(0, 0x59),
		ANDPS:    sse(0, 0x54),
		ANDNPS:   sse(0, 0x55),
		XORPS:    cancelling(sse(0, 0x57)),
		XORPD:    cancelling(sse(0x66, 0x57)),
		PXOR:     cancelling(sse(0x66, 0xEF)),
		PCMPEQD:  cancelling(sse(0x66, 0x76)),
		PADDD:    append(sse(0x66, 0xFE), fm(ops(tMM, tMMM64), acc(aRW, aR), legacy(0x0F, 0xFE).modrm(0, 1))),
		BLENDVPS: blendv(0x14),
		BLENDVPD: blendv(0x15),
		PBLENDVB: blendv(0x10),

		VMOVAPS:    avxMove(0x28, 0x29),
		VMOVUPS:    avxMove(0x10, 0x11),
		VADDPS:     append(avx(0, 0x58), avx512(0x58)),
		VSUBPS:     append(avx(0, 0x5C), avx512(0x5C)),
		VMULPS:     append(avx(0, 0x59), avx512(0x59)),
		VXORPS:     cancelling(avx(0, 0x57)),
		VPXOR:      cancelling(avx(1, 0xEF)),
		VZEROUPPER: {{encodings: []Encoding{vexEnc(1, 0, 0, 0, 0x77)}, mode: regalloc.ModeReset}},
		VZEROALL: {{
			encodings:   []Encoding{vexEnc(1, 0, 1, 0, 0x77)},
			mode:        regalloc.ModeReset,
			implicitOut: allYMM(),
		}},

		MOVQ: {
			fm(ops(tMM, tMMM64), acc(aW, aR), legacy(0x0F, 0x6F).modrm(0, 1)),
			fm(ops(tM64, tMM), acc(aW, aR), legacy(0x0F, 0x7F).modrm(1, 0)),
		},
		EMMS:  {fm(nil, nil, legacy(0x0F, 0x77))},
		KMOVW: {fm(ops(tK, tKM16), acc(aW, aR), vexEnc(1, 0, 0, 0, 0x90).modrm(0, 1))},
	} {
		forms[op] = f
	}
	for op, cc := range conditionCodes {
		forms[op] = []form{fm(ops(tLabel), acc(aNone), legacy(0x70+cc).withRel(0, 1), legacy(0x0F, 0x80+cc).withRel(0, 4))}
	}
	for op := range forms {
		for i := range forms[op] {
			if f := &forms[op][i]; f.mode == regalloc.ModeNone {
				f.mode = f.inferMode()
			}
		}
	}
}

func alu(base, ext byte, dst access) []form {
	return []form{
		fm(ops(tRM8, tImm8), acc(dst, aR),
			legacy(base+4).withImm(1, 1).withFlags(FlagAccumulatorOp0),
			legacy(0x80).modrmExt(int8(ext), 0).withImm(1, 1)),
		fm(ops(tRM16, tImm16), acc(dst, aR),
			legacy(0x83).withPrefix(0x66).modrmExt(int8(ext), 0).withSextImm(1, 1),
			legacy(base+5).withPrefix(0x66).withImm(1, 2).withFlags(FlagAccumulatorOp0),
			legacy(0x81).withPrefix(0x66).modrmExt(int8(ext), 0).withImm(1, 2)),
		fm(ops(tRM32, tImm32), acc(dst, aR),
			legacy(0x83).modrmExt(int8(ext), 0).withSextImm(1, 1),
			legacy(base+5).withImm(1, 4).withFlags(FlagAccumulatorOp0),
			legacy(0x81).modrmExt(int8(ext), 0).withImm(1, 4)),
		fm(ops(tRM64, tImm32s), acc(dst, aR),
			legacy(0x83).withW().modrmExt(int8(ext), 0).withSextImm(1, 1),
			legacy(base+5).withW().withSextImm(1, 4).withFlags(FlagAccumulatorOp0),
			legacy(0x81).withW().modrmExt(int8(ext), 0).withSextImm(1, 4)),
		fm(ops(tRM8, tR8), acc(dst, aR), legacy(base).modrm(1, 0)),
		fm(ops(tRM16, tR16), acc(dst, aR), legacy(base+1).withPrefix(0x66).modrm(1, 0)),
		fm(ops(tRM32, tR32), acc(dst, aR), legacy(base+1).modrm(1, 0)),
		fm(ops(tRM64, tR64), acc(dst, aR), legacy(base+1).withW().modrm(1, 0)),
		fm(ops(tR8, tRM8), acc(dst, aR), legacy(base+2).modrm(0, 1)),
		fm(ops(tR16, tRM16), acc(dst, aR), legacy(base+3).withPrefix(0x66).modrm(0, 1)),
		fm(ops(tR32, tRM32), acc(dst, aR), legacy(base+3).modrm(0, 1)),
		fm(ops(tR64, tRM64), acc(dst, aR), legacy(base+3).withW().modrm(0, 1)),
	}
}

// cancellingRegisterForms marks the register-register forms of an ALU mnemonic as cancelling.
func cancellingRegisterForms(forms []form) []form {
	for i := range forms {
		if _, isReg := forms[i].ops[1].regSize(); isReg {
			forms[i].cancelling = true
		}
	}
	return forms
}

func movForms() []form {
	return []form{
		fm(ops(tRM8, tR8), acc(aW, aR), legacy(0x88).modrm(1, 0)),
		fm(ops(tRM16, tR16), acc(aW, aR), legacy(0x89).withPrefix(0x66).modrm(1, 0)),
		fm(ops(tRM32, tR32), acc(aW, aR), legacy(0x89).modrm(1, 0)),
		fm(ops(tRM64, tR64), acc(aW, aR), legacy(0x89).withW().modrm(1, 0)),
		fm(ops(tR8, tRM8), acc(aW, aR), legacy(0x8A).modrm(0, 1)),
		fm(ops(tR16, tRM16), acc(aW, aR), legacy(0x8B).withPrefix(0x66).modrm(0, 1)),
		fm(ops(tR32, tRM32), acc(aW, aR), legacy(0x8B).modrm(0, 1)),
		fm(ops(tR64, tRM64), acc(aW, aR), legacy(0x8B).withW().modrm(0, 1)),
		fm(ops(tR8, tImm8), acc(aW, aR),
			legacy(0xB0).withOpReg(0).withImm(1, 1),
			legacy(0xC6).modrmExt(0, 0).withImm(1, 1)),
		fm(ops(tRM8, tImm8), acc(aW, aR), legacy(0xC6).modrmExt(0, 0).withImm(1, 1)),
		fm(ops(tR16, tImm16), acc(aW, aR),
			legacy(0xB8).withPrefix(0x66).withOpReg(0).withImm(1, 2),
			legacy(0xC7).withPrefix(0x66).modrmExt(0, 0).withImm(1, 2)),
		fm(ops(tRM16, tImm16), acc(aW, aR), legacy(0xC7).withPrefix(0x66).modrmExt(0, 0).withImm(1, 2)),
		fm(ops(tR32, tImm32), acc(aW, aR),
			legacy(0xB8).withOpReg(0).withImm(1, 4),
			legacy(0xC7).modrmExt(0, 0).withImm(1, 4)),
		fm(ops(tRM32, tImm32), acc(aW, aR), legacy(0xC7).modrmExt(0, 0).withImm(1, 4)),
		fm(ops(tR64, tImm64), acc(aW, aR),
			legacy(0xC7).withW().modrmExt(0, 0).withSextImm(1, 4),
			legacy(0xB8).withW().withOpReg(0).withImm(1, 8)),
		fm(ops(tRM64, tImm32s), acc(aW, aR), legacy(0xC7).withW().modrmExt(0, 0).withSextImm(1, 4)),
	}
}

func extendForms(from8, from16 byte) []form {
	return []form{
		fm(ops(tR16, tRM8), acc(aW, aR), legacy(0x0F, from8).withPrefix(0x66).modrm(0, 1)),
		fm(ops(tR32, tRM8), acc(aW, aR), legacy(0x0F, from8).modrm(0, 1)),
		fm(ops(tR64, tRM8), acc(aW, aR), legacy(0x0F, from8).withW().modrm(0, 1)),
		fm(ops(tR32, tRM16), acc(aW, aR), legacy(0x0F, from16).modrm(0, 1)),
		fm(ops(tR64, tRM16), acc(aW, aR), legacy(0x0F, from16).withW().modrm(0, 1)),
	}
}

func testForms() []form {
	return []form{
		fm(ops(tRM8, tImm8), acc(aR, aR),
			legacy(0xA8).withImm(1, 1).withFlags(FlagAccumulatorOp0),
			legacy(0xF6).modrmExt(0, 0).withImm(1, 1)),
		fm(ops(tRM16, tImm16), acc(aR, aR),
			legacy(0xA9).withPrefix(0x66).withImm(1, 2).withFlags(FlagAccumulatorOp0),
			legacy(0xF7).withPrefix(0x66).modrmExt(0, 0).withImm(1, 2)),
		fm(ops(tRM32, tImm32), acc(aR, aR),
			legacy(0xA9).withImm(1, 4).withFlags(FlagAccumulatorOp0),
			legacy(0xF7).modrmExt(0, 0).withImm(1, 4)),
		fm(ops(tRM64, tImm32s), acc(aR, aR),
			legacy(0xA9).withW().withSextImm(1, 4).withFlags(FlagAccumulatorOp0),
			legacy(0xF7).withW().modrmExt(0, 0).withSextImm(1, 4)),
		fm(ops(tRM8, tR8), acc(aR, aR), legacy(0x84).modrm(1, 0)),
		fm(ops(tRM16, tR16), acc(aR, aR), legacy(0x85).withPrefix(0x66).modrm(1, 0)),
		fm(ops(tRM32, tR32), acc(aR, aR), legacy(0x85).modrm(1, 0)),
		fm(ops(tRM64, tR64), acc(aR, aR), legacy(0x85).withW().modrm(1, 0)),
	}
}

func unary(op8, op byte, ext int8) []form {
	return []form{
		fm(ops(tRM8), acc(aRW), legacy(op8).modrmExt(ext, 0)),
		fm(ops(tRM16), acc(aRW), legacy(op).withPrefix(0x66).modrmExt(ext, 0)),
		fm(ops(tRM32), acc(aRW), legacy(op).modrmExt(ext, 0)),
		fm(ops(tRM64), acc(aRW), legacy(op).withW().modrmExt(ext, 0)),
	}
}

func imulForms() []form {
	return []form{
		fm(ops(tR16, tRM16), acc(aRW, aR), legacy(0x0F, 0xAF).withPrefix(0x66).modrm(0, 1)),
		fm(ops(tR32, tRM32), acc(aRW, aR), legacy(0x0F, 0xAF).modrm(0, 1)),
		fm(ops(tR64, tRM64), acc(aRW, aR), legacy(0x0F, 0xAF).withW().modrm(0, 1)),
		fm(ops(tR16, tRM16, tImm16), acc(aW, aR, aR),
			legacy(0x6B).withPrefix(0x66).modrm(0, 1).withSextImm(2, 1),
			legacy(0x69).withPrefix(0x66).modrm(0, 1).withImm(2, 2)),
		fm(ops(tR32, tRM32, tImm32), acc(aW, aR, aR),
			legacy(0x6B).modrm(0, 1).withSextImm(2, 1),
			legacy(0x69).modrm(0, 1).withImm(2, 4)),
		fm(ops(tR64, tRM64, tImm32s), acc(aW, aR, aR),
			legacy(0x6B).withW().modrm(0, 1).withSextImm(2, 1),
			legacy(0x69).withW().modrm(0, 1).withSextImm(2, 4)),
	}
}

func shift(ext int8) []form {
	return []form{
		fm(ops(tRM8, tImm8), acc(aRW, aR),
			legacy(0xD0).modrmExt(ext, 0).withImmOne(1),
			legacy(0xC0).modrmExt(ext, 0).withImm(1, 1)),
		fm(ops(tRM16, tImm8), acc(aRW, aR),
			legacy(0xD1).withPrefix(0x66).modrmExt(ext, 0).withImmOne(1),
			legacy(0xC1).withPrefix(0x66).modrmExt(ext, 0).withImm(1, 1)),
		fm(ops(tRM32, tImm8), acc(aRW, aR),
			legacy(0xD1).modrmExt(ext, 0).withImmOne(1),
			legacy(0xC1).modrmExt(ext, 0).withImm(1, 1)),
		fm(ops(tRM64, tImm8), acc(aRW, aR),
			legacy(0xD1).withW().modrmExt(ext, 0).withImmOne(1),
			legacy(0xC1).withW().modrmExt(ext, 0).withImm(1, 1)),
		fm(ops(tRM8, tCL), acc(aRW, aR), legacy(0xD2).modrmExt(ext, 0)),
		fm(ops(tRM16, tCL), acc(aRW, aR), legacy(0xD3).withPrefix(0x66).modrmExt(ext, 0)),
		fm(ops(tRM32, tCL), acc(aRW, aR), legacy(0xD3).modrmExt(ext, 0)),
		fm(ops(tRM64, tCL), acc(aRW, aR), legacy(0xD3).withW().modrmExt(ext, 0)),
	}
}

func sseMove(prefix, load, store byte) []form {
	return []form{
		fm(ops(tXMM, tXMMM128), acc(aW, aR), legacy(0x0F, load).withPrefix(prefix).modrm(0, 1)),
		fm(ops(tM128, tXMM), acc(aW, aR), legacy(0x0F, store).withPrefix(prefix).modrm(1, 0)),
	}
}

// scalarMove returns the forms of MOVSS and MOVSD. The register form merges into the destination.
func scalarMove(prefix byte, m opType) []form {
	return []form{
		fm(ops(tXMM, tXMM), acc(aRW, aR), legacy(0x0F, 0x10).withPrefix(prefix).modrm(0, 1)),
		fm(ops(tXMM, m), acc(aW, aR), legacy(0x0F, 0x10).withPrefix(prefix).modrm(0, 1)),
		fm(ops(m, tXMM), acc(aW, aR), legacy(0x0F, 0x11).withPrefix(prefix).modrm(1, 0)),
	}
}

func sse(prefix byte, opcode ...byte) []form {
	return []form{
		fm(ops(tXMM, tXMMM128), acc(aRW, aR), legacy(append([]byte{0x0F}, opcode...)...).withPrefix(prefix).modrm(0, 1)),
	}
}

func blendv(opcode byte) []form {
	return []form{
		fm(ops(tXMM, tXMMM128, tXMM0), acc(aRW, aR, aR), legacy(0x0F, 0x38, opcode).withPrefix(0x66).modrm(0, 1)),
	}
}

func avxMove(load, store byte) []form {
	return []form{
		fm(ops(tXMM, tXMMM128), acc(aW, aR), vexEnc(1, 0, 0, 0, load).modrm(0, 1)),
		fm(ops(tM128, tXMM), acc(aW, aR), vexEnc(1, 0, 0, 0, store).modrm(1, 0)),
		fm(ops(tYMM, tYMMM256), acc(aW, aR), vexEnc(1, 0, 1, 0, load).modrm(0, 1)),
		fm(ops(tM256, tYMM), acc(aW, aR), vexEnc(1, 0, 1, 0, store).modrm(1, 0)),
	}
}

func avx(pp, opcode byte) []form {
	return []form{
		fm(ops(tXMM, tXMM, tXMMM128), acc(aW, aR, aR), vexEnc(1, pp, 0, 0, opcode).modrm(0, 2).withVVVV(1)),
		fm(ops(tYMM, tYMM, tYMMM256), acc(aW, aR, aR), vexEnc(1, pp, 1, 0, opcode).modrm(0, 2).withVVVV(1)),
	}
}

func avx512(opcode byte) form {
	return fm(ops(tZMMK, tZMM, tZMMM512), acc(aW, aR, aR),
		evexEnc(1, 0, 2, 0, opcode, 64).modrm(0, 2).withVVVV(1).withOpmask(0))
}

func allYMM() []Reg {
	ret := make([]Reg, 16)
	for i := range ret {
		ret[i] = YMMn(uint8(i))
	}
	return ret
}
