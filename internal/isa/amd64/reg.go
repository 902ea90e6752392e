package amd64

import (
	"fmt"

	"github.com/peachjit/peachjit/internal/regalloc"
)

// Reg is a register view. See regalloc.Reg.
type Reg = regalloc.Reg

// RegInvalid is the absent register, e.g. the base of an index-only address.
const RegInvalid = regalloc.RegInvalid

var (
	// 64-bit general-purpose registers.
	RAX = regalloc.FromPhysical(0, regalloc.MaskGP64)
	RCX = regalloc.FromPhysical(1, regalloc.MaskGP64)
	RDX = regalloc.FromPhysical(2, regalloc.MaskGP64)
	RBX = regalloc.FromPhysical(3, regalloc.MaskGP64)
	RSP = regalloc.FromPhysical(4, regalloc.MaskGP64)
	RBP = regalloc.FromPhysical(5, regalloc.MaskGP64)
	RSI = regalloc.FromPhysical(6, regalloc.MaskGP64)
	RDI = regalloc.FromPhysical(7, regalloc.MaskGP64)
	R8  = regalloc.FromPhysical(8, regalloc.MaskGP64)
	R9  = regalloc.FromPhysical(9, regalloc.MaskGP64)
	R10 = regalloc.FromPhysical(10, regalloc.MaskGP64)
	R11 = regalloc.FromPhysical(11, regalloc.MaskGP64)
	R12 = regalloc.FromPhysical(12, regalloc.MaskGP64)
	R13 = regalloc.FromPhysical(13, regalloc.MaskGP64)
	R14 = regalloc.FromPhysical(14, regalloc.MaskGP64)
	R15 = regalloc.FromPhysical(15, regalloc.MaskGP64)

	// 32-bit views, writing them zeroes the upper half.
	EAX  = regalloc.FromPhysical(0, regalloc.MaskGP32)
	ECX  = regalloc.FromPhysical(1, regalloc.MaskGP32)
	EDX  = regalloc.FromPhysical(2, regalloc.MaskGP32)
	EBX  = regalloc.FromPhysical(3, regalloc.MaskGP32)
	ESP  = regalloc.FromPhysical(4, regalloc.MaskGP32)
	EBP  = regalloc.FromPhysical(5, regalloc.MaskGP32)
	ESI  = regalloc.FromPhysical(6, regalloc.MaskGP32)
	EDI  = regalloc.FromPhysical(7, regalloc.MaskGP32)
	R8D  = regalloc.FromPhysical(8, regalloc.MaskGP32)
	R9D  = regalloc.FromPhysical(9, regalloc.MaskGP32)
	R10D = regalloc.FromPhysical(10, regalloc.MaskGP32)
	R11D = regalloc.FromPhysical(11, regalloc.MaskGP32)
	R12D = regalloc.FromPhysical(12, regalloc.MaskGP32)
	R13D = regalloc.FromPhysical(13, regalloc.MaskGP32)
	R14D = regalloc.FromPhysical(14, regalloc.MaskGP32)
	R15D = regalloc.FromPhysical(15, regalloc.MaskGP32)

	// 16-bit views.
	AX   = regalloc.FromPhysical(0, regalloc.MaskGP16)
	CX   = regalloc.FromPhysical(1, regalloc.MaskGP16)
	DX   = regalloc.FromPhysical(2, regalloc.MaskGP16)
	BX   = regalloc.FromPhysical(3, regalloc.MaskGP16)
	SP   = regalloc.FromPhysical(4, regalloc.MaskGP16)
	BP   = regalloc.FromPhysical(5, regalloc.MaskGP16)
	SI   = regalloc.FromPhysical(6, regalloc.MaskGP16)
	DI   = regalloc.FromPhysical(7, regalloc.MaskGP16)
	R8W  = regalloc.FromPhysical(8, regalloc.MaskGP16)
	R9W  = regalloc.FromPhysical(9, regalloc.MaskGP16)
	R10W = regalloc.FromPhysical(10, regalloc.MaskGP16)
	R11W = regalloc.FromPhysical(11, regalloc.MaskGP16)
	R12W = regalloc.FromPhysical(12, regalloc.MaskGP16)
	R13W = regalloc.FromPhysical(13, regalloc.MaskGP16)
	R14W = regalloc.FromPhysical(14, regalloc.MaskGP16)
	R15W = regalloc.FromPhysical(15, regalloc.MaskGP16)

	// Low byte views. SPL, BPL, SIL and DIL are only encodable with a REX prefix.
	AL   = regalloc.FromPhysical(0, regalloc.MaskGP8)
	CL   = regalloc.FromPhysical(1, regalloc.MaskGP8)
	DL   = regalloc.FromPhysical(2, regalloc.MaskGP8)
	BL   = regalloc.FromPhysical(3, regalloc.MaskGP8)
	SPL  = regalloc.FromPhysical(4, regalloc.MaskGP8)
	BPL  = regalloc.FromPhysical(5, regalloc.MaskGP8)
	SIL  = regalloc.FromPhysical(6, regalloc.MaskGP8)
	DIL  = regalloc.FromPhysical(7, regalloc.MaskGP8)
	R8B  = regalloc.FromPhysical(8, regalloc.MaskGP8)
	R9B  = regalloc.FromPhysical(9, regalloc.MaskGP8)
	R10B = regalloc.FromPhysical(10, regalloc.MaskGP8)
	R11B = regalloc.FromPhysical(11, regalloc.MaskGP8)
	R12B = regalloc.FromPhysical(12, regalloc.MaskGP8)
	R13B = regalloc.FromPhysical(13, regalloc.MaskGP8)
	R14B = regalloc.FromPhysical(14, regalloc.MaskGP8)
	R15B = regalloc.FromPhysical(15, regalloc.MaskGP8)

	// High byte views. They are not encodable with a REX prefix.
	AH = regalloc.FromPhysical(0, regalloc.MaskGP8High)
	CH = regalloc.FromPhysical(1, regalloc.MaskGP8High)
	DH = regalloc.FromPhysical(2, regalloc.MaskGP8High)
	BH = regalloc.FromPhysical(3, regalloc.MaskGP8High)

	// MMX registers.
	MM0 = regalloc.FromPhysical(0, regalloc.MaskMMX)
	MM1 = regalloc.FromPhysical(1, regalloc.MaskMMX)
	MM2 = regalloc.FromPhysical(2, regalloc.MaskMMX)
	MM3 = regalloc.FromPhysical(3, regalloc.MaskMMX)
	MM4 = regalloc.FromPhysical(4, regalloc.MaskMMX)
	MM5 = regalloc.FromPhysical(5, regalloc.MaskMMX)
	MM6 = regalloc.FromPhysical(6, regalloc.MaskMMX)
	MM7 = regalloc.FromPhysical(7, regalloc.MaskMMX)

	// 128-bit vector registers. XMM16-XMM31 are available through XMMn.
	XMM0  = regalloc.FromPhysical(0, regalloc.MaskXMM)
	XMM1  = regalloc.FromPhysical(1, regalloc.MaskXMM)
	XMM2  = regalloc.FromPhysical(2, regalloc.MaskXMM)
	XMM3  = regalloc.FromPhysical(3, regalloc.MaskXMM)
	XMM4  = regalloc.FromPhysical(4, regalloc.MaskXMM)
	XMM5  = regalloc.FromPhysical(5, regalloc.MaskXMM)
	XMM6  = regalloc.FromPhysical(6, regalloc.MaskXMM)
	XMM7  = regalloc.FromPhysical(7, regalloc.MaskXMM)
	XMM8  = regalloc.FromPhysical(8, regalloc.MaskXMM)
	XMM9  = regalloc.FromPhysical(9, regalloc.MaskXMM)
	XMM10 = regalloc.FromPhysical(10, regalloc.MaskXMM)
	XMM11 = regalloc.FromPhysical(11, regalloc.MaskXMM)
	XMM12 = regalloc.FromPhysical(12, regalloc.MaskXMM)
	XMM13 = regalloc.FromPhysical(13, regalloc.MaskXMM)
	XMM14 = regalloc.FromPhysical(14, regalloc.MaskXMM)
	XMM15 = regalloc.FromPhysical(15, regalloc.MaskXMM)

	// 256-bit vector registers.
	YMM0  = regalloc.FromPhysical(0, regalloc.MaskYMM)
	YMM1  = regalloc.FromPhysical(1, regalloc.MaskYMM)
	YMM2  = regalloc.FromPhysical(2, regalloc.MaskYMM)
	YMM3  = regalloc.FromPhysical(3, regalloc.MaskYMM)
	YMM4  = regalloc.FromPhysical(4, regalloc.MaskYMM)
	YMM5  = regalloc.FromPhysical(5, regalloc.MaskYMM)
	YMM6  = regalloc.FromPhysical(6, regalloc.MaskYMM)
	YMM7  = regalloc.FromPhysical(7, regalloc.MaskYMM)
	YMM8  = regalloc.FromPhysical(8, regalloc.MaskYMM)
	YMM9  = regalloc.FromPhysical(9, regalloc.MaskYMM)
	YMM10 = regalloc.FromPhysical(10, regalloc.MaskYMM)
	YMM11 = regalloc.FromPhysical(11, regalloc.MaskYMM)
	YMM12 = regalloc.FromPhysical(12, regalloc.MaskYMM)
	YMM13 = regalloc.FromPhysical(13, regalloc.MaskYMM)
	YMM14 = regalloc.FromPhysical(14, regalloc.MaskYMM)
	YMM15 = regalloc.FromPhysical(15, regalloc.MaskYMM)

	// 512-bit vector registers.
	ZMM0  = regalloc.FromPhysical(0, regalloc.MaskZMM)
	ZMM1  = regalloc.FromPhysical(1, regalloc.MaskZMM)
	ZMM2  = regalloc.FromPhysical(2, regalloc.MaskZMM)
	ZMM3  = regalloc.FromPhysical(3, regalloc.MaskZMM)
	ZMM4  = regalloc.FromPhysical(4, regalloc.MaskZMM)
	ZMM5  = regalloc.FromPhysical(5, regalloc.MaskZMM)
	ZMM6  = regalloc.FromPhysical(6, regalloc.MaskZMM)
	ZMM7  = regalloc.FromPhysical(7, regalloc.MaskZMM)
	ZMM8  = regalloc.FromPhysical(8, regalloc.MaskZMM)
	ZMM9  = regalloc.FromPhysical(9, regalloc.MaskZMM)
	ZMM10 = regalloc.FromPhysical(10, regalloc.MaskZMM)
	ZMM11 = regalloc.FromPhysical(11, regalloc.MaskZMM)
	ZMM12 = regalloc.FromPhysical(12, regalloc.MaskZMM)
	ZMM13 = regalloc.FromPhysical(13, regalloc.MaskZMM)
	ZMM14 = regalloc.FromPhysical(14, regalloc.MaskZMM)
	ZMM15 = regalloc.FromPhysical(15, regalloc.MaskZMM)

	// AVX-512 opmask registers.
	K0 = regalloc.FromPhysical(0, regalloc.MaskK)
	K1 = regalloc.FromPhysical(1, regalloc.MaskK)
	K2 = regalloc.FromPhysical(2, regalloc.MaskK)
	K3 = regalloc.FromPhysical(3, regalloc.MaskK)
	K4 = regalloc.FromPhysical(4, regalloc.MaskK)
	K5 = regalloc.FromPhysical(5, regalloc.MaskK)
	K6 = regalloc.FromPhysical(6, regalloc.MaskK)
	K7 = regalloc.FromPhysical(7, regalloc.MaskK)
)

var (
	gp64Names = [16]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	gp32Names = [16]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
	gp16Names = [16]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
	gp8Names  = [16]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil", "r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"}
	gp8hNames = [4]string{"ah", "ch", "dh", "bh"}
)

// GP returns the view of the general-purpose register pid with the given width in bytes.
func GP(pid uint8, size int) Reg {
	if pid >= 16 {
		panic(fmt.Sprintf("BUG: invalid general-purpose register %d", pid))
	}
	return regalloc.FromPhysical(pid, gpMask(size))
}

// XMMn returns the pid-th 128-bit vector register.
func XMMn(pid uint8) Reg { return vector(pid, regalloc.MaskXMM) }

// YMMn returns the pid-th 256-bit vector register.
func YMMn(pid uint8) Reg { return vector(pid, regalloc.MaskYMM) }

// ZMMn returns the pid-th 512-bit vector register.
func ZMMn(pid uint8) Reg { return vector(pid, regalloc.MaskZMM) }

func vector(pid uint8, m regalloc.Mask) Reg {
	if pid >= 32 {
		panic(fmt.Sprintf("BUG: invalid vector register %d", pid))
	}
	return regalloc.FromPhysical(pid, m)
}

func gpMask(size int) regalloc.Mask {
	switch size {
	case 1:
		return regalloc.MaskGP8
	case 2:
		return regalloc.MaskGP16
	case 4:
		return regalloc.MaskGP32
	case 8:
		return regalloc.MaskGP64
	default:
		panic(fmt.Sprintf("BUG: invalid general-purpose register size %d", size))
	}
}

// Size returns the width of the register view in bytes.
func Size(r Reg) int {
	switch r.Mask() {
	case regalloc.MaskGP8, regalloc.MaskGP8High:
		return 1
	case regalloc.MaskGP16:
		return 2
	case regalloc.MaskGP32:
		return 4
	case regalloc.MaskGP64, regalloc.MaskMMX, regalloc.MaskK:
		return 8
	case regalloc.MaskXMM:
		return 16
	case regalloc.MaskYMM:
		return 32
	case regalloc.MaskZMM:
		return 64
	default:
		return 0
	}
}

// IsGP returns true if r is a general-purpose register view.
func IsGP(r Reg) bool { return r.Kind() == regalloc.KindGP }

// IsXMM returns true if r is a 128-bit vector register view.
func IsXMM(r Reg) bool { return r.Mask() == regalloc.MaskXMM }

// IsYMM returns true if r is a 256-bit vector register view.
func IsYMM(r Reg) bool { return r.Mask() == regalloc.MaskYMM }

// IsZMM returns true if r is a 512-bit vector register view.
func IsZMM(r Reg) bool { return r.Mask() == regalloc.MaskZMM }

// IsMMX returns true if r is an MMX register.
func IsMMX(r Reg) bool { return r.Mask() == regalloc.MaskMMX }

// IsK returns true if r is an opmask register.
func IsK(r Reg) bool { return r.Mask() == regalloc.MaskK }

// isHighByte returns true for AH, CH, DH and BH.
func isHighByte(r Reg) bool { return r.Mask() == regalloc.MaskGP8High }

// requiresREX returns true for SPL, BPL, SIL and DIL, whose encodings mean the high bytes without REX.
func requiresREX(r Reg) bool {
	return !r.IsVirtual() && r.Mask() == regalloc.MaskGP8 && r.Physical() >= 4 && r.Physical() < 8
}

// lcode returns the low 3 bits of the register encoding.
func lcode(r Reg) byte {
	if isHighByte(r) {
		return r.Physical() + 4
	}
	return r.Physical() & 0b111
}

// hcode returns the REX/VEX extension bit of the register encoding.
func hcode(r Reg) byte {
	if isHighByte(r) {
		return 0
	}
	return r.Physical() >> 3 & 1
}

// ecode returns the EVEX high extension bit of the register encoding.
func ecode(r Reg) byte {
	return r.Physical() >> 4 & 1
}

// RegName returns the assembly name of r. Virtual registers are named by kind, width and id.
func RegName(r Reg) string {
	if !r.Valid() {
		return "invalid"
	}
	if r.IsVirtual() {
		return fmt.Sprintf("%s-vreg<%d>", widthName(r), r.Virtual())
	}
	pid := r.Physical()
	switch r.Mask() {
	case regalloc.MaskGP64:
		return gp64Names[pid]
	case regalloc.MaskGP32:
		return gp32Names[pid]
	case regalloc.MaskGP16:
		return gp16Names[pid]
	case regalloc.MaskGP8:
		return gp8Names[pid]
	case regalloc.MaskGP8High:
		return gp8hNames[pid]
	default:
		return fmt.Sprintf("%s%d", widthName(r), pid)
	}
}

func widthName(r Reg) string {
	switch r.Mask() {
	case regalloc.MaskGP8:
		return "gp8"
	case regalloc.MaskGP8High:
		return "gp8h"
	case regalloc.MaskGP16:
		return "gp16"
	case regalloc.MaskGP32:
		return "gp32"
	case regalloc.MaskGP64:
		return "gp64"
	case regalloc.MaskMMX:
		return "mm"
	case regalloc.MaskK:
		return "k"
	case regalloc.MaskXMM:
		return "xmm"
	case regalloc.MaskYMM:
		return "ymm"
	case regalloc.MaskZMM:
		return "zmm"
	default:
		return "reg"
	}
}
