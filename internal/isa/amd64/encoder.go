package amd64

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// The functions in this file compute prefix, ModRM, SIB and displacement bytes. They are pure and
// range-check every field they are given.

func checkBit(name string, v byte) {
	if v > 1 {
		panic(fmt.Sprintf("BUG: %s must be 0 or 1, got %d", name, v))
	}
}

func checkField(name string, v, max byte) {
	if v > max {
		panic(fmt.Sprintf("BUG: %s must fit in %#x, got %#x", name, max, v))
	}
}

// rex returns the REX prefix byte: 0100WRXB.
func rex(w, r, x, b byte) byte {
	checkBit("REX.W", w)
	checkBit("REX.R", r)
	checkBit("REX.X", x)
	checkBit("REX.B", b)
	return 0x40 | w<<3 | r<<2 | x<<1 | b
}

// optionalREX returns the REX prefix without the W bit, or nothing when R, X and B are all zero
// and the prefix is not forced.
func optionalREX(r, x, b byte, force bool) []byte {
	if r|x|b == 0 && !force {
		return nil
	}
	return []byte{rex(0, r, x, b)}
}

// vex2 returns the 2-byte VEX prefix, falling back to the 3-byte form when X or B is set or when
// the 3-byte form is forced. lpp is L<<2|pp.
//
//	        +----------------+
//	Byte 0: | Bits 0-7: 0xC5 |
//	        +----------------+
//	        +-----------+----------------+----------+--------------+
//	Byte 1: | Bit 7: ~R | Bits 3-6 ~vvvv | Bit 2: L | Bits 0-1: pp |
//	        +-----------+----------------+----------+--------------+
func vex2(lpp, r, x, b, vvvv byte, forceVEX3 bool) []byte {
	checkField("VEX.Lpp", lpp, 0b111)
	checkBit("VEX.R", r)
	checkBit("VEX.X", x)
	checkBit("VEX.B", b)
	checkField("VEX.vvvv", vvvv, 0b1111)
	if forceVEX3 || x|b != 0 {
		return vex3(0xC4, 0b00001, lpp, r, x, b, vvvv)
	}
	return []byte{0xC5, 0xF8 ^ r<<7 ^ vvvv<<3 ^ lpp}
}

// vex3 returns the 3-byte VEX (escape 0xC4) or XOP (escape 0x8F) prefix. wlpp is W<<7|L<<2|pp.
//
//	        +----------------+
//	Byte 0: | Bits 0-7: 0xC4 |
//	        +----------------+
//	        +-----------+-----------+-----------+-------------------+
//	Byte 1: | Bit 7: ~R | Bit 6: ~X | Bit 5: ~B | Bits 0-4: 0b00001 |
//	        +-----------+-----------+-----------+-------------------+
//	        +----------+-----------------+----------+--------------+
//	Byte 2: | Bit 7: W | Bits 3-6: ~vvvv | Bit 2: L | Bits 0-1: pp |
//	        +----------+-----------------+----------+--------------+
func vex3(escape, mmmmm, wlpp, r, x, b, vvvv byte) []byte {
	if escape != 0xC4 && escape != 0x8F {
		panic(fmt.Sprintf("BUG: invalid VEX/XOP escape byte %#x", escape))
	}
	checkField("VEX.mmmmm", mmmmm, 0b11111)
	if wlpp&^0x87 != 0 {
		panic(fmt.Sprintf("BUG: VEX.W____Lpp must fit in 0x87, got %#x", wlpp))
	}
	checkBit("VEX.R", r)
	checkBit("VEX.X", x)
	checkBit("VEX.B", b)
	checkField("VEX.vvvv", vvvv, 0b1111)
	return []byte{escape, 0xE0 ^ r<<7 ^ x<<6 ^ b<<5 ^ mmmmm, 0x78 ^ vvvv<<3 ^ wlpp}
}

// evex returns the 4-byte EVEX prefix. wpp is W<<7|pp, bcst the broadcast/rounding bit and aaa the opmask.
//
//	        +----------------+
//	Byte 0: | Bits 0-7: 0x62 |
//	        +----------------+
//	        +-----------+-----------+-----------+------------+----------+--------------+
//	Byte 1: | Bit 7: ~R | Bit 6: ~X | Bit 5: ~B | Bit 4: ~R' | Bits 2-3 | Bits 0-1: mm |
//	        +-----------+-----------+-----------+------------+----------+--------------+
//	        +----------+-----------------+----------+--------------+
//	Byte 2: | Bit 7: W | Bits 3-6: ~vvvv | Bit 2: 1 | Bits 0-1: pp |
//	        +----------+-----------------+----------+--------------+
//	        +----------+-------------+--------------+------------+---------------+
//	Byte 3: | Bit 7: z | Bits 5-6: LL | Bit 4: b    | Bit 3: ~V' | Bits 0-2: aaa |
//	        +----------+-------------+--------------+------------+---------------+
func evex(mm, wpp, z, ll, bcst, aaa, r, x, b, r1, vvvv, v1 byte) []byte {
	checkField("EVEX.mm", mm, 0b11)
	if wpp&^0x83 != 0 {
		panic(fmt.Sprintf("BUG: EVEX.W____pp must fit in 0x83, got %#x", wpp))
	}
	checkBit("EVEX.z", z)
	checkField("EVEX.LL", ll, 0b11)
	checkBit("EVEX.b", bcst)
	checkField("EVEX.aaa", aaa, 0b111)
	checkBit("EVEX.R", r)
	checkBit("EVEX.X", x)
	checkBit("EVEX.B", b)
	checkBit("EVEX.R'", r1)
	checkField("EVEX.vvvv", vvvv, 0b1111)
	checkBit("EVEX.V'", v1)
	p0 := r<<7 | x<<6 | b<<5 | r1<<4 | mm
	p1 := wpp | vvvv<<3 | 0b100
	p2 := z<<7 | ll<<5 | bcst<<4 | v1<<3 | aaa
	return []byte{0x62, p0 ^ 0xF0, p1 ^ 0x78, p2 ^ 0x08}
}

func encodeModRM(mod byte, reg byte, rm byte) byte {
	return mod<<6 | reg<<3 | rm
}

func encodeSIB(shift byte, encIndex byte, encBase byte) byte {
	return shift<<6 | encIndex<<3 | encBase
}

func lower8willSignExtendTo32(x int32) bool {
	return x == int32(int8(x))
}

// modrmSIBDisp returns the ModRM, SIB and displacement bytes addressing m with the given reg field.
// minDisp forces a displacement of at least that many bytes (0, 1 or 4), and disp8N is the scale
// of compressed 8-bit displacements (1 for legacy and VEX forms).
func modrmSIBDisp(reg byte, m Memory, forceSIB bool, minDisp int, disp8N int32) []byte {
	checkField("ModRM.reg", reg, 0b111)
	const (
		modNoDisplacement    = 0b00
		modShortDisplacement = 0b01
		modLongDisplacement  = 0b10

		useSIB = 0b100 // the encoding of rsp or r12 register.
		noBase = 0b101 // the encoding of rbp or r13 register.
	)
	if disp8N <= 0 {
		disp8N = 1
	}
	disp32 := func(b []byte) []byte {
		return binary.LittleEndian.AppendUint32(b, uint32(m.Disp))
	}
	short := m.Disp%disp8N == 0 && lower8willSignExtendTo32(m.Disp/disp8N)

	if m.RIP {
		// Indicate "[RIP + 32bit displacement]".
		return disp32([]byte{encodeModRM(modNoDisplacement, reg, noBase)})
	}

	if !m.Index.Valid() && m.Base.Valid() && lcode(m.Base) != useSIB && !forceSIB {
		base := lcode(m.Base)
		switch {
		case m.Disp == 0 && base != noBase && minDisp <= 0:
			return []byte{encodeModRM(modNoDisplacement, reg, base)}
		case short && minDisp <= 1:
			return []byte{encodeModRM(modShortDisplacement, reg, base), byte(int8(m.Disp / disp8N))}
		default:
			return disp32([]byte{encodeModRM(modLongDisplacement, reg, base)})
		}
	}

	index := byte(useSIB)
	if m.Index.Valid() {
		index = lcode(m.Index)
	}
	shift := byte(bits.TrailingZeros8(m.scale()))
	if !m.Base.Valid() {
		return disp32([]byte{encodeModRM(modNoDisplacement, reg, useSIB), encodeSIB(shift, index, noBase)})
	}
	base := lcode(m.Base)
	sib := encodeSIB(shift, index, base)
	switch {
	case m.Disp == 0 && base != noBase && minDisp <= 0:
		return []byte{encodeModRM(modNoDisplacement, reg, useSIB), sib}
	case short && minDisp <= 1:
		return []byte{encodeModRM(modShortDisplacement, reg, useSIB), sib, byte(int8(m.Disp / disp8N))}
	default:
		return disp32([]byte{encodeModRM(modLongDisplacement, reg, useSIB), sib})
	}
}

// nopTable holds the recommended multi-byte NOP sequences. All of them are accepted by the
// Native Client validator.
var nopTable = [16][]byte{
	1:  {0x90},
	2:  {0x40, 0x90},
	3:  {0x0F, 0x1F, 0x00},
	4:  {0x0F, 0x1F, 0x40, 0x00},
	5:  {0x0F, 0x1F, 0x44, 0x00, 0x00},
	6:  {0x66, 0x0F, 0x1F, 0x44, 0x00, 0x00},
	7:  {0x0F, 0x1F, 0x80, 0x00, 0x00, 0x00, 0x00},
	8:  {0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
	9:  {0x66, 0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
	10: {0x66, 0x2E, 0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// NOPBytes returns a single NOP instruction of length n, 1 <= n <= 15.
func NOPBytes(n int) []byte {
	switch {
	case n >= 1 && n <= 10:
		return append([]byte(nil), nopTable[n]...)
	case n > 10 && n <= 15:
		ret := make([]byte, 0, n)
		for i := 0; i < n-10; i++ {
			ret = append(ret, 0x66)
		}
		return append(ret, nopTable[10]...)
	default:
		panic(fmt.Sprintf("BUG: invalid NOP length %d", n))
	}
}

// Padding returns n bytes of NOP instructions, using as few instructions as possible of similar lengths.
func Padding(n int) []byte {
	var ret []byte
	for n > 0 {
		switch {
		case n <= 15:
			ret, n = append(ret, NOPBytes(n)...), 0
		case n <= 30:
			half := n / 2
			ret, n = append(append(ret, NOPBytes(half)...), NOPBytes(n-half)...), 0
		default:
			ret, n = append(ret, NOPBytes(15)...), n-15
		}
	}
	return ret
}
