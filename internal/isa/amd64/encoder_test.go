package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestREX(t *testing.T) {
	require.Equal(t, byte(0x40), rex(0, 0, 0, 0))
	require.Equal(t, byte(0x49), rex(1, 0, 0, 1))
	require.Equal(t, byte(0x4F), rex(1, 1, 1, 1))
	require.Panics(t, func() { rex(2, 0, 0, 0) })

	require.Nil(t, optionalREX(0, 0, 0, false))
	require.Equal(t, []byte{0x40}, optionalREX(0, 0, 0, true))
	require.Equal(t, []byte{0x44}, optionalREX(1, 0, 0, false))
}

func TestVEX(t *testing.T) {
	for _, tc := range []struct {
		name string
		got  []byte
		exp  []byte
	}{
		{name: "vex2 zero", got: vex2(0, 0, 0, 0, 0, false), exp: []byte{0xC5, 0xF8}},
		{name: "vex2 fields", got: vex2(0b100, 1, 0, 0, 2, false), exp: []byte{0xC5, 0x6C}},
		{name: "vex2 falls back on B", got: vex2(0, 0, 0, 1, 1, false), exp: []byte{0xC4, 0xC1, 0x70}},
		{name: "vex2 forced vex3", got: vex2(0, 0, 0, 0, 0, true), exp: []byte{0xC4, 0xE1, 0x78}},
		{name: "vex3 0f38 W1", got: vex3(0xC4, 0b00010, 0x81, 0, 0, 0, 0), exp: []byte{0xC4, 0xE2, 0xF9}},
		{name: "xop", got: vex3(0x8F, 0b01000, 0, 0, 0, 0, 0), exp: []byte{0x8F, 0xE8, 0x78}},
		{name: "evex", got: evex(1, 0, 0, 2, 0, 0, 0, 0, 0, 0, 1, 0), exp: []byte{0x62, 0xF1, 0x74, 0x48}},
		{name: "evex masked zeroing", got: evex(1, 0, 1, 2, 0, 1, 0, 0, 0, 0, 1, 0), exp: []byte{0x62, 0xF1, 0x74, 0xC9}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, tc.got)
		})
	}

	require.Panics(t, func() { vex3(0xC5, 1, 0, 0, 0, 0, 0) })
	require.Panics(t, func() { vex2(0, 0, 0, 0, 16, false) })
	require.Panics(t, func() { evex(4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0) })
}

func TestModRMSIBDisp(t *testing.T) {
	for _, tc := range []struct {
		name     string
		m        Memory
		forceSIB bool
		minDisp  int
		disp8N   int32
		exp      []byte
	}{
		{name: "base", m: Mem(RAX, 0), exp: []byte{0x00}},
		{name: "rbp needs displacement", m: Mem(RBP, 0), exp: []byte{0x45, 0x00}},
		{name: "r13 needs displacement", m: Mem(R13, 0), exp: []byte{0x45, 0x00}},
		{name: "rsp needs sib", m: Mem(RSP, 0), exp: []byte{0x04, 0x24}},
		{name: "r12 disp8", m: Mem(R12, 8), exp: []byte{0x44, 0x24, 0x08}},
		{name: "disp32", m: Mem(RAX, 0x100), exp: []byte{0x80, 0x00, 0x01, 0x00, 0x00}},
		{name: "negative disp8", m: Mem(RBX, -8), exp: []byte{0x43, 0xF8}},
		{name: "index", m: MemIndex(RAX, RCX, 8, 0), exp: []byte{0x04, 0xC8}},
		{name: "index without base", m: MemIndex(RegInvalid, RCX, 2, 16), exp: []byte{0x04, 0x4D, 0x10, 0x00, 0x00, 0x00}},
		{name: "rip", m: Memory{RIP: true, Disp: 0x10}, exp: []byte{0x05, 0x10, 0x00, 0x00, 0x00}},
		{name: "forced sib", m: Mem(RAX, 0), forceSIB: true, exp: []byte{0x04, 0x20}},
		{name: "forced disp8", m: Mem(RAX, 0), minDisp: 1, exp: []byte{0x40, 0x00}},
		{name: "forced disp32", m: Mem(RAX, 0), minDisp: 4, exp: []byte{0x80, 0x00, 0x00, 0x00, 0x00}},
		{name: "compressed disp8", m: Mem(RAX, 128), disp8N: 64, exp: []byte{0x40, 0x02}},
		{name: "uncompressible disp", m: Mem(RAX, 100), disp8N: 64, exp: []byte{0x80, 0x64, 0x00, 0x00, 0x00}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, modrmSIBDisp(0, tc.m, tc.forceSIB, tc.minDisp, tc.disp8N))
		})
	}
}

func TestNOPBytes(t *testing.T) {
	for n := 1; n <= 15; n++ {
		require.Len(t, NOPBytes(n), n)
	}
	require.Equal(t, []byte{0x90}, NOPBytes(1))
	require.Equal(t, []byte{0x0F, 0x1F, 0x00}, NOPBytes(3))
	require.Equal(t, []byte{0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x2E, 0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00}, NOPBytes(15))
	require.Panics(t, func() { NOPBytes(0) })
	require.Panics(t, func() { NOPBytes(16) })
}

func TestPadding(t *testing.T) {
	require.Empty(t, Padding(0))
	require.Equal(t, NOPBytes(7), Padding(7))
	require.Equal(t, append(NOPBytes(10), NOPBytes(10)...), Padding(20))
	require.Equal(t, append(NOPBytes(10), NOPBytes(11)...), Padding(21))
	require.Equal(t, append(NOPBytes(15), append(NOPBytes(8), NOPBytes(8)...)...), Padding(31))
	require.Len(t, Padding(100), 100)
}
