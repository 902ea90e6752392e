// Package abi describes the x86-64 calling conventions functions can be bound to.
package abi

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sort"

	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/regalloc"
)

// Family groups the calling conventions that share argument passing rules.
type Family byte

const (
	// FamilySystemV passes arguments in registers in order of their class. This includes the
	// Linux X32 ABI.
	FamilySystemV Family = iota
	// FamilyMicrosoft passes the first four arguments in registers by position and reserves a
	// stack slot for each of them.
	FamilyMicrosoft
	// FamilyNativeClient follows System V with a sandboxed address space based at r15.
	FamilyNativeClient
	// FamilyGo passes every argument and the result on the stack.
	FamilyGo
)

// DataModel holds the sizes in bytes of the primitive C types whose size varies between ABIs.
type DataModel struct {
	Bool, WChar, Short, Int, Long, LongLong int
	Pointer, Index                          int
}

var (
	llp64 = DataModel{Bool: 1, WChar: 2, Short: 2, Int: 4, Long: 4, LongLong: 8, Pointer: 8, Index: 8}
	lp64  = DataModel{Bool: 1, WChar: 4, Short: 2, Int: 4, Long: 8, LongLong: 8, Pointer: 8, Index: 8}
	ilp32 = DataModel{Bool: 1, WChar: 4, Short: 2, Int: 4, Long: 4, LongLong: 8, Pointer: 4, Index: 4}
	goP32 = DataModel{Bool: 1, WChar: 4, Short: 2, Int: 4, Long: 8, LongLong: 8, Pointer: 4, Index: 4}
)

// ABI is an immutable calling convention descriptor. The package-level values must not be modified.
type ABI struct {
	// Key is the short name used in configuration files and on the command line.
	Key       string
	Name      string
	Family    Family
	ByteOrder binary.ByteOrder
	Sizes     DataModel

	// StackAlignment is the alignment of the stack pointer before the call instruction.
	StackAlignment int
	RedZone        int

	// CalleeSaved must be preserved by the function. Arguments lists the argument registers in
	// order. Volatile lists the remaining registers a function may clobber.
	CalleeSaved []amd64.Reg
	Arguments   []amd64.Reg
	Volatile    []amd64.Reg
	// Restricted registers hold sandbox state and are never allocated.
	Restricted []amd64.Reg
}

func regs(lists ...[]amd64.Reg) []amd64.Reg {
	var ret []amd64.Reg
	for _, l := range lists {
		ret = append(ret, l...)
	}
	return ret
}

var (
	mmx     = []amd64.Reg{amd64.MM0, amd64.MM1, amd64.MM2, amd64.MM3, amd64.MM4, amd64.MM5, amd64.MM6, amd64.MM7}
	xmmLow  = []amd64.Reg{amd64.XMM0, amd64.XMM1, amd64.XMM2, amd64.XMM3, amd64.XMM4, amd64.XMM5, amd64.XMM6, amd64.XMM7}
	xmmHigh = []amd64.Reg{amd64.XMM8, amd64.XMM9, amd64.XMM10, amd64.XMM11, amd64.XMM12, amd64.XMM13, amd64.XMM14, amd64.XMM15}

	msCalleeSaved = regs([]amd64.Reg{amd64.RBX, amd64.RSI, amd64.RDI, amd64.RBP, amd64.R12, amd64.R13, amd64.R14, amd64.R15,
		amd64.XMM6, amd64.XMM7}, xmmHigh)
	msArguments = []amd64.Reg{amd64.RCX, amd64.RDX, amd64.R8, amd64.R9, amd64.XMM0, amd64.XMM1, amd64.XMM2, amd64.XMM3}
	msVolatile  = regs([]amd64.Reg{amd64.RAX, amd64.R10, amd64.R11}, mmx, []amd64.Reg{amd64.XMM4, amd64.XMM5})

	sysvCalleeSaved = []amd64.Reg{amd64.RBX, amd64.RBP, amd64.R12, amd64.R13, amd64.R14, amd64.R15}
	sysvArguments   = regs([]amd64.Reg{amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX, amd64.R8, amd64.R9}, xmmLow)
	sysvVolatile    = regs([]amd64.Reg{amd64.RAX, amd64.R10, amd64.R11}, mmx, xmmHigh)

	goVolatile = regs([]amd64.Reg{amd64.RAX, amd64.RBX, amd64.RCX, amd64.RDX, amd64.RDI, amd64.RSI, amd64.RBP,
		amd64.R8, amd64.R9, amd64.R10, amd64.R11, amd64.R12, amd64.R13, amd64.R14, amd64.R15}, mmx, xmmLow, xmmHigh)
)

var (
	MicrosoftX64 = &ABI{
		Key:            "ms-x64",
		Name:           "Microsoft x64 ABI",
		Family:         FamilyMicrosoft,
		ByteOrder:      binary.LittleEndian,
		Sizes:          llp64,
		StackAlignment: 16,
		CalleeSaved:    msCalleeSaved,
		Arguments:      msArguments,
		Volatile:       msVolatile,
	}

	SystemV = &ABI{
		Key:            "sysv",
		Name:           "SystemV x86-64 ABI",
		Family:         FamilySystemV,
		ByteOrder:      binary.LittleEndian,
		Sizes:          lp64,
		StackAlignment: 16,
		RedZone:        128,
		CalleeSaved:    sysvCalleeSaved,
		Arguments:      sysvArguments,
		Volatile:       sysvVolatile,
	}

	LinuxX32 = &ABI{
		Key:            "x32",
		Name:           "Linux X32 ABI",
		Family:         FamilySystemV,
		ByteOrder:      binary.LittleEndian,
		Sizes:          ilp32,
		StackAlignment: 16,
		RedZone:        128,
		CalleeSaved:    sysvCalleeSaved,
		Arguments:      sysvArguments,
		Volatile:       sysvVolatile,
	}

	NativeClient = &ABI{
		Key:            "nacl",
		Name:           "Native Client x86-64 ABI",
		Family:         FamilyNativeClient,
		ByteOrder:      binary.LittleEndian,
		Sizes:          ilp32,
		StackAlignment: 16,
		CalleeSaved:    sysvCalleeSaved,
		Arguments:      sysvArguments,
		Volatile:       sysvVolatile,
		Restricted:     []amd64.Reg{amd64.RBP, amd64.R15},
	}

	GoSysO = &ABI{
		Key:            "gosyso",
		Name:           "Go/SysO x86-64 ABI",
		Family:         FamilyGo,
		ByteOrder:      binary.LittleEndian,
		Sizes:          lp64,
		StackAlignment: 8,
		Volatile:       goVolatile,
	}

	GoAsm = &ABI{
		Key:            "goasm",
		Name:           "Go/Asm x86-64 ABI",
		Family:         FamilyGo,
		ByteOrder:      binary.LittleEndian,
		Sizes:          lp64,
		StackAlignment: 8,
		Volatile:       goVolatile,
	}

	GoSysOP32 = &ABI{
		Key:            "gosyso-p32",
		Name:           "Go/SysO x32 ABI",
		Family:         FamilyGo,
		ByteOrder:      binary.LittleEndian,
		Sizes:          goP32,
		StackAlignment: 4,
		Volatile:       goVolatile,
	}

	GoAsmP32 = &ABI{
		Key:            "goasm-p32",
		Name:           "Go/Asm x32 ABI",
		Family:         FamilyGo,
		ByteOrder:      binary.LittleEndian,
		Sizes:          goP32,
		StackAlignment: 4,
		Volatile:       goVolatile,
	}
)

var all = []*ABI{SystemV, MicrosoftX64, LinuxX32, NativeClient, GoSysO, GoAsm, GoSysOP32, GoAsmP32}

// All returns every known ABI.
func All() []*ABI {
	return append([]*ABI(nil), all...)
}

// Lookup returns the ABI with the given key.
func Lookup(key string) (*ABI, error) {
	for _, a := range all {
		if a.Key == key {
			return a, nil
		}
	}
	return nil, fmt.Errorf("unknown ABI %q", key)
}

// Detect returns the ABI of the host process, or nil if the host does not run an x86-64 ABI.
func Detect() *ABI {
	return detect(runtime.GOOS, runtime.GOARCH)
}

func detect(goos, goarch string) *ABI {
	switch goarch {
	case "amd64":
		switch goos {
		case "darwin", "freebsd", "linux", "netbsd", "openbsd", "dragonfly", "solaris", "illumos":
			return SystemV
		case "windows":
			return MicrosoftX64
		}
	case "amd64p32":
		switch goos {
		case "nacl":
			return NativeClient
		case "linux":
			return LinuxX32
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (a *ABI) String() string { return a.Name }

// IsGo returns true for the Go calling conventions.
func (a *ABI) IsGo() bool { return a.Family == FamilyGo }

func contains(rs []amd64.Reg, r amd64.Reg) bool {
	for _, x := range rs {
		if x.Key() == r.Key() {
			return true
		}
	}
	return false
}

// IsCalleeSaved returns true if the register entry of r must be preserved by the function.
func (a *ABI) IsCalleeSaved(r amd64.Reg) bool { return contains(a.CalleeSaved, r) }

// IsRestricted returns true if r holds sandbox state.
func (a *ABI) IsRestricted(r amd64.Reg) bool { return contains(a.Restricted, r) }

// RegisterInfo returns the allocatable registers of each kind in order of preference: volatile
// registers first, then argument registers in reverse order, then callee-saved registers. The stack
// pointer and restricted registers are never allocatable, nor is rbp when reserveFramePointer is set.
func (a *ABI) RegisterInfo(reserveFramePointer bool) *regalloc.RegisterInfo {
	info := &regalloc.RegisterInfo{}
	seen := map[regalloc.Key]bool{}
	add := func(r amd64.Reg) {
		switch {
		case seen[r.Key()], r.Key() == amd64.RSP.Key(), a.IsRestricted(r):
			return
		case reserveFramePointer && r.Key() == amd64.RBP.Key():
			return
		}
		seen[r.Key()] = true
		info.Allocatable[r.Kind()] = append(info.Allocatable[r.Kind()], r.Physical())
	}
	for _, r := range a.Volatile {
		add(r)
	}
	for i := len(a.Arguments) - 1; i >= 0; i-- {
		add(a.Arguments[i])
	}
	for _, r := range a.CalleeSaved {
		add(r)
		info.CalleeSaved[r.Kind()] = info.CalleeSaved[r.Kind()].Add(r.Physical())
	}
	// Opmask registers are volatile everywhere. k0 is left out as it means "no mask" in EVEX.
	for pid := uint8(1); pid < 8; pid++ {
		add(amd64.K0.WithPhysical(pid))
	}
	return info
}

// Clobbered returns the callee-saved registers among used, widened to their 64-bit or XMM view and
// sorted by kind and physical id.
func (a *ABI) Clobbered(used []amd64.Reg) []amd64.Reg {
	var ret []amd64.Reg
	seen := map[regalloc.Key]bool{}
	for _, r := range used {
		if !r.Valid() || r.IsVirtual() || seen[r.Key()] || !a.IsCalleeSaved(r) {
			continue
		}
		seen[r.Key()] = true
		switch r.Kind() {
		case regalloc.KindGP:
			ret = append(ret, r.WithMask(regalloc.MaskGP64))
		case regalloc.KindVector:
			ret = append(ret, r.WithMask(regalloc.MaskXMM))
		default:
			ret = append(ret, r)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Kind() != ret[j].Kind() {
			return ret[i].Kind() < ret[j].Kind()
		}
		return ret[i].Physical() < ret[j].Physical()
	})
	return ret
}
