package function

import (
	"fmt"
	"strings"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/regalloc"
)

// Frame is the stack frame layout of a function bound to an ABI.
//
// Without realignment the frame looks like this, with higher addresses at the top:
//
//	           (high address)
//	        +-----------------+
//	        |  stack args     |
//	        +-----------------+
//	        |  return address |
//	        +-----------------+
//	        |  saved GPs      |  Pushed * 8 bytes
//	        +-----------------+ <----+
//	        |  saved vectors  |      |
//	        +-----------------+      | Size
//	        |  locals         |      |
//	rsp --> +-----------------+ <----+
//	           (low address)
//
// With realignment, rbp is pushed first and then holds the stack pointer at function entry minus 8,
// and the stack pointer is aligned down to Alignment after the saved registers are pushed.
type Frame struct {
	// Realigned is set when the function aligns the stack pointer beyond the ABI guarantee.
	Realigned bool
	// Saved lists the pushed general-purpose registers in push order, excluding rbp for
	// realigned frames.
	Saved []amd64.Reg
	// SavedVectors lists the vector registers stored in the frame.
	SavedVectors []amd64.Reg
	// LocalsSize and VectorsOffset are the size of the locals area and the offset of the saved
	// vectors from the stack pointer.
	LocalsSize    int
	VectorsOffset int
	// Alignment is the alignment of the stack pointer within the function body.
	Alignment int
	// Size is the number of bytes subtracted from the stack pointer after the pushes.
	Size int
}

// newFrame computes the frame layout for the given locals and clobbered callee-saved registers.
func newFrame(a *abi.ABI, locals localLayout, clobbered []amd64.Reg, realign bool) Frame {
	f := Frame{Realigned: realign, LocalsSize: locals.size, Alignment: a.StackAlignment}
	for _, r := range clobbered {
		switch {
		case amd64.IsGP(r):
			if !(realign && r.Key() == amd64.RBP.Key()) {
				f.Saved = append(f.Saved, r)
			}
		case r.Kind() == regalloc.KindVector:
			f.SavedVectors = append(f.SavedVectors, r)
		}
	}
	need := locals.align
	if len(f.SavedVectors) > 0 && need < 16 {
		need = 16
	}
	if need > f.Alignment {
		f.Alignment = need
	}
	raw := locals.size
	if len(f.SavedVectors) > 0 {
		f.VectorsOffset = roundUp(locals.size, 16)
		raw = f.VectorsOffset + 16*len(f.SavedVectors)
	}
	switch {
	case raw == 0:
	case realign:
		f.Size = roundUp(raw, f.Alignment)
	default:
		pushed := 8 + 8*len(f.Saved)
		f.Size = roundUp(pushed+raw, f.Alignment) - pushed
	}
	return f
}

// argumentAddress returns the address of the stack slot at offset off above the return address.
func (f *Frame) argumentAddress(off int) amd64.Memory {
	if f.Realigned {
		return amd64.Mem(amd64.RBP, int32(16+off))
	}
	return amd64.Mem(amd64.RSP, int32(f.Size+8*len(f.Saved)+8+off))
}

// prologue returns the instructions setting up the frame. avx selects VEX-encoded vector saves.
func (f *Frame) prologue(avx bool) []*amd64.Instruction {
	var ret []*amd64.Instruction
	if f.Realigned {
		ret = append(ret,
			amd64.MustNew(amd64.PUSH, amd64.R(amd64.RBP)),
			amd64.MustNew(amd64.MOV, amd64.R(amd64.RBP), amd64.R(amd64.RSP)))
	}
	for _, r := range f.Saved {
		ret = append(ret, amd64.MustNew(amd64.PUSH, amd64.R(r)))
	}
	if f.Realigned {
		ret = append(ret, amd64.MustNew(amd64.AND, amd64.R(amd64.RSP), amd64.Imm(int64(-f.Alignment))))
	}
	if f.Size > 0 {
		ret = append(ret, amd64.MustNew(amd64.SUB, amd64.R(amd64.RSP), amd64.Imm(int64(f.Size))))
	}
	for i, r := range f.SavedVectors {
		ret = append(ret, amd64.MustNew(vectorMove(avx), amd64.M(f.vectorSlot(i)), amd64.R(r)))
	}
	return ret
}

// epilogue returns the instructions tearing down the frame, up to but excluding the return.
func (f *Frame) epilogue(avx bool) []*amd64.Instruction {
	var ret []*amd64.Instruction
	for i, r := range f.SavedVectors {
		ret = append(ret, amd64.MustNew(vectorMove(avx), amd64.R(r), amd64.M(f.vectorSlot(i))))
	}
	switch {
	case f.Realigned && len(f.Saved) == 0:
		ret = append(ret, amd64.MustNew(amd64.MOV, amd64.R(amd64.RSP), amd64.R(amd64.RBP)))
	case f.Realigned:
		ret = append(ret, amd64.MustNew(amd64.LEA, amd64.R(amd64.RSP), amd64.M(amd64.Mem(amd64.RBP, int32(-8*len(f.Saved))))))
	case f.Size > 0:
		ret = append(ret, amd64.MustNew(amd64.ADD, amd64.R(amd64.RSP), amd64.Imm(int64(f.Size))))
	}
	for i := len(f.Saved) - 1; i >= 0; i-- {
		ret = append(ret, amd64.MustNew(amd64.POP, amd64.R(f.Saved[i])))
	}
	if f.Realigned {
		ret = append(ret, amd64.MustNew(amd64.POP, amd64.R(amd64.RBP)))
	}
	return ret
}

func (f *Frame) vectorSlot(i int) amd64.Memory {
	return amd64.Mem(amd64.RSP, int32(f.VectorsOffset+16*i)).Sized(16)
}

func vectorMove(avx bool) amd64.Op {
	if avx {
		return amd64.VMOVAPS
	}
	return amd64.MOVAPS
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	names := func(rs []amd64.Reg) string {
		s := make([]string, len(rs))
		for i, r := range rs {
			s[i] = amd64.RegName(r)
		}
		return "[" + strings.Join(s, " ") + "]"
	}
	return fmt.Sprintf("frame{size=%d align=%d realigned=%t saved=%s vectors=%s locals=%d}",
		f.Size, f.Alignment, f.Realigned, names(f.Saved), names(f.SavedVectors), f.LocalsSize)
}
