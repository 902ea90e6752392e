// Package disasm renders machine code through an independent x86-64 decoder.
package disasm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Syntax is the assembly syntax of decoded instructions.
type Syntax byte

const (
	SyntaxIntel Syntax = iota
	SyntaxGNU
	SyntaxGo
)

// ParseSyntax returns the syntax with the given name: "intel", "gnu" or "go".
func ParseSyntax(name string) (Syntax, error) {
	switch strings.ToLower(name) {
	case "intel", "":
		return SyntaxIntel, nil
	case "gnu", "att":
		return SyntaxGNU, nil
	case "go", "plan9":
		return SyntaxGo, nil
	default:
		return 0, fmt.Errorf("unknown disassembly syntax %q", name)
	}
}

// Line is one decoded instruction, or a run of padding.
type Line struct {
	Offset int
	Bytes  []byte
	Text   string
	// Err is set when the bytes at Offset do not decode, in which case Bytes holds a single byte.
	Err error
}

// fill bytes pad functions and bundles after their last instruction.
func isFill(b byte) bool {
	return b == 0xcc || b == 0xf4
}

// Decode disassembles code. A run of trailing INT3 or HLT fill bytes is returned as one padding line.
func Decode(code []byte, s Syntax) []Line {
	end := len(code)
	for end > 0 && isFill(code[end-1]) && (end == len(code) || code[end-1] == code[end]) {
		end--
	}
	// A single fill byte is more likely an instruction than padding.
	if len(code)-end == 1 {
		end = len(code)
	}

	var lines []Line
	for off := 0; off < end; {
		inst, err := x86asm.Decode(code[off:end], 64)
		if err != nil {
			lines = append(lines, Line{Offset: off, Bytes: code[off : off+1], Text: fmt.Sprintf("db 0x%02x", code[off]), Err: err})
			off++
			continue
		}
		lines = append(lines, Line{Offset: off, Bytes: code[off : off+inst.Len], Text: format(inst, uint64(off), s)})
		off += inst.Len
	}
	if end < len(code) {
		lines = append(lines, Line{Offset: end, Bytes: code[end:], Text: "(padding)"})
	}
	return lines
}

func format(inst x86asm.Inst, pc uint64, s Syntax) string {
	switch s {
	case SyntaxGNU:
		return x86asm.GNUSyntax(inst, pc, nil)
	case SyntaxGo:
		return x86asm.GoSyntax(inst, pc, nil)
	default:
		return x86asm.IntelSyntax(inst, pc, nil)
	}
}

// Listing returns the disassembly of the function name with the address and the bytes of each instruction.
func Listing(name string, code []byte, s Syntax) string {
	var b strings.Builder
	b.WriteString(name + ":\n")
	for _, l := range Decode(code, s) {
		fmt.Fprintf(&b, "%06x  %-30s  %s\n", l.Offset, hex.EncodeToString(l.Bytes), l.Text)
	}
	return b.String()
}

// Boundaries returns the offsets at which decoded instructions start, excluding padding.
// It returns an error if any byte before the padding fails to decode.
func Boundaries(code []byte) ([]int, error) {
	var ret []int
	for _, l := range Decode(code, SyntaxIntel) {
		if l.Err != nil {
			return nil, fmt.Errorf("offset %#x: %w", l.Offset, l.Err)
		}
		if l.Text != "(padding)" {
			ret = append(ret, l.Offset)
		}
	}
	return ret, nil
}
